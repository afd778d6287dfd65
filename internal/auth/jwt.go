package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
)

// DefaultTokenTTL is the lifetime of tokens minted by GenerateToken when
// the caller passes zero. Shift tokens for displays live for a service.
const DefaultTokenTTL = 12 * time.Hour

type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	VenueID     uuid.UUID `json:"venue_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the staff member acting on a display.
type Principal struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	VenueID     uuid.UUID `json:"venue_id"`
	Role        string    `json:"role"`
}

// Principal extracts the acting staff member from validated claims.
func (c *Claims) Principal() Principal {
	return Principal{
		ID:          c.UserID,
		DisplayName: c.DisplayName,
		VenueID:     c.VenueID,
		Role:        c.Role,
	}
}

// CanAccessVenue reports whether p may read or act on venueID. Owners span
// every venue; everyone else is pinned to the venue in their token.
func (p Principal) CanAccessVenue(venueID uuid.UUID) bool {
	return p.Role == enum.UserRoleOwner || p.VenueID == venueID
}

// GenerateToken mints an HS256 token for p. Token issuance belongs to the
// identity service; this exists for the seed tool and tests.
func GenerateToken(secret string, p Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := Claims{
		UserID:      p.ID,
		VenueID:     p.VenueID,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
