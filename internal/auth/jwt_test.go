package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/auth"
)

func testPrincipal(role string) auth.Principal {
	return auth.Principal{
		ID:          uuid.New(),
		DisplayName: "Sari",
		VenueID:     uuid.New(),
		Role:        role,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	p := testPrincipal("KITCHEN")

	token, err := auth.GenerateToken(secret, p, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := auth.ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	if got := claims.Principal(); got != p {
		t.Errorf("principal: got %+v, want %+v", got, p)
	}
}

func TestValidateTokenWithWrongSecret(t *testing.T) {
	token, err := auth.GenerateToken("secret-a", testPrincipal("KITCHEN"), 0)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	_, err = auth.ValidateToken("secret-b", token)
	if err == nil {
		t.Fatal("expected error validating with wrong secret")
	}
}

func TestValidateTokenWithInvalidString(t *testing.T) {
	_, err := auth.ValidateToken("secret", "not-a-jwt")
	if err == nil {
		t.Fatal("expected error validating invalid token string")
	}
}

func TestGenerateToken_NonPositiveTTLUsesDefault(t *testing.T) {
	token, err := auth.GenerateToken("secret", testPrincipal("KITCHEN"), -time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	// Negative ttl falls back to the default, so the token is valid.
	if _, err := auth.ValidateToken("secret", token); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCanAccessVenue(t *testing.T) {
	kitchen := testPrincipal("KITCHEN")
	if !kitchen.CanAccessVenue(kitchen.VenueID) {
		t.Error("kitchen staff must access their own venue")
	}
	if kitchen.CanAccessVenue(uuid.New()) {
		t.Error("kitchen staff must not access another venue")
	}
	owner := testPrincipal("OWNER")
	if !owner.CanAccessVenue(uuid.New()) {
		t.Error("owner must access any venue")
	}
}
