package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a single line on an order. Items never change after intake.
type Item struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the unit of work shown on kitchen displays.
type Order struct {
	ID          uuid.UUID `json:"id"`
	VenueID     uuid.UUID `json:"venue_id"`
	TableNumber string    `json:"table_number"`
	Items       []Item    `json:"items"`
	Status      Status    `json:"status"`
	// Version is incremented exactly once per successful status mutation.
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
	UpdatedByName string    `json:"updated_by_name,omitempty"`
}

// Total returns the sum of quantity * unit price over all items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Active reports whether the order still needs kitchen attention.
func (o Order) Active() bool {
	return o.Status == StatusNew || o.Status == StatusPreparing || o.Status == StatusReady
}

// Actor identifies who performed a mutation.
type Actor struct {
	ID   string
	Name string
}

// OldestIn returns the order that has waited longest in the given status,
// measured by UpdatedAt (CreatedAt for orders never touched).
func OldestIn(orders []Order, s Status) (Order, bool) {
	var (
		oldest Order
		found  bool
	)
	for _, o := range orders {
		if o.Status != s {
			continue
		}
		if !found || since(o).Before(since(oldest)) ||
			(since(o).Equal(since(oldest)) && o.ID.String() < oldest.ID.String()) {
			oldest = o
			found = true
		}
	}
	return oldest, found
}

func since(o Order) time.Time {
	if o.UpdatedAt.IsZero() {
		return o.CreatedAt
	}
	return o.UpdatedAt
}
