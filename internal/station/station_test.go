package station_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/station"
)

func items(names ...string) []order.Item {
	out := make([]order.Item, len(names))
	for i, n := range names {
		out[i] = order.Item{Name: n, Quantity: 1}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		items []order.Item
		want  station.ID
	}{
		{"grill keyword", items("Double Cheeseburger"), station.Grill},
		{"fryer keyword", items("Sweet potato fries"), station.Fryer},
		{"cold keyword", items("Caesar Salad"), station.Cold},
		{"drinks keyword", items("Iced Coffee"), station.Drinks},
		{"hot keyword", items("Tomato soup"), station.Hot},
		{"case insensitive", items("BBQ PLATTER"), station.Grill},
		{"grill beats drinks", items("Cola", "Steak frites"), station.Grill},
		{"fryer beats cold", items("Greek salad", "Chicken wings"), station.Fryer},
		{"cold beats drinks", items("Lemonade", "Salmon poke"), station.Cold},
		{"drink keyword inside a word", items("Steamed Bao"), station.Hot},
		{"cola inside chocolate", items("Chocolate Lava Cake"), station.Hot},
		{"keyword at word end", items("Bubble Milk Tea"), station.Drinks},
		{"no match defaults to hot", items("Mystery special"), station.Hot},
		{"empty order defaults to hot", nil, station.Hot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := station.Classify(tt.items); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	list := items("House salad", "Beer", "Crispy tofu")
	first := station.Classify(list)

	for i := 0; i < 100; i++ {
		if got := station.Classify(list); got != first {
			t.Fatalf("call %d: got %s, want %s", i, got, first)
		}
	}

	a := order.Order{ID: uuid.New(), Items: items("House salad", "Beer", "Crispy tofu")}
	b := order.Order{ID: uuid.New(), Status: order.StatusReady, Items: items("House salad", "Beer", "Crispy tofu")}
	if station.Of(a) != station.Of(b) {
		t.Errorf("identical items classified differently: %s vs %s", station.Of(a), station.Of(b))
	}
}

func TestClassify_DoesNotMutateItems(t *testing.T) {
	list := items("Grilled Fish")
	station.Classify(list)
	if list[0].Name != "Grilled Fish" {
		t.Errorf("item name mutated: %q", list[0].Name)
	}
}

func TestParse(t *testing.T) {
	if id, ok := station.Parse(" Grill "); !ok || id != station.Grill {
		t.Errorf("got %q, %v", id, ok)
	}
	if _, ok := station.Parse("pastry"); ok {
		t.Error("unknown station must not parse")
	}
}

func TestGroupCountsAndBusiest(t *testing.T) {
	orders := []order.Order{
		{ID: uuid.New(), Status: order.StatusNew, Items: items("Fries")},
		{ID: uuid.New(), Status: order.StatusPreparing, Items: items("Onion rings fried")},
		{ID: uuid.New(), Status: order.StatusReady, Items: items("Steak")},
		{ID: uuid.New(), Status: order.StatusServed, Items: items("Burger")},
		{ID: uuid.New(), Status: order.StatusServed, Items: items("Ribeye grill")},
	}

	groups := station.Group(orders)
	if len(groups[station.Fryer]) != 2 || len(groups[station.Grill]) != 3 {
		t.Fatalf("groups: fryer=%d grill=%d", len(groups[station.Fryer]), len(groups[station.Grill]))
	}

	counts := station.Counts(orders)
	if counts[station.Grill] != 1 || counts[station.Fryer] != 2 || counts[station.Cold] != 0 {
		t.Errorf("counts: %+v", counts)
	}

	id, n := station.Busiest(orders)
	if id != station.Fryer || n != 2 {
		t.Errorf("busiest: got %s/%d, want fryer/2", id, n)
	}
}

func TestBusiest_TieGoesToPriority(t *testing.T) {
	orders := []order.Order{
		{Status: order.StatusNew, Items: items("Cola")},
		{Status: order.StatusNew, Items: items("Burger")},
	}
	if id, _ := station.Busiest(orders); id != station.Grill {
		t.Errorf("got %s, want grill", id)
	}
	if id, n := station.Busiest(nil); id != station.Default || n != 0 {
		t.Errorf("empty: got %s/%d", id, n)
	}
}
