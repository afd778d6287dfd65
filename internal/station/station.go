// Package station routes orders to kitchen preparation stations for
// filtered and grouped display. Classification is a pure function of the
// item names, so views can never disagree about where an order belongs.
package station

import (
	"strings"

	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/order"
)

// ID names a preparation station.
type ID string

const (
	Grill  ID = enum.StationGrill
	Fryer  ID = enum.StationFryer
	Cold   ID = enum.StationCold
	Drinks ID = enum.StationDrinks
	Hot    ID = enum.StationHot
)

// Default is used when no keyword matches.
const Default = Hot

// priority is the fixed match order; the first station with a hit wins.
var priority = []ID{Grill, Fryer, Cold, Drinks, Hot}

// keywords must stay lower-case.
var keywords = map[ID][]string{
	Grill:  {"grill", "burger", "steak", "bbq", "kebab", "skewer", "satay", "sate", "rib", "bakar"},
	Fryer:  {"fries", "fried", "fry", "goreng", "tempura", "nugget", "wings", "crispy", "chips"},
	Cold:   {"salad", "sushi", "sashimi", "poke", "ceviche", "gazpacho", "ice cream", "dessert", "sandwich"},
	Drinks: {"coffee", "tea", "juice", "soda", "cola", "beer", "wine", "water", "latte", "smoothie", "milkshake", "lemonade"},
	Hot:    {"soup", "rice", "noodle", "pasta", "curry", "stew", "nasi", "mie"},
}

// All returns the stations in priority order.
func All() []ID {
	out := make([]ID, len(priority))
	copy(out, priority)
	return out
}

// Parse reports whether s names a known station.
func Parse(s string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range priority {
		if p == id {
			return id, true
		}
	}
	return "", false
}

// Classify returns the highest-priority station any item name matches.
func Classify(items []order.Item) ID {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = strings.ToLower(it.Name)
	}
	for _, id := range priority {
		for _, kw := range keywords[id] {
			for _, name := range names {
				if matches(name, kw) {
					return id
				}
			}
		}
	}
	return Default
}

// matches reports whether kw occurs in name anchored to the start or end of
// a word, so "burger" hits "cheeseburger" but "tea" misses "steamed".
func matches(name, kw string) bool {
	for from := 0; ; {
		i := strings.Index(name[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if start == 0 || !isLetter(name[start-1]) || end == len(name) || !isLetter(name[end]) {
			return true
		}
		from = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// Of classifies an order.
func Of(o order.Order) ID {
	return Classify(o.Items)
}

// Group buckets orders by station, preserving input order within each bucket.
func Group(orders []order.Order) map[ID][]order.Order {
	out := make(map[ID][]order.Order, len(priority))
	for _, o := range orders {
		id := Of(o)
		out[id] = append(out[id], o)
	}
	return out
}

// Counts returns the number of active orders per station. Every station is
// present in the result.
func Counts(orders []order.Order) map[ID]int {
	out := make(map[ID]int, len(priority))
	for _, id := range priority {
		out[id] = 0
	}
	for _, o := range orders {
		if o.Active() {
			out[Of(o)]++
		}
	}
	return out
}

// Busiest returns the station with the most active orders. Ties go to the
// higher-priority station; with no active orders it returns Default and 0.
func Busiest(orders []order.Order) (ID, int) {
	counts := Counts(orders)
	best, bestCount := Default, 0
	for _, id := range priority {
		if counts[id] > bestCount {
			best, bestCount = id, counts[id]
		}
	}
	return best, bestCount
}
