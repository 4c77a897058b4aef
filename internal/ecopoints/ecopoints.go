// Package ecopoints turns marketplace activity into eco-points.
//
// Every category carries an estimate of the CO2 (kg) that reusing an item of
// that category avoids. Listing an item earns a small share of that estimate;
// completing an exchange or sale earns the full amount.
//
// The package is pure: it computes awards but never applies them. Applying an
// award is an atomic increment done by the repository layer, in the same unit
// of work as the item write that triggered it.
package ecopoints

import (
	"math"
	"sort"
)

// Action is the marketplace event being scored.
type Action string

const (
	ActionCreate   Action = "create"
	ActionComplete Action = "complete"
)

// DefaultCO2 is used for categories missing from the table.
const DefaultCO2 = 5

const (
	minCreatePoints   = 1
	minCompletePoints = 5
)

// carbon is the CO2 saved (kg) per category. "Clothing" and "Clothes" are
// both listed because older clients send either spelling.
var carbon = map[string]int{
	"Electronics":   50,
	"Furniture":     30,
	"Clothing":      5,
	"Clothes":       5,
	"Books":         2,
	"Toys":          3,
	"Home & Garden": 10,
	"Sports":        8,
	"Other":         5,
}

// CO2Saved returns the kg of CO2 credited for reusing an item of category.
// Unknown categories fall back to DefaultCO2.
func CO2Saved(category string) int {
	if v, ok := carbon[category]; ok {
		return v
	}
	return DefaultCO2
}

// PointsFor returns the award for action on an item of category.
//
//	create:   max(1, floor(co2 / 2))
//	complete: max(5, co2)
//
// An unrecognized action is worth nothing.
func PointsFor(category string, action Action) int {
	co2 := CO2Saved(category)
	switch action {
	case ActionCreate:
		return max(minCreatePoints, int(math.Floor(float64(co2)/2)))
	case ActionComplete:
		return max(minCompletePoints, co2)
	default:
		return 0
	}
}

// IsKnownCategory reports whether category is in the table.
func IsKnownCategory(category string) bool {
	_, ok := carbon[category]
	return ok
}

// Categories returns the table's categories in alphabetical order.
func Categories() []string {
	out := make([]string, 0, len(carbon))
	for c := range carbon {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Table returns a copy of the CO2 table so callers cannot mutate it.
func Table() map[string]int {
	out := make(map[string]int, len(carbon))
	for k, v := range carbon {
		out[k] = v
	}
	return out
}

// Preview is what a client shows before listing an item.
type Preview struct {
	Category       string `json:"category"`
	CO2SavedKg     int    `json:"co2SavedKg"`
	CreatePoints   int    `json:"createPoints"`
	CompletePoints int    `json:"completePoints"`
}

// PreviewFor builds the Preview for category.
func PreviewFor(category string) Preview {
	return Preview{
		Category:       category,
		CO2SavedKg:     CO2Saved(category),
		CreatePoints:   PointsFor(category, ActionCreate),
		CompletePoints: PointsFor(category, ActionComplete),
	}
}
