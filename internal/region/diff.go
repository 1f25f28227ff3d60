package region

import "github.com/stationtracker/tracker-core-go/internal/models"

// Diff is the result of reconciling a new selection against the currently
// registered set.
type Diff struct {
	ToAdd    []models.RegisteredRegion
	ToRemove []string // identifiers
}

// Reconcile computes the pure set difference between the previously
// registered regions and a new selection, keyed by identifier. Regions present
// in both sets are left alone even if their radius changed; the selector only
// moves a fence when the station leaves and re-enters the selection, which
// keeps churn against the platform API down.
func Reconcile(previous, next []models.RegisteredRegion) Diff {
	prevByID := make(map[string]models.RegisteredRegion, len(previous))
	for _, r := range previous {
		prevByID[r.Identifier] = r
	}
	nextByID := make(map[string]bool, len(next))
	for _, r := range next {
		nextByID[r.Identifier] = true
	}

	var diff Diff
	for _, r := range next {
		if _, ok := prevByID[r.Identifier]; !ok {
			diff.ToAdd = append(diff.ToAdd, r)
		}
	}
	for _, r := range previous {
		if !nextByID[r.Identifier] {
			diff.ToRemove = append(diff.ToRemove, r.Identifier)
		}
	}

	return diff
}
