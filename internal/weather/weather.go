package weather

import "context"

// Provider is an optional enrichment collaborator: when present, visits are
// annotated with the current weather at the station. The tracker works fully
// without one.
type Provider interface {
	Current(ctx context.Context, lat, lon float64) (string, error)
}
