package models

import "time"

// LocationSample represents a single GPS fix from the platform location layer
type LocationSample struct {
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	Accuracy  float64   `json:"accuracy" db:"accuracy"` // meters
	Speed     float64   `json:"speed,omitempty" db:"speed"`
	Heading   float64   `json:"heading,omitempty" db:"heading"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// FrequentArea is a grid cell the user keeps coming back to. Cells are keyed
// on a 0.001 degree grid, roughly 100 m at Tokyo latitudes.
type FrequentArea struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int     `json:"count"`
}

// Time-of-day buckets used by the movement profile and region scoring.
const (
	BucketNight     = "night"
	BucketMorning   = "morning"
	BucketAfternoon = "afternoon"
	BucketEvening   = "evening"
)

// MovementProfile is a derived summary of recent movement. It is recomputed
// from the sample history on every update and never mutated in place.
type MovementProfile struct {
	AverageSpeed   float64        `json:"average_speed"`   // m/s over the recent window
	PrimaryHeading float64        `json:"primary_heading"` // degrees, [0, 360)
	FrequentAreas  []FrequentArea `json:"frequent_areas"`
	TimeBucket     string         `json:"time_bucket"`
	IsWeekend      bool           `json:"is_weekend"`
	SampleCount    int            `json:"sample_count"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// TimeBucketFor maps a wall-clock time to its bucket.
func TimeBucketFor(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return BucketNight
	case h < 12:
		return BucketMorning
	case h < 18:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}

// IsWeekendDay reports whether t falls on a Saturday or Sunday.
func IsWeekendDay(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
