package models

import "time"

// StationVisit represents a recorded visit to a station. ArrivedAt is set on
// the enter transition; DepartedAt and DurationMinutes on the matching exit.
type StationVisit struct {
	ID              int64      `json:"id" db:"id"`
	StationID       int64      `json:"station" db:"station_id"`
	StationName     string     `json:"station_name,omitempty" db:"station_name"`
	ArrivedAt       time.Time  `json:"arrived_at" db:"arrived_at"`
	DepartedAt      *time.Time `json:"departed_at,omitempty" db:"departed_at"`
	DurationMinutes *int       `json:"duration_minutes,omitempty" db:"duration_minutes"`
	Weather         string     `json:"weather,omitempty" db:"weather"`
	Notes           string     `json:"notes,omitempty" db:"notes"`
	Latitude        float64    `json:"latitude" db:"latitude"`
	Longitude       float64    `json:"longitude" db:"longitude"`
}

// CloseVisit fills in the departure side of a visit and derives the duration.
func (v *StationVisit) CloseVisit(departedAt time.Time) {
	v.DepartedAt = &departedAt
	minutes := int(departedAt.Sub(v.ArrivedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	v.DurationMinutes = &minutes
}

// VisitStats is the aggregate view served by the visits stats endpoint.
type VisitStats struct {
	TotalVisits    int64    `json:"total_visits"`
	UniqueStations int64    `json:"unique_stations"`
	AvgDuration    float64  `json:"avg_duration"`
	MostVisited    *TopStat `json:"most_visited,omitempty"`
}

// TopStat names the most visited station and its visit count.
type TopStat struct {
	StationName string `json:"station__name"`
	VisitCount  int64  `json:"visit_count"`
}
