package models

import "fmt"

// CandidateRegion is a scored geofence proposal produced by the selector.
// Candidates are transient: recomputed on every optimization pass.
type CandidateRegion struct {
	Station  Station `json:"station"`
	Distance float64 `json:"distance"` // meters from the user
	Score    float64 `json:"score"`
	Radius   float64 `json:"radius"` // meters
}

// RegionPayload is the opaque data attached to a registered region and echoed
// back on enter/exit events.
type RegionPayload struct {
	StationID   int64  `json:"station_id"`
	StationName string `json:"station_name"`
	Line        string `json:"line,omitempty"`
}

// RegisteredRegion is a geofence currently active in the monitoring layer.
// The persisted set of these is the single source of truth for what the
// platform is watching.
type RegisteredRegion struct {
	Identifier    string        `json:"identifier" db:"identifier"`
	Latitude      float64       `json:"latitude" db:"latitude"`
	Longitude     float64       `json:"longitude" db:"longitude"`
	Radius        float64       `json:"radius" db:"radius"`
	NotifyOnEntry bool          `json:"notify_on_entry" db:"notify_on_entry"`
	NotifyOnExit  bool          `json:"notify_on_exit" db:"notify_on_exit"`
	Payload       RegionPayload `json:"payload"`
}

// RegionIdentifier builds the monitoring-layer identifier for a station.
func RegionIdentifier(stationID int64) string {
	return fmt.Sprintf("station-%d", stationID)
}

// RegionFromCandidate converts a selector candidate into a registrable region.
func RegionFromCandidate(c CandidateRegion) RegisteredRegion {
	return RegisteredRegion{
		Identifier:    RegionIdentifier(c.Station.ID),
		Latitude:      c.Station.Latitude,
		Longitude:     c.Station.Longitude,
		Radius:        c.Radius,
		NotifyOnEntry: true,
		NotifyOnExit:  true,
		Payload: RegionPayload{
			StationID:   c.Station.ID,
			StationName: c.Station.Name,
			Line:        c.Station.Line,
		},
	}
}
