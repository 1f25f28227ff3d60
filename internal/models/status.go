package models

import "time"

// DetectionMode identifies which detection layer is live.
type DetectionMode string

const (
	ModeNative   DetectionMode = "native"   // platform region monitoring
	ModePolling  DetectionMode = "polling"  // periodic location checks
	ModeDisabled DetectionMode = "disabled" // tracking stopped or permission denied
)

// TrackingStatus is a derived snapshot of the controller state. It is observed
// through subscriptions and never authoritative on its own.
type TrackingStatus struct {
	Active         bool          `json:"active"`
	Mode           DetectionMode `json:"mode"`
	RegionCount    int           `json:"region_count"`
	LastLocationAt time.Time     `json:"last_location_at,omitempty"`
	QueueSize      int           `json:"queue_size"`
}
