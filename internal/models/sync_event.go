package models

import "time"

// Geofence event types.
const (
	EventEnter = "enter"
	EventExit  = "exit"
)

// PendingSyncEvent is a detected enter/exit transition waiting in the durable
// queue for delivery to the remote sink. An event leaves the queue only after
// the sink acknowledges it, or through an explicit operator clear.
type PendingSyncEvent struct {
	ID          string    `json:"id" db:"id"`
	StationID   int64     `json:"station_id" db:"station_id"`
	StationName string    `json:"station_name" db:"station_name"`
	EventType   string    `json:"event_type" db:"event_type"` // enter | exit
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	DeviceID    string    `json:"device_id" db:"device_id"`
}

// SyncBatch is the wire payload for POST /geofence-events.
type SyncBatch struct {
	Events []PendingSyncEvent `json:"events"`
}

// SyncResponse is the acknowledgement shape the sink returns. Anything other
// than success=true on a 2xx is treated as a delivery failure.
type SyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SyncStatus is an observable snapshot of the queue state.
type SyncStatus struct {
	QueueSize   int       `json:"queue_size"`
	SyncedTotal int64     `json:"synced_total"`
	ErrorCount  int       `json:"error_count"`
	Online      bool      `json:"online"`
	LastFlushAt time.Time `json:"last_flush_at,omitempty"`
}
