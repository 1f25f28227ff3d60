package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/models"
)

// EventRepository owns the durable pending-sync queue. Events are appended in
// detection order and removed only after the sink acknowledges them or an
// operator clears the queue.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append adds an event to the tail of the queue.
func (r *EventRepository) Append(event models.PendingSyncEvent) error {
	_, err := r.db.Exec(`INSERT INTO pending_events
		(id, station_id, station_name, event_type, latitude, longitude, timestamp, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.StationID, event.StationName, event.EventType,
		event.Latitude, event.Longitude, event.Timestamp.Unix(), event.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// OldestBatch returns up to limit events from the head of the queue.
func (r *EventRepository) OldestBatch(limit int) ([]models.PendingSyncEvent, error) {
	rows, err := r.db.Query(`SELECT id, station_id, station_name, event_type,
		latitude, longitude, timestamp, device_id
		FROM pending_events ORDER BY seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []models.PendingSyncEvent
	for rows.Next() {
		var event models.PendingSyncEvent
		var ts int64
		if err := rows.Scan(&event.ID, &event.StationID, &event.StationName, &event.EventType,
			&event.Latitude, &event.Longitude, &ts, &event.DeviceID); err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		event.Timestamp = time.Unix(ts, 0).UTC()
		events = append(events, event)
	}

	return events, rows.Err()
}

// DeleteBatch removes exactly the given events from the queue.
func (r *EventRepository) DeleteBatch(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return database.Transaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM pending_events WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("failed to delete synced batch: %w", err)
		}
		return nil
	})
}

// Count returns the number of queued events.
func (r *EventRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM pending_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

// Clear drops every queued event. Operator action only.
func (r *EventRepository) Clear() error {
	if _, err := r.db.Exec("DELETE FROM pending_events"); err != nil {
		return fmt.Errorf("failed to clear pending events: %w", err)
	}
	return nil
}
