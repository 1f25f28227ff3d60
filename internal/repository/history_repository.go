package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/models"
)

// HistoryRepository persists the most recent slice of the location history so
// the movement analyzer can warm up across restarts.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ReplaceRecent swaps the persisted history for the given samples, expected
// most-recent-first.
func (r *HistoryRepository) ReplaceRecent(samples []models.LocationSample) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM location_history"); err != nil {
			return fmt.Errorf("failed to clear location history: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO location_history
			(latitude, longitude, accuracy, speed, heading, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare history insert: %w", err)
		}
		defer stmt.Close()

		// Insert oldest-first so seq order matches time order.
		for i := len(samples) - 1; i >= 0; i-- {
			s := samples[i]
			if _, err := stmt.Exec(s.Latitude, s.Longitude, s.Accuracy, s.Speed,
				s.Heading, s.Timestamp.Unix()); err != nil {
				return fmt.Errorf("failed to insert history sample: %w", err)
			}
		}
		return nil
	})
}

// LoadRecent returns up to limit persisted samples, most-recent-first.
func (r *HistoryRepository) LoadRecent(limit int) ([]models.LocationSample, error) {
	rows, err := r.db.Query(`SELECT latitude, longitude, accuracy, speed, heading, timestamp
		FROM location_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	var samples []models.LocationSample
	for rows.Next() {
		var s models.LocationSample
		var ts int64
		if err := rows.Scan(&s.Latitude, &s.Longitude, &s.Accuracy, &s.Speed, &s.Heading, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history sample: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0).UTC()
		samples = append(samples, s)
	}

	return samples, rows.Err()
}
