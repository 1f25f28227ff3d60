package repository

import (
	"database/sql"
	"fmt"

	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/models"
)

// StationRepository caches the last successfully fetched station catalog so a
// catalog outage degrades to stale data instead of no regions.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository creates a new station repository
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// ReplaceAll swaps the cached catalog for the given stations.
func (r *StationRepository) ReplaceAll(stations []models.Station) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM station_cache"); err != nil {
			return fmt.Errorf("failed to clear station cache: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO station_cache
			(id, name, name_kana, latitude, longitude, polygon_data, line)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare station insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range stations {
			if _, err := stmt.Exec(s.ID, s.Name, s.NameKana, s.Latitude, s.Longitude,
				s.PolygonData, s.Line); err != nil {
				return fmt.Errorf("failed to insert station %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

// GetAll returns the cached catalog.
func (r *StationRepository) GetAll() ([]models.Station, error) {
	rows, err := r.db.Query(`SELECT id, name, name_kana, latitude, longitude, polygon_data, line
		FROM station_cache ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query station cache: %w", err)
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.NameKana, &s.Latitude, &s.Longitude,
			&s.PolygonData, &s.Line); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, s)
	}

	return stations, rows.Err()
}
