package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stationtracker/tracker-core-go/internal/models"
)

// RegionRepository owns the persisted registered-region set and the
// entered-region set. No other component writes these tables.
type RegionRepository struct {
	db *sql.DB
}

// NewRegionRepository creates a new region repository
func NewRegionRepository(db *sql.DB) *RegionRepository {
	return &RegionRepository{db: db}
}

// GetRegisteredRegions returns every region currently persisted as registered.
// A row with an unreadable payload keeps its geometry and gets an empty
// payload; corruption never fails the load.
func (r *RegionRepository) GetRegisteredRegions() ([]models.RegisteredRegion, error) {
	rows, err := r.db.Query(`SELECT identifier, latitude, longitude, radius,
		notify_on_entry, notify_on_exit, payload FROM registered_regions ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("failed to query registered regions: %w", err)
	}
	defer rows.Close()

	var regions []models.RegisteredRegion
	for rows.Next() {
		var region models.RegisteredRegion
		var payload string
		if err := rows.Scan(&region.Identifier, &region.Latitude, &region.Longitude,
			&region.Radius, &region.NotifyOnEntry, &region.NotifyOnExit, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &region.Payload); err != nil {
			region.Payload = models.RegionPayload{}
		}
		regions = append(regions, region)
	}

	return regions, rows.Err()
}

// SaveRegion inserts or replaces a single registered region. Called only after
// the monitoring layer confirmed the add, so the persisted set tracks what is
// actually registered.
func (r *RegionRepository) SaveRegion(region models.RegisteredRegion) error {
	payload, err := json.Marshal(region.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = r.db.Exec(`INSERT OR REPLACE INTO registered_regions
		(identifier, latitude, longitude, radius, notify_on_entry, notify_on_exit, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		region.Identifier, region.Latitude, region.Longitude, region.Radius,
		region.NotifyOnEntry, region.NotifyOnExit, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save region %s: %w", region.Identifier, err)
	}
	return nil
}

// DeleteRegion removes a region and its entered marker.
func (r *RegionRepository) DeleteRegion(identifier string) error {
	_, err := r.db.Exec("DELETE FROM registered_regions WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("failed to delete region %s: %w", identifier, err)
	}
	_, err = r.db.Exec("DELETE FROM entered_regions WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("failed to clear entered marker for %s: %w", identifier, err)
	}
	return nil
}

// GetEnteredRegions returns the identifiers currently marked as entered.
func (r *RegionRepository) GetEnteredRegions() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT identifier FROM entered_regions")
	if err != nil {
		return nil, fmt.Errorf("failed to query entered regions: %w", err)
	}
	defer rows.Close()

	entered := make(map[string]bool)
	for rows.Next() {
		var identifier string
		if err := rows.Scan(&identifier); err != nil {
			return nil, fmt.Errorf("failed to scan entered region: %w", err)
		}
		entered[identifier] = true
	}

	return entered, rows.Err()
}

// MarkEntered records that the user is inside the given region.
func (r *RegionRepository) MarkEntered(identifier string) error {
	_, err := r.db.Exec("INSERT OR IGNORE INTO entered_regions (identifier) VALUES (?)", identifier)
	if err != nil {
		return fmt.Errorf("failed to mark region entered: %w", err)
	}
	return nil
}

// MarkExited clears the entered marker for the given region.
func (r *RegionRepository) MarkExited(identifier string) error {
	_, err := r.db.Exec("DELETE FROM entered_regions WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("failed to mark region exited: %w", err)
	}
	return nil
}
