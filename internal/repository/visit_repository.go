package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stationtracker/tracker-core-go/internal/models"
)

// VisitRepository stores station visits on the dev sink side.
type VisitRepository struct {
	db *sql.DB
}

// NewVisitRepository creates a new visit repository
func NewVisitRepository(db *sql.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Create inserts a new visit and returns its ID.
func (r *VisitRepository) Create(visit models.StationVisit) (int64, error) {
	var departedAt interface{}
	if visit.DepartedAt != nil {
		departedAt = visit.DepartedAt.Unix()
	}
	var duration interface{}
	if visit.DurationMinutes != nil {
		duration = *visit.DurationMinutes
	}

	res, err := r.db.Exec(`INSERT INTO visits
		(station_id, station_name, arrived_at, departed_at, duration_minutes, weather, notes, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		visit.StationID, visit.StationName, visit.ArrivedAt.Unix(), departedAt, duration,
		visit.Weather, visit.Notes, visit.Latitude, visit.Longitude)
	if err != nil {
		return 0, fmt.Errorf("failed to create visit: %w", err)
	}
	return res.LastInsertId()
}

// OpenVisit returns the most recent visit for a station that has no departure
// yet, or nil if none exists.
func (r *VisitRepository) OpenVisit(stationID int64) (*models.StationVisit, error) {
	row := r.db.QueryRow(`SELECT id, station_id, station_name, arrived_at, weather, notes, latitude, longitude
		FROM visits WHERE station_id = ? AND departed_at IS NULL
		ORDER BY arrived_at DESC LIMIT 1`, stationID)

	var v models.StationVisit
	var arrivedAt int64
	err := row.Scan(&v.ID, &v.StationID, &v.StationName, &arrivedAt, &v.Weather, &v.Notes,
		&v.Latitude, &v.Longitude)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open visit: %w", err)
	}
	v.ArrivedAt = time.Unix(arrivedAt, 0).UTC()
	return &v, nil
}

// Close records the departure for a visit and derives its duration.
func (r *VisitRepository) Close(id int64, departedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE visits SET departed_at = ?,
		duration_minutes = MAX(0, (? - arrived_at) / 60)
		WHERE id = ?`, departedAt.Unix(), departedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to close visit %d: %w", id, err)
	}
	return nil
}

// Stats aggregates the visit table the way the tracker app's history screen
// expects: totals, unique stations, average duration, most visited.
func (r *VisitRepository) Stats() (*models.VisitStats, error) {
	stats := &models.VisitStats{}

	err := r.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT station_id),
		COALESCE(AVG(duration_minutes), 0) FROM visits`).
		Scan(&stats.TotalVisits, &stats.UniqueStations, &stats.AvgDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate visits: %w", err)
	}

	row := r.db.QueryRow(`SELECT station_name, COUNT(*) AS visit_count FROM visits
		GROUP BY station_id, station_name ORDER BY visit_count DESC LIMIT 1`)
	var top models.TopStat
	err = row.Scan(&top.StationName, &top.VisitCount)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find most visited station: %w", err)
	}
	if err == nil {
		stats.MostVisited = &top
	}

	return stats, nil
}
