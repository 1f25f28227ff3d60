package models

import (
	"encoding/json"
	"time"

	"github.com/stationtracker/tracker-core-go/internal/spatial"
)

// FallbackRadiusMeters is the circular fence radius used when a station has no
// usable polygon boundary.
const FallbackRadiusMeters = 100.0

// Station represents a catalog entry for a railway station
type Station struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	NameKana    string  `json:"name_kana" db:"name_kana"`
	Latitude    float64 `json:"latitude" db:"latitude"`
	Longitude   float64 `json:"longitude" db:"longitude"`
	PolygonData string  `json:"polygon_data" db:"polygon_data"` // GeoJSON polygon from OSM, may be empty
	Line        string  `json:"line,omitempty" db:"line"`

	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
}

// geoJSONPolygon is the subset of GeoJSON the catalog loader writes
type geoJSONPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// Boundary parses the station's polygon data and returns its outer ring.
// Returns nil if the station has no polygon or the data is malformed.
func (s *Station) Boundary() []spatial.Point {
	if s.PolygonData == "" {
		return nil
	}

	var poly geoJSONPolygon
	if err := json.Unmarshal([]byte(s.PolygonData), &poly); err != nil {
		return nil
	}
	if len(poly.Coordinates) == 0 || len(poly.Coordinates[0]) < 3 {
		return nil
	}

	// GeoJSON positions are [lng, lat]
	ring := make([]spatial.Point, 0, len(poly.Coordinates[0]))
	for _, pos := range poly.Coordinates[0] {
		if len(pos) < 2 {
			return nil
		}
		ring = append(ring, spatial.Point{Lat: pos[1], Lon: pos[0]})
	}
	return ring
}

// Contains reports whether the given coordinates fall inside the station.
// Uses the polygon boundary when one parses cleanly; otherwise degrades to a
// 100 m circular fence around the station center. Bad catalog data must never
// break detection.
func (s *Station) Contains(lat, lon float64) bool {
	if ring := s.Boundary(); ring != nil {
		return spatial.PointInPolygon(spatial.Point{Lat: lat, Lon: lon}, ring)
	}
	return spatial.HaversineDistance(lat, lon, s.Latitude, s.Longitude) <= FallbackRadiusMeters
}

// DistanceFrom returns the great-circle distance in meters from the given
// coordinates to the station center.
func (s *Station) DistanceFrom(lat, lon float64) float64 {
	return spatial.HaversineDistance(lat, lon, s.Latitude, s.Longitude)
}
