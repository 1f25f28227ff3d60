package selector

import (
	"sort"

	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/spatial"
)

const (
	optimizationRadiusM = 10000 // stations beyond this are never candidates

	fastSpeedMS       = 10 // above this the user is moving fast
	vehicularSpeedMS  = 20 // above this assume vehicular travel
	stationarySpeedMS = 2  // below this assume stationary

	vehicularMinScore = 50
	vehicularDropFrac = 0.3
	stationaryMaxDist = 2000

	frequentAreaRangeM = 500
	frequentAreaBonus  = 30
	fastMovementBonus  = 10

	polygonRadiusBuffer = 30
	minRadiusM          = 50
)

// Selector ranks catalog stations into a capacity-bounded candidate set.
// Selection is pure: identical inputs always produce identical output.
type Selector struct {
	tuning *config.Tuning
}

// New creates a selector with the given scoring table.
func New(tuning *config.Tuning) *Selector {
	if tuning == nil {
		tuning = config.DefaultTuning()
	}
	return &Selector{tuning: tuning}
}

// SelectRegions scores every station within the optimization radius and
// returns at most maxRegions candidates, best first, each with a detection
// radius assigned. A nil profile drops the movement-dependent scoring terms.
func (s *Selector) SelectRegions(stations []models.Station, lat, lon float64,
	maxRegions int, profile *models.MovementProfile) []models.CandidateRegion {

	if maxRegions <= 0 {
		return nil
	}

	var candidates []models.CandidateRegion
	for _, station := range stations {
		dist := station.DistanceFrom(lat, lon)
		if dist > optimizationRadiusM {
			continue
		}

		candidates = append(candidates, models.CandidateRegion{
			Station:  station,
			Distance: dist,
			Score:    s.score(station, dist, lat, lon, profile),
			Radius:   s.radius(station, dist, profile),
		})
	}

	sortCandidates(candidates)
	candidates = applyContextFilters(candidates, profile)

	if len(candidates) > maxRegions {
		candidates = candidates[:maxRegions]
	}
	return candidates
}

func (s *Selector) score(station models.Station, dist, userLat, userLon float64,
	profile *models.MovementProfile) float64 {

	var score float64

	distScore := distanceScore(dist)
	if profile != nil {
		score += distScore * 0.4

		bearing := spatial.Bearing(userLat, userLon, station.Latitude, station.Longitude)
		angDiff := spatial.AngularDifference(bearing, profile.PrimaryHeading)
		score += (180 - angDiff) / 180 * 100 * 0.2

		for _, area := range profile.FrequentAreas {
			if spatial.HaversineDistance(station.Latitude, station.Longitude, area.Lat, area.Lon) <= frequentAreaRangeM {
				score += frequentAreaBonus
				break
			}
		}

		if profile.AverageSpeed > fastSpeedMS {
			score += fastMovementBonus
		}

		if s.tuning.IsLandmark(station.Name) && !profile.IsWeekend &&
			(profile.TimeBucket == models.BucketMorning || profile.TimeBucket == models.BucketEvening) {
			score += s.tuning.RushHourBonus
		}
	} else {
		score += distScore
	}

	score += s.tuning.LineBonus(station.Line)
	if s.tuning.IsLandmark(station.Name) {
		score += s.tuning.LandmarkBonus
	}

	return score
}

func distanceScore(dist float64) float64 {
	switch {
	case dist <= 500:
		return 100
	case dist <= 1000:
		return 80
	case dist <= 2000:
		return 60
	case dist <= 5000:
		return 40
	default:
		return 20
	}
}

// radius prefers a polygon-derived fence; stations without usable boundaries
// get a distance-tiered fallback nudged by movement state.
func (s *Selector) radius(station models.Station, dist float64,
	profile *models.MovementProfile) float64 {

	if ring := station.Boundary(); ring != nil {
		return spatial.PolygonRadius(ring, polygonRadiusBuffer, minRadiusM)
	}

	var radius float64
	switch {
	case dist <= 500:
		radius = 80
	case dist <= 1000:
		radius = 100
	case dist <= 2000:
		radius = 120
	case dist <= 5000:
		radius = 150
	default:
		radius = 200
	}

	if profile != nil {
		if profile.AverageSpeed > fastSpeedMS {
			radius += 50
		} else if profile.AverageSpeed < stationarySpeedMS {
			radius -= 20
		}
	}

	if radius < minRadiusM {
		radius = minRadiusM
	}
	return radius
}

// applyContextFilters narrows the sorted candidate list by movement state.
// At vehicular speed the score floor is applied first, then the bottom 30%
// by count is dropped; with three or fewer survivors the 30% cut rounds to
// zero so small sets pass through intact.
func applyContextFilters(candidates []models.CandidateRegion,
	profile *models.MovementProfile) []models.CandidateRegion {

	if profile == nil {
		return candidates
	}

	if profile.AverageSpeed > vehicularSpeedMS {
		var kept []models.CandidateRegion
		for _, c := range candidates {
			if c.Score >= vehicularMinScore {
				kept = append(kept, c)
			}
		}
		drop := int(float64(len(kept)) * vehicularDropFrac)
		return kept[:len(kept)-drop]
	}

	if profile.AverageSpeed < stationarySpeedMS {
		var kept []models.CandidateRegion
		for _, c := range candidates {
			if c.Distance <= stationaryMaxDist {
				kept = append(kept, c)
			}
		}
		return kept
	}

	return candidates
}

// sortCandidates orders by score descending with deterministic tie-breaks.
func sortCandidates(candidates []models.CandidateRegion) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Station.ID < candidates[j].Station.ID
	})
}
