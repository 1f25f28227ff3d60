package movement

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
	"github.com/stationtracker/tracker-core-go/internal/spatial"
)

const (
	historyCap   = 1000 // in-memory ring capacity
	persistCount = 200  // samples persisted across restarts
	persistEvery = 10   // samples between history writes
	minSamples   = 10   // below this no profile is produced

	speedWindow   = 50  // samples considered for average speed
	headingWindow = 20  // samples considered for primary heading
	maxPairGapSec = 600 // consecutive pairs older than this are stale
	maxPairSpeed  = 50  // m/s, above this a pair is a GPS jump

	gridCellDeg = 0.001 // ~100 m frequent-area grid
	minAreaHits = 5
	maxAreas    = 10
)

// Analyzer maintains a bounded location history and derives a movement
// profile from it. The profile is recomputed from history on every recorded
// sample and on periodic refresh; it is never edited in place.
type Analyzer struct {
	mu      sync.Mutex
	history []models.LocationSample // most-recent-first
	profile *models.MovementProfile

	repo       *repository.HistoryRepository // optional
	sinceWrite int                           // samples recorded since the last persist
	logr       *zap.Logger
	now        func() time.Time
}

// NewAnalyzer creates an analyzer, warming the history from the repository
// when one is provided. A repo is optional so the analyzer stays usable in
// memory-only setups and tests.
func NewAnalyzer(repo *repository.HistoryRepository, logr *zap.Logger) *Analyzer {
	a := &Analyzer{
		repo: repo,
		logr: logr,
		now:  time.Now,
	}

	if repo != nil {
		samples, err := repo.LoadRecent(persistCount)
		if err != nil {
			logr.Warn("failed to load persisted location history", zap.Error(err))
		} else if len(samples) > 0 {
			a.history = samples
			a.recompute()
			logr.Info("restored location history", zap.Int("samples", len(samples)))
		}
	}

	return a
}

// RecordSample appends a sample and recomputes the profile. History is
// persisted every persistEvery samples rather than per fix; ReplaceRecent
// rewrites the whole persisted window, which is too heavy for every GPS fix.
// The periodic Refresh flushes whatever accumulated in between.
func (a *Analyzer) RecordSample(sample models.LocationSample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append([]models.LocationSample{sample}, a.history...)
	if len(a.history) > historyCap {
		a.history = a.history[:historyCap]
	}

	a.recompute()

	a.sinceWrite++
	if a.sinceWrite >= persistEvery {
		a.persistLocked()
	}
}

// Profile returns the current movement profile, or nil when fewer than ten
// samples have been recorded.
func (a *Analyzer) Profile() *models.MovementProfile {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.profile == nil {
		return nil
	}
	p := *a.profile
	p.FrequentAreas = append([]models.FrequentArea(nil), a.profile.FrequentAreas...)
	return &p
}

// Refresh recomputes the profile without new samples, keeping the time-bucket
// fields current, and flushes any samples not yet persisted. Driven by the
// controller's periodic timer.
func (a *Analyzer) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recompute()
	if a.sinceWrite > 0 {
		a.persistLocked()
	}
}

// HistorySize returns the number of samples currently held.
func (a *Analyzer) HistorySize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

func (a *Analyzer) persistLocked() {
	a.sinceWrite = 0
	if a.repo == nil {
		return
	}

	n := len(a.history)
	if n > persistCount {
		n = persistCount
	}
	if err := a.repo.ReplaceRecent(a.history[:n]); err != nil {
		a.logr.Warn("failed to persist location history", zap.Error(err))
	}
}

func (a *Analyzer) recompute() {
	if len(a.history) < minSamples {
		a.profile = nil
		return
	}

	now := a.now()
	a.profile = &models.MovementProfile{
		AverageSpeed:   a.averageSpeed(),
		PrimaryHeading: a.primaryHeading(),
		FrequentAreas:  a.frequentAreas(),
		TimeBucket:     models.TimeBucketFor(now),
		IsWeekend:      models.IsWeekendDay(now),
		SampleCount:    len(a.history),
		ComputedAt:     now,
	}
}

// averageSpeed walks consecutive pairs inside the speed window, rejecting
// stale gaps and implied speeds fast enough to be GPS jumps.
func (a *Analyzer) averageSpeed() float64 {
	window := a.history
	if len(window) > speedWindow {
		window = window[:speedWindow]
	}

	var total float64
	var accepted int
	for i := 0; i < len(window)-1; i++ {
		newer, older := window[i], window[i+1]
		dt := newer.Timestamp.Sub(older.Timestamp).Seconds()
		if dt <= 0 || dt > maxPairGapSec {
			continue
		}

		dist := spatial.HaversineDistance(older.Latitude, older.Longitude,
			newer.Latitude, newer.Longitude)
		speed := dist / dt
		if speed >= maxPairSpeed {
			continue
		}

		total += speed
		accepted++
	}

	if accepted == 0 {
		return 0
	}
	return total / float64(accepted)
}

// primaryHeading sums per-step coordinate deltas over the heading window and
// converts the resulting vector to a compass bearing.
func (a *Analyzer) primaryHeading() float64 {
	window := a.history
	if len(window) > headingWindow {
		window = window[:headingWindow]
	}
	if len(window) < 2 {
		return 0
	}

	var dLat, dLon float64
	for i := 0; i < len(window)-1; i++ {
		newer, older := window[i], window[i+1]
		dLat += newer.Latitude - older.Latitude
		dLon += newer.Longitude - older.Longitude
	}

	heading := math.Atan2(dLon, dLat) * 180 / math.Pi
	return math.Mod(heading+360, 360)
}

// frequentAreas buckets the full history onto the grid and keeps the top
// cells with enough hits to qualify.
func (a *Analyzer) frequentAreas() []models.FrequentArea {
	type cell struct {
		lat, lon float64
		count    int
	}

	cells := make(map[string]*cell)
	for _, s := range a.history {
		lat := math.Round(s.Latitude/gridCellDeg) * gridCellDeg
		lon := math.Round(s.Longitude/gridCellDeg) * gridCellDeg
		key := fmt.Sprintf("%.3f_%.3f", lat, lon)
		if c, ok := cells[key]; ok {
			c.count++
		} else {
			cells[key] = &cell{lat: lat, lon: lon, count: 1}
		}
	}

	var qualifying []cell
	for _, c := range cells {
		if c.count >= minAreaHits {
			qualifying = append(qualifying, *c)
		}
	}

	// Tie-break on coordinates so identical histories produce identical
	// profiles.
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].count != qualifying[j].count {
			return qualifying[i].count > qualifying[j].count
		}
		if qualifying[i].lat != qualifying[j].lat {
			return qualifying[i].lat < qualifying[j].lat
		}
		return qualifying[i].lon < qualifying[j].lon
	})

	if len(qualifying) > maxAreas {
		qualifying = qualifying[:maxAreas]
	}

	areas := make([]models.FrequentArea, len(qualifying))
	for i, c := range qualifying {
		areas[i] = models.FrequentArea{Lat: c.lat, Lon: c.lon, Count: c.count}
	}
	return areas
}
