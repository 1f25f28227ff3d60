package tracker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/catalog"
	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/movement"
	"github.com/stationtracker/tracker-core-go/internal/region"
	"github.com/stationtracker/tracker-core-go/internal/repository"
	"github.com/stationtracker/tracker-core-go/internal/selector"
	"github.com/stationtracker/tracker-core-go/internal/spatial"
	"github.com/stationtracker/tracker-core-go/internal/syncqueue"
	"github.com/stationtracker/tracker-core-go/internal/weather"
)

// VisitSink records confirmed station visits. Failures are logged and never
// block detection; durable delivery is the sync queue's job, not this one's.
type VisitSink interface {
	CreateVisit(ctx context.Context, visit models.StationVisit) error
}

// Locator supplies location fixes for the polling fallback.
type Locator interface {
	CurrentLocation(ctx context.Context) (models.LocationSample, error)
}

// RegionEvent is an enter/exit transition delivered by the monitoring layer
// or synthesized by the polling fallback.
type RegionEvent struct {
	Identifier string
	EventType  string // models.EventEnter | models.EventExit
	Latitude   float64
	Longitude  float64
	Timestamp  time.Time
}

// Options wires the controller's collaborators. Monitor and Locator determine
// the detection mode: a nil Monitor (or a later permission denial) drops to
// polling, and with no Locator either the tracker is disabled.
type Options struct {
	Config  *config.Config
	DB      *sql.DB
	Catalog catalog.Source
	Monitor region.Monitor   // native platform geofencing, may be nil
	Locator Locator          // polling fallback source, may be nil
	Visits  VisitSink        // may be nil
	Queue   *syncqueue.Queue
	Weather weather.Provider // optional enrichment
	Logger  *zap.Logger
}

// Controller orchestrates the tracking pipeline: location updates feed the
// movement analyzer and region selector, selection diffs drive the monitoring
// layer, and region events become visits and queued sync events.
//
// Start and Stop transitions are serialized through the active flag; stale
// async completions are dropped by checking it before acting.
type Controller struct {
	cfg  *config.Config
	logr *zap.Logger

	analyzer  *movement.Analyzer
	selector  *selector.Selector
	registrar *region.Registrar
	regions   *repository.RegionRepository
	catalog   catalog.Source
	monitor   region.Monitor
	locator   Locator
	visits    VisitSink
	queue     *syncqueue.Queue
	weather   weather.Provider

	mu             sync.Mutex
	active         bool
	mode           models.DetectionMode
	stations       []models.Station
	stationByIdent map[string]models.Station
	hasOptimized   bool
	lastOptLat     float64
	lastOptLon     float64
	lastLocationAt time.Time
	runCtx         context.Context
	cancel         context.CancelFunc
	subs           []chan models.TrackingStatus
}

// NewController builds a controller and its owned components on top of the
// shared database handle.
func NewController(opts Options) *Controller {
	logr := opts.Logger
	if logr == nil {
		logr = zap.NewNop()
	}

	histRepo := repository.NewHistoryRepository(opts.DB)
	regionRepo := repository.NewRegionRepository(opts.DB)

	monitor := opts.Monitor
	registrarMonitor := monitor
	if registrarMonitor == nil {
		// Polling mode has no platform API to call; the persisted set alone
		// defines what the poller checks.
		registrarMonitor = noopMonitor{}
	}

	return &Controller{
		cfg:       opts.Config,
		logr:      logr,
		analyzer:  movement.NewAnalyzer(histRepo, logr),
		selector:  selector.New(config.LoadTuning(opts.Config.TuningPath)),
		registrar: region.NewRegistrar(registrarMonitor, regionRepo, logr),
		regions:   regionRepo,
		catalog:   opts.Catalog,
		monitor:   monitor,
		locator:   opts.Locator,
		visits:    opts.Visits,
		queue:     opts.Queue,
		weather:   opts.Weather,
		mode:      models.ModeDisabled,
	}
}

// Start loads the catalog, picks the detection mode, re-registers persisted
// regions, and launches the background loops. Calling Start while active is
// a no-op. A Stop that lands during the catalog fetch wins: it cancels the
// run context and the start aborts before launching anything.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	// The cancel path must exist before the fetch suspends, or a concurrent
	// Stop has nothing to cancel.
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	stations, err := c.catalog.FetchAllStations(runCtx)
	if err != nil {
		// Degraded: tracking runs with no candidates until the next start.
		c.logr.Warn("starting without station catalog", zap.Error(err))
		stations = nil
	}

	byIdent := make(map[string]models.Station, len(stations))
	for _, s := range stations {
		byIdent[models.RegionIdentifier(s.ID)] = s
	}

	c.mu.Lock()
	if !c.active {
		// Stopped while the catalog fetch was in flight; runCtx is already
		// cancelled and nothing may launch.
		c.mu.Unlock()
		return nil
	}

	// Without a native monitor the tracker runs in fallback mode; the poll
	// loop only spins when a locator can supply fixes, otherwise the embedder
	// pushes them through ProcessFix.
	mode := models.ModePolling
	if c.monitor != nil {
		mode = models.ModeNative
	}

	c.stations = stations
	c.stationByIdent = byIdent
	c.mode = mode
	c.hasOptimized = false
	c.mu.Unlock()

	c.resumeRegions()

	go c.queue.Run(runCtx)
	go c.refreshLoop(runCtx)
	if mode == models.ModePolling && c.locator != nil {
		go c.pollLoop(runCtx)
	}

	c.logr.Info("tracking started",
		zap.String("mode", string(mode)), zap.Int("stations", len(stations)))
	c.publishStatus()
	return nil
}

// Stop cancels every background loop and timer, tears down platform
// monitoring, and marks tracking inactive. Safe to call twice.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.mode = models.ModeDisabled
	cancel := c.cancel
	c.cancel = nil
	registrar := c.registrar
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	registrar.TeardownAll()

	c.logr.Info("tracking stopped")
	c.publishStatus()

	// Detach subscribers after the final status so a range over the channel
	// terminates. Sends hold the mutex, so closing after the detach is safe.
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// OnPermissionDenied downgrades from native monitoring to the polling
// fallback, or disables detection entirely when no locator exists.
func (c *Controller) OnPermissionDenied() {
	c.mu.Lock()
	if c.mode != models.ModeNative {
		c.mu.Unlock()
		return
	}

	c.mode = models.ModePolling
	c.monitor = nil
	c.hasOptimized = false
	mode := c.mode
	active := c.active
	runCtx := c.runCtx
	oldRegistrar := c.registrar
	c.registrar = region.NewRegistrar(noopMonitor{}, c.regions, c.logr)
	c.mu.Unlock()

	c.logr.Warn("location permission denied, downgrading detection",
		zap.String("mode", string(mode)))

	// Native fences are gone with the permission; forget them so the poller
	// starts from a fresh selection.
	oldRegistrar.TeardownAll()

	if active && runCtx != nil && c.locator != nil {
		go c.pollLoop(runCtx)
	}
	c.publishStatus()
}

// SetOnline forwards connectivity transitions to the sync queue.
func (c *Controller) SetOnline(online bool) {
	c.queue.SetOnline(online)
	c.publishStatus()
}

// HandleLocation is the entry point for location updates, from the platform
// in native mode or from the poll loop in fallback mode.
func (c *Controller) HandleLocation(sample models.LocationSample) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.lastLocationAt = sample.Timestamp
	needsOptimize := !c.hasOptimized ||
		spatial.HaversineDistance(c.lastOptLat, c.lastOptLon,
			sample.Latitude, sample.Longitude) > c.cfg.DisplacementTriggerM
	c.mu.Unlock()

	c.analyzer.RecordSample(sample)

	if needsOptimize {
		c.optimize(sample.Latitude, sample.Longitude)
	}
	c.publishStatus()
}

// HandleRegionEvent routes an enter/exit transition into visit recording and
// the sync queue. Duplicate enters (and exits without a preceding enter) are
// dropped against the persisted entered set.
func (c *Controller) HandleRegionEvent(ev RegionEvent) {
	c.mu.Lock()
	active := c.active
	station, known := c.stationByIdent[ev.Identifier]
	c.mu.Unlock()
	if !active {
		return
	}

	payload := c.resolvePayload(ev.Identifier, station, known)
	if payload.StationID == 0 {
		c.logr.Warn("event for unknown region", zap.String("identifier", ev.Identifier))
		return
	}

	entered, err := c.regions.GetEnteredRegions()
	if err != nil {
		c.logr.Warn("failed to load entered set", zap.Error(err))
		entered = map[string]bool{}
	}

	switch ev.EventType {
	case models.EventEnter:
		if entered[ev.Identifier] {
			return
		}
		if err := c.regions.MarkEntered(ev.Identifier); err != nil {
			c.logr.Warn("failed to mark region entered", zap.Error(err))
		}
		c.logr.Info("station entered", zap.String("station", payload.StationName))
		c.recordVisit(payload, ev)
		c.enqueueEvent(payload, ev)

	case models.EventExit:
		if !entered[ev.Identifier] {
			return
		}
		if err := c.regions.MarkExited(ev.Identifier); err != nil {
			c.logr.Warn("failed to mark region exited", zap.Error(err))
		}
		c.logr.Info("station exited", zap.String("station", payload.StationName))
		c.enqueueEvent(payload, ev)
	}

	c.publishStatus()
}

// Status returns the current tracking snapshot.
func (c *Controller) Status() models.TrackingStatus {
	regions, err := c.regions.GetRegisteredRegions()
	if err != nil {
		c.logr.Warn("failed to count registered regions", zap.Error(err))
	}
	queueStatus := c.queue.Status()

	c.mu.Lock()
	defer c.mu.Unlock()
	return models.TrackingStatus{
		Active:         c.active,
		Mode:           c.mode,
		RegionCount:    len(regions),
		LastLocationAt: c.lastLocationAt,
		QueueSize:      queueStatus.QueueSize,
	}
}

// Subscribe returns a channel receiving status snapshots after every state
// change. Slow subscribers miss intermediate snapshots instead of blocking
// the pipeline. The channel is closed when tracking stops; a restarted
// controller needs a fresh subscription.
func (c *Controller) Subscribe() <-chan models.TrackingStatus {
	ch := make(chan models.TrackingStatus, 8)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) publishStatus() {
	status := c.Status()
	c.mu.Lock()
	for _, ch := range c.subs {
		select {
		case ch <- status:
		default:
		}
	}
	c.mu.Unlock()
}

// optimize runs a full selection pass and applies the diff against the
// monitoring layer.
func (c *Controller) optimize(lat, lon float64) {
	c.mu.Lock()
	stations := c.stations
	maxRegions := c.cfg.MaxRegions
	registrar := c.registrar
	c.mu.Unlock()

	profile := c.analyzer.Profile()
	candidates := c.selector.SelectRegions(stations, lat, lon, maxRegions, profile)

	next := make([]models.RegisteredRegion, len(candidates))
	for i, cand := range candidates {
		next[i] = models.RegionFromCandidate(cand)
	}

	previous, err := c.regions.GetRegisteredRegions()
	if err != nil {
		c.logr.Warn("failed to load registered regions", zap.Error(err))
		return
	}

	diff := region.Reconcile(previous, next)
	added, removed := registrar.Apply(diff)

	c.mu.Lock()
	c.hasOptimized = true
	c.lastOptLat = lat
	c.lastOptLon = lon
	c.mu.Unlock()

	if added > 0 || removed > 0 {
		c.logr.Info("regions reoptimized",
			zap.Int("candidates", len(candidates)),
			zap.Int("added", added), zap.Int("removed", removed))
	}
}

// resumeRegions re-issues monitoring for the persisted registered set so the
// platform state matches ours after a process restart.
func (c *Controller) resumeRegions() {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor == nil {
		return
	}

	regions, err := c.regions.GetRegisteredRegions()
	if err != nil {
		c.logr.Warn("failed to load regions for resume", zap.Error(err))
		return
	}

	for _, reg := range regions {
		if err := monitor.StartMonitoring(reg); err != nil {
			c.logr.Warn("failed to resume region",
				zap.String("identifier", reg.Identifier), zap.Error(err))
			if delErr := c.regions.DeleteRegion(reg.Identifier); delErr != nil {
				c.logr.Warn("failed to drop unresumable region", zap.Error(delErr))
			}
		}
	}
}

func (c *Controller) resolvePayload(identifier string, station models.Station, known bool) models.RegionPayload {
	if known {
		return models.RegionPayload{
			StationID:   station.ID,
			StationName: station.Name,
			Line:        station.Line,
		}
	}

	// Catalog may have gone stale since registration; fall back to the
	// payload stored with the region.
	regions, err := c.regions.GetRegisteredRegions()
	if err != nil {
		return models.RegionPayload{}
	}
	for _, reg := range regions {
		if reg.Identifier == identifier {
			return reg.Payload
		}
	}
	return models.RegionPayload{}
}

func (c *Controller) recordVisit(payload models.RegionPayload, ev RegionEvent) {
	if c.visits == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	visit := models.StationVisit{
		StationID:   payload.StationID,
		StationName: payload.StationName,
		ArrivedAt:   ev.Timestamp,
		Latitude:    ev.Latitude,
		Longitude:   ev.Longitude,
	}

	if c.weather != nil {
		if current, err := c.weather.Current(ctx, ev.Latitude, ev.Longitude); err == nil {
			visit.Weather = current
		} else {
			c.logr.Debug("weather enrichment unavailable", zap.Error(err))
		}
	}

	if err := c.visits.CreateVisit(ctx, visit); err != nil {
		c.logr.Warn("failed to record visit",
			zap.String("station", payload.StationName), zap.Error(err))
	}
}

func (c *Controller) enqueueEvent(payload models.RegionPayload, ev RegionEvent) {
	c.queue.Enqueue(models.PendingSyncEvent{
		StationID:   payload.StationID,
		StationName: payload.StationName,
		EventType:   ev.EventType,
		Latitude:    ev.Latitude,
		Longitude:   ev.Longitude,
		Timestamp:   ev.Timestamp,
	})
}

// refreshLoop keeps the profile's time-bucket fields current even without
// new samples.
func (c *Controller) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ProfileRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.analyzer.Refresh()
		}
	}
}

// noopMonitor stands in for the platform layer when only the persisted set
// matters (polling mode).
type noopMonitor struct{}

func (noopMonitor) StartMonitoring(models.RegisteredRegion) error { return nil }
func (noopMonitor) StopMonitoring(string) error                   { return nil }
