package tracker

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
	"github.com/stationtracker/tracker-core-go/internal/syncqueue"
)

const degPerMeter = 1.0 / 111195

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		MaxRegions:           20,
		DisplacementTriggerM: 1000,
		PollingInterval:      time.Hour,
		ProfileRefreshEvery:  time.Hour,
		SyncFlushInterval:    time.Hour,
		SyncBatchSize:        50,
	}
}

// staticCatalog serves a fixed station list, or an error.
type staticCatalog struct {
	stations []models.Station
	err      error
}

func (c staticCatalog) FetchAllStations(context.Context) ([]models.Station, error) {
	return c.stations, c.err
}

// recordingMonitor is a fake platform geofencing layer.
type recordingMonitor struct {
	mu      sync.Mutex
	active  map[string]models.RegisteredRegion
	started int
	stopped int
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{active: make(map[string]models.RegisteredRegion)}
}

func (m *recordingMonitor) StartMonitoring(region models.RegisteredRegion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[region.Identifier] = region
	m.started++
	return nil
}

func (m *recordingMonitor) StopMonitoring(identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, identifier)
	m.stopped++
	return nil
}

func (m *recordingMonitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// collectingSink records visits.
type collectingSink struct {
	mu     sync.Mutex
	visits []models.StationVisit
	err    error
}

func (s *collectingSink) CreateVisit(_ context.Context, visit models.StationVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.visits = append(s.visits, visit)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visits)
}

// discardSender accepts every batch.
type discardSender struct{}

func (discardSender) SendBatch(context.Context, []models.PendingSyncEvent) error { return nil }

func stationNear(id int64, lat, lon float64) models.Station {
	return models.Station{ID: id, Name: "駅", Latitude: lat, Longitude: lon, Line: "JR山手線"}
}

type testRig struct {
	controller *Controller
	monitor    *recordingMonitor
	sink       *collectingSink
	queue      *syncqueue.Queue
	db         *sql.DB
}

func newTestRig(t *testing.T, stations []models.Station, withMonitor bool) *testRig {
	t.Helper()
	db := testDB(t)
	cfg := testConfig()
	queue := syncqueue.NewQueue(
		repository.NewEventRepository(db),
		repository.NewStateRepository(db),
		discardSender{}, "dev-1", cfg.SyncBatchSize, cfg.SyncFlushInterval, zap.NewNop())

	monitor := newRecordingMonitor()
	sink := &collectingSink{}

	opts := Options{
		Config:  cfg,
		DB:      db,
		Catalog: staticCatalog{stations: stations},
		Visits:  sink,
		Queue:   queue,
		Logger:  zap.NewNop(),
	}
	if withMonitor {
		opts.Monitor = monitor
	}

	rig := &testRig{
		controller: NewController(opts),
		monitor:    monitor,
		sink:       sink,
		queue:      queue,
		db:         db,
	}
	t.Cleanup(rig.controller.Stop)
	return rig
}

func sampleAt(lat, lon float64, at time.Time) models.LocationSample {
	return models.LocationSample{Latitude: lat, Longitude: lon, Timestamp: at}
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestStartSelectsModeFromMonitor(t *testing.T) {
	native := newTestRig(t, nil, true)
	if err := native.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if mode := native.controller.Status().Mode; mode != models.ModeNative {
		t.Errorf("mode with monitor = %s, want native", mode)
	}

	polling := newTestRig(t, nil, false)
	if err := polling.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if mode := polling.controller.Status().Mode; mode != models.ModePolling {
		t.Errorf("mode without monitor = %s, want polling", mode)
	}
}

func TestStartDegradesWithoutCatalog(t *testing.T) {
	db := testDB(t)
	cfg := testConfig()
	queue := syncqueue.NewQueue(
		repository.NewEventRepository(db),
		repository.NewStateRepository(db),
		discardSender{}, "dev-1", 50, time.Hour, zap.NewNop())

	c := NewController(Options{
		Config:  cfg,
		DB:      db,
		Catalog: staticCatalog{err: errors.New("backend down")},
		Queue:   queue,
		Logger:  zap.NewNop(),
	})
	t.Cleanup(c.Stop)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("catalog outage must not fail Start: %v", err)
	}

	// With no stations the optimizer registers nothing but tracking runs.
	c.HandleLocation(sampleAt(35.68, 139.76, base))
	if status := c.Status(); !status.Active || status.RegionCount != 0 {
		t.Errorf("degraded status = %+v", status)
	}
}

func TestLocationTriggersRegionRegistration(t *testing.T) {
	stations := []models.Station{
		stationNear(1, 35.6812, 139.7671),
		stationNear(2, 35.6919, 139.7709),
	}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	if got := rig.monitor.count(); got != 2 {
		t.Errorf("monitoring %d regions, want 2", got)
	}
	if status := rig.controller.Status(); status.RegionCount != 2 {
		t.Errorf("status region count = %d", status.RegionCount)
	}
}

func TestDisplacementGate(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))
	startedAfterFirst := rig.monitor.started

	// 200 m away: under the 1 km trigger, no new optimization pass.
	rig.controller.HandleLocation(sampleAt(35.6812+200*degPerMeter, 139.7671, base.Add(time.Minute)))
	if rig.monitor.started != startedAfterFirst {
		t.Error("sub-threshold movement triggered re-optimization")
	}

	// 1.5 km away: the gate opens.
	rig.controller.HandleLocation(sampleAt(35.6812+1500*degPerMeter, 139.7671, base.Add(2*time.Minute)))
	rig.controller.mu.Lock()
	movedAnchor := rig.controller.lastOptLat
	rig.controller.mu.Unlock()
	if movedAnchor == 35.6812 {
		t.Error("super-threshold movement did not move the optimization anchor")
	}
}

func TestEnterEventRecordsVisitAndQueues(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	rig.controller.HandleRegionEvent(RegionEvent{
		Identifier: "station-1",
		EventType:  models.EventEnter,
		Latitude:   35.6812,
		Longitude:  139.7671,
		Timestamp:  base,
	})

	if rig.sink.count() != 1 {
		t.Errorf("recorded %d visits, want 1", rig.sink.count())
	}
	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Errorf("queued %d events, want 1", size)
	}
}

func TestDuplicateEnterDropped(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	enter := RegionEvent{
		Identifier: "station-1", EventType: models.EventEnter,
		Latitude: 35.6812, Longitude: 139.7671, Timestamp: base,
	}
	rig.controller.HandleRegionEvent(enter)
	rig.controller.HandleRegionEvent(enter)

	if rig.sink.count() != 1 {
		t.Errorf("duplicate enter recorded %d visits, want 1", rig.sink.count())
	}
	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Errorf("duplicate enter queued %d events, want 1", size)
	}
}

func TestExitWithoutEnterDropped(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	rig.controller.HandleRegionEvent(RegionEvent{
		Identifier: "station-1", EventType: models.EventExit,
		Latitude: 35.6812, Longitude: 139.7671, Timestamp: base,
	})

	if size := rig.queue.Status().QueueSize; size != 0 {
		t.Errorf("exit without enter queued %d events", size)
	}
}

func TestEnterExitCycle(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	cycle := []string{models.EventEnter, models.EventExit, models.EventEnter, models.EventExit}
	for i, eventType := range cycle {
		rig.controller.HandleRegionEvent(RegionEvent{
			Identifier: "station-1", EventType: eventType,
			Latitude: 35.6812, Longitude: 139.7671,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
		})
	}

	// Two full visits, four queued events.
	if rig.sink.count() != 2 {
		t.Errorf("recorded %d visits, want 2", rig.sink.count())
	}
	if size := rig.queue.Status().QueueSize; size != 4 {
		t.Errorf("queued %d events, want 4", size)
	}
}

func TestEventForUnknownRegionDropped(t *testing.T) {
	rig := newTestRig(t, nil, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	rig.controller.HandleRegionEvent(RegionEvent{
		Identifier: "station-999", EventType: models.EventEnter, Timestamp: base,
	})

	if size := rig.queue.Status().QueueSize; size != 0 {
		t.Errorf("unknown region queued %d events", size)
	}
}

func TestVisitSinkFailureDoesNotBlockEventQueue(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	rig.sink.err = errors.New("sink down")
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	rig.controller.HandleRegionEvent(RegionEvent{
		Identifier: "station-1", EventType: models.EventEnter,
		Latitude: 35.6812, Longitude: 139.7671, Timestamp: base,
	})

	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Errorf("visit failure blocked the event queue: %d queued", size)
	}
}

func TestStopTearsDownRegions(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	rig.controller.Stop()

	if got := rig.monitor.count(); got != 0 {
		t.Errorf("%d regions still monitored after Stop", got)
	}
	status := rig.controller.Status()
	if status.Active || status.Mode != models.ModeDisabled {
		t.Errorf("status after Stop = %+v", status)
	}

	// Second Stop is a no-op.
	rig.controller.Stop()
}

func TestRestartResumesPersistedRegions(t *testing.T) {
	db := testDB(t)
	cfg := testConfig()
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}

	newQueue := func() *syncqueue.Queue {
		return syncqueue.NewQueue(
			repository.NewEventRepository(db),
			repository.NewStateRepository(db),
			discardSender{}, "dev-1", 50, time.Hour, zap.NewNop())
	}

	monitor := newRecordingMonitor()
	first := NewController(Options{
		Config: cfg, DB: db,
		Catalog: staticCatalog{stations: stations},
		Monitor: monitor, Queue: newQueue(), Logger: zap.NewNop(),
	})
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.HandleLocation(sampleAt(35.6812, 139.7671, base))
	if monitor.count() != 1 {
		t.Fatal("no region registered before restart")
	}
	// Process dies without Stop: the persisted set survives.
	first.cancel()

	freshMonitor := newRecordingMonitor()
	second := NewController(Options{
		Config: cfg, DB: db,
		Catalog: staticCatalog{stations: stations},
		Monitor: freshMonitor, Queue: newQueue(), Logger: zap.NewNop(),
	})
	t.Cleanup(second.Stop)
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if freshMonitor.count() != 1 {
		t.Errorf("restart resumed %d regions, want 1", freshMonitor.count())
	}
}

func TestPermissionDeniedDowngradesToPolling(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, true)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.HandleLocation(sampleAt(35.6812, 139.7671, base))

	rig.controller.OnPermissionDenied()

	status := rig.controller.Status()
	if status.Mode != models.ModePolling {
		t.Errorf("mode after denial = %s, want polling", status.Mode)
	}
	if !status.Active {
		t.Error("tracking should stay active in fallback mode")
	}
	if rig.monitor.count() != 0 {
		t.Errorf("%d native fences left after denial", rig.monitor.count())
	}

	// Detection still works through the polling path.
	rig.controller.ProcessFix(sampleAt(35.6812, 139.7671, base.Add(time.Minute)))
	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Errorf("polling after denial queued %d events, want 1", size)
	}
}

func TestProcessFixSynthesizesTransitions(t *testing.T) {
	stations := []models.Station{stationNear(1, 35.6812, 139.7671)}
	rig := newTestRig(t, stations, false)
	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// First fix near the station registers the region and, being inside the
	// 100 m fallback fence, synthesizes the enter.
	rig.controller.ProcessFix(sampleAt(35.6812, 139.7671, base))
	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Fatalf("after inside fix: %d events queued, want 1 enter", size)
	}

	// Still inside: no duplicate.
	rig.controller.ProcessFix(sampleAt(35.6812, 139.7671, base.Add(time.Minute)))
	if size := rig.queue.Status().QueueSize; size != 1 {
		t.Errorf("staying inside queued extra events: %d", size)
	}

	// 300 m away: outside the fence, exit fires.
	rig.controller.ProcessFix(sampleAt(35.6812+300*degPerMeter, 139.7671, base.Add(2*time.Minute)))
	if size := rig.queue.Status().QueueSize; size != 2 {
		t.Errorf("after outside fix: %d events queued, want 2", size)
	}
}

func TestSubscribeReceivesStatusUpdates(t *testing.T) {
	rig := newTestRig(t, nil, true)
	ch := rig.controller.Subscribe()

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case status := <-ch:
		if !status.Active {
			t.Errorf("first status not active: %+v", status)
		}
	case <-time.After(time.Second):
		t.Fatal("no status published on Start")
	}
}

func TestSubscribeChannelClosedOnStop(t *testing.T) {
	rig := newTestRig(t, nil, true)
	ch := rig.controller.Subscribe()

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.controller.Stop()

	// Drain buffered snapshots; the channel must close so a ranging
	// subscriber terminates.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel still open after Stop")
		}
	}
}

// gateCatalog blocks FetchAllStations until released, signalling when the
// fetch begins.
type gateCatalog struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gateCatalog) FetchAllStations(context.Context) ([]models.Station, error) {
	close(c.entered)
	<-c.release
	return nil, nil
}

func TestStopDuringCatalogFetchAbortsStart(t *testing.T) {
	db := testDB(t)
	cfg := testConfig()
	queue := syncqueue.NewQueue(
		repository.NewEventRepository(db),
		repository.NewStateRepository(db),
		discardSender{}, "dev-1", 50, time.Hour, zap.NewNop())

	gate := &gateCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewController(Options{
		Config:  cfg,
		DB:      db,
		Catalog: gate,
		Queue:   queue,
		Logger:  zap.NewNop(),
	})
	t.Cleanup(c.Stop)

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	<-gate.entered
	c.Stop()
	close(gate.release)

	if err := <-done; err != nil {
		t.Fatalf("aborted Start returned error: %v", err)
	}
	if status := c.Status(); status.Active {
		t.Errorf("status active after Stop won the race: %+v", status)
	}

	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()
	if runCtx == nil || runCtx.Err() == nil {
		t.Error("run context not cancelled; background loops would leak")
	}
}
