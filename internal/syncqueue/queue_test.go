package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
)

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

// fakeSender records delivered batches and can be told to fail.
type fakeSender struct {
	mu      sync.Mutex
	batches [][]models.PendingSyncEvent
	failing bool
}

func (s *fakeSender) SendBatch(_ context.Context, events []models.PendingSyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink unreachable")
	}
	batch := append([]models.PendingSyncEvent(nil), events...)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSender) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func newTestQueue(t *testing.T, sender Sender, batchSize int) *Queue {
	t.Helper()
	db := testDB(t)
	return NewQueue(
		repository.NewEventRepository(db),
		repository.NewStateRepository(db),
		sender, "dev-1", batchSize, time.Hour, zap.NewNop())
}

func enqueueN(q *Queue, n int) {
	for i := 0; i < n; i++ {
		q.Enqueue(models.PendingSyncEvent{
			StationID:   int64(i + 1),
			StationName: fmt.Sprintf("駅%d", i+1),
			EventType:   models.EventEnter,
		})
	}
}

func TestEnqueueFillsDefaults(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, sender, 50)

	q.Enqueue(models.PendingSyncEvent{StationID: 1, EventType: models.EventEnter})

	batch, err := q.repo.OldestBatch(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatal("event not queued")
	}
	ev := batch[0]
	if ev.ID == "" {
		t.Error("event ID not generated")
	}
	if ev.DeviceID != "dev-1" {
		t.Errorf("device ID = %q", ev.DeviceID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
}

func TestFlushOnceDrainsSmallQueue(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, sender, 50)

	enqueueN(q, 7)

	outcome := q.FlushOnce(context.Background())
	if outcome != FlushDrained {
		t.Fatalf("outcome = %v, want FlushDrained", outcome)
	}
	if sender.delivered() != 7 {
		t.Errorf("delivered %d events, want 7", sender.delivered())
	}

	status := q.Status()
	if status.QueueSize != 0 {
		t.Errorf("queue size = %d, want 0", status.QueueSize)
	}
	if status.SyncedTotal != 7 {
		t.Errorf("synced total = %d, want 7", status.SyncedTotal)
	}
	if status.ErrorCount != 0 {
		t.Errorf("error count = %d", status.ErrorCount)
	}
}

func TestFlushChainsBatchesUnderLoad(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, sender, 50)

	// 120 events: three successive batches of 50/50/20.
	enqueueN(q, 120)

	ctx := context.Background()
	if outcome := q.FlushOnce(ctx); outcome != FlushMore {
		t.Fatalf("first flush outcome = %v, want FlushMore", outcome)
	}
	if outcome := q.FlushOnce(ctx); outcome != FlushMore {
		t.Fatalf("second flush outcome = %v, want FlushMore", outcome)
	}
	if outcome := q.FlushOnce(ctx); outcome != FlushDrained {
		t.Fatalf("third flush outcome = %v, want FlushDrained", outcome)
	}

	if len(sender.batches) != 3 {
		t.Fatalf("sent %d batches, want 3", len(sender.batches))
	}
	sizes := []int{len(sender.batches[0]), len(sender.batches[1]), len(sender.batches[2])}
	if sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
		t.Errorf("batch sizes = %v, want [50 50 20]", sizes)
	}

	if status := q.Status(); status.SyncedTotal != 120 || status.QueueSize != 0 {
		t.Errorf("status after drain = %+v", status)
	}
}

func TestFlushPreservesFIFOAcrossBatches(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, sender, 10)

	enqueueN(q, 25)
	ctx := context.Background()
	for q.FlushOnce(ctx) == FlushMore {
	}

	var stationIDs []int64
	for _, b := range sender.batches {
		for _, ev := range b {
			stationIDs = append(stationIDs, ev.StationID)
		}
	}
	for i, id := range stationIDs {
		if id != int64(i+1) {
			t.Fatalf("delivery order broken at %d: %v", i, stationIDs)
		}
	}
}

func TestFlushFailureLeavesQueueIntact(t *testing.T) {
	sender := &fakeSender{failing: true}
	q := newTestQueue(t, sender, 50)

	enqueueN(q, 5)

	if outcome := q.FlushOnce(context.Background()); outcome != FlushFailed {
		t.Fatalf("outcome = %v, want FlushFailed", outcome)
	}

	status := q.Status()
	if status.QueueSize != 5 {
		t.Errorf("queue size after failure = %d, want 5", status.QueueSize)
	}
	if status.SyncedTotal != 0 {
		t.Errorf("synced total after failure = %d", status.SyncedTotal)
	}
	if status.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", status.ErrorCount)
	}

	// Recovery delivers the same events.
	sender.mu.Lock()
	sender.failing = false
	sender.mu.Unlock()

	if outcome := q.FlushOnce(context.Background()); outcome != FlushDrained {
		t.Fatal("recovery flush did not drain")
	}
	if sender.delivered() != 5 {
		t.Errorf("delivered %d after recovery, want 5", sender.delivered())
	}
	if q.Status().ErrorCount != 0 {
		t.Error("error count not reset on success")
	}
}

func TestRetryDelayBacksOffExponentially(t *testing.T) {
	sender := &fakeSender{failing: true}
	q := newTestQueue(t, sender, 50)
	enqueueN(q, 1)

	wants := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	for i, want := range wants {
		q.FlushOnce(context.Background())
		if got := q.retryDelay(); got != want {
			t.Errorf("delay after %d failures = %s, want %s", i+1, got, want)
		}
	}

	// Many more failures: the delay must cap at five minutes.
	for i := 0; i < 20; i++ {
		q.FlushOnce(context.Background())
	}
	if got := q.retryDelay(); got != maxBackoff {
		t.Errorf("delay after many failures = %s, want %s", got, maxBackoff)
	}
}

func TestFlushIdleOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t, &fakeSender{}, 50)
	if outcome := q.FlushOnce(context.Background()); outcome != FlushIdle {
		t.Errorf("outcome = %v, want FlushIdle", outcome)
	}
}

func TestSyncedTotalSurvivesRestart(t *testing.T) {
	db := testDB(t)
	events := repository.NewEventRepository(db)
	state := repository.NewStateRepository(db)
	sender := &fakeSender{}

	q := NewQueue(events, state, sender, "dev-1", 50, time.Hour, zap.NewNop())
	q.Enqueue(models.PendingSyncEvent{StationID: 1, EventType: models.EventEnter})
	q.FlushOnce(context.Background())

	if got := q.Status().SyncedTotal; got != 1 {
		t.Fatalf("synced total = %d", got)
	}

	// Same database, fresh queue: the counter comes back.
	q2 := NewQueue(events, state, sender, "dev-1", 50, time.Hour, zap.NewNop())
	if got := q2.Status().SyncedTotal; got != 1 {
		t.Errorf("restored synced total = %d, want 1", got)
	}
}

func TestQueueSurvivesRestartWithPendingEvents(t *testing.T) {
	db := testDB(t)
	events := repository.NewEventRepository(db)
	state := repository.NewStateRepository(db)

	failing := &fakeSender{failing: true}
	q := NewQueue(events, state, failing, "dev-1", 50, time.Hour, zap.NewNop())
	for i := 0; i < 3; i++ {
		q.Enqueue(models.PendingSyncEvent{StationID: int64(i + 1), EventType: models.EventEnter})
	}
	q.FlushOnce(context.Background())

	// Process restart while offline: the events are still there and flush on
	// the next connectivity window.
	working := &fakeSender{}
	q2 := NewQueue(events, state, working, "dev-1", 50, time.Hour, zap.NewNop())
	if outcome := q2.FlushOnce(context.Background()); outcome != FlushDrained {
		t.Fatal("restarted queue did not drain")
	}
	if working.delivered() != 3 {
		t.Errorf("delivered %d after restart, want 3", working.delivered())
	}
}

func TestRunFlushesOnConnectivityRestored(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, sender, 50)

	enqueueN(q, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	// Offline: nothing should move.
	time.Sleep(50 * time.Millisecond)
	if sender.delivered() != 0 {
		t.Fatal("events delivered while offline")
	}

	q.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.delivered() == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivered %d events after going online, want 3", sender.delivered())
}

func TestOnlineTransitionOverridesRetryBackoff(t *testing.T) {
	sender := &fakeSender{failing: true}
	q := newTestQueue(t, sender, 50)

	enqueueN(q, 1)

	// Pump the error counter so the next failure schedules a long retry.
	for i := 0; i < 8; i++ {
		q.FlushOnce(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	// Going online triggers a flush that fails and arms the capped backoff.
	q.SetOnline(true)
	deadline := time.Now().Add(2 * time.Second)
	for q.Status().ErrorCount < 9 {
		if time.Now().After(deadline) {
			t.Fatal("online transition did not trigger a flush attempt")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The sink recovers and connectivity bounces. Delivery must follow the
	// transition, not sit out minutes of remaining backoff.
	sender.mu.Lock()
	sender.failing = false
	sender.mu.Unlock()
	q.SetOnline(false)
	q.SetOnline(true)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.delivered() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("delivered %d events after reconnect, want 1", sender.delivered())
}

func TestClearDropsQueue(t *testing.T) {
	q := newTestQueue(t, &fakeSender{}, 50)
	enqueueN(q, 4)

	if err := q.Clear(); err != nil {
		t.Fatal(err)
	}
	if size := q.Status().QueueSize; size != 0 {
		t.Errorf("queue size after clear = %d", size)
	}
}
