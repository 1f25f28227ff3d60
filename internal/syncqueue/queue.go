package syncqueue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
)

const (
	maxBackoff = 300 * time.Second
	chainDelay = 100 * time.Millisecond // gap between chained batches while draining
)

// Sender delivers one batch to the remote sink. Transport-level retries for
// transient failures live behind this interface.
type Sender interface {
	SendBatch(ctx context.Context, events []models.PendingSyncEvent) error
}

// FlushOutcome describes what a single flush pass did.
type FlushOutcome int

const (
	FlushIdle    FlushOutcome = iota // queue was empty
	FlushDrained                     // batch delivered, queue now empty
	FlushMore                        // batch delivered, events remain
	FlushFailed                      // delivery failed, queue unchanged
)

// Queue is the durable event sync queue. Enqueue always succeeds locally;
// delivery happens in the background in batches, as fast as connectivity
// allows. Events leave the queue only on sink acknowledgement or an explicit
// Clear.
type Queue struct {
	repo     *repository.EventRepository
	state    *repository.StateRepository
	sender   Sender
	logr     *zap.Logger
	deviceID string

	batchSize     int
	flushInterval time.Duration

	mu          sync.Mutex
	online      bool
	errorCount  int
	syncedTotal int64
	lastFlush   time.Time

	kick       chan struct{}
	onlineKick chan struct{} // connectivity restored; overrides a pending retry
}

// NewQueue creates a sync queue, restoring the synced-total counter from the
// device state store.
func NewQueue(repo *repository.EventRepository, state *repository.StateRepository,
	sender Sender, deviceID string, batchSize int, flushInterval time.Duration,
	logr *zap.Logger) *Queue {

	q := &Queue{
		repo:          repo,
		state:         state,
		sender:        sender,
		logr:          logr,
		deviceID:      deviceID,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
		onlineKick:    make(chan struct{}, 1),
	}

	if state != nil {
		total, err := state.GetInt64(repository.StateKeySyncedTotal)
		if err != nil {
			logr.Warn("failed to restore synced total", zap.Error(err))
		} else {
			q.syncedTotal = total
		}
	}

	return q
}

// Enqueue appends a detected event to the durable queue. It never blocks the
// detection pipeline: persistence errors are logged and swallowed. A flush is
// kicked off when online.
func (q *Queue) Enqueue(event models.PendingSyncEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.DeviceID == "" {
		event.DeviceID = q.deviceID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := q.repo.Append(event); err != nil {
		q.logr.Error("failed to enqueue event",
			zap.String("event_type", event.EventType),
			zap.Int64("station_id", event.StationID),
			zap.Error(err))
		return
	}

	q.logr.Debug("event queued",
		zap.String("event_type", event.EventType),
		zap.String("station", event.StationName))

	if q.Online() {
		q.requestFlush()
	}
}

// SetOnline records a connectivity transition. Going online kicks an
// immediate flush; going offline only updates status.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		q.logr.Info("connectivity restored, flushing queue")
		select {
		case q.onlineKick <- struct{}{}:
		default:
		}
	}
}

// Online reports the last known connectivity state.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Status returns an observable snapshot of the queue.
func (q *Queue) Status() models.SyncStatus {
	size, err := q.repo.Count()
	if err != nil {
		q.logr.Warn("failed to count queue", zap.Error(err))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return models.SyncStatus{
		QueueSize:   size,
		SyncedTotal: q.syncedTotal,
		ErrorCount:  q.errorCount,
		Online:      q.online,
		LastFlushAt: q.lastFlush,
	}
}

// Clear drops every queued event. This is the only code path that discards
// an unacknowledged event.
func (q *Queue) Clear() error {
	return q.repo.Clear()
}

// FlushOnce sends a single batch of up to batchSize oldest events.
func (q *Queue) FlushOnce(ctx context.Context) FlushOutcome {
	batch, err := q.repo.OldestBatch(q.batchSize)
	if err != nil {
		q.logr.Error("failed to read batch from queue", zap.Error(err))
		return q.fail()
	}
	if len(batch) == 0 {
		return FlushIdle
	}

	if err := q.sender.SendBatch(ctx, batch); err != nil {
		q.logr.Warn("batch delivery failed",
			zap.Int("batch_size", len(batch)), zap.Error(err))
		return q.fail()
	}

	ids := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
	}
	if err := q.repo.DeleteBatch(ids); err != nil {
		// The sink accepted the batch but removal failed; the events will be
		// resent and deduplicated by ID on the sink side.
		q.logr.Error("failed to remove delivered batch", zap.Error(err))
	}

	q.mu.Lock()
	q.syncedTotal += int64(len(batch))
	q.errorCount = 0
	q.lastFlush = time.Now()
	total := q.syncedTotal
	q.mu.Unlock()

	if q.state != nil {
		if err := q.state.SetInt64(repository.StateKeySyncedTotal, total); err != nil {
			q.logr.Warn("failed to persist synced total", zap.Error(err))
		}
	}

	remaining, err := q.repo.Count()
	if err != nil {
		q.logr.Warn("failed to count remaining events", zap.Error(err))
		return FlushDrained
	}

	q.logr.Info("batch delivered",
		zap.Int("batch_size", len(batch)), zap.Int("remaining", remaining))

	if remaining > 0 {
		return FlushMore
	}
	return FlushDrained
}

// Run owns the flush schedule: the periodic tick, enqueue/online kicks,
// drain chaining, and failure backoff. Cancelling ctx stops all of them.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	var wake <-chan time.Time // pending chain or retry
	retryPending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed flush schedules exactly one retry; the periodic tick
			// must not cut the backoff short.
			if retryPending {
				continue
			}
		case <-q.kick:
			if retryPending {
				continue
			}
		case <-q.onlineKick:
			// The sink may have come back with the failure; don't sit out the
			// rest of the backoff window.
			wake = nil
			retryPending = false
		case <-wake:
			wake = nil
			retryPending = false
		}

		if !q.Online() {
			continue
		}

		switch q.FlushOnce(ctx) {
		case FlushMore:
			wake = time.After(chainDelay)
		case FlushFailed:
			wake = time.After(q.retryDelay())
			retryPending = true
		}
	}
}

func (q *Queue) fail() FlushOutcome {
	q.mu.Lock()
	q.errorCount++
	q.mu.Unlock()
	return FlushFailed
}

// retryDelay computes the current exponential backoff, capped at five
// minutes.
func (q *Queue) retryDelay() time.Duration {
	q.mu.Lock()
	errors := q.errorCount
	q.mu.Unlock()

	if errors <= 0 {
		return time.Second
	}

	seconds := math.Pow(2, float64(errors))
	delay := time.Duration(seconds) * time.Second
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func (q *Queue) requestFlush() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}
