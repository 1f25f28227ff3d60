package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
	"github.com/stationtracker/tracker-core-go/pkg/response"
)

// maxBufferedEvents caps the inspection buffer, matching the event cap the
// mobile plugin kept on-device.
const maxBufferedEvents = 100

// SinkHandler implements the remote-sink wire contract the tracker core
// POSTs to. It backs the development sink; the production backend exposes
// the same two routes.
type SinkHandler struct {
	visits *repository.VisitRepository
	logr   *zap.Logger

	mu       sync.Mutex
	received []models.PendingSyncEvent // newest first
	seen     map[string]bool           // event IDs, for redelivery dedup
}

// NewSinkHandler creates a sink handler.
func NewSinkHandler(visits *repository.VisitRepository, logr *zap.Logger) *SinkHandler {
	return &SinkHandler{
		visits: visits,
		logr:   logr,
		seen:   make(map[string]bool),
	}
}

// PostGeofenceEvents accepts a sync batch. Enter events open visits, exit
// events close the matching open visit and derive its duration. Redelivered
// event IDs are acknowledged without reprocessing.
func (h *SinkHandler) PostGeofenceEvents(c *gin.Context) {
	var batch models.SyncBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		response.BadRequest(c, "invalid batch payload")
		return
	}

	for _, event := range batch.Events {
		if h.alreadySeen(event.ID) {
			continue
		}
		h.buffer(event)

		switch event.EventType {
		case models.EventEnter:
			_, err := h.visits.Create(models.StationVisit{
				StationID:   event.StationID,
				StationName: event.StationName,
				ArrivedAt:   event.Timestamp,
				Latitude:    event.Latitude,
				Longitude:   event.Longitude,
			})
			if err != nil {
				h.logr.Error("failed to store visit from event", zap.Error(err))
			}
		case models.EventExit:
			open, err := h.visits.OpenVisit(event.StationID)
			if err != nil {
				h.logr.Error("failed to look up open visit", zap.Error(err))
				continue
			}
			if open == nil {
				continue
			}
			if err := h.visits.Close(open.ID, event.Timestamp); err != nil {
				h.logr.Error("failed to close visit", zap.Error(err))
			}
		}
	}

	c.JSON(http.StatusOK, models.SyncResponse{Success: true})
}

// PostStationVisits accepts a directly recorded visit.
func (h *SinkHandler) PostStationVisits(c *gin.Context) {
	var visit models.StationVisit
	if err := c.ShouldBindJSON(&visit); err != nil {
		response.BadRequest(c, "invalid visit payload")
		return
	}
	if visit.StationID == 0 {
		response.BadRequest(c, "station is required")
		return
	}

	if _, err := h.visits.Create(visit); err != nil {
		h.logr.Error("failed to store visit", zap.Error(err))
		response.InternalError(c, "failed to store visit")
		return
	}

	c.JSON(http.StatusOK, models.SyncResponse{Success: true})
}

// GetVisitStats serves the aggregate visit view.
func (h *SinkHandler) GetVisitStats(c *gin.Context) {
	stats, err := h.visits.Stats()
	if err != nil {
		h.logr.Error("failed to aggregate visits", zap.Error(err))
		response.InternalError(c, "failed to aggregate visits")
		return
	}
	response.Success(c, stats)
}

// GetEvents lists the most recently received events for inspection.
func (h *SinkHandler) GetEvents(c *gin.Context) {
	h.mu.Lock()
	events := append([]models.PendingSyncEvent(nil), h.received...)
	h.mu.Unlock()
	response.Success(c, events)
}

func (h *SinkHandler) alreadySeen(id string) bool {
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen[id] {
		return true
	}
	h.seen[id] = true
	return false
}

func (h *SinkHandler) buffer(event models.PendingSyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append([]models.PendingSyncEvent{event}, h.received...)
	if len(h.received) > maxBufferedEvents {
		h.received = h.received[:maxBufferedEvents]
	}
}
