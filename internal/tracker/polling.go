package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/spatial"
)

// pollLoop is the fallback detection mode: periodic location fixes checked
// against the registered set, synthesizing the enter/exit transitions the
// platform layer would otherwise deliver.
func (c *Controller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context) {
	c.mu.Lock()
	if !c.active || c.mode != models.ModePolling {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	fixCtx, cancel := context.WithTimeout(ctx, c.cfg.PollingInterval)
	sample, err := c.locator.CurrentLocation(fixCtx)
	cancel()
	if err != nil {
		c.logr.Debug("polling location fix failed", zap.Error(err))
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	c.ProcessFix(sample)
}

// ProcessFix runs one fallback detection pass for an externally supplied fix:
// the location update plus transition checks against the registered set.
// Embedders without a Locator feed fixes through here.
func (c *Controller) ProcessFix(sample models.LocationSample) {
	c.HandleLocation(sample)
	c.checkTransitions(sample)
}

// checkTransitions compares the fix against every registered region. Station
// geometry is preferred (polygon or the 100 m fallback); when the catalog no
// longer knows the station, the region's own circle decides.
func (c *Controller) checkTransitions(sample models.LocationSample) {
	regions, err := c.regions.GetRegisteredRegions()
	if err != nil {
		c.logr.Warn("failed to load regions for polling check", zap.Error(err))
		return
	}
	entered, err := c.regions.GetEnteredRegions()
	if err != nil {
		c.logr.Warn("failed to load entered set for polling check", zap.Error(err))
		return
	}

	c.mu.Lock()
	byIdent := c.stationByIdent
	c.mu.Unlock()

	for _, reg := range regions {
		var inside bool
		if station, ok := byIdent[reg.Identifier]; ok {
			inside = station.Contains(sample.Latitude, sample.Longitude)
		} else {
			dist := spatial.HaversineDistance(sample.Latitude, sample.Longitude,
				reg.Latitude, reg.Longitude)
			inside = dist <= reg.Radius
		}

		wasInside := entered[reg.Identifier]
		switch {
		case inside && !wasInside:
			c.HandleRegionEvent(RegionEvent{
				Identifier: reg.Identifier,
				EventType:  models.EventEnter,
				Latitude:   sample.Latitude,
				Longitude:  sample.Longitude,
				Timestamp:  sample.Timestamp,
			})
		case !inside && wasInside:
			c.HandleRegionEvent(RegionEvent{
				Identifier: reg.Identifier,
				EventType:  models.EventExit,
				Latitude:   sample.Latitude,
				Longitude:  sample.Longitude,
				Timestamp:  sample.Timestamp,
			})
		}
	}
}
