package region

import (
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
)

// Monitor is the platform geofencing layer the registrar drives. Both calls
// may fail independently per region.
type Monitor interface {
	StartMonitoring(region models.RegisteredRegion) error
	StopMonitoring(identifier string) error
}

// Registrar applies region diffs against the monitoring layer and keeps the
// persisted registered set matched to what the platform confirmed. A partial
// failure never results in an optimistic full replace: only confirmed adds
// are persisted and only confirmed removes are deleted.
type Registrar struct {
	monitor Monitor
	repo    *repository.RegionRepository
	logr    *zap.Logger
}

// NewRegistrar creates a registrar.
func NewRegistrar(monitor Monitor, repo *repository.RegionRepository, logr *zap.Logger) *Registrar {
	return &Registrar{monitor: monitor, repo: repo, logr: logr}
}

// Apply issues the removals then the additions from the diff, persisting each
// confirmed change. Returns how many of each were confirmed.
func (r *Registrar) Apply(diff Diff) (added, removed int) {
	for _, identifier := range diff.ToRemove {
		if err := r.monitor.StopMonitoring(identifier); err != nil {
			r.logr.Warn("failed to stop monitoring region",
				zap.String("identifier", identifier), zap.Error(err))
			continue
		}
		if err := r.repo.DeleteRegion(identifier); err != nil {
			r.logr.Warn("failed to persist region removal",
				zap.String("identifier", identifier), zap.Error(err))
			continue
		}
		removed++
	}

	for _, reg := range diff.ToAdd {
		if err := r.monitor.StartMonitoring(reg); err != nil {
			r.logr.Warn("failed to start monitoring region",
				zap.String("identifier", reg.Identifier), zap.Error(err))
			continue
		}
		if err := r.repo.SaveRegion(reg); err != nil {
			r.logr.Warn("failed to persist registered region",
				zap.String("identifier", reg.Identifier), zap.Error(err))
			continue
		}
		added++
	}

	return added, removed
}

// TeardownAll removes every persisted region from the monitoring layer, used
// when tracking stops.
func (r *Registrar) TeardownAll() {
	regions, err := r.repo.GetRegisteredRegions()
	if err != nil {
		r.logr.Warn("failed to load regions for teardown", zap.Error(err))
		return
	}

	for _, reg := range regions {
		if err := r.monitor.StopMonitoring(reg.Identifier); err != nil {
			r.logr.Warn("failed to stop monitoring region during teardown",
				zap.String("identifier", reg.Identifier), zap.Error(err))
		}
		if err := r.repo.DeleteRegion(reg.Identifier); err != nil {
			r.logr.Warn("failed to delete region during teardown",
				zap.String("identifier", reg.Identifier), zap.Error(err))
		}
	}
}
