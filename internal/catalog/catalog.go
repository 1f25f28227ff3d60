package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
)

// ErrCatalogUnavailable signals that no station catalog could be obtained,
// fresh or cached. The controller degrades to zero selected regions.
var ErrCatalogUnavailable = errors.New("station catalog unavailable")

// Source provides the station catalog.
type Source interface {
	FetchAllStations(ctx context.Context) ([]models.Station, error)
}

// HTTPSource fetches the catalog from the backend's stations endpoint.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP catalog source.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchAllStations retrieves the full catalog.
func (s *HTTPSource) FetchAllStations(ctx context.Context) ([]models.Station, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/stations/", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	var stations []models.Station
	if err := json.NewDecoder(resp.Body).Decode(&stations); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	return stations, nil
}

// FileSource loads the catalog from a JSON file, e.g. one written by the
// stationload tool.
type FileSource struct {
	Path string
}

// FetchAllStations reads and parses the catalog file.
func (s FileSource) FetchAllStations(_ context.Context) ([]models.Station, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	var stations []models.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return stations, nil
}

// CachedSource wraps another source with the persisted last-good catalog: a
// successful fetch refreshes the cache, a failed one falls back to it.
type CachedSource struct {
	inner Source
	repo  *repository.StationRepository
	logr  *zap.Logger
}

// NewCachedSource creates a caching catalog source.
func NewCachedSource(inner Source, repo *repository.StationRepository, logr *zap.Logger) *CachedSource {
	return &CachedSource{inner: inner, repo: repo, logr: logr}
}

// FetchAllStations fetches from the inner source, degrading to the cached
// catalog when the fetch fails. Only when both paths come up empty does the
// catalog count as unavailable.
func (s *CachedSource) FetchAllStations(ctx context.Context) ([]models.Station, error) {
	stations, err := s.inner.FetchAllStations(ctx)
	if err == nil {
		if cacheErr := s.repo.ReplaceAll(stations); cacheErr != nil {
			s.logr.Warn("failed to refresh station cache", zap.Error(cacheErr))
		}
		return stations, nil
	}

	s.logr.Warn("catalog fetch failed, trying cache", zap.Error(err))

	cached, cacheErr := s.repo.GetAll()
	if cacheErr != nil || len(cached) == 0 {
		return nil, err
	}

	s.logr.Info("using cached station catalog", zap.Int("stations", len(cached)))
	return cached, nil
}
