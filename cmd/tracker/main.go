package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/catalog"
	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/logger"
	"github.com/stationtracker/tracker-core-go/internal/models"
	"github.com/stationtracker/tracker-core-go/internal/repository"
	"github.com/stationtracker/tracker-core-go/internal/sink"
	"github.com/stationtracker/tracker-core-go/internal/syncqueue"
	"github.com/stationtracker/tracker-core-go/internal/tracker"
)

// tracker replays NDJSON location samples (stdin or a file argument) through
// the full detection pipeline against a running sink. Useful for exercising
// selection, transitions, and sync without a device.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logr := logger.New(cfg.Environment)
	defer logr.Sync()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logr.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logr.Fatal("failed to migrate database", zap.Error(err))
	}

	state := repository.NewStateRepository(db)
	deviceID, err := state.Get(repository.StateKeyDeviceID)
	if err != nil || deviceID == "" {
		deviceID = uuid.NewString()
		if err := state.Set(repository.StateKeyDeviceID, deviceID); err != nil {
			logr.Warn("failed to persist device id", zap.Error(err))
		}
	}

	var source catalog.Source
	if path := os.Getenv("CATALOG_PATH"); path != "" {
		source = catalog.FileSource{Path: path}
	} else {
		source = catalog.NewHTTPSource(cfg.SinkBaseURL, cfg.CatalogRequestTimeout)
	}
	source = catalog.NewCachedSource(source, repository.NewStationRepository(db), logr)

	client := sink.NewClient(cfg.SinkBaseURL, deviceID, cfg.DeviceSecret,
		cfg.SyncRequestTimeout, logr)
	queue := syncqueue.NewQueue(repository.NewEventRepository(db),
		state, client, deviceID, cfg.SyncBatchSize, cfg.SyncFlushInterval, logr)

	ctrl := tracker.NewController(tracker.Options{
		Config:  cfg,
		DB:      db,
		Catalog: source,
		Visits:  client,
		Queue:   queue,
		Logger:  logr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		logr.Fatal("failed to start tracking", zap.Error(err))
	}
	ctrl.SetOnline(true)

	input := os.Stdin
	if len(os.Args) > 1 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			logr.Fatal("failed to open replay file", zap.Error(err))
		}
		defer f.Close()
		input = f
	}

	scanner := bufio.NewScanner(input)
	var fixes int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sample models.LocationSample
		if err := json.Unmarshal(line, &sample); err != nil {
			logr.Warn("skipping malformed sample", zap.Error(err))
			continue
		}

		ctrl.ProcessFix(sample)
		fixes++
	}
	if err := scanner.Err(); err != nil {
		logr.Error("replay input failed", zap.Error(err))
	}

	status := ctrl.Status()
	logr.Info("replay finished",
		zap.Int("fixes", fixes),
		zap.Int("regions", status.RegionCount),
		zap.Int("queued", status.QueueSize))

	ctrl.Stop()
}
