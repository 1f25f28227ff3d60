package main

import (
	"go.uber.org/zap"

	"github.com/joho/godotenv"

	"github.com/stationtracker/tracker-core-go/internal/api"
	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/database"
	"github.com/stationtracker/tracker-core-go/internal/logger"
)

// sinkd is the development event sink: the HTTP counterparty the tracker
// core syncs against when no production backend is around.
func main() {
	_ = godotenv.Load()

	// 加载配置
	cfg := config.Load()

	logr := logger.New(cfg.Environment)
	defer logr.Sync()

	// 初始化数据库
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logr.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logr.Fatal("failed to migrate database", zap.Error(err))
	}

	// 初始化路由
	router := api.SetupRouter(cfg, db, logr)

	// 启动服务器
	logr.Info("sink starting", zap.String("port", cfg.Port))
	if err := router.Run(cfg.Port); err != nil {
		logr.Fatal("failed to start sink", zap.Error(err))
	}
}
