package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/handler"
	"github.com/stationtracker/tracker-core-go/internal/middleware"
	"github.com/stationtracker/tracker-core-go/internal/repository"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, db *sql.DB, logr *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logr))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Station sink is running",
		})
	})

	sink := handler.NewSinkHandler(repository.NewVisitRepository(db), logr)

	// 同步接收接口（追踪端上传）
	ingest := r.Group("/")
	ingest.Use(middleware.DeviceAuth(cfg.DeviceSecret, logr))
	ingest.Use(middleware.RateLimit(120, time.Minute))
	{
		ingest.POST("/geofence-events", sink.PostGeofenceEvents)
		ingest.POST("/station-visits", sink.PostStationVisits)
	}

	// 查看接口（本地调试）
	api := r.Group("/api/v1")
	{
		api.GET("/events", sink.GetEvents)
		api.GET("/visits/stats", sink.GetVisitStats)
	}

	return r
}
