package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/auth"
	"github.com/stationtracker/tracker-core-go/pkg/response"
)

// ContextDeviceID is the gin context key holding the verified device ID.
const ContextDeviceID = "device_id"

// DeviceAuth verifies the device token on incoming sink requests. With an
// empty secret the middleware passes everything through, so local setups run
// without tokens.
func DeviceAuth(secret string, logr *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Unauthorized(c, "missing device token")
			c.Abort()
			return
		}

		deviceID, err := auth.VerifyDeviceToken(secret, token)
		if err != nil {
			logr.Warn("device token rejected", zap.Error(err))
			response.Unauthorized(c, "invalid device token")
			c.Abort()
			return
		}

		c.Set(ContextDeviceID, deviceID)
		c.Next()
	}
}
