// Package server exposes the collector's small admin surface: a health
// check and manual trigger endpoints for the scheduled tick and the
// credential-stats sync, guarded by the same management key the
// fetcher itself authenticates to upstream with.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cliproxy-dash/usage-collector/internal/collector"
	"github.com/cliproxy-dash/usage-collector/internal/logging"
)

// Dependencies bundles everything the HTTP surface needs.
type Dependencies struct {
	Collector     *collector.Collector
	ManagementKey string
}

// New builds the gin engine for the collector's admin API.
func New(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(requestID(), ginLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := r.Group("/api/collector")
	admin.Use(managementAuth(deps.ManagementKey))
	{
		admin.POST("/trigger", func(c *gin.Context) {
			deps.Collector.RequestTick(c.Request.Context())
			c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
		})

		admin.POST("/credential-stats/sync", func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
			defer cancel()

			if err := deps.Collector.SyncCredentialsOnly(ctx); err != nil {
				logging.WithReq(c, nil).WithError(err).Error("credential-stats sync failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "synced"})
		})
	}

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		logging.WithReq(c, map[string]interface{}{
			"status":      status,
			"duration_ms": logging.DurationMS(time.Since(start)),
			"kind":        logging.ErrorKind(status, len(c.Errors) > 0),
		}).Info("request handled")
	}
}

// managementAuth requires either "Authorization: Bearer <key>" or
// "X-Management-Key: <key>" matching the configured management key,
// mirroring the two auth shapes the fetcher itself sends upstream.
func managementAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Management-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				provided = auth[7:]
			}
		}

		if provided != key {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
