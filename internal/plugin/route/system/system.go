package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/echoheir/echoheir-service/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up. The /api/health alias keeps the
			// frontend's health probe path working.
			health := func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "EchoHeir service is running"})
			}
			r.GET("/health", health)
			r.GET("/api/health", health)

			// Readiness: service has finished initializing
			r.GET("/ready", func(c *gin.Context) {
				if ready.Load() {
					c.JSON(http.StatusOK, gin.H{"status": "ready"})
				} else {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			// Prometheus metrics
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
