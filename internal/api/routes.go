package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, registry *prometheus.Registry) {
	// Health, readiness, and metrics
	router.GET("/health", handler.HealthCheck)
	router.GET("/ready", handler.ReadyCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		activities := v1.Group("/activities")
		{
			activities.GET("/:id", handler.GetActivity)          // GET /api/v1/activities/:id
			activities.POST("/:id/rerun", handler.RerunActivity) // POST /api/v1/activities/:id/rerun
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:id", handler.GetJob)            // GET /api/v1/jobs/:id
			jobs.POST("/:id/cancel", handler.CancelJob) // POST /api/v1/jobs/:id/cancel
		}

		services := v1.Group("/services")
		{
			services.GET("/:name", handler.GetServiceHealth) // GET /api/v1/services/:name
		}

		v1.GET("/cycle", handler.GetLastCycle) // GET /api/v1/cycle
	}
}
