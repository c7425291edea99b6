package main

import (
	"database/sql"
	"time"

	"callsight/internal/anomaly"
	"callsight/internal/auth"
	"callsight/internal/gateway"
	"callsight/internal/httpapi"
	"callsight/internal/ingest"
	"callsight/internal/observability"
	"callsight/internal/rbac"
	"callsight/internal/records"
	"callsight/internal/registry"
	"callsight/internal/reporting"
	"callsight/internal/strategy"
	"callsight/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	Auth      *auth.Manager
	Registry  *registry.Registry
	Strategy  *strategy.Engine
	Records   records.Store
	Reporting *reporting.Service
	Ingest    ingest.Handlers
	Gateway   *gateway.Gateway
	Anomalies *anomaly.MemoryRepo
	DB        *sql.DB
	Redis     *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.DB, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	webhooks := r.Group("/webhooks/telephony")
	{
		webhooks.POST("/status", deps.Ingest.HandleStatus)
		webhooks.POST("/recording", deps.Ingest.HandleRecording)
		webhooks.POST("/conference", deps.Ingest.HandleConference)
		webhooks.POST("/transcription", deps.Ingest.HandleTranscription)
	}

	// Websocket gateway. Authentication happens inside the handler, before
	// the upgrade; the credential rides the token query param for browsers.
	r.GET("/ws", deps.Gateway.HandleWS)

	api := httpapi.Handlers{
		Auth:      deps.Auth,
		Registry:  deps.Registry,
		Strategy:  deps.Strategy,
		Records:   deps.Records,
		Reporting: deps.Reporting,
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", api.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// Live dashboard reads, open to every dashboard role.
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			calls.GET("/live", api.ListLiveCalls)
			calls.GET("/:call_id", api.GetCall)
			calls.GET("/:call_id/strategy", api.GetStrategy)
			calls.GET("/:call_id/requirements", api.GetRequirements)
		}

		// History and reporting are supervisor surfaces.
		history := v1.Group("/calls")
		history.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			history.GET("/history", api.ListCallHistory)
			history.GET("/summary", api.CallsSummary)
		}

		// Ingestion anomaly log for operators.
		v1.GET("/anomalies", rbac.RequireAnyRole(rbac.RoleSupervisor), func(c *gin.Context) {
			events := deps.Anomalies.Events()
			c.JSON(200, gin.H{"anomalies": events, "count": len(events)})
		})
	}
}
