package main

import (
	"net/http"

	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, authMW gin.HandlerFunc, m *auth.Manager) {
	h := a.handlers
	h.Auth = m

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Queue service callbacks (server to server). QUEUE_CALLBACK_SECRET gates them when set.
	r.POST("/callbacks/sms", h.QueueCallback(queue.ChannelSMS))
	r.POST("/callbacks/email", h.QueueCallback(queue.ChannelEmail))

	// Twilio webhooks (public). Signatures are checked when TWILIO_VALIDATE_SIGNATURE is set.
	r.POST("/webhooks/twilio/sms-status", a.twilio.HandleMessageStatus)
	r.POST("/webhooks/twilio/sms-inbound", a.twilio.HandleInboundMessage)

	// NOTE: placeholder login; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireWorkspace())
	{
		v1.GET("/me", h.Me)

		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", rbac.RequireAnyRole(rbac.CampaignWriters...), h.CreateCampaign)
			campaigns.GET("/:id", rbac.RequireAnyRole(rbac.CampaignReaders...), h.GetCampaign)
			campaigns.POST("/:id/dispatch", rbac.RequireAnyRole(rbac.CampaignWriters...), h.Dispatch)
			campaigns.GET("/:id/analytics", rbac.RequireAnyRole(rbac.CampaignReaders...), h.Analytics)
			campaigns.GET("/:id/report", rbac.RequireAnyRole(rbac.CampaignReaders...), h.Report)
		}

		v1.POST("/audience/preview", rbac.RequireAnyRole(rbac.CampaignReaders...), h.AudiencePreview)
	}
}
