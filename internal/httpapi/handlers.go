package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/campaigns"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/rbac"
	"broadcast-platform/internal/reporting"
	"broadcast-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	defaultPreviewLimit = 20
	maxPreviewLimit     = 200
	defaultReportWindow = 30 * 24 * time.Hour
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Campaigns    *campaigns.Service
	Orchestrator *campaigns.Orchestrator
	Deliveries   *delivery.Recorder
	Reports      *reporting.Service
	Audience     *audience.Service

	// CallbackSecret, when set, must arrive with every queue callback in the
	// X-Callback-Token header or the token query parameter.
	CallbackSecret string

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	wid, _ := auth.WorkspaceID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
}

// --- Queue callbacks ---

// QueueCallback handles POST /callbacks/sms and /callbacks/email.
func (h Handlers) QueueCallback(channel queue.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c).With("channel", string(channel))
		if !h.callbackAuthorized(c) {
			log.Warn("queue callback rejected", "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
			return
		}
		if h.Deliveries == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delivery recorder not configured"})
			return
		}
		var req queueCallback
		if !bind(c, &req) {
			return
		}

		status, ok := callbackStatus(req.Status)
		if !ok {
			log.Debug("queue callback ignored", "message_id", req.Metadata.MessageID, "status", req.Status)
			c.Status(http.StatusOK)
			return
		}
		errMsg := ""
		if status == delivery.StatusFailed {
			errMsg = req.Error
		}

		_, err := h.Deliveries.ApplyCallback(c.Request.Context(), req.Metadata.MessageID, status, errMsg)
		switch {
		case err == nil:
		case errors.Is(err, delivery.ErrInvalidTransition):
			log.Info("queue callback out of order", "message_id", req.Metadata.MessageID, "job_id", req.JobID, "status", req.Status)
		case errors.Is(err, delivery.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown message"})
			return
		default:
			log.Error("apply queue callback failed", "message_id", req.Metadata.MessageID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
			return
		}
		c.Status(http.StatusOK)
	}
}

func (h Handlers) callbackAuthorized(c *gin.Context) bool {
	if h.CallbackSecret == "" {
		return true
	}
	tok := c.GetHeader("X-Callback-Token")
	if tok == "" {
		tok = c.Query("token")
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(h.CallbackSecret)) == 1
}

func callbackStatus(s string) (delivery.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "scheduled", "delayed":
		return delivery.StatusScheduled, true
	case "sent", "delivered", "completed":
		return delivery.StatusSent, true
	case "failed", "undelivered", "error":
		return delivery.StatusFailed, true
	}
	return "", false
}

// bind decodes the JSON body into req and runs its ozzo rules.
// It writes the 400 response itself and reports whether to continue.
func bind(c *gin.Context, req validation.ValidatableWithContext) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	if err := req.ValidateWithContext(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": err})
		return false
	}
	return true
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var ve *campaigns.ValidationError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, campaigns.ErrValidation), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, campaigns.ErrNotFound), errors.Is(err, delivery.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, campaigns.ErrDispatchInProgress), errors.Is(err, campaigns.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, audience.ErrWorkspaceRequired), errors.Is(err, delivery.ErrWorkspaceRequired):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
