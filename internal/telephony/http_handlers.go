package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/audit"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type StatusUpdater interface {
	ApplyCallback(ctx context.Context, messageID string, status delivery.Status, errMsg string) (delivery.Row, error)
}

type OptOutStore interface {
	WorkspaceForNumber(ctx context.Context, number string) (string, error)
	OptOut(ctx context.Context, workspaceID, phone, channel string) error
}

type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

// TwilioWebhookHandler turns Twilio SMS webhooks into delivery updates and
// opt-outs. Parsing and signature checks live here; state changes are
// delegated.
type TwilioWebhookHandler struct {
	Deliveries StatusUpdater
	OptOuts    OptOutStore
	Audit      Auditor

	AuthToken         string
	ValidateSignature bool
	// PublicBaseURL overrides scheme+host when computing the signed URL
	// (TLS terminated upstream).
	PublicBaseURL string
}

func (h TwilioWebhookHandler) verified(c *gin.Context) bool {
	if !h.ValidateSignature {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		return false
	}
	return ValidateSignature(h.AuthToken, h.requestURL(c), c.Request.PostForm, c.GetHeader(SignatureHeader))
}

func (h TwilioWebhookHandler) requestURL(c *gin.Context) string {
	if h.PublicBaseURL != "" {
		return strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

// HandleMessageStatus handles POST /webhooks/twilio/sms-status?message_id=...
func (h TwilioWebhookHandler) HandleMessageStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Deliveries == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delivery recorder not configured"})
		return
	}
	if !h.verified(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	form, err := ParseTwilioMessageStatus(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	messageID := c.Query("message_id")
	if messageID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message_id is required"})
		return
	}

	status, ok := form.DeliveryStatus()
	if !ok {
		log.Debug("twilio status ignored", "message_id", messageID, "status", form.MessageStatus)
		c.Status(http.StatusOK)
		return
	}
	errMsg := ""
	if status == delivery.StatusFailed {
		errMsg = form.FailureReason()
	}

	_, err = h.Deliveries.ApplyCallback(c.Request.Context(), messageID, status, errMsg)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown message"})
		return
	case errors.Is(err, delivery.ErrInvalidTransition):
		// late or repeated callback; acknowledge so Twilio stops retrying
		log.Info("twilio status out of order", "message_id", messageID, "status", form.MessageStatus)
	default:
		log.Error("apply twilio status failed", "message_id", messageID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.Status(http.StatusOK)
}

// HandleInboundMessage handles POST /webhooks/twilio/sms-inbound. Opt-out
// keywords unsubscribe the sender from the workspace owning the number.
func (h TwilioWebhookHandler) HandleInboundMessage(c *gin.Context) {
	log := logger.FromGin(c)

	if h.OptOuts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "opt-out store not configured"})
		return
	}
	if !h.verified(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	msg, err := ParseTwilioInboundMessage(c.Request)
	if err != nil {
		log.Warn("twilio inbound parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	reply := ""
	if msg.IsOptOut() {
		ctx := c.Request.Context()
		workspaceID, err := h.OptOuts.WorkspaceForNumber(ctx, msg.To)
		if err != nil {
			log.Warn("workspace resolution failed", "to", msg.To, "err", err)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
			return
		}
		if err := h.OptOuts.OptOut(ctx, workspaceID, msg.From, audience.OptOutChannelSMS); err != nil {
			log.Error("opt-out failed", "workspace_id", workspaceID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "opt-out failed"})
			return
		}
		if h.Audit != nil {
			meta, _ := json.Marshal(map[string]string{"phone": msg.From})
			if err := h.Audit.Append(ctx, audit.Event{
				WorkspaceID: workspaceID,
				Type:        audit.EventTypeContactOptedOut,
				Message:     "contact replied " + strings.ToUpper(strings.TrimSpace(msg.Body)),
				Metadata:    string(meta),
			}); err != nil {
				log.Warn("audit opt-out failed", "err", err)
			}
		}
		log.Info("contact opted out", "workspace_id", workspaceID)
		reply = OptOutReply
	}

	twiml, err := RenderMessageReply(reply)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
