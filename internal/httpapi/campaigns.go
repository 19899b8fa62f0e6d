package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/reporting"
	"broadcast-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// identity pulls the caller's workspace and user from the request context.
func identity(c *gin.Context) (workspaceID, userID string, ok bool) {
	ctx := c.Request.Context()
	workspaceID, err := auth.WorkspaceID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", "", false
	}
	userID, _ = auth.UserID(ctx)
	return workspaceID, userID, true
}

// CreateCampaign handles POST /v1/campaigns. The campaign is stored as a draft.
func (h Handlers) CreateCampaign(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	workspaceID, userID, ok := identity(c)
	if !ok {
		return
	}
	var req createCampaignRequest
	if !bind(c, &req) {
		return
	}
	out, err := h.Campaigns.Create(c.Request.Context(), req.toCampaign(workspaceID, userID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Campaigns.Get(c.Request.Context(), workspaceID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Dispatch handles POST /v1/campaigns/:id/dispatch and blocks until every
// job has been submitted. A run that submitted jobs answers 200 with its
// summary even when some of them failed.
func (h Handlers) Dispatch(c *gin.Context) {
	if h.Orchestrator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sum, err := h.Orchestrator.Dispatch(ctx, workspaceID, c.Param("id"), auth.ActorFrom(ctx, c.ClientIP()))
	if err != nil && sum.Status == "" {
		writeError(c, err)
		return
	}
	body := gin.H{"summary": sum}
	if err != nil {
		logger.FromGin(c).Warn("dispatch completed with errors", "campaign_id", c.Param("id"), "err", err)
		body["warning"] = "dispatch completed with errors"
	}
	c.JSON(http.StatusOK, body)
}

func (h Handlers) Analytics(c *gin.Context) {
	if h.Deliveries == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delivery recorder not configured"})
		return
	}
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.Campaigns != nil {
		if _, err := h.Campaigns.Get(ctx, workspaceID, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
	}
	ro, err := h.Deliveries.Analytics(ctx, workspaceID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ro)
}

// Report handles GET /v1/campaigns/:id/report?from=&to= (RFC3339).
// The range defaults to the last 30 days.
func (h Handlers) Report(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}
	to := h.now().UTC()
	from := to.Add(-defaultReportWindow)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}

	rep, err := h.Reports.CampaignReport(c.Request.Context(), reporting.CampaignReportRequest{
		WorkspaceID: workspaceID,
		CampaignID:  c.Param("id"),
		Range:       reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// AudiencePreview handles POST /v1/audience/preview. The limit can come from
// the body or the ?limit= query.
func (h Handlers) AudiencePreview(c *gin.Context) {
	if h.Audience == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audience not configured"})
		return
	}
	workspaceID, _, ok := identity(c)
	if !ok {
		return
	}
	var req previewRequest
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		req.Limit = n
	}
	if !bind(c, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultPreviewLimit
	}

	a, err := h.Audience.Preview(c.Request.Context(), workspaceID, audience.Filter(req.AudienceCriteria), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if a.Recipients == nil {
		a.Recipients = []audience.Recipient{}
	}
	c.JSON(http.StatusOK, gin.H{"count": a.Count, "recipients": a.Recipients})
}
