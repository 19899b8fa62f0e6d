// Package campaigns owns campaign definitions and runs their dispatch.
package campaigns

import (
	"context"
	"strings"
	"time"

	"broadcast-platform/internal/audit"
	"broadcast-platform/pkg/logger"

	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	audit Auditor
	now   func() time.Time
}

func NewService(repo Repository, auditor Auditor) *Service {
	return &Service{repo: repo, audit: auditor, now: time.Now}
}

// Create stores c as a draft. IDs, status and timestamps are assigned here.
func (s *Service) Create(ctx context.Context, c Campaign) (Campaign, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.WorkspaceID == "" {
		return Campaign{}, invalid("workspace_id", "is required")
	}
	if c.Name == "" {
		return Campaign{}, invalid("name", "is required")
	}
	if !c.Type.Valid() {
		return Campaign{}, invalid("type", "must be broadcast, sequence, drip or trigger")
	}
	if c.Type.MultiStep() && len(c.Steps) == 0 {
		return Campaign{}, invalid("steps", "at least one step is required")
	}
	if c.Channel != "" && !c.Channel.Valid() {
		return Campaign{}, invalid("channel", "must be sms or email")
	}

	now := s.now().UTC()
	c.ID = uuid.NewString()
	c.Status = StatusDraft
	c.SentAt = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	for i := range c.Steps {
		c.Steps[i].ID = uuid.NewString()
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}

	if s.audit != nil {
		if err := s.audit.LogCampaign(ctx, audit.EventTypeCampaignCreated, audit.CampaignAction{
			WorkspaceID: c.WorkspaceID,
			CampaignID:  c.ID,
			ActorUserID: c.CreatedBy,
			Message:     "campaign created",
		}); err != nil {
			logger.From(ctx).Warn("audit campaign_created failed", "campaign_id", c.ID, "err", err)
		}
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (Campaign, error) {
	if workspaceID == "" || id == "" {
		return Campaign{}, ErrNotFound
	}
	return s.repo.Get(ctx, workspaceID, id)
}
