package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// CampaignAction is the input for campaign lifecycle audit records.
type CampaignAction struct {
	WorkspaceID string
	CampaignID  string
	ActorUserID string
	ActorRole   string
	IP          string
	Message     string
	Details     any
}

// LogCampaign records a campaign lifecycle event. Details is JSON-encoded into Metadata.
func (s *Service) LogCampaign(ctx context.Context, typ EventType, a CampaignAction) error {
	meta := ""
	if a.Details != nil {
		raw, err := json.Marshal(a.Details)
		if err != nil {
			return err
		}
		meta = string(raw)
	}
	return s.Append(ctx, Event{
		WorkspaceID: a.WorkspaceID,
		Type:        typ,
		ActorUserID: a.ActorUserID,
		ActorRole:   a.ActorRole,
		IPAddress:   a.IP,
		CampaignID:  a.CampaignID,
		Message:     a.Message,
		Metadata:    meta,
	})
}
