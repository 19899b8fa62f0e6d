package campaigns

import (
	"context"
	"time"
)

type Repository interface {
	// Create stores c and its steps atomically.
	Create(ctx context.Context, c Campaign) error
	// Get returns the campaign with steps ordered by Order.
	Get(ctx context.Context, workspaceID, id string) (Campaign, error)
	// MarkDispatched moves a draft campaign to status and stamps sent_at.
	// It returns ErrInvalidTransition when the campaign is no longer a draft.
	MarkDispatched(ctx context.Context, workspaceID, id string, status Status, sentAt time.Time) error
}
