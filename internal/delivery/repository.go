package delivery

import (
	"context"
	"time"
)

type Repository interface {
	// Transition inserts row or moves the stored row to row.Status.
	// changed is false when the stored status already equals row.Status.
	// A disallowed move returns ErrInvalidTransition.
	Transition(ctx context.Context, row Row) (stored Row, changed bool, err error)
	GetByMessageID(ctx context.Context, messageID string) (Row, error)
	CountByStatus(ctx context.Context, workspaceID, campaignID string) (map[Status]int, error)
	ListByCampaign(ctx context.Context, workspaceID, campaignID string, from, to time.Time) ([]Row, error)

	SaveRollup(ctx context.Context, r Rollup) (Rollup, error)
	GetRollup(ctx context.Context, workspaceID, campaignID string) (Rollup, error)
}

// merge applies next onto cur, keeping identifiers that next leaves empty.
func merge(cur, next Row) Row {
	out := cur
	out.Status = next.Status
	out.Error = next.Error
	out.UpdatedAt = next.UpdatedAt
	if next.MessageID != "" {
		out.MessageID = next.MessageID
	}
	if next.JobID != "" {
		out.JobID = next.JobID
	}
	return out
}
