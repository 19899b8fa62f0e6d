// Package delivery records per-recipient delivery outcomes and keeps the
// campaign analytics snapshot in step with them.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"broadcast-platform/pkg/logger"
)

type Recorder struct {
	repo  Repository
	dirty DirtySet
	now   func() time.Time
}

// NewRecorder builds a Recorder. dirty may be nil when no reconciler runs.
func NewRecorder(repo Repository, dirty DirtySet) *Recorder {
	return &Recorder{repo: repo, dirty: dirty, now: time.Now}
}

// Record writes one outcome. Repeating an outcome already stored is a no-op.
func (r *Recorder) Record(ctx context.Context, workspaceID string, o Outcome) (Row, error) {
	if workspaceID == "" {
		return Row{}, ErrWorkspaceRequired
	}
	if o.CampaignID == "" || o.RecipientID == "" {
		return Row{}, fmt.Errorf("delivery: campaign_id and recipient_id are required")
	}
	if !o.Status.Valid() {
		return Row{}, fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	row, _, err := r.repo.Transition(ctx, Row{
		WorkspaceID: workspaceID,
		Key:         o.Key,
		MessageID:   o.MessageID,
		JobID:       o.JobID,
		Status:      o.Status,
		Error:       o.Error,
		UpdatedAt:   r.now().UTC(),
	})
	return row, err
}

// Rollup recomputes the campaign counts from delivery rows and stores them.
func (r *Recorder) Rollup(ctx context.Context, workspaceID, campaignID string) (Rollup, error) {
	if workspaceID == "" {
		return Rollup{}, ErrWorkspaceRequired
	}
	counts, err := r.repo.CountByStatus(ctx, workspaceID, campaignID)
	if err != nil {
		return Rollup{}, err
	}
	return r.repo.SaveRollup(ctx, rollupFromCounts(workspaceID, campaignID, counts, r.now().UTC()))
}

// Analytics returns the stored snapshot, computing it on first access.
func (r *Recorder) Analytics(ctx context.Context, workspaceID, campaignID string) (Rollup, error) {
	ro, err := r.repo.GetRollup(ctx, workspaceID, campaignID)
	if errors.Is(err, ErrNotFound) {
		return r.Rollup(ctx, workspaceID, campaignID)
	}
	return ro, err
}

// ApplyCallback moves the delivery identified by messageID to status and
// marks its campaign for reconciliation. An out-of-order callback returns
// ErrInvalidTransition and changes nothing.
func (r *Recorder) ApplyCallback(ctx context.Context, messageID string, status Status, errMsg string) (Row, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Row{}, ErrNotFound
	}
	if !status.Valid() || status == StatusPending {
		return Row{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	cur, err := r.repo.GetByMessageID(ctx, messageID)
	if err != nil {
		return Row{}, err
	}
	if status != StatusFailed {
		errMsg = ""
	}
	row, changed, err := r.repo.Transition(ctx, Row{
		WorkspaceID: cur.WorkspaceID,
		Key:         cur.Key,
		Status:      status,
		Error:       errMsg,
		UpdatedAt:   r.now().UTC(),
	})
	if err != nil {
		return row, err
	}
	if changed && r.dirty != nil {
		if err := r.dirty.Mark(ctx, cur.WorkspaceID, cur.CampaignID); err != nil {
			logger.From(ctx).Warn("mark campaign dirty failed", "campaign_id", cur.CampaignID, "err", err)
		}
	}
	return row, nil
}
