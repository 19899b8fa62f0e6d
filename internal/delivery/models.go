package delivery

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("delivery: not found")
	ErrInvalidStatus     = errors.New("delivery: invalid status")
	ErrInvalidTransition = errors.New("delivery: invalid status transition")
	ErrWorkspaceRequired = errors.New("delivery: workspace_id is required")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Final reports whether no further transition is possible.
func (s Status) Final() bool { return s == StatusSent || s == StatusFailed }

// CanTransition reports whether a row in from may move to to. Writing the
// current status again is not a transition; repos treat it as a no-op.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusScheduled || to == StatusSent || to == StatusFailed
	case StatusScheduled:
		return to == StatusSent || to == StatusFailed
	}
	return false
}

// Key identifies one delivery. StepID is "" for single-message campaigns.
type Key struct {
	CampaignID  string `json:"campaign_id"`
	StepID      string `json:"step_id"`
	RecipientID string `json:"recipient_id"`
}

// Outcome is what the pipeline learned about one delivery.
type Outcome struct {
	Key
	MessageID string
	JobID     string
	Status    Status
	Error     string
}

type Row struct {
	Key
	WorkspaceID string    `json:"workspace_id"`
	MessageID   string    `json:"message_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rollup is the campaign_analytics snapshot. TotalSent counts scheduled and
// sent deliveries.
type Rollup struct {
	WorkspaceID    string    `json:"workspace_id"`
	CampaignID     string    `json:"campaign_id"`
	TotalPending   int       `json:"total_pending"`
	TotalScheduled int       `json:"total_scheduled"`
	TotalSent      int       `json:"total_sent"`
	TotalFailed    int       `json:"total_failed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func rollupFromCounts(workspaceID, campaignID string, counts map[Status]int, now time.Time) Rollup {
	return Rollup{
		WorkspaceID:    workspaceID,
		CampaignID:     campaignID,
		TotalPending:   counts[StatusPending],
		TotalScheduled: counts[StatusScheduled],
		TotalSent:      counts[StatusScheduled] + counts[StatusSent],
		TotalFailed:    counts[StatusFailed],
		UpdatedAt:      now,
	}
}
