package campaigns

import (
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/queue"
)

type Type string

const (
	TypeBroadcast Type = "broadcast"
	TypeSequence  Type = "sequence"
	TypeDrip      Type = "drip"
	TypeTrigger   Type = "trigger"
)

func (t Type) Valid() bool {
	switch t {
	case TypeBroadcast, TypeSequence, TypeDrip, TypeTrigger:
		return true
	}
	return false
}

// MultiStep reports whether the campaign sends its Steps rather than a single message.
func (t Type) MultiStep() bool { return t == TypeSequence || t == TypeDrip }

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Campaign is owned by a workspace. Only the orchestrator moves it out of
// draft; later transitions belong to other processes.
type Campaign struct {
	ID               string          `json:"id"`
	WorkspaceID      string          `json:"workspace_id"`
	CreatedBy        string          `json:"created_by"`
	Name             string          `json:"name"`
	Type             Type            `json:"type"`
	Status           Status          `json:"status"`
	Channel          queue.Channel   `json:"channel,omitempty"`
	Subject          string          `json:"subject,omitempty"`
	Content          string          `json:"content,omitempty"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	SentAt           *time.Time      `json:"sent_at,omitempty"`
	AudienceCriteria audience.Filter `json:"audience_criteria"`
	Steps            []Step          `json:"steps,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Step is one message of a sequence. WaitDays counts from the previous step.
// WaitUntilStart/End optionally restrict sends to a daily UTC window ("HH:MM").
type Step struct {
	ID             string        `json:"id"`
	Order          int           `json:"order"`
	Channel        queue.Channel `json:"channel,omitempty"`
	Subject        string        `json:"subject,omitempty"`
	Content        string        `json:"content"`
	WaitDays       int           `json:"wait_days"`
	WaitUntilStart string        `json:"wait_until_start,omitempty"`
	WaitUntilEnd   string        `json:"wait_until_end,omitempty"`
}

// Result is the outcome of one job, tagged with the delivery it belongs to.
type Result struct {
	Key       delivery.Key    `json:"key"`
	MessageID string          `json:"message_id"`
	JobID     string          `json:"job_id,omitempty"`
	Status    delivery.Status `json:"status"`
	Error     string          `json:"error,omitempty"`

	recordErr error
}

type Summary struct {
	SuccessCount   int    `json:"success_count"`
	FailureCount   int    `json:"failure_count"`
	TotalMessages  int    `json:"total_messages"`
	Status         Status `json:"status"`
	InitialDelayMs int64  `json:"initial_delay_ms"`
}
