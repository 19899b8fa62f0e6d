package httpapi

import (
	"context"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/campaigns"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/schedule"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const clockLayout = "15:04"

var (
	campaignTypes = []any{
		string(campaigns.TypeBroadcast), string(campaigns.TypeSequence),
		string(campaigns.TypeDrip), string(campaigns.TypeTrigger),
	}
	channels = []any{string(queue.ChannelSMS), string(queue.ChannelEmail)}
)

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

func (r loginRequest) ValidateWithContext(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.WorkspaceID, validation.Required),
		validation.Field(&r.Role, validation.Required),
	)
}

type stepRequest struct {
	Order          int    `json:"order"`
	Channel        string `json:"channel"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	WaitDays       int    `json:"wait_days"`
	WaitUntilStart string `json:"wait_until_start"`
	WaitUntilEnd   string `json:"wait_until_end"`
}

func (s stepRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Order, validation.Min(0)),
		validation.Field(&s.Channel, validation.In(channels...)),
		validation.Field(&s.Content, validation.Required),
		validation.Field(&s.WaitDays, validation.Min(0), validation.Max(schedule.MaxWaitDays)),
		validation.Field(&s.WaitUntilStart, validation.Date(clockLayout), validation.When(s.WaitUntilEnd != "", validation.Required)),
		validation.Field(&s.WaitUntilEnd, validation.Date(clockLayout), validation.When(s.WaitUntilStart != "", validation.Required)),
	)
}

type createCampaignRequest struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	Channel          string            `json:"channel"`
	Subject          string            `json:"subject"`
	Content          string            `json:"content"`
	ScheduledAt      *time.Time        `json:"scheduled_at"`
	AudienceCriteria map[string]string `json:"audience_criteria"`
	Steps            []stepRequest     `json:"steps"`
}

func (r createCampaignRequest) ValidateWithContext(ctx context.Context) error {
	multi := campaigns.Type(r.Type).MultiStep()
	return validation.ValidateStructWithContext(ctx, &r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.Required, validation.In(campaignTypes...)),
		validation.Field(&r.Channel, validation.In(channels...), validation.When(!multi, validation.Required)),
		validation.Field(&r.Content, validation.When(!multi, validation.Required)),
		validation.Field(&r.Subject, validation.When(r.Channel == string(queue.ChannelEmail) && !multi, validation.Required)),
		validation.Field(&r.AudienceCriteria, validation.Required),
		validation.Field(&r.Steps, validation.When(multi, validation.Required)),
	)
}

func (r createCampaignRequest) toCampaign(workspaceID, userID string) campaigns.Campaign {
	c := campaigns.Campaign{
		WorkspaceID:      workspaceID,
		CreatedBy:        userID,
		Name:             r.Name,
		Type:             campaigns.Type(r.Type),
		Channel:          queue.Channel(r.Channel),
		Subject:          r.Subject,
		Content:          r.Content,
		ScheduledAt:      r.ScheduledAt,
		AudienceCriteria: audience.Filter(r.AudienceCriteria),
	}
	for _, s := range r.Steps {
		c.Steps = append(c.Steps, campaigns.Step{
			Order:          s.Order,
			Channel:        queue.Channel(s.Channel),
			Subject:        s.Subject,
			Content:        s.Content,
			WaitDays:       s.WaitDays,
			WaitUntilStart: s.WaitUntilStart,
			WaitUntilEnd:   s.WaitUntilEnd,
		})
	}
	return c
}

type previewRequest struct {
	AudienceCriteria map[string]string `json:"audience_criteria"`
	Limit            int               `json:"limit"`
}

func (r previewRequest) ValidateWithContext(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &r,
		validation.Field(&r.AudienceCriteria, validation.Required),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(maxPreviewLimit)),
	)
}

// queueCallback is posted by the queue service once a job settles.
type queueCallback struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Error    string `json:"error"`
	Metadata struct {
		MessageID  string `json:"messageId"`
		CampaignID string `json:"campaignId"`
	} `json:"metadata"`
}

func (r queueCallback) ValidateWithContext(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &r,
		validation.Field(&r.Status, validation.Required),
		validation.Field(&r.Metadata, validation.By(func(any) error {
			return validation.Validate(r.Metadata.MessageID, validation.Required.Error("messageId is required"))
		})),
	)
}
