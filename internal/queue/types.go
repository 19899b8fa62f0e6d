package queue

import (
	"time"

	"broadcast-platform/internal/audience"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool { return c == ChannelSMS || c == ChannelEmail }

// Job is one (campaign, step, recipient) message ready for submission.
type Job struct {
	CampaignID  string
	StepID      string
	WorkspaceID string
	// MessageID is generated when empty.
	MessageID string
	Channel   Channel
	Recipient audience.Recipient
	Subject   string
	Body      string
	DelayMs   int64
}

type Receipt struct {
	JobID         string
	MessageID     string
	ScheduledTime time.Time
}

type metadata struct {
	Source           string `json:"source"`
	CampaignID       string `json:"campaignId"`
	MessageID        string `json:"messageId"`
	ScheduledTime    string `json:"scheduledTime"`
	Timestamp        string `json:"timestamp"`
	CallbackEndpoint string `json:"callbackEndpoint"`
}

type smsPayload struct {
	PhoneNumber string   `json:"phoneNumber"`
	Message     string   `json:"message"`
	ContactID   string   `json:"contactId"`
	WorkspaceID string   `json:"workspaceId"`
	Delay       int64    `json:"delay"`
	Metadata    metadata `json:"metadata"`
}

type emailPayload struct {
	To          string   `json:"to"`
	Subject     string   `json:"subject"`
	HTML        string   `json:"html"`
	ContactID   string   `json:"contactId"`
	WorkspaceID string   `json:"workspaceId"`
	Delay       int64    `json:"delay"`
	Metadata    metadata `json:"metadata"`
}

type submitResponse struct {
	JobID   string `json:"jobId"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
