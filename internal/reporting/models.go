package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CampaignReportRequest asks for delivery metrics of one campaign.
// WorkspaceID is required.
type CampaignReportRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	CampaignID  string    `json:"campaign_id"`
	Range       TimeRange `json:"range"`
}

// Counts is one tally of delivery rows.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`

	// DeliveryRate is sent / total; FailureRate is failed / total.
	DeliveryRate float64 `json:"delivery_rate"`
	FailureRate  float64 `json:"failure_rate"`
}

type StepReport struct {
	StepID string `json:"step_id"`
	Counts
}

type CampaignReport struct {
	WorkspaceID string       `json:"workspace_id"`
	CampaignID  string       `json:"campaign_id"`
	Range       TimeRange    `json:"range"`
	Totals      Counts       `json:"totals"`
	Steps       []StepReport `json:"steps"`
	// FailureReasons counts failed rows by error text.
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
}
