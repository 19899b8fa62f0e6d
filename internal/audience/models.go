package audience

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrWorkspaceRequired = errors.New("audience: workspace_id is required")
	ErrNumberNotFound    = errors.New("audience: number not assigned to a workspace")
)

// Filter is the audience_criteria object stored on a campaign.
type Filter map[string]string

const customPrefix = "custom."

// filterColumns maps filter keys to contact columns. Anything else is dropped.
var filterColumns = map[string]string{
	"name":                "name",
	"email":               "email",
	"phone":               "phone",
	"lead_source":         "lead_source",
	"market":              "market",
	"product":             "product",
	"lead_status":         "lead_status",
	"conversation_status": "conversation_status",
	"tags":                "tags",
}

// Condition is one recognised filter term.
type Condition struct {
	Column    string // contact column, "tags" or "custom_fields"
	CustomKey string // set when Column is custom_fields
	Value     string
}

// Conditions returns the recognised terms sorted by key. Empty values and
// unknown keys are dropped.
func (f Filter) Conditions() []Condition {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Condition
	for _, k := range keys {
		v := strings.TrimSpace(f[k])
		if v == "" {
			continue
		}
		if col, ok := filterColumns[k]; ok {
			out = append(out, Condition{Column: col, Value: v})
			continue
		}
		if ck, ok := strings.CutPrefix(k, customPrefix); ok && ck != "" {
			out = append(out, Condition{Column: "custom_fields", CustomKey: ck, Value: v})
		}
	}
	return out
}

// Recipient is a resolved contact. Fields holds custom fields for
// personalisation.
type Recipient struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	FirstName   string            `json:"first_name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Email       string            `json:"email,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Contact is the stored row behind a Recipient.
type Contact struct {
	Recipient
	LeadSource         string
	Market             string
	Product            string
	LeadStatus         string
	ConversationStatus string
	Tags               []string
}

type Audience struct {
	Recipients []Recipient `json:"recipients"`
	Count      int         `json:"count"`
}

const (
	OptOutChannelSMS   = "sms"
	OptOutChannelEmail = "email"
)
