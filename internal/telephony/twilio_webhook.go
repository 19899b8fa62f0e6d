// Package telephony adapts Twilio SMS webhooks to delivery and opt-out updates.
package telephony

import (
	"net/http"
	"strings"

	"broadcast-platform/internal/delivery"
)

// TwilioMessageStatusForm is the subset of the SMS status callback we use.
// Twilio posts application/x-www-form-urlencoded.
type TwilioMessageStatusForm struct {
	MessageSid    string
	AccountSid    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
	From          string
	To            string
}

func ParseTwilioMessageStatus(r *http.Request) (TwilioMessageStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioMessageStatusForm{}, err
	}
	return TwilioMessageStatusForm{
		MessageSid:    r.PostFormValue("MessageSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		MessageStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("MessageStatus"))),
		ErrorCode:     r.PostFormValue("ErrorCode"),
		ErrorMessage:  r.PostFormValue("ErrorMessage"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
	}, nil
}

// DeliveryStatus maps the Twilio message status onto ours. ok is false for
// statuses we do not track (receiving, received, read, ...).
func (f TwilioMessageStatusForm) DeliveryStatus() (s delivery.Status, ok bool) {
	switch f.MessageStatus {
	case "queued", "accepted", "scheduled", "sending":
		return delivery.StatusScheduled, true
	case "sent", "delivered":
		return delivery.StatusSent, true
	case "failed", "undelivered", "canceled":
		return delivery.StatusFailed, true
	}
	return "", false
}

// FailureReason is the error text stored on a failed delivery.
func (f TwilioMessageStatusForm) FailureReason() string {
	switch {
	case f.ErrorCode != "" && f.ErrorMessage != "":
		return "twilio " + f.ErrorCode + ": " + f.ErrorMessage
	case f.ErrorCode != "":
		return "twilio error " + f.ErrorCode
	case f.ErrorMessage != "":
		return f.ErrorMessage
	}
	return "twilio status " + f.MessageStatus
}

type TwilioInboundMessage struct {
	MessageSid string
	From       string
	To         string
	Body       string
}

func ParseTwilioInboundMessage(r *http.Request) (TwilioInboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundMessage{}, err
	}
	return TwilioInboundMessage{
		MessageSid: r.PostFormValue("MessageSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
	}, nil
}

var optOutKeywords = map[string]struct{}{
	"STOP":        {},
	"STOPALL":     {},
	"UNSUBSCRIBE": {},
	"CANCEL":      {},
	"END":         {},
	"QUIT":        {},
}

// IsOptOut reports whether the message body is a carrier opt-out keyword.
func (m TwilioInboundMessage) IsOptOut() bool {
	_, ok := optOutKeywords[strings.ToUpper(strings.TrimSpace(m.Body))]
	return ok
}

func normalizePhone(s string) string {
	// "anonymous" and empty values pass through unchanged
	return strings.TrimSpace(s)
}
