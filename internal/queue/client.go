// Package queue submits message jobs to the external queue service.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL               string
	RequestTimeout        time.Duration
	RatePerSec            int
	Source                string
	SMSCallbackEndpoint   string
	EmailCallbackEndpoint string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// Client posts to {base}/schedule-sms and {base}/schedule-email. It never
// retries; each request runs under its own timeout.
type Client struct {
	base          string
	http          *http.Client
	limiter       *rate.Limiter
	timeout       time.Duration
	source        string
	smsCallback   string
	emailCallback string
	now           func() time.Time
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("queue: base url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = cfg.RatePerSec
	}

	c := &Client{
		base:          base,
		http:          &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, burst),
		timeout:       timeout,
		source:        cfg.Source,
		smsCallback:   cfg.SMSCallbackEndpoint,
		emailCallback: cfg.EmailCallbackEndpoint,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Submit validates, renders and posts one job. Validation failures return a
// *ValidationError without touching the network; everything else that
// prevents a jobId returns a *SubmissionError.
func (c *Client) Submit(ctx context.Context, job Job) (Receipt, error) {
	path, payload, err := c.buildRequest(job)
	if err != nil {
		return Receipt{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Receipt{}, &SubmissionError{Message: "rate limiter: " + err.Error(), Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("queue: encode payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, &SubmissionError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, &SubmissionError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	var out submitResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("queue service returned status %d", resp.StatusCode)
		}
		return Receipt{}, &SubmissionError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil || out.JobID == "" {
		return Receipt{}, &SubmissionError{StatusCode: resp.StatusCode, Message: "response has no jobId", Err: decodeErr}
	}

	md := metadataOf(payload)
	sched, _ := time.Parse(time.RFC3339Nano, md.ScheduledTime)
	return Receipt{JobID: out.JobID, MessageID: md.MessageID, ScheduledTime: sched}, nil
}

func (c *Client) buildRequest(job Job) (string, any, error) {
	if job.MessageID == "" {
		job.MessageID = uuid.NewString()
	}
	now := c.now().UTC()
	md := metadata{
		Source:        c.source,
		CampaignID:    job.CampaignID,
		MessageID:     job.MessageID,
		ScheduledTime: now.Add(time.Duration(job.DelayMs) * time.Millisecond).Format(time.RFC3339Nano),
		Timestamp:     now.Format(time.RFC3339Nano),
	}
	r := job.Recipient

	switch job.Channel {
	case ChannelSMS:
		phone := strings.TrimSpace(r.Phone)
		if phone == "" {
			return "", nil, ErrNoPhoneNumber
		}
		msg := Personalize(job.Body, r)
		if strings.TrimSpace(msg) == "" {
			return "", nil, ErrEmptyMessage
		}
		md.CallbackEndpoint = c.smsCallback
		return "/schedule-sms", smsPayload{
			PhoneNumber: phone,
			Message:     msg,
			ContactID:   r.ID,
			WorkspaceID: job.WorkspaceID,
			Delay:       job.DelayMs,
			Metadata:    md,
		}, nil
	case ChannelEmail:
		to := strings.TrimSpace(r.Email)
		if to == "" {
			return "", nil, ErrNoEmail
		}
		subject := Personalize(job.Subject, r)
		if strings.TrimSpace(subject) == "" {
			return "", nil, ErrNoSubject
		}
		html := Personalize(job.Body, r)
		if strings.TrimSpace(html) == "" {
			return "", nil, ErrEmptyHTML
		}
		md.CallbackEndpoint = c.emailCallback
		return "/schedule-email", emailPayload{
			To:          to,
			Subject:     subject,
			HTML:        html,
			ContactID:   r.ID,
			WorkspaceID: job.WorkspaceID,
			Delay:       job.DelayMs,
			Metadata:    md,
		}, nil
	default:
		return "", nil, ErrUnknownChannel
	}
}

func metadataOf(p any) metadata {
	switch v := p.(type) {
	case smsPayload:
		return v.Metadata
	case emailPayload:
		return v.Metadata
	}
	return metadata{}
}
