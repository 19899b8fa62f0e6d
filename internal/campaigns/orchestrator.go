package campaigns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/audit"
	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/dispatch"
	"broadcast-platform/internal/events"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/schedule"
	"broadcast-platform/pkg/logger"

	"github.com/google/uuid"
)

type AudienceResolver interface {
	Resolve(ctx context.Context, workspaceID string, filter audience.Filter) (audience.Audience, error)
}

type Submitter interface {
	Submit(ctx context.Context, job queue.Job) (queue.Receipt, error)
}

type StatusRecorder interface {
	Record(ctx context.Context, workspaceID string, o delivery.Outcome) (delivery.Row, error)
	Rollup(ctx context.Context, workspaceID, campaignID string) (delivery.Rollup, error)
}

type Auditor interface {
	LogCampaign(ctx context.Context, typ audit.EventType, a audit.CampaignAction) error
}

type OrchestratorConfig struct {
	BatchSize       int
	MaxConcurrent   int
	InterBatchDelay time.Duration
	ScheduleGrace   time.Duration
}

type Deps struct {
	Campaigns Repository
	Audience  AudienceResolver
	Submitter Submitter
	Recorder  StatusRecorder
	Locker    dispatch.Locker
	// Slots, when set, returns the cross-process batch cap for a workspace.
	Slots  func(workspaceID string) dispatch.Slots
	Audit  Auditor
	Events events.Publisher
}

// Orchestrator runs a draft campaign through
// validate, resolve, plan, lock, dispatch, roll up and status update.
type Orchestrator struct {
	d   Deps
	cfg OrchestratorConfig
	now func() time.Time
}

func NewOrchestrator(d Deps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 3
	}
	if cfg.ScheduleGrace < 0 {
		cfg.ScheduleGrace = 0
	}
	if d.Locker == nil {
		d.Locker = dispatch.NewMemoryLocker()
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	return &Orchestrator{d: d, cfg: cfg, now: time.Now}
}

// plannedStep is a step with its channel resolved and absolute delay computed.
type plannedStep struct {
	ID      string
	Channel queue.Channel
	Subject string
	Content string
	DelayMs int64
}

type plan struct {
	recipients     []audience.Recipient
	steps          []plannedStep
	initialDelayMs int64
}

// Dispatch sends a draft campaign to its audience. Validation failures are
// *ValidationError and happen before any job is submitted. Once jobs are
// submitted the returned Summary is always populated, even with an error.
func (o *Orchestrator) Dispatch(ctx context.Context, workspaceID, campaignID string, actor auth.Actor) (Summary, error) {
	ctx, log := logger.WithAttrs(ctx, "workspace_id", workspaceID, "campaign_id", campaignID)

	if strings.TrimSpace(workspaceID) == "" {
		return Summary{}, invalid("workspace_id", "is required")
	}
	c, err := o.d.Campaigns.Get(ctx, workspaceID, campaignID)
	if err != nil {
		return Summary{}, err
	}

	p, err := o.prepare(ctx, c)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			o.reject(ctx, c, actor, err)
		}
		return Summary{}, err
	}

	unlock, err := o.d.Locker.TryLock(ctx, dispatch.CampaignLockKey(c.ID))
	if err != nil {
		if errors.Is(err, dispatch.ErrLockBusy) {
			return Summary{}, ErrDispatchInProgress
		}
		return Summary{}, fmt.Errorf("campaigns: acquire dispatch lock: %w", err)
	}
	defer unlock()

	// another run may have finished between prepare and the lock
	cur, err := o.d.Campaigns.Get(ctx, workspaceID, c.ID)
	if err != nil {
		return Summary{}, err
	}
	if cur.Status != StatusDraft {
		return Summary{}, fmt.Errorf("%w: status is %s", ErrInvalidTransition, cur.Status)
	}

	// Once jobs start going out the run finishes even if the caller goes away;
	// recipients of unstarted batches could never be sent otherwise.
	runCtx := context.WithoutCancel(ctx)

	batches, err := dispatch.Batch(p.recipients, o.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	opts := dispatch.Options{
		MaxConcurrent:   o.cfg.MaxConcurrent,
		InterBatchDelay: o.cfg.InterBatchDelay,
		Logger:          log,
	}
	if o.d.Slots != nil {
		opts.Slots = o.d.Slots(workspaceID)
	}

	log.Info("dispatch started", "recipients", len(p.recipients), "steps", len(p.steps), "batches", len(batches), "initial_delay_ms", p.initialDelayMs)
	results, runErr := dispatch.Run(runCtx, batches, o.processBatch(c, p), opts)

	sum := Summary{
		TotalMessages:  len(p.recipients) * len(p.steps),
		InitialDelayMs: p.initialDelayMs,
	}
	recordFailures := 0
	for _, r := range results {
		if r.Status == delivery.StatusFailed {
			sum.FailureCount++
		} else {
			sum.SuccessCount++
		}
		if r.recordErr != nil {
			recordFailures++
		}
	}
	// jobs of batches that died as a whole are failures too
	sum.FailureCount = sum.TotalMessages - sum.SuccessCount

	errs := []error{runErr}
	if recordFailures > 0 {
		errs = append(errs, fmt.Errorf("campaigns: %d delivery records not written", recordFailures))
	}
	if _, err := o.d.Recorder.Rollup(runCtx, workspaceID, c.ID); err != nil {
		errs = append(errs, fmt.Errorf("campaigns: rollup: %w", err))
	}

	next := StatusActive
	if p.initialDelayMs > 0 {
		next = StatusScheduled
	}
	sentAt := o.now().UTC()
	if err := o.d.Campaigns.MarkDispatched(runCtx, workspaceID, c.ID, next, sentAt); err != nil {
		errs = append(errs, fmt.Errorf("campaigns: mark %s: %w", next, err))
		sum.Status = c.Status
	} else {
		sum.Status = next
	}

	if sum.FailureCount > 0 {
		log.Warn("dispatch finished with failures", "success", sum.SuccessCount, "failed", sum.FailureCount, "total", sum.TotalMessages)
	} else {
		log.Info("dispatch finished", "success", sum.SuccessCount, "total", sum.TotalMessages, "status", sum.Status)
	}

	o.announce(runCtx, c, actor, sum, sentAt)
	return sum, errors.Join(errs...)
}

// prepare runs every check that must pass before a job is submitted.
func (o *Orchestrator) prepare(ctx context.Context, c Campaign) (plan, error) {
	if strings.TrimSpace(c.Name) == "" {
		return plan{}, invalid("name", "is required")
	}
	if c.WorkspaceID == "" {
		return plan{}, invalid("workspace_id", "is required")
	}
	if c.Status != StatusDraft {
		return plan{}, fmt.Errorf("%w: status is %s", ErrInvalidTransition, c.Status)
	}
	if !c.Type.Valid() {
		return plan{}, invalid("type", fmt.Sprintf("unknown campaign type %q", c.Type))
	}
	if c.Type.MultiStep() && len(c.Steps) == 0 {
		return plan{}, invalid("steps", "at least one step is required")
	}

	aud, err := o.d.Audience.Resolve(ctx, c.WorkspaceID, c.AudienceCriteria)
	if err != nil {
		return plan{}, fmt.Errorf("campaigns: resolve audience: %w", err)
	}
	if len(aud.Recipients) == 0 {
		return plan{}, invalid("audience", "no recipients match the audience criteria")
	}

	now := o.now().UTC()
	initial, err := schedule.InitialDelayMs(now, c.ScheduledAt, o.cfg.ScheduleGrace)
	if err != nil {
		return plan{}, &ValidationError{Field: "scheduled_at", Msg: err.Error(), Err: err}
	}

	steps, err := planSteps(c, now, initial)
	if err != nil {
		return plan{}, err
	}
	return plan{recipients: aud.Recipients, steps: steps, initialDelayMs: initial}, nil
}

func planSteps(c Campaign, now time.Time, initialDelayMs int64) ([]plannedStep, error) {
	if !c.Type.MultiStep() {
		if err := checkMessage("", c.Channel, c.Subject, c.Content); err != nil {
			return nil, err
		}
		return []plannedStep{{
			Channel: c.Channel,
			Subject: c.Subject,
			Content: c.Content,
			DelayMs: initialDelayMs,
		}}, nil
	}

	steps := append([]Step(nil), c.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	waits := make([]int, len(steps))
	for i, s := range steps {
		if s.Order != i {
			return nil, invalid("steps", fmt.Sprintf("step orders must run 0..%d without gaps or duplicates", len(steps)-1))
		}
		waits[i] = s.WaitDays
	}
	offsets, err := schedule.StepOffsets(waits)
	if err != nil {
		return nil, &ValidationError{Field: "steps", Msg: err.Error(), Err: err}
	}

	out := make([]plannedStep, len(steps))
	for i, s := range steps {
		ch := s.Channel
		if ch == "" {
			ch = c.Channel
		}
		field := fmt.Sprintf("steps[%d]", s.Order)
		if err := checkMessage(field, ch, s.Subject, s.Content); err != nil {
			return nil, err
		}
		win, err := schedule.ParseWindow(s.WaitUntilStart, s.WaitUntilEnd)
		if err != nil {
			return nil, &ValidationError{Field: field, Msg: err.Error(), Err: err}
		}
		delay, err := schedule.ComputeDelayMs(offsets[i], initialDelayMs)
		if err != nil {
			return nil, &ValidationError{Field: field, Msg: err.Error(), Err: err}
		}
		delay += schedule.ApplyWindow(now.Add(time.Duration(delay)*time.Millisecond), win).Milliseconds()

		out[i] = plannedStep{ID: s.ID, Channel: ch, Subject: s.Subject, Content: s.Content, DelayMs: delay}
	}
	return out, nil
}

func checkMessage(field string, ch queue.Channel, subject, content string) error {
	prefix := func(f string) string {
		if field == "" {
			return f
		}
		return field + "." + f
	}
	if !ch.Valid() {
		return invalid(prefix("channel"), "must be sms or email")
	}
	if strings.TrimSpace(content) == "" {
		return invalid(prefix("content"), "is required")
	}
	if ch == queue.ChannelEmail && strings.TrimSpace(subject) == "" {
		return invalid(prefix("subject"), "is required for email")
	}
	return nil
}

// processBatch handles recipients one at a time and submits every step for
// each. Per-job failures become failed results, never batch errors.
func (o *Orchestrator) processBatch(c Campaign, p plan) dispatch.ProcessFunc[audience.Recipient, Result] {
	return func(ctx context.Context, idx int, batch []audience.Recipient) ([]Result, error) {
		out := make([]Result, 0, len(batch)*len(p.steps))
		for _, r := range batch {
			for _, st := range p.steps {
				out = append(out, o.deliver(ctx, c, st, r))
			}
		}
		return out, nil
	}
}

func (o *Orchestrator) deliver(ctx context.Context, c Campaign, st plannedStep, r audience.Recipient) Result {
	res := Result{
		Key:       delivery.Key{CampaignID: c.ID, StepID: st.ID, RecipientID: r.ID},
		MessageID: uuid.NewString(),
	}
	log := logger.From(ctx).With("step_id", st.ID, "recipient_id", r.ID)

	stored, err := o.d.Recorder.Record(ctx, c.WorkspaceID, delivery.Outcome{
		Key: res.Key, MessageID: res.MessageID, Status: delivery.StatusPending,
	})
	switch {
	case errors.Is(err, delivery.ErrInvalidTransition):
		// An earlier run already submitted this job.
		log.Debug("delivery already recorded", "status", stored.Status)
		res.MessageID = stored.MessageID
		res.JobID = stored.JobID
		res.Status = stored.Status
		res.Error = stored.Error
		return res
	case err != nil:
		log.Error("record pending failed", "err", err)
		res.recordErr = err
	case stored.MessageID != "":
		res.MessageID = stored.MessageID
	}

	receipt, err := o.d.Submitter.Submit(ctx, queue.Job{
		CampaignID:  c.ID,
		StepID:      st.ID,
		WorkspaceID: c.WorkspaceID,
		MessageID:   res.MessageID,
		Channel:     st.Channel,
		Recipient:   r,
		Subject:     st.Subject,
		Body:        st.Content,
		DelayMs:     st.DelayMs,
	})
	switch {
	case err != nil:
		res.Status = delivery.StatusFailed
		res.Error = err.Error()
		log.Debug("job rejected", "err", err)
	case st.DelayMs > 0:
		res.Status = delivery.StatusScheduled
		res.JobID = receipt.JobID
	default:
		res.Status = delivery.StatusSent
		res.JobID = receipt.JobID
	}

	if _, err := o.d.Recorder.Record(ctx, c.WorkspaceID, delivery.Outcome{
		Key:       res.Key,
		MessageID: res.MessageID,
		JobID:     res.JobID,
		Status:    res.Status,
		Error:     res.Error,
	}); err != nil {
		log.Error("record outcome failed", "status", res.Status, "err", err)
		res.recordErr = errors.Join(res.recordErr, err)
	}
	return res
}

func (o *Orchestrator) reject(ctx context.Context, c Campaign, actor auth.Actor, cause error) {
	logger.From(ctx).Info("dispatch rejected", "err", cause)
	if o.d.Audit == nil || c.WorkspaceID == "" {
		return
	}
	if err := o.d.Audit.LogCampaign(ctx, audit.EventTypeDispatchRejected, audit.CampaignAction{
		WorkspaceID: c.WorkspaceID,
		CampaignID:  c.ID,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IP:          actor.IP,
		Message:     cause.Error(),
	}); err != nil {
		logger.From(ctx).Warn("audit dispatch_rejected failed", "err", err)
	}
}

// announce writes the audit record and the lifecycle event. Both are best-effort.
func (o *Orchestrator) announce(ctx context.Context, c Campaign, actor auth.Actor, sum Summary, at time.Time) {
	log := logger.From(ctx)

	auditType, eventType := audit.EventTypeCampaignDispatched, events.TypeCampaignDispatched
	if sum.Status == StatusScheduled {
		auditType, eventType = audit.EventTypeCampaignScheduled, events.TypeCampaignScheduled
	}

	if o.d.Audit != nil {
		if err := o.d.Audit.LogCampaign(ctx, auditType, audit.CampaignAction{
			WorkspaceID: c.WorkspaceID,
			CampaignID:  c.ID,
			ActorUserID: actor.UserID,
			ActorRole:   actor.Role,
			IP:          actor.IP,
			Message:     fmt.Sprintf("%d of %d messages queued", sum.SuccessCount, sum.TotalMessages),
			Details:     sum,
		}); err != nil {
			log.Warn("audit failed", "type", auditType, "err", err)
		}
	}

	if err := o.d.Events.Publish(ctx, events.Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		WorkspaceID:    c.WorkspaceID,
		CampaignID:     c.ID,
		ActorUserID:    actor.UserID,
		Status:         string(sum.Status),
		SuccessCount:   sum.SuccessCount,
		FailureCount:   sum.FailureCount,
		TotalMessages:  sum.TotalMessages,
		InitialDelayMs: sum.InitialDelayMs,
		OccurredAt:     at,
	}); err != nil {
		log.Warn("publish event failed", "type", eventType, "err", err)
	}
}
