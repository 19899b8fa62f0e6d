package campaigns

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/audit"
	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/dispatch"
	"broadcast-platform/internal/events"
	"broadcast-platform/internal/queue"
)

type queueServer struct {
	srv   *httptest.Server
	calls int32

	mu     sync.Mutex
	delays []int64

	inFlight int32
	peak     int32
	hold     time.Duration
}

func newQueueServer(t *testing.T, hold time.Duration) *queueServer {
	t.Helper()
	q := &queueServer{hold: hold}
	q.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&q.calls, 1)
		cur := atomic.AddInt32(&q.inFlight, 1)
		defer atomic.AddInt32(&q.inFlight, -1)
		for {
			p := atomic.LoadInt32(&q.peak)
			if cur <= p || atomic.CompareAndSwapInt32(&q.peak, p, cur) {
				break
			}
		}
		if q.hold > 0 {
			time.Sleep(q.hold)
		}

		var body struct {
			Delay int64 `json:"delay"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		q.mu.Lock()
		q.delays = append(q.delays, body.Delay)
		q.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-" + string(rune('a'+n%26))})
	}))
	t.Cleanup(q.srv.Close)
	return q
}

type fixture struct {
	orch       *Orchestrator
	svc        *Service
	camps      *MemoryRepo
	contacts   *audience.MemoryRepo
	deliveries *delivery.MemoryRepo
	audits     *audit.MemoryRepo
	pub        *events.MemoryPublisher
	locker     *dispatch.MemoryLocker
	q          *queueServer
	deps       Deps
	cfg        OrchestratorConfig
	now        time.Time
}

func newFixture(t *testing.T, cfg OrchestratorConfig, hold time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		camps:      NewMemoryRepo(),
		contacts:   audience.NewMemoryRepo(),
		deliveries: delivery.NewMemoryRepo(),
		audits:     audit.NewMemoryRepo(),
		pub:        &events.MemoryPublisher{},
		locker:     dispatch.NewMemoryLocker(),
		q:          newQueueServer(t, hold),
		now:        time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	client, err := queue.NewClient(queue.Config{
		BaseURL:               f.q.srv.URL,
		RequestTimeout:        2 * time.Second,
		Source:                "broadcast-platform",
		SMSCallbackEndpoint:   "https://api.local/callbacks/sms",
		EmailCallbackEndpoint: "https://api.local/callbacks/email",
	})
	if err != nil {
		t.Fatalf("queue client: %v", err)
	}
	auditSvc := audit.NewService(f.audits)
	f.cfg = cfg
	f.deps = Deps{
		Campaigns: f.camps,
		Audience:  audience.NewService(f.contacts),
		Submitter: client,
		Recorder:  delivery.NewRecorder(f.deliveries, nil),
		Locker:    f.locker,
		Audit:     auditSvc,
		Events:    f.pub,
	}
	f.rebuild()
	f.svc = NewService(f.camps, auditSvc)
	return f
}

// rebuild recreates the orchestrator from f.deps after a test swaps one.
func (f *fixture) rebuild() {
	f.orch = NewOrchestrator(f.deps, f.cfg)
	f.orch.now = func() time.Time { return f.now }
}

// flakyCampaigns fails the next failMarks MarkDispatched calls.
type flakyCampaigns struct {
	*MemoryRepo
	failMarks int32
}

func (r *flakyCampaigns) MarkDispatched(ctx context.Context, workspaceID, id string, status Status, sentAt time.Time) error {
	if atomic.AddInt32(&r.failMarks, -1) >= 0 {
		return errors.New("connection reset")
	}
	return r.MemoryRepo.MarkDispatched(ctx, workspaceID, id, status, sentAt)
}

func (f *fixture) addContact(id, phone string) {
	f.contacts.AddContact(audience.Contact{
		Recipient: audience.Recipient{ID: id, WorkspaceID: "w1", Name: "Contact " + id, Phone: phone, Email: id + "@example.com"},
		Market:    "austin",
	})
}

func (f *fixture) broadcast(id string) Campaign {
	c := Campaign{
		ID:               id,
		WorkspaceID:      "w1",
		CreatedBy:        "u1",
		Name:             "Spring promo",
		Type:             TypeBroadcast,
		Status:           StatusDraft,
		Channel:          queue.ChannelSMS,
		Content:          "Hi {{first_name}}",
		AudienceCriteria: audience.Filter{"market": "austin"},
	}
	f.camps.Put(c)
	return c
}

var actor = auth.Actor{UserID: "u1", Role: "marketer", IP: "10.0.0.1"}

func TestDispatch_IsolatesPerRecipientFailures(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{BatchSize: 2, MaxConcurrent: 2}, 0)
	f.addContact("r1", "+15550001")
	f.addContact("r2", "")
	f.addContact("r3", "+15550003")
	f.broadcast("c1")

	sum, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sum.SuccessCount != 2 || sum.FailureCount != 1 || sum.TotalMessages != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Status != StatusActive {
		t.Fatalf("expected active, got %s", sum.Status)
	}
	if f.q.calls != 2 {
		t.Fatalf("expected 2 queue calls, got %d", f.q.calls)
	}

	var failed []delivery.Row
	for _, row := range f.deliveries.Rows() {
		if row.Status == delivery.StatusFailed {
			failed = append(failed, row)
		}
	}
	if len(failed) != 1 || failed[0].RecipientID != "r2" || !strings.Contains(failed[0].Error, "no phone number") {
		t.Fatalf("expected r2 failed with phone error, got %+v", failed)
	}

	c, _ := f.camps.Get(context.Background(), "w1", "c1")
	if c.Status != StatusActive || c.SentAt == nil {
		t.Fatalf("expected campaign active with sent_at, got %s %v", c.Status, c.SentAt)
	}
	if len(f.audits.ByType(audit.EventTypeCampaignDispatched)) != 1 {
		t.Fatalf("expected campaign_dispatched audit")
	}
	if evs := f.pub.Events(); len(evs) != 1 || evs[0].Type != events.TypeCampaignDispatched || evs[0].FailureCount != 1 {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestDispatch_PastScheduleSubmitsNothing(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{ScheduleGrace: 5 * time.Minute}, 0)
	f.addContact("r1", "+15550001")
	c := f.broadcast("c1")
	past := f.now.Add(-time.Hour)
	c.ScheduledAt = &past
	f.camps.Put(c)

	_, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), "scheduled time must be in the future") {
		t.Fatalf("expected past-schedule validation error, got %v", err)
	}
	if f.q.calls != 0 || len(f.deliveries.Rows()) != 0 {
		t.Fatalf("no job may be submitted or recorded")
	}
	got, _ := f.camps.Get(context.Background(), "w1", "c1")
	if got.Status != StatusDraft {
		t.Fatalf("campaign must stay draft, got %s", got.Status)
	}
	if len(f.audits.ByType(audit.EventTypeDispatchRejected)) != 1 {
		t.Fatalf("expected dispatch_rejected audit")
	}
}

func TestDispatch_FutureScheduleMarksScheduled(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{ScheduleGrace: 5 * time.Minute}, 0)
	f.addContact("r1", "+15550001")
	c := f.broadcast("c1")
	at := f.now.Add(2 * time.Hour)
	c.ScheduledAt = &at
	f.camps.Put(c)

	sum, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sum.Status != StatusScheduled || sum.InitialDelayMs != (2*time.Hour).Milliseconds() {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	rows := f.deliveries.Rows()
	if len(rows) != 1 || rows[0].Status != delivery.StatusScheduled || rows[0].JobID == "" {
		t.Fatalf("expected one scheduled row with job id, got %+v", rows)
	}
	if evs := f.pub.Events(); len(evs) != 1 || evs[0].Type != events.TypeCampaignScheduled {
		t.Fatalf("expected scheduled event, got %+v", evs)
	}
}

func TestDispatch_SequenceStepsChain(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{MaxConcurrent: 1}, 0)
	f.addContact("r1", "+15550001")
	f.camps.Put(Campaign{
		ID:               "seq",
		WorkspaceID:      "w1",
		Name:             "Onboarding",
		Type:             TypeSequence,
		Status:           StatusDraft,
		Channel:          queue.ChannelSMS,
		AudienceCriteria: audience.Filter{"market": "austin"},
		Steps: []Step{
			{ID: "s2", Order: 2, Content: "third", WaitDays: 3},
			{ID: "s0", Order: 0, Content: "first"},
			{ID: "s1", Order: 1, Content: "second", WaitDays: 2},
		},
	})

	sum, err := f.orch.Dispatch(context.Background(), "w1", "seq", actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sum.TotalMessages != 3 || sum.SuccessCount != 3 || sum.Status != StatusActive {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	want := []int64{0, 2 * 86_400_000, 5 * 86_400_000}
	if len(f.q.delays) != len(want) {
		t.Fatalf("expected %d submissions, got %v", len(want), f.q.delays)
	}
	for i, d := range f.q.delays {
		if d != want[i] {
			t.Fatalf("delays = %v, want %v", f.q.delays, want)
		}
	}

	statuses := map[string]delivery.Status{}
	for _, row := range f.deliveries.Rows() {
		statuses[row.StepID] = row.Status
	}
	if statuses["s0"] != delivery.StatusSent || statuses["s1"] != delivery.StatusScheduled || statuses["s2"] != delivery.StatusScheduled {
		t.Fatalf("unexpected step statuses: %v", statuses)
	}
}

func TestDispatch_RejectsOversizedWait(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	f.addContact("r1", "+15550001")
	f.camps.Put(Campaign{
		ID:               "seq",
		WorkspaceID:      "w1",
		Name:             "Forever",
		Type:             TypeSequence,
		Status:           StatusDraft,
		Channel:          queue.ChannelSMS,
		AudienceCriteria: audience.Filter{"market": "austin"},
		Steps: []Step{
			{ID: "s0", Order: 0, Content: "first"},
			{ID: "s1", Order: 1, Content: "later", WaitDays: 1 << 40},
		},
	})

	_, err := f.orch.Dispatch(context.Background(), "w1", "seq", actor)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "steps" {
		t.Fatalf("expected steps validation error, got %v", err)
	}
	if f.q.calls != 0 || len(f.deliveries.Rows()) != 0 {
		t.Fatalf("nothing may be submitted, got %d calls", f.q.calls)
	}
}

func TestDispatch_ValidationHappensBeforeSubmission(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Campaign)
		field  string
	}{
		{"missing name", func(c *Campaign) { c.Name = " " }, "name"},
		{"sequence without steps", func(c *Campaign) { c.Type = TypeSequence }, "steps"},
		{"drip without steps", func(c *Campaign) { c.Type = TypeDrip }, "steps"},
		{"empty audience", func(c *Campaign) { c.AudienceCriteria = audience.Filter{"market": "nowhere"} }, "audience"},
		{"unknown filter keys", func(c *Campaign) { c.AudienceCriteria = audience.Filter{"zodiac": "leo"} }, "audience"},
		{"email without subject", func(c *Campaign) { c.Channel = queue.ChannelEmail }, "subject"},
		{"step gap", func(c *Campaign) {
			c.Type = TypeSequence
			c.Steps = []Step{{ID: "a", Order: 0, Content: "x"}, {ID: "b", Order: 2, Content: "y"}}
		}, "steps"},
		{"duplicate step order", func(c *Campaign) {
			c.Type = TypeSequence
			c.Steps = []Step{{ID: "a", Order: 0, Content: "x"}, {ID: "b", Order: 0, Content: "y"}}
		}, "steps"},
		{"empty step content", func(c *Campaign) {
			c.Type = TypeSequence
			c.Steps = []Step{{ID: "a", Order: 0, Content: ""}}
		}, "steps[0].content"},
		{"bad window", func(c *Campaign) {
			c.Type = TypeSequence
			c.Steps = []Step{{ID: "a", Order: 0, Content: "x", WaitUntilStart: "9am", WaitUntilEnd: "17:00"}}
		}, "steps[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, OrchestratorConfig{}, 0)
			f.addContact("r1", "+15550001")
			c := f.broadcast("c1")
			tc.mutate(&c)
			f.camps.Put(c)

			_, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
			var ve *ValidationError
			if !errors.As(err, &ve) || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.HasPrefix(ve.Field, tc.field) {
				t.Fatalf("expected field %q, got %q", tc.field, ve.Field)
			}
			if f.q.calls != 0 {
				t.Fatalf("no job may be submitted, got %d", f.q.calls)
			}
		})
	}
}

func TestDispatch_RejectsNonDraft(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	f.addContact("r1", "+15550001")
	c := f.broadcast("c1")
	c.Status = StatusActive
	f.camps.Put(c)

	if _, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if f.q.calls != 0 {
		t.Fatalf("no job may be submitted")
	}
}

func TestDispatch_SecondRunIsRefused(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	f.addContact("r1", "+15550001")
	f.broadcast("c1")

	unlock, err := f.locker.TryLock(context.Background(), dispatch.CampaignLockKey("c1"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor); !errors.Is(err, ErrDispatchInProgress) {
		t.Fatalf("expected ErrDispatchInProgress, got %v", err)
	}
	unlock()

	if _, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor); err != nil {
		t.Fatalf("first real dispatch: %v", err)
	}
	if _, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected repeat dispatch refused, got %v", err)
	}
	if f.q.calls != 1 {
		t.Fatalf("expected exactly one submission, got %d", f.q.calls)
	}
}

func TestDispatch_CallerCancelMidRunStillSendsEveryone(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{BatchSize: 1, MaxConcurrent: 1}, 20*time.Millisecond)
	for i := 0; i < 6; i++ {
		f.addContact(string(rune('a'+i)), "+1555000"+string(rune('0'+i)))
	}
	f.broadcast("c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(45*time.Millisecond, cancel)

	sum, err := f.orch.Dispatch(ctx, "w1", "c1", actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected the caller context to be cancelled during the run")
	}
	if got := atomic.LoadInt32(&f.q.calls); got != 6 {
		t.Fatalf("expected 6 submissions, got %d", got)
	}
	if sum.SuccessCount != 6 || sum.FailureCount != 0 || sum.Status != StatusActive {
		t.Fatalf("unexpected summary %+v", sum)
	}
	c, _ := f.camps.Get(context.Background(), "w1", "c1")
	if c.Status != StatusActive {
		t.Fatalf("expected active campaign, got %s", c.Status)
	}
	if rows := f.deliveries.Rows(); len(rows) != 6 {
		t.Fatalf("expected 6 delivery rows, got %d", len(rows))
	}
}

func TestDispatch_RetryAfterFailedMarkDoesNotResubmit(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	f.addContact("r1", "+15550001")
	f.addContact("r2", "+15550002")
	f.broadcast("c1")
	flaky := &flakyCampaigns{MemoryRepo: f.camps, failMarks: 1}
	f.deps.Campaigns = flaky
	f.rebuild()

	sum, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected mark failure, got %v", err)
	}
	if sum.Status != StatusDraft {
		t.Fatalf("expected campaign left in draft, got %+v", sum)
	}
	if got := atomic.LoadInt32(&f.q.calls); got != 2 {
		t.Fatalf("expected 2 submissions, got %d", got)
	}

	sum, err = f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
	if got := atomic.LoadInt32(&f.q.calls); got != 2 {
		t.Fatalf("retry resubmitted jobs: %d submissions", got)
	}
	if sum.SuccessCount != 2 || sum.FailureCount != 0 || sum.Status != StatusActive {
		t.Fatalf("unexpected retry summary %+v", sum)
	}
	rows := f.deliveries.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 delivery rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Status != delivery.StatusSent || row.JobID == "" {
			t.Fatalf("unexpected row %+v", row)
		}
	}
}

func TestDispatch_CapsConcurrentBatches(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{BatchSize: 1, MaxConcurrent: 3}, 20*time.Millisecond)
	for i := 0; i < 10; i++ {
		f.addContact(string(rune('a'+i)), "+1555000"+string(rune('0'+i)))
	}
	f.broadcast("c1")

	sum, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sum.SuccessCount != 10 {
		t.Fatalf("expected 10 successes, got %+v", sum)
	}
	if p := atomic.LoadInt32(&f.q.peak); p > 3 {
		t.Fatalf("peak in-flight submissions %d exceeds 3", p)
	}
}

func TestDispatch_UnknownCampaign(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	if _, err := f.orch.Dispatch(context.Background(), "w1", "missing", actor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatch_AnalyticsRolledUp(t *testing.T) {
	f := newFixture(t, OrchestratorConfig{}, 0)
	f.addContact("r1", "+15550001")
	f.addContact("r2", "")
	f.broadcast("c1")

	if _, err := f.orch.Dispatch(context.Background(), "w1", "c1", actor); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ro, err := f.deliveries.GetRollup(context.Background(), "w1", "c1")
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if ro.TotalSent != 1 || ro.TotalFailed != 1 || ro.TotalPending != 0 {
		t.Fatalf("unexpected rollup: %+v", ro)
	}
}
