package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/audit"
	"broadcast-platform/internal/auth"
	"broadcast-platform/internal/campaigns"
	"broadcast-platform/internal/config"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/rbac"
	"broadcast-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router     *gin.Engine
	auth       *auth.Manager
	contacts   *audience.MemoryRepo
	deliveries *delivery.MemoryRepo
	submitted  int32
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureWith(t, nil)
}

// newAPIFixtureWith lets a test adjust the handlers before routes are bound.
func newAPIFixtureWith(t *testing.T, tweak func(*Handlers)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{contacts: audience.NewMemoryRepo(), deliveries: delivery.NewMemoryRepo()}

	qs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.submitted, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
	}))
	t.Cleanup(qs.Close)

	client, err := queue.NewClient(queue.Config{
		BaseURL:               qs.URL,
		RequestTimeout:        2 * time.Second,
		Source:                "broadcast-platform",
		SMSCallbackEndpoint:   "https://api.local/callbacks/sms",
		EmailCallbackEndpoint: "https://api.local/callbacks/email",
	})
	if err != nil {
		t.Fatalf("queue client: %v", err)
	}
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	f.auth = m

	camps := campaigns.NewMemoryRepo()
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	aud := audience.NewService(f.contacts)
	rec := delivery.NewRecorder(f.deliveries, nil)

	h := Handlers{
		Auth:      m,
		Campaigns: campaigns.NewService(camps, auditSvc),
		Orchestrator: campaigns.NewOrchestrator(campaigns.Deps{
			Campaigns: camps,
			Audience:  aud,
			Submitter: client,
			Recorder:  rec,
			Audit:     auditSvc,
		}, campaigns.OrchestratorConfig{BatchSize: 10, MaxConcurrent: 2}),
		Deliveries: rec,
		Reports:    reporting.NewService(f.deliveries),
		Audience:   aud,
		Now:        func() time.Time { return time.Now().Add(time.Minute) },
	}
	if tweak != nil {
		tweak(&h)
	}

	r := gin.New()
	r.POST("/callbacks/sms", h.QueueCallback(queue.ChannelSMS))
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1", auth.RequireAccessToken(m), rbac.RequireWorkspace())
	v1.GET("/me", h.Me)
	v1.POST("/campaigns", rbac.RequireAnyRole(rbac.CampaignWriters...), h.CreateCampaign)
	v1.GET("/campaigns/:id", rbac.RequireAnyRole(rbac.CampaignReaders...), h.GetCampaign)
	v1.POST("/campaigns/:id/dispatch", rbac.RequireAnyRole(rbac.CampaignWriters...), h.Dispatch)
	v1.GET("/campaigns/:id/analytics", rbac.RequireAnyRole(rbac.CampaignReaders...), h.Analytics)
	v1.GET("/campaigns/:id/report", rbac.RequireAnyRole(rbac.CampaignReaders...), h.Report)
	v1.POST("/audience/preview", rbac.RequireAnyRole(rbac.CampaignReaders...), h.AudiencePreview)
	f.router = r

	for _, id := range []string{"c1", "c2", "c3"} {
		f.contacts.AddContact(audience.Contact{
			Recipient: audience.Recipient{ID: id, WorkspaceID: "w1", Name: "Contact " + id, Phone: "+1555000" + id},
			Market:    "austin",
		})
	}
	return f
}

func (f *apiFixture) token(t *testing.T, role string) string {
	t.Helper()
	p, err := f.auth.IssuePair(time.Now(), "u1", "w1", role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p.AccessToken
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createBroadcast(t *testing.T, tok string, extra map[string]any) campaigns.Campaign {
	t.Helper()
	body := map[string]any{
		"name":              "Spring promo",
		"type":              "broadcast",
		"channel":           "sms",
		"content":           "Hi {{first_name}}",
		"audience_criteria": map[string]string{"market": "austin"},
	}
	for k, v := range extra {
		body[k] = v
	}
	w := f.do(t, http.MethodPost, "/v1/campaigns", tok, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", w.Code, w.Body.String())
	}
	var c campaigns.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	return c
}

func TestLoginAndMe(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u1", "workspace_id": "w1", "role": "owner"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", w.Code, w.Body.String())
	}
	var pair struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &pair)

	w = f.do(t, http.MethodGet, "/v1/me", pair.AccessToken, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"workspace_id":"w1"`)) {
		t.Fatalf("me: got %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete login, got %d", w.Code)
	}
}

func TestCreateCampaign_ValidatesBody(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, rbac.RoleMarketer)

	cases := []map[string]any{
		{"type": "broadcast", "channel": "sms", "content": "x", "audience_criteria": map[string]string{"market": "austin"}},
		{"name": "n", "type": "blast", "channel": "sms", "content": "x", "audience_criteria": map[string]string{"market": "austin"}},
		{"name": "n", "type": "broadcast", "channel": "fax", "content": "x", "audience_criteria": map[string]string{"market": "austin"}},
		{"name": "n", "type": "broadcast", "channel": "email", "content": "<p>x</p>", "audience_criteria": map[string]string{"market": "austin"}},
		{"name": "n", "type": "sequence", "audience_criteria": map[string]string{"market": "austin"}},
		{"name": "n", "type": "sequence", "audience_criteria": map[string]string{"market": "austin"},
			"steps": []map[string]any{{"order": 0, "content": "x", "wait_until_start": "25:00", "wait_until_end": "10:00"}}},
		{"name": "n", "type": "sequence", "channel": "sms", "audience_criteria": map[string]string{"market": "austin"},
			"steps": []map[string]any{{"order": 0, "content": "x", "wait_days": 1 << 40}}},
	}
	for i, body := range cases {
		if w := f.do(t, http.MethodPost, "/v1/campaigns", tok, body); w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d %s", i, w.Code, w.Body.String())
		}
	}
}

func TestCreateCampaign_AnalystForbidden(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/campaigns", f.token(t, rbac.RoleAnalyst), map[string]any{"name": "n"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestDispatchFlow(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, rbac.RoleOwner)
	c := f.createBroadcast(t, tok, nil)
	if c.Status != campaigns.StatusDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}

	w := f.do(t, http.MethodPost, "/v1/campaigns/"+c.ID+"/dispatch", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch: expected 200, got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary campaigns.Summary `json:"summary"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Summary.SuccessCount != 3 || resp.Summary.FailureCount != 0 || resp.Summary.Status != campaigns.StatusActive {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	if n := atomic.LoadInt32(&f.submitted); n != 3 {
		t.Fatalf("expected 3 submissions, got %d", n)
	}

	if w := f.do(t, http.MethodPost, "/v1/campaigns/"+c.ID+"/dispatch", tok, nil); w.Code != http.StatusConflict {
		t.Fatalf("second dispatch: expected 409, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/v1/campaigns/"+c.ID+"/analytics", f.token(t, rbac.RoleAnalyst), nil)
	var ro delivery.Rollup
	_ = json.Unmarshal(w.Body.Bytes(), &ro)
	if w.Code != http.StatusOK || ro.TotalSent != 3 {
		t.Fatalf("analytics: got %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/v1/campaigns/"+c.ID+"/report", tok, nil)
	var rep reporting.CampaignReport
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if w.Code != http.StatusOK || rep.Totals.Sent != 3 || rep.Totals.DeliveryRate != 1 {
		t.Fatalf("report: got %d %s", w.Code, w.Body.String())
	}
}

func TestDispatch_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, rbac.RoleOwner)

	if w := f.do(t, http.MethodPost, "/v1/campaigns/missing/dispatch", tok, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	c := f.createBroadcast(t, tok, map[string]any{"audience_criteria": map[string]string{"market": "denver"}})
	w := f.do(t, http.MethodPost, "/v1/campaigns/"+c.ID+"/dispatch", tok, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty audience, got %d %s", w.Code, w.Body.String())
	}
	if atomic.LoadInt32(&f.submitted) != 0 {
		t.Fatalf("expected no submissions")
	}
}

func TestQueueCallback_AdvancesScheduledDelivery(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, rbac.RoleOwner)
	at := time.Now().Add(48 * time.Hour).UTC()
	c := f.createBroadcast(t, tok, map[string]any{"scheduled_at": at})

	if w := f.do(t, http.MethodPost, "/v1/campaigns/"+c.ID+"/dispatch", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("dispatch: got %d %s", w.Code, w.Body.String())
	}
	rows := f.deliveries.Rows()
	if len(rows) != 3 || rows[0].Status != delivery.StatusScheduled {
		t.Fatalf("expected 3 scheduled rows, got %+v", rows)
	}

	cb := map[string]any{"jobId": "job-1", "status": "failed", "error": "carrier rejected",
		"metadata": map[string]string{"messageId": rows[0].MessageID, "campaignId": c.ID}}
	if w := f.do(t, http.MethodPost, "/callbacks/sms", "", cb); w.Code != http.StatusOK {
		t.Fatalf("callback: expected 200, got %d %s", w.Code, w.Body.String())
	}
	got, err := f.deliveries.GetByMessageID(context.Background(), rows[0].MessageID)
	if err != nil || got.Status != delivery.StatusFailed || got.Error != "carrier rejected" {
		t.Fatalf("expected failed row, got %+v %v", got, err)
	}

	// a late "sent" after the terminal failure is acknowledged and ignored
	cb["status"] = "sent"
	if w := f.do(t, http.MethodPost, "/callbacks/sms", "", cb); w.Code != http.StatusOK {
		t.Fatalf("late callback: expected 200, got %d", w.Code)
	}
	if got, _ := f.deliveries.GetByMessageID(context.Background(), rows[0].MessageID); got.Status != delivery.StatusFailed {
		t.Fatalf("expected status to stay failed, got %s", got.Status)
	}

	cb["metadata"] = map[string]string{"messageId": "nope"}
	if w := f.do(t, http.MethodPost, "/callbacks/sms", "", cb); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/callbacks/sms", "", map[string]any{"status": "sent"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without messageId, got %d", w.Code)
	}
}

func TestAudiencePreview(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, rbac.RoleAnalyst)

	w := f.do(t, http.MethodPost, "/v1/audience/preview?limit=2", tok, map[string]any{"audience_criteria": map[string]string{"market": "austin"}})
	var out struct {
		Count      int                  `json:"count"`
		Recipients []audience.Recipient `json:"recipients"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if w.Code != http.StatusOK || out.Count != 3 || len(out.Recipients) != 2 {
		t.Fatalf("preview: got %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/audience/preview", tok, map[string]any{"audience_criteria": map[string]string{"market": "austin"}, "limit": 1000})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", w.Code)
	}
}

func TestQueueCallback_RequiresSharedSecret(t *testing.T) {
	f := newAPIFixtureWith(t, func(h *Handlers) { h.CallbackSecret = "s3cret" })
	tok := f.token(t, rbac.RoleOwner)
	c := f.createBroadcast(t, tok, nil)
	if w := f.do(t, http.MethodPost, "/v1/campaigns/"+c.ID+"/dispatch", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("dispatch: got %d %s", w.Code, w.Body.String())
	}
	rows := f.deliveries.Rows()
	if len(rows) == 0 {
		t.Fatalf("expected delivery rows")
	}
	msgID := rows[0].MessageID
	cb := map[string]any{"jobId": "job-1", "status": "failed", "error": "forged",
		"metadata": map[string]string{"messageId": msgID}}

	for _, path := range []string{"/callbacks/sms", "/callbacks/sms?token=wrong"} {
		if w := f.do(t, http.MethodPost, path, "", cb); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
	if got, _ := f.deliveries.GetByMessageID(context.Background(), msgID); got.Status != delivery.StatusSent {
		t.Fatalf("rejected callback changed the row: %+v", got)
	}

	if w := f.do(t, http.MethodPost, "/callbacks/sms?token=s3cret", "", cb); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d %s", w.Code, w.Body.String())
	}
	if got, _ := f.deliveries.GetByMessageID(context.Background(), msgID); got.Status != delivery.StatusFailed {
		t.Fatalf("expected failed row, got %+v", got)
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(cb)
	req := httptest.NewRequest(http.MethodPost, "/callbacks/sms", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Token", "s3cret")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with header token, got %d %s", w.Code, w.Body.String())
	}
}
