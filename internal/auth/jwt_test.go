package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"broadcast-platform/internal/config"

	"github.com/gin-gonic/gin"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "ws-1", "marketer")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.WorkspaceID != "ws-1" || claims.Role != "marketer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	p, err := m.IssuePair(now, "u", "w", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, now); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected token_type mismatch, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, _ := m.IssuePair(now, "u", "w", "owner")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, _ := m.IssuePair(now, "u", "w", "owner")

	next, err := m.Refresh(now.Add(time.Hour), p.RefreshToken, "analyst")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("verify refreshed: %v", err)
	}
	if claims.Role != "analyst" || claims.WorkspaceID != "w" {
		t.Fatalf("unexpected refreshed claims: %+v", claims)
	}
}

func TestRequireAccessToken_InjectsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	p, _ := m.IssuePair(time.Now(), "u1", "w1", "owner")

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		wid, err := WorkspaceID(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, wid)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "w1" {
		t.Fatalf("expected 200 w1, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestRequireAccessToken_HeaderForms(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	fresh, _ := m.IssuePair(time.Now(), "u1", "w1", "marketer")
	stale, _ := m.IssuePair(time.Now().Add(-2*time.Hour), "u1", "w1", "marketer")

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		a := ActorFrom(c.Request.Context(), "10.0.0.1")
		c.String(http.StatusOK, a.UserID+"/"+a.Role)
	})

	cases := []struct {
		header string
		code   int
		body   string
	}{
		{"bearer " + fresh.AccessToken, http.StatusOK, "u1/marketer"},
		{"Bearer  " + fresh.AccessToken + " ", http.StatusOK, "u1/marketer"},
		{"Basic " + fresh.AccessToken, http.StatusUnauthorized, `{"error":"missing bearer token"}`},
		{"Bearer", http.StatusUnauthorized, `{"error":"missing bearer token"}`},
		{"Bearer " + fresh.RefreshToken, http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"Bearer " + stale.AccessToken, http.StatusUnauthorized, `{"error":"token expired"}`},
	}
	for i, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", tc.header)
		r.ServeHTTP(w, req)
		if w.Code != tc.code || w.Body.String() != tc.body {
			t.Fatalf("case %d: expected %d %s, got %d %s", i, tc.code, tc.body, w.Code, w.Body.String())
		}
	}
}

func TestVerifyRequiresWorkspace(t *testing.T) {
	m := newTestManager(t)
	p, _ := m.IssuePair(time.Now(), "u1", "", "owner")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, time.Now()); !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("expected ErrMissingClaim, got %v", err)
	}
}
