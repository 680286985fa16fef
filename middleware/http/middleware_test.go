package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/session"
	"github.com/shopassist/chatgate/storage/memory"
)

func setupEngine(t *testing.T, mutate func(*quota.Subscription)) *quota.Engine {
	t.Helper()

	store := memory.New()
	now := time.Now().UTC()
	sub := &quota.Subscription{
		ID:               "sub-1",
		TenantID:         "tenant-1",
		Status:           quota.StatusActive,
		MonthlyLimit:     1000,
		DailyLimit:       50,
		Timezone:         "UTC",
		LastMonthlyReset: now,
		LastDailyReset:   now,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, store.PutSubscription(context.Background(), sub))

	engine, err := quota.NewEngine(store, quota.Config{})
	require.NoError(t, err)
	return engine
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestSessionMiddleware(t *testing.T) {
	var captured *session.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := Session(SessionConfig{Resolve: HeaderResolver("X-Tenant-ID", "X-Session-ID")})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-Session-ID", "session-9")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "tenant-1", captured.TenantID)
	assert.Equal(t, "session-9", captured.SessionID)
}

func TestSessionMiddleware_Unauthorized(t *testing.T) {
	next, called := okHandler()
	mw := Session(SessionConfig{Resolve: HeaderResolver("X-Tenant-ID", "X-Session-ID")})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, *called)
}

func TestSessionMiddleware_CustomUnauthorized(t *testing.T) {
	next, _ := okHandler()
	mw := Session(SessionConfig{
		Resolve: func(r *http.Request) *session.Session { return nil },
		OnUnauthorized: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGate_Allowed(t *testing.T) {
	engine := setupEngine(t, nil)
	next, called := okHandler()
	mw := Gate(GateConfig{Engine: engine})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(session.NewContext(req.Context(), &session.Session{TenantID: "tenant-1"}))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

func TestGate_Blocked(t *testing.T) {
	engine := setupEngine(t, func(sub *quota.Subscription) {
		sub.DailyUsed = 50
	})
	next, called := okHandler()
	mw := Gate(GateConfig{Engine: engine})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(session.NewContext(req.Context(), &session.Session{TenantID: "tenant-1"}))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, *called)
}

func TestGate_CustomBlocked(t *testing.T) {
	engine := setupEngine(t, func(sub *quota.Subscription) {
		sub.MonthlyUsed = 1000
	})
	next, _ := okHandler()

	var gotReason quota.DenyReason
	mw := Gate(GateConfig{
		Engine: engine,
		OnBlocked: func(w http.ResponseWriter, r *http.Request, check *quota.CheckResult) {
			gotReason = check.Reason
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(session.NewContext(req.Context(), &session.Session{TenantID: "tenant-1"}))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, quota.DenyMonthlyExceeded, gotReason)
}

func TestGate_NoSession(t *testing.T) {
	engine := setupEngine(t, nil)
	next, called := okHandler()
	mw := Gate(GateConfig{Engine: engine})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, *called)
}

func TestGate_UnknownTenantBlocked(t *testing.T) {
	engine := setupEngine(t, nil)
	next, called := okHandler()
	mw := Gate(GateConfig{Engine: engine})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(session.NewContext(req.Context(), &session.Session{TenantID: "nobody"}))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, *called)
}
