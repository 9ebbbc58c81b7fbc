package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/rostersync/internal/ratelimit"
	"github.com/shehryarbajwa/rostersync/internal/session"
	"github.com/shehryarbajwa/rostersync/pkg/models"
)

type fakeSessions struct {
	start    session.StartResult
	startErr error
	result   *session.Result
	err      error
	shot     []byte
	snapshot session.Snapshot

	gotUsername, gotPassword string
	gotID, gotOTP            string
}

func (f *fakeSessions) StartSession(ctx context.Context, username, password string) (session.StartResult, error) {
	f.gotUsername, f.gotPassword = username, password
	if username == "" || password == "" {
		return session.StartResult{}, fmt.Errorf("%w: missing", session.ErrInvalidInput)
	}
	return f.start, f.startErr
}

func (f *fakeSessions) SubmitOTP(ctx context.Context, id, code string) (*session.Result, error) {
	f.gotID, f.gotOTP = id, code
	return f.result, f.err
}

func (f *fakeSessions) Collect(ctx context.Context, id string) (*session.Result, error) {
	f.gotID = id
	return f.result, f.err
}

func (f *fakeSessions) Screenshot(id string) ([]byte, error) {
	if f.shot == nil {
		return nil, session.ErrSessionNotFound
	}
	return f.shot, nil
}

func (f *fakeSessions) Status(id string) (session.Snapshot, error) {
	if f.snapshot.ID != id {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	return f.snapshot, nil
}

func (f *fakeSessions) Active() int { return 2 }

func newRouter(f *fakeSessions, limiter *ratelimit.Limiter) http.Handler {
	if limiter == nil {
		limiter = ratelimit.NewLimiter(1000, 100)
	}
	return NewHandler(f).SetupRoutes(nil, limiter, prometheus.NewRegistry())
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestPerformSyncOTPRequired(t *testing.T) {
	f := &fakeSessions{start: session.StartResult{SessionID: "s1", RequiresOTP: true}}
	rec := do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/perform-sync?username=alice&password=pw", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.StartSessionResponse
	decode(t, rec, &res)
	assert.Equal(t, models.StartSessionResponse{Status: models.StatusOTPRequired, SessionID: "s1"}, res)
	assert.Equal(t, "alice", f.gotUsername)
	assert.Equal(t, "pw", f.gotPassword)
}

func TestPerformSyncInputSources(t *testing.T) {
	router := func(f *fakeSessions) http.Handler { return newRouter(f, nil) }

	t.Run("json", func(t *testing.T) {
		f := &fakeSessions{start: session.StartResult{SessionID: "s1", RequiresOTP: true}}
		req := httptest.NewRequest(http.MethodPost, "/v1/perform-sync",
			strings.NewReader(`{"username":"bob","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := do(t, router(f), req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", f.gotUsername)
	})

	t.Run("form", func(t *testing.T) {
		f := &fakeSessions{start: session.StartResult{SessionID: "s1", RequiresOTP: true}}
		form := url.Values{"username": {"carol"}, "password": {"pw"}}
		req := httptest.NewRequest(http.MethodPost, "/perform-sync", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := do(t, router(f), req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "carol", f.gotUsername)
	})
}

func TestPerformSyncMissingCredentials(t *testing.T) {
	rec := do(t, newRouter(&fakeSessions{}, nil), httptest.NewRequest(http.MethodGet, "/perform-sync?username=alice", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var res models.ErrorResponse
	decode(t, rec, &res)
	assert.Equal(t, models.StatusError, res.Status)
}

func TestPerformSyncAuthenticationFailed(t *testing.T) {
	f := &fakeSessions{
		start:    session.StartResult{SessionID: "dead"},
		startErr: session.ErrAuthenticationFailed,
	}
	rec := do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/perform-sync?username=a&password=b", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.StartSessionResponse
	decode(t, rec, &res)
	assert.Equal(t, models.StatusAuthenticationFailed, res.Status)
	assert.Equal(t, "dead", res.SessionID)
	assert.NotEmpty(t, res.Message)
}

func TestPerformSyncAuthenticatedWithoutOTP(t *testing.T) {
	f := &fakeSessions{start: session.StartResult{SessionID: "s1"}}
	rec := do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/perform-sync?username=a&password=b", nil))

	var res models.StartSessionResponse
	decode(t, rec, &res)
	assert.Equal(t, models.StatusAuthenticated, res.Status)
}

func TestSubmitOTPSuccess(t *testing.T) {
	f := &fakeSessions{result: &session.Result{
		Records: []session.RosterRecord{
			{CourseName: "Math", CourseRefID: "1", Students: []string{"a@x", "b@x"}},
		},
		Failures: []session.CourseFailure{},
	}}
	form := url.Values{"otp": {"123456"}, "session_id": {"s1"}}
	req := httptest.NewRequest(http.MethodPost, "/submit-otp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, newRouter(f, nil), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "success",
		"data": {
			"classrooms": [{"course_name": "Math", "course_id": "1", "students": ["a@x", "b@x"]}],
			"failures": []
		}
	}`, rec.Body.String())
	assert.Equal(t, "s1", f.gotID)
	assert.Equal(t, "123456", f.gotOTP)
}

func TestSessionErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: otp missing", session.ErrInvalidInput), http.StatusBadRequest},
		{session.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: session is busy", session.ErrInvalidState), http.StatusConflict},
		{session.ErrOTPTimeout, http.StatusGatewayTimeout},
		{session.ErrCapacity, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: context canceled", session.ErrCanceled), http.StatusRequestTimeout},
		{session.ErrInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		t.Run(c.err.Error(), func(t *testing.T) {
			f := &fakeSessions{err: c.err}
			req := httptest.NewRequest(http.MethodPost, "/collect",
				strings.NewReader(`{"session_id":"s1"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := do(t, newRouter(f, nil), req)

			assert.Equal(t, c.code, rec.Code)
			var res models.ErrorResponse
			decode(t, rec, &res)
			assert.Equal(t, models.StatusError, res.Status)
		})
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	f := &fakeSessions{err: fmt.Errorf("%w: chrome crashed at 0xdeadbeef", session.ErrInternal)}
	req := httptest.NewRequest(http.MethodPost, "/collect?session_id=s1", nil)
	rec := do(t, newRouter(f, nil), req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadbeef")
}

func TestScreenshot(t *testing.T) {
	f := &fakeSessions{shot: []byte("\x89PNG")}
	rec := do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/screenshot/s1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "\x89PNG", rec.Body.String())

	rec = do(t, newRouter(&fakeSessions{}, nil), httptest.NewRequest(http.MethodGet, "/v1/screenshot/s1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	created := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeSessions{snapshot: session.Snapshot{
		ID: "s1", State: session.StateOTPRequired, CreatedAt: created, LastActive: created,
	}}

	rec := do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap session.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, session.StateOTPRequired, snap.State)

	rec = do(t, newRouter(f, nil), httptest.NewRequest(http.MethodGet, "/sessions/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := &fakeSessions{start: session.StartResult{SessionID: "s1", RequiresOTP: true}}
	h := newRouter(f, ratelimit.NewLimiter(1, 1))

	req := func(addr string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/perform-sync?username=a&password=b", nil)
		r.RemoteAddr = addr
		return r
	}

	assert.Equal(t, http.StatusOK, do(t, h, req("10.0.0.1:1000")).Code)
	rec := do(t, h, req("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, do(t, h, req("10.0.0.2:1000")).Code)

	// Status polling is not limited.
	f.snapshot = session.Snapshot{ID: "s1"}
	r := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	r.RemoteAddr = "10.0.0.1:1002"
	assert.Equal(t, http.StatusOK, do(t, h, r).Code)
}

func TestHealthAndCORS(t *testing.T) {
	rec := do(t, newRouter(&fakeSessions{}, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var res models.HealthResponse
	decode(t, rec, &res)
	assert.Equal(t, models.HealthResponse{Status: models.StatusOK, ActiveSessions: 2}, res)

	rec = do(t, newRouter(&fakeSessions{}, nil), httptest.NewRequest(http.MethodOptions, "/submit-otp", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newRouter(&fakeSessions{}, nil), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
