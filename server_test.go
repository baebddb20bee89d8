package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (http.Handler, *trackerFixture) {
	t.Helper()
	f := newTrackerFixture(time.Minute, StepResult{})
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	return NewRouter(f.tracker, reg, []string{"*"}, zap.NewNop()), f
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Detail
}

func TestCreateTopup(t *testing.T) {
	for _, base := range []string{"/api/automation", "/automation"} {
		t.Run(base, func(t *testing.T) {
			h, f := newTestRouter(t)

			rec := doRequest(h, http.MethodPost, base+"/topup", `{"player_uid":"123456789","diamond_amount":100}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

			var o Order
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
			assert.NotEmpty(t, o.ID)
			assert.Equal(t, StatusQueued, o.Status)
			assert.Equal(t, 100, o.Amount)
			assert.Equal(t, []string{o.ID}, f.scheduler.queued)
		})
	}
}

func TestCreateTopupRejectsBadInput(t *testing.T) {
	h, f := newTestRouter(t)

	testCases := []struct {
		name   string
		body   string
		expect int
	}{
		{"malformed", `{"player_uid":`, http.StatusBadRequest},
		{"unknown field", `{"player_uid":"1","diamond_amount":5,"coupon":"x"}`, http.StatusBadRequest},
		{"missing player", `{"diamond_amount":100}`, http.StatusBadRequest},
		{"zero amount", `{"player_uid":"1","diamond_amount":0}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/api/automation/topup", tc.body)
			assert.Equal(t, tc.expect, rec.Code)
			assert.NotEmpty(t, decodeDetail(t, rec))
		})
	}
	assert.Empty(t, f.scheduler.queued)
}

func TestCreateTopupQueueFull(t *testing.T) {
	h, f := newTestRouter(t)
	f.scheduler.err = ErrQueueFull

	rec := doRequest(h, http.MethodPost, "/api/automation/topup", `{"player_uid":"1","diamond_amount":5}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetOrderAndLogs(t *testing.T) {
	h, f := newTestRouter(t)
	f.seed(t, "o1", StatusFailed)
	require.NoError(t, f.store.AppendLog(context.Background(), OrderLog{OrderID: "o1", Level: LevelError, State: StateLogin, Message: "boom", Timestamp: time.Now()}))

	rec := doRequest(h, http.MethodGet, "/api/automation/orders/o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var o Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, StatusFailed, o.Status)

	rec = doRequest(h, http.MethodGet, "/automation/orders/o1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "error", logs[0]["log_level"])
	assert.Equal(t, "login", logs[0]["state"])

	rec = doRequest(h, http.MethodGet, "/api/automation/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found", decodeDetail(t, rec))

	rec = doRequest(h, http.MethodGet, "/api/automation/orders/missing/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrdersEndpoint(t *testing.T) {
	h, f := newTestRouter(t)
	f.seed(t, "a", StatusFailed)
	f.seed(t, "b", StatusCompleted)

	rec := doRequest(h, http.MethodGet, "/api/automation/orders?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].ID)

	rec = doRequest(h, http.MethodGet, "/api/automation/orders?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodGet, "/api/automation/orders?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryEndpoint(t *testing.T) {
	h, f := newTestRouter(t)
	f.seed(t, "failed", StatusFailed)
	f.seed(t, "done", StatusCompleted)

	rec := doRequest(h, http.MethodPost, "/api/automation/orders/failed/retry", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp retryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.OrderID)
	assert.Equal(t, T("retry_accepted"), resp.Message)

	rec = doRequest(h, http.MethodPost, "/api/automation/orders/done/retry", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only failed or manual_pending orders can be retried", decodeDetail(t, rec))

	rec = doRequest(h, http.MethodPost, "/api/automation/orders/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.seed(t, "running", StatusProcessing)
	f.scheduler.active["running"] = true
	rec = doRequest(h, http.MethodPost, "/api/automation/orders/running/retry", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.seed(t, "busy", StatusFailed)
	f.scheduler.active["busy"] = true
	rec = doRequest(h, http.MethodPost, "/api/automation/orders/busy/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{"failed"}, f.scheduler.queued)
}

func TestStatsEndpoint(t *testing.T) {
	h, f := newTestRouter(t)
	for i, st := range []OrderStatus{StatusCompleted, StatusCompleted, StatusCompleted, StatusFailed} {
		f.seed(t, string(rune('a'+i)), st)
	}

	rec := doRequest(h, http.MethodGet, "/api/automation/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4.0, stats["total_orders"])
	assert.Equal(t, 3.0, stats["completed"])
	assert.Equal(t, 75.0, stats["success_rate"])
}

func TestOperationalEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "topup_queue_depth")

	rec = doRequest(h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeDetail(t, rec))
}

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		err    error
		expect int
	}{
		{ErrOrderNotFound, http.StatusNotFound},
		{ErrNotRetryable, http.StatusBadRequest},
		{ErrInvalidOrder, http.StatusBadRequest},
		{ErrDuplicateOrder, http.StatusConflict},
		{ErrAlreadyRunning, http.StatusConflict},
		{ErrQueueFull, http.StatusServiceUnavailable},
		{ErrDispatcherDone, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errScripted, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		if got := httpStatus(tc.err); got != tc.expect {
			t.Errorf("For %v expected %d, got %d", tc.err, tc.expect, got)
		}
	}

	if got := errorDetail(errScripted); got != "Internal server error occurred" {
		t.Errorf("Internal errors must not leak details, got %q", got)
	}
}
