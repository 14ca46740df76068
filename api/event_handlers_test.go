package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chronicle/core"
	"chronicle/notify"
	"chronicle/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestIngestEvent_Async(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"logger":  "UserLogger",
		"level":   "warning",
		"message": "Failed to login",
		"context": map[string]interface{}{"_message_key": "user_login_failed", "_user_id": 7},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["event_id"])

	require.Len(t, ts.processor.submitted, 1)
	event := ts.processor.submitted[0]
	assert.Equal(t, resp["event_id"], event.ID)
	assert.Equal(t, "UserLogger:user_login_failed", event.MessageType())
	assert.False(t, event.Timestamp.IsZero())
}

func TestIngestEvent_Sync(t *testing.T) {
	ts := newTestServer(t)
	ts.processor.result = &service.ProcessResult{
		EventID: "e1",
		Matched: []string{"security"},
		Deliveries: []notify.Delivery{
			{DestinationID: "ops", Type: core.DestinationSlack, RuleIDs: []string{"security"}},
			{DestinationID: "hook", Type: core.DestinationWebhook, RuleIDs: []string{"security"},
				Err: errors.New("post https://example.com/hook?token=abc: timeout")},
		},
	}

	ts0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := ts.do(t, http.MethodPost, "/api/v1/events?wait=true", map[string]interface{}{
		"id":        "e1",
		"timestamp": ts0,
		"logger":    "UserLogger",
		"level":     "warning",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp processResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "e1", resp.EventID)
	assert.Equal(t, []string{"security"}, resp.Matched)
	require.Len(t, resp.Deliveries, 2)
	assert.Equal(t, "sent", resp.Deliveries[0].Status)
	assert.Equal(t, "failed", resp.Deliveries[1].Status)
	assert.NotContains(t, resp.Deliveries[1].Error, "abc")

	require.Len(t, ts.processor.processed, 1)
	assert.True(t, ts0.Equal(ts.processor.processed[0].Timestamp))
	assert.Empty(t, ts.processor.submitted)
}

func TestIngestEvent_SyncExcluded(t *testing.T) {
	ts := newTestServer(t)
	ts.processor.result = &service.ProcessResult{EventID: "e1", Excluded: true}

	rec := ts.do(t, http.MethodPost, "/api/v1/events?wait=1", map[string]interface{}{"logger": core.NotificationLogger})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp processResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Excluded)
	assert.Equal(t, []string{}, resp.Matched)
	assert.Empty(t, resp.Deliveries)
}

func TestIngestEvent_Msgpack(t *testing.T) {
	ts := newTestServer(t)

	body, err := msgpack.Marshal(map[string]interface{}{
		"logger": "PostLogger",
		"level":  "info",
		"context": map[string]interface{}{
			"_message_key": "post_updated",
			"post_id":      42,
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/msgpack")
	rec := httptest.NewRecorder()
	ts.api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, ts.processor.submitted, 1)
	event := ts.processor.submitted[0]
	assert.Equal(t, "PostLogger:post_updated", event.MessageType())
	assert.Equal(t, int64(42), event.Context["post_id"])
}

func TestIngestEvent_InvalidMsgpack(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte{0xc1}))
	req.Header.Set("Content-Type", "application/msgpack")
	rec := httptest.NewRecorder()
	ts.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEvent_Rejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{"level": "info"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp validationResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Errors, "logger is required")

	rec = ts.do(t, http.MethodPost, "/api/v1/events", `{"logger":"UserLogger","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, ts.processor.submitted)
}

func TestIngestEvent_QueueFull(t *testing.T) {
	ts := newTestServer(t)
	ts.processor.err = core.ErrWorkerPoolQueueFull

	rec := ts.do(t, http.MethodPost, "/api/v1/events", map[string]interface{}{"logger": "UserLogger"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestIngestEvent_ProcessFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.processor.err = errors.New("failed to load rules: database is locked")

	rec := ts.do(t, http.MethodPost, "/api/v1/events?wait=true", map[string]interface{}{"logger": "UserLogger"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "locked")
}
