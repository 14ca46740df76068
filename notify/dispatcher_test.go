package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chronicle/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func routedRule(id string, destinations ...string) core.AlertRule {
	return core.AlertRule{ID: id, Name: id, Kind: core.RuleKindCustom, Destinations: destinations, Enabled: true}
}

func newTestDispatcher(store core.RuleStore, transport Transport, opts ...Option) *Dispatcher {
	all := []Option{
		WithTransport(core.DestinationWebhook, transport),
		WithTransport(core.DestinationSlack, transport),
		WithRateLimit(0, 0),
	}
	return NewDispatcher(store, zap.NewNop().Sugar(), append(all, opts...)...)
}

func TestDispatch_GroupsByDestination(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{
		destination("ops", core.DestinationWebhook, nil),
		destination("sec", core.DestinationSlack, nil),
	}}
	transport := &recordingTransport{}
	d := newTestDispatcher(store, transport)

	rules := []core.AlertRule{
		routedRule("a", "ops", "sec"),
		routedRule("b", "ops", "ops"),
	}
	deliveries, err := d.Dispatch(context.Background(), testEvent(), rules)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	assert.Equal(t, "ops", deliveries[0].DestinationID)
	assert.Equal(t, []string{"a", "b"}, deliveries[0].RuleIDs)
	assert.True(t, deliveries[0].Succeeded())
	assert.Equal(t, "sec", deliveries[1].DestinationID)
	assert.Equal(t, []string{"a"}, deliveries[1].RuleIDs)

	assert.Equal(t, []string{"ops", "sec"}, transport.sentTo())
	assert.Len(t, transport.sent[0].Rules, 2)
}

func TestDispatch_SkipsUnknownAndDisabled(t *testing.T) {
	disabled := destination("off", core.DestinationWebhook, nil)
	disabled.Enabled = false
	store := &memoryStore{destinations: []core.Destination{disabled}}

	obs, logs := observer.New(zap.WarnLevel)
	transport := &recordingTransport{}
	d := NewDispatcher(store, zap.New(obs).Sugar(), WithTransport(core.DestinationWebhook, transport))

	deliveries, err := d.Dispatch(context.Background(), testEvent(), []core.AlertRule{routedRule("a", "missing", "off")})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
	assert.Empty(t, transport.sentTo())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Rule references unknown destination", entry.Message)
	assert.Equal(t, core.NotificationLogger, entry.LoggerName)
}

func TestDispatch_NothingToDo(t *testing.T) {
	store := &memoryStore{err: errors.New("should not be called")}
	d := newTestDispatcher(store, &recordingTransport{})

	deliveries, err := d.Dispatch(context.Background(), testEvent(), nil)
	assert.NoError(t, err)
	assert.Nil(t, deliveries)

	deliveries, err = d.Dispatch(context.Background(), nil, []core.AlertRule{routedRule("a", "ops")})
	assert.NoError(t, err)
	assert.Nil(t, deliveries)
}

func TestDispatch_StoreError(t *testing.T) {
	d := newTestDispatcher(&memoryStore{err: errors.New("db down")}, &recordingTransport{})
	_, err := d.Dispatch(context.Background(), testEvent(), []core.AlertRule{routedRule("a", "ops")})
	assert.ErrorContains(t, err, "db down")
}

func TestDispatch_FailureIsolatedPerDestination(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{
		destination("broken", core.DestinationWebhook, nil),
		destination("ok", core.DestinationWebhook, nil),
	}}
	transport := &recordingTransport{fail: map[string]error{"broken": errors.New("connection refused")}}
	d := newTestDispatcher(store, transport)

	deliveries, err := d.Dispatch(context.Background(), testEvent(), []core.AlertRule{routedRule("a", "broken", "ok")})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.False(t, deliveries[0].Succeeded())
	assert.True(t, deliveries[1].Succeeded())
	assert.Equal(t, []string{"ok"}, transport.sentTo())
}

func TestDispatch_CircuitBreakerOpens(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{destination("broken", core.DestinationWebhook, nil)}}
	calls := 0
	transport := TransportFunc(func(ctx context.Context, dest core.Destination, n Notification) error {
		calls++
		return errors.New("500")
	})
	d := newTestDispatcher(store, transport, WithCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures: 2, Timeout: time.Hour, MaxHalfOpenRequests: 1,
	}))

	rules := []core.AlertRule{routedRule("a", "broken")}
	for i := 0; i < 4; i++ {
		_, err := d.Dispatch(context.Background(), testEvent(), rules)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, core.CircuitBreakerStateOpen, d.BreakerState("broken"))
	assert.Equal(t, core.CircuitBreakerStateClosed, d.BreakerState("unknown"))

	deliveries, _ := d.Dispatch(context.Background(), testEvent(), rules)
	assert.ErrorIs(t, deliveries[0].Err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, "circuit_open", failureReason(deliveries[0].Err))
}

func TestDispatch_RateLimited(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{destination("ops", core.DestinationWebhook, nil)}}
	transport := &recordingTransport{}
	d := newTestDispatcher(store, transport, WithRateLimit(0.001, 2))

	var limited int
	for i := 0; i < 4; i++ {
		deliveries, err := d.Dispatch(context.Background(), testEvent(), []core.AlertRule{routedRule("a", "ops")})
		require.NoError(t, err)
		if errors.Is(deliveries[0].Err, ErrRateLimited) {
			limited++
		}
	}
	assert.Equal(t, 2, limited)
	assert.Len(t, transport.sentTo(), 2)
}

func TestDispatch_NoTransport(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{destination("x", core.DestinationType("pager"), nil)}}
	d := newTestDispatcher(store, &recordingTransport{})

	deliveries, err := d.Dispatch(context.Background(), testEvent(), []core.AlertRule{routedRule("a", "x")})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.ErrorIs(t, deliveries[0].Err, ErrNoTransport)
}

func TestDispatch_RecordsDeliveryEvents(t *testing.T) {
	store := &memoryStore{destinations: []core.Destination{
		destination("ok", core.DestinationWebhook, nil),
		destination("broken", core.DestinationWebhook, nil),
	}}
	transport := &recordingTransport{fail: map[string]error{"broken": errors.New("post https://example.test/x?token=abc: refused")}}

	var mu sync.Mutex
	var recorded []*core.Event
	d := newTestDispatcher(store, transport, WithDeliveryRecorder(func(e *core.Event) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, e)
	}))

	source := testEvent()
	_, err := d.Dispatch(context.Background(), source, []core.AlertRule{routedRule("a", "ok", "broken")})
	require.NoError(t, err)

	require.Len(t, recorded, 2)
	assert.Equal(t, core.NotificationLogger, recorded[0].Logger)
	assert.Equal(t, "info", recorded[0].Level)
	assert.Equal(t, "notification_sent", recorded[0].MessageKey())
	assert.Equal(t, source.ID, recorded[0].Context["_source_event_id"])

	assert.Equal(t, "error", recorded[1].Level)
	assert.Equal(t, "notification_failed", recorded[1].MessageKey())
	assert.Contains(t, recorded[1].Message, "token=REDACTED")
}

func TestDispatcher_Test(t *testing.T) {
	transport := &recordingTransport{}
	d := newTestDispatcher(&memoryStore{}, transport)

	require.NoError(t, d.Test(context.Background(), destination("ops", core.DestinationWebhook, nil)))
	require.Len(t, transport.sent, 1)
	assert.Equal(t, "Activity alert: Destination test", transport.sent[0].Title())

	assert.ErrorIs(t, d.Test(context.Background(), destination("x", "pager", nil)), ErrNoTransport)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "rate_limited", failureReason(ErrRateLimited))
	assert.Equal(t, "config", failureReason(ErrMissingConfig))
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "send_error", failureReason(errors.New("x")))
}
