package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chronicle/core"
	"chronicle/metrics"
	"chronicle/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is recorded when a destination exceeds its send rate
	ErrRateLimited = errors.New("destination rate limit exceeded")
	// ErrNoTransport is recorded for a destination type with no transport
	ErrNoTransport = errors.New("no transport for destination type")
)

// Delivery is the outcome of one destination send
type Delivery struct {
	DestinationID string               `json:"destination_id"`
	Type          core.DestinationType `json:"type"`
	RuleIDs       []string             `json:"rule_ids"`
	Err           error                `json:"-"`
}

// Succeeded reports whether the send went through
func (d Delivery) Succeeded() bool {
	return d.Err == nil
}

// DeliveryRecorder receives one event per delivery attempt, logged under
// core.NotificationLogger
type DeliveryRecorder func(event *core.Event)

// Dispatcher routes matched rules to their destinations. Each destination
// has its own circuit breaker and rate limiter.
type Dispatcher struct {
	store      core.RuleStore
	logger     *zap.SugaredLogger
	transports map[core.DestinationType]Transport
	breakerCfg core.CircuitBreakerConfig
	rateLimit  rate.Limit
	burst      int
	timeout    time.Duration
	recorder   DeliveryRecorder

	mu       sync.Mutex
	breakers map[string]*core.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTransport overrides the transport for one destination type
func WithTransport(t core.DestinationType, transport Transport) Option {
	return func(d *Dispatcher) {
		d.transports[t] = transport
	}
}

// WithCircuitBreaker sets the per-destination breaker settings
func WithCircuitBreaker(cfg core.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) {
		if cfg.Validate() == nil {
			d.breakerCfg = cfg
		}
	}
}

// WithRateLimit caps sends per destination. A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.rateLimit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.rateLimit = rate.Limit(rps)
		d.burst = burst
	}
}

// WithTimeout bounds a single send
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDeliveryRecorder registers a sink for delivery events
func WithDeliveryRecorder(recorder DeliveryRecorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// NewDispatcher creates a dispatcher with the built-in transports
func NewDispatcher(store core.RuleStore, logger *zap.SugaredLogger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		store:      store,
		logger:     logger.Named(core.NotificationLogger),
		breakerCfg: core.DefaultCircuitBreakerConfig(),
		rateLimit:  rate.Limit(1),
		burst:      5,
		timeout:    10 * time.Second,
		transports: make(map[core.DestinationType]Transport),
		breakers:   make(map[string]*core.CircuitBreaker),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}

	client := NewHTTPClient(d.timeout)
	defaults := map[core.DestinationType]Transport{
		core.DestinationEmail:    &EmailTransport{},
		core.DestinationSlack:    &SlackTransport{Client: client},
		core.DestinationDiscord:  &DiscordTransport{Client: client},
		core.DestinationTelegram: &TelegramTransport{Client: client},
		core.DestinationWebhook:  &WebhookTransport{Client: client},
	}
	for t, transport := range defaults {
		if _, ok := d.transports[t]; !ok {
			d.transports[t] = transport
		}
	}
	return d
}

// Dispatch sends one notification per destination referenced by the matched
// rules. A destination shared by several rules is sent to once. Unknown and
// disabled destinations are skipped. The error is non-nil only when the
// destination snapshot cannot be read.
func (d *Dispatcher) Dispatch(ctx context.Context, event *core.Event, rules []core.AlertRule) ([]Delivery, error) {
	if event == nil || len(rules) == 0 {
		return nil, nil
	}

	snapshot, err := d.store.GetDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations: %w", err)
	}
	byID := make(map[string]core.Destination, len(snapshot))
	for _, dest := range snapshot {
		byID[dest.ID] = dest
	}

	var order []string
	routed := make(map[string][]core.AlertRule)
	for _, rule := range rules {
		for _, id := range rule.Destinations {
			dest, ok := byID[id]
			if !ok {
				d.logger.Warnw("Rule references unknown destination", "rule_id", rule.ID, "destination_id", id)
				continue
			}
			if !dest.Enabled {
				d.logger.Debugw("Skipping disabled destination", "rule_id", rule.ID, "destination_id", id)
				continue
			}
			if containsRule(routed[id], rule.ID) {
				continue
			}
			if _, seen := routed[id]; !seen {
				order = append(order, id)
			}
			routed[id] = append(routed[id], rule)
		}
	}

	deliveries := make([]Delivery, 0, len(order))
	for _, id := range order {
		n := Notification{Event: event, Rules: routed[id], SentAt: time.Now().UTC()}
		deliveries = append(deliveries, d.deliver(ctx, byID[id], n))
	}
	return deliveries, nil
}

// Test sends a synthetic notification to one destination, bypassing the
// rate limiter. Used by the management API to check destination settings.
func (d *Dispatcher) Test(ctx context.Context, dest core.Destination) error {
	transport, ok := d.transports[dest.Type]
	if !ok {
		return ErrNoTransport
	}
	event := core.NewEvent(core.NotificationLogger, "info").
		WithContext(core.ContextKeyMessageKey, "destination_test")
	event.Message = "Test notification"
	n := Notification{
		Event:  event,
		Rules:  []core.AlertRule{{ID: "test", Name: "Destination test"}},
		SentAt: time.Now().UTC(),
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return transport.Send(sendCtx, dest, n)
}

// BreakerState reports the circuit state for a destination
func (d *Dispatcher) BreakerState(destinationID string) core.CircuitBreakerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[destinationID]; ok {
		return cb.State()
	}
	return core.CircuitBreakerStateClosed
}

func (d *Dispatcher) deliver(ctx context.Context, dest core.Destination, n Notification) Delivery {
	delivery := Delivery{DestinationID: dest.ID, Type: dest.Type, RuleIDs: ruleIDs(n.Rules)}

	transport, ok := d.transports[dest.Type]
	switch {
	case !ok:
		delivery.Err = fmt.Errorf("%w: %s", ErrNoTransport, dest.Type)
	case !d.limiterFor(dest.ID).Allow():
		delivery.Err = ErrRateLimited
	default:
		delivery.Err = d.breakerFor(dest.ID).Execute(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			return transport.Send(sendCtx, dest, n)
		})
	}

	d.record(n.Event, delivery)
	return delivery
}

func (d *Dispatcher) record(event *core.Event, delivery Delivery) {
	level, key := "info", "notification_sent"
	if delivery.Err != nil {
		level, key = "error", "notification_failed"
		reason := failureReason(delivery.Err)
		metrics.NotificationsFailed.WithLabelValues(string(delivery.Type), reason).Inc()
		d.logger.Warnw("Notification failed",
			"destination_id", delivery.DestinationID,
			"type", delivery.Type,
			"event_id", event.ID,
			"rule_ids", delivery.RuleIDs,
			"reason", reason,
			"error", util.SanitizeError(delivery.Err))
	} else {
		metrics.NotificationsSent.WithLabelValues(string(delivery.Type)).Inc()
		d.logger.Infow("Notification sent",
			"destination_id", delivery.DestinationID,
			"type", delivery.Type,
			"event_id", event.ID,
			"rule_ids", delivery.RuleIDs)
	}

	if d.recorder == nil {
		return
	}
	record := core.NewEvent(core.NotificationLogger, level).
		WithContext(core.ContextKeyMessageKey, key).
		WithContext("_destination_id", delivery.DestinationID).
		WithContext("_destination_type", string(delivery.Type)).
		WithContext("_source_event_id", event.ID)
	if delivery.Err != nil {
		record.Message = util.SanitizeError(delivery.Err)
	}
	d.recorder(record)
}

func (d *Dispatcher) breakerFor(id string) *core.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[id]
	if !ok {
		// breakerCfg is validated in WithCircuitBreaker
		cb, _ = core.NewCircuitBreaker(id, d.breakerCfg)
		d.breakers[id] = cb
		d.logger.Debugw("Created circuit breaker for destination", "destination_id", id)
	}
	return cb
}

func (d *Dispatcher) limiterFor(id string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[id]
	if !ok {
		l = rate.NewLimiter(d.rateLimit, d.burst)
		d.limiters[id] = l
	}
	return l
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, core.ErrCircuitBreakerOpen), errors.Is(err, core.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, ErrNoTransport):
		return "no_transport"
	case errors.Is(err, ErrMissingConfig):
		return "config"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "send_error"
}

func containsRule(rules []core.AlertRule, id string) bool {
	for _, r := range rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

func ruleIDs(rules []core.AlertRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
