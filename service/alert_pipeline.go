package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chronicle/core"
	"chronicle/metrics"
	"chronicle/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleMatcher selects the enabled rules matching an event
type RuleMatcher interface {
	IsExcluded(logger string) bool
	FilterEnabledMatches(ctx context.Context, rules []core.AlertRule, event *core.Event) []core.AlertRule
}

// Notifier delivers matched rules to their destinations
type Notifier interface {
	Dispatch(ctx context.Context, event *core.Event, rules []core.AlertRule) ([]notify.Delivery, error)
}

// ErrInvalidEvent is returned for events without a logger
var ErrInvalidEvent = errors.New("event must name a logger")

// ProcessResult describes what happened to one event
type ProcessResult struct {
	EventID    string            `json:"event_id"`
	Excluded   bool              `json:"excluded,omitempty"`
	Matched    []string          `json:"matched_rules"`
	Deliveries []notify.Delivery `json:"deliveries"`
}

// AlertPipeline takes logged events through rule matching and notification.
// Events submitted asynchronously run on the worker pool.
type AlertPipeline struct {
	matcher  RuleMatcher
	store    core.RuleStore
	notifier Notifier
	pool     *core.WorkerPool
	logger   *zap.SugaredLogger
}

// NewAlertPipeline wires the pipeline. pool may be nil when only Process is used.
func NewAlertPipeline(matcher RuleMatcher, store core.RuleStore, notifier Notifier, pool *core.WorkerPool, logger *zap.SugaredLogger) *AlertPipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AlertPipeline{
		matcher:  matcher,
		store:    store,
		notifier: notifier,
		pool:     pool,
		logger:   logger,
	}
}

// PrepareEvent fills in a missing ID and timestamp and rejects events
// without a logger
func PrepareEvent(event *core.Event) error {
	if event == nil || event.Logger == "" {
		return ErrInvalidEvent
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return nil
}

// Process matches the event against the current rule snapshot and sends
// notifications for the matches
func (p *AlertPipeline) Process(ctx context.Context, event *core.Event) (*ProcessResult, error) {
	if err := PrepareEvent(event); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EventsIngested.WithLabelValues(event.Logger).Inc()

	result := &ProcessResult{EventID: event.ID, Matched: []string{}, Deliveries: []notify.Delivery{}}
	if p.matcher.IsExcluded(event.Logger) {
		result.Excluded = true
		return result, nil
	}

	rules, err := p.store.GetCustomRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	matches := p.matcher.FilterEnabledMatches(ctx, rules, event)
	if len(matches) == 0 {
		return result, nil
	}
	for _, rule := range matches {
		result.Matched = append(result.Matched, rule.ID)
	}
	p.logger.Debugw("Event matched alert rules", "event_id", event.ID, "logger", event.Logger, "rules", result.Matched)

	deliveries, err := p.notifier.Dispatch(ctx, event, matches)
	if err != nil {
		return result, fmt.Errorf("failed to dispatch notifications: %w", err)
	}
	result.Deliveries = append(result.Deliveries, deliveries...)
	return result, nil
}

// Submit queues the event for asynchronous processing
func (p *AlertPipeline) Submit(event *core.Event) error {
	if err := PrepareEvent(event); err != nil {
		return err
	}
	if p.pool == nil {
		return core.ErrWorkerPoolNotRunning
	}
	return p.pool.Submit(func(ctx context.Context) {
		if _, err := p.Process(ctx, event); err != nil {
			p.logger.Errorw("Failed to process event", "event_id", event.ID, "logger", event.Logger, "error", err)
		}
	})
}

// Record is a notify.DeliveryRecorder that feeds delivery events back into
// the pipeline. They carry the notification logger and so never alert.
func (p *AlertPipeline) Record(event *core.Event) {
	if err := p.Submit(event); err != nil {
		p.logger.Debugw("Dropped delivery event", "event_id", event.ID, "error", err)
	}
}
