package detect

import (
	"context"
	"fmt"
	"sync"

	"chronicle/core"
	"chronicle/metrics"
	"chronicle/util/goroutine"
	"go.uber.org/zap"
)

// Engine answers, per rule and per event, whether the rule matches.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	resolver *Resolver
	logger   *zap.SugaredLogger
	excluded map[string]struct{}
	maxDepth int
}

// Option configures an Engine
type Option func(*Engine)

// WithExcludedLoggers replaces the set of loggers whose events never alert.
// The default excludes the notification logger to avoid feedback loops.
func WithExcludedLoggers(loggers ...string) Option {
	return func(e *Engine) {
		e.excluded = make(map[string]struct{}, len(loggers))
		for _, l := range loggers {
			if l != "" {
				e.excluded[l] = struct{}{}
			}
		}
	}
}

// WithMaxDepth bounds condition tree nesting
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEngine creates an engine. directory backs the user_role fallback and may
// be nil.
func NewEngine(directory core.UserDirectory, logger *zap.SugaredLogger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := &Engine{
		resolver: NewResolver(directory, logger),
		logger:   logger,
		excluded: map[string]struct{}{core.NotificationLogger: {}},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsExcluded reports whether events from logger are skipped by FilterEnabledMatches
func (e *Engine) IsExcluded(logger string) bool {
	_, ok := e.excluded[logger]
	return ok
}

// Evaluate resolves the event and evaluates tree against it. An empty tree
// matches every event.
func (e *Engine) Evaluate(ctx context.Context, tree interface{}, event *core.Event) bool {
	node, _ := parseTree(tree, e.maxDepth)
	if node == nil {
		return true
	}
	return e.evaluate(node, func() FieldTable { return e.resolver.Resolve(ctx, event) })
}

// EvaluateRule evaluates one rule against the event. A custom rule with no
// conditions matches nothing. The Enabled flag is not consulted.
func (e *Engine) EvaluateRule(ctx context.Context, rule core.AlertRule, event *core.Event) bool {
	fields := newLazyFields(ctx, e.resolver, event)
	return e.matchRule(rule, event, fields)
}

// FilterEnabledMatches returns the enabled rules matching the event, in input
// order. Events from excluded loggers match nothing. The field table is
// resolved at most once per call.
func (e *Engine) FilterEnabledMatches(ctx context.Context, rules []core.AlertRule, event *core.Event) []core.AlertRule {
	if event == nil {
		return nil
	}
	if e.IsExcluded(event.Logger) {
		e.logger.Debugw("Skipping rule matching for excluded logger", "logger", event.Logger, "event_id", event.ID)
		return nil
	}

	fields := newLazyFields(ctx, e.resolver, event)
	var matches []core.AlertRule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if e.matchRule(rule, event, fields) {
			metrics.RuleMatches.WithLabelValues(ruleKind(rule)).Inc()
			matches = append(matches, rule)
		}
	}
	return matches
}

// Validate checks the shape of a condition tree
func (e *Engine) Validate(tree interface{}) ValidationResult {
	return validateTree(tree, e.maxDepth)
}

// Describe summarizes a condition tree
func (e *Engine) Describe(tree interface{}) string {
	return describeTree(tree, e.maxDepth)
}

// DescribeRule summarizes what a rule matches. Preset rules use the catalog
// description.
func (e *Engine) DescribeRule(rule core.AlertRule) string {
	if rule.IsPreset() {
		preset, ok := LookupPreset(rule.Preset)
		if !ok {
			return fmt.Sprintf("Unknown preset %q.", rule.Preset)
		}
		return preset.Description
	}
	if isEmptyRuleConditions(rule.Conditions, e.maxDepth) {
		return describeNoMatch
	}
	return e.Describe(rule.Conditions)
}

func (e *Engine) matchRule(rule core.AlertRule, event *core.Event, fields *lazyFields) bool {
	kind := ruleKind(rule)

	if rule.IsPreset() {
		preset, ok := LookupPreset(rule.Preset)
		if !ok {
			e.logger.Debugw("Rule references unknown preset", "rule_id", rule.ID, "preset", rule.Preset)
			metrics.RuleEvaluations.WithLabelValues(kind, "invalid").Inc()
			return false
		}
		matched := preset.Matches(event.MessageType())
		metrics.RuleEvaluations.WithLabelValues(kind, resultLabel(matched)).Inc()
		return matched
	}

	if IsEmptyConditions(rule.Conditions) {
		metrics.RuleEvaluations.WithLabelValues(kind, "empty").Inc()
		return false
	}

	node, errs := parseTree(rule.Conditions, e.maxDepth)
	if isEmptyNode(node) {
		metrics.RuleEvaluations.WithLabelValues(kind, "empty").Inc()
		return false
	}
	// a custom rule with any malformed node never matches
	if len(errs) > 0 {
		e.logger.Debugw("Rule conditions contain malformed nodes", "rule_id", rule.ID, "errors", errs)
		metrics.InvalidConditions.Inc()
		metrics.RuleEvaluations.WithLabelValues(kind, "invalid").Inc()
		return false
	}

	matched := e.evaluate(node, fields.get)
	metrics.RuleEvaluations.WithLabelValues(kind, resultLabel(matched)).Inc()
	return matched
}

// evaluate resolves fields and runs the evaluator. A panic in either step
// is logged and turned into a non-match.
func (e *Engine) evaluate(node Node, fields func() FieldTable) bool {
	ev := &evaluation{}
	var matched bool
	panicked := goroutine.Safely("rule-evaluation", e.logger, func() {
		ev.fields = fields()
		matched = ev.eval(node)
	})
	if panicked {
		metrics.EvaluationPanics.Inc()
		return false
	}
	if ev.invalid {
		metrics.InvalidConditions.Inc()
	}
	return matched
}

// lazyFields resolves the event on first use so preset-only rule sets never
// trigger a user directory lookup
type lazyFields struct {
	once     sync.Once
	ctx      context.Context
	resolver *Resolver
	event    *core.Event
	fields   FieldTable
}

func newLazyFields(ctx context.Context, resolver *Resolver, event *core.Event) *lazyFields {
	return &lazyFields{ctx: ctx, resolver: resolver, event: event}
}

func (l *lazyFields) get() FieldTable {
	l.once.Do(func() {
		l.fields = l.resolver.Resolve(l.ctx, l.event)
	})
	return l.fields
}

// isEmptyNode reports whether a parsed top-level tree places no restriction:
// nothing at all, or an and/or with no children.
func isEmptyNode(node Node) bool {
	switch n := node.(type) {
	case nil:
		return true
	case AndNode:
		return len(n.Children) == 0
	case OrNode:
		return len(n.Children) == 0
	}
	return false
}

func isEmptyRuleConditions(conditions interface{}, maxDepth int) bool {
	if IsEmptyConditions(conditions) {
		return true
	}
	node, _ := parseTree(conditions, maxDepth)
	return isEmptyNode(node)
}

func ruleKind(rule core.AlertRule) string {
	if rule.IsPreset() {
		return string(core.RuleKindPreset)
	}
	return string(core.RuleKindCustom)
}

func resultLabel(matched bool) string {
	if matched {
		return "match"
	}
	return "no_match"
}
