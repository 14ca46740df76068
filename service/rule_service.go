package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chronicle/core"
	"chronicle/detect"
	"go.uber.org/zap"
)

// ============================================================================
// Constants
// ============================================================================

const (
	maxRuleNameLength     = 200
	maxRuleIDLength       = 100
	maxDestinationsPerRule = 50
)

// ErrValidation marks errors caused by invalid caller input
var ErrValidation = errors.New("validation failed")

// ValidationError carries every problem found in a rule
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Errors, "; "))
}

// Is lets callers match with errors.Is(err, ErrValidation)
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RuleStorage defines the rule persistence operations needed by the service.
// Defined here (consumer package) following Interface Segregation Principle.
type RuleStorage interface {
	ListRules(ctx context.Context) ([]core.AlertRule, error)
	GetRule(ctx context.Context, id string) (*core.AlertRule, error)
	CreateRule(ctx context.Context, rule *core.AlertRule) error
	UpdateRule(ctx context.Context, id string, rule *core.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	EnableRule(ctx context.Context, id string) error
	DisableRule(ctx context.Context, id string) error
}

// RuleEngine is the slice of detect.Engine the service needs
type RuleEngine interface {
	EvaluateRule(ctx context.Context, rule core.AlertRule, event *core.Event) bool
	Validate(tree interface{}) detect.ValidationResult
	Describe(tree interface{}) string
	DescribeRule(rule core.AlertRule) string
}

// RuleService sits between the management API and rule storage. It checks
// rules before they are persisted so the store never holds a rule the engine
// would reject.
type RuleService struct {
	storage RuleStorage
	engine  RuleEngine
	logger  *zap.SugaredLogger
}

// NewRuleService creates a new RuleService instance.
//
// PARAMETERS:
//   - storage: Rule persistence layer (required, panics if nil)
//   - engine: Rule engine used for validation and dry runs (required, panics if nil)
//   - logger: Structured logger (required, panics if nil)
func NewRuleService(storage RuleStorage, engine RuleEngine, logger *zap.SugaredLogger) *RuleService {
	if storage == nil {
		panic("storage is required")
	}
	if engine == nil {
		panic("engine is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &RuleService{storage: storage, engine: engine, logger: logger}
}

// ListRules returns every rule in evaluation order
func (s *RuleService) ListRules(ctx context.Context) ([]core.AlertRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	rules, err := s.storage.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves a single rule by ID
func (s *RuleService) GetRule(ctx context.Context, id string) (*core.AlertRule, error) {
	if err := checkRuleID(id); err != nil {
		return nil, err
	}
	rule, err := s.storage.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve rule %s: %w", id, err)
	}
	return rule, nil
}

// CreateRule validates and persists a new rule.
//
// BUSINESS LOGIC:
//  1. Normalize the kind (a preset id without a kind means a preset rule)
//  2. Check the envelope, the preset reference or the condition tree
//  3. Deep copy the conditions so later caller mutations cannot leak in
//  4. Persist
//
// ERRORS:
//   - ErrValidation (as *ValidationError): rule rejected, nothing stored
//   - storage.ErrDuplicateRule: ID already taken
func (s *RuleService) CreateRule(ctx context.Context, rule *core.AlertRule) error {
	if rule == nil {
		return &ValidationError{Errors: []string{"rule is required"}}
	}
	if rule.ID != "" {
		if err := checkRuleID(rule.ID); err != nil {
			return err
		}
	}
	if err := s.CheckRule(rule); err != nil {
		return err
	}
	rule.Conditions = deepCopyValue(rule.Conditions)

	if err := s.storage.CreateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	s.logger.Infow("Alert rule created", "rule_id", rule.ID, "kind", rule.Kind, "enabled", rule.Enabled)
	return nil
}

// UpdateRule validates and replaces an existing rule
func (s *RuleService) UpdateRule(ctx context.Context, id string, rule *core.AlertRule) error {
	if err := checkRuleID(id); err != nil {
		return err
	}
	if rule == nil {
		return &ValidationError{Errors: []string{"rule is required"}}
	}
	if err := s.CheckRule(rule); err != nil {
		return err
	}
	rule.Conditions = deepCopyValue(rule.Conditions)

	if err := s.storage.UpdateRule(ctx, id, rule); err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	s.logger.Infow("Alert rule updated", "rule_id", id)
	return nil
}

// DeleteRule removes a rule
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if err := checkRuleID(id); err != nil {
		return err
	}
	if err := s.storage.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	s.logger.Infow("Alert rule deleted", "rule_id", id)
	return nil
}

// SetEnabled enables or disables a rule
func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := checkRuleID(id); err != nil {
		return err
	}
	var err error
	if enabled {
		err = s.storage.EnableRule(ctx, id)
	} else {
		err = s.storage.DisableRule(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	s.logger.Infow("Alert rule toggled", "rule_id", id, "enabled", enabled)
	return nil
}

// CheckRule validates a rule without persisting it. The rule's kind is
// normalized in place.
func (s *RuleService) CheckRule(rule *core.AlertRule) error {
	rule.Normalize()

	var problems []string
	if err := rule.CheckShape(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(rule.Name) > maxRuleNameLength {
		problems = append(problems, fmt.Sprintf("rule name too long: %d characters (max %d)", len(rule.Name), maxRuleNameLength))
	}
	if len(rule.Destinations) > maxDestinationsPerRule {
		problems = append(problems, fmt.Sprintf("too many destinations: %d (max %d)", len(rule.Destinations), maxDestinationsPerRule))
	}
	for _, id := range rule.Destinations {
		if strings.TrimSpace(id) == "" {
			problems = append(problems, "destination ids cannot be empty")
			break
		}
	}

	if rule.IsPreset() {
		if rule.Preset != "" {
			if _, ok := detect.LookupPreset(rule.Preset); !ok {
				problems = append(problems, fmt.Sprintf("unknown preset %q", rule.Preset))
			}
		}
	} else if !detect.IsEmptyConditions(rule.Conditions) {
		if result := s.engine.Validate(rule.Conditions); !result.Valid {
			problems = append(problems, result.Errors...)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// DescribeRule summarizes what a rule matches. Preset rules use the catalog
// description.
func (s *RuleService) DescribeRule(rule core.AlertRule) string {
	return s.engine.DescribeRule(rule)
}

// TestRule reports whether rule would match event. The rule need not be
// stored or enabled.
func (s *RuleService) TestRule(ctx context.Context, rule core.AlertRule, event *core.Event) bool {
	rule.Normalize()
	return s.engine.EvaluateRule(ctx, rule, event)
}

func checkRuleID(id string) error {
	if id == "" {
		return &ValidationError{Errors: []string{"rule id is required"}}
	}
	if len(id) > maxRuleIDLength {
		return &ValidationError{Errors: []string{fmt.Sprintf("rule id too long: %d characters (max %d)", len(id), maxRuleIDLength)}}
	}
	return nil
}
