package core

import (
	"fmt"
	"strings"
	"time"
)

// AlertRule is either a custom rule (explicit condition tree) or a preset rule
// (reference to a preset catalog entry). Rules are read-only to the engine.
type AlertRule struct {
	ID   string   `json:"id" yaml:"id" example:"failed-logins"`
	Name string   `json:"name" yaml:"name" example:"Failed logins"`
	Kind RuleKind `json:"kind" yaml:"kind" example:"custom"`
	// Preset is the catalog id for preset rules
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty" example:"security"`
	// Conditions is the raw condition tree for custom rules, kept as nested
	// key/value data (operator name -> operand list)
	Conditions   interface{} `json:"conditions,omitempty" yaml:"conditions,omitempty" swaggertype:"object"`
	Destinations []string    `json:"destinations" yaml:"destinations"`
	Enabled      bool        `json:"enabled" yaml:"enabled" example:"true"`
	CreatedAt    time.Time   `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"updated_at,omitempty"`
}

// IsPreset reports whether the rule references the preset catalog. A rule
// with no kind but a preset id counts as a preset rule.
func (r AlertRule) IsPreset() bool {
	return r.Kind == RuleKindPreset || (r.Kind == "" && r.Preset != "")
}

// GetID returns the rule ID
func (r AlertRule) GetID() string {
	return r.ID
}

// GetName returns the rule name
func (r AlertRule) GetName() string {
	return r.Name
}

// Normalize fills in the rule kind when it can be inferred
func (r *AlertRule) Normalize() {
	r.Kind = RuleKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	if r.Kind == "" {
		if r.Preset != "" {
			r.Kind = RuleKindPreset
		} else {
			r.Kind = RuleKindCustom
		}
	}
}

// CheckShape validates the rule envelope. It does not inspect the condition
// tree; that is the rule validator's job.
func (r *AlertRule) CheckShape() error {
	if r == nil {
		return fmt.Errorf("cannot validate nil rule")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}

	switch r.Kind {
	case RuleKindPreset:
		if strings.TrimSpace(r.Preset) == "" {
			return fmt.Errorf("preset rules must reference a preset")
		}
		if r.Conditions != nil {
			return fmt.Errorf("preset rules cannot have conditions")
		}
		return nil
	case RuleKindCustom:
		if r.Preset != "" {
			return fmt.Errorf("custom rules cannot reference a preset")
		}
		return nil
	default:
		if r.Kind == "" {
			return fmt.Errorf("rule kind cannot be empty")
		}
		return fmt.Errorf("unknown rule kind: %s (must be custom or preset)", r.Kind)
	}
}

// AlertRules is a collection of rules, the shape of rule seed files
type AlertRules struct {
	Rules        []AlertRule   `json:"rules" yaml:"rules"`
	Destinations []Destination `json:"destinations,omitempty" yaml:"destinations,omitempty"`
}
