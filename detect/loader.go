package detect

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chronicle/core"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema/alert_rules.schema.json
var alertRulesSchema []byte

// Document formats accepted by the loader
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatForPath picks the document format from a file extension
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadRulesFile reads and checks a rules seed file
func LoadRulesFile(path string, logger *zap.SugaredLogger) (*core.AlertRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rules, err := ParseRulesDocument(data, FormatForPath(path), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if logger != nil {
		logger.Infow("Loaded alert rules", "file", path, "rules", len(rules.Rules), "destinations", len(rules.Destinations))
	}
	return rules, nil
}

// ParseRulesDocument decodes a rules document, checks it against the
// embedded JSON schema and validates every custom rule's conditions.
func ParseRulesDocument(data []byte, format string, logger *zap.SugaredLogger) (*core.AlertRules, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var generic interface{}
	var rules core.AlertRules

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		if err := json.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	}

	if err := validateAgainstSchema(generic); err != nil {
		return nil, err
	}

	if err := checkRules(&rules, logger); err != nil {
		return nil, err
	}
	return &rules, nil
}

func validateAgainstSchema(document interface{}) error {
	schemaLoader := gojsonschema.NewBytesLoader(alertRulesSchema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate rules against schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("rules validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func checkRules(rules *core.AlertRules, logger *zap.SugaredLogger) error {
	destinations := make(map[string]bool, len(rules.Destinations))
	for _, d := range rules.Destinations {
		if destinations[d.ID] {
			return fmt.Errorf("duplicate destination id %q", d.ID)
		}
		if !d.Type.IsValid() {
			return fmt.Errorf("destination %s: unknown type %q", d.ID, d.Type)
		}
		destinations[d.ID] = true
	}

	seen := make(map[string]bool, len(rules.Rules))
	for i := range rules.Rules {
		rule := &rules.Rules[i]
		rule.Normalize()

		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true

		if err := rule.CheckShape(); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}

		if rule.IsPreset() {
			if _, ok := LookupPreset(rule.Preset); !ok {
				return fmt.Errorf("rule %s: unknown preset %q", rule.ID, rule.Preset)
			}
		} else {
			if IsEmptyConditions(rule.Conditions) {
				logger.Warnw("Custom rule has no conditions and will never match", "rule_id", rule.ID)
			}
			if result := Validate(rule.Conditions); !result.Valid {
				return fmt.Errorf("rule %s: invalid conditions: %s", rule.ID, strings.Join(result.Errors, "; "))
			}
		}

		// destinations may live in the store rather than this file
		if len(destinations) > 0 {
			for _, id := range rule.Destinations {
				if !destinations[id] {
					logger.Warnw("Rule references a destination not defined in this file", "rule_id", rule.ID, "destination", id)
				}
			}
		}
	}
	return nil
}
