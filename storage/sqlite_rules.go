package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chronicle/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteAlertRuleStorage handles alert rule persistence in SQLite. It also
// implements core.RuleStore for the alert pipeline and dispatcher.
type SQLiteAlertRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertRuleStorage creates a new SQLite alert rule storage handler
func NewSQLiteAlertRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAlertRuleStorage {
	return &SQLiteAlertRuleStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

const alertRuleColumns = `id, name, kind, preset, conditions, destinations, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertRule(row rowScanner) (*core.AlertRule, error) {
	var rule core.AlertRule
	var kind string
	var preset, conditions sql.NullString
	var destinations string
	var enabled int
	var createdAt, updatedAt string

	if err := row.Scan(&rule.ID, &rule.Name, &kind, &preset, &conditions, &destinations, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rule.Kind = core.RuleKind(kind)
	rule.Preset = preset.String
	rule.Enabled = enabled == 1

	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(destinations), &rule.Destinations); err != nil {
		return nil, fmt.Errorf("failed to parse destinations for rule %s: %w", rule.ID, err)
	}
	if rule.Destinations == nil {
		rule.Destinations = []string{}
	}

	rule.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rule, nil
}

// encodeConditions stores the tree as JSON text. Trees already supplied as
// JSON text are kept verbatim.
func encodeConditions(conditions interface{}) (sql.NullString, error) {
	switch v := conditions.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return sql.NullString{}, nil
		}
		if !json.Valid([]byte(v)) {
			return sql.NullString{}, fmt.Errorf("conditions text is not valid JSON")
		}
		return sql.NullString{String: v, Valid: true}, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return sql.NullString{}, fmt.Errorf("conditions text is not valid JSON")
		}
		return sql.NullString{String: string(v), Valid: true}, nil
	}

	data, err := json.Marshal(conditions)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ListRules returns every rule in creation order
func (s *SQLiteAlertRuleStorage) ListRules(ctx context.Context) ([]core.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules ORDER BY position ASC, created_at ASC`

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	// non-nil so JSON encodes [] rather than null
	rules := make([]core.AlertRule, 0)
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			s.logger.Warnw("Skipping unreadable alert rule", "error", err)
			continue
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves a single rule by ID
func (s *SQLiteAlertRuleStorage) GetRule(ctx context.Context, id string) (*core.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE id = ?`

	rule, err := scanAlertRule(s.sqlite.ReadDB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return rule, nil
}

// CreateRule persists a new rule. A missing ID is generated.
func (s *SQLiteAlertRuleStorage) CreateRule(ctx context.Context, rule *core.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.Normalize()
	if err := rule.CheckShape(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	conditions, err := encodeConditions(rule.Conditions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rule.Destinations == nil {
		rule.Destinations = []string{}
	}
	destinations, err := json.Marshal(rule.Destinations)
	if err != nil {
		return fmt.Errorf("failed to marshal destinations: %w", err)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM alert_rules WHERE id = ?`, rule.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check existing rule: %w", err)
		}
		if exists > 0 {
			return ErrDuplicateRule
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO alert_rules (id, name, kind, preset, conditions, destinations, enabled, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM alert_rules), ?, ?)`,
			rule.ID,
			rule.Name,
			string(rule.Kind),
			nullString(rule.Preset),
			conditions,
			string(destinations),
			boolToInt(rule.Enabled),
			rule.CreatedAt.Format(time.RFC3339Nano),
			rule.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert rule: %w", err)
		}

		s.logger.Infow("Created alert rule", "rule_id", rule.ID, "kind", rule.Kind)
		return nil
	})
}

// UpdateRule replaces an existing rule, preserving its creation time and order
func (s *SQLiteAlertRuleStorage) UpdateRule(ctx context.Context, id string, rule *core.AlertRule) error {
	existing, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}

	rule.ID = id
	rule.Normalize()
	if err := rule.CheckShape(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	conditions, err := encodeConditions(rule.Conditions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rule.Destinations == nil {
		rule.Destinations = []string{}
	}
	destinations, err := json.Marshal(rule.Destinations)
	if err != nil {
		return fmt.Errorf("failed to marshal destinations: %w", err)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE alert_rules
		SET name = ?, kind = ?, preset = ?, conditions = ?, destinations = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name,
		string(rule.Kind),
		nullString(rule.Preset),
		conditions,
		string(destinations),
		boolToInt(rule.Enabled),
		rule.UpdatedAt.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}

	s.logger.Infow("Updated alert rule", "rule_id", id)
	return nil
}

// DeleteRule deletes a rule
func (s *SQLiteAlertRuleStorage) DeleteRule(ctx context.Context, id string) error {
	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}

	s.logger.Infow("Deleted alert rule", "rule_id", id)
	return nil
}

// EnableRule enables a rule
func (s *SQLiteAlertRuleStorage) EnableRule(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// DisableRule disables a rule
func (s *SQLiteAlertRuleStorage) DisableRule(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *SQLiteAlertRuleStorage) setEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetCustomRules returns the current rule snapshot, custom and preset
func (s *SQLiteAlertRuleStorage) GetCustomRules(ctx context.Context) ([]core.AlertRule, error) {
	return s.ListRules(ctx)
}

// GetDestinations returns the current destination snapshot
func (s *SQLiteAlertRuleStorage) GetDestinations(ctx context.Context) ([]core.Destination, error) {
	return listDestinations(ctx, s.sqlite, s.logger)
}

// ImportRules upserts rules and destinations from a seed document in one
// transaction
func (s *SQLiteAlertRuleStorage) ImportRules(ctx context.Context, doc *core.AlertRules) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, d := range doc.Destinations {
			config, err := json.Marshal(nonNilConfig(d.Config))
			if err != nil {
				return fmt.Errorf("failed to marshal config for destination %s: %w", d.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO destinations (id, name, type, config, enabled, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type,
					config = excluded.config, enabled = excluded.enabled, updated_at = excluded.updated_at`,
				d.ID, d.Name, string(d.Type), string(config), boolToInt(d.Enabled), now, now)
			if err != nil {
				return fmt.Errorf("failed to import destination %s: %w", d.ID, err)
			}
		}

		for i := range doc.Rules {
			rule := doc.Rules[i]
			rule.Normalize()
			if err := rule.CheckShape(); err != nil {
				return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, rule.ID, err)
			}
			conditions, err := encodeConditions(rule.Conditions)
			if err != nil {
				return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, rule.ID, err)
			}
			if rule.Destinations == nil {
				rule.Destinations = []string{}
			}
			destinations, err := json.Marshal(rule.Destinations)
			if err != nil {
				return fmt.Errorf("failed to marshal destinations: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO alert_rules (id, name, kind, preset, conditions, destinations, enabled, position, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM alert_rules), ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind, preset = excluded.preset,
					conditions = excluded.conditions, destinations = excluded.destinations,
					enabled = excluded.enabled, updated_at = excluded.updated_at`,
				rule.ID, rule.Name, string(rule.Kind), nullString(rule.Preset), conditions,
				string(destinations), boolToInt(rule.Enabled), now, now)
			if err != nil {
				return fmt.Errorf("failed to import rule %s: %w", rule.ID, err)
			}
		}

		s.logger.Infow("Imported alert rules", "rules", len(doc.Rules), "destinations", len(doc.Destinations))
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
