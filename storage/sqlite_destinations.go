package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chronicle/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteDestinationStorage handles notification destination persistence
type SQLiteDestinationStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteDestinationStorage creates a new SQLite destination storage handler
func NewSQLiteDestinationStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteDestinationStorage {
	return &SQLiteDestinationStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

const destinationColumns = `id, name, type, config, enabled, created_at, updated_at`

func scanDestination(row rowScanner) (*core.Destination, error) {
	var d core.Destination
	var destType, config string
	var enabled int
	var createdAt, updatedAt string

	if err := row.Scan(&d.ID, &d.Name, &destType, &config, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Type = core.DestinationType(destType)
	d.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(config), &d.Config); err != nil {
		return nil, fmt.Errorf("failed to parse config for destination %s: %w", d.ID, err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &d, nil
}

func listDestinations(ctx context.Context, sqlite *SQLite, logger *zap.SugaredLogger) ([]core.Destination, error) {
	rows, err := sqlite.ReadDB.QueryContext(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	destinations := make([]core.Destination, 0)
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			logger.Warnw("Skipping unreadable destination", "error", err)
			continue
		}
		destinations = append(destinations, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating destinations: %w", err)
	}
	return destinations, nil
}

func nonNilConfig(config map[string]interface{}) map[string]interface{} {
	if config == nil {
		return map[string]interface{}{}
	}
	return config
}

// ListDestinations returns every destination
func (s *SQLiteDestinationStorage) ListDestinations(ctx context.Context) ([]core.Destination, error) {
	return listDestinations(ctx, s.sqlite, s.logger)
}

// GetDestination retrieves a destination by ID
func (s *SQLiteDestinationStorage) GetDestination(ctx context.Context, id string) (*core.Destination, error) {
	d, err := scanDestination(s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDestinationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return d, nil
}

// CreateDestination persists a new destination. A missing ID is generated.
func (s *SQLiteDestinationStorage) CreateDestination(ctx context.Context, d *core.Destination) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("unknown destination type %q", d.Type)
	}

	existing, err := s.GetDestination(ctx, d.ID)
	if err != nil && !errors.Is(err, ErrDestinationNotFound) {
		return fmt.Errorf("failed to check existing destination: %w", err)
	}
	if existing != nil {
		return ErrDuplicateDestination
	}

	config, err := json.Marshal(nonNilConfig(d.Config))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO destinations (id, name, type, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Type), string(config), boolToInt(d.Enabled),
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert destination: %w", err)
	}

	s.logger.Infow("Created destination", "destination_id", d.ID, "type", d.Type)
	return nil
}

// UpdateDestination replaces an existing destination
func (s *SQLiteDestinationStorage) UpdateDestination(ctx context.Context, id string, d *core.Destination) error {
	existing, err := s.GetDestination(ctx, id)
	if err != nil {
		return err
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("unknown destination type %q", d.Type)
	}

	config, err := json.Marshal(nonNilConfig(d.Config))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	d.ID = id
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE destinations SET name = ?, type = ?, config = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Type), string(config), boolToInt(d.Enabled), d.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update destination: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrDestinationNotFound
	}

	s.logger.Infow("Updated destination", "destination_id", id)
	return nil
}

// DeleteDestination deletes a destination. Rules referencing it keep the id;
// the dispatcher skips ids it cannot resolve.
func (s *SQLiteDestinationStorage) DeleteDestination(ctx context.Context, id string) error {
	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrDestinationNotFound
	}

	s.logger.Infow("Deleted destination", "destination_id", id)
	return nil
}
