package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// User is the slice of the host's user record the alerting engine needs
type User struct {
	ID        string    `json:"id"`
	Login     string    `json:"login,omitempty"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLiteUserStorage mirrors user roles so older events without a recorded
// role can still be matched on user_role. Implements core.UserDirectory.
type SQLiteUserStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteUserStorage creates a new SQLite user storage handler
func NewSQLiteUserStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	return &SQLiteUserStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// UpsertUser creates or updates a user's role
func (s *SQLiteUserStorage) UpsertUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	user.UpdatedAt = time.Now().UTC()

	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO users (id, login, role, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET login = excluded.login, role = excluded.role, updated_at = excluded.updated_at`,
		user.ID, user.Login, user.Role, user.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	s.logger.Debugw("Upserted user", "user_id", user.ID, "role", user.Role)
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteUserStorage) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	var login sql.NullString
	var updatedAt string

	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, login, role, updated_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &login, &user.Role, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Login = login.String
	user.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &user, nil
}

// ListUsers returns every mirrored user
func (s *SQLiteUserStorage) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `SELECT id, login, role, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		var login sql.NullString
		var updatedAt string
		if err := rows.Scan(&user.ID, &login, &user.Role, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.Login = login.String
		user.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// DeleteUser deletes a user
func (s *SQLiteUserStorage) DeleteUser(ctx context.Context, id string) error {
	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUserRole returns the user's role. An unknown user has an empty role and
// no error, so callers can cache the negative result.
func (s *SQLiteUserStorage) GetUserRole(ctx context.Context, userID string) (string, error) {
	user, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.Role, nil
}
