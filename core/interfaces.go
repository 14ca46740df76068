package core

import "context"

// RuleStore provides a read-only snapshot of rules and destinations.
// Writes are owned by the management surface, not the engine.
// Consumers: alert pipeline, notification dispatcher
type RuleStore interface {
	// GetCustomRules returns every stored rule, custom and preset.
	GetCustomRules(ctx context.Context) ([]AlertRule, error)
	// GetDestinations returns every configured destination.
	GetDestinations(ctx context.Context) ([]Destination, error)
}

// UserDirectory resolves a user's role for the user_role fallback.
// An empty role or any error is treated as "role unknown".
// Consumers: field resolver
type UserDirectory interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// UserDirectoryFunc adapts a function to UserDirectory
type UserDirectoryFunc func(ctx context.Context, userID string) (string, error)

// GetUserRole calls f(ctx, userID)
func (f UserDirectoryFunc) GetUserRole(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}
