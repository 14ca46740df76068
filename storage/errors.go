package storage

import "errors"

// Storage error constants
var (
	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDestinationNotFound is returned when a destination is not found
	ErrDestinationNotFound = errors.New("destination not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateRule is returned when attempting to create a rule that already exists
	ErrDuplicateRule = errors.New("rule already exists")

	// ErrDuplicateDestination is returned when a destination id is already taken
	ErrDuplicateDestination = errors.New("destination already exists")

	// ErrInvalidRule is returned when a rule fails validation before persistence
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
