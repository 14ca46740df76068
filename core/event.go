package core

import (
	"time"

	"github.com/google/uuid"
)

// Well-known context keys. Context keys carry a leading "_" marker which the
// field resolver strips when exposing them to rule conditions.
const (
	ContextKeyMessageKey = "_message_key"
	ContextKeyUserID     = "_user_id"
	ContextKeyUserRole   = "_user_role"
	ContextKeyUserLogin  = "_user_login"
	ContextKeyRemoteAddr = "_server_remote_addr"

	// ContextMarker is the leading character stripped from context keys.
	ContextMarker = "_"
)

// Event is one logged occurrence tested against alert rules.
type Event struct {
	ID        string                 `json:"id" msgpack:"id" example:"5f0c6a0e-7a52-4f3e-9c1b-6a8e2f7d2f10"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
	Logger    string                 `json:"logger" msgpack:"logger" example:"UserLogger"`
	Level     string                 `json:"level" msgpack:"level" example:"warning"`
	Message   string                 `json:"message,omitempty" msgpack:"message,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty" msgpack:"context,omitempty"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent(logger, level string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Logger:    logger,
		Level:     level,
		Context:   make(map[string]interface{}),
	}
}

// WithContext sets a context value and returns the event for chaining.
func (e *Event) WithContext(key string, value interface{}) *Event {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// MessageKey returns the logger-specific message identifier, if any.
func (e *Event) MessageKey() string {
	if e == nil || e.Context == nil {
		return ""
	}
	for _, key := range []string{ContextKeyMessageKey, "message_key"} {
		if v, ok := e.Context[key].(string); ok {
			return v
		}
	}
	return ""
}

// MessageType returns the composite "logger:message_key" identifier.
func (e *Event) MessageType() string {
	if e == nil {
		return ":"
	}
	return e.Logger + ":" + e.MessageKey()
}
