package detect

import (
	"context"
	"fmt"
	"strings"

	"chronicle/core"
	"chronicle/metrics"
	"go.uber.org/zap"
)

// Base and derived field names
const (
	FieldLogger   = "logger"
	FieldLevel    = "level"
	FieldUserRole = "user_role"
	FieldUserID   = "user_id"
)

// FieldTable is the flat variable table conditions are evaluated against
type FieldTable map[string]interface{}

// Get returns a field and whether it is present
func (f FieldTable) Get(name string) (interface{}, bool) {
	v, ok := f[name]
	return v, ok
}

// Resolver builds a FieldTable from an event. It holds no per-event state
// and caches nothing; role caching belongs to the UserDirectory.
type Resolver struct {
	directory core.UserDirectory
	logger    *zap.SugaredLogger
}

// NewResolver creates a resolver. directory may be nil, in which case
// user_role is only ever taken from the event context.
func NewResolver(directory core.UserDirectory, logger *zap.SugaredLogger) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{directory: directory, logger: logger}
}

// Resolve flattens the event into a field table. Context keys are exposed
// with their leading marker stripped; logger, level and message_type always
// override context keys of the same name.
func (r *Resolver) Resolve(ctx context.Context, event *core.Event) FieldTable {
	if event == nil {
		event = &core.Event{}
	}

	fields := make(FieldTable, len(event.Context)+4)

	// unmarked keys first so "_x" wins over "x" regardless of map order
	for key, value := range event.Context {
		if !strings.HasPrefix(key, core.ContextMarker) {
			fields[key] = value
		}
	}
	for key, value := range event.Context {
		if name := strings.TrimPrefix(key, core.ContextMarker); name != key && name != "" {
			fields[name] = value
		}
	}

	fields[FieldLogger] = event.Logger
	fields[FieldLevel] = event.Level
	fields[FieldMessageType] = event.MessageType()

	// an explicit role is used as given; a blank one falls back to the lookup
	if role := scalarString(fields[FieldUserRole]); strings.TrimSpace(role) != "" {
		fields[FieldUserRole] = role
		return fields
	}
	delete(fields, FieldUserRole)

	if role, ok := r.lookupRole(ctx, strings.TrimSpace(scalarString(fields[FieldUserID]))); ok {
		fields[FieldUserRole] = role
	}
	return fields
}

func (r *Resolver) lookupRole(ctx context.Context, userID string) (string, bool) {
	if userID == "" || r.directory == nil {
		return "", false
	}

	role, err := r.directory.GetUserRole(ctx, userID)
	if err != nil {
		metrics.UserRoleLookups.WithLabelValues("error").Inc()
		r.logger.Debugw("User role lookup failed, treating role as unknown",
			"user_id", userID,
			"error", err)
		return "", false
	}
	if role == "" {
		metrics.UserRoleLookups.WithLabelValues("unknown").Inc()
		return "", false
	}
	metrics.UserRoleLookups.WithLabelValues("found").Inc()
	return role, true
}

// scalarString renders ids and roles stored as strings or numbers
func scalarString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return ""
	}
	if isScalar(v) {
		return fmt.Sprint(v)
	}
	return ""
}
