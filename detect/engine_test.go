package detect

import (
	"context"
	"testing"

	"chronicle/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func customRule(id string, conditions interface{}, enabled bool) core.AlertRule {
	return core.AlertRule{
		ID:         id,
		Name:       id,
		Kind:       core.RuleKindCustom,
		Conditions: conditions,
		Enabled:    enabled,
	}
}

func presetRule(id, preset string, enabled bool) core.AlertRule {
	return core.AlertRule{
		ID:      id,
		Name:    id,
		Kind:    core.RuleKindPreset,
		Preset:  preset,
		Enabled: enabled,
	}
}

func TestEvaluateRule_EmptyCustomRuleFailsClosed(t *testing.T) {
	engine := newTestEngine(nil)
	event := eventFor("UserLogger", "info")

	for _, conditions := range []interface{}{nil, map[string]interface{}{}, []interface{}{}, "", "{}"} {
		rule := customRule("empty", conditions, true)
		assert.False(t, engine.EvaluateRule(context.Background(), rule, event), "conditions %#v", conditions)
		// the generic entry point stays permissive for the same tree
		assert.True(t, engine.Evaluate(context.Background(), conditions, event))
	}
}

func TestEvaluateRule_EmptyGroupsFailClosed(t *testing.T) {
	engine := newTestEngine(nil)
	event := eventFor("PostLogger", "info").WithContext("_message_key", "post_updated")

	trees := []interface{}{
		map[string]interface{}{"and": []interface{}{}},
		map[string]interface{}{"or": []interface{}{}},
		map[string]interface{}{"or": []interface{}{map[string]interface{}{}}},
		map[string]interface{}{"and": []interface{}{nil}},
		map[string]interface{}{"or": []interface{}{map[string]interface{}{"and": []interface{}{}}}},
		[]interface{}{[]interface{}{}},
		`{"or":[{}]}`,
		`{"and":[]}`,
	}
	for _, tree := range trees {
		rule := customRule("empty-group", tree, true)
		assert.False(t, engine.EvaluateRule(context.Background(), rule, event), "conditions %#v", tree)
		assert.Empty(t, engine.FilterEnabledMatches(context.Background(), []core.AlertRule{rule}, event))
	}

	// the generic entry point keeps the empty and at the top level permissive
	assert.True(t, engine.Evaluate(context.Background(), map[string]interface{}{"and": []interface{}{}}, event))
}

func TestEvaluateRule_MalformedUnderNegation(t *testing.T) {
	engine := newTestEngine(nil)
	event := eventFor("PostLogger", "info")

	trees := []interface{}{
		map[string]interface{}{"!": map[string]interface{}{"==": []interface{}{varRef("level")}}},
		map[string]interface{}{"!": map[string]interface{}{"and": []interface{}{
			eq("level", "info"),
			map[string]interface{}{"in": []interface{}{varRef("level"), "info"}},
		}}},
		// a malformed sibling fails the whole custom rule
		map[string]interface{}{"or": []interface{}{
			map[string]interface{}{"regex": []interface{}{varRef("level"), ".*"}},
			eq("level", "info"),
		}},
	}
	for _, tree := range trees {
		rule := customRule("malformed", tree, true)
		assert.False(t, engine.EvaluateRule(context.Background(), rule, event), "conditions %#v", tree)
	}

	assert.False(t, engine.Evaluate(context.Background(), trees[0], event))
}

func TestEvaluateRule_Custom(t *testing.T) {
	engine := newTestEngine(nil)
	rule := customRule("r1", eq("logger", "UserLogger"), true)

	assert.True(t, engine.EvaluateRule(context.Background(), rule, eventFor("UserLogger", "info")))
	assert.False(t, engine.EvaluateRule(context.Background(), rule, eventFor("PostLogger", "info")))
}

func TestEvaluateRule_IgnoresEnabled(t *testing.T) {
	engine := newTestEngine(nil)
	event := eventFor("UserLogger", "info").WithContext("_message_key", "user_login_failed")

	assert.True(t, engine.EvaluateRule(context.Background(), customRule("c", eq("logger", "UserLogger"), false), event))
	assert.True(t, engine.EvaluateRule(context.Background(), presetRule("p", "security", false), event))
}

func TestEvaluateRule_Preset(t *testing.T) {
	engine := newTestEngine(nil)

	tests := []struct {
		name   string
		preset string
		logger string
		key    string
		want   bool
	}{
		{"listed event", "security", "UserLogger", "user_login_failed", true},
		{"unlisted event", "security", "UserLogger", "user_logged_in", false},
		{"wildcard entry", "settings-changes", "OptionsLogger", "option_updated", true},
		{"wildcard other logger", "settings-changes", "UserLogger", "option_updated", false},
		{"unknown preset", "nope", "UserLogger", "user_login_failed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := eventFor(tt.logger, "info").WithContext("_message_key", tt.key)
			assert.Equal(t, tt.want, engine.EvaluateRule(context.Background(), presetRule("p", tt.preset, true), event))
		})
	}
}

func TestEvaluateRule_PresetKindInferred(t *testing.T) {
	engine := newTestEngine(nil)
	rule := core.AlertRule{ID: "p", Name: "p", Preset: "user-activity", Enabled: true}

	assert.True(t, engine.EvaluateRule(context.Background(), rule, eventFor("UserLogger", "info")))
}

func TestFilterEnabledMatches(t *testing.T) {
	engine := newTestEngine(nil)
	event := eventFor("UserLogger", "warning").WithContext("_message_key", "user_login_failed")

	rules := []core.AlertRule{
		customRule("warnings", map[string]interface{}{"in": []interface{}{varRef("level"), []interface{}{"warning", "error"}}}, true),
		customRule("disabled", eq("logger", "UserLogger"), false),
		presetRule("security", "security", true),
		customRule("empty", nil, true),
		customRule("other-logger", eq("logger", "PostLogger"), true),
		presetRule("users", "user-activity", true),
		presetRule("unknown", "missing", true),
	}

	matches := engine.FilterEnabledMatches(context.Background(), rules, event)

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"warnings", "security", "users"}, ids)
}

func TestFilterEnabledMatches_ExcludedLogger(t *testing.T) {
	engine := newTestEngine(nil)
	rules := []core.AlertRule{customRule("catch-warnings", eq("level", "error"), true)}

	event := eventFor(core.NotificationLogger, "error")
	assert.Empty(t, engine.FilterEnabledMatches(context.Background(), rules, event))

	custom := NewEngine(nil, nil, WithExcludedLoggers("NoisyLogger"))
	assert.Empty(t, custom.FilterEnabledMatches(context.Background(), rules, eventFor("NoisyLogger", "error")))
	assert.Len(t, custom.FilterEnabledMatches(context.Background(), rules, eventFor(core.NotificationLogger, "error")), 1)
}

func TestFilterEnabledMatches_ResolvesOnce(t *testing.T) {
	dir := &countingDirectory{roles: map[string]string{"5": "editor"}}
	engine := newTestEngine(dir)
	event := eventFor("PostLogger", "info").WithContext("_user_id", "5")

	rules := []core.AlertRule{
		customRule("a", eq("user_role", "editor"), true),
		customRule("b", eq("user_role", "administrator"), true),
		customRule("c", eq("user_role", "editor"), true),
	}

	matches := engine.FilterEnabledMatches(context.Background(), rules, event)
	assert.Len(t, matches, 2)
	assert.Equal(t, 1, dir.calls)
}

func TestFilterEnabledMatches_PresetOnlySkipsLookup(t *testing.T) {
	dir := &countingDirectory{roles: map[string]string{"5": "editor"}}
	engine := newTestEngine(dir)
	event := eventFor("UserLogger", "info").WithContext("_user_id", "5")

	engine.FilterEnabledMatches(context.Background(), []core.AlertRule{presetRule("p", "user-activity", true)}, event)
	assert.Equal(t, 0, dir.calls)
}

func TestFilterEnabledMatches_NilAndEmpty(t *testing.T) {
	engine := newTestEngine(nil)

	assert.Nil(t, engine.FilterEnabledMatches(context.Background(), []core.AlertRule{presetRule("p", "security", true)}, nil))
	assert.Empty(t, engine.FilterEnabledMatches(context.Background(), nil, eventFor("UserLogger", "info")))
}

type panickingDirectory struct{}

func (panickingDirectory) GetUserRole(ctx context.Context, userID string) (string, error) {
	panic("directory exploded")
}

func TestEngine_PanicIsNonMatch(t *testing.T) {
	obs, logs := observer.New(zap.ErrorLevel)
	engine := NewEngine(panickingDirectory{}, zap.New(obs).Sugar())
	event := eventFor("PostLogger", "info").WithContext("_user_id", "1")
	rules := []core.AlertRule{
		customRule("role", eq("user_role", "editor"), true),
		presetRule("content", "content-changes", true),
	}

	assert.NotPanics(t, func() {
		assert.False(t, engine.Evaluate(context.Background(), eq("user_role", "editor"), event))
		assert.False(t, engine.EvaluateRule(context.Background(), rules[0], event))
		assert.Empty(t, engine.FilterEnabledMatches(context.Background(), rules, event))
	})
	assert.NotEmpty(t, logs.All())
	assert.Equal(t, "Goroutine panic recovered", logs.All()[0].Message)
}

func TestEngine_DescribeAndValidate(t *testing.T) {
	engine := newTestEngine(nil)
	tree := map[string]interface{}{"and": []interface{}{eq("logger", "A"), eq("level", "error")}}

	assert.Equal(t, Describe(tree), engine.Describe(tree))
	assert.Equal(t, Validate(tree), engine.Validate(tree))

	shallow := NewEngine(nil, nil, WithMaxDepth(1))
	result := shallow.Validate(tree)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "nesting deeper than 1")
}
