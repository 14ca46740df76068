package api

import (
	"fmt"
	"net/http"
	"testing"

	"chronicle/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levelCondition(level string) map[string]interface{} {
	return map[string]interface{}{
		"==": []interface{}{map[string]interface{}{"var": "level"}, level},
	}
}

func createTestRule(t *testing.T, ts *testServer, body map[string]interface{}) core.AlertRule {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rule core.AlertRule
	decodeBody(t, rec, &rule)
	return rule
}

func TestCreateRule(t *testing.T) {
	ts := newTestServer(t)

	rule := createTestRule(t, ts, map[string]interface{}{
		"id":           "errors",
		"name":         "Errors",
		"conditions":   levelCondition("error"),
		"destinations": []string{"ops"},
	})
	assert.Equal(t, "errors", rule.ID)
	assert.Equal(t, core.RuleKindCustom, rule.Kind)
	assert.True(t, rule.Enabled)
	assert.Equal(t, []string{"ops"}, rule.Destinations)

	rec := ts.do(t, http.MethodGet, "/api/v1/rules/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored core.AlertRule
	decodeBody(t, rec, &stored)
	assert.Equal(t, "Errors", stored.Name)
	assert.NotNil(t, stored.Conditions)
}

func TestCreateRule_GeneratedIDAndPresetKind(t *testing.T) {
	ts := newTestServer(t)

	rule := createTestRule(t, ts, map[string]interface{}{
		"name":    "Security",
		"preset":  "security",
		"enabled": false,
	})
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, core.RuleKindPreset, rule.Kind)
	assert.False(t, rule.Enabled)
}

func TestCreateRule_Rejected(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"missing name", map[string]interface{}{"conditions": levelCondition("error")}, "name is required"},
		{"bad kind", map[string]interface{}{"name": "x", "kind": "magic"}, "kind must be one of"},
		{"unknown preset", map[string]interface{}{"name": "x", "preset": "nope"}, `unknown preset "nope"`},
		{"unknown operator", map[string]interface{}{"name": "x", "conditions": map[string]interface{}{"xor": []interface{}{true, false}}}, "xor"},
		{"preset with conditions", map[string]interface{}{"name": "x", "kind": "preset", "preset": "security", "conditions": levelCondition("error")}, "preset rules cannot have conditions"},
		{"blank destination", map[string]interface{}{"name": "x", "destinations": []string{""}}, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/rules", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp validationResponse
			decodeBody(t, rec, &resp)
			assert.False(t, resp.Valid)
			assert.Contains(t, fmt.Sprint(resp.Errors), tt.want)
		})
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/rules", nil)
	var rules []core.AlertRule
	decodeBody(t, rec, &rules)
	assert.Empty(t, rules)
}

func TestCreateRule_Duplicate(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]interface{}{"id": "dup", "name": "Dup", "preset": "updates"}
	createTestRule(t, ts, body)

	rec := ts.do(t, http.MethodPost, "/api/v1/rules", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRules_Order(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"c", "a", "b"} {
		createTestRule(t, ts, map[string]interface{}{"id": id, "name": id, "preset": "updates"})
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []core.AlertRule
	decodeBody(t, rec, &rules)

	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestGetRule_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/rules/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRule(t *testing.T) {
	ts := newTestServer(t)
	createTestRule(t, ts, map[string]interface{}{"id": "r1", "name": "Old", "conditions": levelCondition("error"), "enabled": false})

	rec := ts.do(t, http.MethodPut, "/api/v1/rules/r1", map[string]interface{}{
		"name":       "New",
		"conditions": levelCondition("warning"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := ts.rules.GetRule(t.Context(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "New", stored.Name)
	assert.False(t, stored.Enabled, "omitted enabled keeps the stored value")

	rec = ts.do(t, http.MethodPut, "/api/v1/rules/r1", map[string]interface{}{"id": "other", "name": "New"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/rules/missing", map[string]interface{}{"name": "New"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRule_RoundTrip(t *testing.T) {
	ts := newTestServer(t)
	createTestRule(t, ts, map[string]interface{}{"id": "r1", "name": "Rule", "conditions": levelCondition("error")})

	rec := ts.do(t, http.MethodGet, "/api/v1/rules/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/rules/r1", rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEnableDisableDeleteRule(t *testing.T) {
	ts := newTestServer(t)
	createTestRule(t, ts, map[string]interface{}{"id": "r1", "name": "Rule", "preset": "security"})

	rec := ts.do(t, http.MethodPost, "/api/v1/rules/r1/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := ts.rules.GetRule(t.Context(), "r1")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules/r1/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err = ts.rules.GetRule(t.Context(), "r1")
	require.NoError(t, err)
	assert.True(t, stored.Enabled)

	rec = ts.do(t, http.MethodDelete, "/api/v1/rules/r1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/rules/r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/rules/r1/enable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateRule(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/rules/validate", map[string]interface{}{
		"name":       "ok",
		"conditions": levelCondition("error"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp validationResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Errors)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules/validate", map[string]interface{}{
		"name":       "bad",
		"conditions": map[string]interface{}{"nope": []interface{}{}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Errors)

	// nothing was stored
	rules, err := ts.rules.ListRules(t.Context())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestDescribeRule(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"custom", map[string]interface{}{"conditions": levelCondition("error")}, `level is "error".`},
		{"empty custom", map[string]interface{}{}, "No events match."},
		{"preset", map[string]interface{}{"preset": "settings-changes"}, "Any change to site options."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/rules/describe", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			var resp map[string]string
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.want, resp["description"])
		})
	}
}

func TestTestRule(t *testing.T) {
	ts := newTestServer(t)
	createTestRule(t, ts, map[string]interface{}{"id": "security", "name": "Security", "preset": "security", "enabled": false})

	tests := []struct {
		name string
		body map[string]interface{}
		code int
		want bool
	}{
		{
			name: "inline custom match",
			body: map[string]interface{}{
				"rule":  map[string]interface{}{"name": "t", "conditions": levelCondition("error")},
				"event": map[string]interface{}{"logger": "PostLogger", "level": "error"},
			},
			code: http.StatusOK, want: true,
		},
		{
			name: "inline custom no match",
			body: map[string]interface{}{
				"rule":  map[string]interface{}{"name": "t", "conditions": levelCondition("error")},
				"event": map[string]interface{}{"logger": "PostLogger", "level": "info"},
			},
			code: http.StatusOK, want: false,
		},
		{
			name: "empty custom rule matches nothing",
			body: map[string]interface{}{
				"rule":  map[string]interface{}{"name": "t"},
				"event": map[string]interface{}{"logger": "PostLogger", "level": "error"},
			},
			code: http.StatusOK, want: false,
		},
		{
			name: "stored disabled preset",
			body: map[string]interface{}{
				"rule_id": "security",
				"event": map[string]interface{}{
					"logger":  "UserLogger",
					"level":   "warning",
					"context": map[string]interface{}{"_message_key": "user_login_failed"},
				},
			},
			code: http.StatusOK, want: true,
		},
		{
			name: "unknown stored rule",
			body: map[string]interface{}{"rule_id": "missing", "event": map[string]interface{}{"logger": "UserLogger"}},
			code: http.StatusNotFound,
		},
		{
			name: "no rule",
			body: map[string]interface{}{"event": map[string]interface{}{"logger": "UserLogger"}},
			code: http.StatusBadRequest,
		},
		{
			name: "event without logger",
			body: map[string]interface{}{"rule_id": "security", "event": map[string]interface{}{"level": "info"}},
			code: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/rules/test", tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var resp ruleTestResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.want, resp.Matched)
			assert.NotEmpty(t, resp.Description)
		})
	}
}
