package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		tree interface{}
		want string
	}{
		{"nil", nil, "All events match."},
		{"empty object", map[string]interface{}{}, "All events match."},
		{
			"and of two",
			map[string]interface{}{"and": []interface{}{eq("logger", "A"), eq("level", "error")}},
			"All 2 conditions must match.",
		},
		{
			"or of three",
			map[string]interface{}{"or": []interface{}{eq("level", "a"), eq("level", "b"), eq("level", "c")}},
			"Any one of 3 conditions must match.",
		},
		{"equality", eq("logger", "UserLogger"), `logger is "UserLogger".`},
		{
			"inequality",
			map[string]interface{}{"!=": []interface{}{varRef("user_role"), "administrator"}},
			`user_role is not "administrator".`,
		},
		{
			"membership",
			map[string]interface{}{"in": []interface{}{varRef("level"), []interface{}{"warning", "error"}}},
			"level is one of warning, error.",
		},
		{"negation", map[string]interface{}{"!": eq("level", "debug")}, `Not: level is "debug".`},
		{"wildcard", eq("message_type", "UserLogger:*"), `message_type matches "UserLogger:*".`},
		{"numeric literal", eq("count", 5), "count is 5."},
		{"single child and", map[string]interface{}{"and": []interface{}{eq("logger", "A")}}, "All 1 condition must match."},
		{"invalid", map[string]interface{}{"bogus": 1}, "Invalid rule conditions."},
		{"scalar", 12, "Invalid rule conditions."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.tree))
		})
	}
}

func TestDescribe_CountsAndWording(t *testing.T) {
	and := Describe(map[string]interface{}{"and": []interface{}{eq("a", 1), eq("b", 2)}})
	assert.Contains(t, and, "2")
	assert.Contains(t, and, "All")

	or := Describe([]interface{}{"or", eq("a", 1), eq("b", 2), eq("c", 3)})
	assert.Contains(t, or, "3")
	assert.Contains(t, or, "Any")
}
