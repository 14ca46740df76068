package detect

import (
	"encoding/json"
	"fmt"
)

// ValidationResult reports whether a condition tree is well formed
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate statically checks the shape of a condition tree without
// evaluating it. An empty tree is valid.
func Validate(tree interface{}) ValidationResult {
	return validateTree(tree, DefaultMaxDepth)
}

func validateTree(tree interface{}, maxDepth int) ValidationResult {
	if IsEmptyConditions(tree) {
		return ValidationResult{Valid: true, Errors: []string{}}
	}

	switch tree.(type) {
	case string, []byte, json.RawMessage:
		decoded, err := decodeJSON(tree)
		if err != nil {
			return ValidationResult{
				Valid:  false,
				Errors: []string{fmt.Sprintf("rule conditions are not valid JSON: %v", err)},
			}
		}
		tree = decoded
	}

	switch tree.(type) {
	case Node, map[string]interface{}, map[interface{}]interface{}, []interface{}, []map[string]interface{}:
	default:
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("rule conditions must be an object or array, got %s", typeName(tree))},
		}
	}

	_, errs := parseTree(tree, maxDepth)
	if len(errs) == 0 {
		return ValidationResult{Valid: true, Errors: []string{}}
	}
	return ValidationResult{Valid: false, Errors: errs}
}
