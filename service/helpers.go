package service

import "fmt"

// deepCopyValue copies nested condition data so the caller cannot mutate a
// rule after handing it over. YAML-style map[interface{}]interface{} keys are
// converted to strings so the result encodes as JSON.
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, item := range val {
			result[k] = deepCopyValue(item)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, item := range val {
			result[fmt.Sprint(k)] = deepCopyValue(item)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
