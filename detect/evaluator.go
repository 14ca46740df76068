package detect

import (
	"encoding/json"
	"strconv"
	"strings"
)

// evaluation walks a parsed tree against one field table
type evaluation struct {
	fields  FieldTable
	invalid bool
}

// EvaluateNode evaluates a parsed tree. A nil tree matches.
func EvaluateNode(node Node, fields FieldTable) bool {
	ev := &evaluation{fields: fields}
	return ev.eval(node)
}

func (ev *evaluation) eval(node Node) bool {
	switch n := node.(type) {
	case nil:
		return true
	case CompareNode:
		return ev.compare(n)
	case InNode:
		return ev.in(n)
	case NotNode:
		// a malformed subtree stays a non-match under negation
		outer := ev.invalid
		ev.invalid = false
		matched := ev.eval(n.Child)
		hit := ev.invalid
		ev.invalid = outer || hit
		if hit {
			return false
		}
		return !matched
	case AndNode:
		for _, child := range n.Children {
			if !ev.eval(child) {
				return false
			}
		}
		return true
	case OrNode:
		for _, child := range n.Children {
			if ev.eval(child) {
				return true
			}
		}
		return false
	case InvalidNode:
		ev.invalid = true
		return false
	}
	// bare var or literal in boolean position
	return false
}

// operand resolves a node in operand position. ok is false when the value
// is absent or the operand is malformed.
func (ev *evaluation) operand(node Node) (interface{}, bool) {
	switch n := node.(type) {
	case VarNode:
		return ev.fields.Get(n.Name)
	case LiteralNode:
		return n.Value, true
	case InvalidNode:
		ev.invalid = true
		return nil, false
	case nil:
		return nil, false
	}
	return ev.eval(node), true
}

func (ev *evaluation) compare(n CompareNode) bool {
	left, ok := ev.operand(n.Left)
	if !ok {
		return false
	}
	right, ok := ev.operand(n.Right)
	if !ok {
		return false
	}

	var equal bool
	switch {
	case isMessageTypeVar(n.Left):
		equal = matchPattern(right, left)
	case isMessageTypeVar(n.Right):
		equal = matchPattern(left, right)
	default:
		equal = looseEqual(left, right)
	}

	if n.Op == OpNotEqual {
		return !equal
	}
	return equal
}

func (ev *evaluation) in(n InNode) bool {
	needle, ok := ev.operand(n.Needle)
	if !ok {
		return false
	}
	haystack, ok := ev.operand(n.Haystack)
	if !ok {
		return false
	}
	list, ok := toList(haystack)
	if !ok {
		return false
	}

	wildcard := isMessageTypeVar(n.Needle)
	for _, entry := range list {
		if wildcard {
			if matchPattern(entry, needle) {
				return true
			}
			continue
		}
		if looseEqual(needle, entry) {
			return true
		}
	}
	return false
}

func isMessageTypeVar(node Node) bool {
	v, ok := node.(VarNode)
	return ok && v.Name == FieldMessageType
}

func matchPattern(pattern, value interface{}) bool {
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	return MatchMessageType(p, s)
}

func toList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// looseEqual compares scalars: strings exactly, numbers numerically (a
// numeric string equals the number it spells), booleans by value.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	af, aNum := toNumber(a)
	bf, bNum := toNumber(b)
	if aNum && bNum {
		return af == bf
	}

	switch av := a.(type) {
	case string:
		if bs, ok := b.(string); ok {
			return av == bs
		}
		if bNum {
			if f, err := strconv.ParseFloat(strings.TrimSpace(av), 64); err == nil {
				return f == bf
			}
		}
		return false
	case bool:
		bb, ok := b.(bool)
		return ok && av == bb
	}

	if bs, ok := b.(string); ok && aNum {
		if f, err := strconv.ParseFloat(strings.TrimSpace(bs), 64); err == nil {
			return f == af
		}
	}
	return false
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
