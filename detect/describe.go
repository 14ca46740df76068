package detect

import (
	"fmt"
	"strings"
)

const (
	describeAllMatch = "All events match."
	describeNoMatch  = "No events match."
	describeInvalid  = "Invalid rule conditions."
)

// Describe renders a short human-readable summary of a condition tree.
// Compound trees are summarized at the outermost combinator only.
func Describe(tree interface{}) string {
	return describeTree(tree, DefaultMaxDepth)
}

func describeTree(tree interface{}, maxDepth int) string {
	if IsEmptyConditions(tree) {
		return describeAllMatch
	}
	node, errs := parseTree(tree, maxDepth)
	if len(errs) > 0 {
		return describeInvalid
	}
	return describeNode(node) + "."
}

func describeNode(node Node) string {
	switch n := node.(type) {
	case nil:
		return strings.TrimSuffix(describeAllMatch, ".")
	case AndNode:
		if len(n.Children) == 0 {
			return strings.TrimSuffix(describeAllMatch, ".")
		}
		return fmt.Sprintf("All %d %s must match", len(n.Children), pluralConditions(len(n.Children)))
	case OrNode:
		if len(n.Children) == 0 {
			return strings.TrimSuffix(describeNoMatch, ".")
		}
		return fmt.Sprintf("Any one of %d %s must match", len(n.Children), pluralConditions(len(n.Children)))
	case NotNode:
		return "Not: " + describeNode(n.Child)
	case CompareNode:
		verb := "is"
		if n.Op == OpNotEqual {
			verb = "is not"
		}
		if isMessageTypeVar(n.Left) && isPattern(n.Right) {
			verb = "matches"
			if n.Op == OpNotEqual {
				verb = "does not match"
			}
		}
		return fmt.Sprintf("%s %s %s", describeOperand(n.Left), verb, describeOperand(n.Right))
	case InNode:
		return fmt.Sprintf("%s is one of %s", describeOperand(n.Needle), describeList(n.Haystack))
	case VarNode, LiteralNode:
		return describeOperand(n)
	}
	return strings.TrimSuffix(describeInvalid, ".")
}

func describeOperand(node Node) string {
	switch n := node.(type) {
	case VarNode:
		return n.Name
	case LiteralNode:
		if s, ok := n.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if n.Value == nil {
			return "null"
		}
		if list, ok := n.Value.([]interface{}); ok {
			return "[" + joinValues(list) + "]"
		}
		return fmt.Sprint(n.Value)
	}
	return "(" + describeNode(node) + ")"
}

func describeList(node Node) string {
	if lit, ok := node.(LiteralNode); ok {
		if list, ok := lit.Value.([]interface{}); ok {
			return joinValues(list)
		}
	}
	return describeOperand(node)
}

func joinValues(list []interface{}) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func isPattern(node Node) bool {
	lit, ok := node.(LiteralNode)
	if !ok {
		return false
	}
	s, ok := lit.Value.(string)
	return ok && (strings.HasSuffix(s, ":*") || strings.Contains(s, ","))
}

func pluralConditions(n int) string {
	if n == 1 {
		return "condition"
	}
	return "conditions"
}
