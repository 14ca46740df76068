package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Operator names recognized in condition trees
const (
	OpEqual    = "=="
	OpNotEqual = "!="
	OpIn       = "in"
	OpNot      = "!"
	OpAnd      = "and"
	OpOr       = "or"
	OpVar      = "var"
)

// DefaultMaxDepth bounds condition tree nesting
const DefaultMaxDepth = 64

var knownOperators = map[string]bool{
	OpEqual:    true,
	OpNotEqual: true,
	OpIn:       true,
	OpNot:      true,
	OpAnd:      true,
	OpOr:       true,
	OpVar:      true,
}

// IsOperator reports whether name is part of the fixed operator set
func IsOperator(name string) bool {
	return knownOperators[name]
}

// Node is a parsed condition tree node. The set of implementations is closed.
type Node interface {
	isNode()
}

// VarNode references a resolved field by name
type VarNode struct {
	Name string
}

// LiteralNode holds a scalar or a list of scalars
type LiteralNode struct {
	Value interface{}
}

// CompareNode is == or !=
type CompareNode struct {
	Op    string
	Left  Node
	Right Node
}

// InNode tests membership of Needle in the list Haystack resolves to
type InNode struct {
	Needle   Node
	Haystack Node
}

// NotNode negates its child
type NotNode struct {
	Child Node
}

// AndNode matches when every child matches
type AndNode struct {
	Children []Node
}

// OrNode matches when any child matches
type OrNode struct {
	Children []Node
}

// InvalidNode stands in for a malformed subtree. It never matches.
type InvalidNode struct {
	Reason string
}

func (VarNode) isNode()     {}
func (LiteralNode) isNode() {}
func (CompareNode) isNode() {}
func (InNode) isNode()      {}
func (NotNode) isNode()     {}
func (AndNode) isNode()     {}
func (OrNode) isNode()      {}
func (InvalidNode) isNode() {}

// IsEmptyConditions reports whether raw encodes "no restriction":
// nil, an empty map, an empty list or blank JSON text.
func IsEmptyConditions(raw interface{}) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return isBlankJSON([]byte(v))
	case []byte:
		return isBlankJSON(v)
	case json.RawMessage:
		return isBlankJSON(v)
	case map[string]interface{}:
		return len(v) == 0
	case map[interface{}]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	case []map[string]interface{}:
		return len(v) == 0
	}
	return false
}

func isBlankJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}

// Parse converts a raw condition tree into a Node. It returns nil for an
// empty tree. Malformed subtrees become InvalidNode; Parse never fails.
func Parse(raw interface{}) Node {
	node, _ := parseTree(raw, DefaultMaxDepth)
	return node
}

// parseTree parses raw and returns the node together with path-qualified
// descriptions of every malformed subtree encountered.
func parseTree(raw interface{}, maxDepth int) (Node, []string) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &parser{maxDepth: maxDepth}
	return p.node(raw, "$", 0), p.errs
}

type parser struct {
	maxDepth int
	errs     []string
}

func (p *parser) invalid(path, format string, args ...interface{}) Node {
	reason := fmt.Sprintf(format, args...)
	p.errs = append(p.errs, path+": "+reason)
	return InvalidNode{Reason: reason}
}

// node parses a value in boolean position
func (p *parser) node(raw interface{}, path string, depth int) Node {
	if depth > p.maxDepth {
		return p.invalid(path, "nesting deeper than %d levels", p.maxDepth)
	}

	switch v := raw.(type) {
	case Node:
		return v
	case string, []byte, json.RawMessage:
		if IsEmptyConditions(v) {
			return nil
		}
		decoded, err := decodeJSON(v)
		if err != nil {
			return p.invalid(path, "conditions are not valid JSON: %v", err)
		}
		return p.node(decoded, path, depth)
	case map[interface{}]interface{}:
		return p.node(stringKeys(v), path, depth)
	case map[string]interface{}:
		if len(v) == 0 {
			return nil
		}
		if len(v) != 1 {
			return p.invalid(path, "condition must have exactly one operator, got %d keys", len(v))
		}
		for op, args := range v {
			return p.operator(op, args, path, depth)
		}
	case []map[string]interface{}:
		list := make([]interface{}, len(v))
		for i, m := range v {
			list[i] = m
		}
		return p.node(list, path, depth)
	case []interface{}:
		if len(v) == 0 {
			return nil
		}
		if op, ok := v[0].(string); ok {
			if !IsOperator(op) {
				return p.invalid(path, "unknown operator %q", op)
			}
			return p.operator(op, v[1:], path, depth)
		}
		return AndNode{Children: p.children(v, path, depth)}
	case nil:
		return nil
	}
	return p.invalid(path, "expected a condition object or array, got %s", typeName(raw))
}

func (p *parser) operator(op string, rawArgs interface{}, path string, depth int) Node {
	path = path + "." + op
	args := argList(rawArgs)

	switch op {
	case OpEqual, OpNotEqual:
		if len(args) != 2 {
			return p.invalid(path, "%s takes exactly 2 operands, got %d", op, len(args))
		}
		return CompareNode{
			Op:    op,
			Left:  p.operand(args[0], path+"[0]", depth+1),
			Right: p.operand(args[1], path+"[1]", depth+1),
		}
	case OpIn:
		if len(args) != 2 {
			return p.invalid(path, "in takes exactly 2 operands, got %d", len(args))
		}
		return InNode{
			Needle:   p.operand(args[0], path+"[0]", depth+1),
			Haystack: p.haystack(args[1], path+"[1]", depth+1),
		}
	case OpNot:
		if len(args) != 1 {
			return p.invalid(path, "! takes exactly 1 operand, got %d", len(args))
		}
		child := p.node(args[0], path+"[0]", depth+1)
		if child == nil {
			return p.invalid(path, "! requires a condition")
		}
		return NotNode{Child: child}
	case OpAnd, OpOr:
		// only the top-level and/or may be empty
		if len(args) == 0 && depth > 0 {
			return p.invalid(path, "%s requires at least one condition", op)
		}
		children := p.children(args, path, depth)
		if op == OpAnd {
			return AndNode{Children: children}
		}
		return OrNode{Children: children}
	case OpVar:
		return p.invalid(path, "var can only be used as an operand")
	}
	return p.invalid(path, "unknown operator %q", op)
}

// children parses the operands of and/or. An empty child is malformed.
func (p *parser) children(args []interface{}, path string, depth int) []Node {
	children := make([]Node, 0, len(args))
	for i, arg := range args {
		childPath := fmt.Sprintf("%s[%d]", path, i)
		child := p.node(arg, childPath, depth+1)
		if child == nil {
			child = p.invalid(childPath, "empty condition")
		}
		children = append(children, child)
	}
	return children
}

// operand parses a value in operand position
func (p *parser) operand(raw interface{}, path string, depth int) Node {
	if depth > p.maxDepth {
		return p.invalid(path, "nesting deeper than %d levels", p.maxDepth)
	}

	switch v := raw.(type) {
	case Node:
		return v
	case map[interface{}]interface{}:
		return p.operand(stringKeys(v), path, depth)
	case map[string]interface{}:
		if len(v) != 1 {
			return p.invalid(path, "operand object must have exactly one key, got %d", len(v))
		}
		if name, ok := v[OpVar]; ok {
			return p.variable(name, path+"."+OpVar)
		}
		for op, args := range v {
			if !IsOperator(op) {
				return p.invalid(path, "unknown operator %q", op)
			}
			return p.operator(op, args, path, depth)
		}
	case []interface{}:
		if len(v) == 2 {
			if op, ok := v[0].(string); ok && op == OpVar {
				return p.variable(v[1], path+"."+OpVar)
			}
		}
		if !allScalars(v) {
			return p.invalid(path, "list operands may only contain scalars")
		}
		return LiteralNode{Value: v}
	case []string:
		list := make([]interface{}, len(v))
		for i, s := range v {
			list[i] = s
		}
		return LiteralNode{Value: list}
	}

	if !isScalar(raw) {
		return p.invalid(path, "unsupported operand type %s", typeName(raw))
	}
	return LiteralNode{Value: raw}
}

func (p *parser) haystack(raw interface{}, path string, depth int) Node {
	node := p.operand(raw, path, depth)
	switch n := node.(type) {
	case LiteralNode:
		if _, ok := n.Value.([]interface{}); !ok {
			return p.invalid(path, "in requires a list, got %s", typeName(n.Value))
		}
	case CompareNode, InNode, NotNode, AndNode, OrNode:
		return p.invalid(path, "in requires a list, got a condition")
	}
	return node
}

func (p *parser) variable(raw interface{}, path string) Node {
	if list, ok := raw.([]interface{}); ok && len(list) == 1 {
		raw = list[0]
	}
	name, ok := raw.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return p.invalid(path, "var requires a field name")
	}
	return VarNode{Name: name}
}

// argList normalizes an operator's arguments. A single non-list argument is
// the shorthand for a one-element list, as in {"!": {...}}.
func argList(raw interface{}) []interface{} {
	switch v := raw.(type) {
	case []interface{}:
		return v
	case []map[string]interface{}:
		list := make([]interface{}, len(v))
		for i, m := range v {
			list[i] = m
		}
		return list
	case nil:
		return nil
	}
	return []interface{}{raw}
}

func decodeJSON(raw interface{}) (interface{}, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}

func allScalars(list []interface{}) bool {
	for _, v := range list {
		if !isScalar(v) {
			return false
		}
	}
	return true
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}, map[interface{}]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
