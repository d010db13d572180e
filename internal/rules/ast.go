// Package rules implements the rule logic core: the boolean-expression AST,
// its field-typed validation, deterministic description rendering, and the
// runtime evaluator.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NodeType tags a node in the rule AST.
type NodeType string

const (
	NodeAnd       NodeType = "AND"
	NodeOr        NodeType = "OR"
	NodeNot       NodeType = "NOT"
	NodeCondition NodeType = "CONDITION"
)

// MaxDepth bounds AST nesting. User input drives recursion depth, so parsing
// rejects pathological trees before validation or evaluation ever recurse.
const MaxDepth = 32

// Node is one node of the rule AST: a tagged union of AND/OR (Children),
// NOT (Child), and CONDITION (FieldKey/Operator/Value) variants.
type Node struct {
	NodeType NodeType
	Children []*Node
	Child    *Node
	FieldKey string
	Operator domain.Operator
	Value    any

	hasValue bool
}

// HasValue reports whether a CONDITION node carried an explicit value
// payload. A JSON null counts as present.
func (n *Node) HasValue() bool {
	return n.hasValue
}

type rawNode struct {
	NodeType NodeType        `json:"nodeType"`
	Children []*Node         `json:"children,omitempty"`
	Child    *Node           `json:"child,omitempty"`
	FieldKey string          `json:"fieldKey,omitempty"`
	Operator domain.Operator `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON decodes a node while tracking whether a value key was
// present, which the no-value operators need to distinguish from null.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	n.NodeType = raw.NodeType
	n.Children = raw.Children
	n.Child = raw.Child
	n.FieldKey = raw.FieldKey
	n.Operator = raw.Operator

	if len(raw.Value) > 0 {
		n.hasValue = true
		if err := json.Unmarshal(raw.Value, &n.Value); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON emits the canonical wire shape, omitting the value key when no
// value was supplied.
func (n *Node) MarshalJSON() ([]byte, error) {
	raw := rawNode{
		NodeType: n.NodeType,
		Children: n.Children,
		Child:    n.Child,
		FieldKey: n.FieldKey,
		Operator: n.Operator,
	}
	if n.hasValue {
		value, err := json.Marshal(n.Value)
		if err != nil {
			return nil, err
		}
		raw.Value = value
	}
	return json.Marshal(raw)
}

// Condition constructs a CONDITION node carrying a value. Intended for
// tests and programmatic AST construction. Integer values are normalized to
// float64 to match JSON decoding.
func Condition(fieldKey string, op domain.Operator, value any) *Node {
	return &Node{NodeType: NodeCondition, FieldKey: fieldKey, Operator: op, Value: normalizeValue(value), hasValue: true}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalizeValue(elem)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = elem
		}
		return out
	}
	return v
}

// BareCondition constructs a CONDITION node for a no-value operator.
func BareCondition(fieldKey string, op domain.Operator) *Node {
	return &Node{NodeType: NodeCondition, FieldKey: fieldKey, Operator: op}
}

// And constructs an AND node.
func And(children ...*Node) *Node {
	return &Node{NodeType: NodeAnd, Children: children}
}

// Or constructs an OR node.
func Or(children ...*Node) *Node {
	return &Node{NodeType: NodeOr, Children: children}
}

// Not constructs a NOT node.
func Not(child *Node) *Node {
	return &Node{NodeType: NodeNot, Child: child}
}

var validOperators = func() map[domain.Operator]struct{} {
	set := make(map[domain.Operator]struct{})
	for _, ops := range domain.OperatorsByType {
		for _, op := range ops {
			set[op] = struct{}{}
		}
	}
	return set
}()

// Parse decodes raw JSON into an AST and checks its structure: known node
// tags, AND/OR arity of at least two, exactly one NOT child, a known
// operator and non-empty fieldKey on conditions, and bounded depth.
// Structural failures are reported as ErrMalformedAst.
func Parse(data []byte) (*Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAst, err)
	}
	if err := checkStructure(&node, 0); err != nil {
		return nil, err
	}
	return &node, nil
}

func checkStructure(n *Node, depth int) error {
	if n == nil {
		return fmt.Errorf("%w: missing node", domain.ErrMalformedAst)
	}
	if depth > MaxDepth {
		return fmt.Errorf("%w: tree exceeds maximum depth %d", domain.ErrMalformedAst, MaxDepth)
	}

	switch n.NodeType {
	case NodeAnd, NodeOr:
		if len(n.Children) < 2 {
			return fmt.Errorf("%w: %s node requires at least 2 children, got %d", domain.ErrMalformedAst, n.NodeType, len(n.Children))
		}
		for _, child := range n.Children {
			if err := checkStructure(child, depth+1); err != nil {
				return err
			}
		}
		return nil

	case NodeNot:
		if n.Child == nil {
			return fmt.Errorf("%w: NOT node requires exactly one child", domain.ErrMalformedAst)
		}
		return checkStructure(n.Child, depth+1)

	case NodeCondition:
		if n.FieldKey == "" {
			return fmt.Errorf("%w: condition requires a fieldKey", domain.ErrMalformedAst)
		}
		if _, ok := validOperators[n.Operator]; !ok {
			return fmt.Errorf("%w: unknown operator %q", domain.ErrMalformedAst, n.Operator)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown node type %q", domain.ErrMalformedAst, n.NodeType)
	}
}
