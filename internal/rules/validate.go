package rules

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Operator classes used by validation, rendering, and evaluation.
var (
	noValueOperators = map[domain.Operator]bool{
		domain.OpIsNull:    true,
		domain.OpIsNotNull: true,
		domain.OpIsEmpty:   true,
	}
	rangeOperators = map[domain.Operator]bool{
		domain.OpBetween:    true,
		domain.OpNotBetween: true,
	}
	listOperators = map[domain.Operator]bool{
		domain.OpIn:          true,
		domain.OpNotIn:       true,
		domain.OpMemberOf:    true,
		domain.OpNotMemberOf: true,
	}
	stringOnlyOperators = map[domain.Operator]bool{
		domain.OpContains:     true,
		domain.OpNotContains:  true,
		domain.OpStartsWith:   true,
		domain.OpEndsWith:     true,
		domain.OpMatchesRegex: true,
	}
)

// Validate walks a structurally sound AST and checks it against the field
// catalog: every condition's field must exist, its operator must be legal
// for the field type, and its value must have the shape and scalar types the
// operator class demands. Failures are reported as ErrUnknownField or
// ErrSemantic with the offending field, operator, or value named.
func Validate(node *Node, catalog *domain.FieldCatalog) error {
	switch node.NodeType {
	case NodeAnd, NodeOr:
		for _, child := range node.Children {
			if err := Validate(child, catalog); err != nil {
				return err
			}
		}
		return nil
	case NodeNot:
		return Validate(node.Child, catalog)
	default:
		return validateCondition(node, catalog)
	}
}

// ParseAndValidate is the full front door: structural parse followed by
// semantic validation. The returned tree is the validated AST to persist.
func ParseAndValidate(data []byte, catalog *domain.FieldCatalog) (*Node, error) {
	node, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(node, catalog); err != nil {
		return nil, err
	}
	return node, nil
}

func validateCondition(n *Node, catalog *domain.FieldCatalog) error {
	field, err := catalog.Require(n.FieldKey)
	if err != nil {
		return err
	}

	if !catalog.IsOperatorAllowed(n.FieldKey, n.Operator) {
		return fmt.Errorf("%w: operator %s is not allowed for field type %s (field %s)",
			domain.ErrSemantic, n.Operator, field.Type, n.FieldKey)
	}

	// LIST fields compare element-wise as strings.
	elemType := field.Type
	if elemType == domain.FieldTypeList {
		elemType = domain.FieldTypeString
	}

	switch {
	case noValueOperators[n.Operator]:
		if n.hasValue {
			return fmt.Errorf("%w: operator %s does not allow a value payload (field %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey)
		}
		return nil

	case rangeOperators[n.Operator]:
		pair, ok := n.Value.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("%w: operator %s requires a two-item range (field %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey)
		}
		if !scalarMatches(elemType, pair[0]) || !scalarMatches(elemType, pair[1]) {
			return fmt.Errorf("%w: range values are invalid for field type %s (field %s)",
				domain.ErrSemantic, field.Type, n.FieldKey)
		}
		return nil

	case listOperators[n.Operator]:
		items, ok := n.Value.([]any)
		if !ok || len(items) == 0 {
			return fmt.Errorf("%w: operator %s requires a non-empty list value (field %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey)
		}
		for _, item := range items {
			if !scalarMatches(elemType, item) {
				return fmt.Errorf("%w: list value %v is invalid for field %s (type %s)",
					domain.ErrSemantic, item, n.FieldKey, field.Type)
			}
		}
		return nil

	default:
		if !n.hasValue {
			return fmt.Errorf("%w: operator %s requires a scalar value (field %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey)
		}
		if _, isArray := n.Value.([]any); isArray {
			return fmt.Errorf("%w: operator %s requires a scalar value, got a list (field %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey)
		}
		if stringOnlyOperators[n.Operator] &&
			field.Type != domain.FieldTypeString && field.Type != domain.FieldTypeList {
			return fmt.Errorf("%w: operator %s requires a STRING or LIST field (field %s is %s)",
				domain.ErrSemantic, n.Operator, n.FieldKey, field.Type)
		}
		if !scalarMatches(elemType, n.Value) {
			return fmt.Errorf("%w: value %v is invalid for field type %s (field %s)",
				domain.ErrSemantic, n.Value, field.Type, n.FieldKey)
		}
		return nil
	}
}

// scalarMatches checks the intentionally permissive shape rule: NUMBER wants
// a JSON number, BOOLEAN a bool, everything else (STRING, ENUM, DATETIME,
// LIST elements) a string. Operator-specific semantics such as regex
// compilability are deferred to evaluation.
func scalarMatches(fieldType domain.FieldType, v any) bool {
	switch fieldType {
	case domain.FieldTypeNumber:
		_, ok := v.(float64)
		return ok
	case domain.FieldTypeBoolean:
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}
