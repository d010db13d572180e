package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Describe turns a validated AST and its decision into the canonical
// human-readable description. It is pure and deterministic: identical input
// always yields an identical string, which is what lets the rule service
// detect whether a manual description has actually diverged from the
// template.
func Describe(node *Node, decision domain.Decision) string {
	return strings.ToUpper(decision.Action) + " if " + renderNode(node)
}

var scalarSymbols = map[domain.Operator]string{
	domain.OpEQ:           "=",
	domain.OpNEQ:          "!=",
	domain.OpGT:           ">",
	domain.OpGTE:          ">=",
	domain.OpLT:           "<",
	domain.OpLTE:          "<=",
	domain.OpContains:     "CONTAINS",
	domain.OpNotContains:  "NOT CONTAINS",
	domain.OpStartsWith:   "STARTS WITH",
	domain.OpEndsWith:     "ENDS WITH",
	domain.OpMatchesRegex: "MATCHES REGEX",
}

var listVerbs = map[domain.Operator]string{
	domain.OpIn:          "IN",
	domain.OpNotIn:       "NOT IN",
	domain.OpMemberOf:    "MEMBER OF",
	domain.OpNotMemberOf: "NOT MEMBER OF",
}

func renderNode(n *Node) string {
	switch n.NodeType {
	case NodeAnd, NodeOr:
		parts := make([]string, len(n.Children))
		for i, child := range n.Children {
			parts[i] = renderNode(child)
		}
		return strings.Join(parts, " "+string(n.NodeType)+" ")

	case NodeNot:
		inner := renderNode(n.Child)
		// Leaf conditions read fine unparenthesized; logical children need
		// grouping to keep the rendering unambiguous.
		if n.Child.NodeType == NodeCondition {
			return "NOT " + inner
		}
		return "NOT (" + inner + ")"

	default:
		return renderCondition(n)
	}
}

func renderCondition(n *Node) string {
	switch n.Operator {
	case domain.OpIsNull:
		return n.FieldKey + " IS NULL"
	case domain.OpIsNotNull:
		return n.FieldKey + " IS NOT NULL"
	case domain.OpIsEmpty:
		return n.FieldKey + " IS EMPTY"
	}

	if rangeOperators[n.Operator] {
		pair, _ := n.Value.([]any)
		keyword := "BETWEEN"
		if n.Operator == domain.OpNotBetween {
			keyword = "NOT BETWEEN"
		}
		if len(pair) == 2 {
			return n.FieldKey + " " + keyword + " " + formatValue(pair[0]) + " AND " + formatValue(pair[1])
		}
		return n.FieldKey + " " + keyword
	}

	if verb, ok := listVerbs[n.Operator]; ok {
		items, _ := n.Value.([]any)
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = formatValue(item)
		}
		return n.FieldKey + " " + verb + " {" + strings.Join(parts, ",") + "}"
	}

	return n.FieldKey + " " + scalarSymbols[n.Operator] + " " + formatValue(n.Value)
}

var plainToken = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// formatValue renders a scalar. Strings that are not simple identifier-like
// tokens are quoted; numbers and booleans use their natural string form.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		if plainToken.MatchString(t) {
			return t
		}
		return strconv.Quote(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		// Validated values are always string, number, or bool; anything
		// else renders via fmt for robustness.
		return fmt.Sprintf("%v", t)
	}
}
