package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TraceEntry records the evaluation of one CONDITION leaf actually visited.
// AND/OR short-circuit, so unvisited branches produce no entries; the trace
// order follows evaluation order, which is deterministic for a given tree
// and payload.
type TraceEntry struct {
	FieldKey string          `json:"fieldKey"`
	Operator domain.Operator `json:"operator"`
	Actual   any             `json:"actual"`
	Expected any             `json:"expected,omitempty"`
	Result   bool            `json:"result"`
}

// EvalResult is the outcome of evaluating a rule AST against a payload.
type EvalResult struct {
	Matched bool         `json:"matched"`
	Trace   []TraceEntry `json:"trace"`
}

// Evaluate executes a validated AST against an arbitrary JSON payload.
// It never panics or errors on a validated tree: missing fields resolve to
// nil, type mismatches and unknown operators evaluate to false. Runtime
// payloads must not be able to halt batch evaluation.
func Evaluate(node *Node, payload map[string]any) EvalResult {
	e := &evaluator{payload: payload}
	matched := e.eval(node)
	return EvalResult{Matched: matched, Trace: e.trace}
}

type evaluator struct {
	payload map[string]any
	trace   []TraceEntry
}

func (e *evaluator) eval(n *Node) bool {
	switch n.NodeType {
	case NodeAnd:
		for _, child := range n.Children {
			if !e.eval(child) {
				return false
			}
		}
		return true

	case NodeOr:
		for _, child := range n.Children {
			if e.eval(child) {
				return true
			}
		}
		return false

	case NodeNot:
		return !e.eval(n.Child)

	default:
		actual := lookupPath(e.payload, n.FieldKey)
		result := compare(n.Operator, actual, n.Value)
		e.trace = append(e.trace, TraceEntry{
			FieldKey: n.FieldKey,
			Operator: n.Operator,
			Actual:   actual,
			Expected: n.Value,
			Result:   result,
		})
		return result
	}
}

// lookupPath resolves a dotted path into nested payload objects. Missing
// intermediate objects resolve to nil rather than failing.
func lookupPath(payload map[string]any, path string) any {
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func compare(op domain.Operator, actual, expected any) bool {
	switch op {
	case domain.OpEQ:
		return looseEqual(actual, expected)
	case domain.OpNEQ:
		return !looseEqual(actual, expected)
	case domain.OpGT:
		cmp, ok := order(actual, expected)
		return ok && cmp > 0
	case domain.OpGTE:
		cmp, ok := order(actual, expected)
		return ok && cmp >= 0
	case domain.OpLT:
		cmp, ok := order(actual, expected)
		return ok && cmp < 0
	case domain.OpLTE:
		cmp, ok := order(actual, expected)
		return ok && cmp <= 0

	case domain.OpBetween, domain.OpNotBetween:
		pair, ok := expected.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		lowCmp, okLow := order(actual, pair[0])
		highCmp, okHigh := order(actual, pair[1])
		within := okLow && okHigh && lowCmp >= 0 && highCmp <= 0
		if op == domain.OpNotBetween {
			return okLow && okHigh && !within
		}
		return within

	case domain.OpIn, domain.OpNotIn:
		member := memberOfList(expected, actual)
		if op == domain.OpNotIn {
			return !member
		}
		return member

	case domain.OpMemberOf, domain.OpNotMemberOf:
		// The comparison side must be an array; any expected element
		// appearing in it counts as membership.
		items, ok := actual.([]any)
		if !ok {
			return false
		}
		candidates, ok := expected.([]any)
		if !ok {
			return false
		}
		member := false
		for _, candidate := range candidates {
			for _, item := range items {
				if looseEqual(item, candidate) {
					member = true
					break
				}
			}
			if member {
				break
			}
		}
		if op == domain.OpNotMemberOf {
			return !member
		}
		return member

	case domain.OpIsNull:
		return actual == nil
	case domain.OpIsNotNull:
		return actual != nil

	case domain.OpIsEmpty:
		switch t := actual.(type) {
		case string:
			return t == ""
		case []any:
			return len(t) == 0
		default:
			return false
		}

	case domain.OpContains, domain.OpNotContains:
		var contains bool
		switch t := actual.(type) {
		case string:
			contains = strings.Contains(t, asString(expected))
		case []any:
			contains = memberOfList(actual, expected)
		default:
			return false
		}
		if op == domain.OpNotContains {
			return !contains
		}
		return contains

	case domain.OpStartsWith:
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, asString(expected))
	case domain.OpEndsWith:
		s, ok := actual.(string)
		return ok && strings.HasSuffix(s, asString(expected))

	case domain.OpMatchesRegex:
		// Fails fast rather than throwing: non-string actuals and
		// uncompilable patterns evaluate to false.
		s, ok := actual.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(asString(expected))
		if err != nil {
			return false
		}
		return re.MatchString(s)

	default:
		// Validation excludes unknown operators; evaluation still refuses
		// to throw on them. Deliberate asymmetry with the fail-fast
		// validator.
		return false
	}
}

// looseEqual compares with numeric coercion when both sides convert, so
// "4814" equals 4814. Non-numeric sides compare by native string form;
// booleans compare directly.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
		return false
	}
	return asString(a) == asString(b)
}

// order returns a three-way comparison. Numeric when both sides convert;
// otherwise lexicographic on native string forms, which keeps RFC 3339
// datetime strings ordering correctly.
func order(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			switch {
			case na < nb:
				return -1, true
			case na > nb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return strings.Compare(asString(a), asString(b)), true
}

func memberOfList(list, candidate any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(item, candidate) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return ""
	}
}
