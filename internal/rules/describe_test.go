package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestDescribeGolden(t *testing.T) {
	node := And(
		Condition("txn.amount", domain.OpGT, 100),
		Condition("txn.mcc", domain.OpIn, []any{"4814", "7995"}),
		Not(Condition("card.present", domain.OpEQ, true)),
	)
	decision := domain.Decision{Action: "BLOCK"}

	got := Describe(node, decision)
	want := "BLOCK if txn.amount > 100 AND txn.mcc IN {4814,7995} AND NOT card.present = true"
	if got != want {
		t.Errorf("Describe =\n  %q\nwant\n  %q", got, want)
	}
}

func TestDescribeOperatorForms(t *testing.T) {
	decision := domain.Decision{Action: "review"}

	cases := []struct {
		name string
		node *Node
		want string
	}{
		{
			name: "action uppercased",
			node: Condition("txn.amount", domain.OpEQ, 5),
			want: "REVIEW if txn.amount = 5",
		},
		{
			name: "between",
			node: Condition("txn.amount", domain.OpBetween, []any{100.0, 200.0}),
			want: "REVIEW if txn.amount BETWEEN 100 AND 200",
		},
		{
			name: "not between",
			node: Condition("txn.amount", domain.OpNotBetween, []any{100.0, 200.0}),
			want: "REVIEW if txn.amount NOT BETWEEN 100 AND 200",
		},
		{
			name: "is null",
			node: BareCondition("txn.country", domain.OpIsNull),
			want: "REVIEW if txn.country IS NULL",
		},
		{
			name: "is empty",
			node: BareCondition("account.tags", domain.OpIsEmpty),
			want: "REVIEW if account.tags IS EMPTY",
		},
		{
			name: "not in",
			node: Condition("txn.mcc", domain.OpNotIn, []any{"4814"}),
			want: "REVIEW if txn.mcc NOT IN {4814}",
		},
		{
			name: "member of",
			node: Condition("account.tags", domain.OpMemberOf, []any{"vip", "trusted"}),
			want: "REVIEW if account.tags MEMBER OF {vip,trusted}",
		},
		{
			name: "string needing quotes",
			node: Condition("txn.country", domain.OpContains, "a b"),
			want: `REVIEW if txn.country CONTAINS "a b"`,
		},
		{
			name: "or join",
			node: Or(
				Condition("txn.amount", domain.OpLT, 10),
				Condition("txn.amount", domain.OpGT, 1000),
			),
			want: "REVIEW if txn.amount < 10 OR txn.amount > 1000",
		},
		{
			name: "not over group parenthesized",
			node: Not(Or(
				Condition("txn.amount", domain.OpLT, 10),
				Condition("card.present", domain.OpEQ, false),
			)),
			want: "REVIEW if NOT (txn.amount < 10 OR card.present = false)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Describe(tc.node, decision); got != tc.want {
				t.Errorf("Describe = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDescribeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	decision := domain.Decision{Action: "BLOCK"}

	properties.Property("rendering is deterministic", prop.ForAll(
		func(amount float64, country string) bool {
			node := And(
				Condition("txn.amount", domain.OpGT, amount),
				Condition("txn.country", domain.OpEQ, country),
			)
			return Describe(node, decision) == Describe(node, decision)
		},
		gen.Float64Range(-1e6, 1e6),
		gen.AnyString(),
	))

	properties.Property("changing a leaf value changes the rendering", prop.ForAll(
		func(a, b float64) bool {
			if a == b {
				return true
			}
			left := Describe(Condition("txn.amount", domain.OpGT, a), decision)
			right := Describe(Condition("txn.amount", domain.OpGT, b), decision)
			return left != right
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("changing a nested leaf changes the rendering", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			build := func(country string) *Node {
				return And(
					Condition("txn.amount", domain.OpGT, 100),
					Not(Condition("txn.country", domain.OpEQ, country)),
				)
			}
			return Describe(build(a), decision) != Describe(build(b), decision)
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
