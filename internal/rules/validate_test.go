package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestValidateAcceptsLegalConditions(t *testing.T) {
	catalog := domain.DefaultFieldCatalog()

	cases := []struct {
		name string
		node *Node
	}{
		{"number comparison", Condition("txn.amount", domain.OpGT, 100)},
		{"number between", Condition("txn.amount", domain.OpBetween, []any{100.0, 200.0})},
		{"enum in", Condition("txn.mcc", domain.OpIn, []any{"4814", "7995"})},
		{"boolean eq", Condition("card.present", domain.OpEQ, true)},
		{"datetime range", Condition("txn.timestamp", domain.OpBetween, []any{"2026-01-01T00:00:00Z", "2026-02-01T00:00:00Z"})},
		{"list member of", Condition("account.tags", domain.OpMemberOf, []any{"vip"})},
		{"list contains", Condition("account.tags", domain.OpContains, "vip")},
		{"string regex", Condition("txn.country", domain.OpMatchesRegex, "^[A-Z]{2}$")},
		{"string is empty", BareCondition("txn.country", domain.OpIsEmpty)},
		{"nested tree", And(
			Condition("txn.amount", domain.OpGT, 100),
			Or(
				Condition("txn.mcc", domain.OpIn, []any{"4814"}),
				Not(Condition("card.present", domain.OpEQ, true)),
			),
		)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.node, catalog); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestValidateRejections(t *testing.T) {
	catalog := domain.DefaultFieldCatalog()

	cases := []struct {
		name     string
		node     *Node
		wantErr  error
		wantText string
	}{
		{
			name:    "unknown field",
			node:    Condition("txn.unknown", domain.OpEQ, "x"),
			wantErr: domain.ErrUnknownField,
		},
		{
			name:     "regex on number field names type",
			node:     Condition("txn.amount", domain.OpMatchesRegex, "^1"),
			wantErr:  domain.ErrSemantic,
			wantText: "NUMBER",
		},
		{
			name:    "between wrong arity",
			node:    Condition("txn.amount", domain.OpBetween, []any{100.0}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "between non-list value",
			node:    Condition("txn.amount", domain.OpBetween, 100),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "between mistyped bound",
			node:    Condition("txn.amount", domain.OpBetween, []any{100.0, "200"}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "in with empty list",
			node:    Condition("txn.mcc", domain.OpIn, []any{}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "in with mistyped element",
			node:    Condition("txn.mcc", domain.OpIn, []any{"4814", 7995.0}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "is null with value payload",
			node:    Condition("txn.country", domain.OpIsNull, "x"),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "scalar operator without value",
			node:    BareCondition("txn.amount", domain.OpGT),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "scalar operator with list value",
			node:    Condition("txn.amount", domain.OpGT, []any{100.0}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "number field with string value",
			node:    Condition("txn.amount", domain.OpEQ, "100"),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "boolean field with string value",
			node:    Condition("card.present", domain.OpEQ, "true"),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "member of on non-list field",
			node:    Condition("txn.mcc", domain.OpMemberOf, []any{"4814"}),
			wantErr: domain.ErrSemantic,
		},
		{
			name:    "is empty on number field",
			node:    BareCondition("txn.amount", domain.OpIsEmpty),
			wantErr: domain.ErrSemantic,
		},
		{
			name: "nested failure surfaces",
			node: And(
				Condition("txn.amount", domain.OpGT, 100),
				Condition("txn.unknown", domain.OpEQ, "x"),
			),
			wantErr: domain.ErrUnknownField,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.node, catalog)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantText != "" && !strings.Contains(err.Error(), tc.wantText) {
				t.Errorf("error %q should mention %q", err, tc.wantText)
			}
		})
	}
}

func TestParseAndValidate(t *testing.T) {
	catalog := domain.DefaultFieldCatalog()

	raw := []byte(`{
		"nodeType": "AND",
		"children": [
			{"nodeType": "CONDITION", "fieldKey": "txn.amount", "operator": "GT", "value": 100},
			{"nodeType": "CONDITION", "fieldKey": "txn.mcc", "operator": "IN", "value": ["4814", "7995"]}
		]
	}`)

	node, err := ParseAndValidate(raw, catalog)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if len(node.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(node.Children))
	}

	bad := []byte(`{"nodeType":"CONDITION","fieldKey":"txn.amount","operator":"CONTAINS","value":"1"}`)
	if _, err := ParseAndValidate(bad, catalog); !errors.Is(err, domain.ErrSemantic) {
		t.Errorf("ParseAndValidate error = %v, want ErrSemantic", err)
	}
}
