// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"fmt"
	"sort"
)

// FieldType is the semantic type of a catalog field.
type FieldType string

const (
	FieldTypeNumber   FieldType = "NUMBER"
	FieldTypeString   FieldType = "STRING"
	FieldTypeBoolean  FieldType = "BOOLEAN"
	FieldTypeDatetime FieldType = "DATETIME"
	FieldTypeEnum     FieldType = "ENUM"
	FieldTypeList     FieldType = "LIST"
)

// Operator is a condition operator in rule logic.
type Operator string

const (
	OpEQ           Operator = "EQ"
	OpNEQ          Operator = "NEQ"
	OpGT           Operator = "GT"
	OpGTE          Operator = "GTE"
	OpLT           Operator = "LT"
	OpLTE          Operator = "LTE"
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT_IN"
	OpBetween      Operator = "BETWEEN"
	OpNotBetween   Operator = "NOT_BETWEEN"
	OpIsNull       Operator = "IS_NULL"
	OpIsNotNull    Operator = "IS_NOT_NULL"
	OpIsEmpty      Operator = "IS_EMPTY"
	OpContains     Operator = "CONTAINS"
	OpNotContains  Operator = "NOT_CONTAINS"
	OpStartsWith   Operator = "STARTS_WITH"
	OpEndsWith     Operator = "ENDS_WITH"
	OpMatchesRegex Operator = "MATCHES_REGEX"
	OpMemberOf     Operator = "MEMBER_OF"
	OpNotMemberOf  Operator = "NOT_MEMBER_OF"
)

// FieldDefinition describes a single payload field editors can reference.
type FieldDefinition struct {
	FieldKey string    `json:"fieldKey"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
}

// OperatorsByType is the closed legality table mapping field types to the
// operators allowed on them. It is the single source of truth consulted by
// both validation and operator pickers.
var OperatorsByType = map[FieldType][]Operator{
	FieldTypeNumber: {
		OpEQ, OpNEQ, OpGT, OpGTE, OpLT, OpLTE,
		OpIn, OpNotIn, OpBetween, OpNotBetween, OpIsNull, OpIsNotNull,
	},
	FieldTypeDatetime: {
		OpEQ, OpNEQ, OpGT, OpGTE, OpLT, OpLTE,
		OpBetween, OpNotBetween, OpIsNull, OpIsNotNull,
	},
	FieldTypeString: {
		OpEQ, OpNEQ, OpIn, OpNotIn, OpIsNull, OpIsNotNull, OpIsEmpty,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpMatchesRegex,
	},
	FieldTypeBoolean: {
		OpEQ, OpNEQ, OpIsNull, OpIsNotNull,
	},
	FieldTypeEnum: {
		OpEQ, OpNEQ, OpIn, OpNotIn, OpIsNull, OpIsNotNull,
	},
	FieldTypeList: {
		OpIsEmpty, OpContains, OpNotContains, OpMemberOf, OpNotMemberOf,
		OpIsNull, OpIsNotNull,
	},
}

// FieldCatalog is the process-wide immutable registry of referenceable
// fields. Construct it once at startup and pass it explicitly to validators
// and evaluators.
type FieldCatalog struct {
	fields map[string]FieldDefinition
}

// NewFieldCatalog builds a catalog from definitions. Later definitions with
// a duplicate fieldKey overwrite earlier ones.
func NewFieldCatalog(defs []FieldDefinition) *FieldCatalog {
	fields := make(map[string]FieldDefinition, len(defs))
	for _, def := range defs {
		fields[def.FieldKey] = def
	}
	return &FieldCatalog{fields: fields}
}

// Get returns the definition for fieldKey, if present.
func (c *FieldCatalog) Get(fieldKey string) (FieldDefinition, bool) {
	def, ok := c.fields[fieldKey]
	return def, ok
}

// Require returns the definition for fieldKey or an ErrUnknownField error
// naming the missing key.
func (c *FieldCatalog) Require(fieldKey string) (FieldDefinition, error) {
	def, ok := c.fields[fieldKey]
	if !ok {
		return FieldDefinition{}, fmt.Errorf("%w: %s", ErrUnknownField, fieldKey)
	}
	return def, nil
}

// IsOperatorAllowed reports whether op is legal for the field's type.
// Unknown fields are never legal.
func (c *FieldCatalog) IsOperatorAllowed(fieldKey string, op Operator) bool {
	def, ok := c.fields[fieldKey]
	if !ok {
		return false
	}
	for _, allowed := range OperatorsByType[def.Type] {
		if allowed == op {
			return true
		}
	}
	return false
}

// Fields returns all definitions sorted by fieldKey.
func (c *FieldCatalog) Fields() []FieldDefinition {
	defs := make([]FieldDefinition, 0, len(c.fields))
	for _, def := range c.fields {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].FieldKey < defs[j].FieldKey })
	return defs
}

// DefaultFieldCatalog returns the built-in catalog for card-transaction
// decisioning.
func DefaultFieldCatalog() *FieldCatalog {
	return NewFieldCatalog([]FieldDefinition{
		{FieldKey: "txn.amount", Label: "Transaction Amount", Type: FieldTypeNumber},
		{FieldKey: "txn.mcc", Label: "Merchant Category", Type: FieldTypeEnum},
		{FieldKey: "card.present", Label: "Card Present", Type: FieldTypeBoolean},
		{FieldKey: "txn.timestamp", Label: "Transaction Timestamp", Type: FieldTypeDatetime},
		{FieldKey: "account.tags", Label: "Account Tags", Type: FieldTypeList},
		{FieldKey: "txn.country", Label: "Transaction Country", Type: FieldTypeString},
	})
}
