package domain

import (
	"encoding/json"
	"time"
)

// RuleVersionStatus is the lifecycle state of a rule version.
// Transitions are forward-only: DRAFT -> APPROVED.
type RuleVersionStatus string

const (
	RuleVersionDraft    RuleVersionStatus = "DRAFT"
	RuleVersionApproved RuleVersionStatus = "APPROVED"
)

// DescriptionSource records whether a rule version description was derived
// from its AST or supplied manually.
type DescriptionSource string

const (
	DescriptionTemplate DescriptionSource = "TEMPLATE"
	DescriptionManual   DescriptionSource = "MANUAL"
)

// Decision is the outcome attached to a rule version when its logic matches.
type Decision struct {
	Action     string         `json:"action"`
	ReasonCode string         `json:"reasonCode,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Rule is the stable identity owning a sequence of rule versions.
// Rules are never deleted; they are archived.
type Rule struct {
	RuleID      string     `json:"ruleId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Archived reports whether the rule has been archived.
func (r *Rule) Archived() bool {
	return r.ArchivedAt != nil
}

// RuleVersion is one immutable-once-approved revision of a rule's logic.
// LogicAst holds the validated AST as an opaque JSON document; every AST
// stored in the system has passed structural and semantic validation.
type RuleVersion struct {
	RuleVersionID     string            `json:"ruleVersionId"`
	RuleID            string            `json:"ruleId"`
	VersionNumber     int               `json:"versionNumber"`
	Status            RuleVersionStatus `json:"status"`
	LogicAst          json.RawMessage   `json:"logicAst"`
	Decision          Decision          `json:"decision"`
	Description       string            `json:"description"`
	DescriptionSource DescriptionSource `json:"descriptionSource"`
	ChangeSummary     string            `json:"changeSummary,omitempty"`
	CreatedBy         string            `json:"createdBy"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	ApprovedBy        string            `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time        `json:"approvedAt,omitempty"`
}
