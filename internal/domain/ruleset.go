package domain

import "time"

// RulesetVersionStatus is the lifecycle state of a ruleset version.
// Transitions are linear and forward-only: DRAFT -> APPROVED -> ACTIVE.
type RulesetVersionStatus string

const (
	RulesetVersionDraft    RulesetVersionStatus = "DRAFT"
	RulesetVersionApproved RulesetVersionStatus = "APPROVED"
	RulesetVersionActive   RulesetVersionStatus = "ACTIVE"
)

// ExecutionMode determines how a ruleset version's entries are applied.
type ExecutionMode string

const (
	// ModeSequential applies entries in ascending orderPriority; the first
	// matching rule version decides.
	ModeSequential ExecutionMode = "SEQUENTIAL"

	// ModeParallel evaluates all entries and resolves conflicting actions
	// via the version's decision precedence.
	ModeParallel ExecutionMode = "PARALLEL"
)

// DecisionPrecedence orders decision actions from strongest to weakest.
// Required for PARALLEL execution, where several entries may match with
// different actions.
type DecisionPrecedence []string

// Rank returns the precedence index of action, or len(p) when the action is
// not listed (ranking it below every listed action).
func (p DecisionPrecedence) Rank(action string) int {
	for i, a := range p {
		if a == action {
			return i
		}
	}
	return len(p)
}

// Ruleset is the stable identity owning a sequence of ruleset versions.
type Ruleset struct {
	RulesetID   string    `json:"rulesetId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RulesetVersion is one revision of a ruleset's entry collection and
// execution settings. At most one version per ruleset is ACTIVE at any time.
type RulesetVersion struct {
	RulesetVersionID   string               `json:"rulesetVersionId"`
	RulesetID          string               `json:"rulesetId"`
	VersionNumber      int                  `json:"versionNumber"`
	Status             RulesetVersionStatus `json:"status"`
	ExecutionMode      ExecutionMode        `json:"executionMode"`
	DecisionPrecedence DecisionPrecedence   `json:"decisionPrecedence,omitempty"`
	CreatedBy          string               `json:"createdBy"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
	ApprovedBy         string               `json:"approvedBy,omitempty"`
	ApprovedAt         *time.Time           `json:"approvedAt,omitempty"`
	ActivatedBy        string               `json:"activatedBy,omitempty"`
	ActivatedAt        *time.Time           `json:"activatedAt,omitempty"`
}

// RulesetEntry associates a ruleset version with one rule version.
// OrderPriority is mandatory and unique within a SEQUENTIAL version's entry
// set, and always nil for PARALLEL versions.
type RulesetEntry struct {
	EntryID          string    `json:"entryId"`
	RulesetVersionID string    `json:"rulesetVersionId"`
	RuleID           string    `json:"ruleId"`
	RuleVersionID    string    `json:"ruleVersionId"`
	Enabled          bool      `json:"enabled"`
	OrderPriority    *int      `json:"orderPriority"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DeriveRulesetStatus folds version statuses into a ruleset-level status
// with precedence ACTIVE > APPROVED > DRAFT.
func DeriveRulesetStatus(statuses []RulesetVersionStatus) RulesetVersionStatus {
	derived := RulesetVersionDraft
	for _, s := range statuses {
		switch s {
		case RulesetVersionActive:
			return RulesetVersionActive
		case RulesetVersionApproved:
			derived = RulesetVersionApproved
		}
	}
	return derived
}
