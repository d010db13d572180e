package domain

import "context"

// Store defines the persistence interface for the five core tables.
// Implementations must return ErrNotFound (wrapped) when a lookup misses.
type Store interface {
	// Rule operations
	CreateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	ListRules(ctx context.Context) ([]*Rule, error)

	// Rule version operations
	CreateRuleVersion(ctx context.Context, rv *RuleVersion) error
	GetRuleVersion(ctx context.Context, ruleVersionID string) (*RuleVersion, error)
	UpdateRuleVersion(ctx context.Context, rv *RuleVersion) error
	ListRuleVersions(ctx context.Context, ruleID string) ([]*RuleVersion, error)
	LatestRuleVersionNumber(ctx context.Context, ruleID string) (int, error)

	// Ruleset operations
	CreateRuleset(ctx context.Context, rs *Ruleset) error
	GetRuleset(ctx context.Context, rulesetID string) (*Ruleset, error)
	ListRulesets(ctx context.Context) ([]*Ruleset, error)

	// Ruleset version operations
	CreateRulesetVersion(ctx context.Context, rv *RulesetVersion) error
	GetRulesetVersion(ctx context.Context, rulesetVersionID string) (*RulesetVersion, error)
	UpdateRulesetVersion(ctx context.Context, rv *RulesetVersion) error
	ListRulesetVersions(ctx context.Context, rulesetID string) ([]*RulesetVersion, error)
	LatestRulesetVersion(ctx context.Context, rulesetID string) (*RulesetVersion, error)
	ActiveRulesetVersion(ctx context.Context, rulesetID string) (*RulesetVersion, error)
	// DemoteActiveVersions moves every ACTIVE version of the ruleset except
	// exceptVersionID back to APPROVED with cleared activation fields, and
	// returns the number of demoted rows.
	DemoteActiveVersions(ctx context.Context, rulesetID, exceptVersionID string) (int, error)

	// Ruleset entry operations
	CreateEntry(ctx context.Context, entry *RulesetEntry) error
	GetEntry(ctx context.Context, entryID string) (*RulesetEntry, error)
	UpdateEntry(ctx context.Context, entry *RulesetEntry) error
	DeleteEntry(ctx context.Context, entryID string) error
	ListEntries(ctx context.Context, rulesetVersionID string) ([]*RulesetEntry, error)
	FindEntryByRuleVersion(ctx context.Context, rulesetVersionID, ruleVersionID string) (*RulesetEntry, error)
	FindEntryByOrder(ctx context.Context, rulesetVersionID string, orderPriority int) (*RulesetEntry, error)

	// Read-model queries
	QueryRulesetVersionRows(ctx context.Context, q RulesetVersionQuery) ([]*RulesetVersionRow, int, error)
	QueryEntryRows(ctx context.Context, q EntryQuery) ([]*EntryRow, int, error)

	// WithTx runs fn against a Store bound to a single transaction,
	// committing when fn returns nil and rolling back otherwise. It is the
	// atomic unit of work for multi-step operations (ruleset creation with
	// initial draft, next-version entry copy, activate with demote).
	WithTx(ctx context.Context, fn func(Store) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SortKey is one column of a multi-key sort. Key must be one of the
// whitelisted sortable columns of the query it belongs to.
type SortKey struct {
	Key  string
	Desc bool
}

// RulesetVersionQuery selects rows for the flattened ruleset-version table.
type RulesetVersionQuery struct {
	// Search matches case-insensitively against ruleset name and
	// description.
	Search   string
	Statuses []RulesetVersionStatus
	Modes    []ExecutionMode
	Sort     []SortKey
	Offset   int
	Limit    int
}

// RulesetVersionRow is one flattened row: the version plus ruleset context.
type RulesetVersionRow struct {
	RulesetVersion
	RulesetName string `json:"rulesetName"`
	EntryCount  int    `json:"entryCount"`
}

// EntryQuery selects rows for one ruleset version's entries table.
type EntryQuery struct {
	RulesetVersionID string
	// Search matches case-insensitively against the referenced rule name.
	Search string
	Sort   []SortKey
	Offset int
	Limit  int
}

// EntryRow is one entries-table row: the entry plus rule context.
type EntryRow struct {
	RulesetEntry
	RuleName          string            `json:"ruleName"`
	RuleVersionNumber int               `json:"ruleVersionNumber"`
	RuleVersionStatus RuleVersionStatus `json:"ruleVersionStatus"`
}
