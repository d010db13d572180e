package repository

// Schema definitions for the Harrier store.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    rule_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    tags TEXT NOT NULL,
    archived_at TIMESTAMP,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_name ON rules(name);
`

const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS rule_versions (
    rule_version_id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    status TEXT NOT NULL,
    logic_ast TEXT NOT NULL,
    decision TEXT NOT NULL,
    description TEXT,
    description_source TEXT NOT NULL,
    change_summary TEXT,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    approved_by TEXT,
    approved_at TIMESTAMP,
    UNIQUE (rule_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_rule ON rule_versions(rule_id);
CREATE INDEX IF NOT EXISTS idx_rule_versions_status ON rule_versions(rule_id, status);
`

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS rulesets (
    ruleset_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    tags TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rulesets_name ON rulesets(name);
`

const schemaRulesetVersions = `
CREATE TABLE IF NOT EXISTS ruleset_versions (
    ruleset_version_id TEXT PRIMARY KEY,
    ruleset_id TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    status TEXT NOT NULL,
    execution_mode TEXT NOT NULL,
    decision_precedence TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    approved_by TEXT,
    approved_at TIMESTAMP,
    activated_by TEXT,
    activated_at TIMESTAMP,
    UNIQUE (ruleset_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_ruleset_versions_ruleset ON ruleset_versions(ruleset_id);
CREATE INDEX IF NOT EXISTS idx_ruleset_versions_status ON ruleset_versions(ruleset_id, status);
`

const schemaRulesetEntries = `
CREATE TABLE IF NOT EXISTS ruleset_entries (
    entry_id TEXT PRIMARY KEY,
    ruleset_version_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_version_id TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    order_priority INTEGER,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (ruleset_version_id, rule_version_id)
);

CREATE INDEX IF NOT EXISTS idx_ruleset_entries_version ON ruleset_entries(ruleset_version_id);
CREATE INDEX IF NOT EXISTS idx_ruleset_entries_order ON ruleset_entries(ruleset_version_id, order_priority);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaRuleVersions,
		schemaRulesets,
		schemaRulesetVersions,
		schemaRulesetEntries,
	}
}
