// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, letting
// every query method run unchanged inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB // nil when bound to a transaction
	q      dbtx
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		q:      db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn against a store bound to a single transaction. A nested call
// on an already-bound store reuses the enclosing transaction.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	bound := &SQLRepository{q: tx, driver: r.driver}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// --- Rules ---

const ruleColumns = `rule_id, name, description, tags, archived_at, created_by, created_at, updated_at`

// CreateRule stores a new rule.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	tags, _ := json.Marshal(rule.Tags)

	query := `INSERT INTO rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rule.RuleID, rule.Name, rule.Description, string(tags),
		nullTime(rule.ArchivedAt), rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = ?`
	rule, err := scanRule(r.q.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}
	return rule, err
}

// UpdateRule overwrites a rule's mutable fields.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	tags, _ := json.Marshal(rule.Tags)

	query := `
		UPDATE rules
		SET name = ?, description = ?, tags = ?, archived_at = ?, updated_at = ?
		WHERE rule_id = ?
	`
	result, err := r.q.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(tags),
		nullTime(rule.ArchivedAt), rule.UpdatedAt, rule.RuleID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "rule", rule.RuleID)
}

// ListRules retrieves all rules ordered by name.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY name, rule_id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var tags string
	var archivedAt sql.NullTime

	err := row.Scan(
		&rule.RuleID, &rule.Name, &rule.Description, &tags,
		&archivedAt, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(tags), &rule.Tags)
	rule.ArchivedAt = timePtr(archivedAt)
	return &rule, nil
}

// --- Rule versions ---

const ruleVersionColumns = `rule_version_id, rule_id, version_number, status, logic_ast, decision,
	description, description_source, change_summary, created_by, created_at, updated_at,
	approved_by, approved_at`

// CreateRuleVersion stores a new rule version.
func (r *SQLRepository) CreateRuleVersion(ctx context.Context, rv *domain.RuleVersion) error {
	decision, _ := json.Marshal(rv.Decision)

	query := `INSERT INTO rule_versions (` + ruleVersionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rv.RuleVersionID, rv.RuleID, rv.VersionNumber, rv.Status,
		string(rv.LogicAst), string(decision),
		rv.Description, rv.DescriptionSource, rv.ChangeSummary,
		rv.CreatedBy, rv.CreatedAt, rv.UpdatedAt,
		nullString(rv.ApprovedBy), nullTime(rv.ApprovedAt),
	)
	return err
}

// GetRuleVersion retrieves a rule version by ID.
func (r *SQLRepository) GetRuleVersion(ctx context.Context, ruleVersionID string) (*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions WHERE rule_version_id = ?`
	rv, err := scanRuleVersion(r.q.QueryRowContext(ctx, r.rebind(query), ruleVersionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule version %s", domain.ErrNotFound, ruleVersionID)
	}
	return rv, err
}

// UpdateRuleVersion overwrites a rule version's mutable fields.
func (r *SQLRepository) UpdateRuleVersion(ctx context.Context, rv *domain.RuleVersion) error {
	decision, _ := json.Marshal(rv.Decision)

	query := `
		UPDATE rule_versions
		SET status = ?, logic_ast = ?, decision = ?, description = ?,
			description_source = ?, change_summary = ?, updated_at = ?,
			approved_by = ?, approved_at = ?
		WHERE rule_version_id = ?
	`
	result, err := r.q.ExecContext(ctx, r.rebind(query),
		rv.Status, string(rv.LogicAst), string(decision), rv.Description,
		rv.DescriptionSource, rv.ChangeSummary, rv.UpdatedAt,
		nullString(rv.ApprovedBy), nullTime(rv.ApprovedAt),
		rv.RuleVersionID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "rule version", rv.RuleVersionID)
}

// ListRuleVersions retrieves all versions of a rule, newest first.
func (r *SQLRepository) ListRuleVersions(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	query := `SELECT ` + ruleVersionColumns + ` FROM rule_versions
		WHERE rule_id = ? ORDER BY version_number DESC`
	rows, err := r.q.QueryContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RuleVersion
	for rows.Next() {
		rv, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, rv)
	}
	return versions, rows.Err()
}

// LatestRuleVersionNumber returns the highest version number for a rule, or
// zero when the rule has no versions.
func (r *SQLRepository) LatestRuleVersionNumber(ctx context.Context, ruleID string) (int, error) {
	query := `SELECT COALESCE(MAX(version_number), 0) FROM rule_versions WHERE rule_id = ?`
	var n int
	err := r.q.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(&n)
	return n, err
}

func scanRuleVersion(row rowScanner) (*domain.RuleVersion, error) {
	var rv domain.RuleVersion
	var logicAst, decision string
	var changeSummary, description sql.NullString
	var approvedBy sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&rv.RuleVersionID, &rv.RuleID, &rv.VersionNumber, &rv.Status,
		&logicAst, &decision, &description, &rv.DescriptionSource, &changeSummary,
		&rv.CreatedBy, &rv.CreatedAt, &rv.UpdatedAt,
		&approvedBy, &approvedAt,
	)
	if err != nil {
		return nil, err
	}

	rv.LogicAst = json.RawMessage(logicAst)
	json.Unmarshal([]byte(decision), &rv.Decision)
	rv.Description = description.String
	rv.ChangeSummary = changeSummary.String
	rv.ApprovedBy = approvedBy.String
	rv.ApprovedAt = timePtr(approvedAt)
	return &rv, nil
}

// --- Rulesets ---

const rulesetColumns = `ruleset_id, name, description, tags, created_by, created_at, updated_at`

// CreateRuleset stores a new ruleset.
func (r *SQLRepository) CreateRuleset(ctx context.Context, rs *domain.Ruleset) error {
	tags, _ := json.Marshal(rs.Tags)

	query := `INSERT INTO rulesets (` + rulesetColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rs.RulesetID, rs.Name, rs.Description, string(tags),
		rs.CreatedBy, rs.CreatedAt, rs.UpdatedAt,
	)
	return err
}

// GetRuleset retrieves a ruleset by ID.
func (r *SQLRepository) GetRuleset(ctx context.Context, rulesetID string) (*domain.Ruleset, error) {
	query := `SELECT ` + rulesetColumns + ` FROM rulesets WHERE ruleset_id = ?`

	var rs domain.Ruleset
	var tags string
	err := r.q.QueryRowContext(ctx, r.rebind(query), rulesetID).Scan(
		&rs.RulesetID, &rs.Name, &rs.Description, &tags,
		&rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ruleset %s", domain.ErrNotFound, rulesetID)
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(tags), &rs.Tags)
	return &rs, nil
}

// ListRulesets retrieves all rulesets ordered by name.
func (r *SQLRepository) ListRulesets(ctx context.Context) ([]*domain.Ruleset, error) {
	query := `SELECT ` + rulesetColumns + ` FROM rulesets ORDER BY name, ruleset_id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesets []*domain.Ruleset
	for rows.Next() {
		var rs domain.Ruleset
		var tags string
		if err := rows.Scan(
			&rs.RulesetID, &rs.Name, &rs.Description, &tags,
			&rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt,
		); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(tags), &rs.Tags)
		rulesets = append(rulesets, &rs)
	}
	return rulesets, rows.Err()
}

// --- Ruleset versions ---

const rulesetVersionColumns = `ruleset_version_id, ruleset_id, version_number, status, execution_mode,
	decision_precedence, created_by, created_at, updated_at,
	approved_by, approved_at, activated_by, activated_at`

// CreateRulesetVersion stores a new ruleset version.
func (r *SQLRepository) CreateRulesetVersion(ctx context.Context, rv *domain.RulesetVersion) error {
	precedence, _ := json.Marshal(rv.DecisionPrecedence)

	query := `INSERT INTO ruleset_versions (` + rulesetVersionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rv.RulesetVersionID, rv.RulesetID, rv.VersionNumber, rv.Status, rv.ExecutionMode,
		string(precedence), rv.CreatedBy, rv.CreatedAt, rv.UpdatedAt,
		nullString(rv.ApprovedBy), nullTime(rv.ApprovedAt),
		nullString(rv.ActivatedBy), nullTime(rv.ActivatedAt),
	)
	return err
}

// GetRulesetVersion retrieves a ruleset version by ID.
func (r *SQLRepository) GetRulesetVersion(ctx context.Context, rulesetVersionID string) (*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions WHERE ruleset_version_id = ?`
	rv, err := scanRulesetVersion(r.q.QueryRowContext(ctx, r.rebind(query), rulesetVersionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ruleset version %s", domain.ErrNotFound, rulesetVersionID)
	}
	return rv, err
}

// UpdateRulesetVersion overwrites a ruleset version's mutable fields.
func (r *SQLRepository) UpdateRulesetVersion(ctx context.Context, rv *domain.RulesetVersion) error {
	precedence, _ := json.Marshal(rv.DecisionPrecedence)

	query := `
		UPDATE ruleset_versions
		SET status = ?, execution_mode = ?, decision_precedence = ?, updated_at = ?,
			approved_by = ?, approved_at = ?, activated_by = ?, activated_at = ?
		WHERE ruleset_version_id = ?
	`
	result, err := r.q.ExecContext(ctx, r.rebind(query),
		rv.Status, rv.ExecutionMode, string(precedence), rv.UpdatedAt,
		nullString(rv.ApprovedBy), nullTime(rv.ApprovedAt),
		nullString(rv.ActivatedBy), nullTime(rv.ActivatedAt),
		rv.RulesetVersionID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "ruleset version", rv.RulesetVersionID)
}

// ListRulesetVersions retrieves all versions of a ruleset, newest first.
func (r *SQLRepository) ListRulesetVersions(ctx context.Context, rulesetID string) ([]*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions
		WHERE ruleset_id = ? ORDER BY version_number DESC`
	rows, err := r.q.QueryContext(ctx, r.rebind(query), rulesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*domain.RulesetVersion
	for rows.Next() {
		rv, err := scanRulesetVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, rv)
	}
	return versions, rows.Err()
}

// LatestRulesetVersion returns the highest-numbered version of a ruleset.
func (r *SQLRepository) LatestRulesetVersion(ctx context.Context, rulesetID string) (*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions
		WHERE ruleset_id = ? ORDER BY version_number DESC LIMIT 1`
	rv, err := scanRulesetVersion(r.q.QueryRowContext(ctx, r.rebind(query), rulesetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ruleset %s has no versions", domain.ErrNotFound, rulesetID)
	}
	return rv, err
}

// ActiveRulesetVersion returns the ACTIVE version of a ruleset, if any.
func (r *SQLRepository) ActiveRulesetVersion(ctx context.Context, rulesetID string) (*domain.RulesetVersion, error) {
	query := `SELECT ` + rulesetVersionColumns + ` FROM ruleset_versions
		WHERE ruleset_id = ? AND status = ? LIMIT 1`
	rv, err := scanRulesetVersion(r.q.QueryRowContext(ctx, r.rebind(query), rulesetID, domain.RulesetVersionActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ruleset %s has no active version", domain.ErrNotFound, rulesetID)
	}
	return rv, err
}

// DemoteActiveVersions moves every ACTIVE version of the ruleset except
// exceptVersionID back to APPROVED with cleared activation fields.
func (r *SQLRepository) DemoteActiveVersions(ctx context.Context, rulesetID, exceptVersionID string) (int, error) {
	query := `
		UPDATE ruleset_versions
		SET status = ?, activated_by = NULL, activated_at = NULL, updated_at = ?
		WHERE ruleset_id = ? AND status = ? AND ruleset_version_id <> ?
	`
	result, err := r.q.ExecContext(ctx, r.rebind(query),
		domain.RulesetVersionApproved, time.Now().UTC(),
		rulesetID, domain.RulesetVersionActive, exceptVersionID,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func scanRulesetVersion(row rowScanner) (*domain.RulesetVersion, error) {
	var rv domain.RulesetVersion
	var precedence string
	var approvedBy, activatedBy sql.NullString
	var approvedAt, activatedAt sql.NullTime

	err := row.Scan(
		&rv.RulesetVersionID, &rv.RulesetID, &rv.VersionNumber, &rv.Status, &rv.ExecutionMode,
		&precedence, &rv.CreatedBy, &rv.CreatedAt, &rv.UpdatedAt,
		&approvedBy, &approvedAt, &activatedBy, &activatedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(precedence), &rv.DecisionPrecedence)
	rv.ApprovedBy = approvedBy.String
	rv.ApprovedAt = timePtr(approvedAt)
	rv.ActivatedBy = activatedBy.String
	rv.ActivatedAt = timePtr(activatedAt)
	return &rv, nil
}

// --- Ruleset entries ---

const entryColumns = `entry_id, ruleset_version_id, rule_id, rule_version_id, enabled, order_priority,
	created_at, updated_at`

// CreateEntry stores a new ruleset entry.
func (r *SQLRepository) CreateEntry(ctx context.Context, entry *domain.RulesetEntry) error {
	query := `INSERT INTO ruleset_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query),
		entry.EntryID, entry.RulesetVersionID, entry.RuleID, entry.RuleVersionID,
		boolInt(entry.Enabled), nullInt(entry.OrderPriority),
		entry.CreatedAt, entry.UpdatedAt,
	)
	return err
}

// GetEntry retrieves a ruleset entry by ID.
func (r *SQLRepository) GetEntry(ctx context.Context, entryID string) (*domain.RulesetEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ruleset_entries WHERE entry_id = ?`
	entry, err := scanEntry(r.q.QueryRowContext(ctx, r.rebind(query), entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %s", domain.ErrNotFound, entryID)
	}
	return entry, err
}

// UpdateEntry overwrites an entry's mutable fields.
func (r *SQLRepository) UpdateEntry(ctx context.Context, entry *domain.RulesetEntry) error {
	query := `
		UPDATE ruleset_entries
		SET enabled = ?, order_priority = ?, updated_at = ?
		WHERE entry_id = ?
	`
	result, err := r.q.ExecContext(ctx, r.rebind(query),
		boolInt(entry.Enabled), nullInt(entry.OrderPriority), entry.UpdatedAt, entry.EntryID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "entry", entry.EntryID)
}

// DeleteEntry removes an entry.
func (r *SQLRepository) DeleteEntry(ctx context.Context, entryID string) error {
	query := `DELETE FROM ruleset_entries WHERE entry_id = ?`
	result, err := r.q.ExecContext(ctx, r.rebind(query), entryID)
	if err != nil {
		return err
	}
	return requireAffected(result, "entry", entryID)
}

// ListEntries retrieves all entries of a ruleset version in ascending
// orderPriority, entries without a priority last.
func (r *SQLRepository) ListEntries(ctx context.Context, rulesetVersionID string) ([]*domain.RulesetEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ruleset_entries
		WHERE ruleset_version_id = ?
		ORDER BY COALESCE(order_priority, 2147483647), created_at, entry_id`
	rows, err := r.q.QueryContext(ctx, r.rebind(query), rulesetVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.RulesetEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindEntryByRuleVersion finds the entry referencing ruleVersionID within a
// ruleset version, for duplicate detection.
func (r *SQLRepository) FindEntryByRuleVersion(ctx context.Context, rulesetVersionID, ruleVersionID string) (*domain.RulesetEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ruleset_entries
		WHERE ruleset_version_id = ? AND rule_version_id = ?`
	entry, err := scanEntry(r.q.QueryRowContext(ctx, r.rebind(query), rulesetVersionID, ruleVersionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no entry for rule version %s", domain.ErrNotFound, ruleVersionID)
	}
	return entry, err
}

// FindEntryByOrder finds the entry holding orderPriority within a ruleset
// version, for uniqueness checks.
func (r *SQLRepository) FindEntryByOrder(ctx context.Context, rulesetVersionID string, orderPriority int) (*domain.RulesetEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ruleset_entries
		WHERE ruleset_version_id = ? AND order_priority = ?`
	entry, err := scanEntry(r.q.QueryRowContext(ctx, r.rebind(query), rulesetVersionID, orderPriority))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no entry at order priority %d", domain.ErrNotFound, orderPriority)
	}
	return entry, err
}

func scanEntry(row rowScanner) (*domain.RulesetEntry, error) {
	var entry domain.RulesetEntry
	var enabled int
	var orderPriority sql.NullInt64

	err := row.Scan(
		&entry.EntryID, &entry.RulesetVersionID, &entry.RuleID, &entry.RuleVersionID,
		&enabled, &orderPriority, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Enabled = enabled == 1
	entry.OrderPriority = intPtr(orderPriority)
	return &entry, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
