package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Sortable columns for the read-model queries, keyed by the external sort
// name. Sort input outside these maps is rejected rather than interpolated.
var rulesetVersionSortColumns = map[string]string{
	"rulesetName":   "rs.name",
	"versionNumber": "rv.version_number",
	"status":        "rv.status",
	"executionMode": "rv.execution_mode",
	"entryCount":    "entry_count",
	"createdAt":     "rv.created_at",
	"updatedAt":     "rv.updated_at",
}

var entrySortColumns = map[string]string{
	"ruleName":          "r.name",
	"orderPriority":     "COALESCE(e.order_priority, 2147483647)",
	"enabled":           "e.enabled",
	"ruleVersionNumber": "v.version_number",
	"createdAt":         "e.created_at",
	"updatedAt":         "e.updated_at",
}

const defaultQueryLimit = 50

// QueryRulesetVersionRows returns one page of the flattened ruleset-version
// table plus the total row count for the same filters.
func (r *SQLRepository) QueryRulesetVersionRows(ctx context.Context, q domain.RulesetVersionQuery) ([]*domain.RulesetVersionRow, int, error) {
	var where []string
	var args []any

	if q.Search != "" {
		where = append(where, `(LOWER(rs.name) LIKE ? OR LOWER(rs.description) LIKE ?)`)
		pattern := likePattern(q.Search)
		args = append(args, pattern, pattern)
	}
	if len(q.Statuses) > 0 {
		where = append(where, `rv.status IN (`+placeholders(len(q.Statuses))+`)`)
		for _, s := range q.Statuses {
			args = append(args, s)
		}
	}
	if len(q.Modes) > 0 {
		where = append(where, `rv.execution_mode IN (`+placeholders(len(q.Modes))+`)`)
		for _, m := range q.Modes {
			args = append(args, m)
		}
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	from := ` FROM ruleset_versions rv JOIN rulesets rs ON rs.ruleset_id = rv.ruleset_id` + whereClause

	var total int
	if err := r.q.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*)`+from), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy, err := buildOrderBy(q.Sort, rulesetVersionSortColumns,
		"rv.updated_at DESC", "rv.ruleset_version_id")
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + prefixColumns("rv", rulesetVersionColumns) + `, rs.name,
		(SELECT COUNT(*) FROM ruleset_entries e WHERE e.ruleset_version_id = rv.ruleset_version_id) AS entry_count` +
		from + orderBy + ` LIMIT ? OFFSET ?`
	args = append(args, pageLimit(q.Limit), max(q.Offset, 0))

	rows, err := r.q.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*domain.RulesetVersionRow
	for rows.Next() {
		var row domain.RulesetVersionRow
		var precedence string
		var approvedBy, activatedBy sql.NullString
		var approvedAt, activatedAt sql.NullTime
		rv := &row.RulesetVersion
		if err := rows.Scan(
			&rv.RulesetVersionID, &rv.RulesetID, &rv.VersionNumber, &rv.Status, &rv.ExecutionMode,
			&precedence, &rv.CreatedBy, &rv.CreatedAt, &rv.UpdatedAt,
			&approvedBy, &approvedAt, &activatedBy, &activatedAt,
			&row.RulesetName, &row.EntryCount,
		); err != nil {
			return nil, 0, err
		}
		json.Unmarshal([]byte(precedence), &rv.DecisionPrecedence)
		rv.ApprovedBy = approvedBy.String
		rv.ApprovedAt = timePtr(approvedAt)
		rv.ActivatedBy = activatedBy.String
		rv.ActivatedAt = timePtr(activatedAt)
		result = append(result, &row)
	}
	return result, total, rows.Err()
}

// QueryEntryRows returns one page of a ruleset version's entries table plus
// the total row count for the same filters.
func (r *SQLRepository) QueryEntryRows(ctx context.Context, q domain.EntryQuery) ([]*domain.EntryRow, int, error) {
	where := []string{`e.ruleset_version_id = ?`}
	args := []any{q.RulesetVersionID}

	if q.Search != "" {
		where = append(where, `LOWER(r.name) LIKE ?`)
		args = append(args, likePattern(q.Search))
	}

	from := ` FROM ruleset_entries e
		JOIN rules r ON r.rule_id = e.rule_id
		JOIN rule_versions v ON v.rule_version_id = e.rule_version_id
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*)`+from), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy, err := buildOrderBy(q.Sort, entrySortColumns,
		"COALESCE(e.order_priority, 2147483647) ASC", "e.entry_id")
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + prefixColumns("e", entryColumns) + `, r.name, v.version_number, v.status` +
		from + orderBy + ` LIMIT ? OFFSET ?`
	args = append(args, pageLimit(q.Limit), max(q.Offset, 0))

	rows, err := r.q.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*domain.EntryRow
	for rows.Next() {
		var row domain.EntryRow
		var enabled int
		var orderPriority sql.NullInt64
		e := &row.RulesetEntry
		if err := rows.Scan(
			&e.EntryID, &e.RulesetVersionID, &e.RuleID, &e.RuleVersionID,
			&enabled, &orderPriority, &e.CreatedAt, &e.UpdatedAt,
			&row.RuleName, &row.RuleVersionNumber, &row.RuleVersionStatus,
		); err != nil {
			return nil, 0, err
		}
		e.Enabled = enabled == 1
		e.OrderPriority = intPtr(orderPriority)
		result = append(result, &row)
	}
	return result, total, rows.Err()
}

// buildOrderBy renders a whitelisted multi-key ORDER BY clause with a stable
// tie-break column appended. Unknown sort keys are an ErrInvalidArgument.
func buildOrderBy(sort []domain.SortKey, columns map[string]string, fallback, tieBreak string) (string, error) {
	if len(sort) == 0 {
		return " ORDER BY " + fallback + ", " + tieBreak, nil
	}

	parts := make([]string, 0, len(sort)+1)
	for _, key := range sort {
		column, ok := columns[key.Key]
		if !ok {
			return "", fmt.Errorf("%w: unsupported sort key %q", domain.ErrInvalidArgument, key.Key)
		}
		direction := " ASC"
		if key.Desc {
			direction = " DESC"
		}
		parts = append(parts, column+direction)
	}
	parts = append(parts, tieBreak)
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func likePattern(search string) string {
	return "%" + strings.ToLower(search) + "%"
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	return limit
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
