// Package decision executes an ACTIVE ruleset version against a payload and
// aggregates per-rule results into a single outcome.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Executor resolves the ACTIVE version of a ruleset and applies its enabled
// entries to a payload. Resolved snapshots are cached per ruleset and
// invalidated on activation.
type Executor struct {
	store  domain.Store
	cache  domain.Cache
	logger *slog.Logger

	// SnapshotTTL bounds how long a resolved ACTIVE snapshot is served from
	// cache. The activation worker also invalidates eagerly.
	SnapshotTTL time.Duration
}

// NewExecutor creates a decision executor. The cache may be nil, in which case
// every execution resolves the ACTIVE version from the store.
func NewExecutor(store domain.Store, cache domain.Cache, logger *slog.Logger) *Executor {
	return &Executor{
		store:       store,
		cache:       cache,
		logger:      logger.With("component", "decision"),
		SnapshotTTL: time.Minute,
	}
}

// RuleTrace is the result of evaluating one ruleset entry.
type RuleTrace struct {
	EntryID       string             `json:"entryId"`
	RuleID        string             `json:"ruleId"`
	RuleVersionID string             `json:"ruleVersionId"`
	OrderPriority *int               `json:"orderPriority,omitempty"`
	Matched       bool               `json:"matched"`
	Decision      *domain.Decision   `json:"decision,omitempty"`
	Trace         []rules.TraceEntry `json:"trace,omitempty"`
}

// Outcome is the aggregated result of executing a ruleset version.
type Outcome struct {
	RulesetID            string               `json:"rulesetId"`
	RulesetVersionID     string               `json:"rulesetVersionId"`
	VersionNumber        int                  `json:"versionNumber"`
	ExecutionMode        domain.ExecutionMode `json:"executionMode"`
	Matched              bool                 `json:"matched"`
	Decision             *domain.Decision     `json:"decision,omitempty"`
	MatchedRuleVersionID string               `json:"matchedRuleVersionId,omitempty"`
	RuleTraces           []RuleTrace          `json:"ruleTraces"`
	EvaluatedAt          time.Time            `json:"evaluatedAt"`
	EntriesEvaluated     int                  `json:"entriesEvaluated"`
	DurationMs           int64                `json:"durationMs"`
}

// snapshot is the cached resolution of a ruleset's ACTIVE version: the version
// itself, its enabled entries, and the referenced rule versions.
type snapshot struct {
	Version      *domain.RulesetVersion         `json:"version"`
	Entries      []*domain.RulesetEntry         `json:"entries"`
	RuleVersions map[string]*domain.RuleVersion `json:"ruleVersions"`
}

// Execute applies the ruleset's ACTIVE version to payload. It returns
// ErrNotFound when the ruleset has no ACTIVE version.
func (e *Executor) Execute(ctx context.Context, rulesetID string, payload map[string]any) (*Outcome, error) {
	start := time.Now()

	snap, err := e.resolve(ctx, rulesetID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		RulesetID:        rulesetID,
		RulesetVersionID: snap.Version.RulesetVersionID,
		VersionNumber:    snap.Version.VersionNumber,
		ExecutionMode:    snap.Version.ExecutionMode,
		EvaluatedAt:      start.UTC(),
	}

	switch snap.Version.ExecutionMode {
	case domain.ModeSequential:
		err = e.executeSequential(snap, payload, outcome)
	case domain.ModeParallel:
		err = e.executeParallel(snap, payload, outcome)
	default:
		err = fmt.Errorf("%w: unknown execution mode %q", domain.ErrInvalidConfig, snap.Version.ExecutionMode)
	}
	if err != nil {
		return nil, err
	}

	outcome.DurationMs = time.Since(start).Milliseconds()
	e.logger.DebugContext(ctx, "ruleset executed",
		"ruleset_id", rulesetID, "ruleset_version_id", outcome.RulesetVersionID,
		"mode", outcome.ExecutionMode, "matched", outcome.Matched,
		"entries_evaluated", outcome.EntriesEvaluated)
	return outcome, nil
}

// executeSequential evaluates enabled entries in ascending orderPriority and
// stops at the first match.
func (e *Executor) executeSequential(snap *snapshot, payload map[string]any, outcome *Outcome) error {
	entries := make([]*domain.RulesetEntry, len(snap.Entries))
	copy(entries, snap.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return orderOf(entries[i]) < orderOf(entries[j])
	})

	for _, entry := range entries {
		trace, err := e.evaluateEntry(snap, entry, payload)
		if err != nil {
			return err
		}
		outcome.RuleTraces = append(outcome.RuleTraces, trace)
		outcome.EntriesEvaluated++
		if trace.Matched {
			outcome.Matched = true
			outcome.Decision = trace.Decision
			outcome.MatchedRuleVersionID = trace.RuleVersionID
			return nil
		}
	}
	return nil
}

// executeParallel evaluates every enabled entry and resolves conflicting
// matched actions by decision precedence rank.
func (e *Executor) executeParallel(snap *snapshot, payload map[string]any, outcome *Outcome) error {
	precedence := snap.Version.DecisionPrecedence
	bestRank := len(precedence) + 1

	for _, entry := range snap.Entries {
		trace, err := e.evaluateEntry(snap, entry, payload)
		if err != nil {
			return err
		}
		outcome.RuleTraces = append(outcome.RuleTraces, trace)
		outcome.EntriesEvaluated++
		if !trace.Matched {
			continue
		}
		outcome.Matched = true
		if rank := precedence.Rank(trace.Decision.Action); rank < bestRank {
			bestRank = rank
			outcome.Decision = trace.Decision
			outcome.MatchedRuleVersionID = trace.RuleVersionID
		}
	}
	return nil
}

func (e *Executor) evaluateEntry(snap *snapshot, entry *domain.RulesetEntry, payload map[string]any) (RuleTrace, error) {
	trace := RuleTrace{
		EntryID:       entry.EntryID,
		RuleID:        entry.RuleID,
		RuleVersionID: entry.RuleVersionID,
		OrderPriority: entry.OrderPriority,
	}

	version, ok := snap.RuleVersions[entry.RuleVersionID]
	if !ok {
		return trace, fmt.Errorf("rule version %s missing from snapshot", entry.RuleVersionID)
	}
	node, err := rules.Parse(version.LogicAst)
	if err != nil {
		return trace, fmt.Errorf("stored logic for rule version %s: %w", version.RuleVersionID, err)
	}

	result := rules.Evaluate(node, payload)
	trace.Matched = result.Matched
	trace.Trace = result.Trace
	if result.Matched {
		decision := version.Decision
		trace.Decision = &decision
	}
	return trace, nil
}

// resolve returns the cached ACTIVE snapshot for the ruleset, loading and
// caching it on a miss.
func (e *Executor) resolve(ctx context.Context, rulesetID string) (*snapshot, error) {
	key := domain.ActiveVersionCacheKey(rulesetID)

	if e.cache != nil {
		data, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.WarnContext(ctx, "active-version cache read failed",
				"ruleset_id", rulesetID, "error", err)
		} else if data != nil {
			var snap snapshot
			if err := json.Unmarshal(data, &snap); err == nil && snap.Version != nil {
				return &snap, nil
			}
			// A corrupt entry falls through to a fresh load.
		}
	}

	snap, err := e.load(ctx, rulesetID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			if err := e.cache.Set(ctx, key, data, e.SnapshotTTL); err != nil {
				e.logger.WarnContext(ctx, "active-version cache write failed",
					"ruleset_id", rulesetID, "error", err)
			}
		}
	}
	return snap, nil
}

func (e *Executor) load(ctx context.Context, rulesetID string) (*snapshot, error) {
	version, err := e.store.ActiveRulesetVersion(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	all, err := e.store.ListEntries(ctx, version.RulesetVersionID)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		Version:      version,
		RuleVersions: make(map[string]*domain.RuleVersion),
	}
	for _, entry := range all {
		if !entry.Enabled {
			continue
		}
		snap.Entries = append(snap.Entries, entry)
		if _, ok := snap.RuleVersions[entry.RuleVersionID]; ok {
			continue
		}
		rv, err := e.store.GetRuleVersion(ctx, entry.RuleVersionID)
		if err != nil {
			return nil, err
		}
		snap.RuleVersions[entry.RuleVersionID] = rv
	}
	return snap, nil
}

func orderOf(entry *domain.RulesetEntry) int {
	if entry.OrderPriority == nil {
		return int(^uint(0) >> 1)
	}
	return *entry.OrderPriority
}
