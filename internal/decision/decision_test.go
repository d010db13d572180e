package decision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    domain.Store
	cache    *cache.LRUCache
	rules    *service.Rules
	rulesets *service.Rulesets
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-decision-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpFile.Name()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lru := cache.NewLRUCache(100)
	logger := testLogger()
	return &fixture{
		store:    store,
		cache:    lru,
		rules:    service.NewRules(store, domain.DefaultFieldCatalog(), nil, logger),
		rulesets: service.NewRulesets(store, nil, lru, logger),
		executor: NewExecutor(store, lru, logger),
	}
}

func mustAst(t *testing.T, node *rules.Node) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("marshal ast: %v", err)
	}
	return data
}

// approvedRuleVersion creates a rule with one approved version carrying the
// given logic and action.
func (f *fixture) approvedRuleVersion(t *testing.T, name string, node *rules.Node, action string) *domain.RuleVersion {
	t.Helper()
	ctx := context.Background()

	rule, err := f.rules.CreateRule(ctx, service.CreateRuleInput{Name: name, Actor: "analyst-1"})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	draft, err := f.rules.CreateDraftVersion(ctx, service.CreateDraftVersionInput{
		RuleID:   rule.RuleID,
		LogicAst: mustAst(t, node),
		Decision: domain.Decision{Action: action, ReasonCode: name},
		Actor:    "analyst-1",
	})
	if err != nil {
		t.Fatalf("CreateDraftVersion: %v", err)
	}
	approved, err := f.rules.ApproveVersion(ctx, draft.RuleVersionID, "", "reviewer-1")
	if err != nil {
		t.Fatalf("ApproveVersion: %v", err)
	}
	return approved
}

func (f *fixture) activeRuleset(t *testing.T, mode domain.ExecutionMode, precedence domain.DecisionPrecedence, entries []service.AddEntryInput) string {
	t.Helper()
	ctx := context.Background()

	ruleset, version, err := f.rulesets.CreateWithDraft(ctx, service.CreateWithDraftInput{
		Name:               "Card rules",
		ExecutionMode:      mode,
		DecisionPrecedence: precedence,
		Actor:              "analyst-1",
	})
	if err != nil {
		t.Fatalf("CreateWithDraft: %v", err)
	}
	for _, input := range entries {
		input.RulesetVersionID = version.RulesetVersionID
		input.Actor = "analyst-1"
		if _, err := f.rulesets.AddEntry(ctx, input); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}
	if _, err := f.rulesets.Approve(ctx, version.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := f.rulesets.Activate(ctx, version.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return ruleset.RulesetID
}

func TestExecuteSequentialFirstMatchWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	block := f.approvedRuleVersion(t, "high-amount",
		rules.Condition("txn.amount", domain.OpGT, 100), "BLOCK")
	review := f.approvedRuleVersion(t, "risky-mcc",
		rules.Condition("txn.mcc", domain.OpIn, []any{"4814", "7995"}), "REVIEW")

	ten, twenty := 10, 20
	rulesetID := f.activeRuleset(t, domain.ModeSequential, nil, []service.AddEntryInput{
		{RuleVersionID: block.RuleVersionID, OrderPriority: &ten},
		{RuleVersionID: review.RuleVersionID, OrderPriority: &twenty},
	})

	t.Run("first match stops the chain", func(t *testing.T) {
		outcome, err := f.executor.Execute(ctx, rulesetID, map[string]any{
			"txn": map[string]any{"amount": 250.0, "mcc": "4814"},
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !outcome.Matched || outcome.Decision == nil || outcome.Decision.Action != "BLOCK" {
			t.Errorf("outcome = %+v, want BLOCK", outcome)
		}
		if outcome.MatchedRuleVersionID != block.RuleVersionID {
			t.Errorf("MatchedRuleVersionID = %s, want the first entry", outcome.MatchedRuleVersionID)
		}
		if outcome.EntriesEvaluated != 1 || len(outcome.RuleTraces) != 1 {
			t.Errorf("evaluated %d entries with %d traces, want 1 and 1",
				outcome.EntriesEvaluated, len(outcome.RuleTraces))
		}
	})

	t.Run("later entry matches when earlier ones miss", func(t *testing.T) {
		outcome, err := f.executor.Execute(ctx, rulesetID, map[string]any{
			"txn": map[string]any{"amount": 50.0, "mcc": "7995"},
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !outcome.Matched || outcome.Decision.Action != "REVIEW" {
			t.Errorf("outcome = %+v, want REVIEW", outcome)
		}
		if len(outcome.RuleTraces) != 2 {
			t.Errorf("traces = %d, want both entries traced", len(outcome.RuleTraces))
		}
		if outcome.RuleTraces[0].Matched {
			t.Error("first trace should be a miss")
		}
	})

	t.Run("no match", func(t *testing.T) {
		outcome, err := f.executor.Execute(ctx, rulesetID, map[string]any{
			"txn": map[string]any{"amount": 50.0, "mcc": "5411"},
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if outcome.Matched || outcome.Decision != nil || outcome.MatchedRuleVersionID != "" {
			t.Errorf("outcome = %+v, want no match", outcome)
		}
	})
}

func TestExecuteParallelPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	review := f.approvedRuleVersion(t, "risky-mcc",
		rules.Condition("txn.mcc", domain.OpIn, []any{"4814"}), "REVIEW")
	block := f.approvedRuleVersion(t, "high-amount",
		rules.Condition("txn.amount", domain.OpGT, 100), "BLOCK")

	// REVIEW entry first; precedence still ranks BLOCK above it.
	rulesetID := f.activeRuleset(t, domain.ModeParallel,
		domain.DecisionPrecedence{"BLOCK", "REVIEW", "ALLOW"},
		[]service.AddEntryInput{
			{RuleVersionID: review.RuleVersionID},
			{RuleVersionID: block.RuleVersionID},
		})

	outcome, err := f.executor.Execute(ctx, rulesetID, map[string]any{
		"txn": map[string]any{"amount": 250.0, "mcc": "4814"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Matched || outcome.Decision.Action != "BLOCK" {
		t.Errorf("resolved action = %+v, want BLOCK by precedence", outcome.Decision)
	}
	if outcome.MatchedRuleVersionID != block.RuleVersionID {
		t.Errorf("MatchedRuleVersionID = %s, want the BLOCK rule", outcome.MatchedRuleVersionID)
	}
	if outcome.EntriesEvaluated != 2 || len(outcome.RuleTraces) != 2 {
		t.Errorf("parallel mode must evaluate every entry, got %d", outcome.EntriesEvaluated)
	}
	matched := 0
	for _, trace := range outcome.RuleTraces {
		if trace.Matched {
			matched++
		}
	}
	if matched != 2 {
		t.Errorf("matched traces = %d, want 2", matched)
	}
}

func TestExecuteSkipsDisabledEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	block := f.approvedRuleVersion(t, "high-amount",
		rules.Condition("txn.amount", domain.OpGT, 100), "BLOCK")

	ten := 10
	disabled := false
	rulesetID := f.activeRuleset(t, domain.ModeSequential, nil, []service.AddEntryInput{
		{RuleVersionID: block.RuleVersionID, OrderPriority: &ten, Enabled: &disabled},
	})

	outcome, err := f.executor.Execute(ctx, rulesetID, map[string]any{
		"txn": map[string]any{"amount": 250.0},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Matched || outcome.EntriesEvaluated != 0 {
		t.Errorf("disabled entries must not be evaluated: %+v", outcome)
	}
}

func TestExecuteNoActiveVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, version, err := f.rulesets.CreateWithDraft(ctx, service.CreateWithDraftInput{
		Name:          "Draft only",
		ExecutionMode: domain.ModeSequential,
		Actor:         "analyst-1",
	})
	if err != nil {
		t.Fatalf("CreateWithDraft: %v", err)
	}
	_ = version

	_, err = f.executor.Execute(ctx, "missing-ruleset", map[string]any{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestExecuteUsesInvalidatedCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	block := f.approvedRuleVersion(t, "high-amount",
		rules.Condition("txn.amount", domain.OpGT, 100), "BLOCK")
	ten := 10
	rulesetID := f.activeRuleset(t, domain.ModeSequential, nil, []service.AddEntryInput{
		{RuleVersionID: block.RuleVersionID, OrderPriority: &ten},
	})

	payload := map[string]any{"txn": map[string]any{"amount": 250.0}}
	outcome, err := f.executor.Execute(ctx, rulesetID, payload)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.VersionNumber != 1 {
		t.Fatalf("VersionNumber = %d, want 1", outcome.VersionNumber)
	}

	// The snapshot is now cached.
	if data, _ := f.cache.Get(ctx, domain.ActiveVersionCacheKey(rulesetID)); data == nil {
		t.Fatal("snapshot not cached after execution")
	}

	// Activating version 2 invalidates the snapshot, so the next execution
	// resolves the new version.
	v2, err := f.rulesets.CreateNextVersion(ctx, rulesetID, "analyst-1")
	if err != nil {
		t.Fatalf("CreateNextVersion: %v", err)
	}
	if _, err := f.rulesets.Approve(ctx, v2.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := f.rulesets.Activate(ctx, v2.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	outcome, err = f.executor.Execute(ctx, rulesetID, payload)
	if err != nil {
		t.Fatalf("Execute after activation: %v", err)
	}
	if outcome.VersionNumber != 2 {
		t.Errorf("VersionNumber = %d, want 2 after activation", outcome.VersionNumber)
	}
}
