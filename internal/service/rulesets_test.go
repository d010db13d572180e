package service

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/etag"
)

func newLifecycleFixture(t *testing.T) (*Rulesets, *Rules, domain.Store) {
	store := newTestStore(t)
	rules := NewRules(store, domain.DefaultFieldCatalog(), nil, testLogger())
	rulesets := NewRulesets(store, nil, nil, testLogger())
	return rulesets, rules, store
}

func mustCreateApprovedRuleVersion(t *testing.T, rules *Rules) *domain.RuleVersion {
	t.Helper()
	rule := mustCreateRule(t, rules)
	version := mustCreateDraft(t, rules, rule.RuleID)
	approved, err := rules.ApproveVersion(context.Background(), version.RuleVersionID, "", "reviewer-1")
	if err != nil {
		t.Fatalf("ApproveVersion: %v", err)
	}
	return approved
}

func mustCreateSequentialDraft(t *testing.T, svc *Rulesets) (*domain.Ruleset, *domain.RulesetVersion) {
	t.Helper()
	ruleset, version, err := svc.CreateWithDraft(context.Background(), CreateWithDraftInput{
		Name:          "Card fraud",
		ExecutionMode: domain.ModeSequential,
		Actor:         "analyst-1",
	})
	if err != nil {
		t.Fatalf("CreateWithDraft: %v", err)
	}
	return ruleset, version
}

func TestCreateWithDraft(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)
	ctx := context.Background()

	ruleset, version := mustCreateSequentialDraft(t, svc)
	if version.RulesetID != ruleset.RulesetID || version.VersionNumber != 1 {
		t.Errorf("version = %+v, want version 1 of the new ruleset", version)
	}
	if version.Status != domain.RulesetVersionDraft {
		t.Errorf("Status = %s, want DRAFT", version.Status)
	}

	t.Run("parallel requires precedence", func(t *testing.T) {
		_, _, err := svc.CreateWithDraft(ctx, CreateWithDraftInput{
			Name:          "Parallel set",
			ExecutionMode: domain.ModeParallel,
			Actor:         "analyst-1",
		})
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("error = %v, want ErrInvalidConfig", err)
		}

		_, _, err = svc.CreateWithDraft(ctx, CreateWithDraftInput{
			Name:               "Parallel set",
			ExecutionMode:      domain.ModeParallel,
			DecisionPrecedence: domain.DecisionPrecedence{"BLOCK", "REVIEW", "ALLOW"},
			Actor:              "analyst-1",
		})
		if err != nil {
			t.Errorf("CreateWithDraft with precedence: %v", err)
		}
	})

	t.Run("derived status", func(t *testing.T) {
		detail, err := svc.GetDetail(ctx, ruleset.RulesetID)
		if err != nil {
			t.Fatalf("GetDetail: %v", err)
		}
		if detail.DerivedStatus != domain.RulesetVersionDraft {
			t.Errorf("DerivedStatus = %s, want DRAFT", detail.DerivedStatus)
		}
		if len(detail.Versions) != 1 {
			t.Errorf("versions = %d, want 1", len(detail.Versions))
		}
	})
}

func TestEntryInvariants(t *testing.T) {
	svc, rules, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, version := mustCreateSequentialDraft(t, svc)
	rv := mustCreateApprovedRuleVersion(t, rules)

	ten := 10

	t.Run("sequential requires order", func(t *testing.T) {
		_, err := svc.AddEntry(ctx, AddEntryInput{
			RulesetVersionID: version.RulesetVersionID,
			RuleVersionID:    rv.RuleVersionID,
			Actor:            "analyst-1",
		})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})

	entry, err := svc.AddEntry(ctx, AddEntryInput{
		RulesetVersionID: version.RulesetVersionID,
		RuleVersionID:    rv.RuleVersionID,
		OrderPriority:    &ten,
		Actor:            "analyst-1",
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if !entry.Enabled {
		t.Error("Enabled should default to true")
	}

	t.Run("duplicate rule version", func(t *testing.T) {
		twenty := 20
		_, err := svc.AddEntry(ctx, AddEntryInput{
			RulesetVersionID: version.RulesetVersionID,
			RuleVersionID:    rv.RuleVersionID,
			OrderPriority:    &twenty,
			Actor:            "analyst-1",
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	t.Run("duplicate order priority", func(t *testing.T) {
		other := mustCreateApprovedRuleVersion(t, rules)
		_, err := svc.AddEntry(ctx, AddEntryInput{
			RulesetVersionID: version.RulesetVersionID,
			RuleVersionID:    other.RuleVersionID,
			OrderPriority:    &ten,
			Actor:            "analyst-1",
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}

		// A distinct priority succeeds.
		thirty := 30
		if _, err := svc.AddEntry(ctx, AddEntryInput{
			RulesetVersionID: version.RulesetVersionID,
			RuleVersionID:    other.RuleVersionID,
			OrderPriority:    &thirty,
			Actor:            "analyst-1",
		}); err != nil {
			t.Errorf("AddEntry at distinct priority: %v", err)
		}
	})

	t.Run("archived rule rejected", func(t *testing.T) {
		archivedRule := mustCreateRule(t, rules)
		draft := mustCreateDraft(t, rules, archivedRule.RuleID)
		archived := true
		if _, err := rules.PatchRule(ctx, PatchRuleInput{RuleID: archivedRule.RuleID, Archived: &archived, Actor: "analyst-1"}); err != nil {
			t.Fatalf("PatchRule: %v", err)
		}
		forty := 40
		_, err := svc.AddEntry(ctx, AddEntryInput{
			RulesetVersionID: version.RulesetVersionID,
			RuleVersionID:    draft.RuleVersionID,
			OrderPriority:    &forty,
			Actor:            "analyst-1",
		})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("patch entry order collision", func(t *testing.T) {
		thirty := 30
		_, err := svc.PatchEntry(ctx, PatchEntryInput{
			EntryID:       entry.EntryID,
			OrderPriority: &thirty,
			Actor:         "analyst-1",
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}

		// Re-asserting its own priority is not a collision.
		if _, err := svc.PatchEntry(ctx, PatchEntryInput{
			EntryID:       entry.EntryID,
			OrderPriority: &ten,
			Actor:         "analyst-1",
		}); err != nil {
			t.Errorf("PatchEntry with own priority: %v", err)
		}
	})

	t.Run("delete entry", func(t *testing.T) {
		if err := svc.DeleteEntry(ctx, entry.EntryID, "", "analyst-1"); err != nil {
			t.Fatalf("DeleteEntry: %v", err)
		}
		if err := svc.DeleteEntry(ctx, entry.EntryID, "", "analyst-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("second delete error = %v, want ErrNotFound", err)
		}
	})
}

func TestParallelEntriesStoreNullOrder(t *testing.T) {
	svc, rules, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, version, err := svc.CreateWithDraft(ctx, CreateWithDraftInput{
		Name:               "Parallel set",
		ExecutionMode:      domain.ModeParallel,
		DecisionPrecedence: domain.DecisionPrecedence{"BLOCK", "REVIEW"},
		Actor:              "analyst-1",
	})
	if err != nil {
		t.Fatalf("CreateWithDraft: %v", err)
	}

	rv := mustCreateApprovedRuleVersion(t, rules)
	ten := 10
	entry, err := svc.AddEntry(ctx, AddEntryInput{
		RulesetVersionID: version.RulesetVersionID,
		RuleVersionID:    rv.RuleVersionID,
		OrderPriority:    &ten, // ignored in PARALLEL mode
		Actor:            "analyst-1",
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if entry.OrderPriority != nil {
		t.Errorf("OrderPriority = %v, want nil for PARALLEL", *entry.OrderPriority)
	}

	_, err = svc.PatchEntry(ctx, PatchEntryInput{
		EntryID:       entry.EntryID,
		OrderPriority: &ten,
		Actor:         "analyst-1",
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("order patch in PARALLEL error = %v, want ErrInvalidArgument", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, version := mustCreateSequentialDraft(t, svc)

	t.Run("activate requires approved", func(t *testing.T) {
		_, err := svc.Activate(ctx, version.RulesetVersionID, "", "reviewer-1")
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	approved, err := svc.Approve(ctx, version.RulesetVersionID, etag.RulesetVersion(version), "reviewer-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	t.Run("settings locked after approval", func(t *testing.T) {
		mode := domain.ModeParallel
		_, err := svc.UpdateSettings(ctx, UpdateSettingsInput{
			RulesetVersionID: version.RulesetVersionID,
			ExecutionMode:    &mode,
			Actor:            "analyst-1",
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	active, err := svc.Activate(ctx, version.RulesetVersionID, etag.RulesetVersion(approved), "reviewer-1")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if active.Status != domain.RulesetVersionActive || active.ActivatedBy != "reviewer-1" || active.ActivatedAt == nil {
		t.Errorf("activation state wrong: %+v", active)
	}

	t.Run("activate again conflicts", func(t *testing.T) {
		_, err := svc.Activate(ctx, version.RulesetVersionID, "", "reviewer-1")
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})
}

func TestActivateDemotesPreviousActive(t *testing.T) {
	svc, _, store := newLifecycleFixture(t)
	ctx := context.Background()

	ruleset, v1 := mustCreateSequentialDraft(t, svc)
	if _, err := svc.Approve(ctx, v1.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Approve v1: %v", err)
	}
	if _, err := svc.Activate(ctx, v1.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Activate v1: %v", err)
	}

	v2, err := svc.CreateNextVersion(ctx, ruleset.RulesetID, "analyst-1")
	if err != nil {
		t.Fatalf("CreateNextVersion: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Fatalf("VersionNumber = %d, want 2", v2.VersionNumber)
	}
	if _, err := svc.Approve(ctx, v2.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Approve v2: %v", err)
	}
	if _, err := svc.Activate(ctx, v2.RulesetVersionID, "", "reviewer-1"); err != nil {
		t.Fatalf("Activate v2: %v", err)
	}

	// Exactly one ACTIVE version remains.
	current, err := store.ActiveRulesetVersion(ctx, ruleset.RulesetID)
	if err != nil {
		t.Fatalf("ActiveRulesetVersion: %v", err)
	}
	if current.RulesetVersionID != v2.RulesetVersionID {
		t.Errorf("active = %s, want v2", current.RulesetVersionID)
	}

	demotedV1, err := store.GetRulesetVersion(ctx, v1.RulesetVersionID)
	if err != nil {
		t.Fatalf("GetRulesetVersion: %v", err)
	}
	if demotedV1.Status != domain.RulesetVersionApproved {
		t.Errorf("v1 status = %s, want APPROVED", demotedV1.Status)
	}
	if demotedV1.ActivatedBy != "" || demotedV1.ActivatedAt != nil {
		t.Errorf("v1 activation fields should be cleared: %q %v", demotedV1.ActivatedBy, demotedV1.ActivatedAt)
	}

	t.Run("rollback reactivates v1", func(t *testing.T) {
		if _, err := svc.RollbackActivate(ctx, ruleset.RulesetID, v1.RulesetVersionID, "", "reviewer-1"); err != nil {
			t.Fatalf("RollbackActivate: %v", err)
		}
		current, err := store.ActiveRulesetVersion(ctx, ruleset.RulesetID)
		if err != nil || current.RulesetVersionID != v1.RulesetVersionID {
			t.Errorf("active = %+v, %v, want v1", current, err)
		}
	})

	t.Run("rollback checks ruleset ownership", func(t *testing.T) {
		_, err := svc.RollbackActivate(ctx, "other-ruleset", v2.RulesetVersionID, "", "reviewer-1")
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestCreateNextVersionCopiesEntries(t *testing.T) {
	svc, rules, store := newLifecycleFixture(t)
	ctx := context.Background()

	ruleset, v1 := mustCreateSequentialDraft(t, svc)
	rv := mustCreateApprovedRuleVersion(t, rules)
	ten := 10
	disabled := false
	if _, err := svc.AddEntry(ctx, AddEntryInput{
		RulesetVersionID: v1.RulesetVersionID,
		RuleVersionID:    rv.RuleVersionID,
		Enabled:          &disabled,
		OrderPriority:    &ten,
		Actor:            "analyst-1",
	}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	v2, err := svc.CreateNextVersion(ctx, ruleset.RulesetID, "analyst-2")
	if err != nil {
		t.Fatalf("CreateNextVersion: %v", err)
	}

	entries, err := store.ListEntries(ctx, v2.RulesetVersionID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 copied entry", len(entries))
	}
	copied := entries[0]
	if copied.RuleVersionID != rv.RuleVersionID || copied.Enabled || copied.OrderPriority == nil || *copied.OrderPriority != 10 {
		t.Errorf("copied entry wrong: %+v", copied)
	}

	t.Run("no versions is not found", func(t *testing.T) {
		_, err := svc.CreateNextVersion(ctx, "missing-ruleset", "analyst-1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateSettingsMergedInvariant(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, version := mustCreateSequentialDraft(t, svc)

	// Switching to PARALLEL without supplying precedence fails against the
	// merged result.
	parallel := domain.ModeParallel
	_, err := svc.UpdateSettings(ctx, UpdateSettingsInput{
		RulesetVersionID: version.RulesetVersionID,
		ExecutionMode:    &parallel,
		Actor:            "analyst-1",
	})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}

	updated, err := svc.UpdateSettings(ctx, UpdateSettingsInput{
		RulesetVersionID:   version.RulesetVersionID,
		ExecutionMode:      &parallel,
		DecisionPrecedence: domain.DecisionPrecedence{"BLOCK", "REVIEW"},
		PrecedenceSet:      true,
		Actor:              "analyst-1",
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if updated.ExecutionMode != domain.ModeParallel || len(updated.DecisionPrecedence) != 2 {
		t.Errorf("settings not applied: %+v", updated)
	}

	// Clearing precedence while PARALLEL violates the invariant.
	_, err = svc.UpdateSettings(ctx, UpdateSettingsInput{
		RulesetVersionID: version.RulesetVersionID,
		PrecedenceSet:    true,
		Actor:            "analyst-1",
	})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestVersionTableReadModel(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)
	ctx := context.Background()

	for _, name := range []string{"Card fraud", "Wire fraud", "ACH fraud"} {
		if _, _, err := svc.CreateWithDraft(ctx, CreateWithDraftInput{
			Name:          name,
			ExecutionMode: domain.ModeSequential,
			Actor:         "analyst-1",
		}); err != nil {
			t.Fatalf("CreateWithDraft: %v", err)
		}
	}

	page1, err := svc.QueryVersionTable(ctx, domain.RulesetVersionQuery{
		Sort: []domain.SortKey{{Key: "rulesetName"}},
	}, Page{Limit: 2})
	if err != nil {
		t.Fatalf("QueryVersionTable: %v", err)
	}
	if page1.Total != 3 || len(page1.Rows) != 2 {
		t.Fatalf("total = %d, rows = %d, want 3, 2", page1.Total, len(page1.Rows))
	}
	if page1.NextCursor == "" {
		t.Fatal("NextCursor missing on a partial page")
	}
	if page1.Rows[0].Fingerprint == "" {
		t.Error("rows should carry fingerprints")
	}

	page2, err := svc.QueryVersionTable(ctx, domain.RulesetVersionQuery{
		Sort: []domain.SortKey{{Key: "rulesetName"}},
	}, Page{Cursor: page1.NextCursor, Limit: 2})
	if err != nil {
		t.Fatalf("QueryVersionTable page 2: %v", err)
	}
	if len(page2.Rows) != 1 || page2.NextCursor != "" {
		t.Errorf("page 2 = %d rows, cursor %q, want 1 row and no cursor", len(page2.Rows), page2.NextCursor)
	}
	if page1.Rows[0].RulesetName != "ACH fraud" {
		t.Errorf("first sorted row = %q, want ACH fraud", page1.Rows[0].RulesetName)
	}

	t.Run("malformed cursor", func(t *testing.T) {
		_, err := svc.QueryVersionTable(ctx, domain.RulesetVersionQuery{}, Page{Cursor: "not base64!!"})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestEntryTableReadModel(t *testing.T) {
	svc, rules, _ := newLifecycleFixture(t)
	ctx := context.Background()

	_, version := mustCreateSequentialDraft(t, svc)
	first := mustCreateApprovedRuleVersion(t, rules)
	second := mustCreateApprovedRuleVersion(t, rules)

	twenty, ten := 20, 10
	if _, err := svc.AddEntry(ctx, AddEntryInput{RulesetVersionID: version.RulesetVersionID, RuleVersionID: first.RuleVersionID, OrderPriority: &twenty, Actor: "a"}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if _, err := svc.AddEntry(ctx, AddEntryInput{RulesetVersionID: version.RulesetVersionID, RuleVersionID: second.RuleVersionID, OrderPriority: &ten, Actor: "a"}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	table, err := svc.QueryEntryTable(ctx, domain.EntryQuery{RulesetVersionID: version.RulesetVersionID}, Page{})
	if err != nil {
		t.Fatalf("QueryEntryTable: %v", err)
	}
	if table.Total != 2 || len(table.Rows) != 2 {
		t.Fatalf("total = %d, rows = %d, want 2, 2", table.Total, len(table.Rows))
	}
	if table.Rows[0].OrderPriority == nil || *table.Rows[0].OrderPriority != 10 {
		t.Errorf("default order should be ascending priority, got %+v", table.Rows[0].RulesetEntry)
	}
	if table.Rows[0].RuleName == "" || table.Rows[0].Fingerprint == "" {
		t.Errorf("row context missing: %+v", table.Rows[0])
	}

	t.Run("unknown version", func(t *testing.T) {
		_, err := svc.QueryEntryTable(ctx, domain.EntryQuery{RulesetVersionID: "missing"}, Page{})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}
