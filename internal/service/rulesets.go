package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/etag"
)

// Rulesets provides the ruleset version lifecycle: DRAFT -> APPROVED ->
// ACTIVE, forward only, with atomic activate-plus-demote and DRAFT-only entry
// editing.
type Rulesets struct {
	store  domain.Store
	bus    domain.EventBus
	cache  domain.Cache
	logger *slog.Logger
}

// NewRulesets creates a ruleset lifecycle service.
func NewRulesets(store domain.Store, bus domain.EventBus, cache domain.Cache, logger *slog.Logger) *Rulesets {
	return &Rulesets{
		store:  store,
		bus:    bus,
		cache:  cache,
		logger: logger.With("component", "rulesets"),
	}
}

func requirePrecedenceForParallel(mode domain.ExecutionMode, precedence domain.DecisionPrecedence) error {
	if mode == domain.ModeParallel && len(precedence) == 0 {
		return fmt.Errorf("%w: decisionPrecedence is required when executionMode is PARALLEL", domain.ErrInvalidConfig)
	}
	return nil
}

// CreateWithDraftInput describes a new ruleset plus its version 1 draft.
type CreateWithDraftInput struct {
	Name               string
	Description        string
	Tags               []string
	ExecutionMode      domain.ExecutionMode
	DecisionPrecedence domain.DecisionPrecedence
	Actor              string
}

// CreateWithDraft atomically creates a ruleset and its DRAFT version 1.
func (s *Rulesets) CreateWithDraft(ctx context.Context, input CreateWithDraftInput) (*domain.Ruleset, *domain.RulesetVersion, error) {
	if input.Name == "" {
		return nil, nil, fmt.Errorf("%w: ruleset name is required", domain.ErrInvalidArgument)
	}
	if input.ExecutionMode != domain.ModeSequential && input.ExecutionMode != domain.ModeParallel {
		return nil, nil, fmt.Errorf("%w: unknown execution mode %q", domain.ErrInvalidArgument, input.ExecutionMode)
	}
	if err := requirePrecedenceForParallel(input.ExecutionMode, input.DecisionPrecedence); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	ruleset := &domain.Ruleset{
		RulesetID:   uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Tags:        input.Tags,
		CreatedBy:   input.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ruleset.Tags == nil {
		ruleset.Tags = []string{}
	}
	version := &domain.RulesetVersion{
		RulesetVersionID:   uuid.New().String(),
		RulesetID:          ruleset.RulesetID,
		VersionNumber:      1,
		Status:             domain.RulesetVersionDraft,
		ExecutionMode:      input.ExecutionMode,
		DecisionPrecedence: input.DecisionPrecedence,
		CreatedBy:          input.Actor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateRuleset(ctx, ruleset); err != nil {
			return err
		}
		return tx.CreateRulesetVersion(ctx, version)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ruleset: %w", err)
	}

	s.publish(ctx, domain.TopicRulesetCreated, domain.LifecycleEvent{
		RulesetID:        ruleset.RulesetID,
		RulesetVersionID: version.RulesetVersionID,
		Actor:            input.Actor,
	})

	s.logger.InfoContext(ctx, "ruleset created",
		"ruleset_id", ruleset.RulesetID, "actor", input.Actor)
	return ruleset, version, nil
}

// RulesetDetail is a ruleset with its versions and derived status.
type RulesetDetail struct {
	domain.Ruleset
	DerivedStatus domain.RulesetVersionStatus `json:"derivedStatus"`
	Versions      []*domain.RulesetVersion    `json:"versions"`
}

// GetDetail returns a ruleset with all of its versions, newest first, and the
// derived ruleset-level status.
func (s *Rulesets) GetDetail(ctx context.Context, rulesetID string) (*RulesetDetail, error) {
	ruleset, err := s.store.GetRuleset(ctx, rulesetID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListRulesetVersions(ctx, rulesetID)
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.RulesetVersionStatus, len(versions))
	for i, v := range versions {
		statuses[i] = v.Status
	}
	return &RulesetDetail{
		Ruleset:       *ruleset,
		DerivedStatus: domain.DeriveRulesetStatus(statuses),
		Versions:      versions,
	}, nil
}

// List returns all rulesets.
func (s *Rulesets) List(ctx context.Context) ([]*domain.Ruleset, error) {
	return s.store.ListRulesets(ctx)
}

// GetVersion returns a ruleset version by ID.
func (s *Rulesets) GetVersion(ctx context.Context, rulesetVersionID string) (*domain.RulesetVersion, error) {
	return s.store.GetRulesetVersion(ctx, rulesetVersionID)
}

// CreateNextVersion copies the latest version's settings and entries into a
// new DRAFT numbered latest+1, atomically.
func (s *Rulesets) CreateNextVersion(ctx context.Context, rulesetID, actor string) (*domain.RulesetVersion, error) {
	var next *domain.RulesetVersion
	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		latest, err := tx.LatestRulesetVersion(ctx, rulesetID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, latest.RulesetVersionID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		next = &domain.RulesetVersion{
			RulesetVersionID:   uuid.New().String(),
			RulesetID:          rulesetID,
			VersionNumber:      latest.VersionNumber + 1,
			Status:             domain.RulesetVersionDraft,
			ExecutionMode:      latest.ExecutionMode,
			DecisionPrecedence: latest.DecisionPrecedence,
			CreatedBy:          actor,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateRulesetVersion(ctx, next); err != nil {
			return err
		}

		for _, entry := range entries {
			copied := &domain.RulesetEntry{
				EntryID:          uuid.New().String(),
				RulesetVersionID: next.RulesetVersionID,
				RuleID:           entry.RuleID,
				RuleVersionID:    entry.RuleVersionID,
				Enabled:          entry.Enabled,
				OrderPriority:    entry.OrderPriority,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.CreateEntry(ctx, copied); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "ruleset version drafted",
		"ruleset_id", rulesetID, "ruleset_version_id", next.RulesetVersionID,
		"version_number", next.VersionNumber, "actor", actor)
	return next, nil
}

// UpdateSettingsInput describes a settings patch for a DRAFT version.
type UpdateSettingsInput struct {
	RulesetVersionID    string
	ExpectedFingerprint string
	ExecutionMode       *domain.ExecutionMode
	// DecisionPrecedence replaces the stored precedence when
	// PrecedenceSet is true, including clearing it with an empty slice.
	DecisionPrecedence domain.DecisionPrecedence
	PrecedenceSet      bool
	Actor              string
}

// UpdateSettings changes a DRAFT version's execution mode and decision
// precedence, re-validating the PARALLEL invariant against the merged result.
func (s *Rulesets) UpdateSettings(ctx context.Context, input UpdateSettingsInput) (*domain.RulesetVersion, error) {
	version, err := s.store.GetRulesetVersion(ctx, input.RulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RulesetVersionDraft {
		return nil, fmt.Errorf("%w: only DRAFT ruleset versions can be edited", domain.ErrConflict)
	}
	if err := checkPrecondition(input.ExpectedFingerprint, etag.RulesetVersion(version), version); err != nil {
		return nil, err
	}

	mode := version.ExecutionMode
	if input.ExecutionMode != nil {
		if *input.ExecutionMode != domain.ModeSequential && *input.ExecutionMode != domain.ModeParallel {
			return nil, fmt.Errorf("%w: unknown execution mode %q", domain.ErrInvalidArgument, *input.ExecutionMode)
		}
		mode = *input.ExecutionMode
	}
	precedence := version.DecisionPrecedence
	if input.PrecedenceSet {
		precedence = input.DecisionPrecedence
	}
	if err := requirePrecedenceForParallel(mode, precedence); err != nil {
		return nil, err
	}

	version.ExecutionMode = mode
	version.DecisionPrecedence = precedence
	version.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRulesetVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to update ruleset version: %w", err)
	}

	s.logger.InfoContext(ctx, "ruleset version settings updated",
		"ruleset_version_id", version.RulesetVersionID, "actor", input.Actor)
	return version, nil
}

// Approve moves a DRAFT ruleset version to APPROVED.
func (s *Rulesets) Approve(ctx context.Context, rulesetVersionID, expectedFingerprint, actor string) (*domain.RulesetVersion, error) {
	version, err := s.store.GetRulesetVersion(ctx, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RulesetVersionDraft {
		return nil, fmt.Errorf("%w: only DRAFT ruleset versions can be approved", domain.ErrConflict)
	}
	if err := checkPrecondition(expectedFingerprint, etag.RulesetVersion(version), version); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	version.Status = domain.RulesetVersionApproved
	version.ApprovedBy = actor
	version.ApprovedAt = &now
	version.UpdatedAt = now

	if err := s.store.UpdateRulesetVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to approve ruleset version: %w", err)
	}

	s.publish(ctx, domain.TopicRulesetVersionApproved, domain.LifecycleEvent{
		RulesetID:        version.RulesetID,
		RulesetVersionID: version.RulesetVersionID,
		Actor:            actor,
		Fingerprint:      etag.RulesetVersion(version),
	})

	s.logger.InfoContext(ctx, "ruleset version approved",
		"ruleset_version_id", version.RulesetVersionID, "actor", actor)
	return version, nil
}

// Activate moves an APPROVED version to ACTIVE, demoting any other ACTIVE
// version of the same ruleset in the same transaction.
func (s *Rulesets) Activate(ctx context.Context, rulesetVersionID, expectedFingerprint, actor string) (*domain.RulesetVersion, error) {
	return s.activate(ctx, rulesetVersionID, expectedFingerprint, actor, "")
}

// RollbackActivate activates an older APPROVED version through the same
// atomic transition as Activate, additionally verifying the version belongs
// to the given ruleset.
func (s *Rulesets) RollbackActivate(ctx context.Context, rulesetID, rulesetVersionID, expectedFingerprint, actor string) (*domain.RulesetVersion, error) {
	return s.activate(ctx, rulesetVersionID, expectedFingerprint, actor, rulesetID)
}

func (s *Rulesets) activate(ctx context.Context, rulesetVersionID, expectedFingerprint, actor, expectedRulesetID string) (*domain.RulesetVersion, error) {
	var version *domain.RulesetVersion
	var demoted int

	err := s.store.WithTx(ctx, func(tx domain.Store) error {
		target, err := tx.GetRulesetVersion(ctx, rulesetVersionID)
		if err != nil {
			return err
		}
		if expectedRulesetID != "" && target.RulesetID != expectedRulesetID {
			return fmt.Errorf("%w: version %s does not belong to ruleset %s",
				domain.ErrInvalidArgument, rulesetVersionID, expectedRulesetID)
		}
		if target.Status != domain.RulesetVersionApproved {
			return fmt.Errorf("%w: only APPROVED versions can be activated", domain.ErrConflict)
		}
		if err := checkPrecondition(expectedFingerprint, etag.RulesetVersion(target), target); err != nil {
			return err
		}

		demoted, err = tx.DemoteActiveVersions(ctx, target.RulesetID, target.RulesetVersionID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		target.Status = domain.RulesetVersionActive
		target.ActivatedBy = actor
		target.ActivatedAt = &now
		target.UpdatedAt = now
		if err := tx.UpdateRulesetVersion(ctx, target); err != nil {
			return err
		}
		version = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateActiveVersion(ctx, version.RulesetID)

	if demoted > 0 {
		s.publish(ctx, domain.TopicRulesetVersionDemoted, domain.LifecycleEvent{
			RulesetID: version.RulesetID,
			Actor:     actor,
		})
	}
	s.publish(ctx, domain.TopicRulesetVersionActivated, domain.LifecycleEvent{
		RulesetID:        version.RulesetID,
		RulesetVersionID: version.RulesetVersionID,
		Actor:            actor,
		Fingerprint:      etag.RulesetVersion(version),
	})

	s.logger.InfoContext(ctx, "ruleset version activated",
		"ruleset_id", version.RulesetID, "ruleset_version_id", version.RulesetVersionID,
		"demoted", demoted, "actor", actor)
	return version, nil
}

// AddEntryInput describes a new ruleset entry.
type AddEntryInput struct {
	RulesetVersionID string
	RuleVersionID    string
	Enabled          *bool
	OrderPriority    *int
	Actor            string
}

// AddEntry adds a rule-version reference to a DRAFT ruleset version,
// enforcing the duplicate, archived-rule, and order-uniqueness invariants.
func (s *Rulesets) AddEntry(ctx context.Context, input AddEntryInput) (*domain.RulesetEntry, error) {
	version, err := s.store.GetRulesetVersion(ctx, input.RulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RulesetVersionDraft {
		return nil, fmt.Errorf("%w: entries can only be added to DRAFT ruleset versions", domain.ErrConflict)
	}
	if err := requirePrecedenceForParallel(version.ExecutionMode, version.DecisionPrecedence); err != nil {
		return nil, err
	}

	ruleVersion, err := s.store.GetRuleVersion(ctx, input.RuleVersionID)
	if err != nil {
		return nil, err
	}
	rule, err := s.store.GetRule(ctx, ruleVersion.RuleID)
	if err != nil {
		return nil, err
	}
	if rule.Archived() {
		return nil, fmt.Errorf("%w: cannot add archived rule %s", domain.ErrInvalidArgument, rule.RuleID)
	}

	if _, err := s.store.FindEntryByRuleVersion(ctx, input.RulesetVersionID, input.RuleVersionID); err == nil {
		return nil, fmt.Errorf("%w: rule version %s is already in this ruleset version", domain.ErrConflict, input.RuleVersionID)
	}

	var orderPriority *int
	if version.ExecutionMode == domain.ModeSequential {
		if input.OrderPriority == nil {
			return nil, fmt.Errorf("%w: orderPriority is required for SEQUENTIAL execution mode", domain.ErrInvalidArgument)
		}
		if _, err := s.store.FindEntryByOrder(ctx, input.RulesetVersionID, *input.OrderPriority); err == nil {
			return nil, fmt.Errorf("%w: orderPriority %d is already taken", domain.ErrConflict, *input.OrderPriority)
		}
		orderPriority = input.OrderPriority
	}
	// PARALLEL entries always store a null orderPriority.

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	now := time.Now().UTC()
	entry := &domain.RulesetEntry{
		EntryID:          uuid.New().String(),
		RulesetVersionID: input.RulesetVersionID,
		RuleID:           ruleVersion.RuleID,
		RuleVersionID:    ruleVersion.RuleVersionID,
		Enabled:          enabled,
		OrderPriority:    orderPriority,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}

	s.logger.InfoContext(ctx, "ruleset entry added",
		"ruleset_version_id", input.RulesetVersionID, "entry_id", entry.EntryID,
		"rule_version_id", input.RuleVersionID, "actor", input.Actor)
	return entry, nil
}

// PatchEntryInput describes a partial entry update.
type PatchEntryInput struct {
	EntryID             string
	ExpectedFingerprint string
	Enabled             *bool
	OrderPriority       *int
	Actor               string
}

// PatchEntry edits an entry of a DRAFT ruleset version. Changing
// orderPriority is legal only in SEQUENTIAL mode and must not collide with
// another entry's order.
func (s *Rulesets) PatchEntry(ctx context.Context, input PatchEntryInput) (*domain.RulesetEntry, error) {
	entry, err := s.store.GetEntry(ctx, input.EntryID)
	if err != nil {
		return nil, err
	}
	version, err := s.store.GetRulesetVersion(ctx, entry.RulesetVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RulesetVersionDraft {
		return nil, fmt.Errorf("%w: entries can only be edited in DRAFT ruleset versions", domain.ErrConflict)
	}
	if err := checkPrecondition(input.ExpectedFingerprint, etag.Entry(entry), entry); err != nil {
		return nil, err
	}

	if input.Enabled != nil {
		entry.Enabled = *input.Enabled
	}
	if input.OrderPriority != nil {
		if version.ExecutionMode != domain.ModeSequential {
			return nil, fmt.Errorf("%w: orderPriority can only be changed in SEQUENTIAL mode", domain.ErrInvalidArgument)
		}
		other, err := s.store.FindEntryByOrder(ctx, entry.RulesetVersionID, *input.OrderPriority)
		if err == nil && other.EntryID != entry.EntryID {
			return nil, fmt.Errorf("%w: orderPriority %d is already taken", domain.ErrConflict, *input.OrderPriority)
		}
		entry.OrderPriority = input.OrderPriority
	}
	entry.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to update entry: %w", err)
	}

	s.logger.InfoContext(ctx, "ruleset entry updated",
		"entry_id", entry.EntryID, "actor", input.Actor)
	return entry, nil
}

// DeleteEntry removes an entry from a DRAFT ruleset version.
func (s *Rulesets) DeleteEntry(ctx context.Context, entryID, expectedFingerprint, actor string) error {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	version, err := s.store.GetRulesetVersion(ctx, entry.RulesetVersionID)
	if err != nil {
		return err
	}
	if version.Status != domain.RulesetVersionDraft {
		return fmt.Errorf("%w: entries can only be deleted in DRAFT ruleset versions", domain.ErrConflict)
	}
	if err := checkPrecondition(expectedFingerprint, etag.Entry(entry), entry); err != nil {
		return err
	}

	if err := s.store.DeleteEntry(ctx, entryID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "ruleset entry deleted", "entry_id", entryID, "actor", actor)
	return nil
}

// --- Read models ---

// Page carries opaque cursor pagination state.
type Page struct {
	Cursor string
	Limit  int
}

// VersionTablePage is one page of the flattened ruleset-version table.
type VersionTablePage struct {
	Rows       []*VersionTableRow `json:"rows"`
	Total      int                `json:"total"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// VersionTableRow is a read-model row with its fingerprint attached.
type VersionTableRow struct {
	domain.RulesetVersionRow
	Fingerprint string `json:"fingerprint"`
}

// QueryVersionTable returns a page of the flattened ruleset-version table.
func (s *Rulesets) QueryVersionTable(ctx context.Context, q domain.RulesetVersionQuery, page Page) (*VersionTablePage, error) {
	offset, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	q.Offset = offset
	q.Limit = clampLimit(page.Limit)

	rows, total, err := s.store.QueryRulesetVersionRows(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &VersionTablePage{Rows: make([]*VersionTableRow, len(rows)), Total: total}
	for i, row := range rows {
		result.Rows[i] = &VersionTableRow{
			RulesetVersionRow: *row,
			Fingerprint:       etag.RulesetVersion(&row.RulesetVersion),
		}
	}
	if next := offset + len(rows); next < total {
		result.NextCursor = encodeCursor(next)
	}
	return result, nil
}

// EntryTablePage is one page of a ruleset version's entries table.
type EntryTablePage struct {
	Rows       []*EntryTableRow `json:"rows"`
	Total      int              `json:"total"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// EntryTableRow is a read-model row with its fingerprint attached.
type EntryTableRow struct {
	domain.EntryRow
	Fingerprint string `json:"fingerprint"`
}

// QueryEntryTable returns a page of a ruleset version's entries table.
func (s *Rulesets) QueryEntryTable(ctx context.Context, q domain.EntryQuery, page Page) (*EntryTablePage, error) {
	if _, err := s.store.GetRulesetVersion(ctx, q.RulesetVersionID); err != nil {
		return nil, err
	}

	offset, err := decodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	q.Offset = offset
	q.Limit = clampLimit(page.Limit)

	rows, total, err := s.store.QueryEntryRows(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &EntryTablePage{Rows: make([]*EntryTableRow, len(rows)), Total: total}
	for i, row := range rows {
		result.Rows[i] = &EntryTableRow{
			EntryRow:    *row,
			Fingerprint: etag.Entry(&row.RulesetEntry),
		}
	}
	if next := offset + len(rows); next < total {
		result.NextCursor = encodeCursor(next)
	}
	return result, nil
}

func (s *Rulesets) publish(ctx context.Context, topic string, event domain.LifecycleEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event", "topic", topic, "error", err)
	}
}

func (s *Rulesets) invalidateActiveVersion(ctx context.Context, rulesetID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.ActiveVersionCacheKey(rulesetID)); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate active-version cache",
			"ruleset_id", rulesetID, "error", err)
	}
}

const maxPageLimit = 200

func clampLimit(limit int) int {
	if limit <= 0 {
		return 0 // store default applies
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// Cursors are opaque to callers: a base64-wrapped row offset.
func encodeCursor(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidArgument)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidArgument)
	}
	return offset, nil
}
