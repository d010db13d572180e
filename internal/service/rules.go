// Package service implements the authoring operations over the store: rule
// and rule-version management, and the ruleset version lifecycle. Every
// mutation re-reads the freshest state, checks its lifecycle invariants, and
// enforces the caller's fingerprint precondition before writing.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/etag"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Rules provides rule and rule-version authoring operations.
type Rules struct {
	store   domain.Store
	catalog *domain.FieldCatalog
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewRules creates a rule service.
func NewRules(store domain.Store, catalog *domain.FieldCatalog, bus domain.EventBus, logger *slog.Logger) *Rules {
	return &Rules{
		store:   store,
		catalog: catalog,
		bus:     bus,
		logger:  logger.With("component", "rules"),
	}
}

// CreateRuleInput describes a new rule.
type CreateRuleInput struct {
	Name        string
	Description string
	Tags        []string
	Actor       string
}

// CreateRule creates a rule with no versions yet.
func (s *Rules) CreateRule(ctx context.Context, input CreateRuleInput) (*domain.Rule, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: rule name is required", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		RuleID:      uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Tags:        input.Tags,
		CreatedBy:   input.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rule.Tags == nil {
		rule.Tags = []string{}
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.InfoContext(ctx, "rule created", "rule_id", rule.RuleID, "actor", input.Actor)
	return rule, nil
}

// PatchRuleInput describes a partial rule-metadata update. Nil fields are
// left unchanged. ExpectedFingerprint guards against lost updates; an empty
// value bypasses the guard for internal callers, the HTTP layer always
// supplies one.
type PatchRuleInput struct {
	RuleID              string
	ExpectedFingerprint string
	Name                *string
	Description         *string
	Tags                []string
	Archived            *bool
	Actor               string
}

// PatchRule updates rule metadata and handles archiving.
func (s *Rules) PatchRule(ctx context.Context, input PatchRuleInput) (*domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, input.RuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPrecondition(input.ExpectedFingerprint, etag.Rule(rule), rule); err != nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, fmt.Errorf("%w: rule name cannot be empty", domain.ErrInvalidArgument)
		}
		rule.Name = *input.Name
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.Tags != nil {
		rule.Tags = input.Tags
	}
	if input.Archived != nil {
		if *input.Archived && rule.ArchivedAt == nil {
			now := time.Now().UTC()
			rule.ArchivedAt = &now
		}
		if !*input.Archived {
			rule.ArchivedAt = nil
		}
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.logger.InfoContext(ctx, "rule updated", "rule_id", rule.RuleID, "actor", input.Actor)
	return rule, nil
}

// GetRule returns a rule by ID.
func (s *Rules) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	return s.store.GetRule(ctx, ruleID)
}

// ListRules returns all rules.
func (s *Rules) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return s.store.ListRules(ctx)
}

// CreateDraftVersionInput describes a new draft rule version.
type CreateDraftVersionInput struct {
	RuleID        string
	LogicAst      json.RawMessage
	Decision      domain.Decision
	ChangeSummary string
	// Description plus ManualDescriptionOverride selects a manual
	// description; otherwise the description is rendered from the AST.
	Description               string
	ManualDescriptionOverride bool
	Actor                     string
}

// CreateDraftVersion validates the AST, renders or accepts the description,
// assigns the next version number, and stores a DRAFT version.
func (s *Rules) CreateDraftVersion(ctx context.Context, input CreateDraftVersionInput) (*domain.RuleVersion, error) {
	rule, err := s.store.GetRule(ctx, input.RuleID)
	if err != nil {
		return nil, err
	}
	if rule.Archived() {
		return nil, fmt.Errorf("%w: rule %s is archived", domain.ErrInvalidArgument, rule.RuleID)
	}
	if input.Decision.Action == "" {
		return nil, fmt.Errorf("%w: decision action is required", domain.ErrInvalidArgument)
	}

	node, err := rules.ParseAndValidate(input.LogicAst, s.catalog)
	if err != nil {
		return nil, err
	}
	canonicalAst, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validated ast: %w", err)
	}

	description, source := resolveDescription(node, input.Decision, input.Description, input.ManualDescriptionOverride)

	var version *domain.RuleVersion
	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		latest, err := tx.LatestRuleVersionNumber(ctx, input.RuleID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		version = &domain.RuleVersion{
			RuleVersionID:     uuid.New().String(),
			RuleID:            input.RuleID,
			VersionNumber:     latest + 1,
			Status:            domain.RuleVersionDraft,
			LogicAst:          canonicalAst,
			Decision:          input.Decision,
			Description:       description,
			DescriptionSource: source,
			ChangeSummary:     input.ChangeSummary,
			CreatedBy:         input.Actor,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.CreateRuleVersion(ctx, version)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rule version: %w", err)
	}

	s.logger.InfoContext(ctx, "rule version drafted",
		"rule_id", input.RuleID, "rule_version_id", version.RuleVersionID,
		"version_number", version.VersionNumber, "actor", input.Actor)
	return version, nil
}

// PatchDraftVersionInput describes a partial update to a DRAFT rule version.
type PatchDraftVersionInput struct {
	RuleVersionID       string
	ExpectedFingerprint string
	LogicAst            json.RawMessage // nil leaves the AST unchanged
	Decision            *domain.Decision
	ChangeSummary       *string
	Description         *string
	// ManualDescriptionOverride switches between MANUAL and TEMPLATE
	// description sourcing when set.
	ManualDescriptionOverride *bool
	Actor                     string
}

// PatchDraftVersion edits a DRAFT rule version. The description is re-rendered
// from the AST whenever the logic or decision changes, unless a manual
// override with a non-empty description is in effect.
func (s *Rules) PatchDraftVersion(ctx context.Context, input PatchDraftVersionInput) (*domain.RuleVersion, error) {
	version, err := s.store.GetRuleVersion(ctx, input.RuleVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RuleVersionDraft {
		return nil, fmt.Errorf("%w: only DRAFT rule versions can be edited", domain.ErrConflict)
	}
	if err := checkPrecondition(input.ExpectedFingerprint, etag.RuleVersion(version), version); err != nil {
		return nil, err
	}

	if input.Decision != nil {
		if input.Decision.Action == "" {
			return nil, fmt.Errorf("%w: decision action is required", domain.ErrInvalidArgument)
		}
		version.Decision = *input.Decision
	}
	if input.LogicAst != nil {
		node, err := rules.ParseAndValidate(input.LogicAst, s.catalog)
		if err != nil {
			return nil, err
		}
		canonicalAst, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("failed to encode validated ast: %w", err)
		}
		version.LogicAst = canonicalAst
	}
	if input.ChangeSummary != nil {
		version.ChangeSummary = *input.ChangeSummary
	}

	manual := version.DescriptionSource == domain.DescriptionManual
	if input.ManualDescriptionOverride != nil {
		manual = *input.ManualDescriptionOverride
	}
	manualText := version.Description
	if input.Description != nil {
		manualText = *input.Description
	}

	node, err := rules.Parse(version.LogicAst)
	if err != nil {
		return nil, fmt.Errorf("stored ast failed to parse: %w", err)
	}
	version.Description, version.DescriptionSource = resolveDescription(node, version.Decision, manualText, manual)
	version.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRuleVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to update rule version: %w", err)
	}

	s.logger.InfoContext(ctx, "rule version updated",
		"rule_version_id", version.RuleVersionID, "actor", input.Actor)
	return version, nil
}

// ApproveVersion moves a DRAFT rule version to APPROVED.
func (s *Rules) ApproveVersion(ctx context.Context, ruleVersionID, expectedFingerprint, actor string) (*domain.RuleVersion, error) {
	version, err := s.store.GetRuleVersion(ctx, ruleVersionID)
	if err != nil {
		return nil, err
	}
	if version.Status != domain.RuleVersionDraft {
		return nil, fmt.Errorf("%w: only DRAFT rule versions can be approved", domain.ErrConflict)
	}
	if err := checkPrecondition(expectedFingerprint, etag.RuleVersion(version), version); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	version.Status = domain.RuleVersionApproved
	version.ApprovedBy = actor
	version.ApprovedAt = &now
	version.UpdatedAt = now

	if err := s.store.UpdateRuleVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to approve rule version: %w", err)
	}

	s.publish(ctx, domain.TopicRuleVersionApproved, domain.LifecycleEvent{
		RuleID:        version.RuleID,
		RuleVersionID: version.RuleVersionID,
		Actor:         actor,
		Fingerprint:   etag.RuleVersion(version),
	})

	s.logger.InfoContext(ctx, "rule version approved",
		"rule_version_id", version.RuleVersionID, "actor", actor)
	return version, nil
}

// GetVersion returns a rule version by ID.
func (s *Rules) GetVersion(ctx context.Context, ruleVersionID string) (*domain.RuleVersion, error) {
	return s.store.GetRuleVersion(ctx, ruleVersionID)
}

// ListVersions returns all versions of a rule, newest first.
func (s *Rules) ListVersions(ctx context.Context, ruleID string) ([]*domain.RuleVersion, error) {
	if _, err := s.store.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.store.ListRuleVersions(ctx, ruleID)
}

// TryEvaluate runs a stored rule version's logic against a caller payload and
// returns the match outcome with its per-condition trace.
func (s *Rules) TryEvaluate(ctx context.Context, ruleVersionID string, payload map[string]any) (rules.EvalResult, error) {
	version, err := s.store.GetRuleVersion(ctx, ruleVersionID)
	if err != nil {
		return rules.EvalResult{}, err
	}
	node, err := rules.Parse(version.LogicAst)
	if err != nil {
		return rules.EvalResult{}, fmt.Errorf("stored ast failed to parse: %w", err)
	}
	return rules.Evaluate(node, payload), nil
}

func (s *Rules) publish(ctx context.Context, topic string, event domain.LifecycleEvent) {
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

// resolveDescription picks between a manual description and the rendered
// template. A manual override with an empty string falls back to the
// template, matching the save semantics the editors rely on.
func resolveDescription(node *rules.Node, decision domain.Decision, manualText string, manual bool) (string, domain.DescriptionSource) {
	if manual && manualText != "" {
		return manualText, domain.DescriptionManual
	}
	return rules.Describe(node, decision), domain.DescriptionTemplate
}

// checkPrecondition enforces the fingerprint guard. An empty expected
// fingerprint bypasses the check.
func checkPrecondition(expected, current string, resource any) error {
	if expected == "" {
		return nil
	}
	if etag.Match(expected, current) {
		return nil
	}
	return &domain.PreconditionError{Expected: etag.StripWeak(expected), Current: current, Resource: resource}
}
