package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/etag"
	"github.com/opensource-finance/harrier/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	rules    *service.Rules
	rulesets *service.Rulesets
	executor *decision.Executor
	catalog  *domain.FieldCatalog
	store    domain.Store
	cache    domain.Cache
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(rules *service.Rules, rulesets *service.Rulesets, executor *decision.Executor, catalog *domain.FieldCatalog, store domain.Store, cache domain.Cache, version string) *Handler {
	return &Handler{
		rules:    rules,
		rulesets: rulesets,
		executor: executor,
		catalog:  catalog,
		store:    store,
		cache:    cache,
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListFields returns the field catalog: the closed set of payload fields a
// rule condition may reference, with their types and allowed operators.
func (h *Handler) ListFields(w http.ResponseWriter, r *http.Request) {
	fields := h.catalog.Fields()
	writeJSON(w, http.StatusOK, map[string]any{
		"fields": fields,
		"count":  len(fields),
	})
}

// --- Rules ---

type createRuleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), service.CreateRuleInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Actor:       GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusCreated, etag.Rule(rule), rule)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{ruleID}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.Rule(rule), rule)
}

type patchRuleRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Archived    *bool    `json:"archived,omitempty"`
}

// PatchRule handles PATCH /rules/{ruleID}. Requires If-Match.
func (h *Handler) PatchRule(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	var req patchRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rule, err := h.rules.PatchRule(r.Context(), service.PatchRuleInput{
		RuleID:              chi.URLParam(r, "ruleID"),
		ExpectedFingerprint: expected,
		Name:                req.Name,
		Description:         req.Description,
		Tags:                req.Tags,
		Archived:            req.Archived,
		Actor:               GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.Rule(rule), rule)
}

type createDraftVersionRequest struct {
	LogicAst                  json.RawMessage `json:"logicAst"`
	Decision                  domain.Decision `json:"decision"`
	ChangeSummary             string          `json:"changeSummary,omitempty"`
	Description               string          `json:"description,omitempty"`
	ManualDescriptionOverride bool            `json:"manualDescriptionOverride,omitempty"`
}

// CreateDraftVersion handles POST /rules/{ruleID}/versions.
func (h *Handler) CreateDraftVersion(w http.ResponseWriter, r *http.Request) {
	var req createDraftVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	version, err := h.rules.CreateDraftVersion(r.Context(), service.CreateDraftVersionInput{
		RuleID:                    chi.URLParam(r, "ruleID"),
		LogicAst:                  req.LogicAst,
		Decision:                  req.Decision,
		ChangeSummary:             req.ChangeSummary,
		Description:               req.Description,
		ManualDescriptionOverride: req.ManualDescriptionOverride,
		Actor:                     GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusCreated, etag.RuleVersion(version), version)
}

// ListRuleVersions handles GET /rules/{ruleID}/versions.
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.rules.ListVersions(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetRuleVersion handles GET /rule-versions/{versionID}.
func (h *Handler) GetRuleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.rules.GetVersion(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RuleVersion(version), version)
}

type patchDraftVersionRequest struct {
	LogicAst                  json.RawMessage  `json:"logicAst,omitempty"`
	Decision                  *domain.Decision `json:"decision,omitempty"`
	ChangeSummary             *string          `json:"changeSummary,omitempty"`
	Description               *string          `json:"description,omitempty"`
	ManualDescriptionOverride *bool            `json:"manualDescriptionOverride,omitempty"`
}

// PatchRuleVersion handles PATCH /rule-versions/{versionID}. Requires If-Match.
func (h *Handler) PatchRuleVersion(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	var req patchDraftVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	version, err := h.rules.PatchDraftVersion(r.Context(), service.PatchDraftVersionInput{
		RuleVersionID:             chi.URLParam(r, "versionID"),
		ExpectedFingerprint:       expected,
		LogicAst:                  req.LogicAst,
		Decision:                  req.Decision,
		ChangeSummary:             req.ChangeSummary,
		Description:               req.Description,
		ManualDescriptionOverride: req.ManualDescriptionOverride,
		Actor:                     GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RuleVersion(version), version)
}

// ApproveRuleVersion handles POST /rule-versions/{versionID}/approve.
// Requires If-Match.
func (h *Handler) ApproveRuleVersion(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	version, err := h.rules.ApproveVersion(r.Context(), chi.URLParam(r, "versionID"), expected, GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RuleVersion(version), version)
}

type tryEvaluateRequest struct {
	Payload map[string]any `json:"payload"`
}

// TryEvaluateRuleVersion handles POST /rule-versions/{versionID}/evaluate:
// a dry run of a stored rule version against a caller-supplied payload.
func (h *Handler) TryEvaluateRuleVersion(w http.ResponseWriter, r *http.Request) {
	var req tryEvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.rules.TryEvaluate(r.Context(), chi.URLParam(r, "versionID"), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Rulesets ---

type createRulesetRequest struct {
	Name               string                    `json:"name"`
	Description        string                    `json:"description,omitempty"`
	Tags               []string                  `json:"tags,omitempty"`
	ExecutionMode      domain.ExecutionMode      `json:"executionMode"`
	DecisionPrecedence domain.DecisionPrecedence `json:"decisionPrecedence,omitempty"`
}

type createRulesetResponse struct {
	Ruleset *domain.Ruleset        `json:"ruleset"`
	Version *domain.RulesetVersion `json:"version"`
}

// CreateRuleset handles POST /rulesets: a ruleset plus its DRAFT version 1.
func (h *Handler) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	var req createRulesetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ruleset, version, err := h.rulesets.CreateWithDraft(r.Context(), service.CreateWithDraftInput{
		Name:               req.Name,
		Description:        req.Description,
		Tags:               req.Tags,
		ExecutionMode:      req.ExecutionMode,
		DecisionPrecedence: req.DecisionPrecedence,
		Actor:              GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusCreated, etag.RulesetVersion(version), createRulesetResponse{
		Ruleset: ruleset,
		Version: version,
	})
}

// ListRulesets handles GET /rulesets.
func (h *Handler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	rulesets, err := h.rulesets.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rulesets": rulesets,
		"count":    len(rulesets),
	})
}

// GetRuleset handles GET /rulesets/{rulesetID}: the ruleset with its
// versions, newest first, and its derived status.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	detail, err := h.rulesets.GetDetail(r.Context(), chi.URLParam(r, "rulesetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.Ruleset(&detail.Ruleset), detail)
}

// CreateNextRulesetVersion handles POST /rulesets/{rulesetID}/versions:
// copies the latest version's settings and entries into a new DRAFT.
func (h *Handler) CreateNextRulesetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.rulesets.CreateNextVersion(r.Context(), chi.URLParam(r, "rulesetID"), GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusCreated, etag.RulesetVersion(version), version)
}

// RollbackActivate handles POST /rulesets/{rulesetID}/versions/{versionID}/activate:
// re-activating an older APPROVED version of the ruleset. Requires If-Match.
func (h *Handler) RollbackActivate(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	version, err := h.rulesets.RollbackActivate(r.Context(),
		chi.URLParam(r, "rulesetID"), chi.URLParam(r, "versionID"), expected, GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RulesetVersion(version), version)
}

type executeRequest struct {
	Payload map[string]any `json:"payload"`
}

// ExecuteRuleset handles POST /rulesets/{rulesetID}/execute: applies the
// ruleset's ACTIVE version to the payload.
func (h *Handler) ExecuteRuleset(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.executor.Execute(r.Context(), chi.URLParam(r, "rulesetID"), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// QueryRulesetVersions handles GET /ruleset-versions: the flattened
// version-table read model with search, filters, sort, and cursor paging.
func (h *Handler) QueryRulesetVersions(w http.ResponseWriter, r *http.Request) {
	q := domain.RulesetVersionQuery{
		Search: r.URL.Query().Get("search"),
		Sort:   parseSort(r.URL.Query().Get("sort")),
	}
	for _, s := range splitParam(r.URL.Query().Get("status")) {
		q.Statuses = append(q.Statuses, domain.RulesetVersionStatus(s))
	}
	for _, m := range splitParam(r.URL.Query().Get("mode")) {
		q.Modes = append(q.Modes, domain.ExecutionMode(m))
	}

	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.rulesets.QueryVersionTable(r.Context(), q, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRulesetVersion handles GET /ruleset-versions/{versionID}.
func (h *Handler) GetRulesetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.rulesets.GetVersion(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RulesetVersion(version), version)
}

type updateSettingsRequest struct {
	ExecutionMode      *domain.ExecutionMode      `json:"executionMode,omitempty"`
	DecisionPrecedence *domain.DecisionPrecedence `json:"decisionPrecedence,omitempty"`
}

// UpdateRulesetVersionSettings handles PATCH /ruleset-versions/{versionID}/settings.
// Requires If-Match. A present decisionPrecedence key replaces the stored
// precedence, including clearing it with an empty array.
func (h *Handler) UpdateRulesetVersionSettings(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input := service.UpdateSettingsInput{
		RulesetVersionID:    chi.URLParam(r, "versionID"),
		ExpectedFingerprint: expected,
		ExecutionMode:       req.ExecutionMode,
		Actor:               GetActor(r.Context()),
	}
	if req.DecisionPrecedence != nil {
		input.DecisionPrecedence = *req.DecisionPrecedence
		input.PrecedenceSet = true
	}

	version, err := h.rulesets.UpdateSettings(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RulesetVersion(version), version)
}

// ApproveRulesetVersion handles POST /ruleset-versions/{versionID}/approve.
// Requires If-Match.
func (h *Handler) ApproveRulesetVersion(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	version, err := h.rulesets.Approve(r.Context(), chi.URLParam(r, "versionID"), expected, GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RulesetVersion(version), version)
}

// ActivateRulesetVersion handles POST /ruleset-versions/{versionID}/activate.
// Requires If-Match.
func (h *Handler) ActivateRulesetVersion(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	version, err := h.rulesets.Activate(r.Context(), chi.URLParam(r, "versionID"), expected, GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.RulesetVersion(version), version)
}

// --- Entries ---

// QueryEntries handles GET /ruleset-versions/{versionID}/entries: the
// entries-table read model with rule context and fingerprints.
func (h *Handler) QueryEntries(w http.ResponseWriter, r *http.Request) {
	q := domain.EntryQuery{
		RulesetVersionID: chi.URLParam(r, "versionID"),
		Search:           r.URL.Query().Get("search"),
		Sort:             parseSort(r.URL.Query().Get("sort")),
	}

	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.rulesets.QueryEntryTable(r.Context(), q, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type addEntryRequest struct {
	RuleVersionID string `json:"ruleVersionId"`
	Enabled       *bool  `json:"enabled,omitempty"`
	OrderPriority *int   `json:"orderPriority,omitempty"`
}

// AddEntry handles POST /ruleset-versions/{versionID}/entries.
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.rulesets.AddEntry(r.Context(), service.AddEntryInput{
		RulesetVersionID: chi.URLParam(r, "versionID"),
		RuleVersionID:    req.RuleVersionID,
		Enabled:          req.Enabled,
		OrderPriority:    req.OrderPriority,
		Actor:            GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusCreated, etag.Entry(entry), entry)
}

type patchEntryRequest struct {
	Enabled       *bool `json:"enabled,omitempty"`
	OrderPriority *int  `json:"orderPriority,omitempty"`
}

// PatchEntry handles PATCH /entries/{entryID}. Requires If-Match.
func (h *Handler) PatchEntry(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	var req patchEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.rulesets.PatchEntry(r.Context(), service.PatchEntryInput{
		EntryID:             chi.URLParam(r, "entryID"),
		ExpectedFingerprint: expected,
		Enabled:             req.Enabled,
		OrderPriority:       req.OrderPriority,
		Actor:               GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeWithETag(w, http.StatusOK, etag.Entry(entry), entry)
}

// DeleteEntry handles DELETE /entries/{entryID}. Requires If-Match.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	expected, ok := requireIfMatch(w, r)
	if !ok {
		return
	}
	if err := h.rulesets.DeleteEntry(r.Context(), chi.URLParam(r, "entryID"), expected, GetActor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

var errInvalidBody = errors.New("invalid JSON request body")

// requireIfMatch extracts the If-Match fingerprint. Mutations without a
// precondition are rejected rather than allowed to clobber concurrent edits.
func requireIfMatch(w http.ResponseWriter, r *http.Request) (string, bool) {
	value := r.Header.Get("If-Match")
	if value == "" {
		writeJSON(w, http.StatusPreconditionRequired, map[string]string{
			"error": "If-Match header is required",
		})
		return "", false
	}
	return etag.StripWeak(value), true
}

// preconditionFailedResponse is the 412 payload: the caller gets the current
// fingerprint and resource snapshot to rebase its edit on.
type preconditionFailedResponse struct {
	Error              string `json:"error"`
	CurrentFingerprint string `json:"currentFingerprint"`
	Resource           any    `json:"resource,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) {
		writeJSON(w, http.StatusPreconditionFailed, preconditionFailedResponse{
			Error:              "fingerprint mismatch",
			CurrentFingerprint: precondition.Current,
			Resource:           precondition.Resource,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMalformedAst),
		errors.Is(err, domain.ErrSemantic),
		errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, errInvalidBody):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeWithETag writes a JSON response with the entity fingerprint as a
// strong ETag.
func writeWithETag(w http.ResponseWriter, status int, tag string, data any) {
	w.Header().Set("ETag", tag)
	writeJSON(w, status, data)
}
