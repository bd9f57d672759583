package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-commerce/kestrel/internal/actions"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/resolution"
	"github.com/opensource-commerce/kestrel/internal/rules"
	"github.com/opensource-commerce/kestrel/internal/scheduler"
)

// Handler holds HTTP handlers for the Kestrel API.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	evaluator  *rules.Evaluator
	executor   *actions.Executor
	runner     *scheduler.Scheduler
	resolution *resolution.Service
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, evaluator *rules.Evaluator, executor *actions.Executor, runner *scheduler.Scheduler, resolutionSvc *resolution.Service, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		evaluator:  evaluator,
		executor:   executor,
		runner:     runner,
		resolution: resolutionSvc,
		version:    version,
	}
}

// Health reports liveness and component connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{
		"repository": "ok",
		"cache":      "ok",
		"bus":        "ok",
	}

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
		components["repository"] = err.Error()
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		status = "degraded"
		components["cache"] = err.Error()
	}
	if err := h.bus.Ping(r.Context()); err != nil {
		status = "degraded"
		components["bus"] = err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready reports readiness to serve traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// ListRules returns all of the tenant's rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	ruleList, err := h.repo.ListRules(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(r.Context(), tenantID, ruleID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.LastRunAt = time.Time{}

	if err := h.validateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.repo.SaveRule(r.Context(), tenantID, &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, &rule)
}

// UpdateRule replaces an existing rule's definition. Creation time and
// last-run bookkeeping are preserved.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	ruleID := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(r.Context(), tenantID, ruleID)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rule.ID = ruleID
	rule.TenantID = tenantID
	rule.CreatedAt = existing.CreatedAt
	rule.LastRunAt = existing.LastRunAt
	rule.UpdatedAt = time.Now().UTC()

	if err := h.validateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.repo.SaveRule(r.Context(), tenantID, &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, &rule)
}

// validateRule runs structural validation plus expression compilation,
// so a rule with a broken CEL condition is rejected before it is saved.
func (h *Handler) validateRule(rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if cond.MetricType == domain.MetricCustomExpression {
			if err := h.evaluator.ValidateExpression(cond.Expression); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(r.Context(), tenantID, ruleID); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// EnableRule turns a rule on.
func (h *Handler) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableRule turns a rule off.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	tenantID := GetTenantID(r.Context())
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.SetRuleEnabled(r.Context(), tenantID, ruleID, enabled); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
}

// RunRules triggers an evaluation pass outside the ticker, for external
// cron setups and manual runs. The pass executes in the background.
func (h *Handler) RunRules(w http.ResponseWriter, r *http.Request) {
	go h.runner.RunOnce(detachedContext(r))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// ListExecutions returns a rule's recent execution records.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	ruleID := chi.URLParam(r, "id")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.repo.ListExecutions(r.Context(), tenantID, ruleID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"count":      len(records),
	})
}

// ListApprovals returns queued actions, filtered by status.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	status := domain.ApprovalStatus(r.URL.Query().Get("status"))

	approvals, err := h.repo.ListApprovals(r.Context(), tenantID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
}

// ApproveAction approves a queued action and applies it immediately,
// still subject to the rule's daily cap.
func (h *Handler) ApproveAction(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	approvalID := chi.URLParam(r, "id")

	var req reviewRequest
	json.NewDecoder(r.Body).Decode(&req)

	approval, err := h.repo.GetApproval(r.Context(), tenantID, approvalID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if approval.Status != domain.ApprovalPending {
		writeError(w, http.StatusConflict, errors.New("approval is not pending"))
		return
	}

	if err := h.repo.UpdateApprovalStatus(r.Context(), tenantID, approvalID, domain.ApprovalApproved, req.Reviewer); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	approval.Reviewer = req.Reviewer
	result, err := h.executor.ExecuteApproved(r.Context(), approval)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approvalId": approvalID,
		"result":     result,
	})
}

// RejectAction rejects a queued action.
func (h *Handler) RejectAction(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	approvalID := chi.URLParam(r, "id")

	var req reviewRequest
	json.NewDecoder(r.Body).Decode(&req)

	approval, err := h.repo.GetApproval(r.Context(), tenantID, approvalID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if approval.Status != domain.ApprovalPending {
		writeError(w, http.StatusConflict, errors.New("approval is not pending"))
		return
	}

	if err := h.repo.UpdateApprovalStatus(r.Context(), tenantID, approvalID, domain.ApprovalRejected, req.Reviewer); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// CreateIssue records a new pre-shipment issue.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var issue domain.Issue
	if err := json.NewDecoder(r.Body).Decode(&issue); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if issue.OrderID == "" || issue.SKU == "" {
		writeError(w, http.StatusBadRequest, errors.New("orderId and sku are required"))
		return
	}
	if issue.Quantity < 1 {
		writeError(w, http.StatusBadRequest, errors.New("quantity must be at least 1"))
		return
	}
	switch issue.IssueType {
	case domain.IssueInventoryShortage, domain.IssueQualityDefect,
		domain.IssuePriceIncrease, domain.IssueShippingDelay, domain.IssueDiscontinued:
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown issue type"))
		return
	}

	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	issue.TenantID = tenantID
	issue.Status = domain.IssuePending
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	if err := h.repo.SaveIssue(r.Context(), tenantID, &issue); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, &issue)
}

// ListIssues returns the tenant's issues, filtered by status.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	status := domain.IssueStatus(r.URL.Query().Get("status"))

	issues, err := h.repo.ListIssues(r.Context(), tenantID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"issues": issues,
		"count":  len(issues),
	})
}

// GetIssue returns a single issue.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	issueID := chi.URLParam(r, "id")

	issue, err := h.repo.GetIssue(r.Context(), tenantID, issueID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// GetProposals returns the candidate remedies for an issue.
func (h *Handler) GetProposals(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	issueID := chi.URLParam(r, "id")

	proposals, err := h.resolution.Propose(r.Context(), tenantID, issueID)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": proposals,
	})
}

type resolveRequest struct {
	ResolutionType domain.ResolutionType `json:"resolutionType"`

	// Substitution fields
	Substitute *resolution.SubstitutionRequest `json:"substitute,omitempty"`

	// Refund fields
	RefundAmount float64 `json:"refundAmount,omitempty"`

	// Delay fields
	NewShipDate time.Time `json:"newShipDate,omitempty"`
}

// ResolveIssue executes the chosen remedy for an issue.
func (h *Handler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	issueID := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var res *domain.Resolution
	var err error
	switch req.ResolutionType {
	case domain.ResolutionSubstitution:
		if req.Substitute == nil {
			writeError(w, http.StatusBadRequest, errors.New("substitute is required"))
			return
		}
		res, err = h.resolution.ExecuteSubstitution(r.Context(), tenantID, issueID, *req.Substitute)
	case domain.ResolutionRefund:
		res, err = h.resolution.ExecuteRefund(r.Context(), tenantID, issueID, req.RefundAmount)
	case domain.ResolutionCancellation:
		res, err = h.resolution.ExecuteCancellation(r.Context(), tenantID, issueID)
	case domain.ResolutionDelay:
		res, err = h.resolution.ExecuteDelayAcceptance(r.Context(), tenantID, issueID, req.NewShipDate)
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown resolution type"))
		return
	}

	if err != nil {
		var vErr *resolution.ErrValidation
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, domain.ErrIssueAlreadyResolved):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListResolutions returns the resolutions recorded for an issue.
func (h *Handler) ListResolutions(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	issueID := chi.URLParam(r, "id")

	resolutions, err := h.repo.ListResolutions(r.Context(), tenantID, issueID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resolutions": resolutions,
		"count":       len(resolutions),
	})
}

// ListNotifications returns the tenant's recent in-app notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := h.repo.ListNotifications(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// detachedContext outlives the request. An evaluation pass covers every
// tenant, so no request-scoped values carry over.
func detachedContext(_ *http.Request) context.Context {
	return context.Background()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
