package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/observability"
)

// ErrValidation marks a malformed resolution request.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// resolvableStates are the issue states a resolution may be submitted
// from. The conditional state transition on these is what makes a
// concurrent double-submission lose instead of writing twice.
var resolvableStates = []domain.IssueStatus{domain.IssuePending, domain.IssueInReview}

// Service executes issue resolutions against the repository.
type Service struct {
	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

// NewService creates a resolution service.
func NewService(repo domain.Repository, bus domain.EventBus) *Service {
	return &Service{repo: repo, bus: bus, now: time.Now}
}

// Propose returns the candidate remedies for an issue.
func (s *Service) Propose(ctx context.Context, tenantID, issueID string) ([]domain.ResolutionProposal, error) {
	issue, err := s.repo.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return nil, err
	}
	return ProposeResolutions(issue), nil
}

// SubstitutionRequest describes the replacement product for an
// ExecuteSubstitution call.
type SubstitutionRequest struct {
	SKU         string  `json:"sku"`
	ProductName string  `json:"productName"`
	UnitPrice   float64 `json:"unitPrice"`
	UnitCost    float64 `json:"unitCost"`
	Shipping    float64 `json:"shipping"`
}

// ExecuteSubstitution resolves an issue by swapping the line item for a
// substitute product, recording the computed financial deltas.
func (s *Service) ExecuteSubstitution(ctx context.Context, tenantID, issueID string, req SubstitutionRequest) (*domain.Resolution, error) {
	if req.SKU == "" {
		return nil, &ErrValidation{Field: "sku", Reason: "required"}
	}
	if req.ProductName == "" {
		return nil, &ErrValidation{Field: "productName", Reason: "required"}
	}
	if req.UnitPrice < 0 || req.UnitCost < 0 || req.Shipping < 0 {
		return nil, &ErrValidation{Field: "pricing", Reason: "amounts must be non-negative"}
	}

	issue, err := s.repo.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return nil, err
	}

	calc := CalculateSubstitution(
		LineItem{UnitPrice: issue.UnitPrice, UnitCost: issue.UnitCost, Shipping: issue.Shipping},
		LineItem{UnitPrice: req.UnitPrice, UnitCost: req.UnitCost, Shipping: req.Shipping},
		issue.Quantity,
	)

	return s.resolve(ctx, issue, &domain.Resolution{
		Type:              domain.ResolutionSubstitution,
		PriceAdjustment:   calc.PriceAdjustment,
		CustomerRefund:    calc.CustomerRefund,
		InvoiceAdjustment: calc.InvoiceAdjustment,
		Details: map[string]any{
			"substituteSku":         req.SKU,
			"substituteProductName": req.ProductName,
			"substituteUnitPrice":   req.UnitPrice,
		},
	})
}

// ExecuteRefund resolves an issue by refunding the customer. A zero
// amount refunds the full line value.
func (s *Service) ExecuteRefund(ctx context.Context, tenantID, issueID string, amount float64) (*domain.Resolution, error) {
	if amount < 0 {
		return nil, &ErrValidation{Field: "amount", Reason: "must be non-negative"}
	}

	issue, err := s.repo.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return nil, err
	}

	lineValue := issue.UnitPrice * float64(issue.Quantity)
	if amount == 0 {
		amount = lineValue
	}
	if amount > lineValue {
		return nil, &ErrValidation{Field: "amount", Reason: fmt.Sprintf("exceeds line value %.2f", lineValue)}
	}

	return s.resolve(ctx, issue, &domain.Resolution{
		Type:           domain.ResolutionRefund,
		CustomerRefund: amount,
		// The line does not ship, so its cost and shipping come off
		// the supplier invoice.
		InvoiceAdjustment: -(issue.UnitCost*float64(issue.Quantity) + issue.Shipping),
	})
}

// ExecuteCancellation resolves an issue by cancelling the order line in
// full: complete customer refund, complete invoice credit.
func (s *Service) ExecuteCancellation(ctx context.Context, tenantID, issueID string) (*domain.Resolution, error) {
	issue, err := s.repo.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return nil, err
	}

	return s.resolve(ctx, issue, &domain.Resolution{
		Type:              domain.ResolutionCancellation,
		CustomerRefund:    issue.UnitPrice * float64(issue.Quantity),
		InvoiceAdjustment: -(issue.UnitCost*float64(issue.Quantity) + issue.Shipping),
	})
}

// ExecuteDelayAcceptance resolves an issue by accepting a later ship
// date with no financial changes.
func (s *Service) ExecuteDelayAcceptance(ctx context.Context, tenantID, issueID string, newShipDate time.Time) (*domain.Resolution, error) {
	if newShipDate.IsZero() {
		return nil, &ErrValidation{Field: "newShipDate", Reason: "required"}
	}
	if newShipDate.Before(s.now()) {
		return nil, &ErrValidation{Field: "newShipDate", Reason: "must be in the future"}
	}

	issue, err := s.repo.GetIssue(ctx, tenantID, issueID)
	if err != nil {
		return nil, err
	}

	return s.resolve(ctx, issue, &domain.Resolution{
		Type: domain.ResolutionDelay,
		Details: map[string]any{
			"newShipDate": newShipDate.UTC().Format(time.RFC3339),
		},
	})
}

// resolve transitions the issue to resolved and persists the resolution.
// The transition is conditional on the current state, so a second
// submission for the same issue fails with ErrIssueAlreadyResolved
// instead of writing a duplicate.
func (s *Service) resolve(ctx context.Context, issue *domain.Issue, res *domain.Resolution) (*domain.Resolution, error) {
	if err := s.repo.TransitionIssueStatus(ctx, issue.TenantID, issue.ID, resolvableStates, domain.IssueResolved); err != nil {
		return nil, err
	}

	res.ID = uuid.New().String()
	res.TenantID = issue.TenantID
	res.IssueID = issue.ID
	res.CreatedAt = s.now().UTC()

	if err := s.repo.SaveResolution(ctx, issue.TenantID, res); err != nil {
		return nil, fmt.Errorf("save resolution: %w", err)
	}

	observability.IssuesResolved.WithLabelValues(string(res.Type)).Inc()
	slog.Info("issue resolved",
		"issue_id", issue.ID,
		"tenant_id", issue.TenantID,
		"resolution_type", res.Type,
	)

	data, _ := json.Marshal(res)
	if err := s.bus.Publish(ctx, issue.TenantID, domain.TopicIssueResolved, data); err != nil {
		slog.Error("failed to publish resolution event",
			"issue_id", issue.ID,
			"error", err,
		)
	}
	return res, nil
}
