// Package resolution computes and records remedies for pre-shipment
// order issues.
package resolution

import (
	"fmt"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// LineItem is one side of a substitution: the pricing of the original or
// replacement product for a single unit.
type LineItem struct {
	UnitPrice float64 `json:"unitPrice"`
	UnitCost  float64 `json:"unitCost"`
	Shipping  float64 `json:"shipping"`
}

// CalculateSubstitution computes the financial deltas of replacing an
// order line with a substitute product.
//
// PriceAdjustment is the per-unit retail delta (substitute minus
// original). When the substitute is cheaper the customer is refunded the
// difference for the whole quantity; when it is dearer the merchant
// absorbs the increase, so CustomerRefund is never negative.
// InvoiceAdjustment is the supplier-side delta for the whole quantity:
// cost difference plus shipping difference.
func CalculateSubstitution(original, substitute LineItem, quantity int) domain.SubstitutionCalculation {
	priceAdj := substitute.UnitPrice - original.UnitPrice

	var refund float64
	if priceAdj < 0 {
		refund = -priceAdj * float64(quantity)
	}

	invoiceAdj := (substitute.UnitCost-original.UnitCost)*float64(quantity) +
		(substitute.Shipping - original.Shipping)

	return domain.SubstitutionCalculation{
		PriceAdjustment:   priceAdj,
		CustomerRefund:    refund,
		InvoiceAdjustment: invoiceAdj,
	}
}

// ProposeResolutions lists the remedies applicable to an issue, ordered
// by preference for its issue type. The refund prefill is the full line
// value; the operator can adjust it before executing.
func ProposeResolutions(issue *domain.Issue) []domain.ResolutionProposal {
	lineValue := issue.UnitPrice * float64(issue.Quantity)

	substitution := domain.ResolutionProposal{
		Type:                     domain.ResolutionSubstitution,
		Description:              fmt.Sprintf("Replace %s with a comparable product", issue.ProductName),
		EstimatedResolutionDays:  2,
		RequiresCustomerApproval: true,
	}
	refund := domain.ResolutionProposal{
		Type:                    domain.ResolutionRefund,
		Description:             "Refund the affected line and remove it from the order",
		EstimatedResolutionDays: 1,
		RefundAmount:            lineValue,
	}
	cancellation := domain.ResolutionProposal{
		Type:                    domain.ResolutionCancellation,
		Description:             "Cancel the entire order and refund in full",
		EstimatedResolutionDays: 1,
	}
	delay := domain.ResolutionProposal{
		Type:                     domain.ResolutionDelay,
		Description:              "Keep the order and accept a later ship date",
		EstimatedResolutionDays:  7,
		RequiresCustomerApproval: true,
	}

	switch issue.IssueType {
	case domain.IssueShippingDelay:
		return []domain.ResolutionProposal{delay, substitution, refund, cancellation}
	case domain.IssueDiscontinued:
		// The original product cannot ship again; waiting is not an option.
		return []domain.ResolutionProposal{substitution, refund, cancellation}
	case domain.IssueInventoryShortage:
		return []domain.ResolutionProposal{substitution, delay, refund, cancellation}
	case domain.IssuePriceIncrease:
		return []domain.ResolutionProposal{substitution, refund, cancellation, delay}
	default:
		return []domain.ResolutionProposal{substitution, refund, cancellation, delay}
	}
}
