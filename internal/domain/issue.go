package domain

import (
	"errors"
	"time"
)

// IssueType classifies a detected pre-shipment problem on an order line.
type IssueType string

const (
	IssueInventoryShortage IssueType = "inventory_shortage"
	IssueQualityDefect     IssueType = "quality_defect"
	IssuePriceIncrease     IssueType = "price_increase"
	IssueShippingDelay     IssueType = "shipping_delay"
	IssueDiscontinued      IssueType = "discontinued"
)

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	IssuePending   IssueStatus = "pending"
	IssueInReview  IssueStatus = "in_review"
	IssueResolved  IssueStatus = "resolved"
	IssueCancelled IssueStatus = "cancelled"
)

// ErrIssueAlreadyResolved is returned when a resolution is submitted for an
// issue that is no longer in a resolvable state. This is the guard against
// double-submission creating duplicate resolution records.
var ErrIssueAlreadyResolved = errors.New("issue already resolved")

// Issue is a pre-shipment problem on an order line item awaiting resolution.
type Issue struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	OrderID  string `json:"orderId"`

	SKU         string `json:"sku"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`

	UnitPrice float64 `json:"unitPrice"`
	UnitCost  float64 `json:"unitCost"`
	Shipping  float64 `json:"shipping"`

	IssueType IssueType   `json:"issueType"`
	Status    IssueStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ResolutionType names the remedy chosen for an issue.
type ResolutionType string

const (
	ResolutionSubstitution ResolutionType = "substitution"
	ResolutionRefund       ResolutionType = "refund"
	ResolutionCancellation ResolutionType = "cancellation"
	ResolutionDelay        ResolutionType = "delay"
)

// SubstitutionCalculation holds the financial deltas of swapping a line item.
// Sign convention: positive = customer/platform owes more, negative = credit.
type SubstitutionCalculation struct {
	PriceAdjustment   float64 `json:"priceAdjustment"`
	CustomerRefund    float64 `json:"customerRefund"`
	InvoiceAdjustment float64 `json:"invoiceAdjustment"`
}

// Resolution is the persisted remedy for an issue with its computed deltas.
type Resolution struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	IssueID  string `json:"issueId"`

	Type ResolutionType `json:"resolutionType"`

	PriceAdjustment   float64 `json:"priceAdjustment"`
	CustomerRefund    float64 `json:"customerRefund"`
	InvoiceAdjustment float64 `json:"invoiceAdjustment"`

	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ResolutionProposal is a candidate remedy presented to the operator.
type ResolutionProposal struct {
	Type                     ResolutionType `json:"resolutionType"`
	Description              string         `json:"description"`
	EstimatedResolutionDays  int            `json:"estimatedResolutionDays"`
	RequiresCustomerApproval bool           `json:"requiresCustomerApproval"`
	RefundAmount             float64        `json:"refundAmount,omitempty"`
}
