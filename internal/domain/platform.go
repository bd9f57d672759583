package domain

import (
	"context"
	"errors"
)

// EntityRef identifies one campaign, ad set or ad on an external platform.
type EntityRef struct {
	ID        string     `json:"id"`
	Type      EntityType `json:"type"`
	AccountID string     `json:"accountId"`
	Platform  Platform   `json:"platform"`
	Name      string     `json:"name,omitempty"`
}

// ErrMetricUnavailable is returned when a metric cannot be served for an
// entity (platform-specific metric, account without access, etc.). The
// evaluator treats the condition as not matched and records the reason.
var ErrMetricUnavailable = errors.New("metric unavailable")

// MetricProvider supplies time-windowed aggregate metrics per entity.
type MetricProvider interface {
	// GetMetric returns the metric aggregated over the trailing window.
	GetMetric(ctx context.Context, tenantID string, entity EntityRef, metric MetricType, windowDays int) (float64, error)
}

// PlatformAPI mutates campaign entities on the external ad platform.
// Every call is fallible remote I/O; callers bound it with a timeout and
// never retry within the same cycle.
type PlatformAPI interface {
	// ListEntities returns all entities of a type under an account.
	// An empty accountID means all accounts of the tenant on the platform.
	ListEntities(ctx context.Context, tenantID string, platform Platform, accountID string, entityType EntityType) ([]EntityRef, error)

	Pause(ctx context.Context, tenantID string, entity EntityRef) error
	Resume(ctx context.Context, tenantID string, entity EntityRef) error
	SetStatus(ctx context.Context, tenantID string, entity EntityRef, status string) error

	GetBudget(ctx context.Context, tenantID string, entity EntityRef) (float64, error)
	SetBudget(ctx context.Context, tenantID string, entity EntityRef, amount float64) error

	// SetBidModifier applies a multiplicative modifier (1.0 = no change)
	// to a targeting dimension value.
	SetBidModifier(ctx context.Context, tenantID string, entity EntityRef, dimension BidDimension, value string, modifier float64) error

	// ExcludeDimension removes a dimension value from serving entirely
	// (the -100% sentinel for device bids).
	ExcludeDimension(ctx context.Context, tenantID string, entity EntityRef, dimension BidDimension, value string) error

	AddNegativeKeyword(ctx context.Context, tenantID string, entity EntityRef, keyword, matchType, level string) error
	ExcludePlacement(ctx context.Context, tenantID string, entity EntityRef, placement string) error
	SetBiddingStrategy(ctx context.Context, tenantID string, entity EntityRef, strategy string, targetValue float64) error
}
