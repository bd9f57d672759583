package domain

import (
	"fmt"
	"sort"
	"time"
)

// EntityType identifies the level of the ad hierarchy a rule targets.
type EntityType string

const (
	EntityCampaign EntityType = "campaign"
	EntityAdSet    EntityType = "ad_set"
	EntityAd       EntityType = "ad"
)

// Platform identifies the external ad platform.
type Platform string

const (
	PlatformFacebook Platform = "facebook"
	PlatformGoogle   Platform = "google"
	PlatformTikTok   Platform = "tiktok"
)

// ConditionLogic combines a rule's conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// MetricType names a windowed aggregate metric available from the provider.
type MetricType string

const (
	MetricProfit            MetricType = "profit"
	MetricProfitMargin      MetricType = "profit_margin"
	MetricNetROAS           MetricType = "net_roas"
	MetricROAS              MetricType = "roas"
	MetricCPA               MetricType = "cpa"
	MetricCPC               MetricType = "cpc"
	MetricCPM               MetricType = "cpm"
	MetricCTR               MetricType = "ctr"
	MetricSpend             MetricType = "spend"
	MetricConversions       MetricType = "conversions"
	MetricRevenue           MetricType = "revenue"
	MetricClicks            MetricType = "clicks"
	MetricImpressions       MetricType = "impressions"
	MetricFrequency         MetricType = "frequency"
	MetricQualityScore      MetricType = "quality_score"
	MetricSearchImprShare   MetricType = "search_impression_share"
	MetricSearchTopShare    MetricType = "search_top_impression_share"
	MetricSearchLostBudget  MetricType = "search_lost_impression_share_budget"
	MetricConversionRate    MetricType = "conversion_rate"
	MetricCostPerConversion MetricType = "cost_per_conversion"

	// MetricCustomExpression marks a condition that carries a CEL expression
	// over the metric snapshot instead of a single threshold test.
	MetricCustomExpression MetricType = "custom_expression"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpBetween        Operator = "between"
)

// DefaultTimeWindowDays is used when a condition omits its window
// (the builder hides it for between-operators).
const DefaultTimeWindowDays = 1

// Condition is a single metric-threshold test with a time window.
type Condition struct {
	MetricType        MetricType `json:"metricType"`
	Operator          Operator   `json:"operator"`
	ThresholdValue    float64    `json:"thresholdValue"`
	ThresholdValueMax *float64   `json:"thresholdValueMax,omitempty"`
	TimeWindowDays    int        `json:"timeWindowDays,omitempty"`

	// Expression is set only when MetricType is custom_expression.
	// It must be a CEL expression over metric names returning bool.
	Expression string `json:"expression,omitempty"`
}

// Window returns the effective time window in days.
func (c *Condition) Window() int {
	if c.TimeWindowDays == 0 {
		return DefaultTimeWindowDays
	}
	return c.TimeWindowDays
}

var validMetricTypes = map[MetricType]bool{
	MetricProfit: true, MetricProfitMargin: true, MetricNetROAS: true,
	MetricROAS: true, MetricCPA: true, MetricCPC: true, MetricCPM: true,
	MetricCTR: true, MetricSpend: true, MetricConversions: true,
	MetricRevenue: true, MetricClicks: true, MetricImpressions: true,
	MetricFrequency: true, MetricQualityScore: true,
	MetricSearchImprShare: true, MetricSearchTopShare: true,
	MetricSearchLostBudget: true, MetricConversionRate: true,
	MetricCostPerConversion: true, MetricCustomExpression: true,
}

// MetricTypes returns every fetchable metric name (custom_expression
// excluded), in stable order. Used to build the CEL environment.
func MetricTypes() []MetricType {
	out := make([]MetricType, 0, len(validMetricTypes))
	for m := range validMetricTypes {
		if m != MetricCustomExpression {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var validOperators = map[Operator]bool{
	OpGreaterThan: true, OpLessThan: true, OpGreaterOrEqual: true,
	OpLessOrEqual: true, OpEquals: true, OpNotEquals: true, OpBetween: true,
}

var validTimeWindows = map[int]bool{1: true, 3: true, 7: true, 14: true, 30: true}

// ValidCheckFrequencies are the allowed evaluation cadences in minutes.
var ValidCheckFrequencies = map[int]bool{
	15: true, 30: true, 60: true, 180: true, 360: true, 720: true, 1440: true,
}

// Validate checks a condition's structural invariants.
func (c *Condition) Validate() error {
	if !validMetricTypes[c.MetricType] {
		return fmt.Errorf("unknown metric type: %s", c.MetricType)
	}
	if c.MetricType == MetricCustomExpression {
		if c.Expression == "" {
			return fmt.Errorf("custom_expression condition requires an expression")
		}
		return nil
	}
	if c.Expression != "" {
		return fmt.Errorf("expression is only valid for custom_expression conditions")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("unknown operator: %s", c.Operator)
	}
	if c.Operator == OpBetween {
		if c.ThresholdValueMax == nil {
			return fmt.Errorf("between operator requires thresholdValueMax")
		}
		if *c.ThresholdValueMax < c.ThresholdValue {
			return fmt.Errorf("thresholdValueMax %.4f is below thresholdValue %.4f",
				*c.ThresholdValueMax, c.ThresholdValue)
		}
	} else if c.ThresholdValueMax != nil {
		return fmt.Errorf("thresholdValueMax is only valid with the between operator")
	}
	if c.TimeWindowDays != 0 && !validTimeWindows[c.TimeWindowDays] {
		return fmt.Errorf("invalid time window: %d days", c.TimeWindowDays)
	}
	return nil
}

// Rule is a persisted condition+action automation definition scoped to
// an ad platform, account and entity type.
type Rule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	EntityType  EntityType `json:"entityType"`
	Platform    Platform   `json:"platform"`
	AdAccountID string     `json:"adAccountId,omitempty"` // empty = all accounts

	ConditionLogic ConditionLogic `json:"conditionLogic"`
	Conditions     []Condition    `json:"conditions"`
	Actions        []Action       `json:"actions"`

	CheckFrequencyMinutes int  `json:"checkFrequencyMinutes"`
	MaxDailyActions       int  `json:"maxDailyActions"`
	RequireApproval       bool `json:"requireApproval"`
	DryRun                bool `json:"dryRun"`

	Enabled   bool      `json:"enabled"`
	LastRunAt time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks all rule invariants. Invalid rules are rejected at
// creation and never reach the scheduler.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.EntityType {
	case EntityCampaign, EntityAdSet, EntityAd:
	default:
		return fmt.Errorf("unknown entity type: %s", r.EntityType)
	}
	switch r.Platform {
	case PlatformFacebook, PlatformGoogle, PlatformTikTok:
	default:
		return fmt.Errorf("unknown platform: %s", r.Platform)
	}
	if r.ConditionLogic != LogicAnd && r.ConditionLogic != LogicOr {
		return fmt.Errorf("condition logic must be AND or OR")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule requires at least one condition")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule requires at least one action")
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	for i := range r.Actions {
		if err := r.Actions[i].Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	if !ValidCheckFrequencies[r.CheckFrequencyMinutes] {
		return fmt.Errorf("invalid check frequency: %d minutes", r.CheckFrequencyMinutes)
	}
	if r.MaxDailyActions < 1 {
		return fmt.Errorf("maxDailyActions must be at least 1")
	}
	return nil
}

// Due reports whether the rule should run at the given time.
func (r *Rule) Due(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.LastRunAt.IsZero() {
		return true
	}
	return now.Sub(r.LastRunAt) >= time.Duration(r.CheckFrequencyMinutes)*time.Minute
}
