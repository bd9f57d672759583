package domain

import (
	"time"
)

// Outcome classifies the result of an action attempt or a whole cycle.
type Outcome string

const (
	OutcomeApplied                Outcome = "applied"
	OutcomeSkippedDryRun          Outcome = "skipped_dry_run"
	OutcomeSkippedDailyCap        Outcome = "skipped_daily_cap"
	OutcomeSkippedPendingApproval Outcome = "skipped_pending_approval"
	OutcomeFailed                 Outcome = "failed"
	OutcomeNotMatched             Outcome = "not_matched"
)

// ConditionTrace records a single condition's evaluation for the audit log.
type ConditionTrace struct {
	MetricType        MetricType `json:"metricType"`
	Operator          Operator   `json:"operator,omitempty"`
	ThresholdValue    float64    `json:"thresholdValue,omitempty"`
	ThresholdValueMax *float64   `json:"thresholdValueMax,omitempty"`
	TimeWindowDays    int        `json:"timeWindowDays"`
	ObservedValue     float64    `json:"observedValue"`
	Matched           bool       `json:"matched"`
	Reason            string     `json:"reason,omitempty"`
}

// ActionResult records one action attempt within a cycle. Payload holds the
// mutation exactly as it was (or would have been) sent to the platform, so
// dry-run logs carry the same detail as live runs.
type ActionResult struct {
	ActionType ActionType                     `json:"actionType"`
	Outcome    Outcome                        `json:"outcome"`
	Payload    map[string]any                 `json:"payload,omitempty"`
	Error      string                         `json:"error,omitempty"`
	Channels   map[NotificationChannel]string `json:"channels,omitempty"`
}

// ExecutionRecord is the persisted trace of one rule cycle for one entity.
type ExecutionRecord struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	RuleID     string     `json:"ruleId"`
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	Timestamp  time.Time  `json:"timestamp"`

	Matched           bool             `json:"matched"`
	MatchedConditions []ConditionTrace `json:"matchedConditions,omitempty"`

	ActionsAttempted int            `json:"actionsAttempted"`
	ActionsApplied   int            `json:"actionsApplied"`
	ActionResults    []ActionResult `json:"actionResults,omitempty"`

	DryRun  bool    `json:"dryRun"`
	Outcome Outcome `json:"outcome"`
}

// ApprovalStatus is the review state of a queued action.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalApplied  ApprovalStatus = "applied"
)

// ActionApproval is a matched action held for manual review because its
// rule has requireApproval set.
type ActionApproval struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	RuleID   string `json:"ruleId"`
	EntityID string `json:"entityId"`

	Action  Action         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`

	Status     ApprovalStatus `json:"status"`
	Reviewer   string         `json:"reviewer,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ReviewedAt time.Time      `json:"reviewedAt,omitempty"`
}
