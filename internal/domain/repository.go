// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All tenant-scoped methods require tenantID for strict multi-tenancy
// isolation; scheduler-facing listings cross tenants explicitly.
type Repository interface {
	// Rule operations
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, tenantID string) ([]*Rule, error)
	ListEnabledRules(ctx context.Context) ([]*Rule, error)
	SetRuleEnabled(ctx context.Context, tenantID string, ruleID string, enabled bool) error
	TouchRuleRun(ctx context.Context, tenantID string, ruleID string, at time.Time) error
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Execution log
	SaveExecution(ctx context.Context, tenantID string, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, tenantID string, ruleID string, limit int) ([]*ExecutionRecord, error)

	// Approval queue
	SaveApproval(ctx context.Context, tenantID string, approval *ActionApproval) error
	GetApproval(ctx context.Context, tenantID string, approvalID string) (*ActionApproval, error)
	ListApprovals(ctx context.Context, tenantID string, status ApprovalStatus) ([]*ActionApproval, error)
	UpdateApprovalStatus(ctx context.Context, tenantID string, approvalID string, status ApprovalStatus, reviewer string) error

	// Issues and resolutions
	SaveIssue(ctx context.Context, tenantID string, issue *Issue) error
	GetIssue(ctx context.Context, tenantID string, issueID string) (*Issue, error)
	ListIssues(ctx context.Context, tenantID string, status IssueStatus) ([]*Issue, error)
	// TransitionIssueStatus moves an issue from one of the given states to
	// the target state. Returns ErrIssueAlreadyResolved when the issue
	// exists but is not in an allowed state.
	TransitionIssueStatus(ctx context.Context, tenantID string, issueID string, from []IssueStatus, to IssueStatus) error
	SaveResolution(ctx context.Context, tenantID string, res *Resolution) error
	ListResolutions(ctx context.Context, tenantID string, issueID string) ([]*Resolution, error)

	// In-app notifications
	SaveNotification(ctx context.Context, tenantID string, n *Notification) error
	ListNotifications(ctx context.Context, tenantID string, limit int) ([]*Notification, error)

	// IncrementDailyActionCount transactionally adjusts the per-rule
	// per-UTC-day action counter and returns the new value. Used as the
	// durable quota backend.
	IncrementDailyActionCount(ctx context.Context, tenantID string, ruleID string, day string, delta int64) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
