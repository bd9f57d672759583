// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule stores or updates a rule with tenant isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)

	query := `
		INSERT INTO rules (
			id, tenant_id, name, description, entity_type, platform,
			ad_account_id, condition_logic, conditions, actions,
			check_frequency_minutes, max_daily_actions, require_approval,
			dry_run, enabled, last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			entity_type = excluded.entity_type,
			platform = excluded.platform,
			ad_account_id = excluded.ad_account_id,
			condition_logic = excluded.condition_logic,
			conditions = excluded.conditions,
			actions = excluded.actions,
			check_frequency_minutes = excluded.check_frequency_minutes,
			max_daily_actions = excluded.max_daily_actions,
			require_approval = excluded.require_approval,
			dry_run = excluded.dry_run,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.EntityType, rule.Platform, rule.AdAccountID,
		rule.ConditionLogic, string(conditions), string(actions),
		rule.CheckFrequencyMinutes, rule.MaxDailyActions,
		boolInt(rule.RequireApproval), boolInt(rule.DryRun), boolInt(rule.Enabled),
		nullTime(rule.LastRunAt), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, entity_type, platform,
	   ad_account_id, condition_logic, conditions, actions,
	   check_frequency_minutes, max_daily_actions, require_approval,
	   dry_run, enabled, last_run_at, created_at, updated_at`

func scanRule(scan func(dest ...any) error) (*domain.Rule, error) {
	var rule domain.Rule
	var conditions, actions string
	var requireApproval, dryRun, enabled int
	var lastRun sql.NullTime

	if err := scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.EntityType, &rule.Platform, &rule.AdAccountID,
		&rule.ConditionLogic, &conditions, &actions,
		&rule.CheckFrequencyMinutes, &rule.MaxDailyActions,
		&requireApproval, &dryRun, &enabled,
		&lastRun, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.RequireApproval = requireApproval == 1
	rule.DryRun = dryRun == 1
	rule.Enabled = enabled == 1
	if lastRun.Valid {
		rule.LastRunAt = lastRun.Time
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse rule actions: %w", err)
	}
	return &rule, nil
}

// GetRule retrieves a rule by ID with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves all rules for a tenant.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant_id = ? ORDER BY name`
	return r.queryRules(ctx, query, tenantID)
}

// ListEnabledRules retrieves enabled rules across all tenants. This is
// the scheduler's work list; everything downstream is tenant-scoped by
// the rule's own tenant ID.
func (r *SQLRepository) ListEnabledRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE enabled = 1 ORDER BY tenant_id, name`
	return r.queryRules(ctx, query)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SetRuleEnabled flips a rule's enabled flag.
func (r *SQLRepository) SetRuleEnabled(ctx context.Context, tenantID string, ruleID string, enabled bool) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE rules SET enabled = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), boolInt(enabled), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return oneRow(result)
}

// TouchRuleRun records the start of an evaluation pass for a rule.
func (r *SQLRepository) TouchRuleRun(ctx context.Context, tenantID string, ruleID string, at time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE rules SET last_run_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), at, tenantID, ruleID)
	if err != nil {
		return err
	}
	return oneRow(result)
}

// DeleteRule removes a rule. Its execution history is retained.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rules WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}
	return oneRow(result)
}

// SaveExecution stores an execution record with tenant isolation.
func (r *SQLRepository) SaveExecution(ctx context.Context, tenantID string, rec *domain.ExecutionRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rec.MatchedConditions)
	results, _ := json.Marshal(rec.ActionResults)

	query := `
		INSERT INTO execution_records (
			id, tenant_id, rule_id, entity_id, entity_type, timestamp,
			matched, matched_conditions, actions_attempted, actions_applied,
			action_results, dry_run, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.RuleID, rec.EntityID, rec.EntityType,
		rec.Timestamp, boolInt(rec.Matched), string(conditions),
		rec.ActionsAttempted, rec.ActionsApplied, string(results),
		boolInt(rec.DryRun), rec.Outcome,
	)
	return err
}

// ListExecutions retrieves recent execution records, newest first.
// An empty ruleID lists across all of the tenant's rules.
func (r *SQLRepository) ListExecutions(ctx context.Context, tenantID string, ruleID string, limit int) ([]*domain.ExecutionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, rule_id, entity_id, entity_type, timestamp,
			   matched, matched_conditions, actions_attempted, actions_applied,
			   action_results, dry_run, outcome
		FROM execution_records
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if ruleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var conditions, results string
		var matched, dryRun int

		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.RuleID, &rec.EntityID, &rec.EntityType,
			&rec.Timestamp, &matched, &conditions,
			&rec.ActionsAttempted, &rec.ActionsApplied, &results,
			&dryRun, &rec.Outcome,
		); err != nil {
			return nil, err
		}

		rec.Matched = matched == 1
		rec.DryRun = dryRun == 1
		json.Unmarshal([]byte(conditions), &rec.MatchedConditions)
		json.Unmarshal([]byte(results), &rec.ActionResults)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveApproval stores a queued action approval with tenant isolation.
func (r *SQLRepository) SaveApproval(ctx context.Context, tenantID string, approval *domain.ActionApproval) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	action, _ := json.Marshal(approval.Action)
	payload, _ := json.Marshal(approval.Payload)

	query := `
		INSERT INTO action_approvals (
			id, tenant_id, rule_id, entity_id, action, payload,
			status, reviewer, created_at, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		approval.ID, tenantID, approval.RuleID, approval.EntityID,
		string(action), string(payload),
		approval.Status, approval.Reviewer,
		approval.CreatedAt, nullTime(approval.ReviewedAt),
	)
	return err
}

// GetApproval retrieves an approval by ID with tenant isolation.
func (r *SQLRepository) GetApproval(ctx context.Context, tenantID string, approvalID string) (*domain.ActionApproval, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, rule_id, entity_id, action, payload,
			   status, reviewer, created_at, reviewed_at
		FROM action_approvals
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, approvalID)
	approval, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// ListApprovals retrieves approvals by status, newest first.
// An empty status lists all.
func (r *SQLRepository) ListApprovals(ctx context.Context, tenantID string, status domain.ApprovalStatus) ([]*domain.ActionApproval, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, rule_id, entity_id, action, payload,
			   status, reviewer, created_at, reviewed_at
		FROM action_approvals
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*domain.ActionApproval
	for rows.Next() {
		approval, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

func scanApproval(scan func(dest ...any) error) (*domain.ActionApproval, error) {
	var approval domain.ActionApproval
	var action, payload string
	var reviewed sql.NullTime

	if err := scan(
		&approval.ID, &approval.TenantID, &approval.RuleID, &approval.EntityID,
		&action, &payload,
		&approval.Status, &approval.Reviewer,
		&approval.CreatedAt, &reviewed,
	); err != nil {
		return nil, err
	}

	if reviewed.Valid {
		approval.ReviewedAt = reviewed.Time
	}
	if err := json.Unmarshal([]byte(action), &approval.Action); err != nil {
		return nil, fmt.Errorf("failed to parse approval action: %w", err)
	}
	json.Unmarshal([]byte(payload), &approval.Payload)
	return &approval, nil
}

// UpdateApprovalStatus records the review decision on an approval.
func (r *SQLRepository) UpdateApprovalStatus(ctx context.Context, tenantID string, approvalID string, status domain.ApprovalStatus, reviewer string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE action_approvals
		SET status = ?, reviewer = ?, reviewed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, reviewer, time.Now().UTC(), tenantID, approvalID)
	if err != nil {
		return err
	}
	return oneRow(result)
}

// SaveIssue stores or updates a pre-shipment issue with tenant isolation.
func (r *SQLRepository) SaveIssue(ctx context.Context, tenantID string, issue *domain.Issue) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO issues (
			id, tenant_id, order_id, sku, product_name, quantity,
			unit_price, unit_cost, shipping, issue_type, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			order_id = excluded.order_id,
			sku = excluded.sku,
			product_name = excluded.product_name,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			unit_cost = excluded.unit_cost,
			shipping = excluded.shipping,
			issue_type = excluded.issue_type,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		issue.ID, tenantID, issue.OrderID, issue.SKU, issue.ProductName,
		issue.Quantity, issue.UnitPrice, issue.UnitCost, issue.Shipping,
		issue.IssueType, issue.Status, issue.CreatedAt, issue.UpdatedAt,
	)
	return err
}

// GetIssue retrieves an issue by ID with tenant isolation.
func (r *SQLRepository) GetIssue(ctx context.Context, tenantID string, issueID string) (*domain.Issue, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, order_id, sku, product_name, quantity,
			   unit_price, unit_cost, shipping, issue_type, status,
			   created_at, updated_at
		FROM issues
		WHERE tenant_id = ? AND id = ?
	`

	var issue domain.Issue
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, issueID).Scan(
		&issue.ID, &issue.TenantID, &issue.OrderID, &issue.SKU,
		&issue.ProductName, &issue.Quantity,
		&issue.UnitPrice, &issue.UnitCost, &issue.Shipping,
		&issue.IssueType, &issue.Status,
		&issue.CreatedAt, &issue.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListIssues retrieves issues by status, newest first.
// An empty status lists all.
func (r *SQLRepository) ListIssues(ctx context.Context, tenantID string, status domain.IssueStatus) ([]*domain.Issue, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, order_id, sku, product_name, quantity,
			   unit_price, unit_cost, shipping, issue_type, status,
			   created_at, updated_at
		FROM issues
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*domain.Issue
	for rows.Next() {
		var issue domain.Issue
		if err := rows.Scan(
			&issue.ID, &issue.TenantID, &issue.OrderID, &issue.SKU,
			&issue.ProductName, &issue.Quantity,
			&issue.UnitPrice, &issue.UnitCost, &issue.Shipping,
			&issue.IssueType, &issue.Status,
			&issue.CreatedAt, &issue.UpdatedAt,
		); err != nil {
			return nil, err
		}
		issues = append(issues, &issue)
	}
	return issues, rows.Err()
}

// TransitionIssueStatus conditionally moves an issue between states. The
// WHERE clause on the current status makes concurrent transitions race
// safely: exactly one submission wins, the rest get
// ErrIssueAlreadyResolved.
func (r *SQLRepository) TransitionIssueStatus(ctx context.Context, tenantID string, issueID string, from []domain.IssueStatus, to domain.IssueStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: from states are required", ErrInvalidInput)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := fmt.Sprintf(`
		UPDATE issues
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (%s)
	`, placeholders)

	args := []any{to, time.Now().UTC(), tenantID, issueID}
	for _, s := range from {
		args = append(args, s)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Zero rows: either the issue does not exist or it is in a
	// non-transitionable state.
	if _, err := r.GetIssue(ctx, tenantID, issueID); err != nil {
		return err
	}
	return domain.ErrIssueAlreadyResolved
}

// SaveResolution stores a resolution record with tenant isolation.
func (r *SQLRepository) SaveResolution(ctx context.Context, tenantID string, res *domain.Resolution) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(res.Details)

	query := `
		INSERT INTO resolutions (
			id, tenant_id, issue_id, resolution_type,
			price_adjustment, customer_refund, invoice_adjustment,
			details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.IssueID, res.Type,
		res.PriceAdjustment, res.CustomerRefund, res.InvoiceAdjustment,
		string(details), res.CreatedAt,
	)
	return err
}

// ListResolutions retrieves the resolutions recorded for an issue.
func (r *SQLRepository) ListResolutions(ctx context.Context, tenantID string, issueID string) ([]*domain.Resolution, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, issue_id, resolution_type,
			   price_adjustment, customer_refund, invoice_adjustment,
			   details, created_at
		FROM resolutions
		WHERE tenant_id = ? AND issue_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resolutions []*domain.Resolution
	for rows.Next() {
		var res domain.Resolution
		var details string
		if err := rows.Scan(
			&res.ID, &res.TenantID, &res.IssueID, &res.Type,
			&res.PriceAdjustment, &res.CustomerRefund, &res.InvoiceAdjustment,
			&details, &res.CreatedAt,
		); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(details), &res.Details)
		resolutions = append(resolutions, &res)
	}
	return resolutions, rows.Err()
}

// SaveNotification stores an in-app notification with tenant isolation.
func (r *SQLRepository) SaveNotification(ctx context.Context, tenantID string, n *domain.Notification) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO notifications (
			id, tenant_id, rule_id, entity_id, message, recipient, is_read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.ID, tenantID, n.RuleID, n.EntityID, n.Message, n.Recipient,
		boolInt(n.Read), n.CreatedAt,
	)
	return err
}

// ListNotifications retrieves recent notifications, newest first.
func (r *SQLRepository) ListNotifications(ctx context.Context, tenantID string, limit int) ([]*domain.Notification, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, rule_id, entity_id, message, recipient, is_read, created_at
		FROM notifications
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(
			&n.ID, &n.TenantID, &n.RuleID, &n.EntityID,
			&n.Message, &n.Recipient, &read, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		n.Read = read == 1
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// IncrementDailyActionCount atomically adjusts a rule's action counter
// for one UTC day and returns the new value. The upsert makes the
// increment and the read a single statement, so concurrent workers can
// never both observe a count under the cap and both proceed.
func (r *SQLRepository) IncrementDailyActionCount(ctx context.Context, tenantID string, ruleID string, day string, delta int64) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO daily_action_counts (tenant_id, rule_id, day, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, rule_id, day) DO UPDATE SET
			count = daily_action_counts.count + excluded.count
		RETURNING count
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID, day, delta).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// oneRow maps a zero-row UPDATE or DELETE to ErrNotFound.
func oneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
