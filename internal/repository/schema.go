package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    entity_type TEXT NOT NULL,
    platform TEXT NOT NULL,
    ad_account_id TEXT,
    condition_logic TEXT NOT NULL,
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    check_frequency_minutes INTEGER NOT NULL,
    max_daily_actions INTEGER NOT NULL,
    require_approval INTEGER NOT NULL DEFAULT 0,
    dry_run INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_run_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
`

const schemaExecutionRecords = `
CREATE TABLE IF NOT EXISTS execution_records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    matched INTEGER NOT NULL,
    matched_conditions TEXT,
    actions_attempted INTEGER NOT NULL DEFAULT 0,
    actions_applied INTEGER NOT NULL DEFAULT 0,
    action_results TEXT,
    dry_run INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_tenant ON execution_records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_executions_rule ON execution_records(tenant_id, rule_id);
CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON execution_records(tenant_id, timestamp);
`

const schemaActionApprovals = `
CREATE TABLE IF NOT EXISTS action_approvals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload TEXT,
    status TEXT NOT NULL,
    reviewer TEXT,
    created_at TIMESTAMP NOT NULL,
    reviewed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_approvals_tenant ON action_approvals(tenant_id);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON action_approvals(tenant_id, status);
`

const schemaIssues = `
CREATE TABLE IF NOT EXISTS issues (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    sku TEXT NOT NULL,
    product_name TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price REAL NOT NULL,
    unit_cost REAL NOT NULL,
    shipping REAL NOT NULL DEFAULT 0,
    issue_type TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_issues_tenant ON issues(tenant_id);
CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_issues_order ON issues(tenant_id, order_id);
`

const schemaResolutions = `
CREATE TABLE IF NOT EXISTS resolutions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    issue_id TEXT NOT NULL,
    resolution_type TEXT NOT NULL,
    price_adjustment REAL NOT NULL DEFAULT 0,
    customer_refund REAL NOT NULL DEFAULT 0,
    invoice_adjustment REAL NOT NULL DEFAULT 0,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_tenant ON resolutions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_resolutions_issue ON resolutions(tenant_id, issue_id);
`

const schemaNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_id TEXT,
    entity_id TEXT,
    message TEXT NOT NULL,
    recipient TEXT,
    is_read INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications(tenant_id);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(tenant_id, created_at);
`

// schemaDailyActionCounts backs the durable daily-cap counter. One row
// per rule per UTC day; the upsert increment is the atomicity point.
const schemaDailyActionCounts = `
CREATE TABLE IF NOT EXISTS daily_action_counts (
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    day TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, rule_id, day)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaExecutionRecords,
		schemaActionApprovals,
		schemaIssues,
		schemaResolutions,
		schemaNotifications,
		schemaDailyActionCounts,
	}
}
