package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

func testRepo(t *testing.T) domain.Repository {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testRule(id, tenantID string) *domain.Rule {
	return &domain.Rule{
		ID:             id,
		TenantID:       tenantID,
		Name:           "pause low roas",
		EntityType:     domain.EntityCampaign,
		Platform:       domain.PlatformFacebook,
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5, TimeWindowDays: 7},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100, TimeWindowDays: 7},
		},
		Actions: []domain.Action{
			{ActionType: domain.ActionPauseEntity},
			{ActionType: domain.ActionAdjustBudget, Params: json.RawMessage(`{"budgetChangeType":"percent","budgetChangeValue":-20}`)},
		},
		CheckFrequencyMinutes: 60,
		MaxDailyActions:       5,
		Enabled:               true,
		CreatedAt:             time.Now().UTC().Truncate(time.Second),
		UpdatedAt:             time.Now().UTC().Truncate(time.Second),
	}
}

func TestRuleCRUD(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		rule := testRule("rule-001", "tenant-001")
		if err := repo.SaveRule(ctx, "tenant-001", rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, "tenant-001", "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != rule.Name {
			t.Errorf("name = %q, want %q", got.Name, rule.Name)
		}
		if len(got.Conditions) != 2 {
			t.Errorf("conditions = %d, want 2", len(got.Conditions))
		}
		if len(got.Actions) != 2 {
			t.Errorf("actions = %d, want 2", len(got.Actions))
		}
		if got.Actions[1].ActionType != domain.ActionAdjustBudget {
			t.Errorf("second action = %s, want adjust_budget", got.Actions[1].ActionType)
		}
		if !got.LastRunAt.IsZero() {
			t.Errorf("expected zero lastRunAt for a rule that never ran, got %v", got.LastRunAt)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rule := testRule("rule-001", "tenant-001")
		rule.Name = "renamed"
		if err := repo.SaveRule(ctx, "tenant-001", rule); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		got, err := repo.GetRule(ctx, "tenant-001", "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != "renamed" {
			t.Errorf("name = %q after upsert, want renamed", got.Name)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, "tenant-001", "no-such-rule"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, "tenant-002", "rule-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}

		other := testRule("rule-002", "tenant-002")
		if err := repo.SaveRule(ctx, "tenant-002", other); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		mine, err := repo.ListRules(ctx, "tenant-001")
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		for _, r := range mine {
			if r.TenantID != "tenant-001" {
				t.Errorf("leaked rule from tenant %s", r.TenantID)
			}
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRule(ctx, "", testRule("rule-003", "")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SetEnabled", func(t *testing.T) {
		if err := repo.SetRuleEnabled(ctx, "tenant-001", "rule-001", false); err != nil {
			t.Fatalf("SetRuleEnabled failed: %v", err)
		}
		got, _ := repo.GetRule(ctx, "tenant-001", "rule-001")
		if got.Enabled {
			t.Error("rule still enabled after disable")
		}
		if err := repo.SetRuleEnabled(ctx, "tenant-001", "missing", true); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TouchRuleRun", func(t *testing.T) {
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		if err := repo.TouchRuleRun(ctx, "tenant-001", "rule-001", at); err != nil {
			t.Fatalf("TouchRuleRun failed: %v", err)
		}
		got, _ := repo.GetRule(ctx, "tenant-001", "rule-001")
		if !got.LastRunAt.Equal(at) {
			t.Errorf("lastRunAt = %v, want %v", got.LastRunAt, at)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, "tenant-001", "rule-001"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, "tenant-001", "rule-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestListEnabledRules(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	a := testRule("rule-a", "tenant-001")
	b := testRule("rule-b", "tenant-002")
	c := testRule("rule-c", "tenant-002")
	c.Enabled = false

	for _, r := range []*domain.Rule{a, b, c} {
		if err := repo.SaveRule(ctx, r.TenantID, r); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}

	got, err := repo.ListEnabledRules(ctx)
	if err != nil {
		t.Fatalf("ListEnabledRules failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 enabled rules across tenants, got %d", len(got))
	}
	tenants := map[string]bool{}
	for _, r := range got {
		if !r.Enabled {
			t.Errorf("rule %s is disabled", r.ID)
		}
		tenants[r.TenantID] = true
	}
	if !tenants["tenant-001"] || !tenants["tenant-002"] {
		t.Error("enabled listing should span tenants")
	}
}

func TestExecutionLog(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &domain.ExecutionRecord{
			ID:         fmt.Sprintf("exec-%03d", i+1),
			TenantID:   "tenant-001",
			RuleID:     "rule-001",
			EntityID:   "camp-42",
			EntityType: domain.EntityCampaign,
			Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Second),
			Matched:    true,
			MatchedConditions: []domain.ConditionTrace{
				{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5, ObservedValue: 0.8, Matched: true},
			},
			ActionsAttempted: 1,
			ActionsApplied:   1,
			ActionResults: []domain.ActionResult{
				{ActionType: domain.ActionPauseEntity, Outcome: domain.OutcomeApplied},
			},
			Outcome: domain.OutcomeApplied,
		}
		if err := repo.SaveExecution(ctx, "tenant-001", rec); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	t.Run("ListByRule", func(t *testing.T) {
		recs, err := repo.ListExecutions(ctx, "tenant-001", "rule-001", 0)
		if err != nil {
			t.Fatalf("ListExecutions failed: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("expected 3 records, got %d", len(recs))
		}
		if len(recs[0].MatchedConditions) != 1 {
			t.Errorf("condition trace lost: %+v", recs[0])
		}
		if recs[0].ActionResults[0].ActionType != domain.ActionPauseEntity {
			t.Errorf("action result lost: %+v", recs[0].ActionResults)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		recs, err := repo.ListExecutions(ctx, "tenant-001", "", 2)
		if err != nil {
			t.Fatalf("ListExecutions failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("expected 2 records with limit, got %d", len(recs))
		}
	})

	t.Run("OtherTenantEmpty", func(t *testing.T) {
		recs, err := repo.ListExecutions(ctx, "tenant-002", "rule-001", 0)
		if err != nil {
			t.Fatalf("ListExecutions failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no records for other tenant, got %d", len(recs))
		}
	})
}

func TestApprovalQueue(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	approval := &domain.ActionApproval{
		ID:       "appr-001",
		TenantID: "tenant-001",
		RuleID:   "rule-001",
		EntityID: "camp-42",
		Action: domain.Action{
			ActionType: domain.ActionAdjustBudget,
			Params:     json.RawMessage(`{"budgetChangeType":"percent","budgetChangeValue":-20}`),
		},
		Payload:   map[string]any{"currentBudget": 100.0, "newBudget": 80.0},
		Status:    domain.ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.SaveApproval(ctx, "tenant-001", approval); err != nil {
		t.Fatalf("SaveApproval failed: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetApproval(ctx, "tenant-001", "appr-001")
		if err != nil {
			t.Fatalf("GetApproval failed: %v", err)
		}
		if got.Status != domain.ApprovalPending {
			t.Errorf("status = %s, want pending", got.Status)
		}
		if got.Action.ActionType != domain.ActionAdjustBudget {
			t.Errorf("action lost: %+v", got.Action)
		}
		if got.Payload["newBudget"] != 80.0 {
			t.Errorf("payload lost: %+v", got.Payload)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		pending, err := repo.ListApprovals(ctx, "tenant-001", domain.ApprovalPending)
		if err != nil {
			t.Fatalf("ListApprovals failed: %v", err)
		}
		if len(pending) != 1 {
			t.Errorf("expected 1 pending approval, got %d", len(pending))
		}
		rejected, err := repo.ListApprovals(ctx, "tenant-001", domain.ApprovalRejected)
		if err != nil {
			t.Fatalf("ListApprovals failed: %v", err)
		}
		if len(rejected) != 0 {
			t.Errorf("expected no rejected approvals, got %d", len(rejected))
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		if err := repo.UpdateApprovalStatus(ctx, "tenant-001", "appr-001", domain.ApprovalApproved, "ops@example.com"); err != nil {
			t.Fatalf("UpdateApprovalStatus failed: %v", err)
		}
		got, _ := repo.GetApproval(ctx, "tenant-001", "appr-001")
		if got.Status != domain.ApprovalApproved {
			t.Errorf("status = %s, want approved", got.Status)
		}
		if got.Reviewer != "ops@example.com" {
			t.Errorf("reviewer = %q", got.Reviewer)
		}
		if got.ReviewedAt.IsZero() {
			t.Error("reviewedAt not set")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := repo.UpdateApprovalStatus(ctx, "tenant-001", "no-such", domain.ApprovalRejected, "ops")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func testIssue(id, tenantID string) *domain.Issue {
	return &domain.Issue{
		ID:          id,
		TenantID:    tenantID,
		OrderID:     "order-100",
		SKU:         "WIDGET-BLUE",
		ProductName: "Blue Widget",
		Quantity:    2,
		UnitPrice:   50,
		UnitCost:    20,
		Shipping:    0,
		IssueType:   domain.IssueInventoryShortage,
		Status:      domain.IssuePending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestIssueLifecycle(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	issue := testIssue("issue-001", "tenant-001")
	if err := repo.SaveIssue(ctx, "tenant-001", issue); err != nil {
		t.Fatalf("SaveIssue failed: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetIssue(ctx, "tenant-001", "issue-001")
		if err != nil {
			t.Fatalf("GetIssue failed: %v", err)
		}
		if got.SKU != "WIDGET-BLUE" || got.Quantity != 2 {
			t.Errorf("issue fields lost: %+v", got)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		pending, err := repo.ListIssues(ctx, "tenant-001", domain.IssuePending)
		if err != nil {
			t.Fatalf("ListIssues failed: %v", err)
		}
		if len(pending) != 1 {
			t.Errorf("expected 1 pending issue, got %d", len(pending))
		}
	})

	t.Run("Transition", func(t *testing.T) {
		from := []domain.IssueStatus{domain.IssuePending, domain.IssueInReview}
		if err := repo.TransitionIssueStatus(ctx, "tenant-001", "issue-001", from, domain.IssueResolved); err != nil {
			t.Fatalf("TransitionIssueStatus failed: %v", err)
		}
		got, _ := repo.GetIssue(ctx, "tenant-001", "issue-001")
		if got.Status != domain.IssueResolved {
			t.Errorf("status = %s, want resolved", got.Status)
		}
	})

	t.Run("DoubleSubmission", func(t *testing.T) {
		from := []domain.IssueStatus{domain.IssuePending, domain.IssueInReview}
		err := repo.TransitionIssueStatus(ctx, "tenant-001", "issue-001", from, domain.IssueResolved)
		if !errors.Is(err, domain.ErrIssueAlreadyResolved) {
			t.Errorf("expected ErrIssueAlreadyResolved, got %v", err)
		}
	})

	t.Run("TransitionMissing", func(t *testing.T) {
		from := []domain.IssueStatus{domain.IssuePending}
		err := repo.TransitionIssueStatus(ctx, "tenant-001", "no-such", from, domain.IssueResolved)
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestResolutions(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	res := &domain.Resolution{
		ID:                "res-001",
		TenantID:          "tenant-001",
		IssueID:           "issue-001",
		Type:              domain.ResolutionSubstitution,
		PriceAdjustment:   -5,
		CustomerRefund:    10,
		InvoiceAdjustment: 4,
		Details:           map[string]any{"substituteSku": "WIDGET-GREEN"},
		CreatedAt:         time.Now().UTC(),
	}
	if err := repo.SaveResolution(ctx, "tenant-001", res); err != nil {
		t.Fatalf("SaveResolution failed: %v", err)
	}

	got, err := repo.ListResolutions(ctx, "tenant-001", "issue-001")
	if err != nil {
		t.Fatalf("ListResolutions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(got))
	}
	if got[0].CustomerRefund != 10 {
		t.Errorf("customerRefund = %v, want 10", got[0].CustomerRefund)
	}
	if got[0].Details["substituteSku"] != "WIDGET-GREEN" {
		t.Errorf("details lost: %+v", got[0].Details)
	}
}

func TestNotifications(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	n := &domain.Notification{
		ID:        "notif-001",
		TenantID:  "tenant-001",
		RuleID:    "rule-001",
		EntityID:  "camp-42",
		Message:   "rule matched",
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.SaveNotification(ctx, "tenant-001", n); err != nil {
		t.Fatalf("SaveNotification failed: %v", err)
	}

	got, err := repo.ListNotifications(ctx, "tenant-001", 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Message != "rule matched" {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Read {
		t.Error("new notification should be unread")
	}
}

func TestIncrementDailyActionCount(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	day := "2025-06-01"

	steps := []struct {
		delta int64
		want  int64
	}{
		{1, 1},
		{1, 2},
		{-1, 1},
		{0, 1},
	}
	for _, s := range steps {
		got, err := repo.IncrementDailyActionCount(ctx, "tenant-001", "rule-001", day, s.delta)
		if err != nil {
			t.Fatalf("IncrementDailyActionCount(%d) failed: %v", s.delta, err)
		}
		if got != s.want {
			t.Errorf("count after delta %d = %d, want %d", s.delta, got, s.want)
		}
	}

	t.Run("ScopedPerRuleAndDay", func(t *testing.T) {
		got, err := repo.IncrementDailyActionCount(ctx, "tenant-001", "rule-002", day, 1)
		if err != nil {
			t.Fatalf("IncrementDailyActionCount failed: %v", err)
		}
		if got != 1 {
			t.Errorf("new rule counter = %d, want 1", got)
		}
		got, err = repo.IncrementDailyActionCount(ctx, "tenant-001", "rule-001", "2025-06-02", 1)
		if err != nil {
			t.Fatalf("IncrementDailyActionCount failed: %v", err)
		}
		if got != 1 {
			t.Errorf("new day counter = %d, want 1", got)
		}
	})
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{"sqlite", "SELECT * FROM rules WHERE id = ?", "SELECT * FROM rules WHERE id = ?"},
		{"postgres", "SELECT * FROM rules WHERE id = ?", "SELECT * FROM rules WHERE id = $1"},
		{"postgres", "INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"postgres", "no placeholders", "no placeholders"},
	}

	for _, tt := range tests {
		r := &SQLRepository{driver: tt.driver}
		if got := r.rebind(tt.query); got != tt.want {
			t.Errorf("rebind(%s, %q) = %q, want %q", tt.driver, tt.query, got, tt.want)
		}
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
