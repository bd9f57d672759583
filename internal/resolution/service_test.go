package resolution

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/repository"
)

// captureBus records published events.
type captureBus struct {
	topics []string
}

func (b *captureBus) Publish(_ context.Context, _ string, topic string, _ []byte) error {
	b.topics = append(b.topics, topic)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *captureBus) Request(context.Context, string, string, []byte) ([]byte, error) {
	return nil, nil
}

func (b *captureBus) Ping(context.Context) error { return nil }
func (b *captureBus) Close() error               { return nil }

func testService(t *testing.T) (*Service, domain.Repository, *captureBus) {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: f.Name()})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	bus := &captureBus{}
	return NewService(repo, bus), repo, bus
}

func seedIssue(t *testing.T, repo domain.Repository, issueType domain.IssueType) *domain.Issue {
	t.Helper()
	issue := &domain.Issue{
		ID:          "issue-001",
		TenantID:    "tenant-001",
		OrderID:     "order-100",
		SKU:         "WIDGET-BLUE",
		ProductName: "Blue Widget",
		Quantity:    2,
		UnitPrice:   50,
		UnitCost:    20,
		IssueType:   issueType,
		Status:      domain.IssuePending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := repo.SaveIssue(context.Background(), issue.TenantID, issue); err != nil {
		t.Fatalf("SaveIssue failed: %v", err)
	}
	return issue
}

func TestExecuteSubstitution(t *testing.T) {
	svc, repo, bus := testService(t)
	ctx := context.Background()
	seedIssue(t, repo, domain.IssueInventoryShortage)

	t.Run("MissingSKU", func(t *testing.T) {
		_, err := svc.ExecuteSubstitution(ctx, "tenant-001", "issue-001", SubstitutionRequest{ProductName: "Green Widget"})
		var ve *ErrValidation
		if !errors.As(err, &ve) || ve.Field != "sku" {
			t.Errorf("expected sku validation error, got %v", err)
		}
	})

	t.Run("NegativePrice", func(t *testing.T) {
		_, err := svc.ExecuteSubstitution(ctx, "tenant-001", "issue-001", SubstitutionRequest{
			SKU: "WIDGET-GREEN", ProductName: "Green Widget", UnitPrice: -1,
		})
		var ve *ErrValidation
		if !errors.As(err, &ve) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("Resolves", func(t *testing.T) {
		res, err := svc.ExecuteSubstitution(ctx, "tenant-001", "issue-001", SubstitutionRequest{
			SKU: "WIDGET-GREEN", ProductName: "Green Widget", UnitPrice: 45, UnitCost: 22,
		})
		if err != nil {
			t.Fatalf("ExecuteSubstitution failed: %v", err)
		}
		if res.CustomerRefund != 10 {
			t.Errorf("customerRefund = %.2f, want 10.00", res.CustomerRefund)
		}
		if res.InvoiceAdjustment != 4 {
			t.Errorf("invoiceAdjustment = %.2f, want 4.00", res.InvoiceAdjustment)
		}
		if res.Details["substituteSku"] != "WIDGET-GREEN" {
			t.Errorf("details = %+v", res.Details)
		}

		issue, _ := repo.GetIssue(ctx, "tenant-001", "issue-001")
		if issue.Status != domain.IssueResolved {
			t.Errorf("issue status = %s, want resolved", issue.Status)
		}
		if len(bus.topics) != 1 || bus.topics[0] != domain.TopicIssueResolved {
			t.Errorf("published topics = %v", bus.topics)
		}
	})

	t.Run("DoubleSubmission", func(t *testing.T) {
		_, err := svc.ExecuteSubstitution(ctx, "tenant-001", "issue-001", SubstitutionRequest{
			SKU: "WIDGET-RED", ProductName: "Red Widget", UnitPrice: 48,
		})
		if !errors.Is(err, domain.ErrIssueAlreadyResolved) {
			t.Errorf("expected ErrIssueAlreadyResolved, got %v", err)
		}

		// The losing submission must not leave a second record behind.
		list, _ := repo.ListResolutions(ctx, "tenant-001", "issue-001")
		if len(list) != 1 {
			t.Errorf("expected 1 resolution record, got %d", len(list))
		}
	})
}

func TestExecuteRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("ZeroMeansFullLineValue", func(t *testing.T) {
		svc, repo, _ := testService(t)
		seedIssue(t, repo, domain.IssueQualityDefect)

		res, err := svc.ExecuteRefund(ctx, "tenant-001", "issue-001", 0)
		if err != nil {
			t.Fatalf("ExecuteRefund failed: %v", err)
		}
		if res.CustomerRefund != 100 {
			t.Errorf("customerRefund = %.2f, want 100.00", res.CustomerRefund)
		}
		if res.InvoiceAdjustment != -40 {
			t.Errorf("invoiceAdjustment = %.2f, want -40.00", res.InvoiceAdjustment)
		}
	})

	t.Run("PartialAmount", func(t *testing.T) {
		svc, repo, _ := testService(t)
		seedIssue(t, repo, domain.IssueQualityDefect)

		res, err := svc.ExecuteRefund(ctx, "tenant-001", "issue-001", 25)
		if err != nil {
			t.Fatalf("ExecuteRefund failed: %v", err)
		}
		if res.CustomerRefund != 25 {
			t.Errorf("customerRefund = %.2f, want 25.00", res.CustomerRefund)
		}
	})

	t.Run("OverLineValue", func(t *testing.T) {
		svc, repo, _ := testService(t)
		seedIssue(t, repo, domain.IssueQualityDefect)

		_, err := svc.ExecuteRefund(ctx, "tenant-001", "issue-001", 500)
		var ve *ErrValidation
		if !errors.As(err, &ve) || ve.Field != "amount" {
			t.Errorf("expected amount validation error, got %v", err)
		}
	})
}

func TestExecuteCancellation(t *testing.T) {
	svc, repo, _ := testService(t)
	seedIssue(t, repo, domain.IssueDiscontinued)

	res, err := svc.ExecuteCancellation(context.Background(), "tenant-001", "issue-001")
	if err != nil {
		t.Fatalf("ExecuteCancellation failed: %v", err)
	}
	if res.CustomerRefund != 100 {
		t.Errorf("customerRefund = %.2f, want 100.00", res.CustomerRefund)
	}
	if res.InvoiceAdjustment != -40 {
		t.Errorf("invoiceAdjustment = %.2f, want -40.00", res.InvoiceAdjustment)
	}
}

func TestExecuteDelayAcceptance(t *testing.T) {
	svc, repo, _ := testService(t)
	ctx := context.Background()
	seedIssue(t, repo, domain.IssueShippingDelay)

	t.Run("ZeroDate", func(t *testing.T) {
		_, err := svc.ExecuteDelayAcceptance(ctx, "tenant-001", "issue-001", time.Time{})
		var ve *ErrValidation
		if !errors.As(err, &ve) || ve.Field != "newShipDate" {
			t.Errorf("expected newShipDate validation error, got %v", err)
		}
	})

	t.Run("PastDate", func(t *testing.T) {
		_, err := svc.ExecuteDelayAcceptance(ctx, "tenant-001", "issue-001", time.Now().Add(-24*time.Hour))
		var ve *ErrValidation
		if !errors.As(err, &ve) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("Resolves", func(t *testing.T) {
		ship := time.Now().Add(7 * 24 * time.Hour)
		res, err := svc.ExecuteDelayAcceptance(ctx, "tenant-001", "issue-001", ship)
		if err != nil {
			t.Fatalf("ExecuteDelayAcceptance failed: %v", err)
		}
		if res.CustomerRefund != 0 || res.InvoiceAdjustment != 0 {
			t.Errorf("delay should carry no financial deltas: %+v", res)
		}
		if res.Details["newShipDate"] == "" {
			t.Error("details should record the accepted ship date")
		}
	})
}

func TestProposeMissingIssue(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.Propose(context.Background(), "tenant-001", "no-such")
	if err != repository.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
