package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

func TestValidateExpression(t *testing.T) {
	e, err := NewEvaluator(&stubMetrics{})
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	t.Run("ValidBool", func(t *testing.T) {
		if err := e.ValidateExpression("roas < 1.5 && spend > 100.0"); err != nil {
			t.Errorf("valid expression rejected: %v", err)
		}
	})

	t.Run("NonBoolResult", func(t *testing.T) {
		err := e.ValidateExpression("spend + 1.0")
		if err == nil {
			t.Fatal("expected error for double-typed expression")
		}
		if !strings.Contains(err.Error(), "must return bool") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		if err := e.ValidateExpression("roas <"); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		if err := e.ValidateExpression("stock_price > 1.0"); err == nil {
			t.Error("expected error for undeclared variable")
		}
	})

	t.Run("ValidationDoesNotCache", func(t *testing.T) {
		before := e.ProgramCount()
		_ = e.ValidateExpression("ctr > 2.0")
		if e.ProgramCount() != before {
			t.Error("ValidateExpression should not grow the program cache")
		}
	})
}

func customRule(expr string) *domain.Rule {
	return &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricCustomExpression, Expression: expr, TimeWindowDays: 7},
		},
	}
}

func TestEvaluateExpression(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{
		domain.MetricROAS:        0.8,
		domain.MetricSpend:       150,
		domain.MetricConversions: 3,
	}}
	e, _ := NewEvaluator(metrics)
	ctx := context.Background()

	t.Run("Matched", func(t *testing.T) {
		eval := e.EvaluateRule(ctx, customRule("roas < 1.5 && spend > 100.0"), testEntity())
		if !eval.Matched {
			t.Error("expression holds, rule should match")
		}
		if eval.Traces[0].ObservedValue != 1 {
			t.Errorf("matched expression trace should observe 1, got %v", eval.Traces[0].ObservedValue)
		}
	})

	t.Run("NotMatched", func(t *testing.T) {
		eval := e.EvaluateRule(ctx, customRule("conversions > 10.0"), testEntity())
		if eval.Matched {
			t.Error("expression does not hold, rule should not match")
		}
	})

	t.Run("EntityVariables", func(t *testing.T) {
		eval := e.EvaluateRule(ctx, customRule(`platform == "facebook" && entity_id == "camp-42"`), testEntity())
		if !eval.Matched {
			t.Errorf("entity variables should resolve: %+v", eval.Traces[0])
		}
	})

	t.Run("LazyFetch", func(t *testing.T) {
		metrics.calls = nil
		e.EvaluateRule(ctx, customRule("roas < 1.5"), testEntity())
		for _, m := range metrics.calls {
			if m != domain.MetricROAS {
				t.Errorf("fetched %s for an expression that only names roas", m)
			}
		}
	})

	t.Run("FetchFailure", func(t *testing.T) {
		eval := e.EvaluateRule(ctx, customRule("cpa < 10.0"), testEntity())
		if eval.Matched {
			t.Error("fetch failure should not match")
		}
		if !strings.Contains(eval.Traces[0].Reason, "metric fetch failed") {
			t.Errorf("reason = %q", eval.Traces[0].Reason)
		}
	})

	t.Run("ProgramCaching", func(t *testing.T) {
		before := e.ProgramCount()
		rule := customRule("ctr > 0.5")
		e.EvaluateRule(ctx, rule, testEntity())
		after := e.ProgramCount()
		if after != before+1 {
			t.Errorf("expected one new cached program, got %d -> %d", before, after)
		}
		e.EvaluateRule(ctx, rule, testEntity())
		if e.ProgramCount() != after {
			t.Error("second evaluation should reuse the cached program")
		}
	})
}
