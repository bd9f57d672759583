package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// stubMetrics serves canned values and records which metrics were asked for.
type stubMetrics struct {
	values  map[domain.MetricType]float64
	windows []int
	calls   []domain.MetricType
}

func (s *stubMetrics) GetMetric(_ context.Context, _ string, _ domain.EntityRef, metric domain.MetricType, windowDays int) (float64, error) {
	s.calls = append(s.calls, metric)
	s.windows = append(s.windows, windowDays)
	v, ok := s.values[metric]
	if !ok {
		return 0, domain.ErrMetricUnavailable
	}
	return v, nil
}

func testEntity() domain.EntityRef {
	return domain.EntityRef{
		ID:       "camp-42",
		Type:     domain.EntityCampaign,
		Platform: domain.PlatformFacebook,
	}
}

func ptr(f float64) *float64 { return &f }

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		op        domain.Operator
		observed  float64
		threshold float64
		max       *float64
		want      bool
	}{
		{"GreaterThan", domain.OpGreaterThan, 2, 1, nil, true},
		{"GreaterThanEqualFails", domain.OpGreaterThan, 1, 1, nil, false},
		{"LessThan", domain.OpLessThan, 0.5, 1, nil, true},
		{"GreaterOrEqualBoundary", domain.OpGreaterOrEqual, 1, 1, nil, true},
		{"LessOrEqualBoundary", domain.OpLessOrEqual, 1, 1, nil, true},
		{"EqualsExact", domain.OpEquals, 1.5, 1.5, nil, true},
		{"EqualsWithinEpsilon", domain.OpEquals, 1.5 + 1e-12, 1.5, nil, true},
		{"EqualsOutsideEpsilon", domain.OpEquals, 1.5001, 1.5, nil, false},
		{"NotEquals", domain.OpNotEquals, 2, 1.5, nil, true},
		{"BetweenInside", domain.OpBetween, 2, 1, ptr(3), true},
		{"BetweenLowerBoundInclusive", domain.OpBetween, 1, 1, ptr(3), true},
		{"BetweenUpperBoundInclusive", domain.OpBetween, 3, 1, ptr(3), true},
		{"BetweenOutside", domain.OpBetween, 3.1, 1, ptr(3), false},
		{"BetweenMissingMax", domain.OpBetween, 2, 1, nil, false},
		{"UnknownOperator", domain.Operator("approximately"), 1, 1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.op, tt.observed, tt.threshold, tt.max); got != tt.want {
				t.Errorf("Compare(%s, %v, %v) = %v, want %v", tt.op, tt.observed, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestEvaluateRuleAnd(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{
		domain.MetricROAS:  0.8,
		domain.MetricSpend: 150,
	}}
	e, err := NewEvaluator(metrics)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5, TimeWindowDays: 7},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100, TimeWindowDays: 14},
		},
	}

	eval := e.EvaluateRule(context.Background(), rule, testEntity())
	if !eval.Matched {
		t.Error("both conditions hold, rule should match")
	}
	if len(eval.Traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(eval.Traces))
	}
	if eval.Traces[0].ObservedValue != 0.8 {
		t.Errorf("observed = %v, want 0.8", eval.Traces[0].ObservedValue)
	}
	if metrics.windows[0] != 7 || metrics.windows[1] != 14 {
		t.Errorf("windows passed to provider = %v", metrics.windows)
	}
}

func TestEvaluateRuleAndShortCircuit(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{
		domain.MetricROAS:  2.5,
		domain.MetricSpend: 150,
	}}
	e, _ := NewEvaluator(metrics)

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100},
		},
	}

	eval := e.EvaluateRule(context.Background(), rule, testEntity())
	if eval.Matched {
		t.Error("first condition fails, rule should not match")
	}
	if len(eval.Traces) != 1 {
		t.Errorf("AND should stop at the first failed condition, got %d traces", len(eval.Traces))
	}
	if len(metrics.calls) != 1 {
		t.Errorf("second metric should not be fetched, got calls %v", metrics.calls)
	}
}

func TestEvaluateRuleOrShortCircuit(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{
		domain.MetricROAS:  0.8,
		domain.MetricSpend: 50,
	}}
	e, _ := NewEvaluator(metrics)

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicOr,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100},
		},
	}

	eval := e.EvaluateRule(context.Background(), rule, testEntity())
	if !eval.Matched {
		t.Error("first condition holds, OR rule should match")
	}
	if len(eval.Traces) != 1 {
		t.Errorf("OR should stop at the first matched condition, got %d traces", len(eval.Traces))
	}
}

func TestEvaluateRuleOrAllFail(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{
		domain.MetricROAS:  2.0,
		domain.MetricSpend: 50,
	}}
	e, _ := NewEvaluator(metrics)

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicOr,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100},
		},
	}

	eval := e.EvaluateRule(context.Background(), rule, testEntity())
	if eval.Matched {
		t.Error("no condition holds, OR rule should not match")
	}
	if len(eval.Traces) != 2 {
		t.Errorf("all OR conditions should be traced, got %d", len(eval.Traces))
	}
}

func TestEvaluateRuleMetricUnavailable(t *testing.T) {
	metrics := &stubMetrics{values: map[domain.MetricType]float64{}}
	e, _ := NewEvaluator(metrics)

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5},
		},
	}

	eval := e.EvaluateRule(context.Background(), rule, testEntity())
	if eval.Matched {
		t.Error("unavailable metric should not match")
	}
	if eval.Traces[0].Reason == "" {
		t.Error("trace should carry the fetch failure reason")
	}
	if !strings.Contains(eval.Traces[0].Reason, "metric fetch failed") {
		t.Errorf("reason = %q", eval.Traces[0].Reason)
	}
}

// fixedMetrics serves canned values without recording calls, so the
// benchmarks measure evaluation, not bookkeeping.
type fixedMetrics map[domain.MetricType]float64

func (m fixedMetrics) GetMetric(_ context.Context, _ string, _ domain.EntityRef, metric domain.MetricType, _ int) (float64, error) {
	v, ok := m[metric]
	if !ok {
		return 0, domain.ErrMetricUnavailable
	}
	return v, nil
}

func BenchmarkEvaluateRule(b *testing.B) {
	metrics := fixedMetrics{
		domain.MetricROAS:  0.8,
		domain.MetricSpend: 150,
	}
	e, err := NewEvaluator(metrics)
	if err != nil {
		b.Fatalf("NewEvaluator failed: %v", err)
	}

	rule := &domain.Rule{
		TenantID:       "tenant-001",
		ConditionLogic: domain.LogicAnd,
		Conditions: []domain.Condition{
			{MetricType: domain.MetricROAS, Operator: domain.OpLessThan, ThresholdValue: 1.5, TimeWindowDays: 7},
			{MetricType: domain.MetricSpend, Operator: domain.OpGreaterThan, ThresholdValue: 100, TimeWindowDays: 7},
		},
	}
	entity := testEntity()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.EvaluateRule(ctx, rule, entity)
	}
}

func BenchmarkEvaluateExpression(b *testing.B) {
	metrics := fixedMetrics{
		domain.MetricROAS:  0.8,
		domain.MetricSpend: 150,
	}
	e, err := NewEvaluator(metrics)
	if err != nil {
		b.Fatalf("NewEvaluator failed: %v", err)
	}

	rule := customRule("roas < 1.5 && spend > 100.0")
	entity := testEntity()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.EvaluateRule(ctx, rule, entity)
	}
}
