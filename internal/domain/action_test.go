package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBudgetParamsApply(t *testing.T) {
	tests := []struct {
		name    string
		params  BudgetParams
		current float64
		want    float64
	}{
		{"PercentIncrease", BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: 20}, 100, 120},
		{"PercentDecrease", BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: -25}, 100, 75},
		{"FixedIncrease", BudgetParams{ChangeType: BudgetChangeFixed, ChangeValue: 50}, 100, 150},
		{"FixedDecrease", BudgetParams{ChangeType: BudgetChangeFixed, ChangeValue: -30}, 100, 70},
		{"FixedZeroChange", BudgetParams{ChangeType: BudgetChangeFixed, ChangeValue: 0}, 100, 100},
		{"ClampToMax", BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: 50, MaxBudget: 120}, 100, 120},
		{"ClampToMin", BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: -90, MinBudget: 40}, 100, 40},
		{"NoBoundsNoClamp", BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: -90}, 100, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Apply(tt.current); got != tt.want {
				t.Errorf("Apply(%.2f) = %.2f, want %.2f", tt.current, got, tt.want)
			}
		})
	}
}

func TestBudgetParamsValidate(t *testing.T) {
	p := BudgetParams{ChangeType: "half", ChangeValue: 10}
	if err := p.Validate(); err == nil {
		t.Error("expected error for unknown change type")
	}

	p = BudgetParams{ChangeType: BudgetChangePercent, ChangeValue: 10, MinBudget: 100, MaxBudget: 50}
	if err := p.Validate(); err == nil {
		t.Error("expected error for min above max")
	}
}

func TestBidModifierParams(t *testing.T) {
	t.Run("RangeEnforced", func(t *testing.T) {
		p := BidModifierParams{DeviceType: "mobile", BidModifierPercent: -95}
		if err := p.Validate(); err == nil {
			t.Error("expected error for -95, below the accepted range")
		}
		p.BidModifierPercent = 1000
		if err := p.Validate(); err == nil {
			t.Error("expected error for 1000, above the accepted range")
		}
	})

	t.Run("ExclusionSentinelAccepted", func(t *testing.T) {
		p := BidModifierParams{DeviceType: "mobile", BidModifierPercent: BidModifierExclude}
		if err := p.Validate(); err != nil {
			t.Errorf("-100 should pass range validation: %v", err)
		}
		if err := p.validateDimension(ActionAdjustDeviceBid); err != nil {
			t.Errorf("-100 should be valid for device bids: %v", err)
		}
	})

	t.Run("ExclusionSentinelDeviceOnly", func(t *testing.T) {
		p := BidModifierParams{LocationID: "us-ca", BidModifierPercent: BidModifierExclude}
		if err := p.validateDimension(ActionAdjustLocationBid); err == nil {
			t.Error("-100 should be rejected for location bids")
		}
	})

	t.Run("DimensionValueRequired", func(t *testing.T) {
		p := BidModifierParams{BidModifierPercent: 20}
		if err := p.validateDimension(ActionAdjustKeywordBid); err == nil {
			t.Error("expected error for keyword bid without keywordId")
		}
	})

	t.Run("Modifier", func(t *testing.T) {
		tests := []struct {
			pct  float64
			want float64
		}{
			{0, 1.0},
			{50, 1.5},
			{-50, 0.5},
			{900, 10.0},
			{-90, 0.1},
		}
		for _, tt := range tests {
			p := BidModifierParams{BidModifierPercent: tt.pct}
			if got := p.Modifier(); got != tt.want {
				t.Errorf("Modifier(%v) = %v, want %v", tt.pct, got, tt.want)
			}
		}
	})
}

func TestActionDecodeParams(t *testing.T) {
	t.Run("PauseNeedsNoParams", func(t *testing.T) {
		a := Action{ActionType: ActionPauseEntity}
		if _, err := a.DecodeParams(); err != nil {
			t.Errorf("pause should decode without params: %v", err)
		}
	})

	t.Run("BudgetRequiresParams", func(t *testing.T) {
		a := Action{ActionType: ActionAdjustBudget}
		if _, err := a.DecodeParams(); !errors.Is(err, ErrInvalidActionParams) {
			t.Errorf("expected ErrInvalidActionParams, got %v", err)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		a := Action{ActionType: ActionAdjustBudget, Params: json.RawMessage(`{`)}
		if _, err := a.DecodeParams(); !errors.Is(err, ErrInvalidActionParams) {
			t.Errorf("expected ErrInvalidActionParams, got %v", err)
		}
	})

	t.Run("TypedDecode", func(t *testing.T) {
		a := Action{
			ActionType: ActionAddNegativeKeyword,
			Params:     json.RawMessage(`{"keywordText":"free stuff","matchType":"phrase","level":"campaign"}`),
		}
		p, err := a.DecodeParams()
		if err != nil {
			t.Fatalf("DecodeParams failed: %v", err)
		}
		kw, ok := p.(*NegativeKeywordParams)
		if !ok {
			t.Fatalf("expected *NegativeKeywordParams, got %T", p)
		}
		if kw.KeywordText != "free stuff" {
			t.Errorf("keywordText = %q", kw.KeywordText)
		}
	})

	t.Run("UnknownActionType", func(t *testing.T) {
		a := Action{ActionType: "explode"}
		if _, err := a.DecodeParams(); err == nil {
			t.Error("expected error for unknown action type")
		}
	})
}

func TestActionValidateNotification(t *testing.T) {
	a := Action{ActionType: ActionSendNotification}
	if err := a.Validate(); err == nil {
		t.Error("expected error for notification without channels")
	}

	a.NotificationChannels = []NotificationChannel{ChannelInApp, ChannelEmail}
	if err := a.Validate(); err != nil {
		t.Errorf("valid notification rejected: %v", err)
	}

	a.NotificationChannels = []NotificationChannel{"fax"}
	if err := a.Validate(); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestBiddingStrategyParams(t *testing.T) {
	p := BiddingStrategyParams{Strategy: "target_cpa"}
	if err := p.Validate(); err == nil {
		t.Error("target_cpa without targetValue should fail")
	}

	p = BiddingStrategyParams{Strategy: "maximize_conversions"}
	if err := p.Validate(); err != nil {
		t.Errorf("maximize_conversions needs no target: %v", err)
	}
}
