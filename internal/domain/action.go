package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType names a mutation or notification a rule can perform.
type ActionType string

const (
	ActionPauseEntity           ActionType = "pause_entity"
	ActionResumeEntity          ActionType = "resume_entity"
	ActionAdjustBudget          ActionType = "adjust_budget"
	ActionSendNotification      ActionType = "send_notification"
	ActionChangeStatus          ActionType = "change_status"
	ActionAdjustDeviceBid       ActionType = "adjust_device_bid"
	ActionAdjustLocationBid     ActionType = "adjust_location_bid"
	ActionAdjustAudienceBid     ActionType = "adjust_audience_bid"
	ActionAdjustAdScheduleBid   ActionType = "adjust_ad_schedule_bid"
	ActionAdjustKeywordBid      ActionType = "adjust_keyword_bid"
	ActionAddNegativeKeyword    ActionType = "add_negative_keyword"
	ActionExcludePlacement      ActionType = "exclude_placement"
	ActionChangeBiddingStrategy ActionType = "change_bidding_strategy"
)

// NotificationChannel is a delivery channel for notification actions.
type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "in_app"
	ChannelEmail NotificationChannel = "email"
)

// ErrInvalidActionParams marks a malformed action configuration. Rules
// carrying one are non-executable until the owner corrects them.
var ErrInvalidActionParams = errors.New("invalid action params")

// Action is a single mutation or notification performed when a rule matches.
// Params is decoded into the action type's typed parameter struct.
type Action struct {
	ActionType           ActionType            `json:"actionType"`
	Params               json.RawMessage       `json:"actionParams,omitempty"`
	NotificationChannels []NotificationChannel `json:"notificationChannels,omitempty"`
	NotificationMessage  string                `json:"notificationMessage,omitempty"`
}

// Validate decodes and validates the action's params for its type.
func (a *Action) Validate() error {
	_, err := a.DecodeParams()
	if err != nil {
		return err
	}
	if a.ActionType == ActionSendNotification && len(a.NotificationChannels) == 0 {
		return fmt.Errorf("%w: send_notification requires at least one channel", ErrInvalidActionParams)
	}
	for _, ch := range a.NotificationChannels {
		if ch != ChannelInApp && ch != ChannelEmail {
			return fmt.Errorf("%w: unknown notification channel %q", ErrInvalidActionParams, ch)
		}
	}
	return nil
}

// DecodeParams returns the typed, validated parameter struct for the action.
// Actions without parameters return nil.
func (a *Action) DecodeParams() (any, error) {
	switch a.ActionType {
	case ActionPauseEntity, ActionResumeEntity, ActionSendNotification:
		return nil, nil
	case ActionAdjustBudget:
		return decodeParams[BudgetParams](a.Params)
	case ActionChangeStatus:
		return decodeParams[StatusParams](a.Params)
	case ActionAdjustDeviceBid, ActionAdjustLocationBid, ActionAdjustAudienceBid,
		ActionAdjustAdScheduleBid, ActionAdjustKeywordBid:
		p, err := decodeParams[BidModifierParams](a.Params)
		if err != nil {
			return nil, err
		}
		if err := p.validateDimension(a.ActionType); err != nil {
			return nil, err
		}
		return p, nil
	case ActionAddNegativeKeyword:
		return decodeParams[NegativeKeywordParams](a.Params)
	case ActionExcludePlacement:
		return decodeParams[PlacementParams](a.Params)
	case ActionChangeBiddingStrategy:
		return decodeParams[BiddingStrategyParams](a.Params)
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidActionParams, a.ActionType)
	}
}

type paramValidator interface{ Validate() error }

func decodeParams[T any, PT interface {
	*T
	paramValidator
}](raw json.RawMessage) (PT, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: params are required", ErrInvalidActionParams)
	}
	p := PT(new(T))
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActionParams, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// BudgetChangeType selects between relative and absolute budget changes.
type BudgetChangeType string

const (
	BudgetChangePercent BudgetChangeType = "percent"
	BudgetChangeFixed   BudgetChangeType = "fixed_amount"
)

// BudgetParams configures an adjust_budget action.
type BudgetParams struct {
	ChangeType  BudgetChangeType `json:"budgetChangeType"`
	ChangeValue float64          `json:"budgetChangeValue"`
	MinBudget   float64          `json:"minBudget,omitempty"`
	MaxBudget   float64          `json:"maxBudget,omitempty"`
}

func (p *BudgetParams) Validate() error {
	if p.ChangeType != BudgetChangePercent && p.ChangeType != BudgetChangeFixed {
		return fmt.Errorf("%w: budgetChangeType must be percent or fixed_amount", ErrInvalidActionParams)
	}
	if p.MinBudget < 0 || p.MaxBudget < 0 {
		return fmt.Errorf("%w: budget bounds must be non-negative", ErrInvalidActionParams)
	}
	if p.MinBudget > 0 && p.MaxBudget > 0 && p.MinBudget > p.MaxBudget {
		return fmt.Errorf("%w: minBudget exceeds maxBudget", ErrInvalidActionParams)
	}
	return nil
}

// Apply computes the new budget from the current one, clamped to the
// configured bounds when those are set.
func (p *BudgetParams) Apply(current float64) float64 {
	var next float64
	switch p.ChangeType {
	case BudgetChangePercent:
		next = current * (1 + p.ChangeValue/100)
	default:
		next = current + p.ChangeValue
	}
	if p.MinBudget > 0 && next < p.MinBudget {
		next = p.MinBudget
	}
	if p.MaxBudget > 0 && next > p.MaxBudget {
		next = p.MaxBudget
	}
	return next
}

// Bid modifier range accepted from rule authors, in percent.
const (
	BidModifierMin = -90
	BidModifierMax = 900

	// BidModifierExclude is the documented sentinel meaning "exclude this
	// dimension value entirely". Accepted only for device bids; every
	// other value is clamped to the declared range.
	BidModifierExclude = -100
)

// BidDimension is the targeting dimension a bid modifier applies to.
type BidDimension string

const (
	DimensionDevice     BidDimension = "device"
	DimensionLocation   BidDimension = "location"
	DimensionAudience   BidDimension = "audience"
	DimensionAdSchedule BidDimension = "ad_schedule"
	DimensionKeyword    BidDimension = "keyword"
)

// BidModifierParams configures the adjust_*_bid actions. Exactly one
// dimension field matching the action type must be set.
type BidModifierParams struct {
	DeviceType         string  `json:"deviceType,omitempty"`
	LocationID         string  `json:"locationId,omitempty"`
	AudienceID         string  `json:"audienceId,omitempty"`
	Schedule           string  `json:"schedule,omitempty"`
	KeywordID          string  `json:"keywordId,omitempty"`
	BidModifierPercent float64 `json:"bidModifierPercent"`
}

func (p *BidModifierParams) Validate() error {
	if p.BidModifierPercent != BidModifierExclude &&
		(p.BidModifierPercent < BidModifierMin || p.BidModifierPercent > BidModifierMax) {
		return fmt.Errorf("%w: bidModifierPercent %.1f outside [%d, %d]",
			ErrInvalidActionParams, p.BidModifierPercent, BidModifierMin, BidModifierMax)
	}
	return nil
}

func (p *BidModifierParams) validateDimension(at ActionType) error {
	dim, value := p.Dimension(at)
	if value == "" {
		return fmt.Errorf("%w: %s requires its %s parameter", ErrInvalidActionParams, at, dim)
	}
	if p.BidModifierPercent == BidModifierExclude && dim != DimensionDevice {
		return fmt.Errorf("%w: -100 exclusion is only valid for device bids", ErrInvalidActionParams)
	}
	return nil
}

// Dimension maps an action type to its targeting dimension and value.
func (p *BidModifierParams) Dimension(at ActionType) (BidDimension, string) {
	switch at {
	case ActionAdjustDeviceBid:
		return DimensionDevice, p.DeviceType
	case ActionAdjustLocationBid:
		return DimensionLocation, p.LocationID
	case ActionAdjustAudienceBid:
		return DimensionAudience, p.AudienceID
	case ActionAdjustAdScheduleBid:
		return DimensionAdSchedule, p.Schedule
	default:
		return DimensionKeyword, p.KeywordID
	}
}

// Modifier returns the multiplicative modifier sent to the platform,
// where 0% means no change (multiplier 1.0).
func (p *BidModifierParams) Modifier() float64 {
	pct := p.BidModifierPercent
	if pct != BidModifierExclude {
		if pct < BidModifierMin {
			pct = BidModifierMin
		}
		if pct > BidModifierMax {
			pct = BidModifierMax
		}
	}
	return 1 + pct/100
}

// NegativeKeywordParams configures an add_negative_keyword action.
type NegativeKeywordParams struct {
	KeywordText string `json:"keywordText"`
	MatchType   string `json:"matchType"` // broad, phrase, exact
	Level       string `json:"level"`     // campaign, ad_group
}

func (p *NegativeKeywordParams) Validate() error {
	if p.KeywordText == "" {
		return fmt.Errorf("%w: keywordText is required", ErrInvalidActionParams)
	}
	switch p.MatchType {
	case "broad", "phrase", "exact":
	default:
		return fmt.Errorf("%w: matchType must be broad, phrase or exact", ErrInvalidActionParams)
	}
	switch p.Level {
	case "campaign", "ad_group":
	default:
		return fmt.Errorf("%w: level must be campaign or ad_group", ErrInvalidActionParams)
	}
	return nil
}

// PlacementParams configures an exclude_placement action.
type PlacementParams struct {
	Placement string `json:"placement"`
}

func (p *PlacementParams) Validate() error {
	if p.Placement == "" {
		return fmt.Errorf("%w: placement is required", ErrInvalidActionParams)
	}
	return nil
}

// BiddingStrategyParams configures a change_bidding_strategy action.
type BiddingStrategyParams struct {
	Strategy    string  `json:"strategy"` // target_cpa, target_roas, maximize_conversions, manual_cpc
	TargetValue float64 `json:"targetValue,omitempty"`
}

func (p *BiddingStrategyParams) Validate() error {
	switch p.Strategy {
	case "target_cpa", "target_roas":
		if p.TargetValue <= 0 {
			return fmt.Errorf("%w: %s requires a positive targetValue", ErrInvalidActionParams, p.Strategy)
		}
	case "maximize_conversions", "manual_cpc":
	default:
		return fmt.Errorf("%w: unknown bidding strategy %q", ErrInvalidActionParams, p.Strategy)
	}
	return nil
}

// StatusParams configures a change_status action.
type StatusParams struct {
	Status string `json:"status"` // enabled, paused, removed
}

func (p *StatusParams) Validate() error {
	switch p.Status {
	case "enabled", "paused", "removed":
		return nil
	default:
		return fmt.Errorf("%w: status must be enabled, paused or removed", ErrInvalidActionParams)
	}
}
