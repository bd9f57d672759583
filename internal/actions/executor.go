// Package actions applies rule actions against the ad platform, subject
// to dry-run, approval gating and the daily action cap.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/quota"
)

// applyFunc performs the planned mutation. It may fill in per-channel
// results on the action result.
type applyFunc func(ctx context.Context, res *domain.ActionResult) error

// Executor executes a single action for a single entity.
type Executor struct {
	platform domain.PlatformAPI
	notifier domain.Notifier
	quota    *quota.Counter
	repo     domain.Repository
	bus      domain.EventBus
	timeout  time.Duration
	locks    *entityLocks
}

// NewExecutor creates an action executor. timeout bounds every platform
// call; zero means 30 seconds.
func NewExecutor(platform domain.PlatformAPI, notifier domain.Notifier, q *quota.Counter, repo domain.Repository, bus domain.EventBus, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		platform: platform,
		notifier: notifier,
		quota:    q,
		repo:     repo,
		bus:      bus,
		timeout:  timeout,
		locks:    newEntityLocks(),
	}
}

// Execute runs one action through the safety gates: params validation,
// payload build, dry-run, approval hold, daily cap, then the platform
// call. The payload is always built first so dry-run records show
// exactly what would have been sent. Mutations on one entity are
// serialized, whichever caller they come from.
func (x *Executor) Execute(ctx context.Context, rule *domain.Rule, entity domain.EntityRef, action domain.Action) domain.ActionResult {
	res := domain.ActionResult{ActionType: action.ActionType}

	params, err := action.DecodeParams()
	if err != nil {
		// Configuration error: the rule is disabled until its owner
		// edits the action.
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		x.disableMisconfigured(ctx, rule, err)
		return res
	}

	// The lock covers plan through apply so a budget read-modify-write
	// never interleaves with another mutation on the same entity.
	lock := x.locks.get(rule.TenantID, entity.ID)
	lock.Lock()
	defer lock.Unlock()

	payload, apply, err := x.plan(ctx, rule, entity, action, params)
	res.Payload = payload
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		return res
	}

	if rule.DryRun {
		res.Outcome = domain.OutcomeSkippedDryRun
		return res
	}

	if rule.RequireApproval {
		if err := x.enqueueApproval(ctx, rule, entity, action, payload); err != nil {
			res.Outcome = domain.OutcomeFailed
			res.Error = err.Error()
			return res
		}
		res.Outcome = domain.OutcomeSkippedPendingApproval
		return res
	}

	if err := x.quota.Reserve(ctx, rule.TenantID, rule.ID, rule.MaxDailyActions); err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			res.Outcome = domain.OutcomeSkippedDailyCap
			return res
		}
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	err = apply(callCtx, &res)
	cancel()
	if err != nil {
		// Failed attempts return their quota; the next scheduled cycle
		// is the retry.
		x.quota.Release(ctx, rule.TenantID, rule.ID)
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		return res
	}

	res.Outcome = domain.OutcomeApplied
	x.publishApplied(ctx, rule, entity, res)
	return res
}

// ExecuteApproved applies a previously queued action after manual review,
// still honoring the rule's daily cap.
func (x *Executor) ExecuteApproved(ctx context.Context, approval *domain.ActionApproval) (domain.ActionResult, error) {
	rule, err := x.repo.GetRule(ctx, approval.TenantID, approval.RuleID)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("load rule for approval: %w", err)
	}

	entity := domain.EntityRef{
		ID:       approval.EntityID,
		Type:     rule.EntityType,
		Platform: rule.Platform,
	}

	// Re-run through the gates without the approval hold.
	cleared := *rule
	cleared.RequireApproval = false
	cleared.DryRun = false
	res := x.Execute(ctx, &cleared, entity, approval.Action)

	if res.Outcome == domain.OutcomeApplied {
		if err := x.repo.UpdateApprovalStatus(ctx, approval.TenantID, approval.ID, domain.ApprovalApplied, approval.Reviewer); err != nil {
			slog.Error("failed to mark approval applied",
				"approval_id", approval.ID,
				"error", err,
			)
		}
	}
	return res, nil
}

// disableMisconfigured parks a rule whose action params fail to decode.
// The owner re-enables it after editing the action.
func (x *Executor) disableMisconfigured(ctx context.Context, rule *domain.Rule, cause error) {
	if err := x.repo.SetRuleEnabled(ctx, rule.TenantID, rule.ID, false); err != nil {
		slog.Error("failed to disable misconfigured rule",
			"rule_id", rule.ID,
			"error", err,
		)
		return
	}
	slog.Warn("rule disabled: invalid action params",
		"rule_id", rule.ID,
		"tenant_id", rule.TenantID,
		"error", cause,
	)
}

func (x *Executor) enqueueApproval(ctx context.Context, rule *domain.Rule, entity domain.EntityRef, action domain.Action, payload map[string]any) error {
	approval := &domain.ActionApproval{
		ID:        uuid.New().String(),
		TenantID:  rule.TenantID,
		RuleID:    rule.ID,
		EntityID:  entity.ID,
		Action:    action,
		Payload:   payload,
		Status:    domain.ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := x.repo.SaveApproval(ctx, rule.TenantID, approval); err != nil {
		return fmt.Errorf("enqueue approval: %w", err)
	}

	data, _ := json.Marshal(approval)
	if err := x.bus.Publish(ctx, rule.TenantID, domain.TopicApprovalQueued, data); err != nil {
		slog.Error("failed to publish approval event",
			"rule_id", rule.ID,
			"error", err,
		)
	}
	return nil
}

func (x *Executor) publishApplied(ctx context.Context, rule *domain.Rule, entity domain.EntityRef, res domain.ActionResult) {
	data, _ := json.Marshal(map[string]any{
		"ruleId":     rule.ID,
		"entityId":   entity.ID,
		"actionType": res.ActionType,
		"payload":    res.Payload,
	})
	if err := x.bus.Publish(ctx, rule.TenantID, domain.TopicActionApplied, data); err != nil {
		slog.Error("failed to publish action event",
			"rule_id", rule.ID,
			"error", err,
		)
	}
}

// plan builds the mutation payload and the function that would apply it.
// Read-only platform calls (current budget) happen here so dry-run logs
// carry the computed target values.
func (x *Executor) plan(ctx context.Context, rule *domain.Rule, entity domain.EntityRef, action domain.Action, params any) (map[string]any, applyFunc, error) {
	switch action.ActionType {
	case domain.ActionPauseEntity:
		payload := map[string]any{"operation": "pause"}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.Pause(ctx, rule.TenantID, entity)
		}, nil

	case domain.ActionResumeEntity:
		payload := map[string]any{"operation": "resume"}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.Resume(ctx, rule.TenantID, entity)
		}, nil

	case domain.ActionChangeStatus:
		p := params.(*domain.StatusParams)
		payload := map[string]any{"operation": "set_status", "status": p.Status}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.SetStatus(ctx, rule.TenantID, entity, p.Status)
		}, nil

	case domain.ActionAdjustBudget:
		p := params.(*domain.BudgetParams)
		readCtx, cancel := context.WithTimeout(ctx, x.timeout)
		current, err := x.platform.GetBudget(readCtx, rule.TenantID, entity)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("read current budget: %w", err)
		}
		next := p.Apply(current)
		payload := map[string]any{
			"operation":     "set_budget",
			"currentBudget": current,
			"newBudget":     next,
			"changeType":    p.ChangeType,
			"changeValue":   p.ChangeValue,
		}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.SetBudget(ctx, rule.TenantID, entity, next)
		}, nil

	case domain.ActionAdjustDeviceBid, domain.ActionAdjustLocationBid,
		domain.ActionAdjustAudienceBid, domain.ActionAdjustAdScheduleBid,
		domain.ActionAdjustKeywordBid:
		p := params.(*domain.BidModifierParams)
		dim, value := p.Dimension(action.ActionType)
		if p.BidModifierPercent == domain.BidModifierExclude {
			payload := map[string]any{
				"operation": "exclude_dimension",
				"dimension": dim,
				"value":     value,
			}
			return payload, func(ctx context.Context, _ *domain.ActionResult) error {
				return x.platform.ExcludeDimension(ctx, rule.TenantID, entity, dim, value)
			}, nil
		}
		modifier := p.Modifier()
		payload := map[string]any{
			"operation": "set_bid_modifier",
			"dimension": dim,
			"value":     value,
			"modifier":  modifier,
		}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.SetBidModifier(ctx, rule.TenantID, entity, dim, value, modifier)
		}, nil

	case domain.ActionAddNegativeKeyword:
		p := params.(*domain.NegativeKeywordParams)
		payload := map[string]any{
			"operation": "add_negative_keyword",
			"keyword":   p.KeywordText,
			"matchType": p.MatchType,
			"level":     p.Level,
		}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.AddNegativeKeyword(ctx, rule.TenantID, entity, p.KeywordText, p.MatchType, p.Level)
		}, nil

	case domain.ActionExcludePlacement:
		p := params.(*domain.PlacementParams)
		payload := map[string]any{"operation": "exclude_placement", "placement": p.Placement}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.ExcludePlacement(ctx, rule.TenantID, entity, p.Placement)
		}, nil

	case domain.ActionChangeBiddingStrategy:
		p := params.(*domain.BiddingStrategyParams)
		payload := map[string]any{
			"operation":   "set_bidding_strategy",
			"strategy":    p.Strategy,
			"targetValue": p.TargetValue,
		}
		return payload, func(ctx context.Context, _ *domain.ActionResult) error {
			return x.platform.SetBiddingStrategy(ctx, rule.TenantID, entity, p.Strategy, p.TargetValue)
		}, nil

	case domain.ActionSendNotification:
		message := action.NotificationMessage
		if message == "" {
			message = fmt.Sprintf("rule %q matched %s %s", rule.Name, entity.Type, entity.ID)
		}
		payload := map[string]any{
			"operation": "notify",
			"channels":  action.NotificationChannels,
			"message":   message,
		}
		return payload, func(ctx context.Context, res *domain.ActionResult) error {
			return x.fanOut(ctx, rule, entity, action.NotificationChannels, message, res)
		}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown action type %q", domain.ErrInvalidActionParams, action.ActionType)
	}
}

// fanOut attempts every channel independently; one channel failing does
// not block the others. The action fails only when all channels fail.
func (x *Executor) fanOut(ctx context.Context, rule *domain.Rule, entity domain.EntityRef, channels []domain.NotificationChannel, message string, res *domain.ActionResult) error {
	n := domain.Notification{
		ID:        uuid.New().String(),
		TenantID:  rule.TenantID,
		RuleID:    rule.ID,
		EntityID:  entity.ID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	res.Channels = make(map[domain.NotificationChannel]string, len(channels))
	delivered := 0
	for _, ch := range channels {
		if err := x.notifier.Send(ctx, rule.TenantID, ch, n); err != nil {
			res.Channels[ch] = err.Error()
			slog.Warn("notification channel failed",
				"rule_id", rule.ID,
				"channel", ch,
				"error", err,
			)
			continue
		}
		res.Channels[ch] = "delivered"
		delivered++
	}

	if delivered == 0 && len(channels) > 0 {
		return fmt.Errorf("all notification channels failed")
	}
	return nil
}
