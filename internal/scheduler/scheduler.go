// Package scheduler drives periodic rule evaluation cycles.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-commerce/kestrel/internal/actions"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/observability"
	"github.com/opensource-commerce/kestrel/internal/rules"
)

// Scheduler ticks on a fixed interval and runs every enabled rule whose
// check frequency has elapsed. Rules run concurrently up to a limit;
// entities within a rule fan out to a worker pool.
type Scheduler struct {
	repo      domain.Repository
	platform  domain.PlatformAPI
	evaluator *rules.Evaluator
	executor  *actions.Executor
	bus       domain.EventBus
	cfg       domain.SchedulerConfig

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Zero config values fall back to safe defaults.
func New(repo domain.Repository, platform domain.PlatformAPI, evaluator *rules.Evaluator, executor *actions.Executor, bus domain.EventBus, cfg domain.SchedulerConfig) *Scheduler {
	if cfg.TickSeconds <= 0 {
		cfg.TickSeconds = 60
	}
	if cfg.MaxConcurrentRules <= 0 {
		cfg.MaxConcurrentRules = 10
	}
	if cfg.EntityWorkers <= 0 {
		cfg.EntityWorkers = 10
	}
	return &Scheduler{
		repo:      repo,
		platform:  platform,
		evaluator: evaluator,
		executor:  executor,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the ticker loop. It returns immediately; use Stop to
// shut down. The first pass runs on the first tick, not at start, so a
// restart never stampedes the platform gateway.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(time.Duration(s.cfg.TickSeconds) * time.Second)
		defer ticker.Stop()

		slog.Info("scheduler started", "tick_seconds", s.cfg.TickSeconds)
		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight rule runs to finish.
// Entities already being processed complete; no new cycle starts.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce executes a single evaluation pass over all due rules. It is
// also the entry point for external cron via the API.
func (s *Scheduler) RunOnce(ctx context.Context) {
	started := s.now()

	ruleList, err := s.repo.ListEnabledRules(ctx)
	if err != nil {
		slog.Error("failed to list enabled rules", "error", err)
		return
	}

	due := make([]*domain.Rule, 0, len(ruleList))
	for _, r := range ruleList {
		if r.Due(started) {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return
	}
	slog.Info("evaluation pass starting", "due_rules", len(due), "enabled_rules", len(ruleList))

	sem := make(chan struct{}, s.cfg.MaxConcurrentRules)
	var wg sync.WaitGroup
	for _, rule := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rule *domain.Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runRule(ctx, rule)
		}(rule)
	}
	wg.Wait()

	observability.RuleCycles.Inc()
	observability.CycleDuration.Observe(s.now().Sub(started).Seconds())
}

// runRule evaluates one rule against every entity in its scope.
func (s *Scheduler) runRule(ctx context.Context, rule *domain.Rule) {
	// Mark the run up front so a slow cycle is not re-picked by the
	// next tick.
	if err := s.repo.TouchRuleRun(ctx, rule.TenantID, rule.ID, s.now().UTC()); err != nil {
		slog.Error("failed to mark rule run",
			"rule_id", rule.ID,
			"error", err,
		)
		return
	}

	entities, err := s.platform.ListEntities(ctx, rule.TenantID, rule.Platform, rule.AdAccountID, rule.EntityType)
	if err != nil {
		slog.Error("failed to list entities",
			"rule_id", rule.ID,
			"platform", rule.Platform,
			"error", err,
		)
		return
	}

	sem := make(chan struct{}, s.cfg.EntityWorkers)
	var wg sync.WaitGroup
	for _, entity := range entities {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(entity domain.EntityRef) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processEntity(ctx, rule, entity)
		}(entity)
	}
	wg.Wait()
}

// processEntity evaluates the rule for one entity and, on match, runs
// its actions in declared order. The executor serializes mutations per
// entity.
func (s *Scheduler) processEntity(ctx context.Context, rule *domain.Rule, entity domain.EntityRef) {
	observability.EntitiesEvaluated.Inc()

	eval := s.evaluator.EvaluateRule(ctx, rule, entity)

	rec := &domain.ExecutionRecord{
		ID:                uuid.New().String(),
		TenantID:          rule.TenantID,
		RuleID:            rule.ID,
		EntityID:          entity.ID,
		EntityType:        entity.Type,
		Timestamp:         s.now().UTC(),
		Matched:           eval.Matched,
		MatchedConditions: eval.Traces,
		DryRun:            rule.DryRun,
	}

	if !eval.Matched {
		rec.Outcome = domain.OutcomeNotMatched
		if s.cfg.RecordNotMatched {
			s.saveRecord(ctx, rec)
		}
		return
	}

	observability.RulesMatched.Inc()
	slog.Info("rule matched",
		"rule_id", rule.ID,
		"tenant_id", rule.TenantID,
		"entity_id", entity.ID,
		"dry_run", rule.DryRun,
	)

	for _, action := range rule.Actions {
		result := s.executor.Execute(ctx, rule, entity, action)

		observability.Actions.WithLabelValues(string(result.ActionType), string(result.Outcome)).Inc()
		rec.ActionsAttempted++
		if result.Outcome == domain.OutcomeApplied {
			rec.ActionsApplied++
		}
		rec.ActionResults = append(rec.ActionResults, result)
	}
	rec.Outcome = cycleOutcome(rec.ActionResults)

	s.saveRecord(ctx, rec)
	s.publishMatched(ctx, rule, rec)
}

// cycleOutcome summarizes per-action outcomes for the record header:
// any applied action wins, otherwise the first action's outcome stands.
func cycleOutcome(results []domain.ActionResult) domain.Outcome {
	for _, r := range results {
		if r.Outcome == domain.OutcomeApplied {
			return domain.OutcomeApplied
		}
	}
	if len(results) > 0 {
		return results[0].Outcome
	}
	return domain.OutcomeNotMatched
}

func (s *Scheduler) saveRecord(ctx context.Context, rec *domain.ExecutionRecord) {
	if err := s.repo.SaveExecution(ctx, rec.TenantID, rec); err != nil {
		slog.Error("failed to save execution record",
			"rule_id", rec.RuleID,
			"entity_id", rec.EntityID,
			"error", err,
		)
	}
}

func (s *Scheduler) publishMatched(ctx context.Context, rule *domain.Rule, rec *domain.ExecutionRecord) {
	data, _ := json.Marshal(map[string]any{
		"ruleId":         rec.RuleID,
		"entityId":       rec.EntityID,
		"outcome":        rec.Outcome,
		"actionsApplied": rec.ActionsApplied,
		"dryRun":         rec.DryRun,
	})
	if err := s.bus.Publish(ctx, rule.TenantID, domain.TopicRuleMatched, data); err != nil {
		slog.Error("failed to publish match event",
			"rule_id", rule.ID,
			"error", err,
		)
	}
}
