// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
	"github.com/eliteGoblin/focusd/svcgate/internal/policy"
)

// ReasonAlsoInCore is logged when a profile member is dropped because Core owns it.
const ReasonAlsoInCore = "Also in Core"

// Planner builds execution plans. Building never mutates anything and may be repeated.
type Planner struct {
	registry domain.ServiceRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewPlanner creates a plan builder over a service registry.
func NewPlanner(registry domain.ServiceRegistry, logger *zap.Logger) *Planner {
	return &Planner{registry: registry, logger: logger, now: time.Now}
}

// phaseTargets is one phase of a plan before snapshots are attached.
type phaseTargets struct {
	phase  domain.Phase
	action domain.Action
	names  []string
}

// Build computes the ordered plan for op: StopOthers, then targets, then the
// paging restart. Each phase is alphabetical. Snapshots are fetched once for
// the union of all names.
func (p *Planner) Build(ctx context.Context, cfg *domain.Configuration, op domain.Operation) (*domain.ExecutionPlan, error) {
	var phases []phaseTargets

	switch op.Kind {
	case domain.OperationCoreOnly:
		targets := domain.NewServiceSet(cfg.Core.Sorted()...)
		for n := range cfg.Exceptions {
			targets[n] = struct{}{}
		}
		phases = append(phases, phaseTargets{
			phase:  domain.Phase{Kind: domain.PhaseCoreTarget},
			action: op.Action,
			names:  targets.Sorted(),
		})

	case domain.OperationProfile:
		members, ok := cfg.Profiles[op.Profile]
		if !ok {
			return nil, &domain.ProfileError{Name: op.Profile, Available: cfg.ProfileNames()}
		}

		others := domain.NewServiceSet()
		for _, n := range p.registry.EnumerateInstalled(ctx, cfg.Prefix) {
			if policy.MatchesPrefix(n, cfg.Prefix) && !cfg.Core.Has(n) && !members.Has(n) {
				others[n] = struct{}{}
			}
		}

		targets := domain.NewServiceSet()
		for _, n := range members.Sorted() {
			if cfg.Core.Has(n) {
				p.logger.Info("skipped", zap.String("service", n), zap.String("profile", op.Profile), zap.String("reason", ReasonAlsoInCore))
				continue
			}
			targets[n] = struct{}{}
		}

		phases = append(phases,
			phaseTargets{phase: domain.Phase{Kind: domain.PhaseStopOthers}, action: domain.ActionStop, names: others.Sorted()},
			phaseTargets{phase: domain.Phase{Kind: domain.PhaseProfileTarget, Profile: op.Profile}, action: op.Action, names: targets.Sorted()},
		)

	case domain.OperationPaging:
		// Only the paging restart below.
	}

	if op.PagingRestart && cfg.Paging.ServiceName != "" {
		phases = append(phases, phaseTargets{
			phase:  domain.Phase{Kind: domain.PhasePagingRestart},
			action: domain.ActionRestart,
			names:  []string{cfg.Paging.ServiceName},
		})
	}

	snapshots := p.fetch(ctx, phases)

	plan := &domain.ExecutionPlan{Operation: op, BuiltAt: p.now()}
	for _, ph := range phases {
		for _, n := range ph.names {
			snap := snapshots[n]
			isException := cfg.Exceptions.Has(n)
			plan.Items = append(plan.Items, domain.PlanItem{
				Phase:          ph.phase,
				ServiceName:    n,
				IntendedAction: ph.action,
				Snapshot:       snap,
				IsException:    isException,
				Decision:       policy.Classify(n, cfg.Prefix, isException, snap.StartupMode),
			})
		}
	}
	return plan, nil
}

// fetch issues a single batched snapshot query over the deduplicated union.
func (p *Planner) fetch(ctx context.Context, phases []phaseTargets) map[string]domain.ServiceSnapshot {
	union := domain.NewServiceSet()
	for _, ph := range phases {
		for _, n := range ph.names {
			union[n] = struct{}{}
		}
	}

	result := make(map[string]domain.ServiceSnapshot, len(union))
	if len(union) == 0 {
		return result
	}
	for _, s := range p.registry.FetchSnapshots(ctx, union.Sorted()) {
		if union.Has(s.Name) {
			result[s.Name] = s
		}
	}
	for n := range union {
		if _, ok := result[n]; !ok {
			result[n] = domain.MissingSnapshot(n)
		}
	}
	return result
}
