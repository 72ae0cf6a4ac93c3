package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// RunRequest is one CLI invocation's worth of work.
type RunRequest struct {
	Action  domain.Action
	Kind    domain.OperationKind
	Profile string
	Paging  domain.PagingAction
	DryRun  bool
	Force   bool
}

// Confirmations are the operator gates. Nil Plan accepts; nil Exception declines.
type Confirmations struct {
	Plan      ConfirmPlanFunc
	Exception ConfirmItemFunc
}

// RunReport is everything a run did, for rendering and history.
type RunReport struct {
	RunID           string
	StartedAt       time.Time
	Plan            *domain.ExecutionPlan
	PagingResults   []domain.PagingRewriteResult
	Results         []domain.OperationResult
	ProfileSwitched bool
	Aborted         bool
	DryRun          bool
}

// Failed counts Error outcomes.
func (r *RunReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == domain.OutcomeError {
			n++
		}
	}
	return n
}

// Runner ties plan building, confirmation, paging and execution into one run.
type Runner struct {
	planner  *Planner
	executor *Executor
	rewriter *Rewriter
	state    domain.StateStore
	history  domain.HistoryStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a runner. history may be nil.
func NewRunner(
	planner *Planner,
	executor *Executor,
	rewriter *Rewriter,
	state domain.StateStore,
	history domain.HistoryStore,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		planner:  planner,
		executor: executor,
		rewriter: rewriter,
		state:    state,
		history:  history,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one request:
//  1. load run state and detect a profile switch
//  2. build the plan (fatal on unknown profile)
//  3. plan confirmation (skipped for dry runs); declining returns ErrPlanDeclined
//  4. paging reset on profile switch, then the explicit paging action
//  5. execute every plan item in order; the paging restart is skipped when no
//     paging rewrite succeeded
//  6. save run state and record history (not for dry runs)
func (r *Runner) Run(ctx context.Context, cfg *domain.Configuration, req RunRequest, confirm Confirmations) (*RunReport, error) {
	if req.Paging == "" {
		req.Paging = domain.PagingNoChange
	}
	report := &RunReport{RunID: uuid.NewString(), StartedAt: r.now(), DryRun: req.DryRun}
	log := r.logger.With(zap.String("run", report.RunID[:8]))

	state := r.state.Load()
	if req.Kind == domain.OperationProfile {
		report.ProfileSwitched = state.LastProfile == nil || *state.LastProfile != req.Profile
	}
	resetPaging := report.ProfileSwitched && cfg.Paging.ResetOnProfileChange && cfg.Paging.Configured()

	op := domain.Operation{
		Kind:          req.Kind,
		Profile:       req.Profile,
		Action:        req.Action,
		PagingRestart: req.Paging != domain.PagingNoChange || resetPaging,
	}
	log.Info(fmt.Sprintf("%s %s requested", req.Action, op),
		zap.Bool("dryRun", req.DryRun),
		zap.String("paging", string(req.Paging)))

	plan, err := r.planner.Build(ctx, cfg, op)
	if err != nil {
		return report, fmt.Errorf("failed to build plan: %w", err)
	}
	report.Plan = plan

	if !req.DryRun && confirm.Plan != nil && !confirm.Plan(plan) {
		report.Aborted = true
		log.Warn("Plan declined; no changes made")
		r.record(ctx, log, report, req)
		return report, domain.ErrPlanDeclined
	}

	if resetPaging {
		last := "<none>"
		if state.LastProfile != nil {
			last = *state.LastProfile
		}
		log.Info(fmt.Sprintf("Profile switch %s -> %s: resetting paging", last, req.Profile))
		if err := r.applyPaging(report, cfg.Paging, domain.PagingRestartFromPage1, req.DryRun); err != nil {
			return report, err
		}
	}
	if req.Paging != domain.PagingNoChange {
		if err := r.applyPaging(report, cfg.Paging, req.Paging, req.DryRun); err != nil {
			return report, err
		}
	}

	// Plan confirmation already happened above.
	opts := ExecOptions{
		DryRun:            req.DryRun,
		Force:             req.Force,
		SkipPagingRestart: op.PagingRestart && !pagingApplied(report.PagingResults),
	}
	results, _ := r.executor.ExecutePlan(ctx, plan, opts, nil, confirm.Exception)
	report.Results = results

	if req.DryRun {
		return report, nil
	}

	r.record(ctx, log, report, req)
	if err := r.state.Save(op.ProfilePtr(), r.now()); err != nil {
		log.Error("Failed to save run state", zap.String("path", r.state.Path()), zap.Error(err))
		return report, fmt.Errorf("failed to save run state: %w", err)
	}
	log.Info(fmt.Sprintf("Run complete: %d items, %d failed", len(results), report.Failed()))
	return report, nil
}

// Paging runs an explicit paging action outside a profile operation; with restart it
// also restarts the paging service through a one-item plan. Run state is untouched.
func (r *Runner) Paging(ctx context.Context, cfg *domain.Configuration, action domain.PagingAction, restart, dryRun, force bool) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), StartedAt: r.now(), DryRun: dryRun}

	if err := r.applyPaging(report, cfg.Paging, action, dryRun); err != nil {
		return report, err
	}
	if !restart {
		return report, nil
	}

	plan, err := r.planner.Build(ctx, cfg, domain.Operation{Kind: domain.OperationPaging, Action: domain.ActionRestart, PagingRestart: true})
	if err != nil {
		return report, fmt.Errorf("failed to build plan: %w", err)
	}
	report.Plan = plan
	opts := ExecOptions{DryRun: dryRun, Force: force, SkipPagingRestart: !pagingApplied(report.PagingResults)}
	report.Results, _ = r.executor.ExecutePlan(ctx, plan, opts, nil, func(domain.PlanItem) bool { return true })
	if !dryRun {
		r.record(ctx, r.logger, report, RunRequest{Action: domain.ActionRestart, Kind: domain.OperationPaging})
	}
	return report, nil
}

// applyPaging appends the result; only a storage write failure is returned.
func (r *Runner) applyPaging(report *RunReport, spec domain.PagingSpec, action domain.PagingAction, dryRun bool) error {
	res := r.rewriter.Rewrite(spec, action, dryRun)
	report.PagingResults = append(report.PagingResults, res)
	if res.Err != nil {
		return fmt.Errorf("failed to rewrite paging settings: %w", res.Err)
	}
	return nil
}

// pagingApplied reports whether any rewrite succeeded. A dry run counts.
func pagingApplied(results []domain.PagingRewriteResult) bool {
	for _, res := range results {
		if res.Success {
			return true
		}
	}
	return false
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, report *RunReport, req RunRequest) {
	if r.history == nil {
		return
	}
	op := domain.Operation{Kind: req.Kind, Profile: req.Profile}
	if report.Plan != nil {
		op = report.Plan.Operation
	}
	rec := domain.RunRecord{
		ID:        report.RunID,
		StartedAt: report.StartedAt,
		Action:    req.Action,
		Operation: op.String(),
		DryRun:    report.DryRun,
		Aborted:   report.Aborted,
		Results:   report.Results,
	}
	if err := r.history.Record(ctx, rec); err != nil {
		log.Warn("Failed to record run history", zap.Error(err))
	}
}
