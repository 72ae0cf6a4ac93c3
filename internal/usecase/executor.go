package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// Messages recorded on OperationResult.
const (
	MsgAlreadyRunning  = "Already Running"
	MsgAlreadyStopped  = "Already Stopped"
	MsgNotFound        = "Service not found"
	MsgRestartAsStart  = "Not running; started instead of restart"
	MsgDeclined        = "Declined by operator"
	MsgPagingUnchanged = "Paging not applied; restart skipped"
	MsgWhatIfTemplate  = "WhatIf: would %s"
	MsgSuccessTemplate = "%s succeeded"
)

// ExecOptions applies to every item of a plan.
type ExecOptions struct {
	DryRun bool
	Force  bool
	// SkipPagingRestart skips the paging-restart phase because no paging
	// rewrite took effect.
	SkipPagingRestart bool
}

// ConfirmPlanFunc is the plan-level gate. Returning false aborts before any mutation.
type ConfirmPlanFunc func(plan *domain.ExecutionPlan) bool

// ConfirmItemFunc is the per-exception gate. Returning false skips only that item.
type ConfirmItemFunc func(item domain.PlanItem) bool

// Executor applies lifecycle actions one service at a time.
type Executor struct {
	manager domain.ServiceManager
	logger  *zap.Logger
}

// NewExecutor creates an executor over a service manager.
func NewExecutor(manager domain.ServiceManager, logger *zap.Logger) *Executor {
	return &Executor{manager: manager, logger: logger}
}

// Apply runs one action against one service. It never returns an error: collaborator
// failures become an Error outcome so the caller can continue with the next item.
func (e *Executor) Apply(ctx context.Context, name string, action domain.Action, dryRun, force bool) domain.OperationResult {
	result := domain.OperationResult{ServiceName: name, Action: action, EffectiveAction: action}

	if dryRun {
		result.Success = true
		result.Outcome = domain.OutcomeWhatIf
		result.Message = fmt.Sprintf(MsgWhatIfTemplate, action)
		e.logger.Info(name+": "+result.Message, zap.String("service", name))
		return result
	}

	snap := domain.MissingSnapshot(name)
	if snaps := e.manager.FetchSnapshots(ctx, []string{name}); len(snaps) > 0 {
		snap = snaps[0]
	}
	if snap.CurrentState == domain.StateNotFound {
		return e.fail(result, errors.New(MsgNotFound))
	}

	var err error
	switch action {
	case domain.ActionStart:
		if snap.CurrentState == domain.StateRunning {
			return e.noChange(result, MsgAlreadyRunning)
		}
		err = e.manager.Start(ctx, name)

	case domain.ActionStop:
		if snap.CurrentState == domain.StateStopped {
			return e.noChange(result, MsgAlreadyStopped)
		}
		err = e.manager.Stop(ctx, name, force)

	case domain.ActionRestart:
		if snap.CurrentState != domain.StateRunning {
			result.EffectiveAction = domain.ActionStart
			err = e.manager.Start(ctx, name)
			break
		}
		err = e.manager.Restart(ctx, name, force)

	default:
		err = fmt.Errorf("unsupported action %q", action)
	}

	if err != nil {
		return e.fail(result, err)
	}

	result.Success = true
	result.Outcome = domain.OutcomeSuccess
	if result.EffectiveAction != action {
		result.Message = MsgRestartAsStart
	} else {
		result.Message = fmt.Sprintf(MsgSuccessTemplate, action)
	}
	e.logger.Info(name+": "+result.Message,
		zap.String("service", name),
		zap.String("action", string(result.EffectiveAction)))
	return result
}

func (e *Executor) noChange(result domain.OperationResult, msg string) domain.OperationResult {
	result.Success = true
	result.Outcome = domain.OutcomeNoChange
	result.Message = msg
	e.logger.Info(result.ServiceName+": "+msg, zap.String("service", result.ServiceName))
	return result
}

func (e *Executor) fail(result domain.OperationResult, err error) domain.OperationResult {
	result.Success = false
	result.Outcome = domain.OutcomeError
	result.Message = err.Error()
	e.logger.Error(result.ServiceName+": "+string(result.EffectiveAction)+" failed",
		zap.String("service", result.ServiceName),
		zap.Error(err))
	return result
}

// ExecutePlan walks the frozen plan in order and returns one result per item.
// A nil confirmPlan accepts; a nil confirmItem declines every exception. Dry runs
// never prompt. The only error is domain.ErrPlanDeclined.
func (e *Executor) ExecutePlan(
	ctx context.Context,
	plan *domain.ExecutionPlan,
	opts ExecOptions,
	confirmPlan ConfirmPlanFunc,
	confirmItem ConfirmItemFunc,
) ([]domain.OperationResult, error) {
	if !opts.DryRun && confirmPlan != nil && !confirmPlan(plan) {
		e.logger.Warn("plan declined, nothing executed", zap.String("operation", plan.Operation.String()))
		return nil, domain.ErrPlanDeclined
	}

	results := make([]domain.OperationResult, 0, len(plan.Items))
	for _, item := range plan.Items {
		results = append(results, e.executeItem(ctx, item, opts, confirmItem))
	}
	return results, nil
}

func (e *Executor) executeItem(ctx context.Context, item domain.PlanItem, opts ExecOptions, confirmItem ConfirmItemFunc) domain.OperationResult {
	skipped := domain.OperationResult{
		ServiceName:     item.ServiceName,
		Action:          item.IntendedAction,
		EffectiveAction: item.IntendedAction,
		Success:         true,
		Outcome:         domain.OutcomeSkipped,
	}

	if !item.Decision.Eligible {
		skipped.Message = item.Decision.Reason
		fields := []zap.Field{
			zap.String("service", item.ServiceName),
			zap.String("phase", item.Phase.String()),
		}
		if item.IsException {
			e.logger.Warn(item.ServiceName+": "+item.Decision.Reason, fields...)
		} else {
			e.logger.Info(item.ServiceName+": "+item.Decision.Reason, fields...)
		}
		return skipped
	}

	if opts.SkipPagingRestart && item.Phase.Kind == domain.PhasePagingRestart {
		skipped.Message = MsgPagingUnchanged
		e.logger.Warn(item.ServiceName+": "+MsgPagingUnchanged, zap.String("service", item.ServiceName))
		return skipped
	}

	if item.Decision.RequiresConfirmation && !opts.DryRun {
		if confirmItem == nil || !confirmItem(item) {
			skipped.Message = MsgDeclined
			e.logger.Info(item.ServiceName+": "+MsgDeclined, zap.String("service", item.ServiceName))
			return skipped
		}
	}

	return e.Apply(ctx, item.ServiceName, item.IntendedAction, opts.DryRun, opts.Force)
}
