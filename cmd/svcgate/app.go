package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
	"github.com/eliteGoblin/focusd/svcgate/internal/infra"
	"github.com/eliteGoblin/focusd/svcgate/internal/logtail"
	"github.com/eliteGoblin/focusd/svcgate/internal/policy"
	"github.com/eliteGoblin/focusd/svcgate/internal/usecase"
	"github.com/eliteGoblin/focusd/svcgate/internal/ux"
)

// app holds the wired collaborators for one command.
type app struct {
	cfg      *domain.Configuration
	fs       domain.FileStore
	logger   *zap.Logger
	flush    func()
	mode     *infra.ExecModeConfig
	state    domain.StateStore
	history  domain.HistoryStore
	planner  *usecase.Planner
	rewriter *usecase.Rewriter
	runner   *usecase.Runner
}

// newApp loads the policy and wires the stack. withServices also connects to the
// host service manager.
func newApp(withServices bool) (*app, error) {
	fs := infra.NewFileStore()
	cfg, issues, err := policy.Load(fs, configPath)
	if err != nil {
		return nil, err
	}

	logger, flush, err := infra.NewAuditLogger(fs.ExpandHome(cfg.Logs.AuditLog), verbose)
	if err != nil {
		return nil, err
	}
	for _, is := range issues {
		logger.Warn("Configuration issue", zap.String("issue", is))
	}

	a := &app{
		cfg:      cfg,
		fs:       fs,
		logger:   logger,
		flush:    flush,
		mode:     infra.DetectExecMode().WithDataDir(fs.ExpandHome(cfg.History.DataDir)),
		state:    infra.NewFileStateStore(cfg.Path),
		rewriter: usecase.NewRewriter(fs, logger),
	}
	logger.Debug("Execution mode", zap.String("mode", a.mode.Mode.String()), zap.String("dataDir", a.mode.DataDir))

	if cfg.History.Enabled {
		h, err := infra.OpenHistory(a.mode.DataDir)
		if err != nil {
			logger.Warn("Run history unavailable", zap.Error(err))
		} else {
			a.history = h
		}
	}

	if withServices {
		mgr, err := infra.NewServiceManager(a.mode, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to service manager: %w", err)
		}
		a.planner = usecase.NewPlanner(mgr, logger)
		a.runner = usecase.NewRunner(a.planner, usecase.NewExecutor(mgr, logger), a.rewriter, a.state, a.history, logger)
	}
	return a, nil
}

// Close releases the history database and flushes the audit log.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history", zap.Error(err))
		}
	}
	a.flush()
}

// confirmations adapts the prompter to the runner's gates. The plan is rendered
// before the question; planShown reports whether that happened.
func (a *app) confirmations(ctx context.Context, out io.Writer, planShown *bool) usecase.Confirmations {
	prompter := infra.NewPrompter(assumeYes, assumeNo)
	ask := func(question string) bool {
		ok, err := prompter.Confirm(ctx, question)
		if err != nil {
			a.logger.Warn("Confirmation failed; treating as no", zap.Error(err))
			return false
		}
		return ok
	}

	return usecase.Confirmations{
		Plan: func(plan *domain.ExecutionPlan) bool {
			ux.Plan(out, plan)
			*planShown = true
			return ask(planQuestion(plan))
		},
		Exception: func(item domain.PlanItem) bool {
			return ask(exceptionQuestion(item))
		},
	}
}

func planQuestion(plan *domain.ExecutionPlan) string {
	if plan.NeedsConfirmation() {
		return fmt.Sprintf("Proceed with %d item(s)? Exceptions ask again.", len(plan.Items))
	}
	return fmt.Sprintf("Proceed with %d item(s)?", len(plan.Items))
}

func exceptionQuestion(item domain.PlanItem) string {
	return fmt.Sprintf("Confirm %s of exception %s?", item.IntendedAction, item.ServiceName)
}

// spawnTails starts detached helpers for logs.tail; failures are logged only.
func (a *app) spawnTails() {
	spawner, err := logtail.NewSpawner(infra.NewProcessManager(), a.logger)
	if err != nil {
		a.logger.Warn("Cannot spawn log tails", zap.Error(err))
		return
	}
	started, err := spawner.Spawn(a.cfg.Logs.Tail, a.cfg.Logs.TailLines)
	if err != nil {
		a.logger.Warn("Log tail spawn incomplete", zap.Error(err))
	}
	for _, f := range started {
		fmt.Fprintf(os.Stderr, "Tailing %s\n", f)
	}
}
