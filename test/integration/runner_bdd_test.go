//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
	"github.com/eliteGoblin/focusd/svcgate/internal/infra"
	"github.com/eliteGoblin/focusd/svcgate/internal/policy"
	"github.com/eliteGoblin/focusd/svcgate/internal/usecase"
	"github.com/eliteGoblin/focusd/svcgate/test/fixtures"
)

const testPolicy = `
prefix: Su_
core: [Su_Auth]
exceptions: [X]
profiles:
  Web: [Su_Web, Su_Paging]
  DBOracle: [Su_Oracle, Su_Paging, Su_Auth]
paging:
  serviceName: Su_Paging
  settingsPath: "{{settings}}"
  settingsKey: "Jobs:Loader:Query"
  pageSize: 1000000
  enforceFetchNext: true
  resetOnProfileChange: true
logs:
  auditLog: "{{dir}}/audit.log"
history:
  enabled: false
`

var _ = Describe("Runner", func() {
	var (
		ctx     context.Context
		ws      *fixtures.Workspace
		cfg     *domain.Configuration
		issues  []string
		mgr     *fixtures.FakeServiceManager
		state   *infra.FileStateStore
		history domain.HistoryStore
		logs    *observer.ObservedLogs
		runner  *usecase.Runner
		yes     usecase.Confirmations
	)

	build := func() {
		core, observed := observer.New(zapcore.InfoLevel)
		logs = observed
		logger := zap.New(core)
		fs := infra.NewFileStore()
		runner = usecase.NewRunner(
			usecase.NewPlanner(mgr, logger),
			usecase.NewExecutor(mgr, logger),
			usecase.NewRewriter(fs, logger),
			state,
			history,
			logger,
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		ws, err = fixtures.NewWorkspace(GinkgoT().TempDir(), testPolicy, fixtures.DefaultQuery)
		Expect(err).NotTo(HaveOccurred())

		cfg, issues, err = policy.Load(infra.NewFileStore(), ws.PolicyPath)
		Expect(err).NotTo(HaveOccurred())

		mgr = fixtures.NewFakeServiceManager().
			Install("Su_Auth", domain.StateStopped, domain.StartupManual).
			Install("X", domain.StateStopped, domain.StartupAutomatic).
			Install("Su_Web", domain.StateStopped, domain.StartupManual).
			Install("Su_Oracle", domain.StateStopped, domain.StartupManual).
			Install("Su_Paging", domain.StateStopped, domain.StartupManual)
		state = infra.NewFileStateStore(cfg.Path)
		history = nil
		yes = usecase.Confirmations{
			Plan:      func(*domain.ExecutionPlan) bool { return true },
			Exception: func(domain.PlanItem) bool { return true },
		}
		build()
	})

	Describe("Core-only start", func() {
		It("should start Core and the confirmed exception", func() {
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{
				Action: domain.ActionStart,
				Kind:   domain.OperationCoreOnly,
				Paging: domain.PagingNoChange,
			}, yes)
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Plan.Items).To(HaveLen(2))
			auth, x := report.Plan.Items[0], report.Plan.Items[1]
			Expect(auth.ServiceName).To(Equal("Su_Auth"))
			Expect(auth.Decision.Eligible).To(BeTrue())
			Expect(auth.Decision.RequiresConfirmation).To(BeFalse())
			Expect(x.ServiceName).To(Equal("X"))
			Expect(x.Decision.Eligible).To(BeTrue())
			Expect(x.Decision.RequiresConfirmation).To(BeTrue())

			Expect(mgr.Calls()).To(Equal([]string{"Start Su_Auth", "Start X"}))
			Expect(logs.FilterMessageSnippet("Start succeeded").Len()).To(Equal(2))
		})

		It("should skip a declined exception and continue", func() {
			yes.Exception = func(domain.PlanItem) bool { return false }
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationCoreOnly}, yes)
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Calls()).To(Equal([]string{"Start Su_Auth"}))
			Expect(report.Results[1].Outcome).To(Equal(domain.OutcomeSkipped))
			Expect(mgr.State("X")).To(Equal(domain.StateStopped))
		})

		It("should be idempotent on a second run", func() {
			req := usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationCoreOnly}
			_, err := runner.Run(ctx, cfg, req, yes)
			Expect(err).NotTo(HaveOccurred())
			mgr.ResetCalls()

			report, err := runner.Run(ctx, cfg, req, yes)
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.Calls()).To(BeEmpty())
			for _, r := range report.Results {
				Expect(r.Outcome).To(Equal(domain.OutcomeNoChange))
			}
		})

		It("should isolate a failing item", func() {
			mgr.FailOn("Su_Auth", errors.New("access denied"))
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationCoreOnly}, yes)
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Calls()).To(Equal([]string{"Start Su_Auth", "Start X"}))
			Expect(report.Results[0].Outcome).To(Equal(domain.OutcomeError))
			Expect(report.Results[0].Message).To(ContainSubstring("access denied"))
			Expect(report.Results[1].Outcome).To(Equal(domain.OutcomeSuccess))
			Expect(report.Failed()).To(Equal(1))
		})
	})

	Describe("Profile operations", func() {
		It("should never target a Core service from a profile", func() {
			Expect(issues).To(ContainElement(ContainSubstring("'Su_Auth' is also in Core")))

			report, err := runner.Run(ctx, cfg, usecase.RunRequest{
				Action:  domain.ActionStart,
				Kind:    domain.OperationProfile,
				Profile: "DBOracle",
			}, yes)
			Expect(err).NotTo(HaveOccurred())

			for _, item := range report.Plan.Items {
				if item.Phase.Kind == domain.PhaseProfileTarget {
					Expect(item.ServiceName).NotTo(Equal("Su_Auth"))
				}
			}
			Expect(mgr.Calls()).NotTo(ContainElement("Start Su_Auth"))
		})

		It("should reset paging before executing a switched profile", func() {
			_, err := runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationProfile, Profile: "Web"}, yes)
			Expect(err).NotTo(HaveOccurred())
			Expect(*state.Load().LastProfile).To(Equal("Web"))

			_, err = runner.Paging(ctx, cfg, domain.PagingNextPage, false, false, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Settings()).To(ContainSubstring("OFFSET 1000000 ROWS"))

			var settingsAtConfirm string
			build()
			mgr.ResetCalls()
			yes.Plan = func(*domain.ExecutionPlan) bool {
				settingsAtConfirm = ws.Settings()
				return true
			}
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationProfile, Profile: "DBOracle"}, yes)
			Expect(err).NotTo(HaveOccurred())

			Expect(settingsAtConfirm).To(ContainSubstring("OFFSET 1000000 ROWS"))
			Expect(report.ProfileSwitched).To(BeTrue())
			Expect(report.PagingResults).To(HaveLen(1))
			Expect(report.PagingResults[0].OldOffset).To(Equal(1000000))
			Expect(report.PagingResults[0].NewOffset).To(Equal(0))
			Expect(ws.Settings()).To(ContainSubstring("OFFSET 0 ROWS FETCH NEXT 1000000 ROWS ONLY;"))

			Expect(mgr.Calls()).To(Equal([]string{"Stop Su_Web", "Start Su_Oracle", "Restart Su_Paging"}))
			Expect(*state.Load().LastProfile).To(Equal("DBOracle"))
		})

		It("should not reset paging when the profile is unchanged", func() {
			req := usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationProfile, Profile: "Web"}
			_, err := runner.Run(ctx, cfg, req, yes)
			Expect(err).NotTo(HaveOccurred())
			_, err = runner.Paging(ctx, cfg, domain.PagingNextPage, false, false, false)
			Expect(err).NotTo(HaveOccurred())

			report, err := runner.Run(ctx, cfg, req, yes)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.ProfileSwitched).To(BeFalse())
			Expect(report.PagingResults).To(BeEmpty())
			Expect(ws.Settings()).To(ContainSubstring("OFFSET 1000000 ROWS"))
		})

		It("should fail fast on an unknown profile", func() {
			_, err := runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationProfile, Profile: "Nope"}, yes)
			Expect(err).To(MatchError(domain.ErrUnknownProfile))
			Expect(mgr.Calls()).To(BeEmpty())
		})
	})

	Describe("Dry run", func() {
		It("should change nothing", func() {
			before := ws.Settings()
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{
				Action:  domain.ActionRestart,
				Kind:    domain.OperationProfile,
				Profile: "Web",
				Paging:  domain.PagingNextPage,
				DryRun:  true,
			}, usecase.Confirmations{})
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Calls()).To(BeEmpty())
			Expect(ws.Settings()).To(Equal(before))
			Expect(ws.Backups()).To(BeEmpty())
			Expect(state.Path()).NotTo(BeAnExistingFile())
			for _, r := range report.Results {
				Expect(r.Outcome).To(BeElementOf(domain.OutcomeWhatIf, domain.OutcomeSkipped))
			}
			Expect(report.PagingResults[len(report.PagingResults)-1].NewOffset).To(Equal(1000000))
		})
	})

	Describe("Plan confirmation", func() {
		It("should abort before any mutation when declined", func() {
			before := ws.Settings()
			yes.Plan = func(*domain.ExecutionPlan) bool { return false }
			report, err := runner.Run(ctx, cfg, usecase.RunRequest{
				Action:  domain.ActionStart,
				Kind:    domain.OperationProfile,
				Profile: "Web",
				Paging:  domain.PagingNextPage,
			}, yes)
			Expect(errors.Is(err, domain.ErrPlanDeclined)).To(BeTrue())
			Expect(report.Aborted).To(BeTrue())
			Expect(mgr.Calls()).To(BeEmpty())
			Expect(ws.Settings()).To(Equal(before))
		})
	})

	Describe("Paging command", func() {
		It("should back up, rewrite and restart the paging service", func() {
			report, err := runner.Paging(ctx, cfg, domain.PagingNextPage, true, false, false)
			Expect(err).NotTo(HaveOccurred())

			Expect(ws.Backups()).To(HaveLen(1))
			Expect(report.PagingResults[0].BackupPath).To(Equal(ws.Backups()[0]))
			Expect(ws.Settings()).To(ContainSubstring(`"Batch": 5`))
			Expect(mgr.Calls()).To(Equal([]string{"Start Su_Paging"}))
			Expect(report.Results[0].EffectiveAction).To(Equal(domain.ActionStart))
			Expect(state.Path()).NotTo(BeAnExistingFile())
		})

		It("should restore the newest backup", func() {
			before := ws.Settings()
			_, err := runner.Paging(ctx, cfg, domain.PagingNextPage, false, false, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Settings()).NotTo(Equal(before))

			fs := infra.NewFileStore()
			bm := infra.NewBackupManager(fs, zap.NewNop())
			latest, err := bm.Latest(ws.SettingsPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = bm.Restore(ws.SettingsPath, latest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Settings()).To(Equal(before))
		})
	})

	Describe("Run history", func() {
		It("should record real runs and skip dry runs", func() {
			h, err := infra.OpenHistory(filepath.Join(ws.Dir, "data"))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(h.Close)
			history = h
			build()

			_, err = runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStart, Kind: domain.OperationCoreOnly}, yes)
			Expect(err).NotTo(HaveOccurred())
			_, err = runner.Run(ctx, cfg, usecase.RunRequest{Action: domain.ActionStop, Kind: domain.OperationCoreOnly, DryRun: true}, yes)
			Expect(err).NotTo(HaveOccurred())

			records, err := h.Recent(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Action).To(Equal(domain.ActionStart))
			Expect(records[0].Results).To(HaveLen(2))
		})
	})

	Describe("Run lock", func() {
		It("should refuse a second concurrent run", func() {
			lock, err := infra.AcquireRunLock(cfg.Path)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(lock.Release)

			_, err = infra.AcquireRunLock(cfg.Path)
			Expect(errors.Is(err, domain.ErrLocked)).To(BeTrue())
		})
	})

	Describe("Audit log", func() {
		It("should append formatted lines to the configured file", func() {
			logger, flush, err := infra.NewAuditLogger(cfg.Logs.AuditLog, false)
			Expect(err).NotTo(HaveOccurred())
			logger.Info("Start Core requested")
			flush()

			data, err := os.ReadFile(cfg.Logs.AuditLog)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchRegexp(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}:: \[INFO\] Start Core requested`))
		})
	})
})
