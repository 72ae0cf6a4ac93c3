// Package main is the CLI entry point for svcgate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
	"github.com/eliteGoblin/focusd/svcgate/internal/infra"
	"github.com/eliteGoblin/focusd/svcgate/internal/logtail"
	"github.com/eliteGoblin/focusd/svcgate/internal/policy"
	"github.com/eliteGoblin/focusd/svcgate/internal/usecase"
	"github.com/eliteGoblin/focusd/svcgate/internal/ux"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "svcgate",
	Short: "Policy-gated start/stop/restart of host service groups",
	Long: `svcgate starts, stops and restarts a named group of host services under a
declarative policy: a name prefix every touched service must carry, a Core set,
mutually exclusive profiles, exceptions that always ask for confirmation, and a
paging cursor in an application settings file that moves with service restarts.

Every decision is appended to an audit log next to the configuration file.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Core (or a profile's) services",
	Long: `Starts the Core services and exceptions, or with --profile the profile's services.
A profile run first stops every other prefixed service that is neither Core nor in the profile.`,
	Args: cobra.NoArgs,
	RunE: actionRunner(domain.ActionStart),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop Core (or a profile's) services",
	Args:  cobra.NoArgs,
	RunE:  actionRunner(domain.ActionStop),
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart Core (or a profile's) services",
	Long:  `Restarts the selected services. A service that is not running is started instead.`,
	Args:  cobra.NoArgs,
	RunE:  actionRunner(domain.ActionRestart),
}

var planCmd = &cobra.Command{
	Use:   "plan <start|stop|restart>",
	Short: "Show the execution plan without changing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service states, eligibility, last profile and paging cursor",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and list advisory issues",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var pagingCmd = &cobra.Command{
	Use:   "paging <next|prev|reset|show|restore>",
	Short: "Move, show or restore the paging cursor",
	Long: `next, prev and reset rewrite the OFFSET in the configured settings key (a backup is
taken first). --restart then restarts the paging service. show prints the current cursor;
restore copies the newest backup (or --backup PATH) over the settings file.`,
	Args: cobra.ExactArgs(1),
	RunE: runPaging,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the encrypted history",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Follow the configured log files",
	Long: `Follows logs.tail in the foreground. --spawn starts one detached helper per file
instead (skipping files that already have one); --stop kills all helpers.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden tail command - used for self-exec when spawning tail helpers
var tailCmd = &cobra.Command{
	Use:    logtail.TailCommand,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runTail,
}

var (
	configPath  string
	verbose     bool
	profileName string
	coreOnly    bool
	dryRun      bool
	force       bool
	assumeYes   bool
	assumeNo    bool
	pagingFlag  string
	tailAfter   bool
	restartFlag bool
	backupPath  string
	historyN    int
	spawnTails  bool
	stopTails   bool
	tailFile    string
	tailLines   int
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "svcgate.yaml", "Policy document (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug output on the console")

	for _, c := range []*cobra.Command{startCmd, stopCmd, restartCmd} {
		addSelectionFlags(c)
		c.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would happen; change nothing")
		c.Flags().BoolVar(&force, "force", false, "Force stop (and restart) of services")
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")
		c.Flags().BoolVar(&assumeNo, "no", false, "Answer no to every confirmation")
		c.MarkFlagsMutuallyExclusive("yes", "no")
	}
	for _, c := range []*cobra.Command{startCmd, restartCmd} {
		c.Flags().BoolVar(&tailAfter, "tail", false, "Spawn log tail helpers after the run")
	}
	addSelectionFlags(planCmd)
	statusCmd.Flags().StringVarP(&profileName, "profile", "p", "", "Also show this profile")

	pagingCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the rewrite; change nothing")
	pagingCmd.Flags().BoolVar(&restartFlag, "restart", false, "Restart the paging service afterwards")
	pagingCmd.Flags().BoolVar(&force, "force", false, "Force the restart")
	pagingCmd.Flags().StringVar(&backupPath, "backup", "", "Backup to restore (default: newest)")

	historyCmd.Flags().IntVarP(&historyN, "limit", "n", 10, "Number of runs")

	logsCmd.Flags().BoolVar(&spawnTails, "spawn", false, "Start detached tail helpers")
	logsCmd.Flags().BoolVar(&stopTails, "stop", false, "Stop all tail helpers")
	logsCmd.MarkFlagsMutuallyExclusive("spawn", "stop")

	tailCmd.Flags().StringVar(&tailFile, "file", "", "File to follow")
	tailCmd.Flags().IntVar(&tailLines, "lines", logtail.DefaultTailLines, "Lines to print first")
	_ = tailCmd.MarkFlagRequired("file")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, planCmd, statusCmd, checkCmd,
		pagingCmd, historyCmd, logsCmd, versionCmd, tailCmd)
}

func addSelectionFlags(c *cobra.Command) {
	c.Flags().StringVarP(&profileName, "profile", "p", "", "Profile to run")
	c.Flags().BoolVar(&coreOnly, "core", false, "Core services and exceptions only (default)")
	c.Flags().StringVar(&pagingFlag, "paging", "", "Paging action: next, prev, reset or none")
	c.MarkFlagsMutuallyExclusive("profile", "core")
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildRequest turns the selection flags into a run request.
func buildRequest(action domain.Action) (usecase.RunRequest, error) {
	paging, ok := domain.ParsePagingAction(pagingFlag)
	if !ok {
		return usecase.RunRequest{}, fmt.Errorf("invalid --paging %q (want next, prev, reset or none)", pagingFlag)
	}
	req := usecase.RunRequest{Action: action, Kind: domain.OperationCoreOnly, Paging: paging, DryRun: dryRun, Force: force}
	if profileName != "" {
		req.Kind = domain.OperationProfile
		req.Profile = profileName
	}
	return req, nil
}

func actionRunner(action domain.Action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(action)
		if err != nil {
			return err
		}

		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if !req.DryRun {
			lock, err := infra.AcquireRunLock(a.cfg.Path)
			if err != nil {
				a.logger.Error("Run aborted", zap.Error(err))
				return err
			}
			defer func() { _ = lock.Release() }()
		}

		ctx, cancel := signalContext()
		defer cancel()

		out := cmd.OutOrStdout()
		planShown := false
		confirm := a.confirmations(ctx, out, &planShown)

		report, err := a.runner.Run(ctx, a.cfg, req, confirm)
		if report != nil && report.Plan != nil && !planShown {
			ux.Plan(out, report.Plan)
		}
		if report != nil {
			for _, pr := range report.PagingResults {
				ux.Paging(out, pr)
			}
		}
		if errors.Is(err, domain.ErrPlanDeclined) {
			fmt.Fprintln(out, "Aborted: no changes made.")
			return nil
		}
		if err != nil {
			a.logger.Error("Run failed", zap.Error(err))
			return err
		}

		ux.Results(out, report.Results)

		if tailAfter && !req.DryRun && len(a.cfg.Logs.Tail) > 0 {
			a.spawnTails()
		}
		return nil
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	action, ok := domain.ParseAction(args[0])
	if !ok {
		return fmt.Errorf("unknown action %q (want start, stop or restart)", args[0])
	}
	req, err := buildRequest(action)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	state := a.state.Load()
	switched := req.Kind == domain.OperationProfile && (state.LastProfile == nil || *state.LastProfile != req.Profile)
	resetPaging := switched && a.cfg.Paging.ResetOnProfileChange && a.cfg.Paging.Configured()

	plan, err := a.planner.Build(ctx, a.cfg, domain.Operation{
		Kind:          req.Kind,
		Profile:       req.Profile,
		Action:        req.Action,
		PagingRestart: req.Paging != domain.PagingNoChange || resetPaging,
	})
	if err != nil {
		return err
	}
	ux.Plan(cmd.OutOrStdout(), plan)
	if resetPaging {
		fmt.Fprintln(cmd.OutOrStdout(), "Profile switch: paging will be reset to page 1 before execution.")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()

	plan, err := a.planner.Build(ctx, a.cfg, domain.Operation{Kind: domain.OperationCoreOnly, Action: domain.ActionStart})
	if err != nil {
		return err
	}
	ux.Plan(out, plan)

	if profileName != "" {
		plan, err := a.planner.Build(ctx, a.cfg, domain.Operation{Kind: domain.OperationProfile, Profile: profileName, Action: domain.ActionStart})
		if err != nil {
			return err
		}
		ux.Plan(out, plan)
	}

	cursor, cursorErr := a.rewriter.Inspect(a.cfg.Paging)
	ux.Status(out, a.state.Load(), cursor.Offset, a.cfg.Paging.PageSize, cursorErr)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	_, issues, err := policy.Load(infra.NewFileStore(), configPath)
	if err != nil {
		return err
	}
	ux.Issues(cmd.OutOrStdout(), issues)
	return nil
}

func runPaging(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	a, err := newApp(args[0] != "show" && args[0] != "restore")
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "show":
		cursor, err := a.rewriter.Inspect(a.cfg.Paging)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "OFFSET %d (page %d, size %d)\n", cursor.Offset, cursor.Page(a.cfg.Paging.PageSize), a.cfg.Paging.PageSize)
		if cursor.FetchNext >= 0 {
			fmt.Fprintf(out, "FETCH NEXT %d ROWS ONLY\n", cursor.FetchNext)
		}
		fmt.Fprintln(out, cursor.Text)
		return nil

	case "restore":
		if !a.cfg.Paging.Configured() {
			return errors.New(usecase.ReasonNotConfigured)
		}
		settings := a.fs.ExpandHome(a.cfg.Paging.SettingsPath)
		bm := infra.NewBackupManager(a.fs, a.logger)
		src := backupPath
		if src == "" {
			if src, err = bm.Latest(settings); err != nil {
				return err
			}
		}
		safety, err := bm.Restore(settings, src)
		if err != nil {
			a.logger.Error("Paging restore failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(out, "Restored %s from %s\n", settings, src)
		if safety != "" {
			fmt.Fprintf(out, "Previous content saved to %s\n", safety)
		}
		return nil
	}

	action, ok := domain.ParsePagingAction(args[0])
	if !ok || action == domain.PagingNoChange {
		return fmt.Errorf("unknown paging action %q (want next, prev, reset, show or restore)", args[0])
	}

	if !dryRun {
		lock, err := infra.AcquireRunLock(a.cfg.Path)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, err := a.runner.Paging(ctx, a.cfg, action, restartFlag, dryRun, force)
	for _, pr := range report.PagingResults {
		ux.Paging(out, pr)
	}
	if err != nil {
		a.logger.Error("Paging failed", zap.Error(err))
		return err
	}
	if len(report.Results) > 0 {
		ux.Results(out, report.Results)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.history == nil {
		return errors.New("run history is disabled or unavailable")
	}
	ctx, cancel := signalContext()
	defer cancel()
	records, err := a.history.Recent(ctx, historyN)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	ux.History(cmd.OutOrStdout(), records)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if stopTails {
		spawner, err := logtail.NewSpawner(infra.NewProcessManager(), a.logger)
		if err != nil {
			return err
		}
		n, err := spawner.StopAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d tail helper(s)\n", n)
		return nil
	}

	if len(a.cfg.Logs.Tail) == 0 {
		return errors.New("no log files configured (logs.tail)")
	}
	if spawnTails {
		a.spawnTails()
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	return logtail.NewFollower(a.cfg.Logs.Tail, a.cfg.Logs.TailLines, cmd.OutOrStdout(), a.logger).Run(ctx)
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	return logtail.NewFollower([]string{tailFile}, tailLines, cmd.OutOrStdout(), zap.NewNop()).Run(ctx)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("svcgate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
