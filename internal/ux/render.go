// Package ux renders plans, results and diagnostics for the terminal.
package ux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

var (
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C8A94")
	ColorAccent  = lipgloss.Color("#20B9B4")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	phaseStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(ColorSuccess)
	warnStyle    = lipgloss.NewStyle().Foreground(ColorWarning)
	errStyle     = lipgloss.NewStyle().Foreground(ColorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	nameStyle    = lipgloss.NewStyle().Width(32)
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorAccent).Padding(0, 1)
)

// Icons mark item state in lists.
const (
	IconOK      = "✓"
	IconSkip    = "○"
	IconConfirm = "?"
	IconError   = "✗"
	IconWhatIf  = "~"
)

// Plan prints the plan grouped by phase.
func Plan(w io.Writer, plan *domain.ExecutionPlan) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Plan: %s %s", plan.Operation.Action, plan.Operation)))
	if len(plan.Items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  (nothing to do)"))
		return
	}

	current := ""
	for _, it := range plan.Items {
		if ph := it.Phase.String(); ph != current {
			current = ph
			fmt.Fprintln(w, phaseStyle.Render(ph))
		}
		icon, style := IconSkip, mutedStyle
		switch {
		case it.Decision.Eligible && it.Decision.RequiresConfirmation:
			icon, style = IconConfirm, warnStyle
		case it.Decision.Eligible:
			icon, style = IconOK, okStyle
		case it.IsException:
			style = warnStyle
		}
		fmt.Fprintf(w, "  %s %s %-8s %-9s %-9s %s\n",
			style.Render(icon),
			nameStyle.Render(it.ServiceName),
			it.IntendedAction,
			it.Snapshot.CurrentState,
			it.Snapshot.StartupMode,
			style.Render(it.Decision.Reason))
	}
}

// Results prints one line per operation result and a summary box.
func Results(w io.Writer, results []domain.OperationResult) {
	counts := map[domain.Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
		icon, style := resultIcon(r.Outcome)
		action := string(r.Action)
		if r.EffectiveAction != "" && r.EffectiveAction != r.Action {
			action = fmt.Sprintf("%s→%s", r.Action, r.EffectiveAction)
		}
		fmt.Fprintf(w, "  %s %s %-15s %s\n", style.Render(icon), nameStyle.Render(r.ServiceName), action, style.Render(r.Message))
	}

	var parts []string
	for _, o := range []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeNoChange, domain.OutcomeWhatIf, domain.OutcomeSkipped, domain.OutcomeError} {
		if counts[o] > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", o, counts[o]))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no items")
	}
	fmt.Fprintln(w, summaryStyle.Render(strings.Join(parts, " · ")))
}

func resultIcon(o domain.Outcome) (string, lipgloss.Style) {
	switch o {
	case domain.OutcomeSuccess, domain.OutcomeNoChange:
		return IconOK, okStyle
	case domain.OutcomeWhatIf:
		return IconWhatIf, mutedStyle
	case domain.OutcomeError:
		return IconError, errStyle
	default:
		return IconSkip, mutedStyle
	}
}

// Paging prints one rewrite result.
func Paging(w io.Writer, res domain.PagingRewriteResult) {
	switch {
	case !res.Success:
		fmt.Fprintln(w, warnStyle.Render("Paging: "+res.Reason))
	case res.OldText == "" && res.NewText == "":
		fmt.Fprintln(w, mutedStyle.Render("Paging: "+res.Reason))
	default:
		line := fmt.Sprintf("Paging: OFFSET %d → %d", res.OldOffset, res.NewOffset)
		if res.Changed {
			fmt.Fprintln(w, okStyle.Render(line)+mutedStyle.Render("  (backup "+res.BackupPath+")"))
		} else {
			fmt.Fprintln(w, mutedStyle.Render(line+"  (dry run)"))
		}
		fmt.Fprintln(w, mutedStyle.Render("  old: ")+res.OldText)
		fmt.Fprintln(w, mutedStyle.Render("  new: ")+res.NewText)
	}
}

// Issues prints configuration advisories.
func Issues(w io.Writer, issues []string) {
	if len(issues) == 0 {
		fmt.Fprintln(w, okStyle.Render(IconOK+" Configuration OK"))
		return
	}
	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d configuration issue(s):", len(issues))))
	for _, is := range issues {
		fmt.Fprintln(w, "  "+warnStyle.Render("!")+" "+is)
	}
}

// Status prints the run state.
func Status(w io.Writer, state domain.RunState, offset, pageSize int, pagingErr error) {
	last := "(none)"
	if state.LastProfile != nil {
		last = *state.LastProfile
	}
	lastRun := "never"
	if !state.LastRun.IsZero() {
		lastRun = state.LastRun.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "%s %s\n", phaseStyle.Render("Last profile:"), last)
	fmt.Fprintf(w, "%s %s\n", phaseStyle.Render("Last run:    "), lastRun)
	if pagingErr != nil {
		fmt.Fprintf(w, "%s %s\n", phaseStyle.Render("Paging:      "), warnStyle.Render(pagingErr.Error()))
		return
	}
	page := 1
	if pageSize > 0 {
		page = offset/pageSize + 1
	}
	fmt.Fprintf(w, "%s OFFSET %d (page %d, size %d)\n", phaseStyle.Render("Paging:      "), offset, page, pageSize)
}

// History prints recorded runs, newest first.
func History(w io.Writer, records []domain.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No runs recorded"))
		return
	}
	for _, rec := range records {
		flag := ""
		switch {
		case rec.Aborted:
			flag = warnStyle.Render(" (declined)")
		case rec.DryRun:
			flag = mutedStyle.Render(" (dry run)")
		}
		failed := 0
		for _, r := range rec.Results {
			if r.Outcome == domain.OutcomeError {
				failed++
			}
		}
		summary := fmt.Sprintf("%d items", len(rec.Results))
		if failed > 0 {
			summary += ", " + errStyle.Render(fmt.Sprintf("%d failed", failed))
		}
		fmt.Fprintf(w, "%s  %s  %-8s %-20s %s%s\n",
			mutedStyle.Render(rec.ID[:min(8, len(rec.ID))]),
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Action, rec.Operation, summary, flag)
	}
}
