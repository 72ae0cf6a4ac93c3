// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServiceState is the observed run state of a host service.
type ServiceState string

const (
	StateRunning  ServiceState = "Running"
	StateStopped  ServiceState = "Stopped"
	StateUnknown  ServiceState = "Unknown"
	StateNotFound ServiceState = "NotFound"
)

// StartupMode is how the host starts a service at boot.
type StartupMode string

const (
	StartupManual    StartupMode = "Manual"
	StartupAutomatic StartupMode = "Automatic"
	StartupDisabled  StartupMode = "Disabled"
	StartupUnknown   StartupMode = "Unknown"
)

// Action is a lifecycle operation on a single service.
type Action string

const (
	ActionStart   Action = "Start"
	ActionStop    Action = "Stop"
	ActionRestart Action = "Restart"
)

// ParseAction converts CLI input ("start", "Stop", ...) to an Action.
func ParseAction(s string) (Action, bool) {
	switch normalize(s) {
	case "start":
		return ActionStart, true
	case "stop":
		return ActionStop, true
	case "restart":
		return ActionRestart, true
	}
	return "", false
}

// PhaseKind orders plan items: StopOthers, then targets, then the paging restart.
type PhaseKind int

const (
	PhaseStopOthers PhaseKind = iota
	PhaseCoreTarget
	PhaseProfileTarget
	PhasePagingRestart
)

// Phase is a plan phase; Profile is set only for PhaseProfileTarget.
type Phase struct {
	Kind    PhaseKind
	Profile string
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseStopOthers:
		return "StopOthers"
	case PhaseCoreTarget:
		return "CoreTarget"
	case PhaseProfileTarget:
		return "ProfileTarget(" + p.Profile + ")"
	case PhasePagingRestart:
		return "PagingRestart"
	default:
		return "Unknown"
	}
}

// ServiceSet is an unordered set of service names.
type ServiceSet map[string]struct{}

// NewServiceSet builds a set from names, dropping duplicates and blanks.
func NewServiceSet(names ...string) ServiceSet {
	s := make(ServiceSet, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s ServiceSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in alphabetical order.
func (s ServiceSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// PagingSpec describes the paging cursor embedded in an application settings file.
type PagingSpec struct {
	ServiceName          string
	SettingsPath         string
	SettingsKey          string
	PageSize             int
	EnforceFetchNext     bool
	ResetOnProfileChange bool
}

// Configured reports whether a settings file and key were provided.
func (p PagingSpec) Configured() bool {
	return p.SettingsPath != "" && p.SettingsKey != ""
}

// LogSpec lists log files to tail and where the audit log goes.
type LogSpec struct {
	AuditLog  string
	Tail      []string
	TailLines int
}

// HistorySpec controls the encrypted run history.
type HistorySpec struct {
	Enabled bool
	DataDir string
}

// Configuration is the normalized, immutable policy.
type Configuration struct {
	Prefix     string
	Core       ServiceSet
	Profiles   map[string]ServiceSet
	Exceptions ServiceSet
	Paging     PagingSpec
	Logs       LogSpec
	History    HistorySpec
	// Path is the file the configuration was loaded from (empty for in-memory configs).
	Path string
}

// ProfileNames returns the configured profile names sorted.
func (c *Configuration) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServiceSnapshot is the live state of one service at query time.
type ServiceSnapshot struct {
	Name         string
	CurrentState ServiceState
	StartupMode  StartupMode
}

// MissingSnapshot is what a registry reports for a name it cannot see.
func MissingSnapshot(name string) ServiceSnapshot {
	return ServiceSnapshot{Name: name, CurrentState: StateNotFound, StartupMode: StartupUnknown}
}

// EligibilityDecision is the classifier verdict for a single service.
type EligibilityDecision struct {
	Eligible             bool
	RequiresConfirmation bool
	Reason               string
}

// PlanItem is one action the plan intends to take.
type PlanItem struct {
	Phase          Phase
	ServiceName    string
	IntendedAction Action
	Snapshot       ServiceSnapshot
	IsException    bool
	Decision       EligibilityDecision
}

// OperationKind selects between a Core-only run and a named profile run.
type OperationKind int

const (
	OperationCoreOnly OperationKind = iota
	OperationProfile
	// OperationPaging plans only the paging service restart.
	OperationPaging
)

// Operation is what the caller asked the plan builder for.
type Operation struct {
	Kind    OperationKind
	Profile string
	Action  Action
	// PagingRestart appends a restart of the paging service to the plan.
	PagingRestart bool
}

func (o Operation) String() string {
	switch o.Kind {
	case OperationProfile:
		return "Profile(" + o.Profile + ")"
	case OperationPaging:
		return "Paging"
	default:
		return "CoreOnly"
	}
}

// ProfilePtr is the value the run-state store records: nil unless this is a profile run.
func (o Operation) ProfilePtr() *string {
	if o.Kind != OperationProfile {
		return nil
	}
	p := o.Profile
	return &p
}

// ExecutionPlan is the ordered, fully classified list of items. It is frozen once built.
type ExecutionPlan struct {
	Operation Operation
	Items     []PlanItem
	BuiltAt   time.Time
}

// Count returns how many items fall into the given phase kind.
func (p *ExecutionPlan) Count(kind PhaseKind) int {
	n := 0
	for _, it := range p.Items {
		if it.Phase.Kind == kind {
			n++
		}
	}
	return n
}

// NeedsConfirmation reports whether any eligible item will prompt.
func (p *ExecutionPlan) NeedsConfirmation() bool {
	for _, it := range p.Items {
		if it.Decision.Eligible && it.Decision.RequiresConfirmation {
			return true
		}
	}
	return false
}

// Outcome classifies the result of applying one plan item.
type Outcome string

const (
	OutcomeWhatIf   Outcome = "WhatIf"
	OutcomeNoChange Outcome = "NoChange"
	OutcomeSuccess  Outcome = "Success"
	OutcomeError    Outcome = "Error"
	OutcomeSkipped  Outcome = "Skipped"
)

// OperationResult is what the executor reports for one service.
type OperationResult struct {
	ServiceName string
	Action      Action
	// EffectiveAction differs from Action when a restart of a stopped service ran as a start.
	EffectiveAction Action
	Success         bool
	Outcome         Outcome
	Message         string
}

// PagingAction moves the paging cursor.
type PagingAction string

const (
	PagingNoChange         PagingAction = "NoChange"
	PagingNextPage         PagingAction = "NextPage"
	PagingPreviousPage     PagingAction = "PreviousPage"
	PagingRestartFromPage1 PagingAction = "RestartFromPage1"
)

// ParsePagingAction accepts CLI spellings (next, prev, reset, none) and canonical names.
func ParsePagingAction(s string) (PagingAction, bool) {
	switch normalize(s) {
	case "", "none", "nochange":
		return PagingNoChange, true
	case "next", "nextpage":
		return PagingNextPage, true
	case "prev", "previous", "previouspage":
		return PagingPreviousPage, true
	case "reset", "first", "restartfrompage1":
		return PagingRestartFromPage1, true
	}
	return "", false
}

// PagingRewriteResult reports the outcome of one cursor rewrite. Soft failures set
// Success=false with a Reason; Err is set only when the storage layer failed to write.
type PagingRewriteResult struct {
	Success    bool
	Changed    bool
	OldOffset  int
	NewOffset  int
	OldText    string
	NewText    string
	BackupPath string
	Reason     string
	Err        error
}

// RunState is what survives between invocations.
type RunState struct {
	LastProfile *string   `json:"lastProfile"`
	LastRun     time.Time `json:"lastRun"`
}

// RunRecord is one row of the run history.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	Action    Action
	Operation string
	DryRun    bool
	Aborted   bool
	Results   []OperationResult
}

var separators = strings.NewReplacer("-", "", "_", "", " ", "")

func normalize(s string) string {
	return separators.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// BackupTimeLayout stamps settings backups; lexical order equals time order.
const BackupTimeLayout = "20060102-150405.000"

// BackupPath is where a settings file is copied before a real write.
func BackupPath(settingsPath string, at time.Time) string {
	return settingsPath + ".bak." + at.Format(BackupTimeLayout)
}

// NextBackupPath returns BackupPath, suffixed "-1", "-2", ... when a backup with
// that stamp already exists. Existing backups are never overwritten.
func NextBackupPath(exists func(string) bool, settingsPath string, at time.Time) string {
	base := BackupPath(settingsPath, at)
	candidate := base
	for n := 1; exists(candidate); n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return candidate
}
