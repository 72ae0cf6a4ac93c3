package domain

import (
	"context"
	"time"
)

// ServiceRegistry answers questions about installed host services.
// Implementations: systemctl (Linux), Service Control Manager (Windows).
type ServiceRegistry interface {
	// EnumerateInstalled returns installed service names starting with prefix.
	// Best-effort: returns an empty list on failure.
	EnumerateInstalled(ctx context.Context, prefix string) []string

	// FetchSnapshots returns exactly one snapshot per requested name.
	// Names the registry cannot see are reported as NotFound/Unknown.
	FetchSnapshots(ctx context.Context, names []string) []ServiceSnapshot
}

// ServiceController issues lifecycle commands. Each call may fail.
type ServiceController interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, force bool) error
	Restart(ctx context.Context, name string, force bool) error
}

// ServiceManager is a registry and controller for the same host.
type ServiceManager interface {
	ServiceRegistry
	ServiceController
}

// FileStore is the storage primitive used by config load, the state store and the paging rewriter.
type FileStore interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// ReadText returns the file content.
	ReadText(path string) ([]byte, error)

	// WriteText replaces the file content atomically, keeping its permissions.
	WriteText(path string, data []byte) error

	// CopyFile copies src to dst.
	CopyFile(src, dst string) error

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// StateStore persists the last used profile.
type StateStore interface {
	// Load never fails; absence or corruption yields a zero RunState.
	Load() RunState

	// Save overwrites the state file, creating its directory if needed.
	Save(profile *string, at time.Time) error

	// Path returns the state file path.
	Path() string
}

// HistoryStore records finished runs.
type HistoryStore interface {
	Record(ctx context.Context, rec RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ProcessManager handles OS process operations for helper processes.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByCmdline returns PIDs of processes whose command line contains every fragment.
	FindByCmdline(fragments ...string) ([]int, error)

	// Kill terminates a process by PID.
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}
