// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// FakeServiceManager is an in-memory host service manager. Mutating calls update
// the stored state and are recorded as "Verb Name".
type FakeServiceManager struct {
	mu       sync.Mutex
	services map[string]domain.ServiceSnapshot
	failures map[string]error
	calls    []string
}

// Ensure FakeServiceManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*FakeServiceManager)(nil)

// NewFakeServiceManager creates a manager with no services installed.
func NewFakeServiceManager() *FakeServiceManager {
	return &FakeServiceManager{
		services: make(map[string]domain.ServiceSnapshot),
		failures: make(map[string]error),
	}
}

// Install adds or replaces a service.
func (f *FakeServiceManager) Install(name string, state domain.ServiceState, mode domain.StartupMode) *FakeServiceManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[name] = domain.ServiceSnapshot{Name: name, CurrentState: state, StartupMode: mode}
	return f
}

// FailOn makes every mutating call against name return err.
func (f *FakeServiceManager) FailOn(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = err
}

// State returns the current state of name, or NotFound.
func (f *FakeServiceManager) State(name string) domain.ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[name]; ok {
		return s.CurrentState
	}
	return domain.StateNotFound
}

// Calls returns the mutating calls issued so far.
func (f *FakeServiceManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls forgets recorded calls.
func (f *FakeServiceManager) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeServiceManager) EnumerateInstalled(_ context.Context, prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.services {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (f *FakeServiceManager) FetchSnapshots(_ context.Context, names []string) []domain.ServiceSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ServiceSnapshot, 0, len(names))
	for _, n := range names {
		if s, ok := f.services[n]; ok {
			out = append(out, s)
		} else {
			out = append(out, domain.MissingSnapshot(n))
		}
	}
	return out
}

func (f *FakeServiceManager) Start(_ context.Context, name string) error {
	return f.apply("Start", name, domain.StateRunning)
}

func (f *FakeServiceManager) Stop(_ context.Context, name string, force bool) error {
	verb := "Stop"
	if force {
		verb = "ForceStop"
	}
	return f.apply(verb, name, domain.StateStopped)
}

func (f *FakeServiceManager) Restart(_ context.Context, name string, _ bool) error {
	return f.apply("Restart", name, domain.StateRunning)
}

func (f *FakeServiceManager) apply(verb, name string, state domain.ServiceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, verb+" "+name)
	if err := f.failures[name]; err != nil {
		return err
	}
	s, ok := f.services[name]
	if !ok {
		return fmt.Errorf("service %s not installed", name)
	}
	s.CurrentState = state
	f.services[name] = s
	return nil
}

// Workspace is a temp directory holding a policy document and an application
// settings file with an embedded paging query.
type Workspace struct {
	Dir          string
	PolicyPath   string
	SettingsPath string
}

// DefaultQuery is the paging query written into new settings files.
const DefaultQuery = "SELECT * FROM Orders ORDER BY Id OFFSET 0 ROWS;"

// NewWorkspace writes policy (with {{settings}} replaced by the settings path) and a
// settings file whose Jobs:Loader:Query member holds query.
func NewWorkspace(dir, policy, query string) (*Workspace, error) {
	w := &Workspace{
		Dir:          dir,
		PolicyPath:   filepath.Join(dir, "svcgate.yaml"),
		SettingsPath: filepath.Join(dir, "appsettings.json"),
	}
	settings := fmt.Sprintf("{\n  \"Name\": \"loader\",\n  \"Jobs\": {\n    \"Loader\": {\n      \"Query\": %q,\n      \"Batch\": 5\n    }\n  }\n}\n", query)
	if err := os.WriteFile(w.SettingsPath, []byte(settings), 0644); err != nil {
		return nil, err
	}
	policy = strings.ReplaceAll(policy, "{{settings}}", filepath.ToSlash(w.SettingsPath))
	policy = strings.ReplaceAll(policy, "{{dir}}", filepath.ToSlash(dir))
	if err := os.WriteFile(w.PolicyPath, []byte(policy), 0644); err != nil {
		return nil, err
	}
	return w, nil
}

// Settings returns the current settings file content.
func (w *Workspace) Settings() string {
	data, _ := os.ReadFile(w.SettingsPath)
	return string(data)
}

// Backups lists backup copies of the settings file.
func (w *Workspace) Backups() []string {
	matches, _ := filepath.Glob(w.SettingsPath + ".bak.*")
	sort.Strings(matches)
	return matches
}
