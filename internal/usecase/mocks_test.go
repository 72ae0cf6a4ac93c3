package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// mockServiceManager implements domain.ServiceManager for testing.
// Successful calls update the in-memory state like a real host would.
type mockServiceManager struct {
	services   map[string]domain.ServiceSnapshot
	installed  []string
	failOn     map[string]error
	calls      []string
	fetchCalls [][]string
}

func newMockServiceManager(snaps ...domain.ServiceSnapshot) *mockServiceManager {
	m := &mockServiceManager{services: map[string]domain.ServiceSnapshot{}, failOn: map[string]error{}}
	for _, s := range snaps {
		m.services[s.Name] = s
		m.installed = append(m.installed, s.Name)
	}
	return m
}

func (m *mockServiceManager) EnumerateInstalled(_ context.Context, prefix string) []string {
	var out []string
	for _, n := range m.installed {
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (m *mockServiceManager) FetchSnapshots(_ context.Context, names []string) []domain.ServiceSnapshot {
	m.fetchCalls = append(m.fetchCalls, append([]string(nil), names...))
	out := make([]domain.ServiceSnapshot, 0, len(names))
	for _, n := range names {
		if s, ok := m.services[n]; ok {
			out = append(out, s)
		} else {
			out = append(out, domain.MissingSnapshot(n))
		}
	}
	return out
}

func (m *mockServiceManager) do(verb, name string, state domain.ServiceState) error {
	m.calls = append(m.calls, verb+" "+name)
	if err := m.failOn[name]; err != nil {
		return err
	}
	s := m.services[name]
	s.CurrentState = state
	m.services[name] = s
	return nil
}

func (m *mockServiceManager) Start(_ context.Context, name string) error {
	return m.do("Start", name, domain.StateRunning)
}

func (m *mockServiceManager) Stop(_ context.Context, name string, force bool) error {
	verb := "Stop"
	if force {
		verb = "ForceStop"
	}
	return m.do(verb, name, domain.StateStopped)
}

func (m *mockServiceManager) Restart(_ context.Context, name string, _ bool) error {
	return m.do("Restart", name, domain.StateRunning)
}

// mockStateStore implements domain.StateStore in memory.
type mockStateStore struct {
	state   domain.RunState
	saves   int
	saveErr error
}

func (m *mockStateStore) Load() domain.RunState { return m.state }

func (m *mockStateStore) Save(profile *string, at time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = domain.RunState{LastProfile: profile, LastRun: at}
	return nil
}

func (m *mockStateStore) Path() string { return "/tmp/mock.state.json" }

// mockHistoryStore implements domain.HistoryStore in memory.
type mockHistoryStore struct {
	records   []domain.RunRecord
	recordErr error
}

func (m *mockHistoryStore) Record(_ context.Context, rec domain.RunRecord) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockHistoryStore) Recent(_ context.Context, limit int) ([]domain.RunRecord, error) {
	if limit > len(m.records) {
		limit = len(m.records)
	}
	return m.records[:limit], nil
}

func (m *mockHistoryStore) Close() error { return nil }

// failingFileStore wraps a FileStore and fails writes or copies on demand.
type failingFileStore struct {
	domain.FileStore
	failWrite bool
	failCopy  bool
}

func (f *failingFileStore) WriteText(path string, data []byte) error {
	if f.failWrite {
		return errors.New("disk full")
	}
	return f.FileStore.WriteText(path, data)
}

func (f *failingFileStore) CopyFile(src, dst string) error {
	if f.failCopy {
		return errors.New("permission denied")
	}
	return f.FileStore.CopyFile(src, dst)
}

func snap(name string, state domain.ServiceState, mode domain.StartupMode) domain.ServiceSnapshot {
	return domain.ServiceSnapshot{Name: name, CurrentState: state, StartupMode: mode}
}

func names(items []domain.PlanItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ServiceName
	}
	return out
}

var (
	_ domain.ServiceManager = (*mockServiceManager)(nil)
	_ domain.StateStore     = (*mockStateStore)(nil)
	_ domain.HistoryStore   = (*mockHistoryStore)(nil)
)
