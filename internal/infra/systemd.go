//go:build !windows

package infra

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

const (
	unitSuffix = ".service"
	// showChunkSize bounds the number of units per "systemctl show" call.
	showChunkSize = 32
	showParallel  = 4
)

// commandRunner runs a command and returns stdout. Swapped out in tests.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

// SystemdManager implements domain.ServiceManager by shelling out to systemctl.
type SystemdManager struct {
	UseSudo       bool
	SudoCommand   string
	SystemctlPath string
	Timeout       time.Duration

	run    commandRunner
	logger *zap.Logger
}

// NewSystemdManager creates a systemctl-backed service manager.
func NewSystemdManager(useSudo bool, logger *zap.Logger) *SystemdManager {
	return &SystemdManager{
		UseSudo:       useSudo,
		SudoCommand:   "sudo",
		SystemctlPath: "systemctl",
		Timeout:       90 * time.Second,
		run:           runCommand,
		logger:        logger,
	}
}

// NewServiceManager returns the host's service manager.
func NewServiceManager(mode *ExecModeConfig, logger *zap.Logger) (domain.ServiceManager, error) {
	return NewSystemdManager(mode.UseSudo, logger), nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// systemctl runs a read-only query; queries never need sudo.
func (m *SystemdManager) systemctl(ctx context.Context, args ...string) (string, error) {
	return m.run(ctx, m.SystemctlPath, args...)
}

// control runs a mutating systemctl command, via sudo -n when configured.
func (m *SystemdManager) control(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	var err error
	if m.UseSudo {
		sudoArgs := append([]string{"-n", m.SystemctlPath}, args...)
		_, err = m.run(ctx, m.SudoCommand, sudoArgs...)
	} else {
		_, err = m.run(ctx, m.SystemctlPath, args...)
	}
	if err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// EnumerateInstalled lists installed service units whose name starts with prefix.
func (m *SystemdManager) EnumerateInstalled(ctx context.Context, prefix string) []string {
	if prefix == "" {
		return nil
	}
	out, err := m.systemctl(ctx, "list-unit-files", "--type=service", "--no-legend", "--plain", prefix+"*")
	if err != nil {
		// systemctl exits non-zero when nothing matches.
		m.logger.Debug("list-unit-files failed", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}
	return parseUnitFiles(out, prefix)
}

func parseUnitFiles(out, prefix string) []string {
	seen := make(map[string]bool)
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		unit := fields[0]
		if !strings.HasSuffix(unit, unitSuffix) || strings.HasSuffix(unit, "@"+unitSuffix) {
			continue
		}
		name := strings.TrimSuffix(unit, unitSuffix)
		if !strings.HasPrefix(name, prefix) || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// FetchSnapshots queries systemctl show in concurrent chunks. A failed chunk
// reports its names as Unknown.
func (m *SystemdManager) FetchSnapshots(ctx context.Context, names []string) []domain.ServiceSnapshot {
	byName := make(map[string]domain.ServiceSnapshot, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(showParallel)
	for start := 0; start < len(names); start += showChunkSize {
		end := min(start+showChunkSize, len(names))
		chunk := names[start:end]
		g.Go(func() error {
			snaps, err := m.show(gctx, chunk)
			if err != nil {
				m.logger.Warn("failed to query service state", zap.Strings("services", chunk), zap.Error(err))
				return nil
			}
			mu.Lock()
			for _, s := range snaps {
				byName[s.Name] = s
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := make([]domain.ServiceSnapshot, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			s = domain.ServiceSnapshot{Name: n, CurrentState: domain.StateUnknown, StartupMode: domain.StartupUnknown}
		}
		result = append(result, s)
	}
	return result
}

func (m *SystemdManager) show(ctx context.Context, names []string) ([]domain.ServiceSnapshot, error) {
	args := []string{"show", "-p", "Id,LoadState,ActiveState,UnitFileState"}
	for _, n := range names {
		args = append(args, n+unitSuffix)
	}
	out, err := m.systemctl(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseShowOutput(out), nil
}

// parseShowOutput reads blank-line separated property blocks.
func parseShowOutput(out string) []domain.ServiceSnapshot {
	var snaps []domain.ServiceSnapshot
	props := map[string]string{}
	flush := func() {
		if id := props["Id"]; id != "" {
			snaps = append(snaps, snapshotFromProps(props))
		}
		props = map[string]string{}
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	flush()
	return snaps
}

func snapshotFromProps(props map[string]string) domain.ServiceSnapshot {
	name := strings.TrimSuffix(props["Id"], unitSuffix)
	if props["LoadState"] == "not-found" {
		return domain.MissingSnapshot(name)
	}
	return domain.ServiceSnapshot{
		Name:         name,
		CurrentState: mapActiveState(props["ActiveState"]),
		StartupMode:  mapUnitFileState(props["UnitFileState"]),
	}
}

func mapActiveState(s string) domain.ServiceState {
	switch s {
	case "active", "reloading", "deactivating":
		return domain.StateRunning
	case "inactive", "failed":
		return domain.StateStopped
	default:
		return domain.StateUnknown
	}
}

func mapUnitFileState(s string) domain.StartupMode {
	switch s {
	case "enabled", "enabled-runtime":
		return domain.StartupAutomatic
	case "disabled", "static", "indirect", "generated":
		return domain.StartupManual
	case "masked", "masked-runtime":
		return domain.StartupDisabled
	default:
		return domain.StartupUnknown
	}
}

// Start starts the unit.
func (m *SystemdManager) Start(ctx context.Context, name string) error {
	return m.control(ctx, "start", name+unitSuffix)
}

// Stop stops the unit. Force replaces queued jobs and falls back to SIGKILL.
func (m *SystemdManager) Stop(ctx context.Context, name string, force bool) error {
	if !force {
		return m.control(ctx, "stop", name+unitSuffix)
	}
	err := m.control(ctx, "stop", "--job-mode=replace-irreversibly", name+unitSuffix)
	if err == nil {
		return nil
	}
	m.logger.Warn("forced stop failed, sending SIGKILL", zap.String("service", name), zap.Error(err))
	if killErr := m.control(ctx, "kill", "--signal=SIGKILL", name+unitSuffix); killErr != nil {
		return fmt.Errorf("failed to force stop %s: %w", name, killErr)
	}
	return nil
}

// Restart restarts the unit.
func (m *SystemdManager) Restart(ctx context.Context, name string, force bool) error {
	if force {
		return m.control(ctx, "restart", "--job-mode=replace-irreversibly", name+unitSuffix)
	}
	return m.control(ctx, "restart", name+unitSuffix)
}

// Ensure SystemdManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SystemdManager)(nil)
