//go:build windows

package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

const scmPollInterval = 250 * time.Millisecond

// SCMManager implements domain.ServiceManager on the Windows Service Control Manager.
type SCMManager struct {
	StopTimeout time.Duration
	logger      *zap.Logger
}

// NewSCMManager creates a Service Control Manager backed service manager.
func NewSCMManager(logger *zap.Logger) *SCMManager {
	return &SCMManager{StopTimeout: 30 * time.Second, logger: logger}
}

// NewServiceManager returns the host's service manager.
func NewServiceManager(_ *ExecModeConfig, logger *zap.Logger) (domain.ServiceManager, error) {
	return NewSCMManager(logger), nil
}

func (m *SCMManager) withService(name string, fn func(*mgr.Service) error) error {
	scm, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer scm.Disconnect()

	s, err := scm.OpenService(name)
	if err != nil {
		return fmt.Errorf("failed to open service %s: %w", name, err)
	}
	defer s.Close()
	return fn(s)
}

// EnumerateInstalled lists services whose name starts with prefix.
func (m *SCMManager) EnumerateInstalled(_ context.Context, prefix string) []string {
	if prefix == "" {
		return nil
	}
	scm, err := mgr.Connect()
	if err != nil {
		m.logger.Warn("failed to connect to service manager", zap.Error(err))
		return nil
	}
	defer scm.Disconnect()

	all, err := scm.ListServices()
	if err != nil {
		m.logger.Warn("failed to list services", zap.Error(err))
		return nil
	}
	var names []string
	for _, n := range all {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	return names
}

// FetchSnapshots queries each service over one SCM connection.
func (m *SCMManager) FetchSnapshots(_ context.Context, names []string) []domain.ServiceSnapshot {
	result := make([]domain.ServiceSnapshot, 0, len(names))
	scm, err := mgr.Connect()
	if err != nil {
		m.logger.Warn("failed to connect to service manager", zap.Error(err))
		for _, n := range names {
			result = append(result, domain.ServiceSnapshot{Name: n, CurrentState: domain.StateUnknown, StartupMode: domain.StartupUnknown})
		}
		return result
	}
	defer scm.Disconnect()

	for _, n := range names {
		result = append(result, snapshotOf(scm, n))
	}
	return result
}

func snapshotOf(scm *mgr.Mgr, name string) domain.ServiceSnapshot {
	s, err := scm.OpenService(name)
	if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
		return domain.MissingSnapshot(name)
	}
	snap := domain.ServiceSnapshot{Name: name, CurrentState: domain.StateUnknown, StartupMode: domain.StartupUnknown}
	if err != nil {
		return snap
	}
	defer s.Close()

	if status, err := s.Query(); err == nil {
		snap.CurrentState = mapSvcState(status.State)
	}
	if cfg, err := s.Config(); err == nil {
		snap.StartupMode = mapStartType(cfg.StartType)
	}
	return snap
}

func mapSvcState(st svc.State) domain.ServiceState {
	switch st {
	case svc.Running, svc.StartPending, svc.ContinuePending, svc.PausePending, svc.Paused, svc.StopPending:
		return domain.StateRunning
	case svc.Stopped:
		return domain.StateStopped
	default:
		return domain.StateUnknown
	}
}

func mapStartType(t uint32) domain.StartupMode {
	switch t {
	case mgr.StartAutomatic:
		return domain.StartupAutomatic
	case mgr.StartManual:
		return domain.StartupManual
	case mgr.StartDisabled:
		return domain.StartupDisabled
	default:
		return domain.StartupUnknown
	}
}

// Start starts the service.
func (m *SCMManager) Start(_ context.Context, name string) error {
	return m.withService(name, func(s *mgr.Service) error {
		return s.Start()
	})
}

// Stop sends the stop control and waits for Stopped. Force kills the service
// process when the control fails or times out.
func (m *SCMManager) Stop(ctx context.Context, name string, force bool) error {
	return m.withService(name, func(s *mgr.Service) error {
		return m.stop(ctx, s, force)
	})
}

// Restart is stop, wait for Stopped, start.
func (m *SCMManager) Restart(ctx context.Context, name string, force bool) error {
	return m.withService(name, func(s *mgr.Service) error {
		if err := m.stop(ctx, s, force); err != nil {
			return err
		}
		return s.Start()
	})
}

func (m *SCMManager) stop(ctx context.Context, s *mgr.Service, force bool) error {
	status, err := s.Control(svc.Stop)
	if err == nil {
		err = m.waitStopped(ctx, s)
	}
	if err == nil || !force {
		return err
	}

	m.logger.Warn("stop control failed, killing service process", zap.String("service", s.Name), zap.Error(err))
	if status.ProcessId == 0 {
		if cur, qErr := s.Query(); qErr == nil {
			status = cur
		}
	}
	if status.ProcessId == 0 {
		return fmt.Errorf("failed to force stop %s: %w", s.Name, err)
	}
	p, pErr := process.NewProcess(int32(status.ProcessId))
	if pErr != nil {
		return fmt.Errorf("failed to force stop %s: %w", s.Name, pErr)
	}
	if kErr := p.KillWithContext(ctx); kErr != nil {
		return fmt.Errorf("failed to force stop %s: %w", s.Name, kErr)
	}
	return m.waitStopped(ctx, s)
}

func (m *SCMManager) waitStopped(ctx context.Context, s *mgr.Service) error {
	deadline := time.Now().Add(m.StopTimeout)
	for {
		status, err := s.Query()
		if err != nil {
			return err
		}
		if status.State == svc.Stopped {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s to stop", s.Name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scmPollInterval):
		}
	}
}

// Ensure SCMManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SCMManager)(nil)
