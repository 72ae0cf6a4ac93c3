package logtail

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// TailCommand is the hidden subcommand a helper process runs.
const TailCommand = "tail"

// Spawner starts one detached "svcgate tail --file F" helper per log file.
type Spawner struct {
	executable string
	processes  domain.ProcessManager
	logger     *zap.Logger
	start      func(*exec.Cmd) error
}

// NewSpawner creates a spawner that re-executes the running binary.
func NewSpawner(pm domain.ProcessManager, logger *zap.Logger) (*Spawner, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return NewSpawnerWithPath(executable, pm, logger), nil
}

// NewSpawnerWithPath creates a spawner for a specific binary.
func NewSpawnerWithPath(executable string, pm domain.ProcessManager, logger *zap.Logger) *Spawner {
	return &Spawner{
		executable: executable,
		processes:  pm,
		logger:     logger,
		start:      func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

func helperFragment(file string) string {
	return TailCommand + " --file " + file
}

// Spawn starts a helper for every file that does not already have one.
// Returns the files a helper was started for.
func (s *Spawner) Spawn(files []string, lines int) ([]string, error) {
	var started []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}

		pids, err := s.processes.FindByCmdline(filepath.Base(s.executable), helperFragment(abs))
		if err == nil && len(pids) > 0 {
			s.logger.Info("tail helper already running", zap.String("file", abs), zap.Int("pid", pids[0]))
			continue
		}

		cmd := exec.Command(s.executable, TailCommand, "--file", abs, "--lines", strconv.Itoa(lines))
		cmd.SysProcAttr = detachedAttr()
		if inheritConsole {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}

		if err := s.start(cmd); err != nil {
			return started, fmt.Errorf("failed to start tail helper for %s: %w", abs, err)
		}
		if cmd.Process != nil {
			_ = cmd.Process.Release()
		}
		s.logger.Info("started tail helper", zap.String("file", abs))
		started = append(started, abs)
	}
	return started, nil
}

// StopAll kills every running tail helper of this binary.
func (s *Spawner) StopAll() (int, error) {
	pids, err := s.processes.FindByCmdline(filepath.Base(s.executable), TailCommand+" --file ")
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}
	self := os.Getpid()
	killed := 0
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := s.processes.Kill(pid); err != nil {
			s.logger.Warn("failed to stop tail helper", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		killed++
	}
	return killed, nil
}
