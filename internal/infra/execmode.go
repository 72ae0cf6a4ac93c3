package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents who svcgate runs as.
type ExecMode string

const (
	// ExecModeUser runs unprivileged; service control goes through sudo on Linux.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root (or elevated on Windows).
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string // Where the encrypted history and its key live
	IsRoot  bool
	UseSudo bool // Prefix systemctl calls with sudo -n
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if runtime.GOOS == "windows" {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			DataDir: filepath.Join(programData(), "svcgate"),
		}
	}

	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			DataDir: "/var/lib/svcgate",
			IsRoot:  true,
		}
	}

	return &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(GetRealUserHome(), ".svcgate"),
		UseSudo: true,
	}
}

// WithDataDir overrides the data directory when the configuration names one.
func (c *ExecModeConfig) WithDataDir(dir string) *ExecModeConfig {
	if dir != "" {
		c.DataDir = dir
	}
	return c
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (sudo for service control)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

func programData() string {
	if dir := os.Getenv("ProgramData"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}
