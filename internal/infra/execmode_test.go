package infra

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDetectExecMode_ReturnsCorrectPaths(t *testing.T) {
	config := DetectExecMode()

	switch {
	case runtime.GOOS == "windows":
		if config.Mode != ExecModeSystem {
			t.Errorf("expected system mode on windows, got %s", config.Mode)
		}
		if filepath.Base(config.DataDir) != "svcgate" {
			t.Errorf("expected data dir ending in svcgate, got %s", config.DataDir)
		}
	case os.Geteuid() == 0:
		if config.Mode != ExecModeSystem || !config.IsRoot || config.UseSudo {
			t.Errorf("unexpected root config: %+v", config)
		}
		if config.DataDir != "/var/lib/svcgate" {
			t.Errorf("expected /var/lib/svcgate, got %s", config.DataDir)
		}
	default:
		if config.Mode != ExecModeUser {
			t.Errorf("expected user mode when euid!=0, got %s", config.Mode)
		}
		if !config.UseSudo {
			t.Error("expected user mode to control services through sudo")
		}
		expected := filepath.Join(GetRealUserHome(), ".svcgate")
		if config.DataDir != expected {
			t.Errorf("expected %s, got %s", expected, config.DataDir)
		}
	}
}

func TestExecModeConfig_WithDataDir(t *testing.T) {
	config := DetectExecMode()
	original := config.DataDir

	if got := config.WithDataDir("").DataDir; got != original {
		t.Errorf("empty override changed data dir to %s", got)
	}

	dir := t.TempDir()
	if got := config.WithDataDir(dir).DataDir; got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode     ExecMode
		expected string
	}{
		{ExecModeUser, "user (sudo for service control)"},
		{ExecModeSystem, "system (root)"},
		{ExecMode("invalid"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.String(); got != tt.expected {
				t.Errorf("ExecMode.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
