//go:build windows

package logtail

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// inheritConsole is false: each helper gets its own console.
const inheritConsole = false

// detachedAttr opens each helper in its own console window.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_CONSOLE}
}
