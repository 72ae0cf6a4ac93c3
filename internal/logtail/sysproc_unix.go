//go:build !windows

package logtail

import "syscall"

// inheritConsole keeps the helper printing to the invoking terminal.
const inheritConsole = true

// detachedAttr starts the helper in its own session so it outlives the parent.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
