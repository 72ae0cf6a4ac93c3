package infra

import (
	"fmt"
	"os"
)

// LockFileSuffix is appended to the configuration path to locate the run lock.
const LockFileSuffix = ".lock"

// RunLock is an exclusive, non-blocking lock held for the duration of one run.
type RunLock struct {
	path string
	file *os.File
}

// AcquireRunLock locks <configPath>.lock. It fails with domain.ErrLocked when
// another process holds it.
func AcquireRunLock(configPath string) (*RunLock, error) {
	path := configPath + LockFileSuffix
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &RunLock{path: path, file: f}, nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The file itself is left in place.
func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
