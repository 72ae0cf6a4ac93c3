//go:build !windows

package infra

import (
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile replaces path with data via a synced temp file and rename.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// copyFile copies a file from src to dst. The pending file is synced and renamed
// into place so dst is never observed half written.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	perm := os.FileMode(0644)
	if info, err := sourceFile.Stat(); err == nil {
		perm = info.Mode().Perm()
	}

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(perm))
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, sourceFile); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
