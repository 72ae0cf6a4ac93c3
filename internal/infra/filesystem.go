package infra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// FileStoreImpl implements domain.FileStore on the local filesystem.
type FileStoreImpl struct {
	homeDir string
}

// NewFileStore creates a new file store.
func NewFileStore() *FileStoreImpl {
	home, _ := os.UserHomeDir()
	return &FileStoreImpl{homeDir: home}
}

// NewFileStoreWithHome creates a file store with custom home (for testing).
func NewFileStoreWithHome(home string) *FileStoreImpl {
	return &FileStoreImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fs *FileStoreImpl) Exists(path string) bool {
	_, err := os.Stat(fs.ExpandHome(path))
	return err == nil
}

// ReadText returns the file content.
func (fs *FileStoreImpl) ReadText(path string) ([]byte, error) {
	return os.ReadFile(fs.ExpandHome(path))
}

// WriteText replaces the file content atomically (temp file + rename), keeping
// the existing permissions when the file is already there.
func (fs *FileStoreImpl) WriteText(path string, data []byte) error {
	expanded := fs.ExpandHome(path)
	perm := os.FileMode(0644)
	if info, err := os.Stat(expanded); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return err
	}
	return atomicWriteFile(expanded, data, perm)
}

// CopyFile copies src to dst using an atomic write, keeping the source permissions.
func (fs *FileStoreImpl) CopyFile(src, dst string) error {
	return copyFile(fs.ExpandHome(src), fs.ExpandHome(dst))
}

// ExpandHome expands ~ to the user's home directory.
func (fs *FileStoreImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fs.homeDir, path[2:])
	}
	if path == "~" {
		return fs.homeDir
	}
	return path
}

// Ensure FileStoreImpl implements domain.FileStore.
var _ domain.FileStore = (*FileStoreImpl)(nil)
