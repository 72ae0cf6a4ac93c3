package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// BackupManager lists and restores the timestamped settings backups the paging
// rewriter leaves behind. Backups are never pruned.
type BackupManager struct {
	fs     domain.FileStore
	now    func() time.Time
	logger *zap.Logger
}

// NewBackupManager creates a backup manager.
func NewBackupManager(fs domain.FileStore, logger *zap.Logger) *BackupManager {
	return &BackupManager{fs: fs, now: time.Now, logger: logger}
}

// List returns the backups of settingsPath, oldest first.
func (bm *BackupManager) List(settingsPath string) ([]string, error) {
	matches, err := filepath.Glob(bm.fs.ExpandHome(settingsPath) + ".bak.*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Latest returns the newest backup of settingsPath.
func (bm *BackupManager) Latest(settingsPath string) (string, error) {
	backups, err := bm.List(settingsPath)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("no backups found for %s", settingsPath)
	}
	return backups[len(backups)-1], nil
}

// Restore copies backupPath over settingsPath. The current file is backed up first
// so a restore can itself be undone. Returns the path of that safety backup.
func (bm *BackupManager) Restore(settingsPath, backupPath string) (string, error) {
	wantSHA, err := computeSHA256(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to read backup %s: %w", backupPath, err)
	}

	var safety string
	if bm.fs.Exists(settingsPath) {
		safety = domain.NextBackupPath(bm.fs.Exists, settingsPath, bm.now())
		if err := bm.fs.CopyFile(settingsPath, safety); err != nil {
			return "", fmt.Errorf("failed to back up current settings: %w", err)
		}
	}

	if err := bm.fs.CopyFile(backupPath, settingsPath); err != nil {
		return safety, fmt.Errorf("failed to restore %s: %w", backupPath, err)
	}

	gotSHA, err := computeSHA256(bm.fs.ExpandHome(settingsPath))
	if err != nil || gotSHA != wantSHA {
		return safety, fmt.Errorf("restored settings do not match backup %s", backupPath)
	}

	bm.logger.Info("restored settings from backup",
		zap.String("settings", settingsPath),
		zap.String("backup", backupPath),
		zap.String("sha256", gotSHA[:16]+"..."))
	return safety, nil
}

// computeSHA256 calculates SHA256 hash of a file
func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
