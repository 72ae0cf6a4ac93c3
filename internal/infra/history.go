package infra

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

const (
	historyDBName      = "history.db"
	historyKeyFileName = "history.key"
	historyKeySize     = 32
)

// EncryptedHistory implements domain.HistoryStore using a SQLCipher encrypted SQLite database.
type EncryptedHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedHistory opens (or creates) the history database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedHistory(dataDir string, key []byte) (*EncryptedHistory, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	h := &EncryptedHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

// OpenHistory opens the history database in dataDir with its key, creating both on
// first use.
func OpenHistory(dataDir string) (*EncryptedHistory, error) {
	key, err := loadHistoryKey(dataDir)
	if err != nil {
		return nil, err
	}
	return NewEncryptedHistory(dataDir, key)
}

// loadHistoryKey reads the hex key file next to the database. A missing file gets a
// fresh key written 0600. An unreadable or corrupt file is an error and is never
// replaced.
func loadHistoryKey(dataDir string) ([]byte, error) {
	keyPath := filepath.Join(dataDir, historyKeyFileName)

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != historyKeySize {
			return nil, fmt.Errorf("history key %s is corrupt", keyPath)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read history key: %w", err)
	}

	key, err := newHistoryKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := atomicWriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write history key: %w", err)
	}
	return key, nil
}

func newHistoryKey() ([]byte, error) {
	key := make([]byte, historyKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate history key: %w", err)
	}
	return key, nil
}

func (h *EncryptedHistory) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		action TEXT NOT NULL,
		operation TEXT NOT NULL,
		dry_run INTEGER NOT NULL,
		aborted INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_items (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		service TEXT NOT NULL,
		action TEXT NOT NULL,
		effective_action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		success INTEGER NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record stores a run and its item results in one transaction.
func (h *EncryptedHistory) Record(ctx context.Context, rec domain.RunRecord) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, started_at, action, operation, dry_run, aborted)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixNano(), string(rec.Action), rec.Operation, rec.DryRun, rec.Aborted,
	)
	if err != nil {
		return err
	}

	for i, r := range rec.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO run_items (run_id, seq, service, action, effective_action, outcome, success, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, r.ServiceName, string(r.Action), string(r.EffectiveAction), string(r.Outcome), r.Success, r.Message,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first, with their item results.
func (h *EncryptedHistory) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, action, operation, dry_run, aborted
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var records []domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var startedAt int64
		var action string
		if err := rows.Scan(&rec.ID, &startedAt, &action, &rec.Operation, &rec.DryRun, &rec.Aborted); err != nil {
			rows.Close()
			return nil, err
		}
		rec.StartedAt = time.Unix(0, startedAt)
		rec.Action = domain.Action(action)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		results, err := h.items(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Results = results
	}
	return records, nil
}

func (h *EncryptedHistory) items(ctx context.Context, runID string) ([]domain.OperationResult, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT service, action, effective_action, outcome, success, message
		FROM run_items WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.OperationResult
	for rows.Next() {
		var r domain.OperationResult
		var action, effective, outcome string
		if err := rows.Scan(&r.ServiceName, &action, &effective, &outcome, &r.Success, &r.Message); err != nil {
			return nil, err
		}
		r.Action = domain.Action(action)
		r.EffectiveAction = domain.Action(effective)
		r.Outcome = domain.Outcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Path returns the database file path.
func (h *EncryptedHistory) Path() string {
	return h.dbPath
}

// Close releases the database connection.
func (h *EncryptedHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Ensure EncryptedHistory implements domain.HistoryStore.
var _ domain.HistoryStore = (*EncryptedHistory)(nil)
