package infra

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// newTestHistory creates an encrypted history store in a temp directory.
func newTestHistory(t *testing.T) (*EncryptedHistory, string) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := newHistoryKey()
	require.NoError(t, err)

	h, err := NewEncryptedHistory(dataDir, key)
	require.NoError(t, err)

	t.Cleanup(func() { h.Close() })
	return h, dataDir
}

func TestEncryptedHistory_RecordAndRecent(t *testing.T) {
	h, _ := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := domain.RunRecord{
		ID:        "run-1",
		StartedAt: base,
		Action:    domain.ActionStart,
		Operation: "Core-only",
		Results: []domain.OperationResult{
			{ServiceName: "Acme.Core.Api", Action: domain.ActionStart, EffectiveAction: domain.ActionStart, Success: true, Outcome: domain.OutcomeSuccess, Message: "started"},
			{ServiceName: "Acme.Core.Db", Action: domain.ActionStart, EffectiveAction: domain.ActionStart, Success: true, Outcome: domain.OutcomeNoChange, Message: "already running"},
		},
	}
	second := domain.RunRecord{
		ID:        "run-2",
		StartedAt: base.Add(time.Hour),
		Action:    domain.ActionStop,
		Operation: "Profile 'Web'",
		Aborted:   true,
	}
	require.NoError(t, h.Record(ctx, first))
	require.NoError(t, h.Record(ctx, second))

	records, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "run-2", records[0].ID)
	assert.True(t, records[0].Aborted)
	assert.Empty(t, records[0].Results)

	assert.Equal(t, "run-1", records[1].ID)
	assert.Equal(t, domain.ActionStart, records[1].Action)
	assert.True(t, base.Equal(records[1].StartedAt))
	require.Len(t, records[1].Results, 2)
	assert.Equal(t, "Acme.Core.Api", records[1].Results[0].ServiceName)
	assert.Equal(t, domain.OutcomeNoChange, records[1].Results[1].Outcome)
}

func TestEncryptedHistory_RecentLimit(t *testing.T) {
	h, _ := newTestHistory(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Record(ctx, domain.RunRecord{
			ID:        id,
			StartedAt: time.Unix(int64(i), 0),
			Action:    domain.ActionRestart,
			Operation: "Core-only",
		}))
	}

	records, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestEncryptedHistory_WrongKey(t *testing.T) {
	h, dataDir := newTestHistory(t)
	require.NoError(t, h.Record(context.Background(), domain.RunRecord{ID: "x", Action: domain.ActionStart, Operation: "Core-only"}))
	require.NoError(t, h.Close())

	otherKey, err := newHistoryKey()
	require.NoError(t, err)
	_, err = NewEncryptedHistory(dataDir, otherKey)
	assert.Error(t, err)
}

func TestLoadHistoryKey_CreatedOnceAndReused(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	key, err := loadHistoryKey(dir)
	require.NoError(t, err)
	assert.Len(t, key, historyKeySize)

	info, err := os.Stat(filepath.Join(dir, historyKeyFileName))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	again, err := loadHistoryKey(dir)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestLoadHistoryKey_CorruptFileIsKept(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, historyKeyFileName)

	for _, content := range []string{"not hex", "abcd"} {
		require.NoError(t, os.WriteFile(keyPath, []byte(content), 0600))
		_, err := loadHistoryKey(dir)
		assert.Error(t, err, content)

		data, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestOpenHistory_ReopensWithStoredKey(t *testing.T) {
	dir := t.TempDir()
	h, err := OpenHistory(dir)
	require.NoError(t, err)
	require.NoError(t, h.Record(context.Background(), domain.RunRecord{ID: "x", Action: domain.ActionStart, Operation: "Core-only"}))
	require.NoError(t, h.Close())

	h, err = OpenHistory(dir)
	require.NoError(t, err)
	defer h.Close()
	records, err := h.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x", records[0].ID)
}
