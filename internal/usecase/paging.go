package usecase

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// Soft failure reasons reported in PagingRewriteResult.Reason.
const (
	ReasonNotConfigured  = "Paging not configured"
	ReasonFileNotFound   = "File not found"
	ReasonKeyNotFound    = "Key not found"
	ReasonOffsetNotFound = "OFFSET not found"
	ReasonNoChange       = "No change requested"
	ReasonDryRun         = "Dry run"
	ReasonWritten        = "Settings updated"
)

var (
	offsetPattern = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)\s+ROWS\b`)
	fetchPattern  = regexp.MustCompile(`(?i)\bFETCH\s+NEXT\s+(\d+)\s+ROWS\s+ONLY\b`)
)

// Cursor is the paging state read from the settings file.
type Cursor struct {
	Offset    int
	FetchNext int // -1 when the text has no FETCH NEXT clause
	Text      string
}

// Page is the 1-based page number the offset falls on.
func (c Cursor) Page(pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return c.Offset/pageSize + 1
}

// Rewriter moves the paging cursor inside a settings file.
type Rewriter struct {
	fs     domain.FileStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRewriter creates a paging cursor rewriter.
func NewRewriter(fs domain.FileStore, logger *zap.Logger) *Rewriter {
	return &Rewriter{fs: fs, logger: logger, now: time.Now}
}

// NextOffset applies action to offset. PreviousPage clamps at zero.
func NextOffset(action domain.PagingAction, offset, pageSize int) int {
	switch action {
	case domain.PagingNextPage:
		return offset + pageSize
	case domain.PagingPreviousPage:
		return max(0, offset-pageSize)
	case domain.PagingRestartFromPage1:
		return 0
	default:
		return offset
	}
}

// RewriteCursor replaces the first OFFSET value and, when enforceFetchNext is set,
// pins the FETCH NEXT count to pageSize (appending the clause if absent).
// ok is false when the text has no OFFSET marker.
func RewriteCursor(text string, action domain.PagingAction, pageSize int, enforceFetchNext bool) (newText string, oldOffset, newOffset int, ok bool) {
	loc := offsetPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, 0, 0, false
	}
	oldOffset, err := strconv.Atoi(text[loc[2]:loc[3]])
	if err != nil {
		return text, 0, 0, false
	}
	newOffset = NextOffset(action, oldOffset, pageSize)
	newText = text[:loc[2]] + strconv.Itoa(newOffset) + text[loc[3]:]

	if enforceFetchNext {
		newText = enforceFetch(newText, pageSize)
	}
	return newText, oldOffset, newOffset, true
}

func enforceFetch(text string, pageSize int) string {
	if loc := fetchPattern.FindStringSubmatchIndex(text); loc != nil {
		return text[:loc[2]] + strconv.Itoa(pageSize) + text[loc[3]:]
	}
	clause := fmt.Sprintf("FETCH NEXT %d ROWS ONLY", pageSize)
	trimmed := strings.TrimRight(text, " \t\r\n")
	if strings.HasSuffix(trimmed, ";") {
		return strings.TrimRight(trimmed[:len(trimmed)-1], " \t\r\n") + " " + clause + ";"
	}
	return trimmed + " " + clause
}

// Inspect reads the current cursor without changing anything.
func (r *Rewriter) Inspect(spec domain.PagingSpec) (Cursor, error) {
	if !spec.Configured() {
		return Cursor{}, errors.New(ReasonNotConfigured)
	}
	data, err := r.fs.ReadText(r.fs.ExpandHome(spec.SettingsPath))
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to read settings: %w", err)
	}
	span, err := locateString(data, spec.SettingsKey)
	if err != nil {
		return Cursor{}, err
	}

	c := Cursor{FetchNext: -1, Text: span.value}
	m := offsetPattern.FindStringSubmatch(span.value)
	if m == nil {
		return c, errors.New(ReasonOffsetNotFound)
	}
	c.Offset, _ = strconv.Atoi(m[1])
	if f := fetchPattern.FindStringSubmatch(span.value); f != nil {
		c.FetchNext, _ = strconv.Atoi(f[1])
	}
	return c, nil
}

// Rewrite moves the cursor by action. It never returns an error: soft failures are
// reported in Reason, storage write failures in Err.
func (r *Rewriter) Rewrite(spec domain.PagingSpec, action domain.PagingAction, dryRun bool) domain.PagingRewriteResult {
	if action == domain.PagingNoChange {
		return domain.PagingRewriteResult{Success: true, Reason: ReasonNoChange}
	}
	if !spec.Configured() {
		return r.soft(spec, action, ReasonNotConfigured)
	}

	path := r.fs.ExpandHome(spec.SettingsPath)
	if !r.fs.Exists(path) {
		return r.soft(spec, action, ReasonFileNotFound)
	}
	data, err := r.fs.ReadText(path)
	if err != nil {
		return r.soft(spec, action, ReasonFileNotFound+": "+err.Error())
	}

	span, err := locateString(data, spec.SettingsKey)
	switch {
	case errors.Is(err, errKeyNotFound):
		return r.soft(spec, action, ReasonKeyNotFound)
	case err != nil:
		return r.soft(spec, action, ReasonKeyNotFound+": "+err.Error())
	}

	newText, oldOffset, newOffset, ok := RewriteCursor(span.value, action, spec.PageSize, spec.EnforceFetchNext)
	if !ok {
		return r.soft(spec, action, ReasonOffsetNotFound)
	}

	result := domain.PagingRewriteResult{
		Success:   true,
		OldOffset: oldOffset,
		NewOffset: newOffset,
		OldText:   span.value,
		NewText:   newText,
	}

	if dryRun {
		result.Reason = ReasonDryRun
		r.logger.Info(fmt.Sprintf("WhatIf: paging %s OFFSET %d -> %d", action, oldOffset, newOffset),
			zap.String("settings", path),
			zap.String("old", span.value),
			zap.String("new", newText))
		return result
	}

	updated, err := spliceString(data, span, newText)
	if err != nil {
		return r.hard(result, path, fmt.Errorf("failed to encode settings value: %w", err))
	}

	backup := domain.NextBackupPath(r.fs.Exists, path, r.now())
	if err := r.fs.CopyFile(path, backup); err != nil {
		return r.hard(result, path, fmt.Errorf("failed to back up settings: %w", err))
	}
	if err := r.fs.WriteText(path, updated); err != nil {
		return r.hard(result, path, fmt.Errorf("failed to write settings (backup at %s): %w", backup, err))
	}

	result.Changed = true
	result.BackupPath = backup
	result.Reason = ReasonWritten
	r.logger.Info(fmt.Sprintf("Paging %s: OFFSET %d -> %d", action, oldOffset, newOffset),
		zap.String("settings", path),
		zap.String("backup", backup))
	return result
}

func (r *Rewriter) soft(spec domain.PagingSpec, action domain.PagingAction, reason string) domain.PagingRewriteResult {
	r.logger.Warn("Paging "+string(action)+" failed: "+reason,
		zap.String("settings", spec.SettingsPath),
		zap.String("key", spec.SettingsKey))
	return domain.PagingRewriteResult{Success: false, Reason: reason}
}

func (r *Rewriter) hard(result domain.PagingRewriteResult, path string, err error) domain.PagingRewriteResult {
	r.logger.Error("Paging rewrite failed", zap.String("settings", path), zap.Error(err))
	result.Success = false
	result.Changed = false
	result.Reason = err.Error()
	result.Err = err
	return result
}
