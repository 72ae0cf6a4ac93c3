// Package logtail follows log files and manages detached tail helper processes.
package logtail

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// DefaultTailLines is how many existing lines are printed before following.
const DefaultTailLines = 10

// stopGrace bounds how long the follower goroutine gets to exit.
const stopGrace = 200 * time.Millisecond

// followed is the read position of one file.
type followed struct {
	path    string
	label   string
	offset  int64
	partial []byte
}

// Follower prints the tail of several files, then every appended line, each
// prefixed with the file name.
type Follower struct {
	files  map[string]*followed
	lines  int
	out    io.Writer
	outMu  sync.Mutex
	logger *zap.Logger
}

// NewFollower creates a follower. tailLines <= 0 uses DefaultTailLines.
func NewFollower(paths []string, tailLines int, out io.Writer, logger *zap.Logger) *Follower {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	f := &Follower{files: make(map[string]*followed), lines: tailLines, out: out, logger: logger}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		f.files[abs] = &followed{path: abs, label: filepath.Base(p)}
	}
	return f
}

// Start prints each file's tail and begins following. The returned cleanup stops
// the follower and waits for it to exit.
func (f *Follower) Start(ctx context.Context) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch directories so rotated or recreated files are picked up.
	dirs := map[string]bool{}
	for _, fl := range f.files {
		f.printTail(fl)
		dir := filepath.Dir(fl.path)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = watcher.Close() })

	sctx.Go(func(sctx *stopper.Context) error {
		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				f.handle(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				f.logger.Warn("log watcher error", zap.Error(err))
			}
		}
		return nil
	})

	return func() error {
		sctx.Stop(stopGrace)
		return sctx.Wait()
	}, nil
}

// Run follows until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	cleanup, err := f.Start(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return cleanup()
}

func (f *Follower) handle(event fsnotify.Event) {
	fl, ok := f.files[filepath.Clean(event.Name)]
	if !ok {
		return
	}
	switch {
	case event.Has(fsnotify.Create):
		fl.offset = 0
		fl.partial = nil
		f.readNew(fl)
	case event.Has(fsnotify.Write):
		f.readNew(fl)
	}
}

// printTail prints the last lines of the file and moves the offset to its end.
func (f *Follower) printTail(fl *followed) {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		f.logger.Warn("cannot read log file", zap.String("path", fl.path), zap.Error(err))
		return
	}
	fl.offset = int64(len(data))
	for _, line := range LastLines(data, f.lines) {
		f.emit(fl, line)
	}
}

// readNew prints complete lines appended since the last read. A file that shrank
// was truncated and is read from the start.
func (f *Follower) readNew(fl *followed) {
	file, err := os.Open(fl.path)
	if err != nil {
		return
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() < fl.offset {
		fl.offset = 0
		fl.partial = nil
	}
	if _, err := file.Seek(fl.offset, io.SeekStart); err != nil {
		return
	}
	chunk, err := io.ReadAll(file)
	if err != nil || len(chunk) == 0 {
		return
	}
	fl.offset += int64(len(chunk))

	buf := append(fl.partial, chunk...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		fl.partial = buf
		return
	}
	fl.partial = append([]byte(nil), buf[last+1:]...)

	sc := bufio.NewScanner(bytes.NewReader(buf[:last+1]))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		f.emit(fl, sc.Text())
	}
}

func (f *Follower) emit(fl *followed, line string) {
	f.outMu.Lock()
	defer f.outMu.Unlock()
	fmt.Fprintf(f.out, "[%s] %s\n", fl.label, strings.TrimSuffix(line, "\r"))
}

// LastLines returns up to n trailing lines of data, without line terminators.
func LastLines(data []byte, n int) []string {
	text := string(bytes.TrimRight(data, "\r\n"))
	if text == "" || n <= 0 {
		return nil
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader([]byte(text)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
