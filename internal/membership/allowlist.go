// Package membership answers whether a handle is on the founding member
// allow-list. The list is curated outside the app, so it is consulted on
// every call rather than copied into stored profiles.
package membership

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/open-builders/points-backend/internal/common/logger"
)

// Checker reports founding membership for a handle.
type Checker interface {
	IsFoundingMember(handle string) bool
}

// AllowList is a set of handles loaded from configuration and, optionally,
// a file that is reloaded whenever it changes on disk.
type AllowList struct {
	mu      sync.RWMutex
	static  map[string]struct{}
	file    map[string]struct{}
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAllowList builds a list from static handles.
func NewAllowList(handles []string) *AllowList {
	l := &AllowList{static: make(map[string]struct{}), file: make(map[string]struct{})}
	for _, h := range handles {
		if n := Normalize(h); n != "" {
			l.static[n] = struct{}{}
		}
	}
	return l
}

// IsFoundingMember implements Checker.
func (l *AllowList) IsFoundingMember(handle string) bool {
	n := Normalize(handle)
	if n == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.static[n]; ok {
		return true
	}
	_, ok := l.file[n]
	return ok
}

// Size returns the number of distinct handles currently on the list.
func (l *AllowList) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.static)
	for h := range l.file {
		if _, dup := l.static[h]; !dup {
			n++
		}
	}
	return n
}

// LoadFile reads one handle per line; blank lines and '#' comments are skipped.
func (l *AllowList) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open allow-list: %w", err)
	}
	defer f.Close()

	next := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if n := Normalize(line); n != "" {
			next[n] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read allow-list: %w", err)
	}

	l.mu.Lock()
	l.file = next
	l.path = path
	l.mu.Unlock()
	return nil
}

// Watch reloads the list file on writes until ctx is done or Close is called.
func (l *AllowList) Watch(ctx context.Context, path string) error {
	if err := l.LoadFile(path); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}
	l.watcher = w
	l.done = make(chan struct{})
	go l.run(ctx, path)
	return nil
}

func (l *AllowList) run(ctx context.Context, path string) {
	defer close(l.done)
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.LoadFile(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("founding member list reload failed")
				continue
			}
			logger.Info().Int("handles", l.Size()).Msg("founding member list reloaded")
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("founding member list watcher error")
		}
	}
}

// Close stops the file watcher, if any.
func (l *AllowList) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

// Normalize lower-cases a handle and strips a leading '@'.
func Normalize(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}
