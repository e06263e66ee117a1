// Package fswatch calls back when a single file changes on disk.
//
// Editors often write in several steps (truncate, write, rename), so events
// are debounced. fsnotify watchers can stop delivering events on some
// platforms; a broken watcher is recreated with a jittered exponential
// backoff until ctx is done.
package fswatch

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "versebot/pkg/logx"
)

const (
	DefaultDebounce = 250 * time.Millisecond

	backoffBase = 250 * time.Millisecond
	backoffMax  = 5 * time.Second
)

// Watch blocks until ctx is done, calling onChange (at most once per
// debounce window) after path is written, created or renamed into place.
// onChange runs on a timer goroutine and must not block for long.
func Watch(ctx context.Context, path string, debounce time.Duration, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, backoffMax)
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("file change detected; scheduling reload", logx.String("path", path))
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("watch init failed", logx.String("dir", dir), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = backoffBase
		log.Debug("watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// compare by basename; event paths may be relative or absolute
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// missed events; reload once and keep going
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("watch overflow; forcing reload", logx.String("dir", dir))
					schedule()
					continue
				}
				log.Warn("watch error", logx.String("dir", dir), logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		wait := nextWait()
		log.Warn("watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
