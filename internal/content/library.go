package content

import (
	"context"
	"sync/atomic"

	"versebot/internal/fswatch"
	logx "versebot/pkg/logx"
)

// Library is a Catalog backed by a file on disk. Watch swaps in a new
// Sequence whenever the file changes; a file that fails to parse leaves the
// current sequence in place.
type Library struct {
	path string
	log  logx.Logger
	seq  atomic.Pointer[Sequence]
}

// OpenLibrary loads path once. The returned Library serves that sequence
// until Watch picks up a newer one.
func OpenLibrary(path string, log logx.Logger) (*Library, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	seq, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	l := &Library{path: path, log: log}
	l.seq.Store(seq)
	log.Info("content loaded", logx.String("path", path), logx.Int("days", seq.Len()))
	return l, nil
}

func (l *Library) Exists(day int) bool      { return l.seq.Load().Exists(day) }
func (l *Library) Get(day int) (Item, bool) { return l.seq.Load().Get(day) }
func (l *Library) Len() int                 { return l.seq.Load().Len() }

// Reload re-reads the file and swaps the sequence on success.
func (l *Library) Reload() error {
	seq, err := LoadFile(l.path)
	if err != nil {
		return err
	}
	prev := l.seq.Swap(seq)
	if seq.Len() < prev.Len() {
		l.log.Warn("content shrank; recipients past the end will get the completion message",
			logx.Int("prev_days", prev.Len()), logx.Int("days", seq.Len()))
	}
	l.log.Info("content reloaded", logx.String("path", l.path), logx.Int("days", seq.Len()))
	return nil
}

// Watch reloads the catalog on file changes until ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	return fswatch.Watch(ctx, l.path, fswatch.DefaultDebounce, l.log.With(logx.String("watch", "content")), func() {
		if err := l.Reload(); err != nil {
			l.log.Warn("content reload failed; keeping previous catalog", logx.String("path", l.path), logx.Err(err))
		}
	})
}
