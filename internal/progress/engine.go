// Package progress decides what each recipient gets next and commits the
// advance exactly once per call.
//
// A recipient's day is the number of items already delivered. Advance reads
// it, renders item day+1 and stores day+1, all under a per-identity lock, so
// two triggers racing on the same recipient (an inbound message and the
// daily push) are serialized rather than both committing the same day.
//
// The commit happens before delivery. If the send later fails the day is not
// rolled back: content is sent at most once, and the next trigger moves on.
// Once the catalog is exhausted the day stops changing and every call
// returns content.CompletionMessage.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"versebot/internal/content"
	"versebot/internal/storage"
	logx "versebot/pkg/logx"
)

var ErrEmptyIdentity = errors.New("progress: empty identity")

// Result describes one Advance call.
type Result struct {
	Identity string
	// Day is the recipient's day after the call.
	Day     int
	Message string
	// New is set when the recipient had no stored record before the call.
	New bool
	// Advanced is set when Day was incremented and committed.
	Advanced bool
	// Completed is set when the catalog had nothing left to send.
	Completed bool
}

type Engine struct {
	store   storage.Store
	catalog content.Catalog
	log     logx.Logger
	locks   *keyedLocks
}

func New(store storage.Store, catalog content.Catalog, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, catalog: catalog, log: log, locks: newKeyedLocks()}
}

// Advance moves identity one item forward and returns the rendered message.
// Store faults are returned wrapped in storage.ErrStore.
func (e *Engine) Advance(ctx context.Context, identity string, style content.Style) (Result, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Result{}, ErrEmptyIdentity
	}
	unlock := e.locks.Lock(identity)
	defer unlock()

	cur, ok, err := e.store.Get(ctx, identity)
	if err != nil {
		return Result{}, fmt.Errorf("advance %s: %w", identity, err)
	}
	res := Result{Identity: identity, Day: cur, New: !ok}

	next := cur + 1
	item, found := e.catalog.Get(next)
	if !found {
		res.Message = content.CompletionMessage
		res.Completed = true
		e.log.Debug("sequence complete", logx.String("recipient", identity), logx.Int("day", cur))
		return res, nil
	}

	msg := content.Render(item, style)
	if err := e.store.Upsert(ctx, identity, next); err != nil {
		return Result{}, fmt.Errorf("advance %s: %w", identity, err)
	}
	res.Day = next
	res.Message = msg
	res.Advanced = true
	e.log.Debug("recipient advanced", logx.String("recipient", identity), logx.Int("day", next), logx.Bool("new", res.New))
	return res, nil
}

// Register records identity at day 0 if it is not stored yet.
// It reports whether a record was created.
func (e *Engine) Register(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, ErrEmptyIdentity
	}
	unlock := e.locks.Lock(identity)
	defer unlock()

	_, ok, err := e.store.Get(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("register %s: %w", identity, err)
	}
	if ok {
		return false, nil
	}
	if err := e.store.Upsert(ctx, identity, 0); err != nil {
		return false, fmt.Errorf("register %s: %w", identity, err)
	}
	e.log.Info("recipient registered", logx.String("recipient", identity))
	return true, nil
}
