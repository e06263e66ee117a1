package fanout

import (
	"context"
	"time"

	"versebot/internal/content"
	"versebot/internal/delivery"
	"versebot/internal/progress"
)

type Mode string

const (
	// ModeProgression advances each recipient and sends their next item.
	ModeProgression Mode = "progression"
	// ModeFixed sends one literal text to everyone; days are untouched.
	ModeFixed Mode = "fixed"
)

// Config controls the fan-out worker pool.
//
// Defaults (when fields are zero):
//   - workers: 8
//   - run_timeout: 0 (disabled)
type Config struct {
	Workers    int
	RunTimeout time.Duration
}

// Summary aggregates one run. Only counts are reported; per-recipient
// details stay in the logs.
type Summary struct {
	RunID     string
	Mode      Mode
	Total     int
	Delivered int
	Transient int
	Permanent int
	StartedAt time.Time
	Took      time.Duration
}

func (s Summary) Failed() int { return s.Transient + s.Permanent }

// Recipients lists every known identity.
type Recipients interface {
	ListAll(ctx context.Context) ([]string, error)
}

// Advancer is the progression step used in ModeProgression.
type Advancer interface {
	Advance(ctx context.Context, identity string, style content.Style) (progress.Result, error)
}

// Sender delivers one message and classifies the outcome.
type Sender interface {
	Send(ctx context.Context, m delivery.Message) delivery.Outcome
}
