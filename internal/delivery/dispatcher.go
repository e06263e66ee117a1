// Package delivery sends one rendered message to one recipient through the
// channel that owns the recipient's identity, and classifies the result.
//
// The dispatcher never retries within a call. A failed send is reported as
// an Outcome; the next inbound message or scheduled push is the retry.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"versebot/internal/identity"
	logx "versebot/pkg/logx"
)

// lane is the per-channel send path: throttle, breaker, adapter.
type lane struct {
	name    string
	ch      Channel
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type Dispatcher struct {
	cfg Config
	log logx.Logger

	mu    sync.RWMutex
	lanes map[string]*lane
}

// New builds a dispatcher over channels keyed by identity channel name
// (identity.ChannelTelegram, identity.ChannelWhatsApp).
func New(cfg Config, channels map[string]Channel, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{cfg: cfg.withDefaults(), log: log, lanes: map[string]*lane{}}
	for name, ch := range channels {
		d.Register(name, ch)
	}
	return d
}

// Register adds or replaces the channel serving identities of name.
func (d *Dispatcher) Register(name string, ch Channel) {
	name = strings.ToLower(strings.TrimSpace(name))
	cfg := d.cfg
	l := &lane{
		name:    name,
		ch:      ch,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	if !cfg.Breaker.Disabled {
		l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "channel-" + name,
			MaxRequests: 1,
			Timeout:     cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
			},
			// A bad address says nothing about the channel's health.
			IsSuccessful: func(err error) bool { return err == nil || IsPermanent(err) },
			OnStateChange: func(bname string, from, to gobreaker.State) {
				d.log.Warn("channel breaker state changed",
					logx.String("channel", name), logx.String("from", from.String()), logx.String("to", to.String()))
			},
		})
	}
	d.mu.Lock()
	d.lanes[name] = l
	d.mu.Unlock()
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.lanes))
	for name := range d.lanes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Send delivers m and classifies the result. It is bounded by the
// configured timeout; a timed-out send is a TransientFailure.
func (d *Dispatcher) Send(ctx context.Context, m Message) Outcome {
	start := time.Now()
	out := Outcome{Recipient: m.Recipient, AttemptedDay: m.Day}

	err := d.deliver(ctx, m)
	out.Took = time.Since(start)
	out.Status, out.Detail = classify(err)

	switch out.Status {
	case Delivered:
		d.log.Debug("message delivered", logx.String("recipient", m.Recipient), logx.Int("day", m.Day), logx.Duration("took", out.Took))
	default:
		d.log.Warn("message not delivered",
			logx.String("recipient", m.Recipient),
			logx.Int("day", m.Day),
			logx.String("status", out.Status.String()),
			logx.String("detail", out.Detail))
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) error {
	name := identity.Channel(m.Recipient)
	d.mu.RLock()
	l := d.lanes[name]
	d.mu.RUnlock()
	if l == nil {
		return Permanent(fmt.Errorf("%w: %q", ErrNoChannel, m.Recipient))
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	send := func() error { return deliverWithin(ctx, l.ch, m) }
	if l.breaker == nil {
		return send()
	}
	_, err := l.breaker.Execute(func() (any, error) { return nil, send() })
	return err
}

// deliverWithin bounds ch.Deliver by ctx even when the channel ignores it.
// A send still running at the deadline is abandoned and reported as a
// timeout; its late result is discarded.
func deliverWithin(ctx context.Context, ch Channel, m Message) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("channel panic: %v", r)
			}
		}()
		done <- ch.Deliver(ctx, m.Recipient, m.Text)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("deliver: %w", ctx.Err())
	}
}

func classify(err error) (Status, string) {
	switch {
	case err == nil:
		return Delivered, ""
	case IsPermanent(err):
		return PermanentFailure, err.Error()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return TransientFailure, "channel unavailable (circuit breaker open)"
	case errors.Is(err, context.DeadlineExceeded):
		return TransientFailure, "timeout: " + err.Error()
	default:
		return TransientFailure, err.Error()
	}
}
