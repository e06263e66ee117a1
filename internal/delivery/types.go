package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status classifies one send attempt.
type Status int

const (
	Delivered Status = iota
	TransientFailure
	PermanentFailure
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ErrPermanent marks a failure that will not go away by retrying, such as
// an invalid address or a recipient who blocked the bot.
var ErrPermanent = errors.New("permanent delivery failure")

// ErrNoChannel is returned (as permanent) when no channel serves an identity.
var ErrNoChannel = errors.New("no channel for recipient")

// Permanent wraps err so the dispatcher classifies it as PermanentFailure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Channel is the outbound side of one messaging channel.
type Channel interface {
	Deliver(ctx context.Context, recipient, text string) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, recipient, text string) error

func (f ChannelFunc) Deliver(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// Message is one rendered message for one recipient. Day is the content
// day it carries, or 0 for fixed broadcasts and replies.
type Message struct {
	Recipient string
	Day       int
	Text      string
}

// Outcome is the ephemeral result of one send attempt. It is logged and
// aggregated, never stored.
type Outcome struct {
	Recipient    string
	AttemptedDay int
	Status       Status
	Detail       string
	Took         time.Duration
}

func (o Outcome) OK() bool { return o.Status == Delivered }

// Config controls the dispatcher.
//
// Defaults (when fields are zero):
//   - timeout: 15s
//   - rate_per_sec: 20 (per channel)
//   - breaker: trips after 5 consecutive transient failures, stays open 30s
type Config struct {
	Timeout    time.Duration
	RatePerSec int
	Breaker    BreakerConfig
}

type BreakerConfig struct {
	Disabled            bool
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
	return c
}
