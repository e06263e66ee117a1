// Package fanout drives delivery across the whole recipient set, either
// advancing every recipient (the daily push) or sending one fixed text (an
// admin broadcast).
//
// Recipients are processed by a bounded worker pool. Each recipient is
// isolated: a failed advance or send is counted and logged, and the run
// carries on. A run only fails as a whole when the recipient list itself
// cannot be read.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"versebot/internal/content"
	"versebot/internal/delivery"
	"versebot/internal/eventbus"
	logx "versebot/pkg/logx"
)

type Controller struct {
	cfg        Config
	recipients Recipients
	engine     Advancer
	sender     Sender
	bus        eventbus.Bus
	log        logx.Logger
}

// New builds a controller. bus may be nil.
func New(cfg Config, recipients Recipients, engine Advancer, sender Sender, bus eventbus.Bus, log logx.Logger) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{cfg: cfg, recipients: recipients, engine: engine, sender: sender, bus: bus, log: log}
}

// Progression advances every recipient by one item and delivers it.
func (c *Controller) Progression(ctx context.Context, style content.Style) (Summary, error) {
	return c.run(ctx, ModeProgression, func(ctx context.Context, id string) delivery.Outcome {
		res, err := c.engine.Advance(ctx, id, style)
		if err != nil {
			c.log.Error("advance failed; recipient skipped this run", logx.String("recipient", id), logx.Err(err))
			return delivery.Outcome{Recipient: id, Status: delivery.TransientFailure, Detail: err.Error()}
		}
		return c.sender.Send(ctx, delivery.Message{Recipient: id, Day: res.Day, Text: res.Message})
	})
}

// Fixed sends text, unmodified, to every recipient without touching progress.
func (c *Controller) Fixed(ctx context.Context, text string) (Summary, error) {
	return c.run(ctx, ModeFixed, func(ctx context.Context, id string) delivery.Outcome {
		return c.sender.Send(ctx, delivery.Message{Recipient: id, Text: text})
	})
}

func (c *Controller) run(ctx context.Context, mode Mode, one func(ctx context.Context, id string) delivery.Outcome) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Mode: mode, StartedAt: time.Now()}
	log := c.log.With(logx.String("run", sum.RunID), logx.String("mode", string(mode)))

	ids, err := c.recipients.ListAll(ctx)
	if err != nil {
		log.Error("fanout aborted: recipient list unavailable", logx.Err(err))
		return sum, fmt.Errorf("fanout %s: list recipients: %w", mode, err)
	}
	sum.Total = len(ids)

	runCtx := ctx
	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}

	workers := min(c.cfg.Workers, max(1, len(ids)))
	log.Info("fanout started", logx.Int("total", len(ids)), logx.Int("workers", workers))

	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(o delivery.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o.Status {
		case delivery.Delivered:
			sum.Delivered++
		case delivery.PermanentFailure:
			sum.Permanent++
		default:
			sum.Transient++
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			for id := range jobs {
				record(c.safeOne(runCtx, log, idx, id, one))
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	sum.Took = time.Since(sum.StartedAt)
	fields := []logx.Field{
		logx.Int("total", sum.Total),
		logx.Int("delivered", sum.Delivered),
		logx.Int("transient", sum.Transient),
		logx.Int("permanent", sum.Permanent),
		logx.Duration("took", sum.Took),
	}
	if sum.Failed() > 0 {
		log.Warn("fanout finished with failures", fields...)
	} else {
		log.Info("fanout finished", fields...)
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.FanoutFinished, Data: sum})
	}
	return sum, nil
}

// safeOne runs one recipient, converting an expired run and panics into
// transient outcomes so siblings are never affected.
func (c *Controller) safeOne(ctx context.Context, log logx.Logger, worker int, id string, one func(context.Context, string) delivery.Outcome) (out delivery.Outcome) {
	if err := ctx.Err(); err != nil {
		detail := "run cancelled"
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "run timeout"
		}
		return delivery.Outcome{Recipient: id, Status: delivery.TransientFailure, Detail: detail}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in fanout worker",
				logx.Int("worker", worker), logx.String("recipient", id),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = delivery.Outcome{Recipient: id, Status: delivery.TransientFailure, Detail: fmt.Sprint("panic: ", r)}
		}
	}()
	return one(ctx, id)
}
