// Package telegram is the Telegram channel: a telebot long poller for
// inbound messages and a sender for outbound ones.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"versebot/internal/delivery"
	"versebot/internal/identity"
	rtsup "versebot/internal/runtime/supervisor"
	"versebot/internal/transport"
	logx "versebot/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- transport.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates lost because the consumer was slower than the
	// poll loop. It is reported periodically to avoid per-update log spam.
	dropped atomic.Uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Name() string { return identity.ChannelTelegram }

func (a *Adapter) registerHandlers() {
	// Commands and plain text take the same path; the router parses them.
	h := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.push(transport.Update{
			Channel:    identity.ChannelTelegram,
			Sender:     identity.Telegram(m.Chat.ID),
			Text:       m.Text,
			MessageID:  strconv.Itoa(m.ID),
			ReceivedAt: m.Time(),
		})
		return nil
	}
	for _, cmd := range []string{"/start", "/next", "/broadcast", "/help"} {
		a.bot.Handle(cmd, h)
	}
	a.bot.Handle(tele.OnText, h)
}

func (a *Adapter) push(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. It can return early on some failures, so
	// it runs under a restart loop.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, time.Until(dl))
	}
	wctx, cancel := context.WithTimeout(ctx, max(grace, 0))
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// Deliver sends text to a "tg:<chat id>" recipient, split into Telegram
// sized chunks. Errors that mean the chat is gone for good are marked
// permanent.
func (a *Adapter) Deliver(ctx context.Context, recipient, text string) error {
	chatID, ok := identity.TelegramChatID(recipient)
	if !ok {
		return delivery.Permanent(fmt.Errorf("telegram: invalid recipient %q", recipient))
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range transport.SplitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Notify sends a log line to one chat. It backs the admin log sink.
func (a *Adapter) Notify(ctx context.Context, chatID int64, text string) error {
	return a.Deliver(ctx, identity.Telegram(chatID), text)
}

var permanentErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrChatNotFound,
	tele.ErrUserIsDeactivated,
	tele.ErrKickedFromGroup,
	tele.ErrNotStartedByUser,
}

func classify(err error) error {
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return delivery.Permanent(err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return delivery.Permanent(err)
	}
	return fmt.Errorf("telegram send: %w", err)
}
