package app

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	"versebot/internal/admin"
	"versebot/internal/content"
	"versebot/internal/delivery"
	"versebot/internal/eventbus"
	"versebot/internal/identity"
	"versebot/internal/progress"
	"versebot/internal/transport"
	logx "versebot/pkg/logx"
)

const (
	WelcomeText = "🙏 Welcome! You will now start receiving daily verses."
	HelpText    = "Send /next for your next verse. New verses also arrive every morning."
	FailureText = "⚠️ Something went wrong, please try again later."
)

// Progression is the engine as seen by the router.
type Progression interface {
	Register(ctx context.Context, identity string) (bool, error)
	Advance(ctx context.Context, identity string, style content.Style) (progress.Result, error)
}

// Replier sends one message back to a sender.
type Replier interface {
	Send(ctx context.Context, m delivery.Message) delivery.Outcome
}

// Router turns inbound updates into engine calls and replies.
//
// Telegram understands /start, /next, /help and /broadcast. On WhatsApp
// every message from a recipient asks for the next verse, and every message
// from the admin is an admin command. Text shaped like a broadcast never
// reaches the engine, whoever sent it.
type Router struct {
	engine  Progression
	reply   Replier
	admins  map[string]*admin.Handler
	bus     eventbus.Bus
	log     logx.Logger
	workers int
}

// NewRouter builds a router. admins maps a channel name to its admin
// handler; a channel without one rejects every admin command. bus may be nil.
func NewRouter(engine Progression, reply Replier, admins map[string]*admin.Handler, bus eventbus.Bus, workers int, log logx.Logger) *Router {
	if workers <= 0 {
		workers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if admins == nil {
		admins = map[string]*admin.Handler{}
	}
	return &Router{engine: engine, reply: reply, admins: admins, bus: bus, log: log, workers: workers}
}

// DispatchLoop consumes updates with a bounded set of workers until ctx is
// done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("router started", logx.Int("workers", r.workers))
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case up, ok := <-updates:
					if !ok {
						return
					}
					r.safeRoute(ctx, idx, up)
				}
			}
		}()
	}
	wg.Wait()
	r.log.Info("router stopped")
	return nil
}

func (r *Router) safeRoute(ctx context.Context, worker int, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router worker",
				logx.Int("worker", worker), logx.String("sender", up.Sender),
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	r.Route(ctx, up)
}

// Route handles one update synchronously.
func (r *Router) Route(ctx context.Context, up transport.Update) {
	sender := strings.TrimSpace(up.Sender)
	if sender == "" {
		return
	}
	text := strings.TrimSpace(up.Text)
	ch := up.Channel
	if ch == "" {
		ch = identity.Channel(sender)
	}

	if admin.IsCommand(text) {
		r.handleAdmin(ctx, ch, sender, text)
		return
	}

	switch ch {
	case identity.ChannelWhatsApp:
		if h := r.admins[ch]; h != nil && h.IsAdmin(sender) {
			r.handleAdmin(ctx, ch, sender, text)
			return
		}
		r.next(ctx, sender)
	default:
		switch command(text) {
		case "/start":
			r.start(ctx, sender)
		case "/next":
			r.next(ctx, sender)
		default:
			r.send(ctx, sender, 0, HelpText)
		}
	}
}

func (r *Router) start(ctx context.Context, sender string) {
	created, err := r.engine.Register(ctx, sender)
	if err != nil {
		r.log.Error("register failed", logx.String("sender", sender), logx.Err(err))
		r.send(ctx, sender, 0, FailureText)
		return
	}
	if created {
		r.publishRegistered(sender)
	}
	r.send(ctx, sender, 0, WelcomeText)
	r.next(ctx, sender)
}

func (r *Router) next(ctx context.Context, sender string) {
	res, err := r.engine.Advance(ctx, sender, content.StylePlain)
	if err != nil {
		r.log.Error("advance failed", logx.String("sender", sender), logx.Err(err))
		r.send(ctx, sender, 0, FailureText)
		return
	}
	if res.New {
		r.publishRegistered(sender)
	}
	r.send(ctx, sender, res.Day, res.Message)
}

func (r *Router) handleAdmin(ctx context.Context, ch, sender, text string) {
	h := r.admins[ch]
	if h == nil {
		r.log.Warn("admin command on channel without admin", logx.String("channel", ch), logx.String("sender", sender))
		r.send(ctx, sender, 0, admin.NotAuthorizedReply)
		return
	}
	rep := h.Handle(ctx, sender, text)
	r.send(ctx, sender, 0, rep.Text)
}

func (r *Router) send(ctx context.Context, to string, day int, text string) {
	out := r.reply.Send(ctx, delivery.Message{Recipient: to, Day: day, Text: text})
	if !out.OK() {
		r.log.Warn("reply not delivered",
			logx.String("recipient", to),
			logx.String("status", out.Status.String()),
			logx.String("detail", out.Detail))
	}
}

func (r *Router) publishRegistered(id string) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.RecipientRegistered, Data: id})
	}
}

// command returns the lower-cased leading command word with any
// "@botname" suffix removed.
func command(text string) string {
	word, _, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "\n")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word)
}
