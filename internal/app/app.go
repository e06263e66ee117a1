package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"versebot/internal/admin"
	"versebot/internal/config"
	"versebot/internal/content"
	"versebot/internal/delivery"
	"versebot/internal/eventbus"
	"versebot/internal/fanout"
	"versebot/internal/identity"
	"versebot/internal/progress"
	"versebot/internal/runtime/supervisor"
	"versebot/internal/schedule"
	"versebot/internal/storage"
	"versebot/internal/transport"
	"versebot/internal/transport/telegram"
	"versebot/internal/transport/whatsapp"
	logx "versebot/pkg/logx"
)

// DailyJob is the scheduler job that pushes the next verse to everyone.
const DailyJob = "daily-push"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	lib   *content.Library

	engine *progress.Engine
	disp   *delivery.Dispatcher
	fan    *fanout.Controller
	sched  *schedule.Service
	router *Router

	adapters []transport.Adapter
	// admins are the identities that receive the daily summary.
	admins []string

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	// Until logging is configured, config errors go to the console.
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The admin sink is installed once the Telegram adapter exists.
	logSvc, log := logx.New(cfg.LogConfig(), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(cfg, log); err != nil {
		a.closePartial()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	st, err := storage.Open(cfg.StorageConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	lib, err := content.OpenLibrary(cfg.Content.Path, log.With(logx.String("comp", "content")))
	if err != nil {
		return err
	}
	a.lib = lib
	a.log.Info("content loaded", logx.String("path", cfg.Content.Path), logx.Int("items", lib.Len()))

	a.engine = progress.New(st, lib, log.With(logx.String("comp", "progress")))
	a.disp = delivery.New(cfg.DeliveryConfig(), nil, log.With(logx.String("comp", "delivery")))
	a.fan = fanout.New(cfg.FanoutConfig(), st, a.engine, a.disp, a.bus, log.With(logx.String("comp", "fanout")))

	admins := map[string]*admin.Handler{}
	adminLog := log.With(logx.String("comp", "admin"))

	if cfg.Telegram.On() {
		tg, err := telegram.New(cfg.TelegramChannel(), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.adapters = append(a.adapters, tg)
		a.disp.Register(tg.Name(), tg)
		admins[tg.Name()] = admin.New(cfg.Admin.Telegram, a.fan, adminLog.With(logx.String("channel", tg.Name())))
		if chatID, ok := identity.TelegramChatID(cfg.Admin.Telegram); ok {
			a.admins = append(a.admins, identity.Telegram(chatID))
			a.logs.SetSink(adminSink{tg: tg, chatID: chatID})
		}
	}

	if cfg.WhatsApp.On() {
		wa, err := whatsapp.New(cfg.WhatsAppChannel(), log.With(logx.String("comp", "whatsapp")))
		if err != nil {
			return err
		}
		a.adapters = append(a.adapters, wa)
		a.disp.Register(wa.Name(), wa)
		admins[wa.Name()] = admin.New(cfg.Admin.WhatsApp, a.fan, adminLog.With(logx.String("channel", wa.Name())))
		if strings.TrimSpace(cfg.Admin.WhatsApp) != "" {
			a.admins = append(a.admins, identity.WhatsApp(cfg.Admin.WhatsApp))
		}
	}
	if !cfg.Admin.DailySummary {
		a.admins = nil
	}

	a.router = NewRouter(a.engine, a.disp, admins, a.bus, 0, log.With(logx.String("comp", "router")))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a.sched = schedule.New(loc, log.With(logx.String("comp", "schedule")))
	if cfg.Schedule.Enabled {
		if err := a.sched.Add(DailyJob, cfg.CronSpec(), 0, a.dailyPush); err != nil {
			return err
		}
	}
	return nil
}

// closePartial releases what build managed to open before failing.
func (a *App) closePartial() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) dailyPush(ctx context.Context) error {
	_, err := a.fan.Progression(ctx, content.StyleMorning)
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// TriggerDaily runs the daily push now and waits for it. It fails if the
// push is not scheduled or a run is already in flight.
func (a *App) TriggerDaily() error {
	a.log.Info("daily push triggered manually")
	if err := a.sched.Trigger(DailyJob); err != nil {
		a.log.Warn("manual daily push not run", logx.Err(err))
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	for _, ad := range a.adapters {
		if err := ad.Start(a.sup.Context(), a.updates); err != nil {
			return fmt.Errorf("start %s: %w", ad.Name(), err)
		}
		a.log.Info("channel started", logx.String("channel", ad.Name()))
	}

	if cfg.Content.Watch {
		a.sup.Go("content.watch", a.lib.Watch)
	}

	a.startEventLoop()
	a.startConfigReload()

	a.sched.Start(a.sup.Context())
	if cfg.Schedule.Enabled {
		a.log.Info("daily push scheduled",
			logx.String("cron", cfg.CronSpec()),
			logx.Time("next", a.sched.Next(DailyJob)))
	}

	a.log.Info("app started", logx.Int("channels", len(a.adapters)))
	return nil
}

// startEventLoop logs bus events and sends the daily summary to admins.
func (a *App) startEventLoop() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.consume", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if sum, ok := e.Data.(fanout.Summary); ok && sum.Mode == fanout.ModeProgression {
					a.sendSummary(c, sum)
				}
			}
		}
	})
}

func (a *App) sendSummary(ctx context.Context, sum fanout.Summary) {
	if len(a.admins) == 0 {
		return
	}
	text := SummaryText(sum)
	for _, id := range a.admins {
		if out := a.disp.Send(ctx, delivery.Message{Recipient: id, Text: text}); !out.OK() {
			a.log.Warn("daily summary not delivered", logx.String("admin", id), logx.String("detail", out.Detail))
		}
	}
}

// SummaryText is the admin report for one daily push.
func SummaryText(sum fanout.Summary) string {
	return fmt.Sprintf("📊 Daily push finished: %d delivered, %d failed of %d (%s).",
		sum.Delivered, sum.Failed(), sum.Total, sum.Took.Round(time.Millisecond))
}

// startConfigReload watches the config file. Only logging applies live;
// other changes are logged and wait for a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				changed, attrs, restart := config.SummarizeChange(last, next)
				last = next
				if len(changed) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				a.logs.Apply(next.LogConfig())
				fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
				if restart {
					a.log.Warn("some config changes take effect after restart", logx.String("changed", strings.Join(changed, ",")))
				}
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(c)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	for _, ad := range a.adapters {
		ad := ad
		step(ad.Name(), 3*time.Second, ad.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// adminSink forwards log lines to the Telegram admin chat.
type adminSink struct {
	tg     *telegram.Adapter
	chatID int64
}

func (s adminSink) Notify(ctx context.Context, text string) error {
	return s.tg.Notify(ctx, s.chatID, text)
}
