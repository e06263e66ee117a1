// Package whatsapp is the WhatsApp channel: outbound messages through the
// Twilio Messages API and inbound messages through an HTTP webhook.
package whatsapp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"versebot/internal/delivery"
	"versebot/internal/identity"
	"versebot/internal/transport"
	logx "versebot/pkg/logx"
)

type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	APIBase    string
	Webhook    WebhookConfig
}

type WebhookConfig struct {
	Addr         string
	Path         string
	VerifyToken  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Adapter struct {
	log    logx.Logger
	client *Client
	hook   *webhook

	out     atomic.Value // chan<- transport.Update
	dropped atomic.Uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, fmt.Errorf("whatsapp: account sid, auth token and sender are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if cfg.Webhook.ReadTimeout <= 0 {
		cfg.Webhook.ReadTimeout = 10 * time.Second
	}
	if cfg.Webhook.WriteTimeout <= 0 {
		cfg.Webhook.WriteTimeout = 30 * time.Second
	}
	cfg.From = identity.WhatsApp(cfg.From)

	a := &Adapter{log: log, client: NewClient(cfg)}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.hook = &webhook{cfg: cfg.Webhook, log: log.With(logx.String("comp", "whatsapp.webhook")), push: a.push}
	return a, nil
}

func (a *Adapter) Name() string { return identity.ChannelWhatsApp }

func (a *Adapter) push(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Int64("total", int64(n)))
		}
	}
}

// Start begins serving the webhook. An empty webhook address disables
// inbound messages; outbound delivery works either way.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.out.Store(out)
	if a.hook.cfg.Addr == "" {
		a.log.Info("webhook disabled (no listen address)")
		return nil
	}
	return a.hook.start()
}

func (a *Adapter) Stop(ctx context.Context) error {
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.hook.stop(ctx)
	return nil
}

// Addr is the webhook's actual listen address, or "" if not serving.
func (a *Adapter) Addr() string { return a.hook.listenAddr() }

// Deliver sends text to a "whatsapp:+<number>" recipient.
func (a *Adapter) Deliver(ctx context.Context, recipient, text string) error {
	if identity.Channel(recipient) != identity.ChannelWhatsApp {
		return delivery.Permanent(fmt.Errorf("whatsapp: invalid recipient %q", recipient))
	}
	to := identity.WhatsApp(recipient)
	for _, chunk := range transport.SplitText(text, textLimit) {
		if err := a.client.Send(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}
