package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"versebot/internal/delivery"
	"versebot/internal/fanout"
	"versebot/internal/schedule"
	"versebot/internal/storage"
	"versebot/internal/transport/telegram"
	"versebot/internal/transport/whatsapp"
	logx "versebot/pkg/logx"
)

const (
	DefaultCron        = "0 7 * * *"
	DefaultTimezone    = "Asia/Kolkata"
	DefaultPort        = "5000"
	DefaultWebhookPath = "/webhook"
)

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and that every duration, timezone and
// cron spec parses.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !c.Telegram.On() && !c.WhatsApp.On() {
		add(errors.New("no channel enabled: configure telegram or whatsapp"))
	}
	if c.Telegram.On() && strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if c.WhatsApp.On() {
		if c.WhatsApp.AccountSID == "" || c.WhatsApp.AuthToken == "" || c.WhatsApp.From == "" {
			add(errors.New("whatsapp: account_sid, auth_token and from are required"))
		}
	}
	if strings.TrimSpace(c.Content.Path) == "" {
		add(errors.New("content.path is required"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "file", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	_, err := c.Location()
	add(err)
	if c.Schedule.Enabled {
		if _, err := schedule.Parser.Parse(c.CronSpec()); err != nil {
			add(fmt.Errorf("schedule.cron: %w", err))
		}
	}

	for _, d := range c.durations() {
		_, err := d.value()
		add(err)
	}
	if c.Fanout.Workers < 0 {
		add(errors.New("fanout.workers must be >= 0"))
	}
	if c.Delivery.RatePerSec < 0 || c.Delivery.Breaker.ConsecutiveFailures < 0 {
		add(errors.New("delivery: rate_per_sec and breaker.consecutive_failures must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c *Config) CronSpec() string {
	if s := strings.TrimSpace(c.Schedule.Cron); s != "" {
		return s
	}
	return DefaultCron
}

func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// WebhookAddr is the listen address for the WhatsApp webhook.
func (c *Config) WebhookAddr() string {
	w := c.WhatsApp.Webhook
	if s := strings.TrimSpace(w.Addr); s != "" {
		return s
	}
	port := strings.TrimSpace(w.Port)
	if port == "" {
		port = DefaultPort
	}
	return ":" + port
}

func (c *Config) WebhookPath() string {
	if p := strings.TrimSpace(c.WhatsApp.Webhook.Path); p != "" {
		return p
	}
	return DefaultWebhookPath
}

// The converters below assume Validate has passed; bad durations fall back
// to defaults.

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: c.duration(keyBusyTimeout)}
}

func (c *Config) FanoutConfig() fanout.Config {
	return fanout.Config{Workers: c.Fanout.Workers, RunTimeout: c.duration(keyRunTimeout)}
}

func (c *Config) DeliveryConfig() delivery.Config {
	return delivery.Config{
		Timeout:    c.duration(keyDeliveryTimeout),
		RatePerSec: c.Delivery.RatePerSec,
		Breaker: delivery.BreakerConfig{
			Disabled:            c.Delivery.Breaker.Disabled,
			ConsecutiveFailures: uint32(c.Delivery.Breaker.ConsecutiveFailures),
			OpenTimeout:         c.duration(keyOpenTimeout),
		},
	}
}

func (c *Config) TelegramChannel() telegram.Config {
	return telegram.Config{Token: c.Telegram.Token, PollTimeout: c.duration(keyPollTimeout)}
}

// WhatsAppChannel resolves the Twilio sender and the webhook listener.
func (c *Config) WhatsAppChannel() whatsapp.Config {
	return whatsapp.Config{
		AccountSID: c.WhatsApp.AccountSID,
		AuthToken:  c.WhatsApp.AuthToken,
		From:       c.WhatsApp.From,
		APIBase:    c.WhatsApp.APIBase,
		Webhook: whatsapp.WebhookConfig{
			Addr:         c.WebhookAddr(),
			Path:         c.WebhookPath(),
			VerifyToken:  c.WhatsApp.Webhook.VerifyToken,
			ReadTimeout:  c.duration(keyReadTimeout),
			WriteTimeout: c.duration(keyWriteTimeout),
		},
	}
}

func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Admin:   logx.AdminConfig{Enabled: l.Admin.Enabled, MinLevel: l.Admin.MinLevel, RatePerSec: l.Admin.RatePerSec},
	}
}
