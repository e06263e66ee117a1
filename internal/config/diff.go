package config

import (
	"reflect"
	"strings"

	logx "versebot/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeChange lists the sections that differ between two configs,
// safe log fields describing them (never tokens or auth secrets), and
// whether any changed section only takes effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !liveSections[section] {
			restart = true
		}
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram",
			logx.Bool("telegram.enabled", newCfg.Telegram.On()),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)))
	}
	if !reflect.DeepEqual(oldCfg.WhatsApp, newCfg.WhatsApp) {
		mark("whatsapp",
			logx.Bool("whatsapp.enabled", newCfg.WhatsApp.On()),
			logx.String("whatsapp.from", newCfg.WhatsApp.From),
			logx.Bool("whatsapp.credentials_changed",
				oldCfg.WhatsApp.AccountSID != newCfg.WhatsApp.AccountSID || oldCfg.WhatsApp.AuthToken != newCfg.WhatsApp.AuthToken),
			logx.String("whatsapp.webhook_addr", newCfg.WebhookAddr()))
	}
	if oldCfg.Admin != newCfg.Admin {
		mark("admin",
			logx.Bool("admin.telegram_set", newCfg.Admin.Telegram != ""),
			logx.Bool("admin.whatsapp_set", newCfg.Admin.WhatsApp != ""),
			logx.Bool("admin.daily_summary", newCfg.Admin.DailySummary))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver), logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Content != newCfg.Content {
		mark("content", logx.String("content.path", newCfg.Content.Path), logx.Bool("content.watch", newCfg.Content.Watch))
	}
	if oldCfg.Schedule != newCfg.Schedule {
		mark("schedule",
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.cron", newCfg.CronSpec()),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone))
	}
	if oldCfg.Fanout != newCfg.Fanout {
		mark("fanout", logx.Int("fanout.workers", newCfg.Fanout.Workers), logx.String("fanout.run_timeout", newCfg.Fanout.RunTimeout))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		mark("delivery",
			logx.String("delivery.timeout", newCfg.Delivery.Timeout),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.Bool("delivery.breaker_disabled", newCfg.Delivery.Breaker.Disabled))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.admin_enabled", newCfg.Logging.Admin.Enabled))
	}
	return changed, attrs, restart
}
