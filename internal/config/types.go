package config

// Config is the whole bot configuration. It is read from a JSON or YAML
// file and then overridden by environment variables for secrets and
// deployment-specific ids.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	Admin    AdminConfig    `json:"admin" yaml:"admin"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Content  ContentConfig  `json:"content" yaml:"content"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Fanout   FanoutConfig   `json:"fanout" yaml:"fanout"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// TelegramConfig controls the Telegram channel.
//
// Enabled is a pointer so we can distinguish "omitted" (enabled when a
// token is present) from an explicit false.
type TelegramConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Token   string `json:"token" yaml:"token" env:"BOT_TOKEN"`
	// PollTimeout is the long-poll timeout. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`
}

func (t TelegramConfig) On() bool {
	if t.Enabled != nil {
		return *t.Enabled
	}
	return t.Token != ""
}

// WhatsAppConfig controls the WhatsApp channel (Twilio Messages API) and the
// inbound webhook.
//
// Enabled follows the same rule as Telegram: omitted means enabled when an
// account sid is present.
type WhatsAppConfig struct {
	Enabled    *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	AccountSID string `json:"account_sid" yaml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `json:"auth_token" yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	// From is the sender, e.g. "whatsapp:+14155238886".
	From string `json:"from" yaml:"from" env:"TWILIO_WHATSAPP"`
	// APIBase overrides the Twilio endpoint (tests, proxies).
	APIBase string        `json:"api_base,omitempty" yaml:"api_base,omitempty"`
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
}

func (w WhatsAppConfig) On() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return w.AccountSID != ""
}

// WebhookConfig controls the inbound HTTP server.
//
// Defaults (when fields are omitted/zero):
//   - addr: ":" + port, port defaulting to 5000
//   - path: "/webhook"
//   - read_timeout: "10s"
//   - write_timeout: "30s"
type WebhookConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	// Port is used when Addr is empty; hosting platforms inject it as $PORT.
	Port        string `json:"port,omitempty" yaml:"port,omitempty" env:"PORT"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	VerifyToken string `json:"verify_token,omitempty" yaml:"verify_token,omitempty" env:"WHATSAPP_VERIFY_TOKEN"`

	ReadTimeout  string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
}

// AdminConfig names the administrator on each channel. Either may be empty.
//
// Example:
//
//	"admin": { "telegram": "123456789", "whatsapp": "whatsapp:+919876543210" }
type AdminConfig struct {
	Telegram string `json:"telegram,omitempty" yaml:"telegram,omitempty" env:"ADMIN_ID"`
	WhatsApp string `json:"whatsapp,omitempty" yaml:"whatsapp,omitempty" env:"ADMIN_NUMBER"`
	// DailySummary sends the daily push counts to the admins.
	DailySummary bool `json:"daily_summary" yaml:"daily_summary"`
}

// StorageConfig selects the progress store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./progress.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // sqlite only
}

type ContentConfig struct {
	Path string `json:"path" yaml:"path"`
	// Watch reloads the catalog when the file changes.
	Watch bool `json:"watch" yaml:"watch"`
}

// ScheduleConfig controls the daily push.
//
// Defaults:
//   - cron: "0 7 * * *" (seconds field optional)
//   - timezone: "Asia/Kolkata"
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// FanoutConfig controls whole-recipient-set runs.
//
// Defaults:
//   - workers: 8
//   - run_timeout: "0s" (disabled)
type FanoutConfig struct {
	Workers    int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	RunTimeout string `json:"run_timeout,omitempty" yaml:"run_timeout,omitempty"`
}

// DeliveryConfig controls single sends.
//
// Defaults:
//   - timeout: "15s"
//   - rate_per_sec: 20 (per channel)
//   - breaker.consecutive_failures: 5
//   - breaker.open_timeout: "30s"
type DeliveryConfig struct {
	Timeout    string        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RatePerSec int           `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	Breaker    BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	Disabled            bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty" yaml:"consecutive_failures,omitempty"`
	OpenTimeout         string `json:"open_timeout,omitempty" yaml:"open_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level" yaml:"level"`
	Console bool         `json:"console" yaml:"console"`
	File    LoggingFile  `json:"file" yaml:"file"`
	Admin   LoggingAdmin `json:"admin" yaml:"admin"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// LoggingAdmin forwards warnings and errors to the Telegram admin chat.
type LoggingAdmin struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	MinLevel   string `json:"min_level,omitempty" yaml:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
}
