package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration keys, as they appear in error messages.
const (
	keyPollTimeout      = "telegram.poll_timeout"
	keyReadTimeout      = "whatsapp.webhook.read_timeout"
	keyWriteTimeout     = "whatsapp.webhook.write_timeout"
	keyBusyTimeout      = "storage.busy_timeout"
	keyRunTimeout       = "fanout.run_timeout"
	keyDeliveryTimeout  = "delivery.timeout"
	keyOpenTimeout      = "delivery.breaker.open_timeout"
	defaultPollTimeout  = 10 * time.Second
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// durationSetting is one duration-valued key. Empty or zero means def; a
// def of 0 leaves the default to the component that consumes it.
type durationSetting struct {
	key string
	raw string
	def time.Duration
}

func (s durationSetting) value() (time.Duration, error) {
	raw := strings.TrimSpace(s.raw)
	if raw == "" {
		return s.def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", s.key, s.raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", s.key)
	}
	if d == 0 {
		return s.def, nil
	}
	return d, nil
}

func (c *Config) durations() []durationSetting {
	return []durationSetting{
		{keyPollTimeout, c.Telegram.PollTimeout, defaultPollTimeout},
		{keyReadTimeout, c.WhatsApp.Webhook.ReadTimeout, defaultReadTimeout},
		{keyWriteTimeout, c.WhatsApp.Webhook.WriteTimeout, defaultWriteTimeout},
		{keyBusyTimeout, c.Storage.BusyTimeout, 0},
		{keyRunTimeout, c.Fanout.RunTimeout, 0},
		{keyDeliveryTimeout, c.Delivery.Timeout, 0},
		{keyOpenTimeout, c.Delivery.Breaker.OpenTimeout, 0},
	}
}

// duration returns the parsed value of key. Converters call it after
// Validate has passed, so a parse error falls back to the default.
func (c *Config) duration(key string) time.Duration {
	for _, s := range c.durations() {
		if s.key != key {
			continue
		}
		d, err := s.value()
		if err != nil {
			return s.def
		}
		return d
	}
	return 0
}
