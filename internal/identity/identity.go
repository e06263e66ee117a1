// Package identity builds and compares channel-qualified recipient ids.
//
// Stored identities look like "tg:123456" or "whatsapp:+919876543210". The
// WhatsApp form is exactly the address the Twilio API expects, so it is
// passed through unchanged. Bare numeric ids are treated as Telegram chats.
package identity

import (
	"strconv"
	"strings"
)

const (
	ChannelTelegram = "tg"
	ChannelWhatsApp = "whatsapp"
)

// Telegram returns the identity of a Telegram chat.
func Telegram(chatID int64) string {
	return ChannelTelegram + ":" + strconv.FormatInt(chatID, 10)
}

// WhatsApp returns the identity of a WhatsApp number, accepting
// "whatsapp:+91...", "+91..." or "91...".
func WhatsApp(number string) string {
	n := strings.TrimSpace(number)
	if ch, addr, ok := split(n); ok && ch == ChannelWhatsApp {
		n = addr
	}
	n = strings.TrimSpace(n)
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return ChannelWhatsApp + ":" + n
}

// Channel returns the channel name of id, or "" if it cannot be told.
func Channel(id string) string {
	if ch, _, ok := split(id); ok {
		return ch
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return ChannelTelegram
	}
	return ""
}

// Address returns id without its channel prefix.
func Address(id string) string {
	if _, addr, ok := split(id); ok {
		return addr
	}
	return strings.TrimSpace(id)
}

// TelegramChatID parses a Telegram identity ("tg:123" or "123").
func TelegramChatID(id string) (int64, bool) {
	if Channel(id) != ChannelTelegram {
		return 0, false
	}
	n, err := strconv.ParseInt(Address(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Canonical reduces an address to the form used for equality checks:
// channel prefix, whitespace and leading "+"/"@" are removed, and
// phone-like addresses keep their digits only.
func Canonical(id string) string {
	addr := strings.TrimSpace(Address(id))
	addr = strings.TrimLeft(addr, "+@")
	if phoneLike(addr) {
		var b strings.Builder
		// negative Telegram group ids keep their sign
		if strings.HasPrefix(addr, "-") {
			b.WriteByte('-')
		}
		for _, r := range addr {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return strings.ToLower(addr)
}

// Same reports whether a and b name the same recipient. Explicit channel
// prefixes must agree; an unprefixed side matches on address alone.
func Same(a, b string) bool {
	ca, _, oka := split(a)
	cb, _, okb := split(b)
	if oka && okb && ca != cb {
		return false
	}
	x, y := Canonical(a), Canonical(b)
	return x != "" && x == y
}

func split(id string) (channel, addr string, ok bool) {
	s := strings.TrimSpace(id)
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	ch := strings.ToLower(s[:i])
	switch ch {
	case ChannelTelegram, "telegram":
		return ChannelTelegram, strings.TrimSpace(s[i+1:]), true
	case ChannelWhatsApp:
		return ChannelWhatsApp, strings.TrimSpace(s[i+1:]), true
	}
	return "", "", false
}

func phoneLike(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '+':
		default:
			return false
		}
	}
	return digits > 0
}
