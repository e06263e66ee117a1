// Package admin gates privileged commands sent through the normal inbound
// path. The only command is broadcast, which sends one literal text to
// every recipient through the fan-out controller.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"versebot/internal/fanout"
	"versebot/internal/identity"
	logx "versebot/pkg/logx"
)

var (
	ErrNotAuthorized        = errors.New("admin: not authorized")
	ErrUnrecognizedCommand  = errors.New("admin: unrecognized command")
	ErrEmptyBroadcast       = errors.New("admin: empty broadcast")
	ErrBroadcastUnavailable = errors.New("admin: broadcast failed")
)

const (
	NotAuthorizedReply = "❌ You are not authorized."
	UnrecognizedReply  = "❌ Admin command not recognized. Usage: broadcast <message>"
	UsageReply         = "Usage: broadcast <message>"
	FailedReply        = "⚠️ Broadcast failed: recipient list unavailable."

	// BroadcastPrefix is prepended to the payload recipients receive.
	BroadcastPrefix = "[Broadcast] "
)

var commandPrefixes = []string{"broadcast", "/broadcast"}

// Broadcaster is the fixed-text fan-out.
type Broadcaster interface {
	Fixed(ctx context.Context, text string) (fanout.Summary, error)
}

// Reply is what the sender gets back. Err is nil on success.
type Reply struct {
	Text string
	Err  error
}

type Handler struct {
	admin string
	fan   Broadcaster
	log   logx.Logger
}

// New returns a handler for one configured admin identity. An empty admin
// rejects everyone.
func New(adminID string, fan Broadcaster, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{admin: strings.TrimSpace(adminID), fan: fan, log: log}
}

// IsAdmin reports whether sender is the configured admin.
func (h *Handler) IsAdmin(sender string) bool {
	return h.admin != "" && identity.Same(sender, h.admin)
}

// Handle authorizes sender, parses rawText and runs the command.
// Authorization always comes first; a rejected sender causes no side effect.
// Recipients get BroadcastPrefix followed by the payload with only its outer
// whitespace trimmed.
func (h *Handler) Handle(ctx context.Context, sender, rawText string) Reply {
	if !h.IsAdmin(sender) {
		h.log.Warn("admin command rejected", logx.String("sender", sender))
		return Reply{Text: NotAuthorizedReply, Err: ErrNotAuthorized}
	}

	payload, ok := parseBroadcast(rawText)
	if !ok {
		return Reply{Text: UnrecognizedReply, Err: ErrUnrecognizedCommand}
	}
	if payload == "" {
		return Reply{Text: UsageReply, Err: ErrEmptyBroadcast}
	}

	sum, err := h.fan.Fixed(ctx, BroadcastPrefix+payload)
	if err != nil {
		h.log.Error("broadcast failed", logx.Err(err))
		return Reply{Text: FailedReply, Err: fmt.Errorf("%w: %w", ErrBroadcastUnavailable, err)}
	}
	h.log.Info("broadcast sent",
		logx.String("run", sum.RunID),
		logx.Int("delivered", sum.Delivered),
		logx.Int("failed", sum.Failed()))
	return Reply{Text: SuccessReply(sum)}
}

func SuccessReply(sum fanout.Summary) string {
	return fmt.Sprintf("✅ Broadcast sent: %d delivered, %d failed.", sum.Delivered, sum.Failed())
}

// IsCommand reports whether raw is shaped like an admin command, whoever
// sent it. Routers use it to keep such text away from the progression path.
func IsCommand(raw string) bool {
	_, ok := parseBroadcast(raw)
	return ok
}

// parseBroadcast matches "broadcast <text>" or "/broadcast <text>" without
// regard to case. The only change made to the payload is trimming its outer
// whitespace; inner spacing, newlines, case and symbols are kept verbatim.
// A bare command word matches with an empty payload.
func parseBroadcast(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	for _, p := range commandPrefixes {
		if len(s) < len(p) || !strings.EqualFold(s[:len(p)], p) {
			continue
		}
		rest := s[len(p):]
		// telegram appends the bot name in groups: /broadcast@versebot hi
		if strings.HasPrefix(p, "/") && strings.HasPrefix(rest, "@") {
			if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
				rest = rest[i:]
			} else {
				rest = ""
			}
		}
		if rest == "" {
			return "", true
		}
		if rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n' {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}
