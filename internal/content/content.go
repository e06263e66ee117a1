// Package content holds the read-only sequence of daily items and renders
// them into outgoing message text.
package content

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CompletionMessage is sent, unchanged, to every recipient who has already
// received the whole sequence.
const CompletionMessage = "🎉 You’ve completed all days of Hanuman Chalisa learning! Jai Hanuman 🙏"

// Item is one day of content. Day is 1-based.
type Item struct {
	Day           int
	Verse         string
	TranslationEN string
	TranslationHI string
	Meaning       string
}

// Catalog is the lookup contract consumed by the progression engine.
type Catalog interface {
	Exists(day int) bool
	Get(day int) (Item, bool)
}

// Style selects the message framing.
type Style int

const (
	// StylePlain is used for on-demand replies.
	StylePlain Style = iota
	// StyleMorning is used for the scheduled daily push.
	StyleMorning
)

// Render formats an item into the outgoing text.
func Render(it Item, style Style) string {
	var b strings.Builder
	if style == StyleMorning {
		b.WriteString("☀️ Good Morning!\n")
	}
	fmt.Fprintf(&b, "📖 Day %d Verse:\n\n", it.Day)
	b.WriteString(it.Verse)
	b.WriteString("\n\n")
	b.WriteString("🌐 English: ")
	b.WriteString(it.TranslationEN)
	b.WriteString("\n")
	b.WriteString("🇮🇳 Hindi: ")
	b.WriteString(it.TranslationHI)
	b.WriteString("\n\n")
	b.WriteString("✨ Meaning:\n")
	b.WriteString(it.Meaning)
	return b.String()
}

// Sequence is an immutable, contiguous 1..N list of items.
type Sequence struct {
	items []Item
}

// NewSequence validates that items cover days 1..N with no gaps or
// duplicates. Input order does not matter.
func NewSequence(items []Item) (*Sequence, error) {
	cp := append([]Item(nil), items...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Day < cp[j].Day })
	for i, it := range cp {
		if it.Day != i+1 {
			return nil, fmt.Errorf("content: expected day %d, found day %d", i+1, it.Day)
		}
		if strings.TrimSpace(it.Verse) == "" {
			return nil, fmt.Errorf("content: day %d has an empty verse", it.Day)
		}
	}
	return &Sequence{items: cp}, nil
}

func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Sequence) Exists(day int) bool {
	return day >= 1 && day <= s.Len()
}

func (s *Sequence) Get(day int) (Item, bool) {
	if !s.Exists(day) {
		return Item{}, false
	}
	return s.items[day-1], true
}

// parseDayKey accepts "day7", "Day 7" or "7".
func parseDayKey(k string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(k))
	s = strings.TrimSpace(strings.TrimPrefix(s, "day"))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("content: invalid day key %q", k)
	}
	return n, nil
}
