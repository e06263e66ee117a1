package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "versebot/pkg/logx"
)

func TestNewSequenceRequiresContiguousDays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		days    []int
		wantErr bool
	}{
		{name: "ordered", days: []int{1, 2, 3}},
		{name: "unordered", days: []int{3, 1, 2}},
		{name: "gap", days: []int{1, 3}, wantErr: true},
		{name: "duplicate", days: []int{1, 1, 2}, wantErr: true},
		{name: "zero based", days: []int{0, 1}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			items := make([]Item, 0, len(tt.days))
			for _, d := range tt.days {
				items = append(items, Item{Day: d, Verse: "v"})
			}
			_, err := NewSequence(items)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSequenceLookup(t *testing.T) {
	t.Parallel()
	seq, err := NewSequence([]Item{{Day: 1, Verse: "a"}, {Day: 2, Verse: "b"}})
	require.NoError(t, err)

	assert.False(t, seq.Exists(0))
	assert.True(t, seq.Exists(1))
	assert.True(t, seq.Exists(2))
	assert.False(t, seq.Exists(3))

	it, ok := seq.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b", it.Verse)
	_, ok = seq.Get(3)
	assert.False(t, ok)
}

func TestRenderStyles(t *testing.T) {
	t.Parallel()
	it := Item{Day: 4, Verse: "V", TranslationEN: "E", TranslationHI: "H", Meaning: "M"}

	plain := Render(it, StylePlain)
	assert.Equal(t, "📖 Day 4 Verse:\n\nV\n\n🌐 English: E\n🇮🇳 Hindi: H\n\n✨ Meaning:\nM", plain)

	morning := Render(it, StyleMorning)
	assert.True(t, strings.HasPrefix(morning, "☀️ Good Morning!\n📖 Day 4 Verse:"))
	assert.True(t, strings.HasSuffix(morning, plain[len("📖 Day 4 Verse:"):]))
}

func TestParseExampleCatalog(t *testing.T) {
	t.Parallel()
	seq, err := LoadFile(filepath.Join("..", "..", "configs", "verses.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())
	it, ok := seq.Get(3)
	require.True(t, ok)
	assert.Contains(t, it.Verse, "Jai Hanuman")
}

func TestParseRejectsBadKeys(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("dayX:\n  verse: a\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("{}"))
	assert.Error(t, err)
}

func TestLibraryWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verses.yaml")
	require.NoError(t, os.WriteFile(path, []byte("day1:\n  verse: one\n"), 0o600))

	lib, err := OpenLibrary(path, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = lib.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("day1:\n  verse: one\nday2:\n  verse: two\n"), 0o600))

	assert.Eventually(t, func() bool { return lib.Len() == 2 }, 5*time.Second, 50*time.Millisecond)

	// A broken file keeps the previous catalog.
	require.NoError(t, os.WriteFile(path, []byte("day1: [unterminated"), 0o600))
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 2, lib.Len())

	cancel()
	<-done
}
