package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versebot/internal/schedule"
)

type twilioRecorder struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func (tr *twilioRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	tr.mu.Lock()
	tr.bodies[r.PostForm.Get("To")] = append(tr.bodies[r.PostForm.Get("To")], r.PostForm.Get("Body"))
	tr.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"sid":"SM1"}`))
}

func (tr *twilioRecorder) get(to string) []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.bodies[to]...)
}

// newWhatsAppApp builds an App with only the WhatsApp channel, talking to a
// local Twilio stand-in. It is never started, so no webhook is bound.
func newWhatsAppApp(t *testing.T, scheduled bool) (*App, *twilioRecorder) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "")
	rec := &twilioRecorder{bodies: map[string][]string{}}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	verses, err := filepath.Abs(filepath.Join("..", "..", "configs", "verses.example.yaml"))
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]any{
		"whatsapp": map[string]any{
			"account_sid": "AC123",
			"auth_token":  "secret",
			"from":        "whatsapp:+14155238886",
			"api_base":    srv.URL,
		},
		"storage":  map[string]any{"driver": "memory"},
		"content":  map[string]any{"path": verses},
		"schedule": map[string]any{"enabled": scheduled},
		"logging":  map[string]any{"level": "error"},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	a, err := New(path)
	require.NoError(t, err)
	t.Cleanup(a.closePartial)
	return a, rec
}

func TestTriggerDailyPushesMorningVerse(t *testing.T) {
	a, rec := newWhatsAppApp(t, true)
	ctx := context.Background()
	require.NoError(t, a.store.Upsert(ctx, "whatsapp:+919800000002", 0))

	require.NoError(t, a.TriggerDaily())

	got := rec.get("whatsapp:+919800000002")
	require.NotEmpty(t, got)
	assert.Contains(t, got[0], "Good Morning!")
	assert.Contains(t, got[0], "Day 1")
	day, _, err := a.store.Get(ctx, "whatsapp:+919800000002")
	require.NoError(t, err)
	assert.Equal(t, 1, day)
}

func TestTriggerDailyWithoutScheduleFails(t *testing.T) {
	a, _ := newWhatsAppApp(t, false)
	assert.ErrorIs(t, a.TriggerDaily(), schedule.ErrUnknownJob)
}
