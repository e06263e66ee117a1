package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versebot/internal/content"
	"versebot/internal/delivery"
	"versebot/internal/eventbus"
	"versebot/internal/progress"
	"versebot/internal/storage"
	logx "versebot/pkg/logx"
)

// recordingSender captures every message and fails configured recipients.
type recordingSender struct {
	mu        sync.Mutex
	sent      map[string][]delivery.Message
	fail      map[string]delivery.Status
	delay     time.Duration
	panicOn   string
	inflight  int
	maxFlight int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string][]delivery.Message{}, fail: map[string]delivery.Status{}}
}

func (s *recordingSender) Send(ctx context.Context, m delivery.Message) delivery.Outcome {
	if m.Recipient == s.panicOn {
		panic("adapter exploded")
	}
	s.mu.Lock()
	s.inflight++
	s.maxFlight = max(s.maxFlight, s.inflight)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if st, ok := s.fail[m.Recipient]; ok {
		return delivery.Outcome{Recipient: m.Recipient, AttemptedDay: m.Day, Status: st, Detail: "boom"}
	}
	s.sent[m.Recipient] = append(s.sent[m.Recipient], m)
	return delivery.Outcome{Recipient: m.Recipient, AttemptedDay: m.Day, Status: delivery.Delivered}
}

func catalog(t *testing.T, n int) *content.Sequence {
	t.Helper()
	items := make([]content.Item, 0, n)
	for d := 1; d <= n; d++ {
		items = append(items, content.Item{Day: d, Verse: fmt.Sprintf("verse-%d", d)})
	}
	seq, err := content.NewSequence(items)
	require.NoError(t, err)
	return seq
}

func seed(t *testing.T, st storage.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("tg:%d", 1000+i)
		require.NoError(t, st.Upsert(context.Background(), id, i%3))
		ids = append(ids, id)
	}
	return ids
}

func TestProgressionIsolatesFailingRecipient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	ids := seed(t, st, 10)
	sender := newRecordingSender()
	sender.fail[ids[4]] = delivery.PermanentFailure

	c := New(Config{Workers: 3}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Progression(ctx, content.StyleMorning)
	require.NoError(t, err)

	assert.Equal(t, 10, sum.Total)
	assert.Equal(t, 9, sum.Delivered)
	assert.Equal(t, 1, sum.Permanent)
	assert.Equal(t, 1, sum.Failed())
	assert.Equal(t, ModeProgression, sum.Mode)
	assert.NotEmpty(t, sum.RunID)

	for i, id := range ids {
		day, _, err := st.Get(ctx, id)
		require.NoError(t, err)
		// The failed recipient was advanced before delivery and is not rolled back.
		assert.Equal(t, i%3+1, day, id)
		if id == ids[4] {
			continue
		}
		require.Len(t, sender.sent[id], 1)
		assert.Equal(t, day, sender.sent[id][0].Day)
		assert.True(t, strings.HasPrefix(sender.sent[id][0].Text, "☀️ Good Morning!"))
	}
}

func TestProgressionSendsCompletionWithoutAdvancing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	require.NoError(t, st.Upsert(ctx, "tg:1", 2))
	sender := newRecordingSender()

	c := New(Config{}, st, progress.New(st, catalog(t, 2), logx.Nop()), sender, nil, logx.Nop())
	for i := 0; i < 3; i++ {
		sum, err := c.Progression(ctx, content.StylePlain)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Delivered)
	}
	require.Len(t, sender.sent["tg:1"], 3)
	for _, m := range sender.sent["tg:1"] {
		assert.Equal(t, content.CompletionMessage, m.Text)
	}
	day, _, _ := st.Get(ctx, "tg:1")
	assert.Equal(t, 2, day)
}

func TestFixedBroadcastKeepsPayloadAndDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	ids := seed(t, st, 6)
	sender := newRecordingSender()

	c := New(Config{Workers: 2}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Fixed(ctx, "[Broadcast] Happy Diwali")
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Delivered)
	assert.Equal(t, ModeFixed, sum.Mode)

	for i, id := range ids {
		require.Len(t, sender.sent[id], 1)
		assert.Contains(t, sender.sent[id][0].Text, "Happy Diwali")
		assert.Equal(t, 0, sender.sent[id][0].Day)
		day, _, _ := st.Get(ctx, id)
		assert.Equal(t, i%3, day, "fixed broadcast never advances")
	}
}

func TestFanoutRunsConcurrently(t *testing.T) {
	t.Parallel()
	st := storage.OpenMemory()
	seed(t, st, 16)
	sender := newRecordingSender()
	sender.delay = 20 * time.Millisecond

	c := New(Config{Workers: 4}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Fixed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 16, sum.Delivered)
	assert.Greater(t, sender.maxFlight, 1)
	assert.LessOrEqual(t, sender.maxFlight, 4)
}

func TestFanoutRecoversFromPanics(t *testing.T) {
	t.Parallel()
	st := storage.OpenMemory()
	ids := seed(t, st, 5)
	sender := newRecordingSender()
	sender.panicOn = ids[2]

	c := New(Config{Workers: 2}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Fixed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Delivered)
	assert.Equal(t, 1, sum.Transient)
}

func TestFanoutRunTimeoutCountsRemainingAsTransient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	seed(t, st, 20)
	sender := newRecordingSender()
	sender.delay = 30 * time.Millisecond

	c := New(Config{Workers: 1, RunTimeout: 50 * time.Millisecond}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Progression(ctx, content.StylePlain)
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Total)
	assert.Equal(t, 20, sum.Delivered+sum.Transient)
	assert.Greater(t, sum.Transient, 0)

	// Recipients skipped after the deadline were never advanced.
	advanced := 0
	ids, _ := st.ListAll(ctx)
	for _, id := range ids {
		if len(sender.sent[id]) > 0 {
			advanced++
		}
	}
	assert.Equal(t, sum.Delivered, advanced)
}

type brokenRecipients struct{}

func (brokenRecipients) ListAll(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("storage list: %w: %w", storage.ErrStore, errors.New("disk gone"))
}

func TestFanoutFailsWhenRecipientsUnavailable(t *testing.T) {
	t.Parallel()
	c := New(Config{}, brokenRecipients{}, nil, newRecordingSender(), nil, logx.Nop())
	_, err := c.Fixed(context.Background(), "hi")
	assert.ErrorIs(t, err, storage.ErrStore)
}

type failingStore struct{ storage.Store }

func (failingStore) Upsert(ctx context.Context, id string, day int) error {
	return fmt.Errorf("storage upsert: %w: %w", storage.ErrStore, errors.New("readonly"))
}

func TestProgressionStoreFaultIsPerRecipient(t *testing.T) {
	t.Parallel()
	mem := storage.OpenMemory()
	seed(t, mem, 3)
	st := failingStore{Store: mem}
	sender := newRecordingSender()

	c := New(Config{}, st, progress.New(st, catalog(t, 7), logx.Nop()), sender, nil, logx.Nop())
	sum, err := c.Progression(context.Background(), content.StylePlain)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Transient)
	assert.Empty(t, sender.sent, "nothing is sent when the advance could not be committed")
}

func TestFanoutPublishesSummary(t *testing.T) {
	t.Parallel()
	st := storage.OpenMemory()
	seed(t, st, 2)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1, eventbus.FanoutFinished)
	defer unsub()

	c := New(Config{}, st, progress.New(st, catalog(t, 7), logx.Nop()), newRecordingSender(), bus, logx.Nop())
	sum, err := c.Fixed(context.Background(), "hi")
	require.NoError(t, err)

	e := <-ch
	got, ok := e.Data.(Summary)
	require.True(t, ok)
	assert.Equal(t, sum.RunID, got.RunID)
	assert.Equal(t, 2, got.Delivered)
}
