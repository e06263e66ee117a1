package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	fan, unsubFan := b.Subscribe(4, FanoutFinished)
	defer unsubFan()

	b.Publish(Event{Type: RecipientRegistered, Data: "tg:1"})
	b.Publish(Event{Type: FanoutFinished, Data: 3})

	require.Len(t, all, 2)
	require.Len(t, fan, 1)
	e := <-fan
	assert.Equal(t, FanoutFinished, e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocksAndUnsubscribeCloses(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "x"})
	}
	assert.Len(t, ch, 1)

	unsub()
	unsub()
	<-ch
	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{Type: "x"})
}
