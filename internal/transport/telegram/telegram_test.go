package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"versebot/internal/delivery"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"blocked", tele.ErrBlockedByUser, true},
		{"chat not found", tele.ErrChatNotFound, true},
		{"forbidden code", &tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}, true},
		{"flood", &tele.Error{Code: 429, Description: "Too Many Requests"}, false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			assert.Equal(t, tc.permanent, delivery.IsPermanent(got))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestDeliverRejectsNonTelegramRecipient(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	err := a.Deliver(context.Background(), "whatsapp:+911234", "hi")
	assert.True(t, delivery.IsPermanent(err))
}
