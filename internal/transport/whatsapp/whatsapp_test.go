package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versebot/internal/delivery"
	"versebot/internal/transport"
	logx "versebot/pkg/logx"
)

type twilioStub struct {
	mu     sync.Mutex
	forms  []url.Values
	status int
	body   string
}

func (s *twilioStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, _ := r.BasicAuth()
	if user != "AC123" || pass != "secret" || r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":20003,"message":"Authenticate","status":401}`)
		return
	}
	_ = r.ParseForm()
	s.mu.Lock()
	s.forms = append(s.forms, r.PostForm)
	status, body := s.status, s.body
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusCreated
		body = `{"sid":"SM1","status":"queued"}`
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestAdapter(t *testing.T, stub http.Handler, hook WebhookConfig) *Adapter {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	a, err := New(Config{AccountSID: "AC123", AuthToken: "secret", From: "+14155238886", APIBase: srv.URL, Webhook: hook}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestDeliverPostsTwilioForm(t *testing.T) {
	t.Parallel()
	stub := &twilioStub{}
	a := newTestAdapter(t, stub, WebhookConfig{})

	require.NoError(t, a.Deliver(context.Background(), "whatsapp:+919876543210", "📖 Day 1 Verse"))
	require.Len(t, stub.forms, 1)
	f := stub.forms[0]
	assert.Equal(t, "whatsapp:+919876543210", f.Get("To"))
	assert.Equal(t, "whatsapp:+14155238886", f.Get("From"))
	assert.Equal(t, "📖 Day 1 Verse", f.Get("Body"))
}

func TestDeliverSplitsLongBodies(t *testing.T) {
	t.Parallel()
	stub := &twilioStub{}
	a := newTestAdapter(t, stub, WebhookConfig{})
	long := strings.Repeat("जय हनुमान ज्ञान गुन सागर\n", 100)
	require.NoError(t, a.Deliver(context.Background(), "whatsapp:+919876543210", long))
	assert.Greater(t, len(stub.forms), 1)
}

func TestDeliverClassifiesTwilioErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status    int
		body      string
		permanent bool
	}{
		{400, `{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`, true},
		{400, `{"code":63003,"message":"Channel could not find To address","status":400}`, true},
		{429, `{"code":20429,"message":"Too Many Requests","status":429}`, false},
		{500, `oops`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprint(tc.status, tc.permanent), func(t *testing.T) {
			t.Parallel()
			a := newTestAdapter(t, &twilioStub{status: tc.status, body: tc.body}, WebhookConfig{})
			err := a.Deliver(context.Background(), "whatsapp:+911", "hi")
			require.Error(t, err)
			assert.Equal(t, tc.permanent, delivery.IsPermanent(err))
		})
	}

	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":20003,"message":"Authenticate","status":401}`)
	}), WebhookConfig{})
	err := a.Deliver(context.Background(), "whatsapp:+911", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 20003, apiErr.Code)
	assert.False(t, delivery.IsPermanent(err), "auth failures are not the recipient's fault")
}

func TestDeliverRejectsForeignRecipient(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &twilioStub{}, WebhookConfig{})
	assert.True(t, delivery.IsPermanent(a.Deliver(context.Background(), "tg:42", "hi")))
}

func TestWebhookVerifyHandshake(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &twilioStub{}, WebhookConfig{VerifyToken: "manthan"})
	h := a.hook.handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=manthan&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookVerifyFailsWithoutConfiguredToken(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &twilioStub{}, WebhookConfig{})
	rec := httptest.NewRecorder()
	a.hook.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookParsesTwilioAndMetaPayloads(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &twilioStub{}, WebhookConfig{})
	out := make(chan transport.Update, 4)
	a.out.Store((chan<- transport.Update)(out))
	h := a.hook.handler()

	form := url.Values{"From": {"whatsapp:+919876543210"}, "Body": {"hi"}, "MessageSid": {"SM1"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response>")

	up := <-out
	assert.Equal(t, "whatsapp:+919876543210", up.Sender)
	assert.Equal(t, "hi", up.Text)
	assert.Equal(t, "SM1", up.MessageID)

	meta := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"919876543210","id":"wamid.1","type":"text","text":{"body":"broadcast hello"}},
		{"from":"919876543210","id":"wamid.2","type":"image"}]}}]}]}`
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(meta))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	up = <-out
	assert.Equal(t, "whatsapp:+919876543210", up.Sender)
	assert.Equal(t, "broadcast hello", up.Text)
	assert.Len(t, out, 0)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("Body=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdapterServesWebhook(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, &twilioStub{}, WebhookConfig{Addr: "127.0.0.1:0"})
	out := make(chan transport.Update, 1)
	require.NoError(t, a.Start(context.Background(), out))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, a.Stop(ctx))
		assert.Empty(t, a.Addr())
	}()

	resp, err := http.PostForm("http://"+a.Addr()+"/webhook", url.Values{"From": {"whatsapp:+911"}, "Body": {"next"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case up := <-out:
		assert.Equal(t, "next", up.Text)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	resp, err = http.Get("http://" + a.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
