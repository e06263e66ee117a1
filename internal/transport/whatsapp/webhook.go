package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"versebot/internal/identity"
	"versebot/internal/transport"
	logx "versebot/pkg/logx"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// webhook receives inbound WhatsApp messages over HTTP.
//
// Twilio posts form fields (From, Body, MessageSid). The Meta Cloud API
// posts JSON and verifies the endpoint with a GET handshake. Both are
// accepted; replies go out asynchronously through the REST client, so the
// response body is always empty.
type webhook struct {
	cfg  WebhookConfig
	log  logx.Logger
	push func(transport.Update)

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func (w *webhook) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.serveWebhook)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, "ok")
	})
	return mux
}

func (w *webhook) serveWebhook(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.verify(rw, r)
	case http.MethodPost:
		w.receive(rw, r)
	default:
		rw.Header().Set("Allow", "GET, POST")
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// verify answers the Meta subscription handshake.
func (w *webhook) verify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if w.cfg.VerifyToken == "" || token != w.cfg.VerifyToken {
		w.log.Warn("webhook verification failed", logx.String("remote", r.RemoteAddr))
		http.Error(rw, "Verification failed", http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, q.Get("hub.challenge"))
}

func (w *webhook) receive(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, 1<<20)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		ups []transport.Update
		err error
	)
	switch ct {
	case "application/json":
		ups, err = parseMeta(r.Body)
	default:
		ups, err = parseTwilio(r)
	}
	if err != nil {
		w.log.Warn("webhook payload rejected", logx.String("content_type", ct), logx.Err(err))
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	for _, up := range ups {
		w.push(up)
	}
	if ct == "application/json" {
		rw.WriteHeader(http.StatusOK)
		return
	}
	rw.Header().Set("Content-Type", "text/xml; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, emptyTwiML)
}

func parseTwilio(r *http.Request) ([]transport.Update, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		return nil, errors.New("missing From")
	}
	return []transport.Update{{
		Channel:    identity.ChannelWhatsApp,
		Sender:     identity.WhatsApp(from),
		Text:       r.PostForm.Get("Body"),
		MessageID:  r.PostForm.Get("MessageSid"),
		ReceivedAt: time.Now(),
	}}, nil
}

type metaPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// parseMeta extracts text messages from a Cloud API notification. Status
// callbacks and non-text messages are ignored.
func parseMeta(body io.Reader) ([]transport.Update, error) {
	var p metaPayload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return nil, err
	}
	var out []transport.Update
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				if (m.Type != "" && m.Type != "text") || m.From == "" {
					continue
				}
				out = append(out, transport.Update{
					Channel:    identity.ChannelWhatsApp,
					Sender:     identity.WhatsApp(m.From),
					Text:       m.Text.Body,
					MessageID:  m.ID,
					ReceivedAt: time.Now(),
				})
			}
		}
	}
	return out, nil
}

func (w *webhook) start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           w.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       w.cfg.ReadTimeout,
		WriteTimeout:      w.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	w.srv, w.ln, w.addr = srv, ln, ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("webhook server error", logx.String("addr", w.addr), logx.Err(err))
		}
	}()
	w.log.Info("webhook listening", logx.String("addr", w.addr), logx.String("path", w.cfg.Path))
	return nil
}

func (w *webhook) stop(ctx context.Context) {
	w.mu.Lock()
	srv, addr := w.srv, w.addr
	w.srv, w.ln, w.addr = nil, nil, ""
	w.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.log.Warn("webhook shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	w.log.Info("webhook stopped", logx.String("addr", addr))
}

func (w *webhook) listenAddr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr
}
