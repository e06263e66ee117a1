package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"versebot/internal/delivery"
)

const (
	DefaultAPIBase = "https://api.twilio.com"
	// Twilio rejects WhatsApp bodies above 1600 characters.
	textLimit = 1600
)

// Twilio error codes that mean the recipient address itself is unusable.
var permanentCodes = map[int]bool{
	21211: true, // invalid To number
	21214: true, // To number cannot be reached
	21408: true, // region not enabled
	21610: true, // recipient unsubscribed (STOP)
	21614: true, // not a valid mobile number
	63003: true, // channel could not find To address
	63024: true, // invalid message recipient
}

// APIError is the error body returned by the Twilio REST API.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: http %d code %d: %s", e.Status, e.Code, e.Message)
}

// Client sends WhatsApp messages through the Twilio Messages API.
type Client struct {
	base       string
	accountSID string
	authToken  string
	from       string
	http       *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		base:       base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		http:       &http.Client{Timeout: 20 * time.Second},
	}
}

// Send posts one message. to and from are "whatsapp:+<number>" addresses.
func (c *Client) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.base, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	apiErr.Status = resp.StatusCode
	return classify(apiErr)
}

// classify marks recipient-specific rejections permanent. Auth, quota and
// server errors stay transient: they affect every recipient and should trip
// the channel breaker instead.
func classify(err *APIError) error {
	if permanentCodes[err.Code] || (err.Status == http.StatusNotFound && err.Code == 0) {
		return delivery.Permanent(err)
	}
	return err
}
