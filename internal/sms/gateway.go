// Package sms sends text messages through an HTTP gateway and records
// every attempt as an outbound report.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one outbound SMS.
type Message struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"message"`
}

// Receipt is the gateway acknowledgement of a message.
type Receipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Gateway interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sms gateway: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sms gateway: HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrNoGateway is returned when no gateway URL is configured.
var ErrNoGateway = errors.New("sms gateway not configured")

// HTTPGateway posts messages as JSON with a bearer token.
type HTTPGateway struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPGateway(url, token string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPGateway{url: strings.TrimSpace(url), token: token, client: client}
}

func (g *HTTPGateway) Send(ctx context.Context, msg Message) (Receipt, error) {
	if g.url == "" {
		return Receipt{}, ErrNoGateway
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Receipt{}, fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, &GatewayError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var receipt Receipt
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &receipt); err != nil {
			return Receipt{}, fmt.Errorf("decode sms response: %w", err)
		}
	}
	if receipt.Status == "" {
		receipt.Status = "accepted"
	}
	return receipt, nil
}

// NormalizeNumber strips formatting from a phone number: spaces, dashes,
// dots, parentheses and a leading + or 00.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if strings.HasPrefix(strings.TrimSpace(raw), "00") {
		number = strings.TrimPrefix(number, "00")
	}
	return number
}

// ValidNumber reports whether a normalized number looks dialable.
func ValidNumber(number string) bool {
	return len(number) >= 6 && len(number) <= 15
}
