// Package notify delivers in-app notifications: stored in the database,
// pushed to open event streams and optionally mailed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/smsdesk/internal/sse"
	"github.io/infrasutra/smsdesk/internal/store"
)

type Store interface {
	InsertNotification(ctx context.Context, notification store.Notification) (store.Notification, error)
}

// Sender mails a plain text notification.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Notice is what a caller wants a user to know.
type Notice struct {
	Type    string
	Subject string
	Message string
	URL     string
}

type Dispatcher struct {
	store  Store
	hub    *sse.Hub
	mailer Sender
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Dispatcher)

// WithMailer adds the mail channel.
func WithMailer(mailer Sender) Option {
	return func(d *Dispatcher) {
		d.mailer = mailer
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(st Store, hub *sse.Hub, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{store: st, hub: hub, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify stores the notice for user and fans it out. The database write
// must succeed; a failed mail is reported but the notice stays delivered
// in-app.
func (d *Dispatcher) Notify(ctx context.Context, user store.User, notice Notice) (store.Notification, error) {
	notification, err := d.store.InsertNotification(ctx, store.Notification{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Type:      notice.Type,
		Message:   notice.Message,
		URL:       notice.URL,
		CreatedAt: d.now(),
	})
	if err != nil {
		return store.Notification{}, fmt.Errorf("store notification: %w", err)
	}
	if d.hub != nil {
		d.hub.Broadcast([]int64{user.ID}, Event(notification))
	}
	if d.mailer == nil || strings.TrimSpace(user.Email) == "" {
		return notification, nil
	}
	subject := notice.Subject
	if subject == "" {
		subject = notice.Message
	}
	body := notice.Message
	if notice.URL != "" {
		body += "\r\n\r\n" + notice.URL
	}
	if err := d.mailer.Send(ctx, []string{user.Email}, subject, body); err != nil {
		return notification, fmt.Errorf("mail notification: %w", err)
	}
	return notification, nil
}

// NotifyAll sends notice to each user, logging failures instead of
// stopping at the first one.
func (d *Dispatcher) NotifyAll(ctx context.Context, users []store.User, notice Notice) error {
	var errs []error
	for _, user := range users {
		if _, err := d.Notify(ctx, user, notice); err != nil {
			d.logger.Warn("notify user", "user", user.ID, "type", notice.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event renders a notification as a server-sent event frame.
func Event(n store.Notification) []byte {
	payload := map[string]any{
		"id":        n.ID,
		"type":      n.Type,
		"message":   n.Message,
		"url":       n.URL,
		"createdAt": n.CreatedAt.UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: notification\ndata: %s\n\n", data))
}
