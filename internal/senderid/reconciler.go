// Package senderid keeps local sender IDs in step with the carrier portal:
// pending names are approved, rejected or submitted for approval.
package senderid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/orange"
	"github.io/infrasutra/smsdesk/internal/store"
)

const NotificationType = "sender_id"

type Store interface {
	PendingSenderIDs(ctx context.Context) ([]store.SenderID, error)
	TransitionSenderID(ctx context.Context, id int64, status string, now time.Time) (bool, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	GetCustomerByUser(ctx context.Context, userID int64) (store.Customer, error)
}

// Portal is the carrier side of the reconciliation.
type Portal interface {
	Restore(ctx context.Context, sessions orange.SessionStore) (*orange.Session, error)
	Ensure(ctx context.Context, sess *orange.Session) error
	ListValidSignatures(ctx context.Context, sess *orange.Session) ([]orange.Signature, error)
	ListSignatures(ctx context.Context, sess *orange.Session) ([]orange.Signature, bool, error)
	CreateSignature(ctx context.Context, sess *orange.Session, wording string) (orange.Creation, error)
}

type Notifier interface {
	Notify(ctx context.Context, user store.User, notice notify.Notice) (store.Notification, error)
}

type Texter interface {
	SendNotification(ctx context.Context, cust store.Customer, senderID, body string) error
}

type Translator interface {
	Translate(locale, key string, params map[string]string) string
}

type Config struct {
	AdminUserID int64
	FrontURL    string
	Locale      string
}

type Reconciler struct {
	store      Store
	portal     Portal
	sessions   orange.SessionStore
	notifier   Notifier
	texter     Texter
	translator Translator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func New(st Store, portal Portal, sessions orange.SessionStore, notifier Notifier, texter Texter, translator Translator, cfg Config, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:      st,
		portal:     portal,
		sessions:   sessions,
		notifier:   notifier,
		texter:     texter,
		translator: translator,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome summarizes one pass.
type Outcome struct {
	Activated []string
	Rejected  []string
	Unchanged []string
	Submitted []string
	// Skipped is set when the portal answered without a signature list.
	Skipped bool
}

// Run performs one reconciliation pass. A portal failure or an unreadable
// saved session stops the pass, clears the saved session and is returned;
// the next run signs in again.
func (r *Reconciler) Run(ctx context.Context) (Outcome, error) {
	var outcome Outcome
	sess, err := r.portal.Restore(ctx, r.sessions)
	if err != nil {
		return outcome, r.abort(ctx, err)
	}
	if err := r.portal.Ensure(ctx, sess); err != nil {
		return outcome, r.abort(ctx, err)
	}
	if err := r.sessions.Save(ctx, sess.Snapshot()); err != nil {
		r.logger.Warn("save orange session", "error", err)
	}

	if _, err := r.portal.ListValidSignatures(ctx, sess); err != nil {
		return outcome, r.abort(ctx, err)
	}
	signatures, ok, err := r.portal.ListSignatures(ctx, sess)
	if err != nil {
		return outcome, r.abort(ctx, err)
	}
	if !ok {
		r.logger.Info("orange returned no signature list")
		outcome.Skipped = true
		return outcome, r.save(ctx, sess)
	}

	pending, err := r.store.PendingSenderIDs(ctx)
	if err != nil {
		return outcome, fmt.Errorf("list pending sender ids: %w", err)
	}
	for _, senderID := range pending {
		remote, found := orange.Find(signatures, senderID.SenderID)
		switch {
		case !found:
			created, err := r.portal.CreateSignature(ctx, sess, senderID.SenderID)
			if err != nil {
				return outcome, r.abort(ctx, err)
			}
			r.logger.Info("sender id submitted", "sender_id", senderID.SenderID, "signature", created.SignatureID, "alerted", len(created.AlertMails))
			outcome.Submitted = append(outcome.Submitted, senderID.SenderID)
		case remote.Activated():
			changed, err := r.settle(ctx, senderID, store.SenderIDActive)
			if err != nil {
				return outcome, err
			}
			if changed {
				outcome.Activated = append(outcome.Activated, senderID.SenderID)
			}
		case remote.Rejected():
			changed, err := r.settle(ctx, senderID, store.SenderIDBlocked)
			if err != nil {
				return outcome, err
			}
			if changed {
				outcome.Rejected = append(outcome.Rejected, senderID.SenderID)
			}
		default:
			outcome.Unchanged = append(outcome.Unchanged, senderID.SenderID)
		}
	}
	return outcome, r.save(ctx, sess)
}

func (r *Reconciler) save(ctx context.Context, sess *orange.Session) error {
	if err := r.sessions.Save(ctx, sess.Snapshot()); err != nil {
		return fmt.Errorf("save orange session: %w", err)
	}
	return nil
}

func (r *Reconciler) abort(ctx context.Context, cause error) error {
	attrs := []any{"error", cause}
	if step, ok := orange.FailedStep(cause); ok {
		attrs = append(attrs, "step", step.Step, "status", step.StatusCode)
	}
	r.logger.Error("orange reconciliation aborted", attrs...)
	if err := r.sessions.Clear(ctx); err != nil {
		r.logger.Error("clear orange session", "error", err)
	}
	return cause
}

// settle flips a pending sender ID and tells the people involved. It
// reports false when another run already flipped the row.
func (r *Reconciler) settle(ctx context.Context, senderID store.SenderID, status string) (bool, error) {
	changed, err := r.store.TransitionSenderID(ctx, senderID.ID, status, r.now())
	if err != nil {
		return false, fmt.Errorf("update sender id %s: %w", senderID.SenderID, err)
	}
	if !changed {
		return false, nil
	}
	r.logger.Info("sender id settled", "sender_id", senderID.SenderID, "status", status)

	if admin, err := r.store.GetUser(ctx, r.cfg.AdminUserID); err != nil {
		r.logger.Warn("load admin user", "user", r.cfg.AdminUserID, "error", err)
	} else {
		r.notify(ctx, admin, senderID, status)
	}

	owner, err := r.store.GetUser(ctx, senderID.UserID)
	if err != nil {
		r.logger.Warn("load sender id owner", "user", senderID.UserID, "error", err)
		return true, nil
	}
	cust, err := r.store.GetCustomerByUser(ctx, owner.ID)
	if err != nil {
		r.logger.Warn("load customer", "user", owner.ID, "error", err)
		return true, nil
	}
	if !cust.Notifies(NotificationType) {
		return true, nil
	}
	if owner.ID != r.cfg.AdminUserID {
		r.notify(ctx, owner, senderID, status)
	}

	key := "sms_notifications.sender_id_activation"
	if status == store.SenderIDBlocked {
		key = "sms_notifications.sender_id_rejected"
	}
	message := r.translator.Translate(r.localeOf(owner), key, map[string]string{
		"sender_id": senderID.SenderID,
		"url":       r.cfg.FrontURL,
		"name":      owner.DisplayName(),
	})
	if err := r.texter.SendNotification(ctx, cust, senderID.SenderID, message); err != nil {
		r.logger.Warn("sender id sms notification", "sender_id", senderID.SenderID, "user", owner.ID, "error", err)
	}
	return true, nil
}

func (r *Reconciler) notify(ctx context.Context, user store.User, senderID store.SenderID, status string) {
	locale := r.localeOf(user)
	params := map[string]string{"sender_id": senderID.SenderID}
	notice := notify.Notice{
		Type:    NotificationType,
		Subject: r.translator.Translate(locale, "sender_id.mail_subject", params),
		Message: r.translator.Translate(locale, "sender_id.status."+status, params),
		URL:     strings.TrimRight(r.cfg.FrontURL, "/") + "/senderid",
	}
	if _, err := r.notifier.Notify(ctx, user, notice); err != nil {
		r.logger.Warn("sender id notification", "sender_id", senderID.SenderID, "user", user.ID, "error", err)
	}
}

func (r *Reconciler) localeOf(user store.User) string {
	if user.Locale != "" {
		return user.Locale
	}
	return r.cfg.Locale
}
