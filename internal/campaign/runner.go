// Package campaign sends a message to every contact of a group.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/store"
)

var ErrSenderIDNotActive = errors.New("sender id is not active")

type Store interface {
	ActiveSenderID(ctx context.Context, userID int64, name string) (bool, error)
	GroupRecipients(ctx context.Context, groupID int64) ([]store.Contact, error)
	BlacklistedNumbers(ctx context.Context, userID int64) (map[string]struct{}, error)
	UpdateCampaignProgress(ctx context.Context, id int64, status string, delivered, failed int64, runAt time.Time) error
}

type Sender interface {
	Send(ctx context.Context, out sms.Outbound) (store.Report, error)
}

type Runner struct {
	store  Store
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(st Store, sender Sender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: st, sender: sender, logger: logger, now: time.Now}
}

// Result counts what happened to each recipient.
type Result struct {
	Status      string `json:"status"`
	Delivered   int64  `json:"delivered"`
	Failed      int64  `json:"failed"`
	Blacklisted int64  `json:"blacklisted"`
	Remaining   int64  `json:"remaining"`
}

// Run sends the campaign. Blacklisted numbers are skipped. When the quota
// runs out the campaign is paused with the rest of the group unsent.
func (r *Runner) Run(ctx context.Context, c store.Campaign) (Result, error) {
	active, err := r.store.ActiveSenderID(ctx, c.UserID, c.SenderID)
	if err != nil {
		return Result{}, err
	}
	if !active {
		return Result{}, fmt.Errorf("%w: %s", ErrSenderIDNotActive, c.SenderID)
	}
	recipients, err := r.store.GroupRecipients(ctx, c.GroupID)
	if err != nil {
		return Result{}, err
	}
	blocked, err := r.store.BlacklistedNumbers(ctx, c.UserID)
	if err != nil {
		return Result{}, err
	}
	blacklist := make(map[string]struct{}, len(blocked))
	for number := range blocked {
		blacklist[sms.NormalizeNumber(number)] = struct{}{}
	}

	result := Result{Status: store.CampaignRunning}
	if err := r.store.UpdateCampaignProgress(ctx, c.ID, result.Status, 0, 0, r.now()); err != nil {
		return result, err
	}

	for i, contact := range recipients {
		if err := ctx.Err(); err != nil {
			result.Status = store.CampaignPaused
			result.Remaining = int64(len(recipients) - i)
			break
		}
		number := sms.NormalizeNumber(contact.Phone)
		if _, ok := blacklist[number]; ok {
			result.Blacklisted++
			continue
		}
		_, err := r.sender.Send(ctx, sms.Outbound{
			UserID:     c.UserID,
			CampaignID: c.ID,
			From:       c.SenderID,
			To:         number,
			Body:       Render(c.Message, contact),
		})
		if errors.Is(err, sms.ErrOverQuota) {
			result.Status = store.CampaignPaused
			result.Remaining = int64(len(recipients) - i)
			r.logger.Warn("campaign paused on quota", "campaign", c.UID, "remaining", result.Remaining)
			break
		}
		if err != nil {
			result.Failed++
			r.logger.Warn("campaign message failed", "campaign", c.UID, "to", number, "error", err)
			continue
		}
		result.Delivered++
	}

	if result.Status == store.CampaignRunning {
		result.Status = store.CampaignDelivered
		if result.Delivered == 0 && result.Failed > 0 {
			result.Status = store.CampaignFailed
		}
	}
	// the final state is recorded even when ctx is done
	if err := r.store.UpdateCampaignProgress(context.WithoutCancel(ctx), c.ID, result.Status, result.Delivered, result.Failed, r.now()); err != nil {
		return result, err
	}
	r.logger.Info("campaign finished", "campaign", c.UID, "status", result.Status, "delivered", result.Delivered, "failed", result.Failed)
	return result, nil
}

// Render fills the contact tags of a message.
func Render(message string, contact store.Contact) string {
	return strings.NewReplacer(
		"{first_name}", contact.FirstName,
		"{last_name}", contact.LastName,
		"{phone}", contact.Phone,
	).Replace(message)
}
