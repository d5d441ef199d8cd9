package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/store"
)

var (
	ErrOverQuota     = errors.New("sending quota exceeded")
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrNoPhone       = errors.New("customer has no phone number")
)

type Reports interface {
	InsertReport(ctx context.Context, report store.Report) (store.Report, error)
}

// Quota is the customer view the service checks before sending.
type Quota interface {
	Account(ctx context.Context, userID int64) (customer.Account, error)
	Reserve(account customer.Account) (bool, error)
	Release(account customer.Account) error
}

type Service struct {
	gateway         Gateway
	reports         Reports
	quota           Quota
	defaultSenderID string
	systemUserID    int64
	logger          *slog.Logger
	now             func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the gateway. Notification SMS are recorded under
// systemUserID and sent from defaultSenderID unless told otherwise.
func NewService(gateway Gateway, reports Reports, quota Quota, defaultSenderID string, systemUserID int64, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gateway:         gateway,
		reports:         reports,
		quota:           quota,
		defaultSenderID: defaultSenderID,
		systemUserID:    systemUserID,
		logger:          logger,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbound is a customer message and the campaign it belongs to, if any.
type Outbound struct {
	UserID     int64
	CampaignID int64
	From       string
	To         string
	Body       string
}

// Send delivers a customer message. One message is reserved against the
// quota before the gateway is called and given back when the gateway
// refuses it. Every attempt that reaches the gateway leaves a report.
func (s *Service) Send(ctx context.Context, out Outbound) (store.Report, error) {
	to := NormalizeNumber(out.To)
	if !ValidNumber(to) {
		return store.Report{}, fmt.Errorf("%w: %q", ErrInvalidNumber, out.To)
	}
	account, err := s.quota.Account(ctx, out.UserID)
	if err != nil {
		return store.Report{}, err
	}
	ok, err := s.quota.Reserve(account)
	if err != nil {
		return store.Report{}, fmt.Errorf("reserve quota: %w", err)
	}
	if !ok {
		return store.Report{}, ErrOverQuota
	}

	report, sendErr := s.deliver(ctx, out.UserID, out.CampaignID, Message{From: out.From, To: to, Body: out.Body})
	if sendErr != nil {
		if err := s.quota.Release(account); err != nil {
			s.logger.Error("release quota", "user", out.UserID, "error", err)
		}
		return report, sendErr
	}
	return report, nil
}

// SendNotification texts a customer on their profile phone. Notification
// traffic is not charged to the customer's quota.
func (s *Service) SendNotification(ctx context.Context, cust store.Customer, senderID, body string) error {
	if senderID == "" {
		senderID = s.defaultSenderID
	}
	to := NormalizeNumber(cust.Phone)
	if to == "" {
		return ErrNoPhone
	}
	if !ValidNumber(to) {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, cust.Phone)
	}
	_, err := s.deliver(ctx, s.systemUserID, 0, Message{From: senderID, To: to, Body: body})
	return err
}

func (s *Service) deliver(ctx context.Context, userID, campaignID int64, msg Message) (store.Report, error) {
	report := store.Report{
		UserID:     userID,
		CampaignID: campaignID,
		From:       msg.From,
		To:         msg.To,
		Message:    msg.Body,
		SMSType:    "plain",
		Direction:  "to",
		Cost:       1,
		CreatedAt:  s.now(),
	}
	_, sendErr := s.gateway.Send(ctx, msg)
	if sendErr != nil {
		report.Status = store.ReportFailed
	} else {
		report.Status = store.ReportDelivered
	}
	saved, err := s.reports.InsertReport(ctx, report)
	if err != nil {
		s.logger.Error("record sms report", "to", msg.To, "error", err)
		saved = report
	}
	if sendErr != nil {
		return saved, fmt.Errorf("send sms: %w", sendErr)
	}
	return saved, nil
}
