// Package customer derives a customer's plan limits and usage from their
// active subscription, and hands out the quota tracker for their window.
package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.io/infrasutra/smsdesk/internal/quota"
	"github.io/infrasutra/smsdesk/internal/store"
)

// Plan option keys.
const (
	OptionSMSMax            = "sms_max"
	OptionListMax           = "list_max"
	OptionSubscriberMax     = "subscriber_max"
	OptionSendingQuota      = "sending_quota"
	OptionSendingQuotaTime  = "sending_quota_time"
	OptionSendingQuotaUnit  = "sending_quota_time_unit"
	unlimitedPercentageText = "∞"
)

// ErrNoSubscription is returned for customers without a running plan.
var ErrNoSubscription = errors.New("no active subscription")

type Store interface {
	GetCustomerByUser(ctx context.Context, userID int64) (store.Customer, error)
	ListCustomers(ctx context.Context) ([]store.Customer, error)
	LatestSubscription(ctx context.Context, userID int64) (store.Subscription, error)
	GetPlan(ctx context.Context, id int64) (store.Plan, error)
	CountContactGroups(ctx context.Context, userID int64) (int64, error)
	CountContacts(ctx context.Context, userID int64) (int64, error)
	CountBlacklists(ctx context.Context, userID int64) (int64, error)
	CountTemplates(ctx context.Context, userID int64) (int64, error)
}

// Limits are the plan options that bound a customer.
type Limits struct {
	SMS         quota.Limit
	Lists       quota.Limit
	Subscribers quota.Limit
	Sending     []quota.RateLimit
}

// PlanLimits reads the limits out of plan options. Missing options count
// as unlimited.
func PlanLimits(options map[string]string) (Limits, error) {
	var limits Limits
	var err error
	if limits.SMS, err = quota.ParseLimit(options[OptionSMSMax]); err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionSMSMax, err)
	}
	if limits.Lists, err = quota.ParseLimit(options[OptionListMax]); err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionListMax, err)
	}
	if limits.Subscribers, err = quota.ParseLimit(options[OptionSubscriberMax]); err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionSubscriberMax, err)
	}

	rawTime := strings.TrimSpace(options[OptionSendingQuotaTime])
	if rawTime == "" || rawTime == "-1" {
		return limits, nil
	}
	value, err := strconv.Atoi(rawTime)
	if err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionSendingQuotaTime, err)
	}
	period, err := quota.ParsePeriod(value, options[OptionSendingQuotaUnit])
	if err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionSendingQuotaUnit, err)
	}
	rate, err := quota.ParseLimit(options[OptionSendingQuota])
	if err != nil {
		return Limits{}, fmt.Errorf("parse %s: %w", OptionSendingQuota, err)
	}
	limits.Sending = []quota.RateLimit{{Period: period, Limit: rate}}
	return limits, nil
}

// Account is a customer together with the plan they currently run.
type Account struct {
	Customer     store.Customer
	Subscription store.Subscription
	Plan         store.Plan
	Limits       Limits
}

// Usage is the dashboard view of an account's consumption.
type Usage struct {
	PlanName           string      `json:"plan_name"`
	SMSMax             quota.Limit `json:"sms_max"`
	SMSUsed            int64       `json:"sms_used"`
	SMSPercentage      float64     `json:"sms_percentage"`
	SMSDisplay         string      `json:"sms_display"`
	ListsMax           quota.Limit `json:"lists_max"`
	ListsUsed          int64       `json:"lists_used"`
	ListsDisplay       string      `json:"lists_display"`
	SubscribersMax     quota.Limit `json:"subscribers_max"`
	SubscribersUsed    int64       `json:"subscribers_used"`
	SubscribersDisplay string      `json:"subscribers_display"`
	Blacklists         int64       `json:"blacklists"`
	Templates          int64       `json:"templates"`
}

type Service struct {
	store    Store
	quotaDir string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	trackers map[string]*quota.Tracker
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(st Store, quotaDir string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    st,
		quotaDir: quotaDir,
		logger:   logger,
		now:      time.Now,
		trackers: map[string]*quota.Tracker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account loads the customer of userID and their active plan. Customers
// without a running subscription get ErrNoSubscription.
func (s *Service) Account(ctx context.Context, userID int64) (Account, error) {
	cust, err := s.store.GetCustomerByUser(ctx, userID)
	if err != nil {
		return Account{}, fmt.Errorf("get customer: %w", err)
	}
	return s.account(ctx, cust)
}

func (s *Service) account(ctx context.Context, cust store.Customer) (Account, error) {
	account := Account{Customer: cust}
	sub, err := s.store.LatestSubscription(ctx, cust.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return account, ErrNoSubscription
	}
	if err != nil {
		return account, fmt.Errorf("get subscription: %w", err)
	}
	if !sub.Active(s.now()) {
		return account, ErrNoSubscription
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return account, fmt.Errorf("get plan: %w", err)
	}
	limits, err := PlanLimits(plan.Options)
	if err != nil {
		return account, fmt.Errorf("plan %d: %w", plan.ID, err)
	}
	account.Subscription = sub
	account.Plan = plan
	account.Limits = limits
	return account, nil
}

// LockFile is where the quota window of a customer is persisted.
func (s *Service) LockFile(cust store.Customer) string {
	return filepath.Join(s.quotaDir, cust.UID)
}

// Tracker returns the quota tracker of the account, opening it on first
// use. A subscription without a start date is a configuration error.
func (s *Service) Tracker(account Account) (*quota.Tracker, error) {
	if account.Subscription.StartAt.IsZero() {
		return nil, &quota.ConfigurationError{Reason: "subscription start_at not set"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tracker, ok := s.trackers[account.Customer.UID]; ok {
		window := tracker.Window()
		if window.Start.Equal(account.Subscription.StartAt) {
			return tracker, nil
		}
		if err := tracker.Renew(account.Subscription.StartAt, account.Limits.SMS); err != nil {
			return nil, err
		}
		return tracker, nil
	}
	tracker, err := quota.Open(s.LockFile(account.Customer), account.Subscription.StartAt, account.Limits.SMS, account.Limits.Sending, quota.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	if err := tracker.CleanupSeries(); err != nil {
		return nil, err
	}
	s.trackers[account.Customer.UID] = tracker
	return tracker, nil
}

// Usage collects counters and percentages for the dashboard.
func (s *Service) Usage(ctx context.Context, userID int64, unlimitedLabel, noPlanLabel string) (Usage, error) {
	account, err := s.Account(ctx, userID)
	usage := Usage{
		PlanName:       noPlanLabel,
		SMSMax:         quota.Bounded(0),
		ListsMax:       quota.Bounded(0),
		SubscribersMax: quota.Bounded(0),
	}
	switch {
	case errors.Is(err, ErrNoSubscription):
	case err != nil:
		return Usage{}, err
	default:
		usage.PlanName = account.Plan.Name
		usage.SMSMax = account.Limits.SMS
		usage.ListsMax = account.Limits.Lists
		usage.SubscribersMax = account.Limits.Subscribers
		tracker, err := s.Tracker(account)
		if err != nil {
			return Usage{}, err
		}
		if usage.SMSUsed, err = tracker.Usage(); err != nil {
			return Usage{}, err
		}
	}

	if usage.ListsUsed, err = s.store.CountContactGroups(ctx, userID); err != nil {
		return Usage{}, err
	}
	if usage.SubscribersUsed, err = s.store.CountContacts(ctx, userID); err != nil {
		return Usage{}, err
	}
	if usage.Blacklists, err = s.store.CountBlacklists(ctx, userID); err != nil {
		return Usage{}, err
	}
	if usage.Templates, err = s.store.CountTemplates(ctx, userID); err != nil {
		return Usage{}, err
	}

	usage.SMSPercentage = usage.SMSMax.Percentage(usage.SMSUsed)
	usage.SMSDisplay = DisplayUsage(usage.SMSMax, usage.SMSUsed, unlimitedLabel)
	usage.ListsDisplay = DisplayUsage(usage.ListsMax, usage.ListsUsed, unlimitedPercentageText)
	usage.SubscribersDisplay = DisplayUsage(usage.SubscribersMax, usage.SubscribersUsed, unlimitedPercentageText)
	return usage, nil
}

// DisplayUsage renders "42.5%" or the unlimited label.
func DisplayUsage(max quota.Limit, count int64, unlimitedLabel string) string {
	if max.IsUnlimited() {
		return unlimitedLabel
	}
	return strconv.FormatFloat(max.Percentage(count), 'f', -1, 64) + "%"
}

// Reserve counts one message against the account if the quota still
// allows it. ok is false when the quota is exhausted.
func (s *Service) Reserve(account Account) (bool, error) {
	tracker, err := s.Tracker(account)
	if err != nil {
		return false, err
	}
	ok, _, err := tracker.Reserve()
	return ok, err
}

// Release gives back a reservation whose message was not sent.
func (s *Service) Release(account Account) error {
	tracker, err := s.Tracker(account)
	if err != nil {
		return err
	}
	return tracker.Release()
}

// CleanupAll prunes the rate series of every subscribed customer.
func (s *Service) CleanupAll(ctx context.Context) (int, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list customers: %w", err)
	}
	cleaned := 0
	for _, cust := range customers {
		account, err := s.account(ctx, cust)
		if errors.Is(err, ErrNoSubscription) {
			continue
		}
		if err != nil {
			s.logger.Warn("quota cleanup skipped", "customer", cust.UID, "error", err)
			continue
		}
		tracker, err := s.Tracker(account)
		if err != nil {
			s.logger.Warn("quota cleanup skipped", "customer", cust.UID, "error", err)
			continue
		}
		if err := tracker.CleanupSeries(); err != nil {
			return cleaned, fmt.Errorf("cleanup %s: %w", cust.UID, err)
		}
		cleaned++
	}
	return cleaned, nil
}
