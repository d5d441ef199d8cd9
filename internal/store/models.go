package store

import (
	"strings"
	"time"
)

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsAdmin      bool
	Locale       string
	CreatedAt    time.Time
	LastLogin    time.Time
}

// DisplayName is the full name, or the email when no name is set.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

type Customer struct {
	ID            int64
	UID           string
	UserID        int64
	Company       string
	Phone         string
	Notifications map[string]string
	APIToken      string
	CreatedAt     time.Time
}

// Notifies reports whether the customer opted in to a notification kind.
func (c Customer) Notifies(kind string) bool {
	return c.Notifications[kind] == "yes"
}

type Plan struct {
	ID        int64
	Name      string
	Options   map[string]string
	CreatedAt time.Time
}

const (
	SubscriptionActive  = "active"
	SubscriptionEnded   = "ended"
	SubscriptionPending = "new"
)

type Subscription struct {
	ID        int64
	UserID    int64
	PlanID    int64
	Status    string
	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
}

// Active reports whether the subscription is running at now.
func (s Subscription) Active(now time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	return s.EndAt.IsZero() || now.Before(s.EndAt)
}

const (
	SenderIDPending = "pending"
	SenderIDActive  = "active"
	SenderIDBlocked = "block"
)

type SenderID struct {
	ID        int64
	UID       string
	UserID    int64
	SenderID  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ContactGroup struct {
	ID        int64
	UID       string
	UserID    int64
	Name      string
	Contacts  int64
	CreatedAt time.Time
}

type Contact struct {
	ID        int64
	UID       string
	GroupID   int64
	UserID    int64
	Phone     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

type Blacklist struct {
	ID        int64
	UID       string
	UserID    int64
	Number    string
	Reason    string
	CreatedAt time.Time
}

type Template struct {
	ID        int64
	UID       string
	UserID    int64
	Name      string
	Message   string
	CreatedAt time.Time
}

const (
	CampaignQueued    = "queued"
	CampaignRunning   = "processing"
	CampaignDelivered = "delivered"
	CampaignPaused    = "paused"
	CampaignFailed    = "failed"
)

type Campaign struct {
	ID        int64
	UID       string
	UserID    int64
	Name      string
	SenderID  string
	GroupID   int64
	Message   string
	Status    string
	Delivered int64
	Failed    int64
	CreatedAt time.Time
	RunAt     time.Time
}

const (
	ReportDelivered = "delivered"
	ReportFailed    = "failed"
)

// Report is one outbound SMS.
type Report struct {
	ID         int64
	UID        string
	UserID     int64
	CampaignID int64
	From       string
	To         string
	Message    string
	Status     string
	SMSType    string
	Direction  string
	Cost       int64
	CreatedAt  time.Time
}

type Notification struct {
	ID        string
	UserID    int64
	Type      string
	Message   string
	URL       string
	ReadAt    time.Time
	CreatedAt time.Time
}

type Language struct {
	Code    string
	Name    string
	ISOCode string
	Status  bool
}

// Page narrows a list query: free-text search, a sort column and a window.
type Page struct {
	Search    string
	Column    string
	Direction string
	Offset    int32
	Limit     int32
}
