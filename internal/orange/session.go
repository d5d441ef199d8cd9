package orange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	CookiesKey    = "orangesmspro_cookies"
	CustomerIDKey = "orangesmspro_customer_id"
	UserIDKey     = "orangesmspro_user_id"
)

type State int

const (
	NoSession State = iota
	Authenticating
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is the persisted form of a portal session.
type Snapshot struct {
	Cookies    map[string]string
	CustomerID string
	UserID     string
	ExpiresAt  time.Time
}

// SessionStore persists snapshots between runs.
type SessionStore interface {
	Load(ctx context.Context, now time.Time) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// Session is a browser-like portal session: a cookie jar plus the account
// identifiers returned at sign-in.
type Session struct {
	state      State
	base       *url.URL
	jar        *cookiejar.Jar
	customerID string
	userID     string
	expiresAt  time.Time
}

func newJar() *cookiejar.Jar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// NewSession returns an empty session for the portal at base.
func NewSession(base *url.URL) *Session {
	return &Session{state: NoSession, base: rootOf(base), jar: newJar()}
}

// RestoreSession rebuilds a session from a snapshot. Snapshots without
// cookies, or past their expiry, restore to NoSession or Expired.
func RestoreSession(base *url.URL, snap Snapshot, now time.Time) *Session {
	s := NewSession(base)
	if len(snap.Cookies) == 0 {
		return s
	}
	if !snap.ExpiresAt.IsZero() && !now.Before(snap.ExpiresAt) {
		s.state = Expired
		return s
	}
	cookies := make([]*http.Cookie, 0, len(snap.Cookies))
	for name, value := range snap.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	s.jar.SetCookies(s.base, cookies)
	s.customerID = snap.CustomerID
	s.userID = snap.UserID
	s.expiresAt = snap.ExpiresAt
	s.state = Authenticated
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) CustomerID() string {
	return s.customerID
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// Snapshot captures the cookies currently held for the portal host.
func (s *Session) Snapshot() Snapshot {
	cookies := map[string]string{}
	for _, cookie := range s.jar.Cookies(s.base) {
		cookies[cookie.Name] = cookie.Value
	}
	return Snapshot{
		Cookies:    cookies,
		CustomerID: s.customerID,
		UserID:     s.userID,
		ExpiresAt:  s.expiresAt,
	}
}

func (s *Session) authenticated(customerID, userID string, expiresAt time.Time) {
	s.customerID = customerID
	s.userID = userID
	s.expiresAt = expiresAt
	s.state = Authenticated
}

// expire drops every cookie; the next run signs in from scratch.
func (s *Session) expire() {
	s.jar = newJar()
	s.customerID = ""
	s.userID = ""
	s.expiresAt = time.Time{}
	s.state = Expired
}

func rootOf(base *url.URL) *url.URL {
	root := *base
	root.Path = "/"
	root.RawQuery = ""
	root.Fragment = ""
	return &root
}

// Cache is the key/value store the session snapshot lives in.
type Cache interface {
	CachePut(ctx context.Context, key, value string, expiresAt time.Time) error
	CacheGet(ctx context.Context, key string, now time.Time) (string, bool, error)
	CachePutJSON(ctx context.Context, key string, value any, expiresAt time.Time) error
	CacheGetJSON(ctx context.Context, key string, now time.Time, out any) (bool, error)
	CacheDelete(ctx context.Context, keys ...string) error
}

// CacheSessionStore keeps snapshots under the orangesmspro_* cache keys.
type CacheSessionStore struct {
	cache Cache
}

func NewCacheSessionStore(cache Cache) *CacheSessionStore {
	return &CacheSessionStore{cache: cache}
}

type persistedCookies struct {
	Cookies   map[string]string `json:"cookies"`
	ExpiresAt int64             `json:"expires_at"`
}

func (c *CacheSessionStore) Load(ctx context.Context, now time.Time) (Snapshot, bool, error) {
	var persisted persistedCookies
	ok, err := c.cache.CacheGetJSON(ctx, CookiesKey, now, &persisted)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	snap := Snapshot{Cookies: persisted.Cookies}
	if persisted.ExpiresAt != 0 {
		snap.ExpiresAt = time.Unix(persisted.ExpiresAt, 0)
	}
	if snap.CustomerID, _, err = c.cache.CacheGet(ctx, CustomerIDKey, now); err != nil {
		return Snapshot{}, false, err
	}
	if snap.UserID, _, err = c.cache.CacheGet(ctx, UserIDKey, now); err != nil {
		return Snapshot{}, false, err
	}
	return snap, len(snap.Cookies) > 0, nil
}

func (c *CacheSessionStore) Save(ctx context.Context, snap Snapshot) error {
	persisted := persistedCookies{Cookies: snap.Cookies}
	if !snap.ExpiresAt.IsZero() {
		persisted.ExpiresAt = snap.ExpiresAt.Unix()
	}
	if err := c.cache.CachePutJSON(ctx, CookiesKey, persisted, snap.ExpiresAt); err != nil {
		return err
	}
	if err := c.cache.CachePut(ctx, CustomerIDKey, snap.CustomerID, time.Time{}); err != nil {
		return err
	}
	return c.cache.CachePut(ctx, UserIDKey, snap.UserID, time.Time{})
}

func (c *CacheSessionStore) Clear(ctx context.Context) error {
	return c.cache.CacheDelete(ctx, CookiesKey)
}
