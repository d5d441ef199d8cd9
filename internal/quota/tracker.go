// Package quota tracks how many messages a customer has sent inside the
// window opened by their current subscription.
//
// A Tracker persists its window to a per-customer lock file. Trackers are
// process-local: two processes sharing a lock file will overwrite each
// other's counts, so renewal across processes must be coordinated by the
// operator.
package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotInitialized is wrapped by every ConfigurationError.
var ErrNotInitialized = errors.New("quota window not initialized")

// ConfigurationError reports a tracker used without a usable window.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("quota configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNotInitialized
}

// Window is the persisted quota state.
type Window struct {
	Start  time.Time `json:"start"`
	Max    Limit     `json:"max"`
	Count  int64     `json:"count"`
	Series []int64   `json:"series,omitempty"`
}

type Tracker struct {
	mu     sync.Mutex
	path   string
	window Window
	limits []RateLimit
	now    func() time.Time
}

type Option func(*Tracker)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Open loads the tracker stored at path, or starts a fresh window. When the
// stored window began at a different start the usage is reset.
func Open(path string, start time.Time, max Limit, limits []RateLimit, opts ...Option) (*Tracker, error) {
	if start.IsZero() {
		return nil, &ConfigurationError{Reason: "subscription start not set"}
	}
	if path == "" {
		return nil, &ConfigurationError{Reason: "lock file path not set"}
	}
	t := &Tracker{
		path:   path,
		limits: append([]RateLimit(nil), limits...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	stored, err := readWindow(path)
	if err != nil {
		return nil, err
	}
	start = start.UTC().Truncate(time.Second)
	if stored == nil || !stored.Start.Equal(start) {
		t.window = Window{Start: start}
	} else {
		t.window = *stored
	}
	t.window.Max = max
	return t, nil
}

func (t *Tracker) ready() error {
	if t == nil || t.window.Start.IsZero() {
		return &ConfigurationError{Reason: "tracker used before its window was opened"}
	}
	return nil
}

// Check reports whether the customer may still send: the window maximum
// and every rate limit must hold.
func (t *Tracker) Check() (bool, error) {
	if err := t.ready(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allows(t.now()), nil
}

// Add records one message sent now and returns the new usage.
func (t *Tracker) Add() (int64, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	return t.AddAt(t.now())
}

// AddAt records one message sent at the given time point.
func (t *Tracker) AddAt(at time.Time) (int64, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.record(at); err != nil {
		return 0, err
	}
	return t.window.Count, nil
}

// Reserve checks the quota and counts one message under the same lock, so
// concurrent senders can never push usage past the maximum. ok is false
// and nothing is counted when the quota is exhausted. A reservation whose
// message is not sent must be given back with Release.
func (t *Tracker) Reserve() (bool, int64, error) {
	if err := t.ready(); err != nil {
		return false, 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.allows(now) {
		return false, t.window.Count, nil
	}
	if err := t.record(now); err != nil {
		return false, t.window.Count, err
	}
	return true, t.window.Count, nil
}

// Release gives back one reserved message.
func (t *Tracker) Release() error {
	if err := t.ready(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.window.Count == 0 {
		return nil
	}

	prev := t.window
	t.window.Count--
	if n := len(t.window.Series); n > 0 && len(t.limits) > 0 {
		t.window.Series = t.window.Series[:n-1]
	}
	if err := t.persist(); err != nil {
		t.window = prev
		return err
	}
	return nil
}

func (t *Tracker) allows(now time.Time) bool {
	if !t.window.Max.Allows(t.window.Count) {
		return false
	}
	for _, limit := range t.limits {
		if !limit.Limit.Allows(t.countSince(now.Add(-limit.Period))) {
			return false
		}
	}
	return true
}

// record counts one message at the given time point. The in-memory window
// only changes once the lock file has been written.
func (t *Tracker) record(at time.Time) error {
	next := t.window
	next.Count++
	if len(t.limits) > 0 {
		next.Series = append(t.window.Series, at.Unix())
	}
	prev := t.window
	t.window = next
	if err := t.persist(); err != nil {
		t.window = prev
		return err
	}
	return nil
}

// Usage is the number of messages counted in the current window.
func (t *Tracker) Usage() (int64, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Count, nil
}

// Percentage of the window maximum already used.
func (t *Tracker) Percentage() (float64, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Max.Percentage(t.window.Count), nil
}

// CleanupSeries drops recorded time points that no rate limit can see
// anymore and anything older than the window start.
func (t *Tracker) CleanupSeries() error {
	if err := t.ready(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.window.Start.Unix()
	var longest time.Duration
	for _, limit := range t.limits {
		if limit.Period > longest {
			longest = limit.Period
		}
	}
	if longest == 0 {
		t.window.Series = nil
		return t.persist()
	}
	if since := t.now().Add(-longest).Unix(); since > cutoff {
		cutoff = since
	}
	kept := make([]int64, 0, len(t.window.Series))
	for _, ts := range t.window.Series {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	t.window.Series = kept
	return t.persist()
}

// Renew opens a new window at start, discarding the previous usage.
func (t *Tracker) Renew(start time.Time, max Limit) error {
	if start.IsZero() {
		return &ConfigurationError{Reason: "subscription start not set"}
	}
	if t == nil || t.path == "" {
		return &ConfigurationError{Reason: "tracker used before its window was opened"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = Window{Start: start.UTC().Truncate(time.Second), Max: max}
	return t.persist()
}

// Window returns a copy of the current state.
func (t *Tracker) Window() Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window
	w.Series = append([]int64(nil), t.window.Series...)
	return w
}

// countSince counts time points at or after since, the same boundary
// CleanupSeries keeps.
func (t *Tracker) countSince(since time.Time) int64 {
	cutoff := since.Unix()
	var n int64
	for _, ts := range t.window.Series {
		if ts >= cutoff {
			n++
		}
	}
	return n
}

func (t *Tracker) persist() error {
	data, err := json.Marshal(t.window)
	if err != nil {
		return fmt.Errorf("encode quota window: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create quota dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write quota file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace quota file: %w", err)
	}
	return nil
}

func readWindow(path string) (*Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read quota file: %w", err)
	}
	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode quota file: %w", err)
	}
	w.Start = w.Start.UTC()
	return &w, nil
}
