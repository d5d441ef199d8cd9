package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Throttle limits login attempts per key, usually the submitted email.
type Throttle struct {
	mu       sync.Mutex
	every    time.Duration
	burst    int
	limiters map[string]*rate.Limiter
}

func NewThrottle(every time.Duration, burst int) *Throttle {
	return &Throttle{every: every, burst: burst, limiters: map[string]*rate.Limiter{}}
}

// Allow consumes one attempt for key at now.
func (t *Throttle) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.limiters[key] = limiter
	}
	t.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// Reset forgets the attempts of key after a successful login.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
}
