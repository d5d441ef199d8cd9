package quota

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Limit is a quota value: either Unlimited or Bounded(n).
type Limit struct {
	max     int64
	bounded bool
}

// Unlimited returns a limit that never blocks.
func Unlimited() Limit {
	return Limit{}
}

// Bounded returns a limit of n. Negative values are clamped to zero.
func Bounded(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{max: n, bounded: true}
}

// ParseLimit reads a plan option value. "-1" and "" mean unlimited.
func ParseLimit(raw string) (Limit, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "-1" {
		return Unlimited(), nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("parse limit %q: %w", raw, err)
	}
	if n < 0 {
		return Unlimited(), nil
	}
	return Bounded(n), nil
}

func (l Limit) IsUnlimited() bool {
	return !l.bounded
}

// Max returns the bound and true, or 0 and false when unlimited.
func (l Limit) Max() (int64, bool) {
	return l.max, l.bounded
}

// Allows reports whether one more unit fits on top of count.
func (l Limit) Allows(count int64) bool {
	if !l.bounded {
		return true
	}
	return count < l.max
}

// Percentage of the limit consumed by count, rounded to two decimals.
func (l Limit) Percentage(count int64) float64 {
	if !l.bounded || l.max == 0 {
		return 0
	}
	if count > l.max {
		return 100
	}
	return math.Round(float64(count)/float64(l.max)*10000) / 100
}

func (l Limit) String() string {
	if !l.bounded {
		return "∞"
	}
	return strconv.FormatInt(l.max, 10)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.bounded {
		return []byte("null"), nil
	}
	return json.Marshal(l.max)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = Unlimited()
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode limit: %w", err)
	}
	if n < 0 {
		*l = Unlimited()
		return nil
	}
	*l = Bounded(n)
	return nil
}

// RateLimit caps how many messages fit in a trailing period.
type RateLimit struct {
	Period time.Duration
	Limit  Limit
}

// ParsePeriod converts a plan's sending_quota_time and unit into a duration.
// Months and years are counted as 30 and 365 days.
func ParsePeriod(value int, unit string) (time.Duration, error) {
	if value <= 0 {
		return 0, fmt.Errorf("invalid period value %d", value)
	}
	var base time.Duration
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s") {
	case "second":
		base = time.Second
	case "minute":
		base = time.Minute
	case "hour":
		base = time.Hour
	case "day":
		base = 24 * time.Hour
	case "week":
		base = 7 * 24 * time.Hour
	case "month":
		base = 30 * 24 * time.Hour
	case "year":
		base = 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown period unit %q", unit)
	}
	return time.Duration(value) * base, nil
}
