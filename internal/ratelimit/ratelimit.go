// Package ratelimit decides whether an account may start a conversion.
// The decision is a pure function of an account snapshot and a supplied
// time, so boundary behavior is testable without real time passing.
package ratelimit

import (
	"errors"
	"time"

	"github.com/ambotlabs/ambot/internal/storage"
)

var (
	ErrCooldownActive    = errors.New("cooldown active")
	ErrDailyLimitReached = errors.New("daily conversion limit reached")
)

// Limiter holds the rate-limit policy.
type Limiter struct {
	DailyLimit int
	Cooldown   time.Duration
}

// New creates a Limiter from config values.
func New(dailyLimit, cooldownSeconds int) *Limiter {
	return &Limiter{
		DailyLimit: dailyLimit,
		Cooldown:   time.Duration(cooldownSeconds) * time.Second,
	}
}

// Check returns nil if the account may start a conversion at now.
// The daily counter is treated as zero when its stored date is not
// today (UTC), so no reset job is needed.
func (l *Limiter) Check(acct *storage.Account, now time.Time) error {
	if !acct.LastConversionAt.IsZero() && now.Sub(acct.LastConversionAt) < l.Cooldown {
		return ErrCooldownActive
	}

	if storage.SameUTCDay(acct.DailyUsedDate, now) && acct.DailyUsed >= l.DailyLimit {
		return ErrDailyLimitReached
	}

	return nil
}

// RetryIn reports how long the account must wait before the cooldown
// clears. Zero means no wait.
func (l *Limiter) RetryIn(acct *storage.Account, now time.Time) time.Duration {
	if acct.LastConversionAt.IsZero() {
		return 0
	}
	remaining := l.Cooldown - now.Sub(acct.LastConversionAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
