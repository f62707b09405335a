package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambotlabs/ambot/internal/storage"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCheck_Cooldown(t *testing.T) {
	l := New(10, 60)

	acct := &storage.Account{LastConversionAt: base}

	require.ErrorIs(t, l.Check(acct, base.Add(30*time.Second)), ErrCooldownActive)
	// one second under the window still blocks
	require.ErrorIs(t, l.Check(acct, base.Add(59*time.Second)), ErrCooldownActive)
	// at exactly the window the cooldown has elapsed
	assert.NoError(t, l.Check(acct, base.Add(60*time.Second)))
	assert.NoError(t, l.Check(acct, base.Add(61*time.Second)))
}

func TestCheck_NeverConverted(t *testing.T) {
	l := New(10, 60)
	assert.NoError(t, l.Check(&storage.Account{}, base))
}

func TestCheck_DailyLimit(t *testing.T) {
	l := New(10, 60)

	acct := &storage.Account{
		DailyUsed:        10,
		DailyUsedDate:    base,
		LastConversionAt: base.Add(-2 * time.Minute),
	}
	require.ErrorIs(t, l.Check(acct, base.Add(time.Hour)), ErrDailyLimitReached)

	// one below the cap is still admitted
	acct.DailyUsed = 9
	assert.NoError(t, l.Check(acct, base.Add(time.Hour)))
}

func TestCheck_DailyCounterIgnoredAcrossDays(t *testing.T) {
	l := New(10, 60)

	// counter maxed out yesterday counts as zero today
	acct := &storage.Account{
		DailyUsed:        10,
		DailyUsedDate:    base,
		LastConversionAt: base,
	}
	assert.NoError(t, l.Check(acct, base.Add(24*time.Hour)))
}

func TestRetryIn(t *testing.T) {
	l := New(10, 60)

	acct := &storage.Account{LastConversionAt: base}
	assert.Equal(t, 15*time.Second, l.RetryIn(acct, base.Add(45*time.Second)))
	assert.Equal(t, time.Duration(0), l.RetryIn(acct, base.Add(2*time.Minute)))
	assert.Equal(t, time.Duration(0), l.RetryIn(&storage.Account{}, base))
}
