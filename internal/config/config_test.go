package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "./ambot.db", cfg.DBPath)
	assert.Equal(t, int64(500), cfg.RegisterBonus)
	assert.Equal(t, int64(20), cfg.DailyReward)
	assert.Equal(t, 10, cfg.DailyLimit)
	assert.Equal(t, 60, cfg.CooldownSeconds)
	assert.Equal(t, 3, cfg.GlobalConcurrency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_TELEGRAM_ID", "4242")
	t.Setenv("DAILY_LIMIT_PER_USER", "5")
	t.Setenv("COOLDOWN_SECONDS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, int64(4242), cfg.AdminTelegramID)
	assert.Equal(t, 5, cfg.DailyLimit)
	// unparsable values fall back to the default
	assert.Equal(t, 60, cfg.CooldownSeconds)
}

func TestCostLookup(t *testing.T) {
	cfg := Load()

	assert.Equal(t, int64(30), cfg.AudioCost(192))
	assert.Equal(t, int64(80), cfg.VideoCost(720))

	// unknown tiers charge the top rate rather than zero
	assert.Equal(t, int64(40), cfg.AudioCost(999))
	assert.Equal(t, int64(120), cfg.VideoCost(4320))
}
