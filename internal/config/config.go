package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Telegram
	BotToken string

	// Admin
	AdminTelegramID int64

	// Database
	DBPath string

	// Economy
	RegisterBonus int64
	DailyReward   int64

	// Costs per quality tier
	AudioCosts map[int]int64
	VideoCosts map[int]int64

	// Conversion
	YtdlpPath string

	// Rate limiting & queue
	DailyLimit        int
	CooldownSeconds   int
	GlobalConcurrency int

	// Ops server
	OpsPort int
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),

		// Admin
		AdminTelegramID: getEnvInt64("ADMIN_TELEGRAM_ID", 0),

		// Database
		DBPath: getEnv("DB_PATH", "./ambot.db"),

		// Economy
		RegisterBonus: getEnvInt64("REGISTER_BONUS", 500),
		DailyReward:   getEnvInt64("DAILY_REWARD", 20),

		// Costs
		AudioCosts: map[int]int64{128: 20, 192: 30, 320: 40},
		VideoCosts: map[int]int64{144: 30, 360: 50, 720: 80, 1080: 120},

		// Conversion
		YtdlpPath: getEnv("YTDLP_PATH", "yt-dlp"),

		// Rate limiting & queue
		DailyLimit:        getEnvInt("DAILY_LIMIT_PER_USER", 10),
		CooldownSeconds:   getEnvInt("COOLDOWN_SECONDS", 60),
		GlobalConcurrency: getEnvInt("GLOBAL_CONCURRENCY", 3),

		// Ops server
		OpsPort: getEnvInt("OPS_PORT", 8080),
	}
}

// AudioCost returns the coin cost for an audio quality tier, falling back
// to the most expensive tier for unknown values.
func (c *Config) AudioCost(quality int) int64 {
	if cost, ok := c.AudioCosts[quality]; ok {
		return cost
	}
	return maxCost(c.AudioCosts)
}

// VideoCost returns the coin cost for a video quality tier, falling back
// to the most expensive tier for unknown values.
func (c *Config) VideoCost(quality int) int64 {
	if cost, ok := c.VideoCosts[quality]; ok {
		return cost
	}
	return maxCost(c.VideoCosts)
}

func maxCost(costs map[int]int64) int64 {
	var max int64
	for _, cost := range costs {
		if cost > max {
			max = cost
		}
	}
	return max
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
