// Package reward grants the daily coin reward. Instead of a midnight
// cron, a lazy loop periodically credits every account that has not been
// rewarded on the current UTC day; the claim itself is idempotent, so a
// user can also trigger it via the daily command without double credit.
package reward

import (
	"context"
	"log/slog"
	"time"

	"github.com/ambotlabs/ambot/internal/config"
	"github.com/ambotlabs/ambot/internal/storage"
)

// Notifier tells a user their reward landed.
type Notifier interface {
	DailyRewardGranted(ctx context.Context, userID, amount int64)
}

// Rewarder periodically credits the daily reward.
type Rewarder struct {
	cfg     *config.Config
	storage *storage.Storage
	notify  Notifier
	log     *slog.Logger

	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// New creates a Rewarder.
func New(cfg *config.Config, store *storage.Storage, notify Notifier, log *slog.Logger) *Rewarder {
	return &Rewarder{
		cfg:     cfg,
		storage: store,
		notify:  notify,
		log:     log,
		Now:     time.Now,
	}
}

// Start runs the reward loop until ctx is canceled.
func (r *Rewarder) Start(ctx context.Context, interval time.Duration) {
	if r.cfg.DailyReward <= 0 {
		r.log.Info("daily reward disabled")
		return
	}

	r.log.Info("daily rewarder started", "amount", r.cfg.DailyReward, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.grantPending(ctx); err != nil {
				r.log.Error("grant daily rewards", "error", err)
			}
		}
	}
}

func (r *Rewarder) grantPending(ctx context.Context) error {
	now := r.Now()

	ids, err := r.storage.UnrewardedUsers(ctx, now)
	if err != nil {
		return err
	}

	granted := 0
	for _, userID := range ids {
		credited, _, err := r.storage.ClaimDailyReward(ctx, userID, r.cfg.DailyReward, now)
		if err != nil {
			r.log.Error("claim daily reward", "user_id", userID, "error", err)
			continue
		}
		if !credited {
			continue
		}
		granted++
		if r.notify != nil {
			r.notify.DailyRewardGranted(ctx, userID, r.cfg.DailyReward)
		}
	}

	if granted > 0 {
		r.log.Info("daily rewards granted", "count", granted)
	}
	return nil
}
