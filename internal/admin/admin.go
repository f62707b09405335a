// Package admin exposes privileged ledger operations behind a single
// operator-identity gate. Authorization is an equality check against the
// configured operator ID; there is no role hierarchy.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ambotlabs/ambot/internal/storage"
)

var ErrNotAuthorized = errors.New("not authorized")

// Ledger is the operator's interface to the coin ledger.
type Ledger struct {
	store      *storage.Storage
	operatorID int64
	log        *slog.Logger

	// Now is the clock; overridden in tests.
	Now func() time.Time
}

// New creates the admin ledger gate for the configured operator.
func New(store *storage.Storage, operatorID int64, log *slog.Logger) *Ledger {
	return &Ledger{
		store:      store,
		operatorID: operatorID,
		log:        log,
		Now:        time.Now,
	}
}

// IsOperator reports whether callerID is the configured operator.
// A zero operator ID authorizes nobody.
func (l *Ledger) IsOperator(callerID int64) bool {
	return l.operatorID != 0 && callerID == l.operatorID
}

func (l *Ledger) authorize(callerID int64) error {
	if !l.IsOperator(callerID) {
		return ErrNotAuthorized
	}
	return nil
}

// Adjust applies a balance correction to a user. A delta that would
// drive the balance negative fails with storage.ErrInvalidAdjustment and
// changes nothing.
func (l *Ledger) Adjust(ctx context.Context, callerID, userID, delta int64, note string) (*storage.Account, error) {
	if err := l.authorize(callerID); err != nil {
		return nil, err
	}

	acct, err := l.store.Adjust(ctx, userID, delta, note, l.Now())
	if err != nil {
		return nil, err
	}

	l.log.Info("admin adjustment",
		"operator_id", callerID,
		"user_id", userID,
		"delta", delta,
		"note", note,
		"balance", acct.Balance,
	)
	return acct, nil
}

// History returns ledger entries ordered by timestamp ascending.
// Pass userID 0 for all users. The cursor is lazy and restartable; the
// caller pages with Next.
func (l *Ledger) History(callerID, userID int64) (*storage.EntryCursor, error) {
	if err := l.authorize(callerID); err != nil {
		return nil, err
	}
	return l.store.ExportEntries(userID), nil
}

// Status returns the aggregate counts snapshot.
func (l *Ledger) Status(ctx context.Context, callerID int64) (*storage.Stats, error) {
	if err := l.authorize(callerID); err != nil {
		return nil, err
	}
	return l.store.Stats(ctx, l.Now())
}

// Accounts lists every account for the operator overview.
func (l *Ledger) Accounts(ctx context.Context, callerID int64) ([]storage.Account, error) {
	if err := l.authorize(callerID); err != nil {
		return nil, err
	}
	return l.store.AllAccounts(ctx)
}
