package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAdjustment = errors.New("adjustment would drive balance negative")
)

// Storage is the system of record for accounts, jobs and the audit log.
// Every mutation runs in a single immediate transaction, so a balance
// change and its ledger entry are never observable apart.
type Storage struct {
	db *sql.DB
}

// New opens the database and creates the schema if needed.
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			fullname TEXT NOT NULL DEFAULT '',
			balance INTEGER NOT NULL DEFAULT 0,
			daily_used INTEGER NOT NULL DEFAULT 0,
			daily_used_date INTEGER NOT NULL DEFAULT 0,
			last_conversion_at INTEGER NOT NULL DEFAULT 0,
			last_daily_reward INTEGER NOT NULL DEFAULT 0,
			registered_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			quality INTEGER NOT NULL,
			cost INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			delta INTEGER NOT NULL,
			reason TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_user_id ON ledger_entries(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_created_at ON ledger_entries(created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// --- Accounts ---

// GetOrCreate returns the account for userID, creating it with the
// registration bonus if absent. Creation and the Registration ledger entry
// land in one transaction, so concurrent first contact credits the bonus
// exactly once. Username and fullname are refreshed on every call.
func (s *Storage) GetOrCreate(ctx context.Context, userID int64, username, fullname string, bonus int64, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO accounts (user_id, username, fullname, balance, registered_at)
			 VALUES (?, ?, ?, ?, ?)`,
			userID, username, fullname, bonus, now.Unix(),
		)
		if err != nil {
			return err
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if rows > 0 {
			// Fresh account: record the bonus.
			_, err = tx.ExecContext(ctx,
				`INSERT INTO ledger_entries (user_id, delta, reason, created_at) VALUES (?, ?, ?, ?)`,
				userID, bonus, ReasonRegistration, now.Unix(),
			)
			if err != nil {
				return err
			}
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE accounts SET username = ?, fullname = ? WHERE user_id = ?`,
				username, fullname, userID,
			)
			if err != nil {
				return err
			}
		}

		acct, err = getAccountTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccount returns an account by user ID.
func (s *Storage) GetAccount(ctx context.Context, userID int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, fullname, balance, daily_used, daily_used_date,
		        last_conversion_at, last_daily_reward, registered_at
		 FROM accounts WHERE user_id = ?`,
		userID,
	)
	return scanAccount(row)
}

// FindByUsername resolves a Telegram username to an account.
func (s *Storage) FindByUsername(ctx context.Context, username string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, fullname, balance, daily_used, daily_used_date,
		        last_conversion_at, last_daily_reward, registered_at
		 FROM accounts WHERE username = ? ORDER BY user_id LIMIT 1`,
		username,
	)
	return scanAccount(row)
}

// AllAccounts returns every account ordered by username.
func (s *Storage) AllAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, fullname, balance, daily_used, daily_used_date,
		        last_conversion_at, last_daily_reward, registered_at
		 FROM accounts ORDER BY username, user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acct, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// --- Ledger ---

// Credit adds amount coins to an account and appends a ledger entry in
// the same transaction.
func (s *Storage) Credit(ctx context.Context, userID, amount int64, reason EntryReason, jobID string, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = applyDeltaTx(ctx, tx, userID, amount, reason, jobID, "", now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Debit removes amount coins from an account, failing with
// ErrInsufficientFunds (state unchanged) when the balance is too low.
func (s *Storage) Debit(ctx context.Context, userID, amount int64, reason EntryReason, jobID string, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = applyDeltaTx(ctx, tx, userID, -amount, reason, jobID, "", now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Adjust applies an operator balance correction. A delta that would drive
// the balance negative fails with ErrInvalidAdjustment.
func (s *Storage) Adjust(ctx context.Context, userID, delta int64, note string, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = applyDeltaTx(ctx, tx, userID, delta, ReasonAdminAdjustment, "", note, now)
		if errors.Is(err, ErrInsufficientFunds) {
			return ErrInvalidAdjustment
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func applyDeltaTx(ctx context.Context, tx *sql.Tx, userID, delta int64, reason EntryReason, jobID, note string, now time.Time) (*Account, error) {
	acct, err := getAccountTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if acct.Balance+delta < 0 {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE user_id = ?`,
		delta, userID,
	); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, delta, reason, job_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, delta, reason, jobID, note, now.Unix(),
	); err != nil {
		return nil, err
	}

	acct.Balance += delta
	return acct, nil
}

// --- Admission ---

// AdmitCheck inspects an account snapshot inside the admission
// transaction and returns nil to admit or a denial error.
type AdmitCheck func(acct *Account, now time.Time) error

// AdmitConversion performs the whole admission bookkeeping atomically:
// it loads the account, runs the rate-limit check against that snapshot,
// debits the job cost, bumps the daily counter (rolling it over on a new
// UTC day), stamps last_conversion_at, and creates the Pending job with
// its ConversionCharge entry. Any error leaves no trace.
func (s *Storage) AdmitConversion(ctx context.Context, job *Job, check AdmitCheck, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = getAccountTx(ctx, tx, job.UserID)
		if err != nil {
			return err
		}

		if check != nil {
			if err := check(acct, now); err != nil {
				return err
			}
		}

		if acct.Balance < job.Cost {
			return ErrInsufficientFunds
		}

		dailyUsed := 1
		if SameUTCDay(acct.DailyUsedDate, now) {
			dailyUsed = acct.DailyUsed + 1
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET balance = balance - ?, daily_used = ?, daily_used_date = ?, last_conversion_at = ?
			 WHERE user_id = ?`,
			job.Cost, dailyUsed, now.Unix(), now.Unix(), job.UserID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, user_id, kind, title, quality, cost, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.UserID, job.Kind, job.Title, job.Quality, job.Cost, JobPending, now.Unix(),
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (user_id, delta, reason, job_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			job.UserID, -job.Cost, ReasonConversionCharge, job.ID, now.Unix(),
		); err != nil {
			return err
		}

		acct.Balance -= job.Cost
		acct.DailyUsed = dailyUsed
		acct.DailyUsedDate = now
		acct.LastConversionAt = now
		job.Status = JobPending
		job.CreatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// --- Jobs ---

// GetJob returns a job by ID.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, title, quality, cost, status, created_at, completed_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

// MarkJobRunning moves a pending job to running.
func (s *Storage) MarkJobRunning(ctx context.Context, jobID string) error {
	return s.transitionJob(ctx, jobID, JobRunning, []JobStatus{JobPending}, time.Time{})
}

// MarkJobSucceeded finalizes a running job; the charge stands.
func (s *Storage) MarkJobSucceeded(ctx context.Context, jobID string, now time.Time) error {
	return s.transitionJob(ctx, jobID, JobSucceeded, []JobStatus{JobRunning}, now)
}

// MarkJobFailed records a pipeline or delivery failure.
func (s *Storage) MarkJobFailed(ctx context.Context, jobID string, now time.Time) error {
	return s.transitionJob(ctx, jobID, JobFailed, []JobStatus{JobPending, JobRunning}, now)
}

func (s *Storage) transitionJob(ctx context.Context, jobID string, to JobStatus, from []JobStatus, completedAt time.Time) error {
	placeholders := ""
	for i := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}

	var (
		query string
		args  []any
	)
	if completedAt.IsZero() {
		query = `UPDATE jobs SET status = ? WHERE id = ? AND status IN (` + placeholders + `)`
		args = []any{to, jobID}
	} else {
		query = `UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status IN (` + placeholders + `)`
		args = []any{to, completedAt.Unix(), jobID}
	}
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// RefundJob reverses the charge for a failed job: the job moves
// Failed -> Refunded and the cost is credited back with a
// ConversionRefund entry, all in one transaction.
func (s *Storage) RefundJob(ctx context.Context, jobID string, now time.Time) (*Account, error) {
	var acct *Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT user_id, cost, status FROM jobs WHERE id = ?`, jobID,
		)
		var userID, cost int64
		var status JobStatus
		if err := row.Scan(&userID, &cost, &status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
			}
			return err
		}
		if status != JobFailed {
			return fmt.Errorf("job %s: refund from status %q not allowed", jobID, status)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ? WHERE id = ?`, JobRefunded, jobID,
		); err != nil {
			return err
		}

		var err error
		acct, err = applyDeltaTx(ctx, tx, userID, cost, ReasonConversionRefund, jobID, "", now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// UserJobs returns the most recent jobs for a user, newest first.
func (s *Storage) UserJobs(ctx context.Context, userID int64, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, title, quality, cost, status, created_at, completed_at
		 FROM jobs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var createdAt, completedAt int64
		if err := rows.Scan(&j.ID, &j.UserID, &j.Kind, &j.Title, &j.Quality, &j.Cost, &j.Status, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		j.CreatedAt = time.Unix(createdAt, 0).UTC()
		if completedAt > 0 {
			j.CompletedAt = time.Unix(completedAt, 0).UTC()
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountSucceededByKind returns how many conversions of each kind a user
// has completed.
func (s *Storage) CountSucceededByKind(ctx context.Context, userID int64) (map[JobKind]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM jobs WHERE user_id = ? AND status = ? GROUP BY kind`,
		userID, JobSucceeded,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[JobKind]int64)
	for rows.Next() {
		var kind JobKind
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// --- Daily reward ---

// ClaimDailyReward credits the daily reward once per UTC day. The second
// claim on the same day is a no-op and reports credited = false.
func (s *Storage) ClaimDailyReward(ctx context.Context, userID, amount int64, now time.Time) (bool, *Account, error) {
	var (
		credited bool
		acct     *Account
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = getAccountTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if SameUTCDay(acct.LastDailyReward, now) {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + ?, last_daily_reward = ? WHERE user_id = ?`,
			amount, now.Unix(), userID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (user_id, delta, reason, created_at) VALUES (?, ?, ?, ?)`,
			userID, amount, ReasonDailyReward, now.Unix(),
		); err != nil {
			return err
		}

		acct.Balance += amount
		acct.LastDailyReward = now
		credited = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return credited, acct, nil
}

// UnrewardedUsers lists user IDs that have not received the daily reward
// on the UTC day of now.
func (s *Storage) UnrewardedUsers(ctx context.Context, now time.Time) ([]int64, error) {
	midnight := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM accounts WHERE last_daily_reward < ? ORDER BY user_id`,
		midnight.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Audit log ---

// UserEntries returns the most recent ledger entries for a user, newest
// first.
func (s *Storage) UserEntries(ctx context.Context, userID int64, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, delta, reason, job_id, note, created_at
		 FROM ledger_entries WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// BalanceFromEntries recomputes a user's balance from the audit log.
// It must always equal the stored balance.
func (s *Storage) BalanceFromEntries(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&sum)
	return sum, err
}

// EntryCursor pages through ledger entries in timestamp order. A fresh
// cursor restarts the sequence from the beginning.
type EntryCursor struct {
	s       *Storage
	userID  int64 // 0 means all users
	afterID int64
}

// ExportEntries returns a cursor over ledger entries ordered by timestamp
// ascending. Pass userID 0 to export all users.
func (s *Storage) ExportEntries(userID int64) *EntryCursor {
	return &EntryCursor{s: s, userID: userID}
}

// Next returns the next batch of at most limit entries, or an empty slice
// when the sequence is exhausted.
func (c *EntryCursor) Next(ctx context.Context, limit int) ([]LedgerEntry, error) {
	query := `SELECT id, user_id, delta, reason, job_id, note, created_at
	          FROM ledger_entries WHERE id > ?`
	args := []any{c.afterID}
	if c.userID != 0 {
		query += ` AND user_id = ?`
		args = append(args, c.userID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := c.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		c.afterID = entries[len(entries)-1].ID
	}
	return entries, nil
}

// --- Aggregates ---

// Stats returns the operator's aggregate snapshot.
func (s *Storage) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	st := &Stats{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM accounts`,
	).Scan(&st.TotalUsers, &st.CoinsOutstanding); err != nil {
		return nil, err
	}

	midnight := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE created_at >= ?`,
		midnight.Unix(),
	).Scan(&st.JobsToday); err != nil {
		return nil, err
	}

	return st, nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func getAccountTx(ctx context.Context, tx *sql.Tx, userID int64) (*Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, username, fullname, balance, daily_used, daily_used_date,
		        last_conversion_at, last_daily_reward, registered_at
		 FROM accounts WHERE user_id = ?`,
		userID,
	)
	return scanAccount(row)
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var dailyDate, lastConv, lastReward, registered int64
	err := row.Scan(&a.UserID, &a.Username, &a.Fullname, &a.Balance,
		&a.DailyUsed, &dailyDate, &lastConv, &lastReward, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.DailyUsedDate = timeOrZero(dailyDate)
	a.LastConversionAt = timeOrZero(lastConv)
	a.LastDailyReward = timeOrZero(lastReward)
	a.RegisteredAt = time.Unix(registered, 0).UTC()
	return &a, nil
}

func scanAccountRows(rows *sql.Rows) (*Account, error) {
	return scanAccount(rows)
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var createdAt, completedAt int64
	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Title, &j.Quality, &j.Cost, &j.Status, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	if completedAt > 0 {
		j.CompletedAt = time.Unix(completedAt, 0).UTC()
	}
	return &j, nil
}

func collectEntries(rows *sql.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.JobID, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
// A zero time is never on the same day as anything.
func SameUTCDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
