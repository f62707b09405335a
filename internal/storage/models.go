package storage

import "time"

// JobKind is the requested output format of a conversion.
type JobKind string

const (
	KindMP3 JobKind = "mp3"
	KindMP4 JobKind = "mp4"
)

// JobStatus tracks a job through its lifecycle. The only transition
// allowed out of a terminal status is Failed -> Refunded.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobRefunded  JobStatus = "refunded"
)

// EntryReason classifies a balance change in the audit log.
type EntryReason string

const (
	ReasonRegistration     EntryReason = "registration"
	ReasonDailyReward      EntryReason = "daily_reward"
	ReasonConversionCharge EntryReason = "conversion_charge"
	ReasonConversionRefund EntryReason = "conversion_refund"
	ReasonAdminAdjustment  EntryReason = "admin_adjustment"
)

// Account is the per-user balance and usage-counter record.
type Account struct {
	UserID           int64
	Username         string
	Fullname         string
	Balance          int64
	DailyUsed        int       // conversions counted against today's limit
	DailyUsedDate    time.Time // UTC day the counter belongs to, zero if unused
	LastConversionAt time.Time // zero if the user never converted
	LastDailyReward  time.Time // UTC day of the last daily-reward credit
	RegisteredAt     time.Time
}

// Job is one admitted conversion request.
type Job struct {
	ID          string
	UserID      int64
	Kind        JobKind
	Title       string
	Quality     int
	Cost        int64
	Status      JobStatus
	CreatedAt   time.Time
	CompletedAt time.Time // zero until a terminal status is reached
}

// LedgerEntry is an immutable record of a single balance delta.
// The sum of all deltas for a user always equals the account balance.
type LedgerEntry struct {
	ID        int64
	UserID    int64
	Delta     int64
	Reason    EntryReason
	JobID     string // empty unless the entry relates to a job
	Note      string // operator note on admin adjustments
	CreatedAt time.Time
}

// Stats is the aggregate snapshot served to the operator.
type Stats struct {
	TotalUsers       int64
	CoinsOutstanding int64
	JobsToday        int64
}
