package model

import "time"

// Appointment status lifecycle: pending -> confirmed, and either may move to
// cancelled. A cancelled appointment never becomes confirmed again.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Origin records which backend currently owns the appointment. A fallback
// appointment was written locally while the remote calendar was unreachable;
// reconciliation promotes it to remote once the create lands.
const (
	OriginRemote   = "remote"
	OriginFallback = "fallback"
)

type Appointment struct {
	ID             string
	PatientName    string
	PatientPhone   string
	Service        string
	Start          time.Time
	End            time.Time
	Status         string
	Origin         string
	RemoteRef      string // remote calendar event id, empty until synced
	IdempotencyKey string
	CreatedAt      time.Time
	CancelledAt    *time.Time
}

// Active reports whether the appointment still occupies its slot.
func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Reconciliation operations.
const (
	ReconcileOpCreate = "create"
	ReconcileOpDelete = "delete"
)

// ReconciliationRecord tracks a remote operation that failed during the
// user-facing request and is retried in the background. Records are deleted on
// success; after MaxAttempts failures they are marked stuck for operator review.
type ReconciliationRecord struct {
	ID             int64
	AppointmentID  string
	Op             string
	RemoteRef      string // set for delete retries
	IdempotencyKey string // set for create retries
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
	LastError      string
	Stuck          bool
}
