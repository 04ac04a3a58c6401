package medication

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReminderRepository is the durable store for medication reminders.
type ReminderRepository interface {
	Create(ctx context.Context, r *Reminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error)
	// UpdateTime sets the reminder's wall-clock time. Updating a missing id
	// is a no-op, not an error.
	UpdateTime(ctx context.Context, id uuid.UUID, reminderTime string) error
	UpdateStock(ctx context.Context, id uuid.UUID, total, remaining int) error
	// DecrementStock atomically decrements remaining stock by one, clamped at
	// zero, and returns the new count. Concurrent calls each consume one dose.
	DecrementStock(ctx context.Context, id uuid.UUID) (int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// ListByPatient returns the patient's reminders ordered by reminder_time
	// ascending with null times last. When activeOnly is set, reminders that
	// were soft-deleted are excluded.
	ListByPatient(ctx context.Context, ref PatientRef, activeOnly bool) ([]*Reminder, error)
}

// DoseLogRepository is the durable store for daily dose events. Both writes
// are single atomic statements keyed by the (reminder_id, log_date)
// uniqueness constraint, so concurrent marks for the same day cannot produce
// duplicate rows.
type DoseLogRepository interface {
	// UpsertTaken records a taken dose for the given day, overwriting a
	// same-day row (including one previously marked missed).
	UpsertTaken(ctx context.Context, reminderID uuid.UUID, patientID int64, takenAt time.Time, day time.Time) error
	// InsertMissed records a missed dose for the given day. It returns false
	// without mutating when a row for that day already exists.
	InsertMissed(ctx context.Context, reminderID uuid.UUID, patientID int64, day time.Time) (bool, error)
	// ListByReminders returns every dose log for the given reminders ordered
	// by log_date descending.
	ListByReminders(ctx context.Context, reminderIDs []uuid.UUID) ([]*DoseLog, error)
}

// TxRunner executes fn inside one database transaction: every repository call
// made with the derived context joins the same transaction, committed when fn
// returns nil and rolled back otherwise.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
