package medication

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PatientSource tags which of the two patient tables a patient id refers to.
// Registered patients signed up through the portal; master patients were
// imported from the hospital master index.
type PatientSource string

const (
	SourceRegistered PatientSource = "registered"
	SourceMaster     PatientSource = "master"
)

// ParsePatientSource validates a source tag from the request path.
func ParsePatientSource(s string) (PatientSource, error) {
	switch PatientSource(s) {
	case SourceRegistered, SourceMaster:
		return PatientSource(s), nil
	}
	return "", &ValidationError{Field: "patient_source", Reason: fmt.Sprintf("unknown patient source %q", s)}
}

// PatientRef identifies a patient across both patient tables. It is resolved
// once at the handler boundary so the source tag is never threaded through
// queries as a raw string.
type PatientRef struct {
	ID     int64         `json:"patient_id"`
	Source PatientSource `json:"patient_source"`
}

// DoseStatus is the outcome recorded for one reminder on one calendar day.
type DoseStatus string

const (
	DoseTaken  DoseStatus = "taken"
	DoseMissed DoseStatus = "missed"
)

// Reminder maps to the medication_reminders table: one scheduled medicine for
// a patient with its own stock counters.
type Reminder struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	PatientID      int64         `db:"patient_id" json:"patient_id"`
	PatientSource  PatientSource `db:"patient_source" json:"patient_source"`
	RxID           *int64        `db:"rx_id" json:"rx_id,omitempty"`
	MedicineName   string        `db:"medicine_name" json:"medicine_name"`
	ReminderTime   *string       `db:"reminder_time" json:"reminder_time"`
	TotalStock     int           `db:"total_stock" json:"total_stock"`
	RemainingStock int           `db:"remaining_stock" json:"remaining_stock"`
	IsActive       bool          `db:"is_active" json:"is_active"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Ref returns the owning patient reference.
func (r *Reminder) Ref() PatientRef {
	return PatientRef{ID: r.PatientID, Source: r.PatientSource}
}

// DoseLog maps to the medication_logs table: at most one row per reminder per
// calendar day. patient_id is a denormalized copy of the owning reminder's
// patient for direct querying.
type DoseLog struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ReminderID uuid.UUID  `db:"reminder_id" json:"reminder_id"`
	PatientID  int64      `db:"patient_id" json:"patient_id"`
	Status     DoseStatus `db:"status" json:"status"`
	TakenAt    *time.Time `db:"taken_at" json:"taken_at"`
	LogDate    time.Time  `db:"log_date" json:"log_date"`
}

// ReminderView is one entry of the patient-facing reminder list: the active
// reminder plus its cumulative dose counts and today's status when logged.
type ReminderView struct {
	ID             uuid.UUID   `json:"id"`
	MedicineName   string      `json:"medicine_name"`
	ReminderTime   *string     `json:"reminder_time"`
	TotalStock     int         `json:"total_stock"`
	RemainingStock int         `json:"remaining_stock"`
	RxID           *int64      `json:"rx_id,omitempty"`
	IsActive       bool        `json:"is_active"`
	TakenCount     int         `json:"taken_count"`
	MissedCount    int         `json:"missed_count"`
	TodayStatus    *DoseStatus `json:"today_status"`
}

// DoseLogEntry is one history item inside an AdherenceRecord.
type DoseLogEntry struct {
	Date    string     `json:"date"`
	Status  DoseStatus `json:"status"`
	TakenAt *time.Time `json:"taken_at"`
}

// AdherenceRecord is the per-reminder adherence summary returned to doctors.
// Unlike ReminderView it includes inactive reminders.
type AdherenceRecord struct {
	ReminderID     uuid.UUID      `json:"reminder_id"`
	MedicineName   string         `json:"medicine_name"`
	ReminderTime   *string        `json:"reminder_time"`
	RemainingStock int            `json:"remaining_stock"`
	TotalStock     int            `json:"total_stock"`
	TakenCount     int            `json:"taken_count"`
	MissedCount    int            `json:"missed_count"`
	TotalLogs      int            `json:"total_logs"`
	AdherencePct   float64        `json:"adherence_pct"`
	LogHistory     []DoseLogEntry `json:"log_history"`
}

// ValidateClockTime checks an "HH:MM" wall-clock string.
func ValidateClockTime(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return &ValidationError{Field: "reminder_time", Reason: fmt.Sprintf("%q is not a valid HH:MM time", s)}
	}
	return nil
}

// DateOf truncates a timestamp to its calendar date in the local zone.
// Dose logs are bucketed by this date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
