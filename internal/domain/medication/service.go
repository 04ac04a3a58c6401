package medication

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// lowStockThreshold is the remaining-dose count at which taken responses
// start carrying a low-stock warning.
const lowStockThreshold = 2

const maxMedicineNameLen = 150

// Metrics receives domain-level counter events. The telemetry provider
// implements it; a no-op stands in when none is wired.
type Metrics interface {
	ReminderCreated()
	DoseEvent(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ReminderCreated() {}
func (noopMetrics) DoseEvent(string) {}

// Service orchestrates reminder lifecycle and dose logging, and aggregates
// adherence statistics on read.
type Service struct {
	reminders ReminderRepository
	logs      DoseLogRepository
	tx        TxRunner
	metrics   Metrics

	now func() time.Time
}

func NewService(reminders ReminderRepository, logs DoseLogRepository, tx TxRunner) *Service {
	return &Service{
		reminders: reminders,
		logs:      logs,
		tx:        tx,
		metrics:   noopMetrics{},
		now:       time.Now,
	}
}

// SetMetrics wires a metrics sink. Safe to leave unset.
func (s *Service) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// TakenResult is the outcome of marking a dose taken. The message carries
// stock warnings; they are part of the success response, not errors.
type TakenResult struct {
	Message        string `json:"message"`
	RemainingStock int    `json:"remaining_stock"`
}

// MissedResult is the outcome of marking a dose missed.
type MissedResult struct {
	Message string `json:"message"`
}

// CreateReminder validates and persists a new reminder. Duplicate
// (patient, medicine) pairs are permitted.
func (s *Service) CreateReminder(ctx context.Context, rem *Reminder) error {
	if strings.TrimSpace(rem.MedicineName) == "" {
		return &ValidationError{Field: "medicine_name", Reason: "must not be empty"}
	}
	if len(rem.MedicineName) > maxMedicineNameLen {
		return &ValidationError{Field: "medicine_name", Reason: fmt.Sprintf("must be at most %d characters", maxMedicineNameLen)}
	}
	if _, err := ParsePatientSource(string(rem.PatientSource)); err != nil {
		return err
	}
	if rem.PatientID <= 0 {
		return &ValidationError{Field: "patient_id", Reason: "must be a positive integer"}
	}
	if rem.TotalStock < 0 {
		return &ValidationError{Field: "total_stock", Reason: "must not be negative"}
	}
	if rem.RemainingStock < 0 {
		return &ValidationError{Field: "remaining_stock", Reason: "must not be negative"}
	}
	if rem.ReminderTime != nil {
		if err := ValidateClockTime(*rem.ReminderTime); err != nil {
			return err
		}
	}
	rem.IsActive = true
	if err := s.reminders.Create(ctx, rem); err != nil {
		return err
	}
	s.metrics.ReminderCreated()
	return nil
}

// UpdateReminderTime sets the reminder's alarm time. Updating an absent id
// succeeds without effect.
func (s *Service) UpdateReminderTime(ctx context.Context, id uuid.UUID, reminderTime string) error {
	if err := ValidateClockTime(reminderTime); err != nil {
		return err
	}
	return s.reminders.UpdateTime(ctx, id, reminderTime)
}

// UpdateStock replaces both stock counters. remaining above total is allowed:
// patients restock beyond the originally dispensed amount.
func (s *Service) UpdateStock(ctx context.Context, id uuid.UUID, total, remaining int) error {
	if total < 0 {
		return &ValidationError{Field: "total_stock", Reason: "must not be negative"}
	}
	if remaining < 0 {
		return &ValidationError{Field: "remaining_stock", Reason: "must not be negative"}
	}
	return s.reminders.UpdateStock(ctx, id, total, remaining)
}

// DeactivateReminder soft-deletes a reminder. History is kept; the reminder
// drops out of the patient's list but stays visible to adherence reads.
func (s *Service) DeactivateReminder(ctx context.Context, id uuid.UUID) error {
	return s.reminders.Deactivate(ctx, id)
}

// MarkTaken decrements stock (never below zero) and upserts today's dose log
// to taken, in one transaction. A same-day missed row is upgraded to taken.
// Every call decrements stock, even when today's dose was already logged.
func (s *Service) MarkTaken(ctx context.Context, id uuid.UUID) (*TakenResult, error) {
	var res *TakenResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rem, err := s.reminders.GetByID(ctx, id)
		if err != nil {
			return err
		}

		// Single clamped UPDATE: concurrent calls each consume one dose and
		// the count never goes negative.
		newRemaining, err := s.reminders.DecrementStock(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if err := s.logs.UpsertTaken(ctx, id, rem.PatientID, now, DateOf(now)); err != nil {
			return err
		}

		msg := "Medicine marked as taken"
		switch {
		case newRemaining == 0:
			msg += " | Out of stock"
		case newRemaining <= lowStockThreshold:
			msg += fmt.Sprintf(" | Low stock: %d left", newRemaining)
		}
		res = &TakenResult{Message: msg, RemainingStock: newRemaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DoseEvent("taken")
	return res, nil
}

// MarkMissed records a missed dose for today. Invoked by the reminder
// scheduler once the acknowledgement window elapses. When today's dose is
// already logged (taken or missed) the call reports so without mutating.
func (s *Service) MarkMissed(ctx context.Context, id uuid.UUID) (*MissedResult, error) {
	var res *MissedResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rem, err := s.reminders.GetByID(ctx, id)
		if err != nil {
			return err
		}

		inserted, err := s.logs.InsertMissed(ctx, id, rem.PatientID, DateOf(s.now()))
		if err != nil {
			return err
		}
		if !inserted {
			res = &MissedResult{Message: "Already logged today"}
			s.metrics.DoseEvent("already_logged")
			return nil
		}
		res = &MissedResult{Message: "Dose logged as missed"}
		s.metrics.DoseEvent("missed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListReminders returns the patient's active reminders ordered by alarm time
// (null times last), each with cumulative dose counts and today's status.
func (s *Service) ListReminders(ctx context.Context, ref PatientRef) ([]*ReminderView, error) {
	rems, err := s.reminders.ListByPatient(ctx, ref, true)
	if err != nil {
		return nil, err
	}

	logs, err := s.logsFor(ctx, rems)
	if err != nil {
		return nil, err
	}

	today := s.now()
	views := make([]*ReminderView, 0, len(rems))
	for _, rem := range rems {
		view := &ReminderView{
			ID:             rem.ID,
			MedicineName:   rem.MedicineName,
			ReminderTime:   rem.ReminderTime,
			TotalStock:     rem.TotalStock,
			RemainingStock: rem.RemainingStock,
			RxID:           rem.RxID,
			IsActive:       rem.IsActive,
		}
		for _, l := range logs[rem.ID] {
			switch l.Status {
			case DoseTaken:
				view.TakenCount++
			case DoseMissed:
				view.MissedCount++
			}
			if SameDay(l.LogDate, today) {
				status := l.Status
				view.TodayStatus = &status
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// GetAdherence returns one record per reminder, active or not, with dose
// counts, the adherence percentage, and the full history newest-first.
func (s *Service) GetAdherence(ctx context.Context, ref PatientRef) ([]*AdherenceRecord, error) {
	rems, err := s.reminders.ListByPatient(ctx, ref, false)
	if err != nil {
		return nil, err
	}

	logs, err := s.logsFor(ctx, rems)
	if err != nil {
		return nil, err
	}

	records := make([]*AdherenceRecord, 0, len(rems))
	for _, rem := range rems {
		rec := &AdherenceRecord{
			ReminderID:     rem.ID,
			MedicineName:   rem.MedicineName,
			ReminderTime:   rem.ReminderTime,
			RemainingStock: rem.RemainingStock,
			TotalStock:     rem.TotalStock,
			LogHistory:     []DoseLogEntry{},
		}
		for _, l := range logs[rem.ID] {
			switch l.Status {
			case DoseTaken:
				rec.TakenCount++
			case DoseMissed:
				rec.MissedCount++
			}
			rec.LogHistory = append(rec.LogHistory, DoseLogEntry{
				Date:    l.LogDate.Format("2006-01-02"),
				Status:  l.Status,
				TakenAt: l.TakenAt,
			})
		}
		rec.TotalLogs = rec.TakenCount + rec.MissedCount
		rec.AdherencePct = adherencePct(rec.TakenCount, rec.TotalLogs)
		records = append(records, rec)
	}
	return records, nil
}

// logsFor fetches the dose logs for a set of reminders, grouped by reminder
// id with the repository's newest-first ordering preserved.
func (s *Service) logsFor(ctx context.Context, rems []*Reminder) (map[uuid.UUID][]*DoseLog, error) {
	if len(rems) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(rems))
	for _, rem := range rems {
		ids = append(ids, rem.ID)
	}
	logs, err := s.logs.ListByReminders(ctx, ids)
	if err != nil {
		return nil, err
	}
	grouped := make(map[uuid.UUID][]*DoseLog, len(rems))
	for _, l := range logs {
		grouped[l.ReminderID] = append(grouped[l.ReminderID], l)
	}
	return grouped, nil
}

// adherencePct computes taken/total as a percentage rounded to one decimal,
// defined as 0 for an empty history.
func adherencePct(taken, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(taken)*1000/float64(total)) / 10
}
