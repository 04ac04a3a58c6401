package medication

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitasage/vitasage/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Reminder Repository ===========

type reminderRepoPG struct{ pool *pgxpool.Pool }

func NewReminderRepoPG(pool *pgxpool.Pool) ReminderRepository {
	return &reminderRepoPG{pool: pool}
}

func (r *reminderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// reminder_time is stored as TIME; it crosses the wire as "HH:MM".
const reminderCols = `id, patient_id, patient_source, rx_id, medicine_name,
	to_char(reminder_time, 'HH24:MI'), total_stock, remaining_stock, is_active, created_at`

func (r *reminderRepoPG) scanReminder(row pgx.Row) (*Reminder, error) {
	var rem Reminder
	err := row.Scan(&rem.ID, &rem.PatientID, &rem.PatientSource, &rem.RxID, &rem.MedicineName,
		&rem.ReminderTime, &rem.TotalStock, &rem.RemainingStock, &rem.IsActive, &rem.CreatedAt)
	return &rem, err
}

func (r *reminderRepoPG) Create(ctx context.Context, rem *Reminder) error {
	rem.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_reminders
			(id, patient_id, patient_source, rx_id, medicine_name,
			 reminder_time, total_stock, remaining_stock, is_active)
		VALUES ($1,$2,$3,$4,$5,$6::time,$7,$8,$9)
		RETURNING created_at`,
		rem.ID, rem.PatientID, rem.PatientSource, rem.RxID, rem.MedicineName,
		rem.ReminderTime, rem.TotalStock, rem.RemainingStock, rem.IsActive).
		Scan(&rem.CreatedAt)
}

func (r *reminderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	rem, err := r.scanReminder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reminderCols+` FROM medication_reminders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return rem, nil
}

func (r *reminderRepoPG) UpdateTime(ctx context.Context, id uuid.UUID, reminderTime string) error {
	// Rows-affected is deliberately not checked: updating an absent id is a
	// documented no-op.
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_reminders SET reminder_time = $2::time WHERE id = $1`,
		id, reminderTime)
	return err
}

func (r *reminderRepoPG) UpdateStock(ctx context.Context, id uuid.UUID, total, remaining int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_reminders SET total_stock = $2, remaining_stock = $3 WHERE id = $1`,
		id, total, remaining)
	return err
}

func (r *reminderRepoPG) DecrementStock(ctx context.Context, id uuid.UUID) (int, error) {
	var remaining int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medication_reminders
		SET remaining_stock = GREATEST(remaining_stock - 1, 0)
		WHERE id = $1
		RETURNING remaining_stock`, id).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrReminderNotFound
	}
	return remaining, err
}

func (r *reminderRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_reminders SET is_active = FALSE WHERE id = $1`, id)
	return err
}

func (r *reminderRepoPG) ListByPatient(ctx context.Context, ref PatientRef, activeOnly bool) ([]*Reminder, error) {
	query := `SELECT ` + reminderCols + `
		FROM medication_reminders
		WHERE patient_id = $1 AND patient_source = $2`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY reminder_time ASC NULLS LAST, created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, ref.ID, ref.Source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Reminder
	for rows.Next() {
		rem, err := r.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rem)
	}
	return items, rows.Err()
}

// =========== DoseLog Repository ===========

type doseLogRepoPG struct{ pool *pgxpool.Pool }

func NewDoseLogRepoPG(pool *pgxpool.Pool) DoseLogRepository {
	return &doseLogRepoPG{pool: pool}
}

func (r *doseLogRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *doseLogRepoPG) UpsertTaken(ctx context.Context, reminderID uuid.UUID, patientID int64, takenAt time.Time, day time.Time) error {
	// Single statement keyed on the (reminder_id, log_date) uniqueness
	// constraint: a same-day row (taken or missed) is overwritten to taken.
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_logs (id, reminder_id, patient_id, status, taken_at, log_date)
		VALUES ($1, $2, $3, 'taken', $4, $5)
		ON CONFLICT (reminder_id, log_date)
		DO UPDATE SET status = 'taken', taken_at = EXCLUDED.taken_at`,
		uuid.New(), reminderID, patientID, takenAt, day)
	return err
}

func (r *doseLogRepoPG) InsertMissed(ctx context.Context, reminderID uuid.UUID, patientID int64, day time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_logs (id, reminder_id, patient_id, status, log_date)
		VALUES ($1, $2, $3, 'missed', $4)
		ON CONFLICT (reminder_id, log_date) DO NOTHING`,
		uuid.New(), reminderID, patientID, day)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *doseLogRepoPG) ListByReminders(ctx context.Context, reminderIDs []uuid.UUID) ([]*DoseLog, error) {
	if len(reminderIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, reminder_id, patient_id, status, taken_at, log_date
		FROM medication_logs
		WHERE reminder_id = ANY($1)
		ORDER BY log_date DESC`, reminderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DoseLog
	for rows.Next() {
		var l DoseLog
		if err := rows.Scan(&l.ID, &l.ReminderID, &l.PatientID, &l.Status, &l.TakenAt, &l.LogDate); err != nil {
			return nil, err
		}
		items = append(items, &l)
	}
	return items, rows.Err()
}
