package medication

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockReminderRepo struct {
	reminders map[uuid.UUID]*Reminder
	order     []uuid.UUID
}

func newMockReminderRepo() *mockReminderRepo {
	return &mockReminderRepo{reminders: make(map[uuid.UUID]*Reminder)}
}

func (m *mockReminderRepo) Create(_ context.Context, rem *Reminder) error {
	rem.ID = uuid.New()
	rem.CreatedAt = time.Now()
	m.reminders[rem.ID] = rem
	m.order = append(m.order, rem.ID)
	return nil
}

func (m *mockReminderRepo) GetByID(_ context.Context, id uuid.UUID) (*Reminder, error) {
	rem, ok := m.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	return rem, nil
}

func (m *mockReminderRepo) UpdateTime(_ context.Context, id uuid.UUID, reminderTime string) error {
	if rem, ok := m.reminders[id]; ok {
		rem.ReminderTime = &reminderTime
	}
	return nil
}

func (m *mockReminderRepo) UpdateStock(_ context.Context, id uuid.UUID, total, remaining int) error {
	if rem, ok := m.reminders[id]; ok {
		rem.TotalStock = total
		rem.RemainingStock = remaining
	}
	return nil
}

func (m *mockReminderRepo) DecrementStock(_ context.Context, id uuid.UUID) (int, error) {
	rem, ok := m.reminders[id]
	if !ok {
		return 0, ErrReminderNotFound
	}
	if rem.RemainingStock > 0 {
		rem.RemainingStock--
	}
	return rem.RemainingStock, nil
}

func (m *mockReminderRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	if rem, ok := m.reminders[id]; ok {
		rem.IsActive = false
	}
	return nil
}

func (m *mockReminderRepo) ListByPatient(_ context.Context, ref PatientRef, activeOnly bool) ([]*Reminder, error) {
	var result []*Reminder
	for _, id := range m.order {
		rem := m.reminders[id]
		if rem.PatientID != ref.ID || rem.PatientSource != ref.Source {
			continue
		}
		if activeOnly && !rem.IsActive {
			continue
		}
		result = append(result, rem)
	}
	return result, nil
}

type mockDoseLogRepo struct {
	logs map[string]*DoseLog
}

func newMockDoseLogRepo() *mockDoseLogRepo {
	return &mockDoseLogRepo{logs: make(map[string]*DoseLog)}
}

func logKey(reminderID uuid.UUID, day time.Time) string {
	return reminderID.String() + "|" + day.Format("2006-01-02")
}

func (m *mockDoseLogRepo) UpsertTaken(_ context.Context, reminderID uuid.UUID, patientID int64, takenAt, day time.Time) error {
	key := logKey(reminderID, day)
	if l, ok := m.logs[key]; ok {
		l.Status = DoseTaken
		l.TakenAt = &takenAt
		return nil
	}
	m.logs[key] = &DoseLog{
		ID:         uuid.New(),
		ReminderID: reminderID,
		PatientID:  patientID,
		Status:     DoseTaken,
		TakenAt:    &takenAt,
		LogDate:    day,
	}
	return nil
}

func (m *mockDoseLogRepo) InsertMissed(_ context.Context, reminderID uuid.UUID, patientID int64, day time.Time) (bool, error) {
	key := logKey(reminderID, day)
	if _, ok := m.logs[key]; ok {
		return false, nil
	}
	m.logs[key] = &DoseLog{
		ID:         uuid.New(),
		ReminderID: reminderID,
		PatientID:  patientID,
		Status:     DoseMissed,
		LogDate:    day,
	}
	return true, nil
}

func (m *mockDoseLogRepo) ListByReminders(_ context.Context, reminderIDs []uuid.UUID) ([]*DoseLog, error) {
	wanted := make(map[uuid.UUID]bool, len(reminderIDs))
	for _, id := range reminderIDs {
		wanted[id] = true
	}
	var result []*DoseLog
	for _, l := range m.logs {
		if wanted[l.ReminderID] {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LogDate.After(result[j].LogDate)
	})
	return result, nil
}

// passTx runs the function directly, without a transaction.
type passTx struct{}

func (passTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var testNow = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

func newTestService() (*Service, *mockReminderRepo, *mockDoseLogRepo) {
	reminders := newMockReminderRepo()
	logs := newMockDoseLogRepo()
	svc := NewService(reminders, logs, passTx{})
	svc.now = func() time.Time { return testNow }
	return svc, reminders, logs
}

func seedReminder(t *testing.T, svc *Service, remaining int) *Reminder {
	t.Helper()
	rem := &Reminder{
		PatientID:      42,
		PatientSource:  SourceRegistered,
		MedicineName:   "Metformin",
		TotalStock:     30,
		RemainingStock: remaining,
	}
	if err := svc.CreateReminder(context.Background(), rem); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return rem
}

// -- CreateReminder --

func TestCreateReminder(t *testing.T) {
	svc, repo, _ := newTestService()

	tm := "08:00"
	rem := &Reminder{
		PatientID:      42,
		PatientSource:  SourceRegistered,
		MedicineName:   "Metformin",
		ReminderTime:   &tm,
		TotalStock:     30,
		RemainingStock: 30,
	}
	if err := svc.CreateReminder(context.Background(), rem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rem.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if !rem.IsActive {
		t.Error("expected new reminder to be active")
	}
	if _, ok := repo.reminders[rem.ID]; !ok {
		t.Error("expected reminder to be persisted")
	}
}

func TestCreateReminder_Validation(t *testing.T) {
	svc, _, _ := newTestService()

	badTime := "25:99"
	cases := []struct {
		name string
		rem  Reminder
	}{
		{"empty name", Reminder{PatientID: 1, PatientSource: SourceRegistered, MedicineName: "   "}},
		{"name too long", Reminder{PatientID: 1, PatientSource: SourceRegistered, MedicineName: strings.Repeat("x", 151)}},
		{"bad source", Reminder{PatientID: 1, PatientSource: "guest", MedicineName: "Metformin"}},
		{"zero patient", Reminder{PatientID: 0, PatientSource: SourceRegistered, MedicineName: "Metformin"}},
		{"negative total", Reminder{PatientID: 1, PatientSource: SourceRegistered, MedicineName: "Metformin", TotalStock: -1}},
		{"negative remaining", Reminder{PatientID: 1, PatientSource: SourceRegistered, MedicineName: "Metformin", RemainingStock: -5}},
		{"bad time", Reminder{PatientID: 1, PatientSource: SourceRegistered, MedicineName: "Metformin", ReminderTime: &badTime}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rem := tc.rem
			err := svc.CreateReminder(context.Background(), &rem)
			if !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// -- MarkTaken --

func TestMarkTaken_DecrementsStockOncePerCall(t *testing.T) {
	svc, repo, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	for i := 0; i < 3; i++ {
		res, err := svc.MarkTaken(context.Background(), rem.ID)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if want := 10 - (i + 1); res.RemainingStock != want {
			t.Errorf("call %d: expected remaining %d, got %d", i, want, res.RemainingStock)
		}
	}
	if repo.reminders[rem.ID].RemainingStock != 7 {
		t.Errorf("expected stored remaining 7, got %d", repo.reminders[rem.ID].RemainingStock)
	}
	// Same-day repeats collapse into a single log row.
	if len(logs.logs) != 1 {
		t.Errorf("expected 1 log row, got %d", len(logs.logs))
	}
	l := logs.logs[logKey(rem.ID, testNow)]
	if l == nil || l.Status != DoseTaken {
		t.Fatalf("expected taken log for today, got %+v", l)
	}
	if l.TakenAt == nil || !l.TakenAt.Equal(testNow) {
		t.Errorf("expected taken_at %v, got %v", testNow, l.TakenAt)
	}
}

func TestMarkTaken_ZeroStockStaysZero(t *testing.T) {
	svc, repo, _ := newTestService()
	rem := seedReminder(t, svc, 0)

	res, err := svc.MarkTaken(context.Background(), rem.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RemainingStock != 0 {
		t.Errorf("expected remaining 0, got %d", res.RemainingStock)
	}
	if repo.reminders[rem.ID].RemainingStock != 0 {
		t.Errorf("stock went negative: %d", repo.reminders[rem.ID].RemainingStock)
	}
	if !strings.Contains(res.Message, "Out of stock") {
		t.Errorf("expected out-of-stock warning, got %q", res.Message)
	}
}

func TestMarkTaken_StockWarnings(t *testing.T) {
	cases := []struct {
		before int
		want   string
	}{
		{10, "Medicine marked as taken"},
		{4, "Medicine marked as taken"},
		{3, "Medicine marked as taken | Low stock: 2 left"},
		{2, "Medicine marked as taken | Low stock: 1 left"},
		{1, "Medicine marked as taken | Out of stock"},
		{0, "Medicine marked as taken | Out of stock"},
	}
	for _, tc := range cases {
		svc, _, _ := newTestService()
		rem := seedReminder(t, svc, tc.before)
		res, err := svc.MarkTaken(context.Background(), rem.ID)
		if err != nil {
			t.Fatalf("remaining %d: unexpected error: %v", tc.before, err)
		}
		if res.Message != tc.want {
			t.Errorf("remaining %d: expected %q, got %q", tc.before, tc.want, res.Message)
		}
	}
}

func TestMarkTaken_UpgradesMissed(t *testing.T) {
	svc, _, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	if _, err := svc.MarkMissed(context.Background(), rem.ID); err != nil {
		t.Fatalf("mark missed: %v", err)
	}
	if _, err := svc.MarkTaken(context.Background(), rem.ID); err != nil {
		t.Fatalf("mark taken: %v", err)
	}

	if len(logs.logs) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(logs.logs))
	}
	l := logs.logs[logKey(rem.ID, testNow)]
	if l.Status != DoseTaken {
		t.Errorf("expected missed row upgraded to taken, got %s", l.Status)
	}
	if l.TakenAt == nil {
		t.Error("expected taken_at to be set on upgrade")
	}
}

func TestMarkTaken_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.MarkTaken(context.Background(), uuid.New())
	if err != ErrReminderNotFound {
		t.Errorf("expected ErrReminderNotFound, got %v", err)
	}
}

// -- MarkMissed --

func TestMarkMissed_Idempotent(t *testing.T) {
	svc, _, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	res, err := svc.MarkMissed(context.Background(), rem.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != "Dose logged as missed" {
		t.Errorf("expected missed message, got %q", res.Message)
	}

	res, err = svc.MarkMissed(context.Background(), rem.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message != "Already logged today" {
		t.Errorf("expected already-logged message, got %q", res.Message)
	}
	if len(logs.logs) != 1 {
		t.Errorf("expected 1 log row, got %d", len(logs.logs))
	}
	l := logs.logs[logKey(rem.ID, testNow)]
	if l == nil || !l.LogDate.Equal(DateOf(testNow)) {
		t.Errorf("expected log date %v, got %+v", DateOf(testNow), l)
	}
}

func TestMarkMissed_DoesNotOverwriteTaken(t *testing.T) {
	svc, _, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	if _, err := svc.MarkTaken(context.Background(), rem.ID); err != nil {
		t.Fatalf("mark taken: %v", err)
	}
	res, err := svc.MarkMissed(context.Background(), rem.ID)
	if err != nil {
		t.Fatalf("mark missed: %v", err)
	}
	if res.Message != "Already logged today" {
		t.Errorf("expected already-logged message, got %q", res.Message)
	}
	if logs.logs[logKey(rem.ID, testNow)].Status != DoseTaken {
		t.Error("missed overwrote a taken log")
	}
}

func TestMarkMissed_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.MarkMissed(context.Background(), uuid.New())
	if err != ErrReminderNotFound {
		t.Errorf("expected ErrReminderNotFound, got %v", err)
	}
}

// -- ListReminders --

func TestListReminders_ActiveOnly(t *testing.T) {
	svc, _, _ := newTestService()
	active := seedReminder(t, svc, 10)
	inactive := seedReminder(t, svc, 5)
	if err := svc.DeactivateReminder(context.Background(), inactive.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	views, err := svc.ListReminders(context.Background(), PatientRef{ID: 42, Source: SourceRegistered})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].ID != active.ID {
		t.Errorf("expected active reminder %s, got %s", active.ID, views[0].ID)
	}
}

func TestListReminders_CountsAndTodayStatus(t *testing.T) {
	svc, _, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	// Two taken on earlier days, one missed yesterday, taken today.
	for daysAgo := 3; daysAgo >= 2; daysAgo-- {
		day := testNow.AddDate(0, 0, -daysAgo)
		if err := logs.UpsertTaken(context.Background(), rem.ID, rem.PatientID, day, DateOf(day)); err != nil {
			t.Fatalf("seed taken: %v", err)
		}
	}
	yesterday := testNow.AddDate(0, 0, -1)
	if _, err := logs.InsertMissed(context.Background(), rem.ID, rem.PatientID, DateOf(yesterday)); err != nil {
		t.Fatalf("seed missed: %v", err)
	}
	if _, err := svc.MarkTaken(context.Background(), rem.ID); err != nil {
		t.Fatalf("mark taken: %v", err)
	}

	views, err := svc.ListReminders(context.Background(), PatientRef{ID: 42, Source: SourceRegistered})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := views[0]
	if v.TakenCount != 3 || v.MissedCount != 1 {
		t.Errorf("expected 3 taken / 1 missed, got %d / %d", v.TakenCount, v.MissedCount)
	}
	if v.TodayStatus == nil || *v.TodayStatus != DoseTaken {
		t.Errorf("expected today status taken, got %v", v.TodayStatus)
	}
}

func TestListReminders_Empty(t *testing.T) {
	svc, _, _ := newTestService()
	views, err := svc.ListReminders(context.Background(), PatientRef{ID: 99, Source: SourceMaster})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("expected no views, got %d", len(views))
	}
}

// -- GetAdherence --

func TestGetAdherence_Percentage(t *testing.T) {
	svc, _, logs := newTestService()
	rem := seedReminder(t, svc, 10)

	for daysAgo := 4; daysAgo >= 2; daysAgo-- {
		day := testNow.AddDate(0, 0, -daysAgo)
		if err := logs.UpsertTaken(context.Background(), rem.ID, rem.PatientID, day, DateOf(day)); err != nil {
			t.Fatalf("seed taken: %v", err)
		}
	}
	yesterday := testNow.AddDate(0, 0, -1)
	if _, err := logs.InsertMissed(context.Background(), rem.ID, rem.PatientID, DateOf(yesterday)); err != nil {
		t.Fatalf("seed missed: %v", err)
	}

	records, err := svc.GetAdherence(context.Background(), PatientRef{ID: 42, Source: SourceRegistered})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.TakenCount != 3 || rec.MissedCount != 1 || rec.TotalLogs != 4 {
		t.Errorf("expected 3/1/4, got %d/%d/%d", rec.TakenCount, rec.MissedCount, rec.TotalLogs)
	}
	if rec.AdherencePct != 75.0 {
		t.Errorf("expected 75.0, got %v", rec.AdherencePct)
	}
	if len(rec.LogHistory) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(rec.LogHistory))
	}
	// Newest first.
	if rec.LogHistory[0].Status != DoseMissed {
		t.Errorf("expected newest entry missed, got %s", rec.LogHistory[0].Status)
	}
}

func TestGetAdherence_EmptyHistoryIsZero(t *testing.T) {
	svc, _, _ := newTestService()
	seedReminder(t, svc, 10)

	records, err := svc.GetAdherence(context.Background(), PatientRef{ID: 42, Source: SourceRegistered})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].AdherencePct != 0 {
		t.Errorf("expected 0 for empty history, got %v", records[0].AdherencePct)
	}
	if records[0].LogHistory == nil || len(records[0].LogHistory) != 0 {
		t.Errorf("expected empty history slice, got %v", records[0].LogHistory)
	}
}

func TestGetAdherence_IncludesInactive(t *testing.T) {
	svc, _, _ := newTestService()
	seedReminder(t, svc, 10)
	inactive := seedReminder(t, svc, 5)
	if err := svc.DeactivateReminder(context.Background(), inactive.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	records, err := svc.GetAdherence(context.Background(), PatientRef{ID: 42, Source: SourceRegistered})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records including inactive, got %d", len(records))
	}
}

func TestAdherencePct_Rounding(t *testing.T) {
	cases := []struct {
		taken, total int
		want         float64
	}{
		{0, 0, 0},
		{3, 4, 75.0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{7, 7, 100.0},
		{0, 5, 0},
	}
	for _, tc := range cases {
		if got := adherencePct(tc.taken, tc.total); got != tc.want {
			t.Errorf("adherencePct(%d, %d) = %v, want %v", tc.taken, tc.total, got, tc.want)
		}
	}
}

// -- UpdateReminderTime / UpdateStock / Deactivate --

func TestUpdateReminderTime(t *testing.T) {
	svc, repo, _ := newTestService()
	rem := seedReminder(t, svc, 10)

	if err := svc.UpdateReminderTime(context.Background(), rem.ID, "21:30"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.reminders[rem.ID].ReminderTime; got == nil || *got != "21:30" {
		t.Errorf("expected 21:30, got %v", got)
	}
}

func TestUpdateReminderTime_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	rem := seedReminder(t, svc, 10)

	for _, bad := range []string{"", "8am", "24:00", "12:60", "9:5:1"} {
		if err := svc.UpdateReminderTime(context.Background(), rem.ID, bad); !IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", bad, err)
		}
	}
}

func TestUpdateReminderTime_AbsentIDIsNoOp(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.UpdateReminderTime(context.Background(), uuid.New(), "10:00"); err != nil {
		t.Errorf("expected silent no-op, got %v", err)
	}
}

func TestUpdateStock(t *testing.T) {
	svc, repo, _ := newTestService()
	rem := seedReminder(t, svc, 10)

	if err := svc.UpdateStock(context.Background(), rem.ID, 60, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.reminders[rem.ID].TotalStock != 60 || repo.reminders[rem.ID].RemainingStock != 60 {
		t.Errorf("stock not updated: %+v", repo.reminders[rem.ID])
	}

	if err := svc.UpdateStock(context.Background(), rem.ID, 10, -1); !IsValidation(err) {
		t.Errorf("expected validation error for negative remaining, got %v", err)
	}
}

func TestUpdateStock_RemainingAboveTotalPermitted(t *testing.T) {
	svc, repo, _ := newTestService()
	rem := seedReminder(t, svc, 10)

	// Restocking beyond the originally dispensed amount is legal.
	if err := svc.UpdateStock(context.Background(), rem.ID, 10, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.reminders[rem.ID]
	if stored.TotalStock != 10 || stored.RemainingStock != 50 {
		t.Errorf("expected 10/50, got %d/%d", stored.TotalStock, stored.RemainingStock)
	}
}

func TestCreateReminder_RemainingAboveTotalPermitted(t *testing.T) {
	svc, repo, _ := newTestService()

	rem := &Reminder{
		PatientID:      42,
		PatientSource:  SourceRegistered,
		MedicineName:   "Metformin",
		TotalStock:     10,
		RemainingStock: 50,
	}
	if err := svc.CreateReminder(context.Background(), rem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.reminders[rem.ID]
	if stored.TotalStock != 10 || stored.RemainingStock != 50 {
		t.Errorf("expected 10/50, got %d/%d", stored.TotalStock, stored.RemainingStock)
	}
}

func TestDeactivateReminder(t *testing.T) {
	svc, repo, _ := newTestService()
	rem := seedReminder(t, svc, 10)

	if err := svc.DeactivateReminder(context.Background(), rem.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.reminders[rem.ID].IsActive {
		t.Error("expected reminder to be inactive")
	}
}
