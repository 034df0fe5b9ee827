package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"planbook/internal/storage"
	logx "planbook/pkg/logx"
)

type reminderCall struct {
	ID      int64
	Date    string
	Time    string
	Message string
}

type fakeNotifier struct {
	mu        sync.Mutex
	scheduled []reminderCall
	cancelled []int64
	fail      error
}

func (f *fakeNotifier) Schedule(id int64, date, timeOfDay, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.scheduled = append(f.scheduled, reminderCall{ID: id, Date: date, Time: timeOfDay, Message: message})
	return nil
}

func (f *fakeNotifier) Cancel(id int64) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
}

func (f *fakeNotifier) calls() []reminderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reminderCall(nil), f.scheduled...)
}

func (f *fakeNotifier) cancels() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cancelled...)
}

func newTestManager(t *testing.T) (*Manager, *fakeNotifier) {
	t.Helper()
	feed := storage.NewFeed()
	st := storage.NewMemory(feed, logx.Nop())
	repo := NewRepository(st, feed, logx.Nop())
	fn := &fakeNotifier{}
	m := NewManager(repo, fn, logx.Nop())
	t.Cleanup(m.Close)
	return m, fn
}

// waitState polls until the manager's state satisfies cond.
func waitState(t *testing.T, m *Manager, what string, cond func(ViewState) bool) ViewState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := m.State()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state: %+v", what, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInsertSetsStatusAndSchedulesReminder(t *testing.T) {
	m, fn := newTestManager(t)
	ctx := context.Background()

	id, err := m.Insert(ctx, "2024-05-01", "gym", "07:00", true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}

	// One-shot consumption: first acknowledge sees the signal, the second
	// sees nothing.
	if got := m.AcknowledgeStatus(); got != StatusSaved {
		t.Fatalf("first acknowledge = %q, want %q", got, StatusSaved)
	}
	if got := m.AcknowledgeStatus(); got != StatusNone {
		t.Fatalf("second acknowledge = %q, want none", got)
	}

	calls := fn.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 reminder call, got %d", len(calls))
	}
	want := reminderCall{ID: 1, Date: "2024-05-01", Time: "07:00", Message: "gym"}
	if calls[0] != want {
		t.Fatalf("reminder call = %+v, want %+v", calls[0], want)
	}
}

func TestInsertWithoutAlarmSkipsNotifier(t *testing.T) {
	m, fn := newTestManager(t)
	if _, err := m.Insert(context.Background(), "2024-05-01", "gym", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(fn.calls()) != 0 {
		t.Fatalf("unexpected reminder calls: %+v", fn.calls())
	}
}

func TestInsertNotifierFailureDoesNotFailInsert(t *testing.T) {
	m, fn := newTestManager(t)
	fn.fail = errors.New("alarm backend down")

	id, err := m.Insert(context.Background(), "2024-05-01", "gym", "07:00", true)
	if err != nil {
		t.Fatalf("insert must succeed despite notifier failure: %v", err)
	}
	if id == 0 {
		t.Fatal("missing id")
	}
	if got := m.AcknowledgeStatus(); got != StatusSaved {
		t.Fatalf("status = %q, want saved", got)
	}
}

func TestInsertRejectsMalformedInput(t *testing.T) {
	m, fn := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, "01-05-2024", "x", "", false); err == nil {
		t.Fatal("expected validation error for date")
	}
	if _, err := m.Insert(ctx, "2024-05-01", "x", "7pm", false); err == nil {
		t.Fatal("expected validation error for time")
	}
	if got := m.AcknowledgeStatus(); got != StatusNone {
		t.Fatalf("status set on failed insert: %q", got)
	}
	if len(fn.calls()) != 0 {
		t.Fatal("notifier called on failed insert")
	}
}

func TestSelectDateShowsOnlyThatDate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, "2024-05-01", "gym", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.Insert(ctx, "2024-05-02", "call", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := m.SelectDate(ctx, "2024-05-01"); err != nil {
		t.Fatalf("select date: %v", err)
	}
	st := waitState(t, m, "date snapshot", func(st ViewState) bool {
		return st.Scope == ScopeDate && len(st.Schedules) == 1
	})
	if st.Date != "2024-05-01" || st.Schedules[0].Text != "gym" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestScopeSwitchDiscardsStaleEmissions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.SelectDate(ctx, "2024-05-01"); err != nil {
		t.Fatalf("select d1: %v", err)
	}
	if err := m.SelectDate(ctx, "2024-05-02"); err != nil {
		t.Fatalf("select d2: %v", err)
	}

	// A write on the previously selected date must not leak into the view:
	// the d1 subscription was cancelled, and even a late emission carries a
	// stale generation.
	if _, err := m.Insert(ctx, "2024-05-01", "stale", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	st := m.State()
	if st.Date != "2024-05-02" {
		t.Fatalf("active date changed: %+v", st)
	}
	for _, r := range st.Schedules {
		if r.Date == "2024-05-01" {
			t.Fatalf("stale date leaked into view: %+v", st.Schedules)
		}
	}

	// The new scope still works.
	if _, err := m.Insert(ctx, "2024-05-02", "fresh", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	waitState(t, m, "d2 snapshot", func(st ViewState) bool {
		return len(st.Schedules) == 1 && st.Schedules[0].Text == "fresh"
	})
}

func TestLoadAllGroupsAndSorts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// Insert out of date order; ids 1..3.
	if _, err := m.Insert(ctx, "2024-05-02", "late", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.Insert(ctx, "2024-05-01", "a", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.Insert(ctx, "2024-05-01", "b", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := m.LoadAll(ctx); err != nil {
		t.Fatalf("load all: %v", err)
	}
	st := waitState(t, m, "grouped snapshot", func(st ViewState) bool {
		return st.Scope == ScopeAll && len(st.Groups) == 2
	})

	if st.Groups[0].Date != "2024-05-01" || st.Groups[1].Date != "2024-05-02" {
		t.Fatalf("group order wrong: %+v", st.Groups)
	}
	g := st.Groups[0].Schedules
	if len(g) != 2 || g[0].ID >= g[1].ID {
		t.Fatalf("within-group order not id-ascending: %+v", g)
	}
	if len(st.Schedules) != 3 || st.Schedules[0].Date != "2024-05-01" {
		t.Fatalf("flattened view wrong: %+v", st.Schedules)
	}
}

func TestLoadKnownDates(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.LoadKnownDates(ctx); err != nil {
		t.Fatalf("load known dates: %v", err)
	}
	if _, err := m.Insert(ctx, "2024-05-02", "x", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := m.Insert(ctx, "2024-05-01", "y", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}

	st := waitState(t, m, "known dates", func(st ViewState) bool {
		return len(st.KnownDates) == 2
	})
	if st.KnownDates[0] != "2024-05-01" || st.KnownDates[1] != "2024-05-02" {
		t.Fatalf("known dates wrong: %v", st.KnownDates)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.Insert(ctx, "2024-05-01", "gym", "07:00", false)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	m.AcknowledgeStatus()

	if err := m.SelectDate(ctx, "2024-05-01"); err != nil {
		t.Fatalf("select date: %v", err)
	}
	waitState(t, m, "initial snapshot", func(st ViewState) bool { return len(st.Schedules) == 1 })

	rec := storage.Schedule{ID: id, Date: "2024-05-01", Text: "swim", Time: "07:00", AlarmOn: false}
	if err := m.Update(ctx, rec, ScopeDate); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := m.AcknowledgeStatus(); got != StatusUpdated {
		t.Fatalf("status = %q, want updated", got)
	}

	st := waitState(t, m, "updated snapshot", func(st ViewState) bool {
		return len(st.Schedules) == 1 && st.Schedules[0].Text == "swim"
	})
	got := st.Schedules[0]
	if got.ID != id || got.Date != "2024-05-01" || got.Time != "07:00" || got.AlarmOn {
		t.Fatalf("other fields changed: %+v", got)
	}
}

func TestUpdateMissingIDSurfacesNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, "2024-05-01", "gym", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	m.AcknowledgeStatus()
	if err := m.SelectDate(ctx, "2024-05-01"); err != nil {
		t.Fatalf("select date: %v", err)
	}
	before := waitState(t, m, "snapshot", func(st ViewState) bool { return len(st.Schedules) == 1 })

	err := m.Update(ctx, storage.Schedule{ID: 999, Date: "2024-05-01", Text: "x"}, ScopeDate)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := m.AcknowledgeStatus(); got != StatusNone {
		t.Fatalf("status set on failed update: %q", got)
	}
	after := m.State()
	if len(after.Schedules) != len(before.Schedules) || after.Schedules[0] != before.Schedules[0] {
		t.Fatalf("view changed on failed update: %+v", after.Schedules)
	}
}

func TestDeleteRemovesAndCancelsReminder(t *testing.T) {
	m, fn := newTestManager(t)
	ctx := context.Background()

	id, err := m.Insert(ctx, "2024-05-01", "gym", "07:00", true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	m.AcknowledgeStatus()

	if err := m.SelectDate(ctx, "2024-05-01"); err != nil {
		t.Fatalf("select date: %v", err)
	}
	waitState(t, m, "snapshot", func(st ViewState) bool { return len(st.Schedules) == 1 })

	rec := storage.Schedule{ID: id, Date: "2024-05-01", Text: "gym", Time: "07:00", AlarmOn: true}
	if err := m.Delete(ctx, rec, ScopeDate); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := m.AcknowledgeStatus(); got != StatusDeleted {
		t.Fatalf("status = %q, want deleted", got)
	}
	waitState(t, m, "empty snapshot", func(st ViewState) bool { return len(st.Schedules) == 0 })

	cancels := fn.cancels()
	if len(cancels) != 1 || cancels[0] != id {
		t.Fatalf("expected reminder cancel for %d, got %v", id, cancels)
	}
}

func TestUpdateWithAlarmOffCancelsReminder(t *testing.T) {
	m, fn := newTestManager(t)
	ctx := context.Background()

	id, err := m.Insert(ctx, "2024-05-01", "gym", "07:00", true)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec := storage.Schedule{ID: id, Date: "2024-05-01", Text: "gym", Time: "07:00", AlarmOn: false}
	if err := m.Update(ctx, rec, ScopeNone); err != nil {
		t.Fatalf("update: %v", err)
	}
	cancels := fn.cancels()
	if len(cancels) != 1 || cancels[0] != id {
		t.Fatalf("expected reminder cancel for %d, got %v", id, cancels)
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ch, unsub := m.Subscribe(4)
	defer unsub()

	if _, err := m.Insert(ctx, "2024-05-01", "gym", "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case st := <-ch:
		if st.Status != StatusSaved {
			t.Fatalf("expected saved status in snapshot, got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered to subscriber")
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	m, _ := newTestManager(t)
	m.Close()
	m.Close() // idempotent

	if err := m.SelectDate(context.Background(), "2024-05-01"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
