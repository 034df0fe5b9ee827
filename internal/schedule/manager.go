package schedule

import (
	"context"
	"sync"

	"planbook/internal/storage"
	logx "planbook/pkg/logx"
)

// Scope says whether the active live query is restricted to one date.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeDate
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeDate:
		return "date"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}

// ViewState is the manager-owned state the presentation layer renders.
//
// Snapshots handed out via State()/Subscribe() share their slices with
// later snapshots only by replacement, never in-place mutation; treat
// them as read-only.
type ViewState struct {
	Scope Scope
	Date  string // active date when Scope == ScopeDate

	// Schedules is the visible list. Date scope: the store's snapshot for
	// that date, verbatim. All scope: Groups flattened.
	Schedules []storage.Schedule

	// Groups is populated in all scope: date-ascending groups, id-ascending
	// records within a group.
	Groups []Group

	// KnownDates is the distinct set of dates that have at least one
	// record, maintained by LoadKnownDates independently of Scope.
	KnownDates []string

	// Status is the pending one-shot signal; read it through
	// AcknowledgeStatus, not here.
	Status Status
}

// Notifier schedules a future local alert for a record. Calls are
// fire-and-forget from the manager's point of view: failures are logged
// and never fail the originating write.
type Notifier interface {
	Schedule(id int64, date, timeOfDay, message string) error
	Cancel(id int64)
}

// Manager coordinates presentation intents against the repository and
// owns the observable ViewState. It is a single logical writer: user
// actions arrive sequentially, and the only internal concurrency is the
// watch goroutine feeding snapshots in, which is fenced by a scope
// generation so a superseded watch can never overwrite current state.
type Manager struct {
	repo     *Repository
	notifier Notifier
	log      logx.Logger

	mu     sync.Mutex
	state  ViewState
	closed bool

	scopeGen  uint64 // bumped on every scope switch; stale emissions check it
	stopScope func()
	datesGen  uint64
	stopDates func()
	wg        sync.WaitGroup

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed.
	subsMu sync.Mutex
	subs   []chan ViewState
}

func NewManager(repo *Repository, notifier Notifier, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{repo: repo, notifier: notifier, log: log}
}

// SelectDate switches the active scope to one date. The previous scope's
// subscription is cancelled before the new one takes effect, so at most
// one scope subscription is live and late emissions from the old one are
// discarded. On store failure nothing changes and the error is returned.
func (m *Manager) SelectDate(ctx context.Context, date string) error {
	if err := ValidateDate(date); err != nil {
		return err
	}

	snaps, cancel, err := m.repo.WatchByDate(ctx, date)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.scopeGen++
	gen := m.scopeGen
	if m.stopScope != nil {
		m.stopScope()
	}
	m.stopScope = cancel
	m.state.Scope = ScopeDate
	m.state.Date = date
	m.mu.Unlock()

	m.log.Debug("scope switched", logx.String("scope", "date"), logx.String("date", date))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for snap := range snaps {
			m.applyScoped(gen, func(st *ViewState) {
				st.Schedules = snap
				st.Groups = nil
			})
		}
	}()
	return nil
}

// LoadAll switches the active scope to all records, grouped by date and
// sorted ascending by parsed calendar date.
func (m *Manager) LoadAll(ctx context.Context) error {
	snaps, cancel, err := m.repo.WatchAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.scopeGen++
	gen := m.scopeGen
	if m.stopScope != nil {
		m.stopScope()
	}
	m.stopScope = cancel
	m.state.Scope = ScopeAll
	m.state.Date = ""
	m.mu.Unlock()

	m.log.Debug("scope switched", logx.String("scope", "all"))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for snap := range snaps {
			groups := GroupByDate(snap)
			m.applyScoped(gen, func(st *ViewState) {
				st.Groups = groups
				st.Schedules = Flatten(groups)
			})
		}
	}()
	return nil
}

// LoadKnownDates maintains ViewState.KnownDates from an all-records live
// query. It runs alongside the scope subscription (a calendar can stay
// decorated while a day's list is open) and is replaced, not stacked, if
// called again.
func (m *Manager) LoadKnownDates(ctx context.Context) error {
	snaps, cancel, err := m.repo.WatchAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.datesGen++
	gen := m.datesGen
	if m.stopDates != nil {
		m.stopDates()
	}
	m.stopDates = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for snap := range snaps {
			dates := DistinctDates(snap)
			m.mu.Lock()
			if m.closed || gen != m.datesGen {
				m.mu.Unlock()
				return
			}
			m.state.KnownDates = dates
			st := m.state
			m.mu.Unlock()
			m.publish(st)
		}
	}()
	return nil
}

// Insert validates and persists a new schedule. On success the status
// signal becomes "saved" and, when alarmOn is set, a reminder is handed
// to the notifier (best-effort; a notifier failure does not fail the
// insert, the row is already durable). On failure no status is set.
func (m *Manager) Insert(ctx context.Context, date, text, timeOfDay string, alarmOn bool) (int64, error) {
	if err := ValidateDate(date); err != nil {
		return 0, err
	}
	if err := ValidateTime(timeOfDay); err != nil {
		return 0, err
	}

	id, err := m.repo.Insert(ctx, storage.NewSchedule{Date: date, Text: text, Time: timeOfDay, AlarmOn: alarmOn})
	if err != nil {
		return 0, err
	}

	m.log.Debug("schedule saved",
		logx.Int64("id", id),
		logx.String("date", date),
		logx.Bool("alarm", alarmOn),
	)
	m.setStatus(StatusSaved)
	if alarmOn {
		m.scheduleReminder(id, date, timeOfDay, text)
	}
	return id, nil
}

// Update replaces the full record identified by rec.ID, then re-triggers
// the query for originalScope so the view the user was on refreshes.
// A missing id surfaces as storage.ErrNotFound with state untouched.
// The record's reminder is re-armed or cancelled to match its alarm flag.
func (m *Manager) Update(ctx context.Context, rec storage.Schedule, originalScope Scope) error {
	if err := ValidateDate(rec.Date); err != nil {
		return err
	}
	if err := ValidateTime(rec.Time); err != nil {
		return err
	}

	err := m.repo.UpdateByID(ctx, rec.ID, storage.NewSchedule{Date: rec.Date, Text: rec.Text, Time: rec.Time, AlarmOn: rec.AlarmOn})
	if err != nil {
		return err
	}

	m.refresh(ctx, originalScope, rec.Date)
	m.setStatus(StatusUpdated)

	if m.notifier != nil {
		if rec.AlarmOn {
			m.scheduleReminder(rec.ID, rec.Date, rec.Time, rec.Text)
		} else {
			m.notifier.Cancel(rec.ID)
		}
	}
	return nil
}

// Delete removes the record, re-triggers the query for originalScope and
// sets the "deleted" status. Any pending reminder for the record is
// cancelled.
func (m *Manager) Delete(ctx context.Context, rec storage.Schedule, originalScope Scope) error {
	if err := m.repo.DeleteByID(ctx, rec.ID); err != nil {
		return err
	}

	m.refresh(ctx, originalScope, rec.Date)
	m.setStatus(StatusDeleted)

	if m.notifier != nil {
		m.notifier.Cancel(rec.ID)
	}
	return nil
}

// AcknowledgeStatus atomically reads and clears the pending one-shot
// status. Safe to call when nothing is pending (returns StatusNone).
// Exactly one observation sees each signal; re-renders after that see
// nothing.
func (m *Manager) AcknowledgeStatus() Status {
	m.mu.Lock()
	st := m.state.Status
	m.state.Status = StatusNone
	m.mu.Unlock()
	return st
}

// State returns a snapshot of the current view state.
func (m *Manager) State() ViewState {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	return st
}

// Subscribe registers an observer of view state snapshots. Delivery is
// latest-wins: a slow observer loses intermediate snapshots, never the
// most recent one. The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan ViewState, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan ViewState, buffer)

	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s == ch {
					last := len(m.subs) - 1
					m.subs[i] = m.subs[last]
					m.subs[last] = nil
					m.subs = m.subs[:last]
					close(ch)
					return
				}
			}
		})
	}
	return ch, unsub
}

// Close cancels all live subscriptions and closes observer channels.
// Late emissions racing with Close are discarded; no one observes them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.stopScope != nil {
		m.stopScope()
		m.stopScope = nil
	}
	if m.stopDates != nil {
		m.stopDates()
		m.stopDates = nil
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.subsMu.Lock()
	for i, ch := range m.subs {
		if ch != nil {
			close(ch)
		}
		m.subs[i] = nil
	}
	m.subs = nil
	m.subsMu.Unlock()
}

// refresh re-triggers the live query matching the scope a write came
// from. The write itself already succeeded; a refresh failure only
// delays the view, so it is logged rather than surfaced.
func (m *Manager) refresh(ctx context.Context, scope Scope, date string) {
	var err error
	switch scope {
	case ScopeDate:
		err = m.SelectDate(ctx, date)
	case ScopeAll:
		err = m.LoadAll(ctx)
	default:
		return
	}
	if err != nil {
		m.log.Warn("view refresh failed", logx.String("scope", scope.String()), logx.Err(err))
	}
}

func (m *Manager) scheduleReminder(id int64, date, timeOfDay, text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Schedule(id, date, timeOfDay, text); err != nil {
		m.log.Warn("reminder scheduling failed",
			logx.Int64("id", id),
			logx.String("date", date),
			logx.Err(err),
		)
	}
}

func (m *Manager) setStatus(st Status) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state.Status = st
	cp := m.state
	m.mu.Unlock()
	m.publish(cp)
}

// applyScoped commits a watch emission if it still belongs to the active
// scope generation. Emissions from a cancelled scope are dropped here,
// which is what keeps a late date-scoped snapshot from clobbering the
// list after the user switched days.
func (m *Manager) applyScoped(gen uint64, mutate func(*ViewState)) {
	m.mu.Lock()
	if m.closed || gen != m.scopeGen {
		m.mu.Unlock()
		return
	}
	mutate(&m.state)
	st := m.state
	m.mu.Unlock()
	m.publish(st)
}

func (m *Manager) publish(st ViewState) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Always try to deliver the latest snapshot. If the subscriber is
		// slow and its buffer is full, drop ONE oldest item then push.
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
