package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	logx "planbook/pkg/logx"
)

// memStore keeps schedules in a map; same contract as the sqlite driver,
// including monotonic never-reused ids and change feed publishes.
type memStore struct {
	feed *Feed
	log  logx.Logger

	mu   sync.RWMutex
	seq  int64
	rows map[int64]Schedule
}

// NewMemory returns an in-process store. Tests use it directly so they
// don't need a database file, and Open() selects it for driver "memory".
func NewMemory(feed *Feed, log logx.Logger) Store {
	if feed == nil {
		feed = NewFeed()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &memStore{feed: feed, log: log, rows: map[int64]Schedule{}}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) Insert(ctx context.Context, n NewSchedule) (int64, error) {
	_ = ctx
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.rows[id] = Schedule{ID: id, Date: n.Date, Text: n.Text, Time: n.Time, AlarmOn: n.AlarmOn}
	s.mu.Unlock()

	s.feed.Publish(Change{Op: OpInsert, ID: id, Dates: []string{n.Date}})
	return id, nil
}

func (s *memStore) UpdateByID(ctx context.Context, id int64, n NewSchedule) error {
	_ = ctx
	s.mu.Lock()
	prev, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update schedule %d: %w", id, ErrNotFound)
	}
	s.rows[id] = Schedule{ID: id, Date: n.Date, Text: n.Text, Time: n.Time, AlarmOn: n.AlarmOn}
	s.mu.Unlock()

	dates := []string{n.Date}
	if prev.Date != n.Date {
		dates = append(dates, prev.Date)
	}
	s.feed.Publish(Change{Op: OpUpdate, ID: id, Dates: dates})
	return nil
}

func (s *memStore) DeleteByID(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	prev, ok := s.rows[id]
	if ok {
		delete(s.rows, id)
	}
	s.mu.Unlock()

	if !ok {
		// Already gone.
		return nil
	}
	s.feed.Publish(Change{Op: OpDelete, ID: id, Dates: []string{prev.Date}})
	return nil
}

func (s *memStore) ListByDate(ctx context.Context, date string) ([]Schedule, error) {
	_ = ctx
	s.mu.RLock()
	var out []Schedule
	for _, r := range s.rows {
		if r.Date == date {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListAll(ctx context.Context) ([]Schedule, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]Schedule, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Dates(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	seen := map[string]struct{}{}
	for _, r := range s.rows {
		seen[r.Date] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}
