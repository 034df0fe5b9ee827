package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Op identifies the kind of confirmed write a Change describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is published on the Feed after a write is durable.
//
// Dates lists every date the write touched: one entry for inserts and
// deletes, up to two for an update that moved a row to another date.
type Change struct {
	Op    Op
	ID    int64
	Dates []string
	Time  time.Time
}

// Touches reports whether the change affects the given date.
func (c Change) Touches(date string) bool {
	for _, d := range c.Dates {
		if d == date {
			return true
		}
	}
	return false
}

// Feed is an in-memory fanout of storage changes.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop changes (bounded backpressure); live
//     queries re-read the store per change, so a dropped change only
//     delays a snapshot until the next one.
//
// It intentionally does not own any background goroutines.
type Feed struct {
	mu   sync.RWMutex
	subs map[uint64]chan Change
	seq  atomic.Uint64
}

func NewFeed() *Feed {
	return &Feed{subs: map[uint64]chan Change{}}
}

func (f *Feed) Publish(c Change) {
	if c.Time.IsZero() {
		c.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	f.mu.RLock()
	chs := make([]chan Change, 0, len(f.subs))
	for _, ch := range f.subs {
		chs = append(chs, ch)
	}
	f.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- c:
			default:
			}
		}()
	}
}

func (f *Feed) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Change, buffer)
	id := f.seq.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
