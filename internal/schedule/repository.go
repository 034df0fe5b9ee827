package schedule

import (
	"context"

	"planbook/internal/storage"
	logx "planbook/pkg/logx"
)

// Repository is a thin forwarding layer over the store plus live queries
// built on the storage change feed.
//
// Write calls return when the store has confirmed persistence, not when
// enqueued. No caching, no retry; store errors propagate verbatim.
type Repository struct {
	store storage.Store
	feed  *storage.Feed
	log   logx.Logger
}

func NewRepository(store storage.Store, feed *storage.Feed, log logx.Logger) *Repository {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repository{store: store, feed: feed, log: log}
}

func (r *Repository) Insert(ctx context.Context, n storage.NewSchedule) (int64, error) {
	return r.store.Insert(ctx, n)
}

func (r *Repository) UpdateByID(ctx context.Context, id int64, n storage.NewSchedule) error {
	return r.store.UpdateByID(ctx, id, n)
}

func (r *Repository) DeleteByID(ctx context.Context, id int64) error {
	return r.store.DeleteByID(ctx, id)
}

func (r *Repository) ListByDate(ctx context.Context, date string) ([]storage.Schedule, error) {
	return r.store.ListByDate(ctx, date)
}

func (r *Repository) ListAll(ctx context.Context) ([]storage.Schedule, error) {
	return r.store.ListAll(ctx)
}

func (r *Repository) Dates(ctx context.Context) ([]string, error) {
	return r.store.Dates(ctx)
}

// WatchByDate returns a live sequence for one date: the initial snapshot
// is already queued on the returned channel, and a fresh snapshot follows
// every confirmed write touching that date. Changes on other dates do not
// re-emit.
//
// The cancel func releases the feed subscription and closes the channel;
// it must be called on every exit path.
func (r *Repository) WatchByDate(ctx context.Context, date string) (<-chan []storage.Schedule, func(), error) {
	return r.watch(ctx, func(c storage.Change) bool { return c.Touches(date) },
		func(qctx context.Context) ([]storage.Schedule, error) { return r.store.ListByDate(qctx, date) })
}

// WatchAll is WatchByDate without the date restriction.
func (r *Repository) WatchAll(ctx context.Context) (<-chan []storage.Schedule, func(), error) {
	return r.watch(ctx, func(storage.Change) bool { return true },
		func(qctx context.Context) ([]storage.Schedule, error) { return r.store.ListAll(qctx) })
}

func (r *Repository) watch(ctx context.Context, relevant func(storage.Change) bool, query func(context.Context) ([]storage.Schedule, error)) (<-chan []storage.Schedule, func(), error) {
	// Subscribe before the initial query so a write landing between the
	// two shows up as a change and triggers a re-read.
	changes, unsub := r.feed.Subscribe(16)

	initial, err := query(ctx)
	if err != nil {
		unsub()
		return nil, nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	stop := func() {
		cancel()
		unsub()
	}

	out := make(chan []storage.Schedule, 1)
	out <- initial

	go func() {
		defer close(out)
		for {
			select {
			case <-wctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if !relevant(c) {
					continue
				}
				if r.log.Enabled(logx.LevelTrace) {
					r.log.Trace("live query re-read", logx.Any("change", c))
				}
				snap, err := query(wctx)
				if err != nil {
					// Keep the last-known-good snapshot; the next change
					// triggers another read.
					if wctx.Err() == nil {
						r.log.Warn("live query re-read failed", logx.Err(err))
					}
					continue
				}
				// Latest-wins delivery: if the consumer is behind, drop the
				// stale queued snapshot and push the new one.
				select {
				case out <- snap:
				default:
					select {
					case <-out:
					default:
					}
					select {
					case out <- snap:
					default:
					}
				}
			}
		}
	}()

	return out, stop, nil
}
