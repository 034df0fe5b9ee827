package schedule

import (
	"context"
	"testing"
	"time"

	"planbook/internal/storage"
	logx "planbook/pkg/logx"
)

func newTestRepo(t *testing.T) (*Repository, storage.Store) {
	t.Helper()
	feed := storage.NewFeed()
	st := storage.NewMemory(feed, logx.Nop())
	return NewRepository(st, feed, logx.Nop()), st
}

// recvSnapshot waits for the next emission on a live sequence.
func recvSnapshot(t *testing.T, ch <-chan []storage.Schedule) []storage.Schedule {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("live sequence closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestWatchByDateEmitsInitialSnapshot(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, storage.NewSchedule{Date: "2024-05-01", Text: "gym"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ch, cancel, err := repo.WatchByDate(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	snap := recvSnapshot(t, ch)
	if len(snap) != 1 || snap[0].ID != id {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestWatchByDateReEmitsOnRelevantChangeOnly(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	ch, cancel, err := repo.WatchByDate(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if snap := recvSnapshot(t, ch); len(snap) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", snap)
	}

	// Unrelated date: must not re-emit.
	if _, err := repo.Insert(ctx, storage.NewSchedule{Date: "2024-06-15", Text: "other"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case snap := <-ch:
		t.Fatalf("snapshot emitted for unrelated date: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	id, err := repo.Insert(ctx, storage.NewSchedule{Date: "2024-05-01", Text: "gym"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap := recvSnapshot(t, ch)
	if len(snap) != 1 || snap[0].ID != id {
		t.Fatalf("unexpected snapshot after relevant insert: %+v", snap)
	}
}

func TestWatchCancelClosesSequence(t *testing.T) {
	repo, _ := newTestRepo(t)

	ch, cancel, err := repo.WatchAll(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	recvSnapshot(t, ch) // initial

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A snapshot may have been in flight; the next receive must
			// observe the close.
			if _, ok := <-ch; ok {
				t.Fatal("sequence still open after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sequence not closed after cancel")
	}
}

func TestWatchAllSeesEveryWrite(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	ch, cancel, err := repo.WatchAll(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	recvSnapshot(t, ch) // initial, empty

	if _, err := repo.Insert(ctx, storage.NewSchedule{Date: "2024-05-01"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if snap := recvSnapshot(t, ch); len(snap) != 1 {
		t.Fatalf("expected 1 record, got %+v", snap)
	}

	if _, err := repo.Insert(ctx, storage.NewSchedule{Date: "2024-07-09"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Latest-wins delivery may collapse intermediate snapshots; wait for
	// the one that includes both rows.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := recvSnapshot(t, ch)
		if len(snap) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed both records, last snapshot: %+v", snap)
		}
	}
}
