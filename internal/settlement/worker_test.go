package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PariLedger/internal/settlement"
)

// fakeProcessor records which items it saw and fails the game ids it is
// told to fail.
type fakeProcessor struct {
	mu      sync.Mutex
	seen    []int64
	failFor map[uuid.UUID]error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{failFor: make(map[uuid.UUID]error)}
}

func (f *fakeProcessor) ProcessJob(_ context.Context, item *settlement.QueueItem) (*settlement.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, item.ID)
	if err, ok := f.failFor[item.GameID]; ok {
		return nil, err
	}
	return &settlement.JobResult{QueueItemID: item.ID, GameID: item.GameID}, nil
}

// ============================================================================
// Test: retry backoff schedule
// ============================================================================

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 30 * time.Minute},
		{4, 2 * time.Hour},
		{5, 12 * time.Hour},
		{6, 12 * time.Hour},
		{50, 12 * time.Hour},
		{0, 1 * time.Minute},
		{-3, 1 * time.Minute},
	}
	for _, tc := range cases {
		if got := settlement.RetryDelay(tc.attempt); got != tc.want {
			t.Errorf("RetryDelay(%d): got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

// ============================================================================
// Test: batch processing
// ============================================================================

func TestWorker_ProcessAll(t *testing.T) {
	q := newMemQueue()
	a := q.add(uuid.New(), settlement.OutcomeHome)
	b := q.add(uuid.New(), settlement.OutcomeAway)
	c := q.add(uuid.New(), settlement.OutcomeCanceled)

	proc := newFakeProcessor()
	w := settlement.NewWorker(q, proc, "w-1", zerolog.Nop(), nil)

	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 3 || stats.Succeeded != 3 || stats.Failed != 0 {
		t.Errorf("stats: %+v", stats)
	}

	for _, item := range []*settlement.QueueItem{a, b, c} {
		got := q.get(item.ID)
		if got.Status != settlement.QueueDone {
			t.Errorf("item %d: status %s, want DONE", item.ID, got.Status)
		}
		if got.LockedBy != nil {
			t.Errorf("item %d: lock not released", item.ID)
		}
	}
}

func TestWorker_MaxItemsCap(t *testing.T) {
	q := newMemQueue()
	for i := 0; i < 5; i++ {
		q.add(uuid.New(), settlement.OutcomeHome)
	}

	w := settlement.NewWorker(q, newFakeProcessor(), "w-1", zerolog.Nop(), nil)
	stats, err := w.ProcessAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 2 {
		t.Errorf("processed: got %d, want 2", stats.Processed)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	w := settlement.NewWorker(newMemQueue(), newFakeProcessor(), "w-1", zerolog.Nop(), nil)
	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("processed: got %d, want 0", stats.Processed)
	}
}

func TestWorker_CancelledContext(t *testing.T) {
	q := newMemQueue()
	q.add(uuid.New(), settlement.OutcomeHome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := settlement.NewWorker(q, newFakeProcessor(), "w-1", zerolog.Nop(), nil)
	stats, err := w.ProcessAll(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", err)
	}
	if stats.Processed != 0 {
		t.Errorf("processed after cancel: got %d", stats.Processed)
	}
}

// ============================================================================
// Test: failure path and backoff
// ============================================================================

func TestWorker_FailureSchedulesRetry(t *testing.T) {
	q := newMemQueue()
	gameID := uuid.New()
	item := q.add(gameID, settlement.OutcomeHome)

	proc := newFakeProcessor()
	proc.failFor[gameID] = errors.New("market row vanished")

	w := settlement.NewWorker(q, proc, "w-1", zerolog.Nop(), nil)
	before := time.Now()
	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 1 || stats.Failed != 1 {
		t.Errorf("stats: %+v", stats)
	}

	got := q.get(item.ID)
	if got.Status != settlement.QueueFailed {
		t.Fatalf("status: got %s, want FAILED", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", got.Attempts)
	}
	if got.Reason != "market row vanished" {
		t.Errorf("reason: got %q", got.Reason)
	}
	// First failure backs off one minute.
	wantNext := before.Add(settlement.RetryDelay(1))
	if got.NextAttemptAt.Before(wantNext.Add(-5*time.Second)) || got.NextAttemptAt.After(wantNext.Add(5*time.Second)) {
		t.Errorf("next attempt: got %s, want ~%s", got.NextAttemptAt, wantNext)
	}
	if got.LockedBy != nil {
		t.Error("failed item should release its lock")
	}
}

func TestWorker_FailedItemNotRelockedBeforeBackoff(t *testing.T) {
	q := newMemQueue()
	gameID := uuid.New()
	q.add(gameID, settlement.OutcomeHome)

	proc := newFakeProcessor()
	proc.failFor[gameID] = errors.New("boom")

	w := settlement.NewWorker(q, proc, "w-1", zerolog.Nop(), nil)
	if _, err := w.ProcessAll(context.Background(), 10); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// The item now waits a minute; a second batch must not pick it up.
	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("second batch processed %d items, want 0", stats.Processed)
	}
}

// ============================================================================
// Test: lock exclusion between workers
// ============================================================================

func TestWorker_NoDoubleLock(t *testing.T) {
	q := newMemQueue()
	q.add(uuid.New(), settlement.OutcomeHome)

	now := time.Now()
	first, err := q.LockNext(context.Background(), "w-1", now)
	if err != nil || first == nil {
		t.Fatalf("first lock: item=%v err=%v", first, err)
	}
	second, err := q.LockNext(context.Background(), "w-2", now)
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if second != nil {
		t.Fatal("two workers locked the same item")
	}
}

// ============================================================================
// Test: stale lock reclamation
// ============================================================================

func TestWorker_StaleReclaimDisabledByDefault(t *testing.T) {
	q := newMemQueue()
	item := q.add(uuid.New(), settlement.OutcomeHome)

	// Orphan the item: locked long ago, holder gone.
	locked, _ := q.LockNext(context.Background(), "dead-worker", time.Now())
	if locked == nil || locked.ID != item.ID {
		t.Fatal("fixture lock failed")
	}
	q.orphan(item.ID, 2*time.Hour)

	w := settlement.NewWorker(q, newFakeProcessor(), "w-1", zerolog.Nop(), nil)
	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("default worker touched an orphaned PROCESSING item")
	}
	if q.get(item.ID).Status != settlement.QueueProcessing {
		t.Error("orphaned item should stay PROCESSING without reclamation")
	}
}

func TestWorker_StaleReclaimRequeuesAndProcesses(t *testing.T) {
	q := newMemQueue()
	item := q.add(uuid.New(), settlement.OutcomeHome)

	locked, _ := q.LockNext(context.Background(), "dead-worker", time.Now())
	if locked == nil {
		t.Fatal("fixture lock failed")
	}
	q.orphan(item.ID, 2*time.Hour)

	w := settlement.NewWorker(q, newFakeProcessor(), "w-1", zerolog.Nop(), nil).
		WithStaleLockReclaim(30 * time.Minute)
	stats, err := w.ProcessAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if q.get(item.ID).Status != settlement.QueueDone {
		t.Errorf("reclaimed item not finished: %s", q.get(item.ID).Status)
	}
}
