package queue_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/queue"
)

type fired struct {
	item domain.QueueItem
	at   time.Time
}

// recorder is a DispatchFunc that reports every item it is handed.
// recorded is echoed back in the result, as if the ledger had the item.
type recorder struct {
	ch       chan fired
	block    chan struct{}
	recorded bool
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan fired, 64)}
}

func (r *recorder) dispatch(ctx context.Context, item domain.QueueItem) domain.DispatchResult {
	r.ch <- fired{item: item, at: time.Now()}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	res := domain.DispatchResult{ItemID: item.ItemID, SubjectID: item.SubjectID, Recorded: r.recorded}
	if r.recorded {
		res.Outcome = domain.OutcomeRelayed
	} else {
		res.Outcome, res.Reason = domain.OutcomeFailed, "fetch activity"
	}
	return res
}

// waitGone polls until the queue holds no entry for id.
func waitGone(t *testing.T, q *queue.DelayQueue, id string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := q.Get(id); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected entry %s to be removed", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (r *recorder) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected dispatch of item %s", f.item.ItemID)
	case <-time.After(within):
	}
}

func (r *recorder) next(t *testing.T, within time.Duration) fired {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(within):
		t.Fatal("expected a dispatch, got none")
		return fired{}
	}
}

func payload(title string) domain.Payload {
	return domain.Payload{AspectType: domain.AspectCreate, Updates: map[string]string{"title": title}}
}

func newQueue(t *testing.T, rec *recorder) *queue.DelayQueue {
	t.Helper()
	q := queue.New(queue.Config{Delay: time.Minute}, rec.dispatch, zap.NewNop())
	t.Cleanup(q.Shutdown)
	return q
}

func TestDelayQueue_EnqueueFiresAfterDelay(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, rec)

	start := time.Now()
	if err := q.Enqueue("1", "7", payload("ride"), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	item, ok := q.Get("1")
	if !ok || item.Status != domain.ItemQueued {
		t.Fatalf("expected queued entry, got %+v ok=%v", item, ok)
	}

	f := rec.next(t, time.Second)
	if elapsed := f.at.Sub(start); elapsed < 100*time.Millisecond {
		t.Fatalf("dispatched after %v, before the delay", elapsed)
	}
	if f.item.Status != domain.ItemDispatching {
		t.Fatalf("expected dispatching status on hand-off, got %s", f.item.Status)
	}
	if f.item.SubjectID != "7" {
		t.Fatalf("expected subject 7, got %s", f.item.SubjectID)
	}
}

// TestDelayQueue_UpdateKeepsSchedule: enqueue with a 500ms delay, update at
// 200ms, the entry still fires at 500ms and carries the new payload.
func TestDelayQueue_UpdateKeepsSchedule(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, rec)

	const delay = 500 * time.Millisecond
	start := time.Now()
	if err := q.Enqueue("1", "7", payload("old"), delay); err != nil {
		t.Fatal(err)
	}
	before, _ := q.Get("1")

	time.Sleep(200 * time.Millisecond)
	if !q.UpdateInPlace("1", payload("new")) {
		t.Fatal("expected update of a queued entry to succeed")
	}

	after, _ := q.Get("1")
	if !after.ScheduledAt.Equal(before.ScheduledAt) {
		t.Fatalf("update moved ScheduledAt from %v to %v", before.ScheduledAt, after.ScheduledAt)
	}

	f := rec.next(t, 2*time.Second)
	elapsed := f.at.Sub(start)
	if elapsed < delay || elapsed > delay+150*time.Millisecond {
		t.Fatalf("expected dispatch at ~%v, got %v", delay, elapsed)
	}
	if f.item.Payload.Updates["title"] != "new" {
		t.Fatalf("expected dispatch with updated payload, got %v", f.item.Payload.Updates)
	}
}

func TestDelayQueue_DoubleEnqueueRejected(t *testing.T) {
	q := newQueue(t, newRecorder())

	if err := q.Enqueue("1", "7", payload("a"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("1", "7", payload("b"), time.Minute); !errors.Is(err, domain.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if st := q.Stats(); st.Queued != 1 {
		t.Fatalf("expected exactly one entry, got %d", st.Queued)
	}
	item, _ := q.Get("1")
	if item.Payload.Updates["title"] != "a" {
		t.Fatal("rejected enqueue must not touch the existing entry")
	}
}

func TestDelayQueue_UpdateUnknownReturnsFalse(t *testing.T) {
	q := newQueue(t, newRecorder())
	if q.UpdateInPlace("missing", payload("x")) {
		t.Fatal("expected false for an item that was never queued")
	}
}

func TestDelayQueue_CancelBeforeFire(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, rec)

	if err := q.Enqueue("1", "7", payload("a"), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !q.Cancel("1") {
		t.Fatal("expected first cancel to succeed")
	}
	if q.Cancel("1") {
		t.Fatal("expected second cancel to be a no-op")
	}
	if q.Cancel("never-queued") {
		t.Fatal("expected cancel of an unknown id to be a no-op")
	}

	rec.expectNone(t, 250*time.Millisecond)
	if _, ok := q.Get("1"); ok {
		t.Fatal("expected entry to be gone after cancel")
	}
}

func TestDelayQueue_ReenqueueAfterCancel(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, rec)

	_ = q.Enqueue("1", "7", payload("first"), 50*time.Millisecond)
	q.Cancel("1")
	if err := q.Enqueue("1", "7", payload("second"), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	f := rec.next(t, time.Second)
	if f.item.Payload.Updates["title"] != "second" {
		t.Fatalf("expected only the re-created entry to fire, got %v", f.item.Payload.Updates)
	}
	rec.expectNone(t, 150*time.Millisecond)
}

func TestDelayQueue_ImmediateMode(t *testing.T) {
	rec := newRecorder()
	q := queue.New(queue.Config{Delay: 0}, rec.dispatch, zap.NewNop())
	defer q.Shutdown()

	if err := q.Enqueue("1", "7", payload("now"), q.Delay()); err != nil {
		t.Fatal(err)
	}

	// Synchronous: the dispatch already happened when Enqueue returned.
	select {
	case f := <-rec.ch:
		if f.item.ItemID != "1" {
			t.Fatalf("unexpected item %s", f.item.ItemID)
		}
	default:
		t.Fatal("expected synchronous dispatch with zero delay")
	}
	if _, ok := q.Get("1"); ok {
		t.Fatal("expected entry to be removed after the dispatch returned")
	}
}

func TestDelayQueue_EntryHeldWhileDispatching(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	q := newQueue(t, rec)

	_ = q.Enqueue("1", "7", payload("a"), 20*time.Millisecond)
	rec.next(t, time.Second)

	item, ok := q.Get("1")
	if !ok || item.Status != domain.ItemDispatching {
		t.Fatalf("expected dispatching entry, got %+v ok=%v", item, ok)
	}
	if q.UpdateInPlace("1", payload("late")) {
		t.Fatal("update must not apply to a dispatching entry")
	}
	if err := q.Enqueue("1", "7", payload("dup"), time.Minute); !errors.Is(err, domain.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued while dispatching, got %v", err)
	}
	if st := q.Stats(); st.Dispatching != 1 || st.Queued != 0 {
		t.Fatalf("unexpected stats while dispatching: %+v", st)
	}

	close(rec.block)
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := q.Get("1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected entry removal after dispatch returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDelayQueue_RedeliveredEntryRearmedAfterUnrecordedDispatch(t *testing.T) {
	const delay = 80 * time.Millisecond
	rec := newRecorder()
	rec.block = make(chan struct{})
	q := queue.New(queue.Config{Delay: delay}, rec.dispatch, zap.NewNop())
	t.Cleanup(q.Shutdown)

	_ = q.Enqueue("1", "7", payload("a"), 10*time.Millisecond)
	rec.next(t, time.Second)

	if !q.Redeliver("1", payload("newer")) {
		t.Fatal("expected redelivery onto a dispatching entry to be accepted")
	}
	released := time.Now()
	close(rec.block)

	again := rec.next(t, time.Second)
	if again.item.Payload.Updates["title"] != "newer" {
		t.Fatalf("expected re-armed entry to carry the redelivered payload, got %+v", again.item.Payload)
	}
	if waited := again.at.Sub(released); waited < delay-10*time.Millisecond {
		t.Fatalf("expected re-armed entry to wait the configured delay, fired after %v", waited)
	}
	waitGone(t, q, "1")
	rec.expectNone(t, 2*delay)
}

func TestDelayQueue_RedeliveryNotRearmed(t *testing.T) {
	tests := []struct {
		name     string
		recorded bool
		cancel   bool
	}{
		{"dispatch recorded in ledger", true, false},
		{"cancelled mid-dispatch", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := newRecorder()
			rec.block = make(chan struct{})
			rec.recorded = tc.recorded
			q := queue.New(queue.Config{Delay: 20 * time.Millisecond}, rec.dispatch, zap.NewNop())
			t.Cleanup(q.Shutdown)

			_ = q.Enqueue("1", "7", payload("a"), 10*time.Millisecond)
			rec.next(t, time.Second)
			if !q.Redeliver("1", payload("newer")) {
				t.Fatal("expected redelivery to be accepted")
			}
			if tc.cancel {
				q.Cancel("1")
			}
			close(rec.block)

			waitGone(t, q, "1")
			rec.expectNone(t, 150*time.Millisecond)
		})
	}
}

func TestDelayQueue_RedeliverRequiresDispatchingEntry(t *testing.T) {
	q := newQueue(t, newRecorder())

	if q.Redeliver("missing", payload("x")) {
		t.Fatal("redelivery of an unknown item must be refused")
	}
	_ = q.Enqueue("1", "7", payload("a"), time.Hour)
	if q.Redeliver("1", payload("x")) {
		t.Fatal("redelivery of a queued entry must be refused; UpdateInPlace covers it")
	}
}

func TestDelayQueue_CancelWhileDispatching(t *testing.T) {
	var (
		mu       sync.Mutex
		ctxErr   error
		started  = make(chan struct{})
		finished = make(chan struct{})
	)
	dispatch := func(ctx context.Context, item domain.QueueItem) domain.DispatchResult {
		close(started)
		<-ctx.Done()
		mu.Lock()
		ctxErr = ctx.Err()
		mu.Unlock()
		close(finished)
		return domain.DispatchResult{ItemID: item.ItemID, Outcome: domain.OutcomeDiscarded, Reason: "cancelled"}
	}
	q := queue.New(queue.Config{}, dispatch, zap.NewNop())
	defer q.Shutdown()

	_ = q.Enqueue("1", "7", payload("a"), 10*time.Millisecond)
	<-started

	if !q.Cancel("1") {
		t.Fatal("expected cancel of a dispatching entry to succeed")
	}
	<-finished

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("expected dispatch context to be cancelled, got %v", ctxErr)
	}
}

func TestDelayQueue_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := newRecorder()
	q := queue.New(queue.Config{Delay: 100 * time.Millisecond}, rec.dispatch, zap.NewNop())

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(id, "7", payload(id), q.Delay()); err != nil {
			t.Fatal(err)
		}
	}
	q.Shutdown()

	if st := q.Stats(); st.Queued != 0 || st.Dispatching != 0 {
		t.Fatalf("expected empty queue after shutdown, got %+v", st)
	}
	rec.expectNone(t, 250*time.Millisecond)

	if err := q.Enqueue("4", "7", payload("4"), time.Second); !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	q.Shutdown()
}

func TestDelayQueue_Stats(t *testing.T) {
	q := newQueue(t, newRecorder())

	if st := q.Stats(); st.Queued != 0 || st.OldestEnqueuedAt != nil || st.NextScheduledAt != nil {
		t.Fatalf("unexpected stats on empty queue: %+v", st)
	}

	_ = q.Enqueue("1", "7", payload("a"), time.Hour)
	time.Sleep(2 * time.Millisecond)
	_ = q.Enqueue("2", "7", payload("b"), time.Minute)

	first, _ := q.Get("1")
	second, _ := q.Get("2")

	st := q.Stats()
	if st.Queued != 2 || st.Delay != time.Minute {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if !st.OldestEnqueuedAt.Equal(first.EnqueuedAt) {
		t.Fatalf("expected oldest enqueue %v, got %v", first.EnqueuedAt, *st.OldestEnqueuedAt)
	}
	if !st.NextScheduledAt.Equal(second.ScheduledAt) {
		t.Fatalf("expected nearest schedule %v, got %v", second.ScheduledAt, *st.NextScheduledAt)
	}
}

// TestDelayQueue_OneEntryPerItem drives random enqueue/update/cancel
// sequences on one id and checks the single-entry invariant after each step.
func TestDelayQueue_OneEntryPerItem(t *testing.T) {
	q := newQueue(t, newRecorder())
	rng := rand.New(rand.NewSource(42))

	var scheduled time.Time
	for step := 0; step < 500; step++ {
		switch rng.Intn(3) {
		case 0:
			err := q.Enqueue("1", "7", payload("e"), time.Hour)
			if err != nil && !errors.Is(err, domain.ErrAlreadyQueued) {
				t.Fatalf("step %d: unexpected error %v", step, err)
			}
			if err == nil {
				item, _ := q.Get("1")
				scheduled = item.ScheduledAt
			}
		case 1:
			if q.UpdateInPlace("1", payload("u")) {
				item, _ := q.Get("1")
				if !item.ScheduledAt.Equal(scheduled) {
					t.Fatalf("step %d: update moved ScheduledAt", step)
				}
			}
		case 2:
			q.Cancel("1")
		}
		if st := q.Stats(); st.Queued+st.Dispatching > 1 {
			t.Fatalf("step %d: %d entries for one item", step, st.Queued+st.Dispatching)
		}
	}
}
