package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// DispatchFunc handles one item whose delay has elapsed. ctx is cancelled
// when the item is cancelled mid-dispatch or the queue shuts down. The
// result's Recorded flag tells the queue whether a redelivered entry still
// needs another attempt.
type DispatchFunc func(ctx context.Context, item domain.QueueItem) domain.DispatchResult

// Config carries the delay applied to freshly created activities.
// Zero disables delaying: items dispatch synchronously on enqueue.
type Config struct {
	Delay time.Duration
}

type entry struct {
	item      domain.QueueItem
	timer     *time.Timer
	gen       uint64
	cancelled bool
	ctx       context.Context
	cancel    context.CancelFunc

	// Set by Redeliver while dispatching; pending is the newest payload.
	redelivered bool
	pending     domain.Payload
}

// DelayQueue holds at most one pending entry per item id, each with its
// own timer. Entries stay in the map while dispatching so a second entry
// for the same id cannot be created until the first has finished.
type DelayQueue struct {
	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	closed  bool

	delay    time.Duration
	dispatch DispatchFunc
	base     context.Context
	stop     context.CancelFunc
	now      func() time.Time
	logger   *zap.Logger
}

func New(cfg Config, dispatch DispatchFunc, logger *zap.Logger) *DelayQueue {
	base, stop := context.WithCancel(context.Background())
	return &DelayQueue{
		entries:  make(map[string]*entry),
		delay:    cfg.Delay,
		dispatch: dispatch,
		base:     base,
		stop:     stop,
		now:      time.Now,
		logger:   logger,
	}
}

// Delay returns the configured default delay.
func (q *DelayQueue) Delay() time.Duration { return q.delay }

// Enqueue creates the entry for itemID and arms its timer. An existing
// entry is a usage error: callers refresh data with UpdateInPlace.
// A zero delay dispatches in the caller's goroutine before returning.
func (q *DelayQueue) Enqueue(itemID, subjectID string, payload domain.Payload, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	if _, ok := q.entries[itemID]; ok {
		q.mu.Unlock()
		return domain.ErrAlreadyQueued
	}

	now := q.now()
	q.gen++
	ctx, cancel := context.WithCancel(q.base)
	e := &entry{
		item: domain.QueueItem{
			ItemID:      itemID,
			SubjectID:   subjectID,
			EnqueuedAt:  now,
			ScheduledAt: now.Add(delay),
			Payload:     payload,
			Status:      domain.ItemQueued,
		},
		gen:    q.gen,
		ctx:    ctx,
		cancel: cancel,
	}
	q.entries[itemID] = e

	if delay <= 0 {
		e.item.Status = domain.ItemDispatching
		item := e.item
		q.mu.Unlock()
		q.run(e, item)
		return nil
	}

	gen := e.gen
	e.timer = time.AfterFunc(delay, func() { q.fire(itemID, gen) })
	q.mu.Unlock()

	q.logger.Debug("item queued",
		zap.String("item_id", itemID),
		zap.String("subject_id", subjectID),
		zap.Time("scheduled_at", e.item.ScheduledAt))
	return nil
}

// UpdateInPlace overwrites the payload of a queued entry. The timer and
// ScheduledAt are left alone. Returns false when there is no queued entry.
func (q *DelayQueue) UpdateInPlace(itemID string, payload domain.Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[itemID]
	if !ok || e.item.Status != domain.ItemQueued {
		return false
	}
	e.item.Payload = payload
	return true
}

// Redeliver records a fresher payload for an entry that is currently
// dispatching. If that dispatch ends without a ledger record the entry is
// re-armed with the pending payload and the configured delay. Returns false
// when the entry is not dispatching or was cancelled.
func (q *DelayQueue) Redeliver(itemID string, payload domain.Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[itemID]
	if !ok || e.cancelled || e.item.Status != domain.ItemDispatching {
		return false
	}
	e.redelivered = true
	e.pending = payload
	return true
}

// Cancel stops the entry's timer and removes it. For an entry already
// dispatching it cancels the dispatch context instead; the entry is
// removed when the dispatch returns. Returns false when there was nothing
// left to cancel.
func (q *DelayQueue) Cancel(itemID string) bool {
	q.mu.Lock()
	e, ok := q.entries[itemID]
	if !ok || e.cancelled {
		q.mu.Unlock()
		return false
	}
	e.cancelled = true
	if e.item.Status == domain.ItemQueued {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(q.entries, itemID)
	}
	q.mu.Unlock()

	e.cancel()
	q.logger.Debug("item cancelled", zap.String("item_id", itemID))
	return true
}

// fire runs on the timer goroutine. gen guards against a stale callback
// whose entry was cancelled and re-created after the timer had fired.
func (q *DelayQueue) fire(itemID string, gen uint64) {
	q.mu.Lock()
	e, ok := q.entries[itemID]
	if !ok || e.gen != gen || e.item.Status != domain.ItemQueued {
		q.mu.Unlock()
		return
	}
	e.item.Status = domain.ItemDispatching
	item := e.item
	q.mu.Unlock()

	q.run(e, item)
}

// run hands item off and removes its entry once the dispatch returns.
// An entry redelivered mid-dispatch is re-armed instead, unless the
// dispatch left a ledger record.
func (q *DelayQueue) run(e *entry, item domain.QueueItem) {
	var res domain.DispatchResult
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch panicked",
				zap.String("item_id", item.ItemID),
				zap.String("subject_id", item.SubjectID),
				zap.Any("panic", r))
		}
		q.mu.Lock()
		rearmed := false
		if cur, ok := q.entries[item.ItemID]; ok && cur == e {
			if e.redelivered && !e.cancelled && !q.closed && !res.Recorded {
				q.rearmLocked(e)
				rearmed = true
			} else {
				delete(q.entries, item.ItemID)
			}
		}
		q.mu.Unlock()
		e.cancel()

		if rearmed {
			q.logger.Info("redelivered item re-queued after unrecorded dispatch",
				zap.String("item_id", item.ItemID),
				zap.String("subject_id", item.SubjectID),
				zap.String("outcome", string(res.Outcome)),
				zap.Duration("delay", q.delay))
		}
	}()
	res = q.dispatch(e.ctx, item)
}

// rearmLocked replaces the finished entry e with a fresh queued one carrying
// the redelivered payload. The timer always runs on its own goroutine, even
// for a zero delay, so run never recurses. Must be called with mu held.
func (q *DelayQueue) rearmLocked(e *entry) {
	now := q.now()
	q.gen++
	ctx, cancel := context.WithCancel(q.base)
	next := &entry{
		item: domain.QueueItem{
			ItemID:      e.item.ItemID,
			SubjectID:   e.item.SubjectID,
			EnqueuedAt:  now,
			ScheduledAt: now.Add(q.delay),
			Payload:     e.pending,
			Status:      domain.ItemQueued,
		},
		gen:    q.gen,
		ctx:    ctx,
		cancel: cancel,
	}
	q.entries[next.item.ItemID] = next

	itemID, gen := next.item.ItemID, next.gen
	next.timer = time.AfterFunc(max(q.delay, 0), func() { q.fire(itemID, gen) })
}

// Get returns a copy of the entry for itemID.
func (q *DelayQueue) Get(itemID string) (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[itemID]
	if !ok {
		return domain.QueueItem{}, false
	}
	return e.item, true
}

// Shutdown stops every timer and drops every entry without dispatching
// anything early. In-flight dispatches see their context cancelled.
func (q *DelayQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := len(q.entries)
	for id, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(q.entries, id)
	}
	q.mu.Unlock()

	q.stop()
	q.logger.Info("delay queue shut down", zap.Int("dropped", pending))
}

// Stats is a read-only view of the queue.
type Stats struct {
	Queued           int           `json:"queued"`
	Dispatching      int           `json:"dispatching"`
	OldestEnqueuedAt *time.Time    `json:"oldest_enqueued_at,omitempty"`
	NextScheduledAt  *time.Time    `json:"next_scheduled_at,omitempty"`
	Delay            time.Duration `json:"delay"`
}

func (q *DelayQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{Delay: q.delay}
	for _, e := range q.entries {
		if e.item.Status == domain.ItemDispatching {
			st.Dispatching++
			continue
		}
		st.Queued++
		if st.OldestEnqueuedAt == nil || e.item.EnqueuedAt.Before(*st.OldestEnqueuedAt) {
			t := e.item.EnqueuedAt
			st.OldestEnqueuedAt = &t
		}
		if st.NextScheduledAt == nil || e.item.ScheduledAt.Before(*st.NextScheduledAt) {
			t := e.item.ScheduledAt
			st.NextScheduledAt = &t
		}
	}
	return st
}
