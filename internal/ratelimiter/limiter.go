package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// Config holds every budget the limiter enforces plus the fixed gap
// between consecutive admissions.
type Config struct {
	Windows []WindowConfig
	Spacing time.Duration
}

// DefaultConfig stays under the upstream's documented 100 calls / 15 min
// and 1000 calls / day.
func DefaultConfig() Config {
	return Config{
		Windows: []WindowConfig{
			{Label: "short", Limit: 80, Window: 15 * time.Minute},
			{Label: "daily", Limit: 900, Window: 24 * time.Hour},
		},
		Spacing: 100 * time.Millisecond,
	}
}

// Op is a unit of upstream work. It receives the submitter's context.
type Op func(ctx context.Context) error

type pendingCall struct {
	ctx    context.Context
	op     Op
	fields []zap.Field
	done   chan error
}

// Limiter admits submitted calls in FIFO order so that no window's budget
// is ever exceeded. A single drain goroutine does the admitting; admitted
// calls run concurrently, so completion order is not guaranteed.
type Limiter struct {
	mu       sync.Mutex
	windows  []*window
	queue    []*pendingCall
	draining bool
	closed   bool

	spacer *rate.Limiter
	wake   chan struct{}
	stop   context.CancelFunc
	done   context.Context

	now    func() time.Time
	logger *zap.Logger
}

// New validates cfg and returns an idle limiter. The drain goroutine is
// started lazily by Submit.
func New(cfg Config, logger *zap.Logger) (*Limiter, error) {
	if len(cfg.Windows) == 0 {
		return nil, domain.ErrInvalidLimiter
	}
	l := &Limiter{
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}
	for _, wc := range cfg.Windows {
		if wc.Limit <= 0 || wc.Window <= 0 {
			return nil, fmt.Errorf("window %q: %w", wc.Label, domain.ErrInvalidLimiter)
		}
		l.windows = append(l.windows, newWindow(wc))
	}
	if cfg.Spacing > 0 {
		l.spacer = rate.NewLimiter(rate.Every(cfg.Spacing), 1)
	}
	l.done, l.stop = context.WithCancel(context.Background())
	return l, nil
}

// Submit queues op and blocks until it has run, returning its error, or
// until ctx is done. A call abandoned by its submitter is skipped when it
// reaches the head of the queue.
func (l *Limiter) Submit(ctx context.Context, op Op, fields ...zap.Field) error {
	call := &pendingCall{ctx: ctx, op: op, fields: fields, done: make(chan error, 1)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLimiterClosed
	}
	l.queue = append(l.queue, call)
	if !l.draining {
		l.draining = true
		go l.drain()
	}
	l.mu.Unlock()

	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) drain() {
	for {
		wait, more := l.ready()
		if !more {
			return
		}
		if wait > 0 {
			l.logger.Debug("rate budget exhausted, waiting",
				zap.Duration("wait", wait), zap.Int("queued", l.queueLen()))
			if !l.sleep(wait) {
				l.stopDraining()
				return
			}
			// Re-check: more than one slot may have opened while asleep.
			continue
		}

		// Spacing is paid only for a call that is about to be admitted, so
		// an idle limiter does not hold a token back from the next submitter.
		if l.spacer != nil {
			if err := l.spacer.Wait(l.done); err != nil {
				l.stopDraining()
				return
			}
		}
		if call := l.admit(); call != nil {
			go l.execute(call)
		}
	}
}

// ready reports how long until the head call could be admitted, without
// popping it. more=false once the queue is empty (clearing the draining flag).
func (l *Limiter) ready() (wait time.Duration, more bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropAbandonedLocked()
	if len(l.queue) == 0 || l.closed {
		l.draining = false
		return 0, false
	}
	now := l.now()
	l.purgeLocked(now)
	return l.delayLocked(now), true
}

// admit pops and records the head call when every window has room.
// It returns nil when the head was abandoned meanwhile or the budget is
// spent; the drain loop re-checks with ready.
func (l *Limiter) admit() *pendingCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropAbandonedLocked()
	if len(l.queue) == 0 || l.closed {
		return nil
	}
	now := l.now()
	l.purgeLocked(now)
	if l.delayLocked(now) > 0 {
		return nil
	}

	call := l.pop()
	for _, w := range l.windows {
		w.record(now)
	}
	return call
}

// dropAbandonedLocked skips head calls whose submitter has gone away.
func (l *Limiter) dropAbandonedLocked() {
	for len(l.queue) > 0 && l.queue[0].ctx.Err() != nil {
		abandoned := l.pop()
		abandoned.done <- abandoned.ctx.Err()
	}
}

func (l *Limiter) execute(call *pendingCall) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rate-limited call panicked: %v", r)
		}
		if err != nil {
			fields := append([]zap.Field{zap.Error(err)}, call.fields...)
			l.logger.Error("rate-limited call failed", fields...)
		}
		call.done <- err
	}()
	err = call.op(call.ctx)
}

func (l *Limiter) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-l.wake:
		return true
	case <-l.done.Done():
		return false
	}
}

func (l *Limiter) stopDraining() {
	l.mu.Lock()
	l.draining = false
	l.mu.Unlock()
}

// pop must be called with mu held.
func (l *Limiter) pop() *pendingCall {
	call := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return call
}

func (l *Limiter) purgeLocked(now time.Time) {
	for _, w := range l.windows {
		w.purge(now)
	}
}

func (l *Limiter) delayLocked(now time.Time) time.Duration {
	var longest time.Duration
	for _, w := range l.windows {
		if d := w.wait(now); d > longest {
			longest = d
		}
	}
	return longest
}

// rejectLocked fails every queued call with err.
func (l *Limiter) rejectLocked(err error) {
	for len(l.queue) > 0 {
		l.pop().done <- err
	}
	l.queue = nil
}

func (l *Limiter) queueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// CanAdmit purges expired timestamps and reports whether every window has room.
func (l *Limiter) CanAdmit() bool {
	return l.NextAdmissionDelay() == 0
}

// NextAdmissionDelay purges expired timestamps and returns how long until
// every window has room. Never negative.
func (l *Limiter) NextAdmissionDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purgeLocked(now)
	return l.delayLocked(now)
}

// Purge drops expired timestamps from every window.
func (l *Limiter) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())
}

// WindowStats is the usage of one window.
type WindowStats struct {
	Label  string        `json:"label"`
	Used   int           `json:"used"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Windows     []WindowStats `json:"windows"`
	QueueLength int           `json:"queue_length"`
	CanAdmit    bool          `json:"can_admit"`
	Wait        time.Duration `json:"wait"`
}

// Stats reports usage without purging or otherwise mutating state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := Stats{QueueLength: len(l.queue)}
	for _, w := range l.windows {
		st.Windows = append(st.Windows, WindowStats{
			Label:  w.cfg.Label,
			Used:   w.used(now),
			Limit:  w.cfg.Limit,
			Window: w.cfg.Window,
		})
		if d := w.wait(now); d > st.Wait {
			st.Wait = d
		}
	}
	st.CanAdmit = st.Wait == 0
	return st
}

// Reset clears every window and fails queued calls with ErrLimiterReset.
// Operational recovery only; nothing calls it automatically.
func (l *Limiter) Reset() {
	l.mu.Lock()
	for _, w := range l.windows {
		w.reset()
	}
	l.rejectLocked(domain.ErrLimiterReset)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.logger.Warn("rate limiter reset")
}

// Close abandons the drain and fails queued calls with ErrLimiterClosed.
// Calls already executing are not interrupted.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.rejectLocked(domain.ErrLimiterClosed)
	l.mu.Unlock()
	l.stop()
}
