package dedup

import (
	"container/list"
	"sync"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// LedgerConfig bounds how much history the ledger keeps.
// MaxEntries <= 0 means unbounded; MaxAge <= 0 disables age-based pruning.
type LedgerConfig struct {
	MaxEntries int
	MaxAge     time.Duration
}

type record struct {
	key domain.DedupKey
	at  time.Time
}

// Ledger remembers activities that have already been relayed or terminally
// filtered. Entries are kept in insertion order so the oldest are evicted
// first once MaxEntries is reached.
type Ledger struct {
	mu      sync.RWMutex
	cfg     LedgerConfig
	entries map[domain.DedupKey]*list.Element
	order   *list.List
	now     func() time.Time
}

func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{
		cfg:     cfg,
		entries: make(map[domain.DedupKey]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Record inserts key and reports whether it was new.
// Recording an existing key does not refresh its age.
func (l *Ledger) Record(key domain.DedupKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[key]; ok {
		return false
	}
	l.entries[key] = l.order.PushBack(record{key: key, at: l.now()})

	if l.cfg.MaxEntries > 0 {
		for l.order.Len() > l.cfg.MaxEntries {
			l.removeLocked(l.order.Front())
		}
	}
	return true
}

func (l *Ledger) Seen(key domain.DedupKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[key]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.order.Len()
}

// Prune drops entries older than MaxAge and returns how many were removed.
func (l *Ledger) Prune(now time.Time) int {
	if l.cfg.MaxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-l.cfg.MaxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for e := l.order.Front(); e != nil; e = l.order.Front() {
		if e.Value.(record).at.After(cutoff) {
			break
		}
		l.removeLocked(e)
		removed++
	}
	return removed
}

func (l *Ledger) removeLocked(e *list.Element) {
	rec := l.order.Remove(e).(record)
	delete(l.entries, rec.key)
}
