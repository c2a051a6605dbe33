package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/dedup"
	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/queue"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
)

// Deauthorizer deactivates a member whose upstream access was revoked.
type Deauthorizer interface {
	Deauthorize(ctx context.Context, ownerID string) error
}

// ActivityService classifies inbound webhook events into delay-queue
// operations and owns the pipeline's in-memory state: the queue, the
// rate limiter and the dedup ledger. HTTP handlers and the maintenance
// worker depend on this service, never on the pieces directly.
type ActivityService struct {
	q       *queue.DelayQueue
	limiter *ratelimiter.Limiter
	ledger  *dedup.Ledger
	members Deauthorizer
	logger  *zap.Logger

	// Hook for metrics, injected by main so the service stays metrics-agnostic.
	onEvent func(domain.ObjectType, domain.AspectType, domain.Action)
}

// NewActivityService wires the classifier to the pipeline. members and
// onEvent are optional (nil = no-op).
func NewActivityService(
	q *queue.DelayQueue,
	limiter *ratelimiter.Limiter,
	ledger *dedup.Ledger,
	members Deauthorizer,
	logger *zap.Logger,
	onEvent func(domain.ObjectType, domain.AspectType, domain.Action),
) *ActivityService {
	if onEvent == nil {
		onEvent = func(domain.ObjectType, domain.AspectType, domain.Action) {}
	}
	return &ActivityService{
		q: q, limiter: limiter, ledger: ledger, members: members,
		logger: logger, onEvent: onEvent,
	}
}

// HandleEvent maps one webhook event onto the delay queue:
//
//	activity/create → enqueue with the configured delay
//	activity/update → update in place; enqueue if the item was never seen;
//	                  held for re-arm if the item is mid-dispatch
//	activity/delete → cancel
//	anything else   → ignored
//
// Only malformed events return an error.
func (s *ActivityService) HandleEvent(ctx context.Context, ev domain.WebhookEvent) (domain.Action, error) {
	if err := ev.Validate(); err != nil {
		return domain.ActionIgnore, err
	}

	log := s.logger.With(
		zap.String("item_id", ev.ItemID()),
		zap.String("subject_id", ev.SubjectID()),
		zap.String("object_type", string(ev.ObjectType)),
		zap.String("aspect_type", string(ev.AspectType)),
	)

	var action domain.Action
	switch ev.ObjectType {
	case domain.ObjectActivity:
		action = s.classifyActivity(ev, log)
	case domain.ObjectAthlete:
		action = s.handleAthlete(ctx, ev, log)
	default:
		log.Info("ignoring event for unsupported object type")
		action = domain.ActionIgnore
	}

	s.onEvent(ev.ObjectType, ev.AspectType, action)
	return action, nil
}

func (s *ActivityService) classifyActivity(ev domain.WebhookEvent, log *zap.Logger) domain.Action {
	itemID, subjectID := ev.ItemID(), ev.SubjectID()
	key := domain.DedupKey{SubjectID: subjectID, ItemID: itemID}

	switch ev.AspectType {
	case domain.AspectCreate:
		if s.ledger.Seen(key) {
			log.Debug("create for an item already relayed, ignoring")
			return domain.ActionIgnore
		}
		return s.enqueue(ev, log)

	case domain.AspectUpdate:
		if s.q.UpdateInPlace(itemID, ev.Payload()) {
			log.Debug("queued item updated in place")
			return domain.ActionUpdate
		}
		if s.ledger.Seen(key) {
			log.Debug("update for an item already relayed, ignoring")
			return domain.ActionIgnore
		}
		if s.q.Redeliver(itemID, ev.Payload()) {
			log.Info("update for an item being dispatched, held for re-arm")
			return domain.ActionUpdate
		}
		if _, ok := s.q.Get(itemID); ok {
			log.Debug("update for a cancelled item still dispatching, ignoring")
			return domain.ActionIgnore
		}
		log.Info("update for an unseen item, enqueueing")
		return s.enqueue(ev, log)

	case domain.AspectDelete:
		if s.q.Cancel(itemID) {
			log.Info("pending item cancelled")
			return domain.ActionCancel
		}
		log.Debug("delete for an item with nothing pending")
		return domain.ActionIgnore

	default:
		log.Info("ignoring unsupported activity aspect")
		return domain.ActionIgnore
	}
}

// enqueue schedules a fresh entry. A redelivered create for an item that
// is still queued refreshes its payload instead; one for an item mid-dispatch
// is held so the queue can re-arm it if that dispatch is not recorded.
func (s *ActivityService) enqueue(ev domain.WebhookEvent, log *zap.Logger) domain.Action {
	err := s.q.Enqueue(ev.ItemID(), ev.SubjectID(), ev.Payload(), s.q.Delay())
	switch {
	case err == nil:
		return domain.ActionEnqueue
	case errors.Is(err, domain.ErrAlreadyQueued):
		if s.q.UpdateInPlace(ev.ItemID(), ev.Payload()) {
			log.Debug("item already queued, payload refreshed")
			return domain.ActionUpdate
		}
		if s.q.Redeliver(ev.ItemID(), ev.Payload()) {
			log.Info("item already dispatching, held for re-arm")
			return domain.ActionUpdate
		}
		log.Debug("item cancelled while dispatching, ignoring")
		return domain.ActionIgnore
	default:
		log.Warn("could not enqueue item", zap.Error(err))
		return domain.ActionIgnore
	}
}

// handleAthlete reacts to the upstream revoking access for an owner.
// The queue is not touched: items already pending for the owner are
// discarded at dispatch when the member lookup comes back empty.
func (s *ActivityService) handleAthlete(ctx context.Context, ev domain.WebhookEvent, log *zap.Logger) domain.Action {
	if ev.AspectType != domain.AspectUpdate || ev.Updates["authorized"] != "false" || s.members == nil {
		log.Debug("ignoring athlete event")
		return domain.ActionIgnore
	}
	if err := s.members.Deauthorize(ctx, ev.SubjectID()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error("failed to deauthorize member", zap.Error(err))
	}
	return domain.ActionIgnore
}

// QueueStats is a read-only view of the delay queue.
func (s *ActivityService) QueueStats() queue.Stats { return s.q.Stats() }

// LimiterStats is a read-only view of the rate limiter.
func (s *ActivityService) LimiterStats() ratelimiter.Stats { return s.limiter.Stats() }

func (s *ActivityService) LedgerSize() int { return s.ledger.Len() }

// Purge drops expired limiter timestamps and ledger entries older than the
// retention window. Returns the number of ledger entries removed.
func (s *ActivityService) Purge(now time.Time) int {
	s.limiter.Purge()
	return s.ledger.Prune(now)
}

// ResetLimiter clears both rate windows and rejects every queued call.
// Operational recovery only; never called automatically.
func (s *ActivityService) ResetLimiter() {
	s.logger.Warn("rate limiter reset requested")
	s.limiter.Reset()
}

// Shutdown stops every pending timer, then abandons the limiter drain.
// Nothing is flushed early.
func (s *ActivityService) Shutdown() {
	s.q.Shutdown()
	s.limiter.Close()
}
