package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/eligibility"
	"github.com/notifyhub/activity-relay/internal/provider"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
)

// Members resolves the owner of an item and a usable credential for them.
// A nil member or an empty token means "discard", not "retry".
type Members interface {
	GetByOwner(ctx context.Context, ownerID string) (*domain.Member, error)
	ValidCredential(ctx context.Context, m *domain.Member) (string, error)
}

// Submitter serializes upstream calls against the API budget.
type Submitter interface {
	Submit(ctx context.Context, op ratelimiter.Op, fields ...zap.Field) error
}

// Ledger records items that reached a terminal relayed/filtered state.
type Ledger interface {
	Seen(key domain.DedupKey) bool
	Record(key domain.DedupKey) bool
}

// Dispatcher runs one queue item from timer fire to its terminal state:
// member check, credential, rate-limited detail fetch, eligibility on the
// fresh detail, relay, then ledger record.
type Dispatcher struct {
	members  Members
	limiter  Submitter
	fetcher  provider.ActivityFetcher
	checker  eligibility.Checker
	relay    provider.Relay
	ledger   Ledger
	now      func() time.Time
	logger   *zap.Logger
	onResult func(domain.DispatchResult, time.Duration)
}

// NewDispatcher constructs a dispatcher. onResult is optional (nil = no-op).
func NewDispatcher(
	members Members,
	limiter Submitter,
	fetcher provider.ActivityFetcher,
	checker eligibility.Checker,
	relay provider.Relay,
	ledger Ledger,
	logger *zap.Logger,
	onResult func(domain.DispatchResult, time.Duration),
) *Dispatcher {
	if onResult == nil {
		onResult = func(domain.DispatchResult, time.Duration) {}
	}
	return &Dispatcher{
		members: members, limiter: limiter, fetcher: fetcher,
		checker: checker, relay: relay, ledger: ledger,
		now: time.Now, logger: logger, onResult: onResult,
	}
}

// Dispatch processes item and reports how it ended. It never panics and
// never retries; the result's Recorded flag lets the queue decide whether
// a redelivered item gets another attempt. ctx is cancelled when the item is deleted mid-dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, item domain.QueueItem) (res domain.DispatchResult) {
	start := d.now()
	log := d.logger.With(
		zap.String("item_id", item.ItemID),
		zap.String("subject_id", item.SubjectID),
	)
	res = domain.DispatchResult{ItemID: item.ItemID, SubjectID: item.SubjectID}
	key := item.Key()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = domain.OutcomeFailed
			res.Reason = "panic"
			res.Err = fmt.Errorf("dispatch panic: %v", r)
			log.Error("dispatch panicked", zap.Any("panic", r))
		}
		res.Recorded = d.ledger.Seen(key)
		d.onResult(res, d.now().Sub(start))
	}()

	if d.ledger.Seen(key) {
		log.Debug("item already relayed, skipping")
		return discard(res, "already relayed")
	}

	member, err := d.members.GetByOwner(ctx, item.SubjectID)
	if err != nil {
		log.Error("member lookup failed", zap.Error(err))
		return fail(res, "member lookup", err)
	}
	if member == nil {
		log.Warn("owner is not an active member, discarding")
		return discard(res, "owner not registered")
	}

	token, err := d.members.ValidCredential(ctx, member)
	if err != nil {
		log.Error("credential lookup failed", zap.Error(err))
		return fail(res, "credential lookup", err)
	}
	if token == "" {
		log.Warn("no valid credential for member, discarding", zap.String("member_id", member.ID))
		return discard(res, domain.ReasonNoCredential)
	}

	var activity *domain.Activity
	err = d.limiter.Submit(ctx, func(ctx context.Context) error {
		a, err := d.fetcher.FetchActivity(ctx, item.ItemID, token)
		activity = a
		return err
	}, zap.String("item_id", item.ItemID), zap.String("subject_id", item.SubjectID))
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info("dispatch cancelled before fetch completed")
		return discard(res, "cancelled")
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("activity no longer exists upstream, discarding")
		return discard(res, "activity not found")
	case errors.Is(err, domain.ErrUnauthorized):
		log.Warn("upstream rejected member credential, discarding", zap.Error(err))
		return discard(res, domain.ReasonCredentialRejected)
	default:
		log.Error("activity fetch failed", zap.Error(err))
		return fail(res, "fetch activity", err)
	}

	if ok, reason := d.checker.Check(activity, d.now()); !ok {
		d.ledger.Record(key)
		log.Debug("activity not eligible for relay", zap.String("reason", reason))
		return discard(res, reason)
	}

	if ctx.Err() != nil {
		log.Info("dispatch cancelled before relay")
		return discard(res, "cancelled")
	}

	msg := domain.RelayMessage{Member: *member, Activity: *activity, Payload: item.Payload}
	if err := d.relay.Relay(ctx, msg); err != nil {
		log.Error("relay failed", zap.Error(err))
		return fail(res, "relay", err)
	}

	d.ledger.Record(key)
	res.Outcome = domain.OutcomeRelayed
	log.Info("activity relayed",
		zap.String("sport_type", activity.SportType),
		zap.Duration("latency", d.now().Sub(start)))
	return res
}

func discard(res domain.DispatchResult, reason string) domain.DispatchResult {
	res.Outcome = domain.OutcomeDiscarded
	res.Reason = reason
	return res
}

func fail(res domain.DispatchResult, step string, err error) domain.DispatchResult {
	res.Outcome = domain.OutcomeFailed
	res.Reason = step
	res.Err = err
	return res
}
