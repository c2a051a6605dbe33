package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/dedup"
	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/eligibility"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
	"github.com/notifyhub/activity-relay/internal/worker"
)

// ---- hand-written collaborators ----

type fakeMembers struct {
	member   *domain.Member
	getErr   error
	token    string
	tokenErr error
}

func (f *fakeMembers) GetByOwner(_ context.Context, _ string) (*domain.Member, error) {
	return f.member, f.getErr
}

func (f *fakeMembers) ValidCredential(_ context.Context, _ *domain.Member) (string, error) {
	return f.token, f.tokenErr
}

type fakeFetcher struct {
	mu       sync.Mutex
	activity *domain.Activity
	err      error
	panics   bool
	calls    int
	tokens   []string
}

func (f *fakeFetcher) FetchActivity(_ context.Context, _ string, token string) (*domain.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, token)
	if f.panics {
		panic("decoder blew up")
	}
	if f.err != nil {
		return nil, f.err
	}
	a := *f.activity
	return &a, nil
}

type fakeRelay struct {
	mu   sync.Mutex
	sent []domain.RelayMessage
	err  error
}

func (f *fakeRelay) Relay(_ context.Context, msg domain.RelayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// ---- fixtures ----

var now = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func activeMember() *domain.Member {
	return &domain.Member{ID: "m-1", AthleteID: "134815", DisplayName: "Ana", AccessToken: "tok", Active: true}
}

func eligibleActivity() *domain.Activity {
	return &domain.Activity{
		ID: 12345, Name: "Lunch Run", SportType: "Run",
		Distance: 5000, MovingTime: 1500, StartDate: now.Add(-time.Hour),
		Visibility: "everyone",
	}
}

func queueItem() domain.QueueItem {
	return domain.QueueItem{
		ItemID:    "12345",
		SubjectID: "134815",
		Payload:   domain.Payload{AspectType: domain.AspectCreate},
		Status:    domain.ItemDispatching,
	}
}

type harness struct {
	members *fakeMembers
	fetcher *fakeFetcher
	relay   *fakeRelay
	ledger  *dedup.Ledger
	results []domain.DispatchResult
	d       *worker.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	limiter, err := ratelimiter.New(ratelimiter.Config{
		Windows: []ratelimiter.WindowConfig{{Label: "short", Limit: 100, Window: time.Minute}},
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(limiter.Close)

	h := &harness{
		members: &fakeMembers{member: activeMember(), token: "tok"},
		fetcher: &fakeFetcher{activity: eligibleActivity()},
		relay:   &fakeRelay{},
		ledger:  dedup.NewLedger(dedup.LedgerConfig{}),
	}
	checker := eligibility.New(eligibility.Options{MinDistanceMeters: 1000, MaxAge: 72 * time.Hour})
	h.d = worker.NewDispatcher(h.members, limiter, h.fetcher, checker, h.relay, h.ledger, zap.NewNop(),
		func(r domain.DispatchResult, _ time.Duration) { h.results = append(h.results, r) })
	worker.SetClock(h.d, func() time.Time { return now })
	return h
}

// ---- tests ----

func TestDispatcher_RelaysAndRecords(t *testing.T) {
	h := newHarness(t)
	item := queueItem()
	item.Payload.Updates = map[string]string{"title": "Renamed"}

	res := h.d.Dispatch(context.Background(), item)

	if res.Outcome != domain.OutcomeRelayed {
		t.Fatalf("expected relayed, got %+v", res)
	}
	if h.relay.count() != 1 {
		t.Fatalf("expected 1 relay call, got %d", h.relay.count())
	}
	sent := h.relay.sent[0]
	if sent.Member.ID != "m-1" || sent.Activity.ID != 12345 || sent.Payload.Updates["title"] != "Renamed" {
		t.Fatalf("unexpected relay message: %+v", sent)
	}
	if h.fetcher.tokens[0] != "tok" {
		t.Fatalf("expected fetch with member token, got %q", h.fetcher.tokens[0])
	}
	if !h.ledger.Seen(item.Key()) || !res.Recorded {
		t.Fatal("expected ledger to record relayed item")
	}
	if len(h.results) != 1 || h.results[0].Outcome != domain.OutcomeRelayed {
		t.Fatalf("expected one relayed result reported to hook, got %+v", h.results)
	}
}

func TestDispatcher_SkipsItemAlreadyInLedger(t *testing.T) {
	h := newHarness(t)
	h.ledger.Record(queueItem().Key())

	res := h.d.Dispatch(context.Background(), queueItem())

	if res.Outcome != domain.OutcomeDiscarded {
		t.Fatalf("expected discarded, got %+v", res)
	}
	if h.fetcher.calls != 0 || h.relay.count() != 0 {
		t.Fatal("expected no upstream or downstream calls for a recorded item")
	}
	if !res.Recorded {
		t.Fatal("expected a skipped ledger hit to report Recorded")
	}
}

func TestDispatcher_TerminalOutcomes(t *testing.T) {
	upstream := errors.New("upstream 502")

	tests := []struct {
		name        string
		setup       func(h *harness)
		wantOutcome domain.Outcome
		wantFetch   bool
		wantLedger  bool
	}{
		{"member unknown", func(h *harness) { h.members.member = nil }, domain.OutcomeDiscarded, false, false},
		{"member lookup error", func(h *harness) { h.members.getErr = errors.New("db down") }, domain.OutcomeFailed, false, false},
		{"no credential", func(h *harness) { h.members.token = "" }, domain.OutcomeDiscarded, false, false},
		{"credential error", func(h *harness) { h.members.tokenErr = errors.New("refresh failed") }, domain.OutcomeFailed, false, false},
		{"activity gone", func(h *harness) { h.fetcher.err = domain.ErrNotFound }, domain.OutcomeDiscarded, true, false},
		{"credential rejected", func(h *harness) { h.fetcher.err = domain.ErrUnauthorized }, domain.OutcomeDiscarded, true, false},
		{"fetch fails", func(h *harness) { h.fetcher.err = upstream }, domain.OutcomeFailed, true, false},
		{"fetch panics", func(h *harness) { h.fetcher.panics = true }, domain.OutcomeFailed, true, false},
		{"not eligible", func(h *harness) { h.fetcher.activity.Distance = 200 }, domain.OutcomeDiscarded, true, true},
		{"private", func(h *harness) { h.fetcher.activity.Private = true }, domain.OutcomeDiscarded, true, true},
		{"relay fails", func(h *harness) { h.relay.err = errors.New("chat 500") }, domain.OutcomeFailed, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			res := h.d.Dispatch(context.Background(), queueItem())

			if res.Outcome != tc.wantOutcome {
				t.Fatalf("expected %s, got %+v", tc.wantOutcome, res)
			}
			if res.Reason == "" {
				t.Fatal("expected a reason on a non-relayed outcome")
			}
			if (h.fetcher.calls > 0) != tc.wantFetch {
				t.Fatalf("expected fetch=%v, got %d calls", tc.wantFetch, h.fetcher.calls)
			}
			if h.relay.count() != 0 {
				t.Fatal("expected no successful relay")
			}
			if h.ledger.Seen(queueItem().Key()) != tc.wantLedger {
				t.Fatalf("expected ledger recorded=%v", tc.wantLedger)
			}
			if res.Recorded != tc.wantLedger {
				t.Fatalf("expected result Recorded=%v, got %+v", tc.wantLedger, res)
			}
			if tc.wantOutcome == domain.OutcomeFailed && res.Err == nil {
				t.Fatal("expected failed result to carry an error")
			}
		})
	}
}

func TestDispatcher_CredentialDiscards(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  bool
	}{
		{"no credential", func(h *harness) { h.members.token = "" }, true},
		{"credential rejected", func(h *harness) { h.fetcher.err = domain.ErrUnauthorized }, true},
		{"activity gone", func(h *harness) { h.fetcher.err = domain.ErrNotFound }, false},
		{"relayed", func(h *harness) {}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			if got := h.d.Dispatch(context.Background(), queueItem()).CredentialDiscard(); got != tc.want {
				t.Fatalf("expected CredentialDiscard=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestDispatcher_CancelledContextSkipsRelay(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.d.Dispatch(ctx, queueItem())

	if res.Outcome != domain.OutcomeDiscarded || res.Reason != "cancelled" {
		t.Fatalf("expected cancelled discard, got %+v", res)
	}
	if h.relay.count() != 0 {
		t.Fatal("cancelled dispatch must not relay")
	}
}

func TestDispatcher_UsesFreshDetailNotPayload(t *testing.T) {
	h := newHarness(t)
	// The webhook said nothing about privacy; the fetched detail is private.
	h.fetcher.activity.Visibility = "only_me"

	res := h.d.Dispatch(context.Background(), queueItem())
	if res.Outcome != domain.OutcomeDiscarded {
		t.Fatalf("expected fresh detail to drive eligibility, got %+v", res)
	}
}
