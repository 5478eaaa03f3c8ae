package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"subwatch/internal/notifications"
	"subwatch/internal/queue"
	"subwatch/internal/types"
)

var t0 = time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeSubs struct {
	mu        sync.Mutex
	subs      map[string]*types.Subscription
	getErr    error
	expireErr error
	expired   []string
	gets      int
}

func newFakeSubs(subs ...*types.Subscription) *fakeSubs {
	f := &fakeSubs{subs: make(map[string]*types.Subscription)}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeSubs) GetByID(_ context.Context, id string) (*types.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "missing", nil)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubs) ExpireSubscription(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return false, f.expireErr
	}
	s, ok := f.subs[id]
	if !ok || s.Status != types.SubscriptionActive || !s.IsDue(now) {
		return false, nil
	}
	s.Status = types.SubscriptionExpired
	f.expired = append(f.expired, id)
	return true, nil
}

type fakeGuard struct {
	mu   sync.Mutex
	sent map[string]bool
}

func guardKey(subID string, typ types.NotificationType, threshold int) string {
	return fmt.Sprintf("%s/%s/%d", subID, typ, threshold)
}

func (g *fakeGuard) AlreadySent(_ context.Context, subID string, typ types.NotificationType, threshold int, _ time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[guardKey(subID, typ, threshold)]
}

type fakeNotifier struct {
	mu      sync.Mutex
	guard   *fakeGuard
	err     error
	intents []types.NotificationIntent
}

func (n *fakeNotifier) Dispatch(_ context.Context, intent types.NotificationIntent) (*notifications.DispatchResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, intent)
	if n.err != nil {
		return nil, n.err
	}
	if n.guard != nil {
		n.guard.mu.Lock()
		if n.guard.sent == nil {
			n.guard.sent = make(map[string]bool)
		}
		n.guard.sent[guardKey(intent.SubscriptionID, intent.Type, intent.DaysUntilExpiry)] = true
		n.guard.mu.Unlock()
	}
	return &notifications.DispatchResult{Recipient: intent.UserID + "@example.com"}, nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.intents)
}

type fakePurger struct {
	n     int
	err   error
	calls []types.CleanupTarget
}

func (p *fakePurger) Purge(_ context.Context, _ time.Time, target types.CleanupTarget, _ int) (int, error) {
	p.calls = append(p.calls, target)
	switch target {
	case types.CleanupNonces, types.CleanupRateLimits, types.CleanupAuditLogs:
	default:
		return 0, types.NewAppError(types.ErrCodeConfiguration, "unknown cleanup target", nil)
	}
	return p.n, p.err
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func (a *fakeAudit) Append(_ context.Context, e *types.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

// flakyQueue fails the next fail enqueues, then forwards to next.
type flakyQueue struct {
	next *queue.MemoryQueue
	fail int
}

func (q *flakyQueue) Enqueue(ctx context.Context, job *types.Job) error {
	if q.fail > 0 {
		q.fail--
		return errors.New("queue unavailable")
	}
	return q.next.Enqueue(ctx, job)
}

var errTransient = types.NewAppError(types.ErrCodeTransientIO, "connection reset", errors.New("EOF"))

func activeSub(id string, expiresAt time.Time) *types.Subscription {
	return &types.Subscription{ID: id, UserID: "u_" + id, Status: types.SubscriptionActive, ExpiresAt: &expiresAt}
}
