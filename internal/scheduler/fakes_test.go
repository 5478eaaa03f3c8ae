package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"subwatch/internal/types"
)

func schedulerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeFinder serves candidates from a fixed subscription set, honoring window
// inclusivity the way the Postgres query does.
type fakeFinder struct {
	mu         sync.Mutex
	subs       []types.Candidate
	failWindow func(types.ExpiryWindow) bool
	overdueErr error
	windows    []types.ExpiryWindow
}

func (f *fakeFinder) ListActiveExpiring(_ context.Context, w types.ExpiryWindow) ([]types.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if f.failWindow != nil && f.failWindow(w) {
		return nil, errors.New("db unavailable")
	}
	var out []types.Candidate
	for _, c := range f.subs {
		if w.Contains(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeFinder) ListActiveOverdue(_ context.Context, now time.Time, limit int) ([]types.Candidate, error) {
	if f.overdueErr != nil {
		return nil, f.overdueErr
	}
	var out []types.Candidate
	for _, c := range f.subs {
		if !c.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

type enqueued struct {
	payload   types.JobPayload
	notBefore time.Time
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	jobs   []enqueued
	failOn func(types.JobPayload) bool
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, p types.JobPayload, notBefore time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOn != nil && e.failOn(p) {
		return "", types.NewAppError(types.ErrCodeTransientIO, "queue unavailable", nil)
	}
	e.jobs = append(e.jobs, enqueued{payload: p, notBefore: notBefore})
	return "job-" + string(rune('a'+len(e.jobs))), nil
}

func (e *fakeEnqueuer) byClass(class types.JobClass) []enqueued {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []enqueued
	for _, j := range e.jobs {
		if j.payload.Class() == class {
			out = append(out, j)
		}
	}
	return out
}

type fakeLocker struct {
	held map[string]string
	err  error
}

func (l *fakeLocker) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = workerID
	return true, nil
}

type historyRow struct {
	task   string
	status string
	items  int
	err    error
}

type fakeHistory struct {
	rows     []historyRow
	startErr error
}

func (h *fakeHistory) Start(_ context.Context, task string) (int64, error) {
	if h.startErr != nil {
		return 0, h.startErr
	}
	h.rows = append(h.rows, historyRow{task: task, status: "running"})
	return int64(len(h.rows)), nil
}

func (h *fakeHistory) Finish(_ context.Context, id int64, status string, items int, err error) error {
	r := &h.rows[id-1]
	r.status, r.items, r.err = status, items, err
	return nil
}
