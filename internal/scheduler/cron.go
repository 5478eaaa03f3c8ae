package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"subwatch/internal/types"
)

// HandlerFunc is a cron entry body. now is the clock time of the tick.
type HandlerFunc func(ctx context.Context, now time.Time) error

type cronEntry struct {
	name     string
	spec     string
	schedule cron.Schedule
	handler  HandlerFunc
	next     time.Time
	lastRun  time.Time
	lastErr  error
}

// EntryInfo describes a registered entry for the ops surface.
type EntryInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitzero"`
	LastErr string    `json:"last_error,omitempty"`
}

// Cron evaluates standard 5-field cron expressions in UTC against an injected
// clock. Tick does the work; Run only drives Tick on a wall-clock ticker, so
// tests exercise schedules with a fake clock.
type Cron struct {
	clock  types.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries []*cronEntry
}

func NewCron(clock types.Clock, logger *slog.Logger) *Cron {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cron{clock: clock, logger: logger}
}

// Register adds an entry. The first fire time is the next match after now.
func (c *Cron) Register(name, spec string, handler HandlerFunc) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return types.NewAppError(types.ErrCodeConfiguration,
			fmt.Sprintf("invalid cron expression %q for %s", spec, name), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.name == name {
			return types.NewAppError(types.ErrCodeConfiguration,
				fmt.Sprintf("cron entry %s already registered", name), nil)
		}
	}
	c.entries = append(c.entries, &cronEntry{
		name:     name,
		spec:     spec,
		schedule: sched,
		handler:  handler,
		next:     sched.Next(c.clock.Now().UTC()),
	})
	return nil
}

// Tick runs every entry whose next fire time is at or before now, then moves
// it to the first fire time after now. Missed fires collapse into one run.
// Handler errors are logged and do not affect other entries. Tick returns
// the names of the entries it ran.
func (c *Cron) Tick(ctx context.Context) []string {
	now := c.clock.Now().UTC()

	c.mu.Lock()
	var due []*cronEntry
	for _, e := range c.entries {
		if !e.next.After(now) {
			due = append(due, e)
			e.next = e.schedule.Next(now)
		}
	}
	c.mu.Unlock()

	ran := make([]string, 0, len(due))
	for _, e := range due {
		err := c.invoke(ctx, e, now)

		c.mu.Lock()
		e.lastRun = now
		e.lastErr = err
		c.mu.Unlock()

		ran = append(ran, e.name)
	}
	return ran
}

func (c *Cron) invoke(ctx context.Context, e *cronEntry, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cron entry %s: %v", e.name, r)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "cron entry failed", "entry", e.name, "error", err)
		}
	}()
	c.logger.InfoContext(ctx, "cron entry firing", "entry", e.name, "at", now.Format(time.RFC3339))
	return e.handler(ctx, now)
}

// Run calls Tick every poll interval until ctx is cancelled.
func (c *Cron) Run(ctx context.Context, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.Tick(ctx)
		}
	}
}

// Entries returns the registered entries ordered by next fire time.
func (c *Cron) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		info := EntryInfo{Name: e.name, Spec: e.spec, Next: e.next, LastRun: e.lastRun}
		if e.lastErr != nil {
			info.LastErr = e.lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}
