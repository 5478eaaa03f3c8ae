package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"subwatch/internal/types"
)

const (
	nearExpiryHorizon = time.Hour
	overdueScanLimit  = 500
)

// SubscriptionFinder lists active subscriptions crossing a time threshold.
type SubscriptionFinder interface {
	ListActiveExpiring(ctx context.Context, w types.ExpiryWindow) ([]types.Candidate, error)
	ListActiveOverdue(ctx context.Context, now time.Time, limit int) ([]types.Candidate, error)
}

// Enqueuer schedules a job. jobs.Scheduler implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload types.JobPayload, notBefore time.Time) (string, error)
}

// Scanner finds subscriptions that need lifecycle jobs and enqueues them. It
// never deduplicates: a candidate found twice is enqueued twice and the job
// executor absorbs the duplicate.
type Scanner struct {
	subs     SubscriptionFinder
	enqueuer Enqueuer
	logger   *slog.Logger
}

func NewScanner(subs SubscriptionFinder, enqueuer Enqueuer, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{subs: subs, enqueuer: enqueuer, logger: logger}
}

// ScanNearExpiry enqueues an expire job for every active subscription with
// expires_at in (now, now+1h]. Each job becomes visible at its expiry instant.
func (s *Scanner) ScanNearExpiry(ctx context.Context, now time.Time) (ScanReport, error) {
	w := types.ExpiryWindow{Start: now, End: now.Add(nearExpiryHorizon), IncludeEnd: true}
	tr := ThresholdReport{Window: "near_expiry"}

	cands, err := s.subs.ListActiveExpiring(ctx, w)
	if err != nil {
		tr.Err = fmt.Errorf("listing near-expiry subscriptions: %w", err)
		return ScanReport{Thresholds: []ThresholdReport{tr}}, tr.Err
	}
	tr.Found = len(cands)

	for _, c := range cands {
		notBefore := c.ExpiresAt
		if notBefore.Before(now) {
			notBefore = now
		}
		s.enqueue(ctx, &tr, types.ExpireSubscriptionPayload{
			SubscriptionID: c.SubscriptionID,
			UserID:         c.UserID,
			ExpiresAt:      c.ExpiresAt,
		}, notBefore)
	}

	s.logReport(ctx, tr)
	return ScanReport{Thresholds: []ThresholdReport{tr}}, nil
}

// ScanOverdue enqueues an immediate expire job for active subscriptions whose
// expiry has already passed.
func (s *Scanner) ScanOverdue(ctx context.Context, now time.Time) (ScanReport, error) {
	tr := ThresholdReport{Window: "overdue"}

	cands, err := s.subs.ListActiveOverdue(ctx, now, overdueScanLimit)
	if err != nil {
		tr.Err = fmt.Errorf("listing overdue subscriptions: %w", err)
		return ScanReport{Thresholds: []ThresholdReport{tr}}, tr.Err
	}
	tr.Found = len(cands)

	for _, c := range cands {
		s.enqueue(ctx, &tr, types.ExpireSubscriptionPayload{
			SubscriptionID: c.SubscriptionID,
			UserID:         c.UserID,
			ExpiresAt:      c.ExpiresAt,
		}, now)
	}

	s.logReport(ctx, tr)
	return ScanReport{Thresholds: []ThresholdReport{tr}}, nil
}

// WarningWindow returns the UTC calendar day d days after now's day.
func WarningWindow(now time.Time, d int) types.ExpiryWindow {
	start := types.StartOfDay(now).AddDate(0, 0, d)
	return types.ExpiryWindow{Start: start, End: start.AddDate(0, 0, 1), IncludeStart: true}
}

// ScanWarnings enqueues warning jobs for each threshold in
// types.WarningThresholds. Thresholds run concurrently and a failure in one is
// recorded in the report without stopping the others.
func (s *Scanner) ScanWarnings(ctx context.Context, now time.Time) ScanReport {
	reports := make([]ThresholdReport, len(types.WarningThresholds))

	var g errgroup.Group
	for i, d := range types.WarningThresholds {
		g.Go(func() error {
			reports[i] = s.scanThreshold(ctx, now, d)
			return nil
		})
	}
	_ = g.Wait()

	return ScanReport{Thresholds: reports}
}

func (s *Scanner) scanThreshold(ctx context.Context, now time.Time, d int) ThresholdReport {
	tr := ThresholdReport{Threshold: d, Window: fmt.Sprintf("warning_%dd", d)}

	cands, err := s.subs.ListActiveExpiring(ctx, WarningWindow(now, d))
	if err != nil {
		tr.Err = fmt.Errorf("listing subscriptions %d days from expiry: %w", d, err)
		s.logger.ErrorContext(ctx, "warning scan failed",
			"threshold", d,
			"error", err,
		)
		return tr
	}
	tr.Found = len(cands)

	for _, c := range cands {
		s.enqueue(ctx, &tr, types.ExpiryWarningPayload{
			SubscriptionID:  c.SubscriptionID,
			UserID:          c.UserID,
			ExpiresAt:       c.ExpiresAt,
			DaysUntilExpiry: d,
		}, now)
	}

	s.logReport(ctx, tr)
	return tr
}

func (s *Scanner) enqueue(ctx context.Context, tr *ThresholdReport, p types.JobPayload, notBefore time.Time) {
	id, err := s.enqueuer.Enqueue(ctx, p, notBefore)
	if err != nil {
		tr.Failed++
		s.logger.ErrorContext(ctx, "failed to enqueue job",
			"window", tr.Window,
			"class", p.Class(),
			"error", err,
		)
		return
	}
	tr.Enqueued++
	s.logger.DebugContext(ctx, "job enqueued",
		"window", tr.Window,
		"job_id", id,
		"not_before", notBefore.Format(time.RFC3339),
	)
}

func (s *Scanner) logReport(ctx context.Context, tr ThresholdReport) {
	s.logger.InfoContext(ctx, "scan complete",
		"window", tr.Window,
		"found", tr.Found,
		"enqueued", tr.Enqueued,
		"failed", tr.Failed,
	)
}
