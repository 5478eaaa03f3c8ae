// Package retention purges audit entries past the compliance window and
// transient records past their TTLs.
//
// Only debug and info audit entries are ever selected for deletion; warning
// and error entries are kept indefinitely. Purged audit batches can be
// archived before deletion.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subwatch/internal/types"
)

// AuditStore is the audit ledger surface the sweeper needs.
type AuditStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, severities []types.Severity, limit int) ([]types.AuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	Append(ctx context.Context, e *types.AuditEntry) error
}

// TransientStore deletes ancillary short-lived records.
type TransientStore interface {
	DeleteNoncesBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteRateLimitsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Archiver stores a batch of audit entries before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, key string, entries []types.AuditEntry) error
}

// Defaults holds the windows applied when a cleanup job does not name one.
type Defaults struct {
	AuditLogMonths int
	NonceTTL       time.Duration
	RateLimitTTL   time.Duration
	BatchSize      int
}

// DefaultWindows returns the built-in retention windows.
func DefaultWindows() Defaults {
	return Defaults{
		AuditLogMonths: 24,
		NonceTTL:       24 * time.Hour,
		RateLimitTTL:   24 * time.Hour,
		BatchSize:      500,
	}
}

// maxAuditBatches bounds one purge run so a large backlog is drained over
// several daily runs rather than one long one.
const maxAuditBatches = 100

// Sweeper implements jobs.Purger.
type Sweeper struct {
	audit     AuditStore
	transient TransientStore
	archiver  Archiver // nil disables archival
	defaults  Defaults
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. archiver may be nil.
func NewSweeper(audit AuditStore, transient TransientStore, archiver Archiver, defaults Defaults, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = DefaultWindows().BatchSize
	}
	return &Sweeper{
		audit:     audit,
		transient: transient,
		archiver:  archiver,
		defaults:  defaults,
		logger:    logger,
	}
}

// Purge routes a cleanup job to the matching purge. olderThanDays == 0 selects
// the configured default window for the target.
func (s *Sweeper) Purge(ctx context.Context, now time.Time, target types.CleanupTarget, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, types.NewAppError(types.ErrCodeConfiguration,
			fmt.Sprintf("negative retention window %d", olderThanDays), nil)
	}
	days := time.Duration(olderThanDays) * 24 * time.Hour

	switch target {
	case types.CleanupAuditLogs:
		cutoff := now.AddDate(0, -s.defaults.AuditLogMonths, 0)
		if olderThanDays > 0 {
			cutoff = now.AddDate(0, 0, -olderThanDays)
		}
		return s.PurgeAuditLog(ctx, now, cutoff)
	case types.CleanupNonces:
		ttl := s.defaults.NonceTTL
		if olderThanDays > 0 {
			ttl = days
		}
		return s.PurgeNonces(ctx, now, ttl)
	case types.CleanupRateLimits:
		ttl := s.defaults.RateLimitTTL
		if olderThanDays > 0 {
			ttl = days
		}
		return s.PurgeRateLimits(ctx, now, ttl)
	default:
		return 0, types.NewAppError(types.ErrCodeConfiguration,
			fmt.Sprintf("unknown cleanup target %q", target), nil)
	}
}

// PurgeAuditLog deletes debug and info entries older than cutoff in batches,
// archiving each batch first when an archiver is configured.
func (s *Sweeper) PurgeAuditLog(ctx context.Context, now, cutoff time.Time) (int, error) {
	total := 0
	for range maxAuditBatches {
		entries, err := s.audit.ListBefore(ctx, cutoff, types.PurgeableSeverities, s.defaults.BatchSize)
		if err != nil {
			return total, fmt.Errorf("listing audit entries for purge: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		if s.archiver != nil {
			key := ArchiveKey(now, newBatchID())
			if err := s.archiver.Archive(ctx, key, entries); err != nil {
				return total, fmt.Errorf("archiving audit batch to %s: %w", key, err)
			}
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := s.audit.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("deleting audit batch: %w", err)
		}
		total += deleted

		s.logger.InfoContext(ctx, "purged audit batch",
			"batch_size", deleted,
			"total", total,
		)

		if len(entries) < s.defaults.BatchSize {
			break
		}
	}

	s.recordRun(ctx, now, types.CleanupAuditLogs, total)
	return total, nil
}

// PurgeNonces deletes replay nonces created more than ttl before now.
func (s *Sweeper) PurgeNonces(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	n, err := s.transient.DeleteNoncesBefore(ctx, now.Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	s.recordRun(ctx, now, types.CleanupNonces, n)
	return n, nil
}

// PurgeRateLimits deletes rate-limit windows that started more than ttl
// before now.
func (s *Sweeper) PurgeRateLimits(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	n, err := s.transient.DeleteRateLimitsBefore(ctx, now.Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purging rate limits: %w", err)
	}
	s.recordRun(ctx, now, types.CleanupRateLimits, n)
	return n, nil
}

// recordRun appends the cleanup_run ledger entry. A failed append is logged;
// the purge itself already happened.
func (s *Sweeper) recordRun(ctx context.Context, now time.Time, target types.CleanupTarget, count int) {
	entry := &types.AuditEntry{
		Timestamp: now,
		SubjectID: "system",
		Action:    types.AuditCleanupRun,
		Success:   true,
		Severity:  types.SeverityInfo,
		Metadata: types.Metadata{
			"type":  string(target),
			"count": count,
		},
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to record cleanup run",
			"type", target,
			"count", count,
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "cleanup run complete", "type", target, "count", count)
}
