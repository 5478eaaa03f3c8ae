package notifications

import (
	"context"
	"log/slog"
	"time"

	"subwatch/internal/types"
)

// Metadata keys written on notification audit entries and matched by the
// guard.
const (
	MetaType            = "type"
	MetaSubject         = "subject"
	MetaRecipientEmail  = "recipientEmail"
	MetaDaysUntilExpiry = "daysUntilExpiry"
	MetaUserID          = "userId"
	MetaError           = "error"
	MetaJobID           = "jobId"
)

// AuditQuerier reads the audit ledger.
type AuditQuerier interface {
	Query(ctx context.Context, f types.AuditFilter) ([]types.AuditEntry, error)
}

// Guard answers whether a notification was already delivered, using the
// audit ledger as the source of truth.
type Guard struct {
	audit  AuditQuerier
	logger *slog.Logger
}

func NewGuard(audit AuditQuerier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{audit: audit, logger: logger}
}

// AlreadySent reports whether a successful notification of typ for the
// subscription was recorded on or after the start of day's UTC calendar day.
// threshold distinguishes expiry warnings and is ignored for other types.
//
// If the ledger cannot be read the answer is false: a duplicate email is
// preferred over a silently dropped one.
func (g *Guard) AlreadySent(ctx context.Context, subscriptionID string, typ types.NotificationType, threshold int, day time.Time) bool {
	meta := types.Metadata{MetaType: string(typ)}
	if typ == types.NotificationExpiryWarning {
		meta[MetaDaysUntilExpiry] = threshold
	}
	success := true

	entries, err := g.audit.Query(ctx, types.AuditFilter{
		SubjectID: subscriptionID,
		Action:    types.AuditNotificationSent,
		Success:   &success,
		Since:     types.StartOfDay(day),
		Metadata:  meta,
		Limit:     1,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "idempotency check failed, assuming not sent",
			"subscription_id", subscriptionID,
			"type", string(typ),
			"error", err,
		)
		return false
	}
	return len(entries) > 0
}
