package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subwatch/internal/notifications"
	"subwatch/internal/types"
)

// SubscriptionStore is the subscription access the handlers need.
type SubscriptionStore interface {
	GetByID(ctx context.Context, id string) (*types.Subscription, error)
	ExpireSubscription(ctx context.Context, id string, now time.Time) (bool, error)
}

// SentChecker reports whether a notification was already delivered on the
// given calendar day.
type SentChecker interface {
	AlreadySent(ctx context.Context, subscriptionID string, typ types.NotificationType, threshold int, day time.Time) bool
}

// Notifier delivers a notification and records it in the audit ledger.
type Notifier interface {
	Dispatch(ctx context.Context, intent types.NotificationIntent) (*notifications.DispatchResult, error)
}

// Purger removes stale records of one cleanup target.
type Purger interface {
	Purge(ctx context.Context, now time.Time, target types.CleanupTarget, olderThanDays int) (int, error)
}

// Handlers holds one handler per job class. A nil handler makes jobs of that
// class fail as misconfigured.
type Handlers struct {
	Expire  *ExpireHandler
	Warning *WarningHandler
	Cleanup *CleanupHandler
}

// -----------------------------------------------------------------------------
// Expire
// -----------------------------------------------------------------------------

// ExpireHandler transitions a due subscription to expired and sends the
// expired notice.
type ExpireHandler struct {
	subs     SubscriptionStore
	guard    SentChecker
	notifier Notifier
	logger   *slog.Logger
}

// NewExpireHandler creates an ExpireHandler. guard and notifier may be nil,
// in which case no expired notice is sent.
func NewExpireHandler(subs SubscriptionStore, guard SentChecker, notifier Notifier, logger *slog.Logger) *ExpireHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireHandler{subs: subs, guard: guard, notifier: notifier, logger: logger}
}

// Handle expires the subscription if it is still active and due at now.
// Subscriptions that are missing, already expired or not yet due complete as
// no-ops.
func (h *ExpireHandler) Handle(ctx context.Context, p types.ExpireSubscriptionPayload, now time.Time) (types.JobResult, error) {
	sub, err := h.subs.GetByID(ctx, p.SubscriptionID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundSubscription) {
			return types.ExpireResult{Reason: "subscription not found"}, nil
		}
		return nil, err
	}

	if sub.Status != types.SubscriptionActive {
		return types.ExpireResult{Reason: "already expired"},
			types.NewAppError(types.ErrCodeDomainInvariant, fmt.Sprintf("subscription %s is %s", sub.ID, sub.Status), nil)
	}
	if !sub.IsDue(now) {
		return types.ExpireResult{Reason: "not yet expired"}, nil
	}

	changed, err := h.subs.ExpireSubscription(ctx, sub.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return types.ExpireResult{Reason: "already expired"},
			types.NewAppError(types.ErrCodeDomainInvariant, fmt.Sprintf("subscription %s changed concurrently", sub.ID), nil)
	}

	h.notifyExpired(ctx, sub, now)
	return types.ExpireResult{Expired: true}, nil
}

// notifyExpired is best effort: the transition already happened and must not
// be retried because of a delivery problem.
func (h *ExpireHandler) notifyExpired(ctx context.Context, sub *types.Subscription, now time.Time) {
	if h.notifier == nil {
		return
	}
	if h.guard != nil && h.guard.AlreadySent(ctx, sub.ID, types.NotificationExpired, 0, now) {
		return
	}
	_, err := h.notifier.Dispatch(ctx, types.NotificationIntent{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Type:           types.NotificationExpired,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "expired notice not sent",
			"subscription_id", sub.ID,
			"error", err,
		)
	}
}

// -----------------------------------------------------------------------------
// Warning
// -----------------------------------------------------------------------------

// WarningHandler sends at most one expiry warning per subscription, threshold
// and calendar day.
type WarningHandler struct {
	subs     SubscriptionStore
	guard    SentChecker
	notifier Notifier
}

func NewWarningHandler(subs SubscriptionStore, guard SentChecker, notifier Notifier) *WarningHandler {
	return &WarningHandler{subs: subs, guard: guard, notifier: notifier}
}

func (h *WarningHandler) Handle(ctx context.Context, p types.ExpiryWarningPayload, now time.Time) (types.JobResult, error) {
	result := types.NotifyResult{SubscriptionID: p.SubscriptionID, DaysUntilExpiry: p.DaysUntilExpiry}

	if h.guard.AlreadySent(ctx, p.SubscriptionID, types.NotificationExpiryWarning, p.DaysUntilExpiry, now) {
		result.Reason = "already sent"
		return result, nil
	}

	sub, err := h.subs.GetByID(ctx, p.SubscriptionID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundSubscription) {
			result.Reason = "subscription not found"
			return result, nil
		}
		return nil, err
	}
	if sub.Status != types.SubscriptionActive {
		result.Reason = "subscription not active"
		return result, nil
	}

	_, err = h.notifier.Dispatch(ctx, types.NotificationIntent{
		UserID:          p.UserID,
		SubscriptionID:  p.SubscriptionID,
		Type:            types.NotificationExpiryWarning,
		DaysUntilExpiry: p.DaysUntilExpiry,
	})
	if err != nil {
		if types.HasCode(err, types.ErrCodeRecipientNotFound) {
			result.Reason = "recipient not found"
			return result, err
		}
		return nil, err
	}

	result.Notified = true
	return result, nil
}

// -----------------------------------------------------------------------------
// Cleanup
// -----------------------------------------------------------------------------

// CleanupHandler purges one class of stale records.
type CleanupHandler struct {
	purger Purger
}

func NewCleanupHandler(purger Purger) *CleanupHandler {
	return &CleanupHandler{purger: purger}
}

func (h *CleanupHandler) Handle(ctx context.Context, p types.CleanupPayload, now time.Time) (types.JobResult, error) {
	n, err := h.purger.Purge(ctx, now, p.Target, p.OlderThanDays)
	if err != nil {
		return nil, err
	}
	return types.CleanupResult{Cleaned: n, Type: p.Target}, nil
}
