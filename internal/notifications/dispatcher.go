package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"subwatch/internal/types"
)

// ProfileSource resolves recipients.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// Transport sends a plain-text email.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AuditAppender writes entries to the audit ledger.
type AuditAppender interface {
	Append(ctx context.Context, e *types.AuditEntry) error
}

// DispatchResult describes a delivered notification.
type DispatchResult struct {
	Recipient string
	Subject   string
}

// Dispatcher resolves the recipient, composes the message, sends it and
// records the outcome in the audit ledger.
type Dispatcher struct {
	profiles  ProfileSource
	transport Transport
	audit     AuditAppender
	clock     types.Clock
	logger    *slog.Logger
}

func NewDispatcher(profiles ProfileSource, transport Transport, audit AuditAppender, clock types.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		profiles:  profiles,
		transport: transport,
		audit:     audit,
		clock:     clock,
		logger:    logger,
	}
}

// Dispatch delivers the notification described by intent.
//
// A user without a profile (or without an email address) yields a
// not_found_recipient error and nothing is sent or audited. A transport
// failure is audited as notification_failed and returned as dispatch_failed.
// Once the transport accepts the message the dispatch is successful, even if
// recording it fails: retrying would send it again.
func (d *Dispatcher) Dispatch(ctx context.Context, intent types.NotificationIntent) (*DispatchResult, error) {
	logger := d.logger.With(
		"subscription_id", intent.SubscriptionID,
		"user_id", intent.UserID,
		"type", string(intent.Type),
	)

	profile, err := d.profiles.GetProfile(ctx, intent.UserID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeRecipientNotFound) {
			logger.WarnContext(ctx, "notification skipped, recipient not found")
		}
		return nil, err
	}
	if profile.Email == "" {
		logger.WarnContext(ctx, "notification skipped, recipient has no email")
		return nil, types.NewAppError(types.ErrCodeRecipientNotFound, fmt.Sprintf("user %s has no email address", intent.UserID), nil)
	}

	msg, err := Compose(intent, profile)
	if err != nil {
		return nil, err
	}

	meta := types.Metadata{
		MetaType:           string(intent.Type),
		MetaSubject:        msg.Subject,
		MetaRecipientEmail: profile.Email,
		MetaUserID:         intent.UserID,
	}
	if intent.Type == types.NotificationExpiryWarning {
		meta[MetaDaysUntilExpiry] = intent.DaysUntilExpiry
	}
	if jobID := types.GetJobID(ctx); jobID != "" {
		meta[MetaJobID] = jobID
		logger = logger.With("job_id", jobID)
	}

	if err := d.transport.Send(ctx, profile.Email, msg.Subject, msg.Body); err != nil {
		meta[MetaError] = err.Error()
		d.record(ctx, intent, false, types.SeverityWarning, types.AuditNotificationFailed, meta, logger)
		return nil, types.NewAppError(types.ErrCodeDispatchFailed,
			fmt.Sprintf("sending %s notification", intent.Type), err)
	}

	d.record(ctx, intent, true, types.SeverityInfo, types.AuditNotificationSent, meta, logger)
	logger.InfoContext(ctx, "notification sent", "recipient", RedactEmail(profile.Email))

	return &DispatchResult{Recipient: profile.Email, Subject: msg.Subject}, nil
}

func (d *Dispatcher) record(
	ctx context.Context,
	intent types.NotificationIntent,
	success bool,
	severity types.Severity,
	action types.AuditAction,
	meta types.Metadata,
	logger *slog.Logger,
) {
	err := d.audit.Append(ctx, &types.AuditEntry{
		Timestamp: d.clock.Now(),
		SubjectID: intent.SubscriptionID,
		Action:    action,
		Success:   success,
		Severity:  severity,
		Metadata:  meta,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to record notification in audit log",
			"action", string(action),
			"error", err,
		)
	}
}
