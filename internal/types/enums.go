package types

// SubscriptionStatus represents the lifecycle state of a subscription.
// The only transition this service performs is active -> expired.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// NotificationType identifies the kind of lifecycle notification sent to a user.
type NotificationType string

const (
	NotificationExpiryWarning NotificationType = "expiry_warning"
	NotificationExpired       NotificationType = "expired"
	NotificationCancelled     NotificationType = "cancelled"
)

// AuditAction identifies the kind of event recorded in the audit ledger.
type AuditAction string

const (
	AuditNotificationSent   AuditAction = "notification_sent"
	AuditNotificationFailed AuditAction = "notification_failed"
	AuditCleanupRun         AuditAction = "cleanup_run"
	AuditJobDead            AuditAction = "job_dead"
)

// Severity classifies audit entries for retention. Only debug and info
// entries are eligible for purging.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// PurgeableSeverities lists the severities the retention sweeper may delete.
var PurgeableSeverities = []Severity{SeverityDebug, SeverityInfo}

// WarningThresholds are the day counts before expiry at which a warning is due,
// in scan order.
var WarningThresholds = []int{7, 3, 1}
