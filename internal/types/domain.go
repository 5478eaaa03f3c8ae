package types

import "time"

// Subscription is the subset of the billing service's subscription record this
// service reads and transitions.
type Subscription struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Status    SubscriptionStatus `json:"status"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// IsDue reports whether the subscription has reached its expiry instant.
// A subscription without an expiry is never due.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Candidate is a subscription found by a scan as crossing a time threshold.
type Candidate struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ExpiryWindow is a time range over expires_at with explicit bound inclusivity.
// The near-expiry scan uses (now, now+1h]; warning scans use whole-day
// buckets [startOfDay, nextDay).
type ExpiryWindow struct {
	Start        time.Time
	End          time.Time
	IncludeStart bool
	IncludeEnd   bool
}

// Contains reports whether t falls inside the window.
func (w ExpiryWindow) Contains(t time.Time) bool {
	if w.IncludeStart {
		if t.Before(w.Start) {
			return false
		}
	} else if !t.After(w.Start) {
		return false
	}
	if w.IncludeEnd {
		return !t.After(w.End)
	}
	return t.Before(w.End)
}

// Profile is the recipient record resolved from the user directory.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// AuditEntry is one append-only record in the audit ledger. Entries are never
// mutated after they are written.
type AuditEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	SubjectID string      `json:"subject_id"`
	Action    AuditAction `json:"action"`
	Success   bool        `json:"success"`
	Severity  Severity    `json:"severity"`
	Metadata  Metadata    `json:"metadata,omitempty"`
}

// AuditFilter selects audit entries. Zero-valued fields do not constrain the
// query. Metadata is matched by JSON containment.
type AuditFilter struct {
	SubjectID string
	Action    AuditAction
	Success   *bool
	Since     time.Time
	Metadata  Metadata
	Limit     int
}

// NotificationIntent is built by the executor and consumed by the dispatcher.
// DaysUntilExpiry is meaningful only for NotificationExpiryWarning.
type NotificationIntent struct {
	UserID          string           `json:"user_id"`
	SubscriptionID  string           `json:"subscription_id"`
	Type            NotificationType `json:"type"`
	DaysUntilExpiry int              `json:"days_until_expiry,omitempty"`
}
