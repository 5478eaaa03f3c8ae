package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subwatch/internal/types"
)

var t0 = time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memLedger is an in-memory audit ledger that evaluates AuditFilter the way
// the Postgres query does, including metadata containment.
type memLedger struct {
	mu        sync.Mutex
	entries   []types.AuditEntry
	appendErr error
	queryErr  error
	queries   []types.AuditFilter
}

func (l *memLedger) Append(_ context.Context, e *types.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLedger) Query(_ context.Context, f types.AuditFilter) ([]types.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, f)
	if l.queryErr != nil {
		return nil, l.queryErr
	}

	var out []types.AuditEntry
	for _, e := range l.entries {
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !contains(e.Metadata, f.Metadata) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func contains(have, want types.Metadata) bool {
	for k, v := range want {
		if fmt.Sprint(have[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (l *memLedger) byAction(action types.AuditAction) []types.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.AuditEntry
	for _, e := range l.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeProfiles map[string]*types.Profile

func (f fakeProfiles) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	p, ok := f[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeRecipientNotFound, "no profile", nil)
	}
	return p, nil
}

type sentMail struct {
	to, subject, body string
}

type fakeTransport struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (t *fakeTransport) Send(_ context.Context, to, subject, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, sentMail{to, subject, body})
	return nil
}
