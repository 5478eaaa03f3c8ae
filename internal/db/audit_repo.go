package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"subwatch/internal/types"
)

// AuditRepository provides access to the append-only audit ledger. Besides
// operational history, the ledger is the source of truth for notification
// idempotency.
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, timestamp, subject_id, action, success, severity, metadata`

// Append writes one entry. An empty ID is filled with a new UUID.
func (r *AuditRepository) Append(ctx context.Context, e *types.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Severity == "" {
		e.Severity = types.SeverityInfo
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID,
		e.Timestamp,
		e.SubjectID,
		string(e.Action),
		e.Success,
		string(e.Severity),
		e.Metadata,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit entry", err)
	}
	return nil
}

// Query returns entries matching f, newest first. Metadata is matched with
// JSONB containment (metadata @> $n).
func (r *AuditRepository) Query(ctx context.Context, f types.AuditFilter) ([]types.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if len(f.Metadata) > 0 {
		contains, err := json.Marshal(f.Metadata)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode metadata filter", err)
		}
		add("metadata @> $%d::jsonb", string(contains))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + auditColumns + ` FROM audit_log`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp DESC, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	return r.list(ctx, sb.String(), args...)
}

// ListBefore returns up to limit entries older than cutoff with one of the
// given severities, oldest first.
func (r *AuditRepository) ListBefore(ctx context.Context, cutoff time.Time, severities []types.Severity, limit int) ([]types.AuditEntry, error) {
	sev := make([]string, len(severities))
	for i, s := range severities {
		sev[i] = string(s)
	}
	return r.list(ctx,
		`SELECT `+auditColumns+`
		 FROM audit_log
		 WHERE timestamp < $1
		   AND severity = ANY($2)
		 ORDER BY timestamp, id
		 LIMIT $3`,
		cutoff, sev, limit,
	)
}

// DeleteByIDs removes the given entries and returns the number deleted.
func (r *AuditRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_log WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete audit entries", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]types.AuditEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query audit log", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var (
			e        types.AuditEntry
			action   string
			severity string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SubjectID, &action, &e.Success, &severity, &e.Metadata); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit entry", err)
		}
		e.Action = types.AuditAction(action)
		e.Severity = types.Severity(severity)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate audit log", err)
	}
	return out, nil
}
