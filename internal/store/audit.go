package store

import (
	"context"
	"encoding/json"

	"mcpbroker/internal/domain"
)

// AuditDAO persists the append-only-to-disk half of the audit log; the
// in-memory 10,000-entry ring is owned by internal/oauthgov.
type AuditDAO interface {
	AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	TrimAuditEntriesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error)
}

func (s *Store) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error {
	detailsJSON, _ := json.Marshal(e.Details)
	const query = `INSERT INTO audit_log (id, timestamp, event_type, severity, server_id, details_json)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.db.ExecContext(ctx, query, e.ID, e.Timestamp, e.EventType, string(e.Severity),
		nullableString(e.ServerID), string(detailsJSON))
	if err != nil {
		return wrapStoreErr("AppendAuditEntry", err)
	}
	return nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	const query = `SELECT id, timestamp, event_type, severity, COALESCE(server_id, '') AS server_id,
		details_json FROM audit_log ORDER BY timestamp DESC LIMIT $1`

	var rows []struct {
		domain.AuditEntry
		DetailsJSON string `db:"details_json"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, wrapStoreErr("ListAuditEntries", err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := r.AuditEntry
		if r.DetailsJSON != "" {
			_ = json.Unmarshal([]byte(r.DetailsJSON), &e.Details)
		}
		out = append(out, e)
	}
	return out, nil
}

// TrimAuditEntriesOlderThan implements the 90-day file retention trim run
// at startup.
func (s *Store) TrimAuditEntriesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error) {
	const query = `DELETE FROM audit_log WHERE timestamp < $1`
	res, err := s.db.ExecContext(ctx, query, cutoffUnixMillis)
	if err != nil {
		return 0, wrapStoreErr("TrimAuditEntriesOlderThan", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
