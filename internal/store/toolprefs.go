package store

import (
	"context"

	"mcpbroker/internal/domain"
)

// ToolPreferenceDAO is the raw accessor layer for tool preference rows.
// The three-tier resolution rule and the per-scope cache are business
// logic that belongs to internal/toolfilter; this DAO only reads/writes
// rows.
// A clientID of "" always means the global (NULL clientID) row.
type ToolPreferenceDAO interface {
	GetToolPreference(ctx context.Context, serverID, toolName, clientID string) (*domain.ToolPreference, error)
	ListToolPreferencesForScope(ctx context.Context, serverID, clientID string) ([]domain.ToolPreference, error)
	ListGlobalToolNames(ctx context.Context, serverID string) ([]string, error)
	UpsertToolPreference(ctx context.Context, p domain.ToolPreference) error
	UpdateOriginalDescription(ctx context.Context, serverID, toolName, description string) error
	DeleteToolPreferencesNotIn(ctx context.Context, serverID string, keepToolNames []string) error
	BulkSetEnabled(ctx context.Context, serverID, clientID string, enabled bool) error
	BulkReset(ctx context.Context, serverID, clientID string) error
}

func nullableClientID(clientID string) interface{} {
	if clientID == "" {
		return nil
	}
	return clientID
}

func (s *Store) GetToolPreference(ctx context.Context, serverID, toolName, clientID string) (*domain.ToolPreference, error) {
	const query = `SELECT server_id, tool_name, COALESCE(client_id, '') AS client_id, enabled,
		original_description, custom_name, custom_description
		FROM tool_preferences WHERE server_id = $1 AND tool_name = $2 AND client_id IS $3`

	var p domain.ToolPreference
	if err := s.db.GetContext(ctx, &p, query, serverID, toolName, nullableClientID(clientID)); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "tool", ID: toolName}
		}
		return nil, wrapStoreErr("GetToolPreference", err)
	}
	return &p, nil
}

func (s *Store) ListToolPreferencesForScope(ctx context.Context, serverID, clientID string) ([]domain.ToolPreference, error) {
	const query = `SELECT server_id, tool_name, COALESCE(client_id, '') AS client_id, enabled,
		original_description, custom_name, custom_description
		FROM tool_preferences WHERE server_id = $1 AND client_id IS $2`

	var prefs []domain.ToolPreference
	if err := s.db.SelectContext(ctx, &prefs, query, serverID, nullableClientID(clientID)); err != nil {
		return nil, wrapStoreErr("ListToolPreferencesForScope", err)
	}
	return prefs, nil
}

func (s *Store) ListGlobalToolNames(ctx context.Context, serverID string) ([]string, error) {
	const query = `SELECT tool_name FROM tool_preferences WHERE server_id = $1 AND client_id IS NULL`
	var names []string
	if err := s.db.SelectContext(ctx, &names, query, serverID); err != nil {
		return nil, wrapStoreErr("ListGlobalToolNames", err)
	}
	return names, nil
}

func (s *Store) UpsertToolPreference(ctx context.Context, p domain.ToolPreference) error {
	const query = `INSERT INTO tool_preferences (server_id, tool_name, client_id, enabled,
		original_description, custom_name, custom_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (server_id, tool_name, client_id) DO UPDATE SET
			enabled = excluded.enabled,
			original_description = excluded.original_description,
			custom_name = excluded.custom_name,
			custom_description = excluded.custom_description`

	_, err := s.db.ExecContext(ctx, query, p.ServerID, p.ToolName, nullableClientID(p.ClientID), p.Enabled,
		p.OriginalDescription, p.CustomName, p.CustomDescription)
	if err != nil {
		return wrapStoreErr("UpsertToolPreference", err)
	}
	return nil
}

// UpdateOriginalDescription touches only the original_description column,
// leaving enabled/customName/customDescription untouched's
// discovery-time update rule.
func (s *Store) UpdateOriginalDescription(ctx context.Context, serverID, toolName, description string) error {
	const query = `UPDATE tool_preferences SET original_description = $3
		WHERE server_id = $1 AND tool_name = $2 AND client_id IS NULL`
	_, err := s.db.ExecContext(ctx, query, serverID, toolName, description)
	if err != nil {
		return wrapStoreErr("UpdateOriginalDescription", err)
	}
	return nil
}

// DeleteToolPreferencesNotIn removes every row (global and client-specific,
// the latter via the server_id match since they share the key) for tool
// names no longer announced by the server cleanup.
func (s *Store) DeleteToolPreferencesNotIn(ctx context.Context, serverID string, keepToolNames []string) error {
	if len(keepToolNames) == 0 {
		const query = `DELETE FROM tool_preferences WHERE server_id = $1`
		_, err := s.db.ExecContext(ctx, query, serverID)
		return wrapStoreErr("DeleteToolPreferencesNotIn", err)
	}

	query, args, err := sqlxIn(`DELETE FROM tool_preferences WHERE server_id = ? AND tool_name NOT IN (?)`,
		serverID, keepToolNames)
	if err != nil {
		return wrapStoreErr("DeleteToolPreferencesNotIn.bind", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return wrapStoreErr("DeleteToolPreferencesNotIn", err)
	}
	return nil
}

func (s *Store) BulkSetEnabled(ctx context.Context, serverID, clientID string, enabled bool) error {
	const query = `UPDATE tool_preferences SET enabled = $3 WHERE server_id = $1 AND client_id IS $2`
	_, err := s.db.ExecContext(ctx, query, serverID, nullableClientID(clientID), enabled)
	if err != nil {
		return wrapStoreErr("BulkSetEnabled", err)
	}
	return nil
}

// BulkReset deletes every row in scope, reverting every tool in it to the
// synthetic default (enabled, no overrides) until discovery repopulates
// originalDescription.
func (s *Store) BulkReset(ctx context.Context, serverID, clientID string) error {
	const query = `DELETE FROM tool_preferences WHERE server_id = $1 AND client_id IS $2`
	_, err := s.db.ExecContext(ctx, query, serverID, nullableClientID(clientID))
	if err != nil {
		return wrapStoreErr("BulkReset", err)
	}
	return nil
}
