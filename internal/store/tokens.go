package store

import (
	"context"
	"encoding/json"

	"mcpbroker/internal/domain"
)

// TokenDAO persists the Token entity. ServerIDs are modeled as the
// token_servers join table so that removing a server cascades out of
// every token's grant automatically, rather than by
// rewriting a JSON array on every server deletion.
type TokenDAO interface {
	GetToken(ctx context.Context, id string) (*domain.Token, error)
	ListTokensByClient(ctx context.Context, clientID string) ([]domain.Token, error)
	CreateToken(ctx context.Context, t domain.Token) error
	RevokeToken(ctx context.Context, id string) error
}

func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	const query = `SELECT id, client_id, scopes_json, issued_at FROM tokens WHERE id = $1`
	var row struct {
		ID         string `db:"id"`
		ClientID   string `db:"client_id"`
		ScopesJSON string `db:"scopes_json"`
		IssuedAt   int64  `db:"issued_at"`
	}
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "token", ID: id}
		}
		return nil, wrapStoreErr("GetToken", err)
	}

	serverIDs, err := s.tokenServerIDs(ctx, id)
	if err != nil {
		return nil, err
	}

	t := &domain.Token{ID: row.ID, ClientID: row.ClientID, IssuedAt: row.IssuedAt, ServerIDs: serverIDs}
	if row.ScopesJSON != "" {
		_ = json.Unmarshal([]byte(row.ScopesJSON), &t.Scopes)
	}
	return t, nil
}

func (s *Store) tokenServerIDs(ctx context.Context, tokenID string) ([]string, error) {
	const query = `SELECT server_id FROM token_servers WHERE token_id = $1`
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, tokenID); err != nil {
		return nil, wrapStoreErr("tokenServerIDs", err)
	}
	return ids, nil
}

func (s *Store) ListTokensByClient(ctx context.Context, clientID string) ([]domain.Token, error) {
	const query = `SELECT id, client_id, scopes_json, issued_at FROM tokens WHERE client_id = $1 ORDER BY issued_at`
	var rows []struct {
		ID         string `db:"id"`
		ClientID   string `db:"client_id"`
		ScopesJSON string `db:"scopes_json"`
		IssuedAt   int64  `db:"issued_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, clientID); err != nil {
		return nil, wrapStoreErr("ListTokensByClient", err)
	}

	out := make([]domain.Token, 0, len(rows))
	for _, r := range rows {
		serverIDs, err := s.tokenServerIDs(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		t := domain.Token{ID: r.ID, ClientID: r.ClientID, IssuedAt: r.IssuedAt, ServerIDs: serverIDs}
		if r.ScopesJSON != "" {
			_ = json.Unmarshal([]byte(r.ScopesJSON), &t.Scopes)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreateToken(ctx context.Context, t domain.Token) error {
	scopesJSON, _ := json.Marshal(t.Scopes)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStoreErr("CreateToken.begin", err)
	}
	defer txClose(tx, &err)

	const insertToken = `INSERT INTO tokens (id, client_id, scopes_json, issued_at) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, insertToken, t.ID, t.ClientID, string(scopesJSON), t.IssuedAt); err != nil {
		return wrapStoreErr("CreateToken.insert", err)
	}

	const insertGrant = `INSERT INTO token_servers (token_id, server_id) VALUES ($1, $2)`
	for _, serverID := range t.ServerIDs {
		if _, err = tx.ExecContext(ctx, insertGrant, t.ID, serverID); err != nil {
			return wrapStoreErr("CreateToken.grant", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return wrapStoreErr("CreateToken.commit", err)
	}
	return nil
}

func (s *Store) RevokeToken(ctx context.Context, id string) error {
	const query = `DELETE FROM tokens WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrapStoreErr("RevokeToken", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "token", ID: id}
	}
	return nil
}
