package store

import (
	"context"

	"mcpbroker/internal/domain"
)

// ClientDAO persists the Client entity. Nothing here is encrypted; a
// client record carries no secret material of its own.
type ClientDAO interface {
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	CreateClient(ctx context.Context, c domain.Client) error
	RemoveClient(ctx context.Context, id string) error
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM clients WHERE id = $1`
	var c domain.Client
	if err := s.db.GetContext(ctx, &c, query, id); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "client", ID: id}
		}
		return nil, wrapStoreErr("GetClient", err)
	}
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM clients ORDER BY name`
	var clients []domain.Client
	if err := s.db.SelectContext(ctx, &clients, query); err != nil {
		return nil, wrapStoreErr("ListClients", err)
	}
	return clients, nil
}

func (s *Store) CreateClient(ctx context.Context, c domain.Client) error {
	const query = `INSERT INTO clients (id, name, description, created_at, updated_at)
		VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, query, c); err != nil {
		return wrapStoreErr("CreateClient", err)
	}
	return nil
}

func (s *Store) RemoveClient(ctx context.Context, id string) error {
	const query = `DELETE FROM clients WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrapStoreErr("RemoveClient", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "client", ID: id}
	}
	return nil
}
