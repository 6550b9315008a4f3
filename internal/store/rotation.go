package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
)

// RotateEncryptionKey re-encrypts every encrypted column of every OAuth
// token row and pending auth-state row, plus the server and
// OAuth config tables that carry the same class of secret (Open Question
// 2), under newSvc's key inside a single transaction. Failure leaves the
// old key authoritative: the transaction is rolled back and newSvc is
// never committed to disk by the caller.
func (s *Store) RotateEncryptionKey(ctx context.Context, oldKey []byte, newSvc *crypto.Service) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStoreErr("RotateEncryptionKey.begin", err)
	}
	defer txClose(tx, &err)

	if err = rotateColumn(ctx, tx, oldKey, newSvc, "oauth_tokens", "server_id",
		[]string{"access_token_enc", "refresh_token_enc", "id_token_enc"}); err != nil {
		return err
	}
	if err = rotateColumn(ctx, tx, oldKey, newSvc, "oauth_auth_states", "state",
		[]string{"code_verifier_enc"}); err != nil {
		return err
	}
	if err = rotateColumn(ctx, tx, oldKey, newSvc, "oauth_configs", "server_id",
		[]string{"client_secret_enc", "scopes_enc", "additional_params_enc", "registration_access_token_enc"}); err != nil {
		return err
	}
	if err = rotateColumn(ctx, tx, oldKey, newSvc, "servers", "id",
		[]string{"args_enc", "env_enc", "remote_url_enc", "bearer_token_enc", "input_params_enc"}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return wrapStoreErr("RotateEncryptionKey.commit", err)
	}
	return nil
}

// rotateColumn decrypts encCols under oldKey and re-encrypts them under
// newSvc's key for every row of table, keyed by keyCol, inside tx.
func rotateColumn(ctx context.Context, tx *sqlx.Tx, oldKey []byte, newSvc *crypto.Service, table, keyCol string, encCols []string) error {
	selectCols := keyCol
	for _, c := range encCols {
		selectCols += ", " + c
	}
	rows, err := tx.QueryxContext(ctx, "SELECT "+selectCols+" FROM "+table)
	if err != nil {
		return &domain.StoreError{Op: "rotateColumn.select", Cause: err}
	}

	type pendingUpdate struct {
		key    string
		values []string
	}
	var updates []pendingUpdate

	for rows.Next() {
		dest := make([]interface{}, 1+len(encCols))
		var key string
		dest[0] = &key
		raw := make([]string, len(encCols))
		for i := range encCols {
			dest[i+1] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return &domain.StoreError{Op: "rotateColumn.scan", Cause: err}
		}

		reencrypted := make([]string, len(encCols))
		for i, v := range raw {
			newVal, err := crypto.ReencryptColumn(oldKey, newSvc, v)
			if err != nil {
				rows.Close()
				return err
			}
			reencrypted[i] = newVal
		}
		updates = append(updates, pendingUpdate{key: key, values: reencrypted})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &domain.StoreError{Op: "rotateColumn.iterate", Cause: err}
	}
	rows.Close()

	setClause := ""
	for i, c := range encCols {
		if i > 0 {
			setClause += ", "
		}
		setClause += c + " = ?"
	}
	updateQuery := tx.Rebind("UPDATE " + table + " SET " + setClause + " WHERE " + keyCol + " = ?")

	for _, u := range updates {
		args := make([]interface{}, 0, len(u.values)+1)
		for _, v := range u.values {
			args = append(args, v)
		}
		args = append(args, u.key)
		if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
			return &domain.StoreError{Op: "rotateColumn.update", Cause: err}
		}
	}
	return nil
}
