package store

import (
	"context"
	"encoding/json"

	"mcpbroker/internal/domain"
)

// ServerDAO persists the Server entity of Args, Env, RemoteURL,
// BearerToken and InputParams are encrypted columns per Open Question 2
// in DESIGN.md; Status/ErrorMessage/Logs are runtime-only and never
// reach this table (they are owned by the Server Manager).
type ServerDAO interface {
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	GetServerByName(ctx context.Context, name string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	CreateServer(ctx context.Context, s domain.Server) error
	UpdateServer(ctx context.Context, s domain.Server) error
	RemoveServer(ctx context.Context, id string) error
}

type serverRow struct {
	ID                 string `db:"id"`
	Name               string `db:"name"`
	ServerType         string `db:"server_type"`
	Command            string `db:"command"`
	ArgsEnc            string `db:"args_enc"`
	EnvEnc             string `db:"env_enc"`
	RemoteURLEnc       string `db:"remote_url_enc"`
	BearerTokenEnc     string `db:"bearer_token_enc"`
	InputParamsEnc     string `db:"input_params_enc"`
	AutoStart          bool   `db:"auto_start"`
	Disabled           bool   `db:"disabled"`
	LatestKnownVersion string `db:"latest_known_version"`
	ToolPermissionsJSON string `db:"tool_permissions_json"`
}

func (s *Store) encryptServer(sv domain.Server) (serverRow, error) {
	argsJSON, _ := json.Marshal(sv.Args)
	envJSON, _ := json.Marshal(sv.Env)
	inputParamsJSON, _ := json.Marshal(sv.InputParams)
	toolPermsJSON, _ := json.Marshal(sv.ToolPermissions)

	argsEnc, err := s.crypto.Encrypt(string(argsJSON))
	if err != nil {
		return serverRow{}, err
	}
	envEnc, err := s.crypto.Encrypt(string(envJSON))
	if err != nil {
		return serverRow{}, err
	}
	remoteURLEnc, err := s.crypto.Encrypt(sv.RemoteURL)
	if err != nil {
		return serverRow{}, err
	}
	bearerEnc, err := s.crypto.Encrypt(sv.BearerToken)
	if err != nil {
		return serverRow{}, err
	}
	inputParamsEnc, err := s.crypto.Encrypt(string(inputParamsJSON))
	if err != nil {
		return serverRow{}, err
	}

	return serverRow{
		ID:                  sv.ID,
		Name:                sv.Name,
		ServerType:          string(sv.ServerType),
		Command:             sv.Command,
		ArgsEnc:             argsEnc,
		EnvEnc:              envEnc,
		RemoteURLEnc:        remoteURLEnc,
		BearerTokenEnc:      bearerEnc,
		InputParamsEnc:      inputParamsEnc,
		AutoStart:           sv.AutoStart,
		Disabled:            sv.Disabled,
		LatestKnownVersion:  sv.LatestKnownVersion,
		ToolPermissionsJSON: string(toolPermsJSON),
	}, nil
}

func (s *Store) decryptServer(r serverRow) (*domain.Server, error) {
	argsJSON, err := s.crypto.Decrypt(r.ArgsEnc)
	if err != nil {
		return nil, err
	}
	envJSON, err := s.crypto.Decrypt(r.EnvEnc)
	if err != nil {
		return nil, err
	}
	remoteURL, err := s.crypto.Decrypt(r.RemoteURLEnc)
	if err != nil {
		return nil, err
	}
	bearerToken, err := s.crypto.Decrypt(r.BearerTokenEnc)
	if err != nil {
		return nil, err
	}
	inputParamsJSON, err := s.crypto.Decrypt(r.InputParamsEnc)
	if err != nil {
		return nil, err
	}

	sv := &domain.Server{
		ID:                 r.ID,
		Name:               r.Name,
		ServerType:         domain.ServerType(r.ServerType),
		Command:            r.Command,
		RemoteURL:          remoteURL,
		BearerToken:        bearerToken,
		AutoStart:          r.AutoStart,
		Disabled:           r.Disabled,
		LatestKnownVersion: r.LatestKnownVersion,
	}
	if argsJSON != "" {
		_ = json.Unmarshal([]byte(argsJSON), &sv.Args)
	}
	if envJSON != "" {
		_ = json.Unmarshal([]byte(envJSON), &sv.Env)
	}
	if inputParamsJSON != "" {
		_ = json.Unmarshal([]byte(inputParamsJSON), &sv.InputParams)
	}
	if r.ToolPermissionsJSON != "" {
		_ = json.Unmarshal([]byte(r.ToolPermissionsJSON), &sv.ToolPermissions)
	}
	return sv, nil
}

func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	const query = `SELECT id, name, server_type, command, args_enc, env_enc, remote_url_enc,
		bearer_token_enc, input_params_enc, auto_start, disabled, latest_known_version, tool_permissions_json
		FROM servers WHERE id = $1`

	var row serverRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "server", ID: id}
		}
		return nil, wrapStoreErr("GetServer", err)
	}
	return s.decryptServer(row)
}

func (s *Store) GetServerByName(ctx context.Context, name string) (*domain.Server, error) {
	const query = `SELECT id, name, server_type, command, args_enc, env_enc, remote_url_enc,
		bearer_token_enc, input_params_enc, auto_start, disabled, latest_known_version, tool_permissions_json
		FROM servers WHERE name = $1`

	var row serverRow
	if err := s.db.GetContext(ctx, &row, query, name); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "server", ID: name}
		}
		return nil, wrapStoreErr("GetServerByName", err)
	}
	return s.decryptServer(row)
}

func (s *Store) ListServers(ctx context.Context) ([]domain.Server, error) {
	const query = `SELECT id, name, server_type, command, args_enc, env_enc, remote_url_enc,
		bearer_token_enc, input_params_enc, auto_start, disabled, latest_known_version, tool_permissions_json
		FROM servers ORDER BY name`

	var rows []serverRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrapStoreErr("ListServers", err)
	}
	out := make([]domain.Server, 0, len(rows))
	for _, r := range rows {
		sv, err := s.decryptServer(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, nil
}

func (s *Store) CreateServer(ctx context.Context, sv domain.Server) error {
	row, err := s.encryptServer(sv)
	if err != nil {
		return err
	}
	const query = `INSERT INTO servers (id, name, server_type, command, args_enc, env_enc, remote_url_enc,
		bearer_token_enc, input_params_enc, auto_start, disabled, latest_known_version, tool_permissions_json)
		VALUES (:id, :name, :server_type, :command, :args_enc, :env_enc, :remote_url_enc,
		:bearer_token_enc, :input_params_enc, :auto_start, :disabled, :latest_known_version, :tool_permissions_json)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return wrapStoreErr("CreateServer", err)
	}
	return nil
}

func (s *Store) UpdateServer(ctx context.Context, sv domain.Server) error {
	row, err := s.encryptServer(sv)
	if err != nil {
		return err
	}
	const query = `UPDATE servers SET name = :name, server_type = :server_type, command = :command,
		args_enc = :args_enc, env_enc = :env_enc, remote_url_enc = :remote_url_enc,
		bearer_token_enc = :bearer_token_enc, input_params_enc = :input_params_enc,
		auto_start = :auto_start, disabled = :disabled, latest_known_version = :latest_known_version,
		tool_permissions_json = :tool_permissions_json
		WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return wrapStoreErr("UpdateServer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "server", ID: sv.ID}
	}
	return nil
}

func (s *Store) RemoveServer(ctx context.Context, id string) error {
	const query = `DELETE FROM servers WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrapStoreErr("RemoveServer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "server", ID: id}
	}
	return nil
}
