package store

import (
	"context"
	"encoding/json"

	"mcpbroker/internal/domain"
)

// OAuthConfigDAO, OAuthTokenDAO and OAuthAuthStateDAO persist Component
// E's (OAuth Core) per-server records. ClientSecret, AdditionalParams,
// RegistrationAccessToken, AccessToken, RefreshToken, IDToken and
// CodeVerifier are all encrypted columns.
type OAuthConfigDAO interface {
	GetOAuthConfig(ctx context.Context, serverID string) (*domain.OAuthConfig, error)
	ListOAuthConfigs(ctx context.Context) ([]domain.OAuthConfig, error)
	UpsertOAuthConfig(ctx context.Context, c domain.OAuthConfig) error
	DeleteOAuthConfig(ctx context.Context, serverID string) error
}

type OAuthTokenDAO interface {
	GetOAuthToken(ctx context.Context, serverID string) (*domain.OAuthToken, error)
	ListOAuthTokens(ctx context.Context) ([]domain.OAuthToken, error)
	UpsertOAuthToken(ctx context.Context, t domain.OAuthToken) error
	DeleteOAuthToken(ctx context.Context, serverID string) error
}

type OAuthAuthStateDAO interface {
	GetOAuthAuthState(ctx context.Context, state string) (*domain.OAuthAuthState, error)
	CreateOAuthAuthState(ctx context.Context, a domain.OAuthAuthState) error
	DeleteOAuthAuthState(ctx context.Context, state string) error
	DeleteOAuthAuthStatesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error)
}

const oauthConfigSelectCols = `server_id, provider, discovery_url, client_id, client_secret_enc, scopes_enc,
	grant_type, authorization_url, token_url, revoke_url, introspect_url, userinfo_url,
	use_pkce, dynamic_registration, audience, additional_params_enc,
	registration_client_uri, registration_access_token_enc`

type oauthConfigRow struct {
	domain.OAuthConfig
	ClientSecretEnc            string `db:"client_secret_enc"`
	ScopesEnc                  string `db:"scopes_enc"`
	AdditionalParamsEnc        string `db:"additional_params_enc"`
	RegistrationAccessTokenEnc string `db:"registration_access_token_enc"`
}

func (s *Store) decryptOAuthConfig(row oauthConfigRow) (*domain.OAuthConfig, error) {
	cfg := row.OAuthConfig
	var err error
	if cfg.ClientSecret, err = s.crypto.Decrypt(row.ClientSecretEnc); err != nil {
		return nil, err
	}
	if cfg.RegistrationAccessToken, err = s.crypto.Decrypt(row.RegistrationAccessTokenEnc); err != nil {
		return nil, err
	}
	scopesJSON, err := s.crypto.Decrypt(row.ScopesEnc)
	if err != nil {
		return nil, err
	}
	if scopesJSON != "" {
		_ = json.Unmarshal([]byte(scopesJSON), &cfg.Scopes)
	}
	paramsJSON, err := s.crypto.Decrypt(row.AdditionalParamsEnc)
	if err != nil {
		return nil, err
	}
	if paramsJSON != "" {
		_ = json.Unmarshal([]byte(paramsJSON), &cfg.AdditionalParams)
	}
	return &cfg, nil
}

func (s *Store) GetOAuthConfig(ctx context.Context, serverID string) (*domain.OAuthConfig, error) {
	query := `SELECT ` + oauthConfigSelectCols + ` FROM oauth_configs WHERE server_id = $1`

	var row oauthConfigRow
	if err := s.db.GetContext(ctx, &row, query, serverID); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "server", ID: serverID}
		}
		return nil, wrapStoreErr("GetOAuthConfig", err)
	}
	return s.decryptOAuthConfig(row)
}

// ListOAuthConfigs returns every configured server's OAuth config, used by
// the Governance backup component to snapshot the full dataset.
func (s *Store) ListOAuthConfigs(ctx context.Context) ([]domain.OAuthConfig, error) {
	query := `SELECT ` + oauthConfigSelectCols + ` FROM oauth_configs`

	var rows []oauthConfigRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrapStoreErr("ListOAuthConfigs", err)
	}
	out := make([]domain.OAuthConfig, 0, len(rows))
	for _, r := range rows {
		cfg, err := s.decryptOAuthConfig(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *Store) UpsertOAuthConfig(ctx context.Context, c domain.OAuthConfig) error {
	secretEnc, err := s.crypto.Encrypt(c.ClientSecret)
	if err != nil {
		return err
	}
	regTokenEnc, err := s.crypto.Encrypt(c.RegistrationAccessToken)
	if err != nil {
		return err
	}
	scopesJSON, _ := json.Marshal(c.Scopes)
	scopesEnc, err := s.crypto.Encrypt(string(scopesJSON))
	if err != nil {
		return err
	}
	paramsJSON, _ := json.Marshal(c.AdditionalParams)
	paramsEnc, err := s.crypto.Encrypt(string(paramsJSON))
	if err != nil {
		return err
	}

	const query = `INSERT INTO oauth_configs (server_id, provider, discovery_url, client_id,
		client_secret_enc, scopes_enc, grant_type, authorization_url, token_url, revoke_url,
		introspect_url, userinfo_url, use_pkce, dynamic_registration, audience,
		additional_params_enc, registration_client_uri, registration_access_token_enc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (server_id) DO UPDATE SET
			provider = excluded.provider, discovery_url = excluded.discovery_url,
			client_id = excluded.client_id, client_secret_enc = excluded.client_secret_enc,
			scopes_enc = excluded.scopes_enc, grant_type = excluded.grant_type,
			authorization_url = excluded.authorization_url, token_url = excluded.token_url,
			revoke_url = excluded.revoke_url, introspect_url = excluded.introspect_url,
			userinfo_url = excluded.userinfo_url, use_pkce = excluded.use_pkce,
			dynamic_registration = excluded.dynamic_registration, audience = excluded.audience,
			additional_params_enc = excluded.additional_params_enc,
			registration_client_uri = excluded.registration_client_uri,
			registration_access_token_enc = excluded.registration_access_token_enc`

	_, err = s.db.ExecContext(ctx, query, c.ServerID, c.Provider, c.DiscoveryURL, c.ClientID,
		secretEnc, scopesEnc, string(c.GrantType), c.AuthorizationURL, c.TokenURL, c.RevokeURL,
		c.IntrospectURL, c.UserinfoURL, c.UsePKCE, c.DynamicRegistration, c.Audience,
		paramsEnc, c.RegistrationClientURI, regTokenEnc)
	if err != nil {
		return wrapStoreErr("UpsertOAuthConfig", err)
	}
	return nil
}

func (s *Store) DeleteOAuthConfig(ctx context.Context, serverID string) error {
	const query = `DELETE FROM oauth_configs WHERE server_id = $1`
	_, err := s.db.ExecContext(ctx, query, serverID)
	return wrapStoreErr("DeleteOAuthConfig", err)
}

type oauthTokenRow struct {
	ServerID        string `db:"server_id"`
	AccessTokenEnc  string `db:"access_token_enc"`
	RefreshTokenEnc string `db:"refresh_token_enc"`
	IDTokenEnc      string `db:"id_token_enc"`
	TokenType       string `db:"token_type"`
	ExpiresAt       *int64 `db:"expires_at"`
	ScopesJSON      string `db:"scopes_json"`
	RefreshCount    int    `db:"refresh_count"`
	LastUsed        int64  `db:"last_used"`
}

func (s *Store) decryptOAuthToken(r oauthTokenRow) (*domain.OAuthToken, error) {
	accessToken, err := s.crypto.Decrypt(r.AccessTokenEnc)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.crypto.Decrypt(r.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	idToken, err := s.crypto.Decrypt(r.IDTokenEnc)
	if err != nil {
		return nil, err
	}
	t := &domain.OAuthToken{
		ServerID:     r.ServerID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		TokenType:    r.TokenType,
		ExpiresAt:    r.ExpiresAt,
		RefreshCount: r.RefreshCount,
		LastUsed:     r.LastUsed,
	}
	if r.ScopesJSON != "" {
		_ = json.Unmarshal([]byte(r.ScopesJSON), &t.Scopes)
	}
	return t, nil
}

func (s *Store) GetOAuthToken(ctx context.Context, serverID string) (*domain.OAuthToken, error) {
	const query = `SELECT server_id, access_token_enc, refresh_token_enc, id_token_enc, token_type,
		expires_at, scopes_json, refresh_count, last_used FROM oauth_tokens WHERE server_id = $1`
	var row oauthTokenRow
	if err := s.db.GetContext(ctx, &row, query, serverID); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "token", ID: serverID}
		}
		return nil, wrapStoreErr("GetOAuthToken", err)
	}
	return s.decryptOAuthToken(row)
}

func (s *Store) ListOAuthTokens(ctx context.Context) ([]domain.OAuthToken, error) {
	const query = `SELECT server_id, access_token_enc, refresh_token_enc, id_token_enc, token_type,
		expires_at, scopes_json, refresh_count, last_used FROM oauth_tokens`
	var rows []oauthTokenRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrapStoreErr("ListOAuthTokens", err)
	}
	out := make([]domain.OAuthToken, 0, len(rows))
	for _, r := range rows {
		t, err := s.decryptOAuthToken(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) UpsertOAuthToken(ctx context.Context, t domain.OAuthToken) error {
	accessEnc, err := s.crypto.Encrypt(t.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := s.crypto.Encrypt(t.RefreshToken)
	if err != nil {
		return err
	}
	idEnc, err := s.crypto.Encrypt(t.IDToken)
	if err != nil {
		return err
	}
	scopesJSON, _ := json.Marshal(t.Scopes)

	const query = `INSERT INTO oauth_tokens (server_id, access_token_enc, refresh_token_enc, id_token_enc,
		token_type, expires_at, scopes_json, refresh_count, last_used)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (server_id) DO UPDATE SET
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			id_token_enc = excluded.id_token_enc,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			scopes_json = excluded.scopes_json,
			refresh_count = excluded.refresh_count,
			last_used = excluded.last_used`

	_, err = s.db.ExecContext(ctx, query, t.ServerID, accessEnc, refreshEnc, idEnc, t.TokenType,
		t.ExpiresAt, string(scopesJSON), t.RefreshCount, t.LastUsed)
	if err != nil {
		return wrapStoreErr("UpsertOAuthToken", err)
	}
	return nil
}

func (s *Store) DeleteOAuthToken(ctx context.Context, serverID string) error {
	const query = `DELETE FROM oauth_tokens WHERE server_id = $1`
	_, err := s.db.ExecContext(ctx, query, serverID)
	return wrapStoreErr("DeleteOAuthToken", err)
}

func (s *Store) GetOAuthAuthState(ctx context.Context, state string) (*domain.OAuthAuthState, error) {
	const query = `SELECT state, server_id, code_verifier_enc, code_challenge, redirect_uri,
		scopes_json, created_at FROM oauth_auth_states WHERE state = $1`
	var row struct {
		State            string `db:"state"`
		ServerID         string `db:"server_id"`
		CodeVerifierEnc  string `db:"code_verifier_enc"`
		CodeChallenge    string `db:"code_challenge"`
		RedirectURI      string `db:"redirect_uri"`
		ScopesJSON       string `db:"scopes_json"`
		CreatedAt        int64  `db:"created_at"`
	}
	if err := s.db.GetContext(ctx, &row, query, state); err != nil {
		if isNoRows(err) {
			return nil, &domain.NotFoundError{Kind: "auth_state", ID: state}
		}
		return nil, wrapStoreErr("GetOAuthAuthState", err)
	}
	verifier, err := s.crypto.Decrypt(row.CodeVerifierEnc)
	if err != nil {
		return nil, err
	}
	a := &domain.OAuthAuthState{
		State: row.State, ServerID: row.ServerID, CodeVerifier: verifier,
		CodeChallenge: row.CodeChallenge, RedirectURI: row.RedirectURI, CreatedAt: row.CreatedAt,
	}
	if row.ScopesJSON != "" {
		_ = json.Unmarshal([]byte(row.ScopesJSON), &a.Scopes)
	}
	return a, nil
}

func (s *Store) CreateOAuthAuthState(ctx context.Context, a domain.OAuthAuthState) error {
	verifierEnc, err := s.crypto.Encrypt(a.CodeVerifier)
	if err != nil {
		return err
	}
	scopesJSON, _ := json.Marshal(a.Scopes)

	const query = `INSERT INTO oauth_auth_states (state, server_id, code_verifier_enc, code_challenge,
		redirect_uri, scopes_json, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = s.db.ExecContext(ctx, query, a.State, a.ServerID, verifierEnc, a.CodeChallenge,
		a.RedirectURI, string(scopesJSON), a.CreatedAt)
	if err != nil {
		return wrapStoreErr("CreateOAuthAuthState", err)
	}
	return nil
}

func (s *Store) DeleteOAuthAuthState(ctx context.Context, state string) error {
	const query = `DELETE FROM oauth_auth_states WHERE state = $1`
	_, err := s.db.ExecContext(ctx, query, state)
	return wrapStoreErr("DeleteOAuthAuthState", err)
}

// DeleteOAuthAuthStatesOlderThan implements the one-hour auth-state GC
// sweep. Returns the number of rows removed.
func (s *Store) DeleteOAuthAuthStatesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error) {
	const query = `DELETE FROM oauth_auth_states WHERE created_at < $1`
	res, err := s.db.ExecContext(ctx, query, cutoffUnixMillis)
	if err != nil {
		return 0, wrapStoreErr("DeleteOAuthAuthStatesOlderThan", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
