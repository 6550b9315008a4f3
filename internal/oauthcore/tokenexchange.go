package oauthcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mcpbroker/internal/domain"
)

// tokenResponse is the RFC 6749 token endpoint JSON body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenExchangeError preserves the OAuth error code returned by the
// token endpoint so callers can distinguish invalid_grant (terminal) from
// transient failures worth retrying.
type tokenExchangeError struct {
	ErrorCode        string
	ErrorDescription string
	StatusCode       int
}

func (e *tokenExchangeError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("token endpoint error %s: %s", e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

// exchangeAuthCode performs the authorization_code grant, grounded on the teacher's Client.ExchangeCode.
func exchangeAuthCode(ctx context.Context, httpClient *http.Client, cfg *domain.OAuthConfig, code, codeVerifier, redirectURI string) (*domain.OAuthToken, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	token, scopes, err := doTokenRequest(ctx, httpClient, cfg.TokenURL, data)
	if err != nil {
		return nil, err
	}
	return toDomainToken(token, scopes), nil
}

// exchangeRefreshToken performs the refresh_token grant, grounded on the teacher's
// Client.RefreshToken.
func exchangeRefreshToken(ctx context.Context, httpClient *http.Client, cfg *domain.OAuthConfig, tok *domain.OAuthToken) (*domain.OAuthToken, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", tok.RefreshToken)
	data.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		data.Set("client_secret", cfg.ClientSecret)
	}
	newToken, scopes, err := doTokenRequest(ctx, httpClient, cfg.TokenURL, data)
	if err != nil {
		return nil, err
	}
	newTok := toDomainToken(newToken, scopes)
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}
	return newTok, nil
}

// doTokenRequest POSTs to the token endpoint and returns the result as an
// oauth2.Token, the vocabulary type the teacher's agent OAuth client
// (internal/agent/oauth/client.go) uses for exchange results, with the ID
// token carried in Extra the same way via WithExtra.
func doTokenRequest(ctx context.Context, httpClient *http.Client, tokenURL string, data url.Values) (*oauth2.Token, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK || tr.Error != "" {
		return nil, nil, &tokenExchangeError{ErrorCode: tr.Error, ErrorDescription: tr.ErrorDescription, StatusCode: resp.StatusCode}
	}

	token := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{"id_token": tr.IDToken})
	}

	var scopes []string
	if tr.Scope != "" {
		scopes = strings.Fields(tr.Scope)
	}
	return token, scopes, nil
}

// idTokenFromExtra pulls the id_token carried in oauth2.Token.Extra, the
// same convention the teacher's agent OAuth client uses.
func idTokenFromExtra(t *oauth2.Token) string {
	if v, ok := t.Extra("id_token").(string); ok {
		return v
	}
	return ""
}

func toDomainToken(t *oauth2.Token, scopes []string) *domain.OAuthToken {
	var expiresAt *int64
	if !t.Expiry.IsZero() {
		ms := t.Expiry.UnixMilli()
		expiresAt = &ms
	}
	return &domain.OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		IDToken:      idTokenFromExtra(t),
		TokenType:    t.TokenType,
		ExpiresAt:    expiresAt,
		Scopes:       scopes,
	}
}

// postRevocation calls an RFC 7009 revocation endpoint best-effort; the
// caller discards a failure here, never propagating it, since revoke()
// must still delete the local token row.
func postRevocation(ctx context.Context, httpClient *http.Client, revokeURL, clientID, token string) error {
	if token == "" {
		return nil
	}
	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
