package oauthcore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
)

// Authenticate implements authenticate(serverId, scopes?): the
// full browser authorization-code-with-PKCE round trip. Grounded on the
// teacher's Client.GenerateAuthURL + Handler.HandleCallback pair,
// collapsed into one synchronous call since the broker owns the loopback
// listener directly rather than wiring it through the main HTTP mux.
func (s *Service) Authenticate(ctx context.Context, serverID string, scopes []string) error {
	if err := s.rateLimitAllow(ctx, serverID, "auth"); err != nil {
		return err
	}

	cfg, err := s.store.GetOAuthConfig(ctx, serverID)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		scopes = cfg.Scopes
	}

	state, err := crypto.RandomToken(32)
	if err != nil {
		return &domain.OAuthFlowError{ServerID: serverID, Kind: domain.FlowProviderError, Message: "failed to generate state", Cause: err}
	}

	var codeVerifier, codeChallenge string
	if cfg.UsePKCE {
		codeVerifier, err = crypto.RandomToken(64)
		if err != nil {
			return &domain.OAuthFlowError{ServerID: serverID, Kind: domain.FlowProviderError, Message: "failed to generate PKCE verifier", Cause: err}
		}
		codeChallenge = crypto.PKCEChallenge(codeVerifier)
	}

	redirectURI := "http://" + loopbackAddr + callbackPath
	authState := domain.OAuthAuthState{
		State:         state,
		ServerID:      serverID,
		CodeVerifier:  codeVerifier,
		CodeChallenge: codeChallenge,
		RedirectURI:   redirectURI,
		Scopes:        scopes,
		CreatedAt:     time.Now().UnixMilli(),
	}
	if err := s.store.CreateOAuthAuthState(ctx, authState); err != nil {
		return err
	}

	authURL, err := buildAuthorizationURL(cfg, state, codeChallenge, redirectURI, scopes)
	if err != nil {
		_ = s.store.DeleteOAuthAuthState(ctx, state)
		return &domain.OAuthFlowError{ServerID: serverID, Kind: domain.FlowProviderError, Message: "failed to build authorization URL", Cause: err}
	}

	s.setState(serverID, domain.OAuthAuthorizing)
	s.audit(ctx, serverID, domain.EventAuthenticationStarted, "authorization flow started", domain.SeverityInfo)

	if s.browser != nil {
		if err := s.browser.Open(authURL); err != nil {
			s.audit(ctx, serverID, domain.EventAuthenticationFailed, "failed to open browser: "+err.Error(), domain.SeverityWarning)
		}
	}

	code, callbackErr := s.awaitCallback(ctx, state)
	if callbackErr != nil {
		_ = s.store.DeleteOAuthAuthState(ctx, state)
		s.setState(serverID, domain.OAuthFailed)
		s.audit(ctx, serverID, domain.EventAuthenticationFailed, callbackErr.Error(), domain.SeverityError)
		return callbackErr
	}

	tok, err := exchangeAuthCode(ctx, s.httpClient, cfg, code, codeVerifier, redirectURI)
	_ = s.store.DeleteOAuthAuthState(ctx, state)
	if err != nil {
		s.setState(serverID, domain.OAuthFailed)
		s.audit(ctx, serverID, domain.EventAuthenticationFailed, err.Error(), domain.SeverityError)
		return &domain.OAuthFlowError{ServerID: serverID, Kind: domain.FlowProviderError, Message: "code exchange failed", Cause: err}
	}

	tok.ServerID = serverID
	tok.LastUsed = time.Now().UnixMilli()
	if err := s.store.UpsertOAuthToken(ctx, *tok); err != nil {
		return err
	}

	if audience := idTokenAudience(tok.IDToken); audience != "" {
		s.audit(ctx, serverID, domain.EventAuthenticationCompleted, "id_token audience: "+audience, domain.SeverityInfo)
	}

	s.setState(serverID, domain.OAuthAuthenticated)
	s.audit(ctx, serverID, domain.EventAuthenticationCompleted, "authentication completed", domain.SeverityInfo)
	return nil
}

func buildAuthorizationURL(cfg *domain.OAuthConfig, state, codeChallenge, redirectURI string, scopes []string) (string, error) {
	u, err := url.Parse(cfg.AuthorizationURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	if len(scopes) > 0 {
		scope := ""
		for i, sc := range scopes {
			if i > 0 {
				scope += " "
			}
			scope += sc
		}
		q.Set("scope", scope)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// awaitCallback starts a loopback HTTP listener on the fixed port and
// path named in, and blocks until a single matching redirect
// arrives, the hard timeout elapses, or ctx is cancelled.
func (s *Service) awaitCallback(ctx context.Context, expectedState string) (code string, err error) {
	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	srv := &http.Server{Addr: loopbackAddr, Handler: mux}

	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			fmt.Fprintln(w, "Authorization failed. You may close this window.")
			resultCh <- result{err: &domain.OAuthFlowError{Kind: domain.FlowProviderError, Message: errParam}}
			return
		}
		if q.Get("state") != expectedState {
			fmt.Fprintln(w, "Authorization failed: state mismatch. You may close this window.")
			resultCh <- result{err: &domain.OAuthFlowError{Kind: domain.FlowStateMismatch, Message: "callback state did not match"}}
			return
		}
		fmt.Fprintln(w, "Authorization complete. You may close this window.")
		resultCh <- result{code: q.Get("code")}
	})

	ln, listenErr := newLoopbackListener(loopbackAddr)
	if listenErr != nil {
		return "", &domain.OAuthFlowError{Kind: domain.FlowProviderError, Message: "loopback listener unavailable", Cause: listenErr}
	}

	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	timeout := time.NewTimer(authFlowTimeout)
	defer timeout.Stop()

	select {
	case res := <-resultCh:
		return res.code, res.err
	case <-timeout.C:
		return "", &domain.OAuthFlowError{Kind: domain.FlowTimeout, Message: "authorization flow timed out after 10 minutes"}
	case <-ctx.Done():
		return "", &domain.OAuthFlowError{Kind: domain.FlowCancelled, Message: "authorization flow cancelled", Cause: ctx.Err()}
	}
}
