// Package oauthcore implements Component E: the per-server OAuth 2.1
// state machine, discovery, PKCE browser authorization, dynamic client
// registration, refresh coalescing and token injection. Grounded on the
// teacher's internal/oauth/client.go and internal/oauth/manager.go, with
// the ephemeral in-memory StateStore replaced by a persisted Auth State
// table and the CIMD-serving posture replaced by an actual
// OAuth *client* of upstream providers.
package oauthcore

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mcpbroker/internal/domain"
)

// Store is the persistence seam Component E depends on: OAuth config,
// token, and ephemeral auth-state rows, all through internal/store's
// DAOs.
type Store interface {
	GetOAuthConfig(ctx context.Context, serverID string) (*domain.OAuthConfig, error)
	UpsertOAuthConfig(ctx context.Context, c domain.OAuthConfig) error
	DeleteOAuthConfig(ctx context.Context, serverID string) error

	GetOAuthToken(ctx context.Context, serverID string) (*domain.OAuthToken, error)
	ListOAuthTokens(ctx context.Context) ([]domain.OAuthToken, error)
	UpsertOAuthToken(ctx context.Context, t domain.OAuthToken) error
	DeleteOAuthToken(ctx context.Context, serverID string) error

	GetOAuthAuthState(ctx context.Context, state string) (*domain.OAuthAuthState, error)
	CreateOAuthAuthState(ctx context.Context, a domain.OAuthAuthState) error
	DeleteOAuthAuthState(ctx context.Context, state string) error
	DeleteOAuthAuthStatesOlderThan(ctx context.Context, cutoffUnixMillis int64) (int64, error)
}

// Browser is the external collaborator that opens a URL in the user's
// default browser. Substitutable in tests.
type Browser interface {
	Open(url string) error
}

// Auditor receives lifecycle events for Component F to log and rate-limit.
// A nil Auditor is valid; events are simply dropped.
type Auditor interface {
	Record(ctx context.Context, serverID, eventType, message string, severity domain.Severity)
	Allow(ctx context.Context, serverID, scope string) error
}

const (
	loopbackAddr      = "127.0.0.1:42424"
	callbackPath      = "/oauth/callback"
	authFlowTimeout   = 10 * time.Minute
	refreshMargin     = 300 * time.Second
	refreshMaxRetries = 3
)

// inFlightRefresh coalesces concurrent getAccessToken refresh calls for
// the same server onto a single result.
type inFlightRefresh struct {
	done  chan struct{}
	token string
	err   error
}

// Service is the OAuth Core state machine, one instance shared by every
// configured server.
type Service struct {
	store      Store
	httpClient *http.Client
	browser    Browser
	auditor    Auditor
	discoverer *discoverer

	mu         sync.Mutex
	states     map[string]domain.OAuthState
	inFlight   map[string]*inFlightRefresh
}

func New(store Store, browser Browser, auditor Auditor) *Service {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Service{
		store:      store,
		httpClient: httpClient,
		browser:    browser,
		auditor:    auditor,
		discoverer: newDiscoverer(httpClient),
		states:     make(map[string]domain.OAuthState),
		inFlight:   make(map[string]*inFlightRefresh),
	}
}

func (s *Service) State(serverID string) domain.OAuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[serverID]; ok {
		return st
	}
	return domain.OAuthUnconfigured
}

func (s *Service) setState(serverID string, st domain.OAuthState) {
	s.mu.Lock()
	s.states[serverID] = st
	s.mu.Unlock()
}

func (s *Service) audit(ctx context.Context, serverID, eventType, message string, sev domain.Severity) {
	if s.auditor != nil {
		s.auditor.Record(ctx, serverID, eventType, message, sev)
	}
}

// Configure implements configure(serverId, provider, partialConfig):
// merges the named provider template, attempts discovery for any gaps,
// then dynamic client registration if requested and clientId is blank.
func (s *Service) Configure(ctx context.Context, cfg domain.OAuthConfig, discoveryBaseURL string) (*domain.OAuthConfig, error) {
	applyProviderTemplate(&cfg)

	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" {
		if discoveryBaseURL != "" {
			meta, err := s.discoverer.discover(ctx, cfg.ServerID, discoveryBaseURL)
			if err != nil {
				s.setState(cfg.ServerID, domain.OAuthFailed)
				s.audit(ctx, cfg.ServerID, domain.EventConfigurationChanged, "discovery failed: "+err.Error(), domain.SeverityError)
				return nil, err
			}
			if cfg.AuthorizationURL == "" {
				cfg.AuthorizationURL = meta.AuthorizationEndpoint
			}
			if cfg.TokenURL == "" {
				cfg.TokenURL = meta.TokenEndpoint
			}
			if cfg.RevokeURL == "" {
				cfg.RevokeURL = meta.RevocationEndpoint
			}
		}
	}

	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" {
		return nil, &domain.OAuthConfigurationError{ServerID: cfg.ServerID, Message: "missing authorization or token endpoint after template merge and discovery"}
	}

	if cfg.DynamicRegistration && cfg.ClientID == "" {
		meta, err := s.discoverer.discover(ctx, cfg.ServerID, discoveryBaseURL)
		if err != nil || meta.RegistrationEndpoint == "" {
			return nil, &domain.OAuthConfigurationError{ServerID: cfg.ServerID, Message: "dynamic registration requested but no registration_endpoint available"}
		}
		reg, err := registerClient(ctx, s.httpClient, meta.RegistrationEndpoint, cfg.Scopes)
		if err != nil {
			return nil, err
		}
		cfg.ClientID = reg.ClientID
		cfg.ClientSecret = reg.ClientSecret
		cfg.RegistrationClientURI = reg.RegistrationClientURI
		cfg.RegistrationAccessToken = reg.RegistrationAccessToken
	}

	if err := s.store.UpsertOAuthConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.setState(cfg.ServerID, domain.OAuthConfigured)
	s.audit(ctx, cfg.ServerID, domain.EventConfigurationChanged, "oauth configured for provider "+cfg.Provider, domain.SeverityInfo)
	return &cfg, nil
}

// Revoke implements revoke(serverId): calls the revocation endpoint
// best-effort and deletes the token row. No refresh timer is kept, so
// there is none to cancel, and a refresh already in flight is not
// interrupted.
func (s *Service) Revoke(ctx context.Context, serverID string) error {
	cfg, err := s.store.GetOAuthConfig(ctx, serverID)
	if err != nil {
		return err
	}
	tok, err := s.store.GetOAuthToken(ctx, serverID)
	if err == nil && cfg.RevokeURL != "" {
		_ = s.callRevocationEndpoint(ctx, cfg, tok)
	}
	if err := s.store.DeleteOAuthToken(ctx, serverID); err != nil {
		if _, notFound := err.(*domain.NotFoundError); !notFound {
			return err
		}
	}
	s.setState(serverID, domain.OAuthRevoked)
	s.audit(ctx, serverID, domain.EventTokenRevoked, "token revoked", domain.SeverityInfo)
	return nil
}

func (s *Service) callRevocationEndpoint(ctx context.Context, cfg *domain.OAuthConfig, tok *domain.OAuthToken) error {
	return postRevocation(ctx, s.httpClient, cfg.RevokeURL, cfg.ClientID, tok.RefreshToken)
}

// GetHeaders implements the token-injection side of the Server
// Manager's HeaderSource pull interface: for a server whose OAuth Core
// has a live token, returns the Authorization header to attach ahead of
// any static bearerToken. Returns an empty map when the server is not
// authenticated (the caller falls back to its pre-configured
// credential, if any).
func (s *Service) GetHeaders(ctx context.Context, serverID string) (map[string]string, error) {
	token, err := s.GetAccessToken(ctx, serverID)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if token == "" {
		return map[string]string{}, nil
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// GetAccessToken implements getAccessToken(serverId): returns a
// live access token, refreshing if within refreshMargin of expiry.
// Concurrent calls for the same server coalesce onto one refresh.
func (s *Service) GetAccessToken(ctx context.Context, serverID string) (string, error) {
	tok, err := s.store.GetOAuthToken(ctx, serverID)
	if err != nil {
		return "", err
	}

	if tok.ExpiresAt == nil || time.Until(time.UnixMilli(*tok.ExpiresAt)) > refreshMargin {
		return tok.AccessToken, nil
	}

	return s.coalescedRefresh(ctx, serverID)
}

func (s *Service) coalescedRefresh(ctx context.Context, serverID string) (string, error) {
	s.mu.Lock()
	if existing, ok := s.inFlight[serverID]; ok {
		s.mu.Unlock()
		<-existing.done
		return existing.token, existing.err
	}
	entry := &inFlightRefresh{done: make(chan struct{})}
	s.inFlight[serverID] = entry
	s.mu.Unlock()

	entry.token, entry.err = s.doRefresh(ctx, serverID)

	s.mu.Lock()
	delete(s.inFlight, serverID)
	s.mu.Unlock()
	close(entry.done)

	return entry.token, entry.err
}

// doRefresh implements the actual refresh-token exchange, attempted at
// most refreshMaxRetries times in all, with exponential backoff between
// attempts (starting at 1s, doubling, capped at 10s).
func (s *Service) doRefresh(ctx context.Context, serverID string) (string, error) {
	if err := s.rateLimitAllow(ctx, serverID, "refresh"); err != nil {
		return "", err
	}

	cfg, err := s.store.GetOAuthConfig(ctx, serverID)
	if err != nil {
		return "", err
	}
	tok, err := s.store.GetOAuthToken(ctx, serverID)
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		return tok.AccessToken, nil
	}

	s.setState(serverID, domain.OAuthRefreshing)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second

	newTok, err := backoff.Retry(ctx, func() (*domain.OAuthToken, error) {
		return exchangeRefreshToken(ctx, s.httpClient, cfg, tok)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(refreshMaxRetries))

	if err != nil {
		if isInvalidGrant(err) {
			_ = s.store.DeleteOAuthToken(ctx, serverID)
			s.setState(serverID, domain.OAuthFailed)
			s.audit(ctx, serverID, domain.EventTokenExpired, "refresh failed with invalid_grant, token row deleted", domain.SeverityError)
			return "", &domain.OAuthTokenError{ServerID: serverID, Kind: domain.TokenInvalidGrant, Message: "refresh token rejected", Cause: err}
		}
		s.setState(serverID, domain.OAuthFailed)
		return "", &domain.OAuthTokenError{ServerID: serverID, Kind: domain.TokenRefreshFailed, Message: err.Error(), Cause: err}
	}

	newTok.ServerID = serverID
	newTok.RefreshCount = tok.RefreshCount + 1
	newTok.LastUsed = time.Now().UnixMilli()
	if err := s.store.UpsertOAuthToken(ctx, *newTok); err != nil {
		return "", err
	}
	s.setState(serverID, domain.OAuthAuthenticated)
	s.audit(ctx, serverID, domain.EventTokenRefreshed, "token refreshed", domain.SeverityInfo)
	return newTok.AccessToken, nil
}

func (s *Service) rateLimitAllow(ctx context.Context, serverID, scope string) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Allow(ctx, serverID, scope)
}

func isInvalidGrant(err error) bool {
	ue, ok := err.(*tokenExchangeError)
	return ok && ue.ErrorCode == "invalid_grant"
}
