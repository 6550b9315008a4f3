package oauthcore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"mcpbroker/internal/domain"
)

// loopbackRedirectURIs is the fixed set of redirect URIs registered with
// a dynamic-registration-capable authorization server.
var loopbackRedirectURIs = []string{
	"http://localhost:42424/oauth/callback",
	"http://127.0.0.1:42424/oauth/callback",
	"urn:ietf:wg:oauth:2.0:oob",
}

type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	ClientName               string   `json:"client_name"`
	Scope                    string   `json:"scope,omitempty"`
}

type registrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret             string `json:"client_secret"`
	RegistrationClientURI    string `json:"registration_client_uri"`
	RegistrationAccessToken  string `json:"registration_access_token"`
}

// registerClient implements RFC 7591 dynamic client registration. Grounded on the registration
// shape in pkg/oauth/types.go's ClientMetadata, generalized from the
// teacher's CIMD-serving posture to an actual POST against an upstream
// registration endpoint.
func registerClient(ctx context.Context, httpClient *http.Client, registrationEndpoint string, scopes []string) (*registrationResponse, error) {
	scope := ""
	for i, s := range scopes {
		if i > 0 {
			scope += " "
		}
		scope += s
	}

	reqBody := registrationRequest{
		RedirectURIs:            loopbackRedirectURIs,
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              "mcpbroker",
		Scope:                   scope,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &domain.OAuthConfigurationError{Message: "dynamic client registration request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &domain.OAuthConfigurationError{Message: "dynamic client registration rejected"}
	}

	var out registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.OAuthConfigurationError{Message: "failed to parse registration response", Cause: err}
	}
	if out.ClientID == "" {
		return nil, &domain.OAuthConfigurationError{Message: "registration response missing client_id"}
	}
	return &out, nil
}
