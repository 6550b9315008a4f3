package oauthcore

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mcpbroker/internal/domain"
)

// metadata is the subset of RFC 8414 / OpenID Connect discovery fields
// the broker needs to drive the authorization-code flow.
type metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	ScopesSupported               []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

const discoveryCacheTTL = 24 * time.Hour

type discoveryCacheEntry struct {
	meta      *metadata
	fetchedAt time.Time
}

// discoverer fetches and caches provider metadata. Grounded on the
// singleflight-deduplicated, TTL-cached fetchMetadata idiom in the
// teacher's internal/oauth/client.go, generalized to try three
// well-known discovery URLs in order rather than just the two the
// teacher tries.
type discoverer struct {
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]discoveryCacheEntry

	group singleflight.Group
}

func newDiscoverer(httpClient *http.Client) *discoverer {
	return &discoverer{
		httpClient: httpClient,
		cache:      make(map[string]discoveryCacheEntry),
	}
}

// discover implements discover(serverUrl): tries
// oauth-authorization-server, then openid-configuration, then the legacy
// oauth2-metadata path, in that order, with a 24-hour cache keyed on the
// base URL. Concurrent discoveries for the same baseURL are deduplicated
// with singleflight, matching the teacher's fetchMetadata idiom.
func (d *discoverer) discover(ctx context.Context, serverID, baseURL string) (*metadata, error) {
	if meta, ok := d.cached(baseURL); ok {
		return meta, nil
	}

	result, err, _ := d.group.Do(baseURL, func() (interface{}, error) {
		if meta, ok := d.cached(baseURL); ok {
			return meta, nil
		}

		base := strings.TrimSuffix(baseURL, "/")
		paths := []string{
			"/.well-known/oauth-authorization-server",
			"/.well-known/openid-configuration",
			"/.well-known/oauth2-metadata",
		}

		var lastErr error
		for _, p := range paths {
			meta, err := d.fetchOne(ctx, base+p)
			if err == nil {
				d.mu.Lock()
				d.cache[baseURL] = discoveryCacheEntry{meta: meta, fetchedAt: time.Now()}
				d.mu.Unlock()
				return meta, nil
			}
			lastErr = err
		}
		return nil, &domain.OAuthConfigurationError{ServerID: serverID, Message: "discovery failed at all well-known endpoints", Cause: lastErr}
	})
	if err != nil {
		return nil, err
	}
	return result.(*metadata), nil
}

func (d *discoverer) cached(baseURL string) (*metadata, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[baseURL]
	if !ok || time.Since(entry.fetchedAt) >= discoveryCacheTTL {
		return nil, false
	}
	return entry.meta, true
}

func (d *discoverer) fetchOne(ctx context.Context, url string) (*metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Message: "discovery endpoint returned non-200"}
	}

	var m metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
