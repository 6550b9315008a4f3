package oauthcore

import "mcpbroker/internal/domain"

// providerTemplate is the set of well-known endpoints and default scopes
// for a named provider, merged with caller overrides in Configure.
// Grounded on the provider-endpoint tables the teacher's
// pkg/oauth/client.go hard-codes for GitHub/Google CIMD support,
// generalized to a broader provider list.
type providerTemplate struct {
	AuthorizationURL string
	TokenURL         string
	RevokeURL        string
	Scopes           []string
	UsePKCE          bool
}

var providerTemplates = map[string]providerTemplate{
	"github": {
		AuthorizationURL: "https://github.com/login/oauth/authorize",
		TokenURL:         "https://github.com/login/oauth/access_token",
		Scopes:           []string{"repo", "read:org"},
		UsePKCE:          true,
	},
	"google": {
		AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:         "https://oauth2.googleapis.com/token",
		RevokeURL:        "https://oauth2.googleapis.com/revoke",
		Scopes:           []string{"openid", "email", "profile"},
		UsePKCE:          true,
	},
	"microsoft": {
		AuthorizationURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL:         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		Scopes:           []string{"openid", "offline_access"},
		UsePKCE:          true,
	},
	"slack": {
		AuthorizationURL: "https://slack.com/oauth/v2/authorize",
		TokenURL:         "https://slack.com/api/oauth.v2.access",
		Scopes:           []string{"chat:write"},
		UsePKCE:          false,
	},
	"gitlab": {
		AuthorizationURL: "https://gitlab.com/oauth/authorize",
		TokenURL:         "https://gitlab.com/oauth/token",
		RevokeURL:        "https://gitlab.com/oauth/revoke",
		Scopes:           []string{"api"},
		UsePKCE:          true,
	},
	"bitbucket": {
		AuthorizationURL: "https://bitbucket.org/site/oauth2/authorize",
		TokenURL:         "https://bitbucket.org/site/oauth2/access_token",
		Scopes:           []string{"repository"},
		UsePKCE:          false,
	},
}

// applyProviderTemplate merges a named provider's template into cfg,
// never overwriting a field the caller already set.
func applyProviderTemplate(cfg *domain.OAuthConfig) {
	tmpl, ok := providerTemplates[cfg.Provider]
	if !ok {
		return
	}
	if cfg.AuthorizationURL == "" {
		cfg.AuthorizationURL = tmpl.AuthorizationURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = tmpl.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = tmpl.RevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = tmpl.Scopes
	}
	if !cfg.UsePKCE {
		cfg.UsePKCE = tmpl.UsePKCE
	}
}
