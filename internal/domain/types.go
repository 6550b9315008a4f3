// Package domain holds the shared data types that flow between the store,
// crypto, token, toolfilter, oauthcore, oauthgov, mcpserver and router
// packages. None of these types know how to persist or encrypt themselves;
// that is Store's and Crypto's job.
package domain

// ServerType is the transport family of an upstream MCP server.
type ServerType string

const (
	ServerTypeLocal            ServerType = "local"
	ServerTypeRemote           ServerType = "remote"
	ServerTypeRemoteStreamable ServerType = "remote-streamable"
)

// ServerStatus is the runtime lifecycle state of a supervised upstream.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopping ServerStatus = "stopping"
	StatusError    ServerStatus = "error"
)

// InputParam describes one named, typed, defaulted parameter a local server
// accepts for placeholder substitution in args.
type InputParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// Server is the persisted record for an upstream MCP server plus its
// runtime-only mirror fields. Persisted fields live in Store A; the
// runtime fields (Status, ErrorMessage, Logs) are owned and mutated only
// by the Server Manager.
type Server struct {
	ID                 string            `db:"id" json:"id"`
	Name               string            `db:"name" json:"name"`
	ServerType         ServerType        `db:"server_type" json:"serverType"`
	Command            string            `db:"command" json:"command,omitempty"`
	Args               []string          `db:"-" json:"args,omitempty"`
	Env                map[string]string `db:"-" json:"env,omitempty"`
	RemoteURL          string            `db:"remote_url" json:"remoteUrl,omitempty"`
	BearerToken        string            `db:"-" json:"bearerToken,omitempty"`
	InputParams        []InputParam      `db:"-" json:"inputParams,omitempty"`
	AutoStart          bool              `db:"auto_start" json:"autoStart"`
	Disabled           bool              `db:"disabled" json:"disabled"`
	LatestKnownVersion string            `db:"latest_known_version" json:"latestKnownVersion,omitempty"`
	ToolPermissions    []string          `db:"-" json:"toolPermissions,omitempty"`

	// Runtime-only, owned by the Server Manager; never persisted.
	Status       ServerStatus `db:"-" json:"status,omitempty"`
	ErrorMessage string       `db:"-" json:"errorMessage,omitempty"`
	Logs         []string     `db:"-" json:"-"`
}

// Client is an API consumer of the broker. Its lifetime is independent of
// any token issued against it.
type Client struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`
	CreatedAt   int64  `db:"created_at" json:"createdAt"`
	UpdatedAt   int64  `db:"updated_at" json:"updatedAt"`
}

// Token is an opaque bearer credential bound to a client and an explicit
// set of servers it may address. An empty ServerIDs denies every server;
// access is never implicit.
type Token struct {
	ID        string   `db:"id" json:"id"`
	ClientID  string   `db:"client_id" json:"clientId"`
	ServerIDs []string `db:"-" json:"serverIds"`
	Scopes    []string `db:"-" json:"scopes,omitempty"`
	IssuedAt  int64    `db:"issued_at" json:"issuedAt"`
}

// ToolPreference is the per-(server, tool, client?) policy row. ClientID
// empty denotes the global default scope.
type ToolPreference struct {
	ServerID            string `db:"server_id" json:"serverId"`
	ToolName             string `db:"tool_name" json:"toolName"`
	ClientID            string `db:"client_id" json:"clientId,omitempty"`
	Enabled             bool   `db:"enabled" json:"enabled"`
	OriginalDescription string `db:"original_description" json:"originalDescription,omitempty"`
	CustomName          string `db:"custom_name" json:"customName,omitempty"`
	CustomDescription   string `db:"custom_description" json:"customDescription,omitempty"`
}

// ResolvedTool is what the Tool Filter Service returns after applying
// the three-tier resolution rule
type ResolvedTool struct {
	Enabled             bool
	OriginalName        string
	Name                string
	Description         string
	OriginalDescription string
}

// OAuthGrantType is the grant type an upstream's authorization server
// expects.
type OAuthGrantType string

const (
	GrantAuthorizationCode OAuthGrantType = "authorization_code"
	GrantClientCredentials OAuthGrantType = "client_credentials"
)

// OAuthConfig is the per-server OAuth configuration.
type OAuthConfig struct {
	ServerID            string            `db:"server_id" json:"serverId"`
	Provider            string            `db:"provider" json:"provider"`
	DiscoveryURL        string            `db:"discovery_url" json:"discoveryUrl,omitempty"`
	ClientID            string            `db:"client_id" json:"clientId,omitempty"`
	ClientSecret        string            `db:"-" json:"-"`
	Scopes              []string          `db:"-" json:"scopes,omitempty"`
	GrantType           OAuthGrantType    `db:"grant_type" json:"grantType"`
	AuthorizationURL    string            `db:"authorization_url" json:"authorizationUrl,omitempty"`
	TokenURL            string            `db:"token_url" json:"tokenUrl,omitempty"`
	RevokeURL           string            `db:"revoke_url" json:"revokeUrl,omitempty"`
	IntrospectURL       string            `db:"introspect_url" json:"introspectUrl,omitempty"`
	UserinfoURL         string            `db:"userinfo_url" json:"userinfoUrl,omitempty"`
	UsePKCE             bool              `db:"use_pkce" json:"usePkce"`
	DynamicRegistration bool              `db:"dynamic_registration" json:"dynamicRegistration"`
	Audience            string            `db:"audience" json:"audience,omitempty"`
	AdditionalParams    map[string]string `db:"-" json:"additionalParams,omitempty"`

	// Populated once dynamic registration succeeds and the authorization
	// server returns a management endpoint for the client record.
	RegistrationClientURI   string `db:"registration_client_uri" json:"registrationClientUri,omitempty"`
	RegistrationAccessToken string `db:"-" json:"-"`
}

// OAuthState is the OAuth Core state machine's current position for one
// server.
type OAuthState string

const (
	OAuthUnconfigured OAuthState = "unconfigured"
	OAuthConfigured   OAuthState = "configured"
	OAuthAuthorizing  OAuthState = "authorizing"
	OAuthAuthenticated OAuthState = "authenticated"
	OAuthRefreshing   OAuthState = "refreshing"
	OAuthFailed       OAuthState = "failed"
	OAuthRevoked      OAuthState = "revoked"
)

// OAuthToken is the per-server token row. AccessToken/RefreshToken/IDToken
// are plaintext in memory; Store encrypts them at rest.
type OAuthToken struct {
	ServerID     string   `db:"server_id" json:"serverId"`
	AccessToken  string   `db:"-" json:"-"`
	RefreshToken string   `db:"-" json:"-"`
	IDToken      string   `db:"-" json:"-"`
	TokenType    string   `db:"token_type" json:"tokenType,omitempty"`
	ExpiresAt    *int64   `db:"expires_at" json:"expiresAt,omitempty"`
	Scopes       []string `db:"-" json:"scopes,omitempty"`
	RefreshCount int      `db:"refresh_count" json:"refreshCount"`
	LastUsed     int64    `db:"last_used" json:"lastUsed"`
}

// OAuthAuthState is the ephemeral row bridging an outgoing authorization
// request to its redirect callback.
type OAuthAuthState struct {
	State        string   `db:"state" json:"state"`
	ServerID     string   `db:"server_id" json:"serverId"`
	CodeVerifier string   `db:"-" json:"-"`
	CodeChallenge string  `db:"code_challenge" json:"codeChallenge,omitempty"`
	RedirectURI  string   `db:"redirect_uri" json:"redirectUri"`
	Scopes       []string `db:"-" json:"scopes,omitempty"`
	CreatedAt    int64    `db:"created_at" json:"createdAt"`
}

// Severity is an audit entry's severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        string                 `db:"id" json:"id"`
	Timestamp int64                  `db:"timestamp" json:"timestamp"`
	EventType string                 `db:"event_type" json:"eventType"`
	Severity  Severity               `db:"severity" json:"severity"`
	ServerID  string                 `db:"server_id" json:"serverId,omitempty"`
	Details   map[string]interface{} `db:"-" json:"details,omitempty"`
}

// Audit event type constants.
const (
	EventTokenCreated            = "token_created"
	EventTokenRefreshed          = "token_refreshed"
	EventTokenRevoked            = "token_revoked"
	EventTokenExpired            = "token_expired"
	EventTokenValidationFailed   = "token_validation_failed"
	EventKeyRotated              = "key_rotated"
	EventSuspiciousActivity      = "suspicious_activity"
	EventRateLimitExceeded       = "rate_limit_exceeded"
	EventAuthenticationStarted   = "authentication_started"
	EventAuthenticationCompleted = "authentication_completed"
	EventAuthenticationFailed    = "authentication_failed"
	EventConfigurationChanged    = "configuration_changed"
	EventConfigurationDeleted    = "configuration_deleted"
)

// MigrationState tracks the OAuth dataset's own versioned migrations,
// distinct from the Store's SQL schema migrations.
type MigrationState struct {
	CurrentVersion     string              `json:"currentVersion"`
	AppliedMigrations  []string            `json:"appliedMigrations"`
	RollbackHistory    map[string][]byte   `json:"rollbackHistory"`
}
