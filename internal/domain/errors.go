package domain

import "fmt"

// NotFoundError reports a missing server, client, tool, or token.
type NotFoundError struct {
	Kind string // "server" | "client" | "tool" | "token"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// UnauthenticatedError reports a token that is unknown or malformed.
type UnauthenticatedError struct {
	TokenID string
	Reason  string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthenticated: %s", e.Reason)
	}
	return "unauthenticated: token unknown or malformed"
}

// ForbiddenError reports a token that lacks the target server.
type ForbiddenError struct {
	TokenID  string
	ServerID string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: token %s does not grant server %s", e.TokenID, e.ServerID)
}

// ToolDisabledError reports a policy resolution that denies the call.
type ToolDisabledError struct {
	ServerID string
	ToolName string
}

func (e *ToolDisabledError) Error() string {
	return fmt.Sprintf("tool disabled: %s on server %s", e.ToolName, e.ServerID)
}

// ServerNotRunningError reports the absence of a live transport.
type ServerNotRunningError struct {
	ServerID string
}

func (e *ServerNotRunningError) Error() string {
	return fmt.Sprintf("server not running: %s", e.ServerID)
}

// UpstreamError wraps an error returned by the upstream transport or tool
// call. The message is passed through verbatim.
type UpstreamError struct {
	ServerID string
	Message  string
	Cause    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (%s): %s", e.ServerID, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// OAuthConfigurationError reports incomplete endpoints or failed discovery.
type OAuthConfigurationError struct {
	ServerID string
	Message  string
	Cause    error
}

func (e *OAuthConfigurationError) Error() string {
	return fmt.Sprintf("oauth configuration error (%s): %s", e.ServerID, e.Message)
}

func (e *OAuthConfigurationError) Unwrap() error { return e.Cause }

// OAuthFlowErrorKind enumerates the ways an authorization flow can fail.
type OAuthFlowErrorKind string

const (
	FlowCancelled     OAuthFlowErrorKind = "cancelled"
	FlowStateMismatch OAuthFlowErrorKind = "state_mismatch"
	FlowTimeout       OAuthFlowErrorKind = "timeout"
	FlowProviderError OAuthFlowErrorKind = "provider_error"
)

// OAuthFlowError reports a failure of the authorization-code flow itself
// (browser/loopback/state), as opposed to a token-level failure.
type OAuthFlowError struct {
	ServerID string
	Kind     OAuthFlowErrorKind
	Message  string
	Cause    error
}

func (e *OAuthFlowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("oauth flow error (%s, %s): %s", e.ServerID, e.Kind, e.Message)
	}
	return fmt.Sprintf("oauth flow error (%s): %s", e.ServerID, e.Kind)
}

func (e *OAuthFlowError) Unwrap() error { return e.Cause }

// OAuthTokenErrorKind enumerates token-lifecycle failure kinds.
type OAuthTokenErrorKind string

const (
	TokenExpired       OAuthTokenErrorKind = "expired"
	TokenInvalidGrant  OAuthTokenErrorKind = "invalid_grant"
	TokenRefreshFailed OAuthTokenErrorKind = "refresh_failed"
)

// OAuthTokenError reports a failure in the token lifecycle. After a
// terminal refresh failure the underlying token row is deleted by the
// caller (oauthcore.Service.doRefresh, reached via GetAccessToken).
type OAuthTokenError struct {
	ServerID string
	Kind     OAuthTokenErrorKind
	Message  string
	Cause    error
}

func (e *OAuthTokenError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("oauth token error (%s, %s): %s", e.ServerID, e.Kind, e.Message)
	}
	return fmt.Sprintf("oauth token error (%s): %s", e.ServerID, e.Kind)
}

func (e *OAuthTokenError) Unwrap() error { return e.Cause }

// RateLimitedError reports a rate-limited operation and the monotone
// reset time (unix millis) the caller may retry at.
type RateLimitedError struct {
	ServerID string
	Scope    string // "auth" | "refresh" | "general"
	ResetAt  int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s/%s resets at %d", e.ServerID, e.Scope, e.ResetAt)
}

// CryptoError reports decryption tag mismatch or missing key material.
// Never swallowed; the caller must propagate it.
type CryptoError struct {
	Message string
	Cause   error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto error: %s", e.Message)
}

func (e *CryptoError) Unwrap() error { return e.Cause }

// StoreError reports a transactional failure, surfaced with its cause.
type StoreError struct {
	Op      string
	Cause   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// MigrationError is raised at startup only, for both the Store's SQL
// schema runner and the OAuth dataset's own migration runner.
type MigrationError struct {
	MigrationID string
	Message     string
	Cause       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration error (%s): %s", e.MigrationID, e.Message)
}

func (e *MigrationError) Unwrap() error { return e.Cause }
