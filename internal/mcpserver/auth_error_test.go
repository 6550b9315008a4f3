package mcpserver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckForAuthRequiredErrorDetectsStatusCode(t *testing.T) {
	err := errors.New(`request failed: 401 Unauthorized, WWW-Authenticate: Bearer realm="https://auth.example", scope="mcp.read", resource_metadata="https://auth.example/.well-known/oauth-protected-resource"`)

	authErr := checkForAuthRequiredError(err, "https://upstream.example/mcp")
	require.NotNil(t, authErr)
	assert.Equal(t, "https://upstream.example/mcp", authErr.URL)
	assert.Equal(t, "https://auth.example", authErr.AuthInfo.Issuer)
	assert.Equal(t, "mcp.read", authErr.AuthInfo.Scope)
	assert.Equal(t, "https://auth.example/.well-known/oauth-protected-resource", authErr.AuthInfo.ResourceMetadataURL)
}

func TestCheckForAuthRequiredErrorIgnoresOtherFailures(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	assert.Nil(t, checkForAuthRequiredError(err, "https://upstream.example/mcp"))
}

func TestCheckForAuthRequiredErrorNilOnNilError(t *testing.T) {
	assert.Nil(t, checkForAuthRequiredError(nil, "https://upstream.example/mcp"))
}

func TestAuthRequiredErrorUnwrap(t *testing.T) {
	cause := errors.New("server returned 401 Unauthorized")
	authErr := &AuthRequiredError{URL: "https://upstream.example/mcp", Err: cause}
	assert.ErrorIs(t, authErr, cause)
}
