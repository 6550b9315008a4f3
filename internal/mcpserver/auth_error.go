package mcpserver

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// AuthInfo carries what could be recovered from a WWW-Authenticate
// challenge or a 401 response body: enough for OAuth Core to start a
// discovery-driven authorization flow.
type AuthInfo struct {
	Issuer              string
	Scope               string
	ResourceMetadataURL string
}

// AuthRequiredError signals that an upstream remote server rejected the
// connection attempt with 401 Unauthorized. The Server Manager's start
// path catches this, asks OAuth Core to authenticate or refresh, and
// retries the connection exactly once.
type AuthRequiredError struct {
	URL      string
	AuthInfo AuthInfo
	Err      error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s: %v", e.URL, e.Err)
}

func (e *AuthRequiredError) Unwrap() error { return e.Err }

var wwwAuthenticateParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// checkForAuthRequiredError inspects an error returned by a remote
// transport's Initialize/Start call and, if it looks like a 401, returns
// an AuthRequiredError carrying whatever challenge parameters could be
// recovered from the error text (mcp-go surfaces the HTTP status and
// body in the error string rather than the raw response).
func checkForAuthRequiredError(err error, url string) *AuthRequiredError {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "401") && !strings.Contains(errStr, http.StatusText(http.StatusUnauthorized)) {
		return nil
	}

	var info AuthInfo
	if idx := strings.Index(errStr, "Bearer"); idx >= 0 {
		info = parseBearerChallenge(errStr[idx:])
	}

	return &AuthRequiredError{
		URL:      url,
		AuthInfo: info,
		Err:      fmt.Errorf("server returned 401 Unauthorized"),
	}
}

// parseBearerChallenge extracts realm/scope/resource_metadata params from
// the Bearer portion of a WWW-Authenticate-style challenge string.
func parseBearerChallenge(s string) AuthInfo {
	if end := strings.IndexAny(s, "\n\r"); end > 0 {
		s = s[:end]
	}

	var info AuthInfo
	for _, m := range wwwAuthenticateParamPattern.FindAllStringSubmatch(s, -1) {
		switch m[1] {
		case "realm":
			info.Issuer = m[2]
		case "scope":
			info.Scope = m[2]
		case "resource_metadata":
			info.ResourceMetadataURL = m[2]
		}
	}
	return info
}
