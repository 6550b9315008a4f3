// Package browser implements the §6 BROWSER collaborator: opening the
// user's default browser to an authorization URL. Grounded on the
// teacher's internal/agent/oauth.OpenBrowser (same per-OS exec.Command
// dispatch and http(s)-only scheme check), adapted to satisfy
// oauthcore.Browser directly instead of being a free function.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// Opener implements oauthcore.Browser by shelling out to the platform's
// URL handler. It is substitutable in tests behind the Browser interface.
type Opener struct{}

// Open launches the user's default browser at url. Only http/https
// schemes are allowed, so a maliciously crafted authorization URL can
// never be used to smuggle an arbitrary command to exec.Command.
func (Opener) Open(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("browser: url must not be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("browser: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("browser: invalid scheme %q: only http and https are allowed", parsed.Scheme)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", rawURL)
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", rawURL)
	default:
		return fmt.Errorf("browser: unsupported platform %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: failed to launch: %w", err)
	}
	return nil
}
