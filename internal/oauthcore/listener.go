package oauthcore

import (
	"net"

	"github.com/coreos/go-systemd/v22/activation"

	"mcpbroker/pkg/logging"
)

// newLoopbackListener binds the fixed OAuth callback port. When the
// broker is started under systemd socket activation (a .socket unit
// pre-binding 42424 before the process starts, the pattern the teacher
// uses in internal/aggregator/server.go) the inherited listener is
// reused instead of binding again, so the unit can pass the socket
// across restarts without a bind-already-in-use race. Otherwise it
// binds addr directly. A busy port with no systemd listener fails the
// flow outright; a future revision may fall back to an ephemeral port
// and register it dynamically where the provider supports it.
func newLoopbackListener(addr string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		logging.Warn("oauthcore", "systemd socket activation check failed: %v", err)
	} else if len(listeners) > 0 {
		logging.Info("oauthcore", "using systemd-provided listener for the OAuth callback")
		return listeners[0], nil
	}

	return net.Listen("tcp", addr)
}
