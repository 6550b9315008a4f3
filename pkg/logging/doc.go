// Package logging provides the process-wide structured logger used across
// the broker: a thin wrapper over log/slog with a stable Debug/Info/Warn/
// Error/Audit surface so call sites don't depend on slog directly.
//
// # Usage
//
//	import "mcpbroker/pkg/logging"
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("router", "gate started")
//	logging.Debug("mcpserver", "connecting to %s", serverID)
//	logging.Warn("oauthcore", "refresh token near expiry for %s", serverID)
//	logging.Error("store", err, "failed to load server %s", serverID)
//
// Audit records security-sensitive events (token exchange, auth grant
// changes) at INFO level with an [AUDIT] prefix so they're easy to grep or
// ship to a separate sink:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:    "token_exchange",
//	    Outcome:   "success",
//	    SessionID: logging.TruncateSessionID(tokenID),
//	    Target:    serverID,
//	})
//
// Until InitForCLI has been called, all log calls are silently dropped.
package logging
