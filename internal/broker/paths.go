// Package broker is the composition root: it wires Store, Crypto, Token,
// Tool Filter, OAuth Core, OAuth Governance, Server Manager and Router
// Gate into the explicit dependency graph Design Notes §9 calls for
// (Store → Crypto → {Token, Filter, OAuth Core → Governance} → Server
// Manager → Router Gate) and owns startup/teardown order. Every cmd/
// subcommand builds one of these rather than constructing components by
// hand.
package broker

import (
	"os"
	"path/filepath"
)

// Paths is the persisted state layout under one data directory, named
// per spec.md §6.
type Paths struct {
	Dir string

	StoreDB            string
	KeyFile            string
	KeyRotationFile     string
	AuditLog           string
	BackupDir          string
	OAuthMigrationState string
}

// NewPaths resolves every persisted file/directory under dataDir.
func NewPaths(dataDir string) Paths {
	return Paths{
		Dir:                 dataDir,
		StoreDB:             filepath.Join(dataDir, "store.db"),
		KeyFile:             filepath.Join(dataDir, ".oauth-key"),
		KeyRotationFile:     filepath.Join(dataDir, "oauth-keys.json"),
		AuditLog:            filepath.Join(dataDir, "oauth-audit.log"),
		BackupDir:           filepath.Join(dataDir, "oauth-backups"),
		OAuthMigrationState: filepath.Join(dataDir, "oauth-migration-state.json"),
	}
}

// DefaultDataDir resolves the OS-specific user-data directory for the
// broker, creating it if absent.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "mcpbroker")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
