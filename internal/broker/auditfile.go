package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"mcpbroker/internal/domain"
	"mcpbroker/internal/oauthgov"
)

// fileAuditStore decorates oauthgov.AuditStore so every appended entry is
// also written as one line of newline-delimited JSON to oauth-audit.log
// (spec.md §3/§6: the audit log is append-only to both the in-memory
// ring, owned by oauthgov, and an append-only file). The DB-backed half
// of persistence is unchanged; this only adds the file sink.
type fileAuditStore struct {
	oauthgov.AuditStore

	mu   sync.Mutex
	file *os.File
}

func newFileAuditStore(inner oauthgov.AuditStore, path string) (*fileAuditStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &fileAuditStore{AuditStore: inner, file: f}, nil
}

func (f *fileAuditStore) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error {
	if err := f.AuditStore.AppendAuditEntry(ctx, e); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	line, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	line = append(line, '\n')
	_, _ = f.file.Write(line)
	return nil
}

func (f *fileAuditStore) Close() error {
	return f.file.Close()
}
