package broker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mcpbroker/internal/domain"
)

func TestNewPaths(t *testing.T) {
	p := NewPaths("/data/mcpbroker")

	want := map[string]string{
		"StoreDB":             "/data/mcpbroker/store.db",
		"KeyFile":             "/data/mcpbroker/.oauth-key",
		"KeyRotationFile":     "/data/mcpbroker/oauth-keys.json",
		"AuditLog":            "/data/mcpbroker/oauth-audit.log",
		"BackupDir":           "/data/mcpbroker/oauth-backups",
		"OAuthMigrationState": "/data/mcpbroker/oauth-migration-state.json",
	}
	got := map[string]string{
		"StoreDB":             p.StoreDB,
		"KeyFile":             p.KeyFile,
		"KeyRotationFile":     p.KeyRotationFile,
		"AuditLog":            p.AuditLog,
		"BackupDir":           p.BackupDir,
		"OAuthMigrationState": p.OAuthMigrationState,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
}

func (f *fakeAuditStore) AppendAuditEntry(_ context.Context, e domain.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditStore) ListAuditEntries(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeAuditStore) TrimAuditEntriesOlderThan(_ context.Context, cutoff int64) (int64, error) {
	return 0, nil
}

func TestFileAuditStoreAppendsToFileAndDelegate(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "oauth-audit.log")

	inner := &fakeAuditStore{}
	fa, err := newFileAuditStore(inner, logPath)
	if err != nil {
		t.Fatalf("newFileAuditStore: %v", err)
	}
	defer fa.Close()

	entry := domain.AuditEntry{ID: "e1", EventType: domain.EventTokenCreated, Severity: domain.SeverityInfo, ServerID: "srv-a"}
	if err := fa.AppendAuditEntry(context.Background(), entry); err != nil {
		t.Fatalf("AppendAuditEntry: %v", err)
	}

	if len(inner.entries) != 1 || inner.entries[0].ID != "e1" {
		t.Errorf("expected delegate to receive the entry, got %+v", inner.entries)
	}

	if err := fa.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var decoded domain.AuditEntry
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decoding audit log line: %v", err)
	}
	if decoded.ID != "e1" || decoded.ServerID != "srv-a" {
		t.Errorf("unexpected decoded entry: %+v", decoded)
	}
}

func TestFileAuditStoreAppendOnly(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "oauth-audit.log")

	inner := &fakeAuditStore{}
	fa, err := newFileAuditStore(inner, logPath)
	if err != nil {
		t.Fatalf("newFileAuditStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := fa.AppendAuditEntry(context.Background(), domain.AuditEntry{ID: "e"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	fa.Close()

	fa2, err := newFileAuditStore(inner, logPath)
	if err != nil {
		t.Fatalf("reopening audit log: %v", err)
	}
	defer fa2.Close()
	if err := fa2.AppendAuditEntry(context.Background(), domain.AuditEntry{ID: "e4"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines across reopen, got %d", len(lines))
	}
}

