package oauthgov

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAuditStore) AppendAuditEntry(_ context.Context, e domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditStore) ListAuditEntries(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return append([]domain.AuditEntry(nil), f.entries[len(f.entries)-limit:]...), nil
}

func (f *fakeAuditStore) TrimAuditEntriesOlderThan(_ context.Context, cutoff int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.AuditEntry
	var trimmed int64
	for _, e := range f.entries {
		if e.Timestamp < cutoff {
			trimmed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return trimmed, nil
}

type fakeDataStore struct {
	mu      sync.Mutex
	configs map[string]domain.OAuthConfig
	tokens  map[string]domain.OAuthToken

	rotateCalls int
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{configs: map[string]domain.OAuthConfig{}, tokens: map[string]domain.OAuthToken{}}
}

func (f *fakeDataStore) ListOAuthConfigs(_ context.Context) ([]domain.OAuthConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OAuthConfig
	for _, c := range f.configs {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeDataStore) ListOAuthTokens(_ context.Context) ([]domain.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OAuthToken
	for _, t := range f.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeDataStore) UpsertOAuthConfig(_ context.Context, c domain.OAuthConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[c.ServerID] = c
	return nil
}

func (f *fakeDataStore) UpsertOAuthToken(_ context.Context, t domain.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.ServerID] = t
	return nil
}

func (f *fakeDataStore) RotateEncryptionKey(_ context.Context, _ []byte, _ *crypto.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateCalls++
	return nil
}

func newTestCrypto(t *testing.T) *crypto.Service {
	svc, err := crypto.Load(filepath.Join(t.TempDir(), ".oauth-key"))
	require.NoError(t, err)
	return svc
}

func TestRecordAppendsToRingAndStore(t *testing.T) {
	audit := &fakeAuditStore{}
	svc := New(audit, newFakeDataStore(), newTestCrypto(t), Config{})

	svc.Record(context.Background(), "srv-a", domain.EventTokenCreated, "issued", domain.SeverityInfo)

	require.Len(t, audit.entries, 1)
	recent := svc.RecentEntries(10)
	require.Len(t, recent, 1)
	require.Equal(t, domain.EventTokenCreated, recent[0].EventType)
}

func TestAllowEnforcesFixedWindowLimitsPerScope(t *testing.T) {
	svc := New(&fakeAuditStore{}, newFakeDataStore(), newTestCrypto(t), Config{})

	for i := 0; i < authRateLimit; i++ {
		require.NoError(t, svc.Allow(context.Background(), "srv-a", "auth"))
	}
	err := svc.Allow(context.Background(), "srv-a", "auth")
	require.Error(t, err)
	var rlErr *domain.RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, "auth", rlErr.Scope)

	// A different scope on the same server is unaffected.
	require.NoError(t, svc.Allow(context.Background(), "srv-a", "refresh"))
	// A different server's auth scope is unaffected.
	require.NoError(t, svc.Allow(context.Background(), "srv-b", "auth"))
}

func TestRotateKeyReencryptsAndAdvancesVersion(t *testing.T) {
	audit := &fakeAuditStore{}
	data := newFakeDataStore()
	cryptoSvc := newTestCrypto(t)
	svc := New(audit, data, cryptoSvc, Config{})

	beforeVersion := cryptoSvc.KeyVersion()
	require.NoError(t, svc.RotateKey(context.Background()))

	require.Equal(t, 1, data.rotateCalls)
	require.Equal(t, beforeVersion+1, cryptoSvc.KeyVersion())

	foundRotated := false
	for _, e := range audit.entries {
		if e.EventType == domain.EventKeyRotated {
			foundRotated = true
		}
	}
	require.True(t, foundRotated)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	data := newFakeDataStore()
	require.NoError(t, data.UpsertOAuthConfig(context.Background(), domain.OAuthConfig{ServerID: "srv-a", Provider: "github", ClientID: "client-1"}))
	require.NoError(t, data.UpsertOAuthToken(context.Background(), domain.OAuthToken{ServerID: "srv-a", AccessToken: "tok-a"}))

	svc := New(&fakeAuditStore{}, data, newTestCrypto(t), Config{MachineIDHash: "mh", AppVersion: "1.0.0"})

	dir := t.TempDir()
	backup, err := svc.CreateBackup(context.Background(), dir, "s3cret", false)
	require.NoError(t, err)
	require.Equal(t, 1, backup.Metadata.ConfigCount)
	require.Equal(t, 1, backup.Metadata.TokenCount)

	restoreTarget := newFakeDataStore()
	restoreSvc := New(&fakeAuditStore{}, restoreTarget, newTestCrypto(t), Config{})
	meta, err := restoreSvc.RestoreBackup(context.Background(), backup.Path, "s3cret")
	require.NoError(t, err)
	require.Equal(t, 1, meta.ConfigCount)

	restored, err := restoreTarget.ListOAuthTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, "tok-a", restored[0].AccessToken)
}

func TestRestoreBackupRejectsWrongPassphrase(t *testing.T) {
	data := newFakeDataStore()
	require.NoError(t, data.UpsertOAuthToken(context.Background(), domain.OAuthToken{ServerID: "srv-a", AccessToken: "tok-a"}))
	svc := New(&fakeAuditStore{}, data, newTestCrypto(t), Config{})

	dir := t.TempDir()
	backup, err := svc.CreateBackup(context.Background(), dir, "correct-horse", false)
	require.NoError(t, err)

	_, err = svc.RestoreBackup(context.Background(), backup.Path, "wrong-passphrase")
	require.Error(t, err)
}

func TestAutomaticBackupsArePrunedToSeven(t *testing.T) {
	data := newFakeDataStore()
	svc := New(&fakeAuditStore{}, data, newTestCrypto(t), Config{})
	dir := t.TempDir()

	for i := 0; i < backupKeepCount+3; i++ {
		_, err := svc.CreateBackup(context.Background(), dir, "", true)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(entries), backupKeepCount)
}

func TestMigratorAppliesAndRollsBack(t *testing.T) {
	data := newFakeDataStore()
	require.NoError(t, data.UpsertOAuthConfig(context.Background(), domain.OAuthConfig{ServerID: "srv-a", Provider: "custom", Scopes: []string{"repo"}}))
	svc := New(&fakeAuditStore{}, data, newTestCrypto(t), Config{})

	addDefaultScope := DataMigration{
		ID: "0002-add-offline-scope",
		Forward: func(p *backupPayload) error {
			for i := range p.Configs {
				p.Configs[i].Scopes = append(p.Configs[i].Scopes, "offline_access")
			}
			return nil
		},
		Reverse: func(p *backupPayload) error { return nil },
	}

	stateFile := filepath.Join(t.TempDir(), "oauth-migration-state.json")
	migrator := NewMigrator(svc, stateFile, []DataMigration{addDefaultScope})

	require.NoError(t, migrator.ApplyPending(context.Background(), t.TempDir()))

	cfg, err := data.ListOAuthConfigs(context.Background())
	require.NoError(t, err)
	require.Contains(t, cfg[0].Scopes, "offline_access")

	// Applying again is a no-op (already recorded as applied).
	require.NoError(t, migrator.ApplyPending(context.Background(), t.TempDir()))

	require.NoError(t, migrator.Rollback(context.Background()))
	cfg, err = data.ListOAuthConfigs(context.Background())
	require.NoError(t, err)
	require.NotContains(t, cfg[0].Scopes, "offline_access")
}

// TestRollbackToUndoesMultipleMigrationsInOneCall mirrors the scenario of
// migrating dataset version 1.0.0 to 2.0.0 across five recorded
// migrations, then rolling back to an intermediate target version in a
// single call.
func TestRollbackToUndoesMultipleMigrationsInOneCall(t *testing.T) {
	data := newFakeDataStore()
	require.NoError(t, data.UpsertOAuthConfig(context.Background(), domain.OAuthConfig{ServerID: "srv-a", Provider: "custom", Scopes: []string{"repo"}}))
	svc := New(&fakeAuditStore{}, data, newTestCrypto(t), Config{})

	tagScope := func(tag string) func(*backupPayload) error {
		return func(p *backupPayload) error {
			for i := range p.Configs {
				p.Configs[i].Scopes = append(p.Configs[i].Scopes, tag)
			}
			return nil
		}
	}

	versions := []string{"1.0.1", "1.0.2", "1.1.0", "1.2.0", "2.0.0"}
	migrations := make([]DataMigration, 0, len(versions))
	for _, v := range versions {
		migrations = append(migrations, DataMigration{
			ID:      v,
			Forward: tagScope(v),
			Reverse: func(*backupPayload) error { return nil },
		})
	}

	stateFile := filepath.Join(t.TempDir(), "oauth-migration-state.json")
	migrator := NewMigrator(svc, stateFile, migrations)

	require.NoError(t, migrator.ApplyPending(context.Background(), t.TempDir()))

	state, err := migrator.loadState()
	require.NoError(t, err)
	require.Equal(t, "2.0.0", state.CurrentVersion)
	require.Len(t, state.AppliedMigrations, 5)

	cfg, err := data.ListOAuthConfigs(context.Background())
	require.NoError(t, err)
	require.Contains(t, cfg[0].Scopes, "2.0.0")
	require.Contains(t, cfg[0].Scopes, "1.2.0")

	require.NoError(t, migrator.RollbackTo(context.Background(), "1.1.0"))

	state, err = migrator.loadState()
	require.NoError(t, err)
	require.Equal(t, "1.1.0", state.CurrentVersion)
	require.Equal(t, []string{"1.0.1", "1.0.2", "1.1.0"}, state.AppliedMigrations)

	cfg, err = data.ListOAuthConfigs(context.Background())
	require.NoError(t, err)
	require.NotContains(t, cfg[0].Scopes, "2.0.0")
	require.NotContains(t, cfg[0].Scopes, "1.2.0")
	require.Contains(t, cfg[0].Scopes, "1.1.0")

	// Rolling back to a version never applied is an error, and leaves
	// state untouched.
	err = migrator.RollbackTo(context.Background(), "9.9.9")
	require.Error(t, err)

	state, err = migrator.loadState()
	require.NoError(t, err)
	require.Equal(t, "1.1.0", state.CurrentVersion)
}
