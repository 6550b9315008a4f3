package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cryptoSvc, err := crypto.Load(filepath.Join(t.TempDir(), ".oauth-key"))
	require.NoError(t, err)
	st, err := Open(filepath.Join(t.TempDir(), "store.db"), cryptoSvc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "store.db")
	cryptoSvc, err := crypto.Load(filepath.Join(t.TempDir(), ".oauth-key"))
	require.NoError(t, err)

	st1, err := Open(dbFile, cryptoSvc)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Re-opening an up-to-date database must apply zero migrations and
	// must not error.
	st2, err := Open(dbFile, cryptoSvc)
	require.NoError(t, err)
	require.NoError(t, st2.Close())
}

func TestServerCRUDRoundTripsEncryptedColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sv := domain.Server{
		ID:         "srv-1",
		Name:       "github",
		ServerType: domain.ServerTypeRemote,
		RemoteURL:  "https://mcp.github.com",
		BearerToken: "secret-bearer-token",
		Env:        map[string]string{"API_KEY": "super-secret"},
		AutoStart:  true,
	}
	require.NoError(t, st.CreateServer(ctx, sv))

	got, err := st.GetServer(ctx, "srv-1")
	require.NoError(t, err)
	require.Equal(t, "github", got.Name)
	require.Equal(t, "secret-bearer-token", got.BearerToken)
	require.Equal(t, "super-secret", got.Env["API_KEY"])

	byName, err := st.GetServerByName(ctx, "github")
	require.NoError(t, err)
	require.Equal(t, got.ID, byName.ID)

	require.NoError(t, st.RemoveServer(ctx, "srv-1"))
	_, err = st.GetServer(ctx, "srv-1")
	require.Error(t, err)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestTokenServerIDsCascadeOnServerDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateServer(ctx, domain.Server{ID: "A", Name: "A", ServerType: domain.ServerTypeLocal}))
	require.NoError(t, st.CreateServer(ctx, domain.Server{ID: "B", Name: "B", ServerType: domain.ServerTypeLocal}))
	require.NoError(t, st.CreateClient(ctx, domain.Client{ID: "c1", Name: "client-1"}))

	require.NoError(t, st.CreateToken(ctx, domain.Token{
		ID: "tok-1", ClientID: "c1", ServerIDs: []string{"A", "B"}, IssuedAt: 1,
	}))

	require.NoError(t, st.RemoveServer(ctx, "A"))

	tok, err := st.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, tok.ServerIDs)
}

func TestClientDeleteCascadesTokens(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateClient(ctx, domain.Client{ID: "c1", Name: "client-1"}))
	require.NoError(t, st.CreateToken(ctx, domain.Token{ID: "tok-1", ClientID: "c1", IssuedAt: 1}))

	require.NoError(t, st.RemoveClient(ctx, "c1"))

	_, err := st.GetToken(ctx, "tok-1")
	require.Error(t, err)
}

func TestToolPreferenceResolutionTiers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateServer(ctx, domain.Server{ID: "A", Name: "A", ServerType: domain.ServerTypeLocal}))
	require.NoError(t, st.CreateClient(ctx, domain.Client{ID: "c1", Name: "c1"}))

	require.NoError(t, st.UpsertToolPreference(ctx, domain.ToolPreference{
		ServerID: "A", ToolName: "t1", Enabled: false, OriginalDescription: "does a thing",
	}))
	require.NoError(t, st.UpsertToolPreference(ctx, domain.ToolPreference{
		ServerID: "A", ToolName: "t1", ClientID: "c1", Enabled: true, CustomName: "alpha",
	}))

	clientRow, err := st.GetToolPreference(ctx, "A", "t1", "c1")
	require.NoError(t, err)
	require.True(t, clientRow.Enabled)
	require.Equal(t, "alpha", clientRow.CustomName)

	globalRow, err := st.GetToolPreference(ctx, "A", "t1", "")
	require.NoError(t, err)
	require.False(t, globalRow.Enabled)
}

func TestDeleteToolPreferencesNotInCleansUpVanishedTools(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateServer(ctx, domain.Server{ID: "A", Name: "A", ServerType: domain.ServerTypeLocal}))

	require.NoError(t, st.UpsertToolPreference(ctx, domain.ToolPreference{ServerID: "A", ToolName: "t1", Enabled: true}))
	require.NoError(t, st.UpsertToolPreference(ctx, domain.ToolPreference{ServerID: "A", ToolName: "t2", Enabled: true}))

	require.NoError(t, st.DeleteToolPreferencesNotIn(ctx, "A", []string{"t1"}))

	names, err := st.ListGlobalToolNames(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, names)
}

func TestRotateEncryptionKeyPreservesPlaintext(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateServer(ctx, domain.Server{ID: "A", Name: "A", ServerType: domain.ServerTypeRemote}))

	require.NoError(t, st.UpsertOAuthToken(ctx, domain.OAuthToken{
		ServerID: "A", AccessToken: "access-xyz", RefreshToken: "refresh-xyz", TokenType: "Bearer",
	}))

	oldKey := append([]byte{}, st.crypto.Key()...)
	rotated, err := st.crypto.Rotate()
	require.NoError(t, err)

	require.NoError(t, st.RotateEncryptionKey(ctx, oldKey, rotated))
	require.NoError(t, rotated.Commit())
	st.crypto = rotated

	tok, err := st.GetOAuthToken(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "access-xyz", tok.AccessToken)
	require.Equal(t, "refresh-xyz", tok.RefreshToken)
}
