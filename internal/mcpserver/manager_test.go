package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpbroker/internal/domain"
)

type fakeServerStore struct {
	servers map[string]domain.Server
}

func newFakeServerStore(servers ...domain.Server) *fakeServerStore {
	m := &fakeServerStore{servers: map[string]domain.Server{}}
	for _, s := range servers {
		m.servers[s.ID] = s
	}
	return m
}

func (f *fakeServerStore) GetServer(_ context.Context, id string) (*domain.Server, error) {
	sv, ok := f.servers[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "server", ID: id}
	}
	return &sv, nil
}

func (f *fakeServerStore) GetServerByName(_ context.Context, name string) (*domain.Server, error) {
	for _, sv := range f.servers {
		if sv.Name == name {
			return &sv, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "server", ID: name}
}

func (f *fakeServerStore) ListServers(_ context.Context) ([]domain.Server, error) {
	out := make([]domain.Server, 0, len(f.servers))
	for _, sv := range f.servers {
		out = append(out, sv)
	}
	return out, nil
}

func (f *fakeServerStore) CreateServer(_ context.Context, sv domain.Server) error {
	f.servers[sv.ID] = sv
	return nil
}

func (f *fakeServerStore) UpdateServer(_ context.Context, sv domain.Server) error {
	if _, ok := f.servers[sv.ID]; !ok {
		return &domain.NotFoundError{Kind: "server", ID: sv.ID}
	}
	f.servers[sv.ID] = sv
	return nil
}

func (f *fakeServerStore) RemoveServer(_ context.Context, id string) error {
	if _, ok := f.servers[id]; !ok {
		return &domain.NotFoundError{Kind: "server", ID: id}
	}
	delete(f.servers, id)
	return nil
}

type fakeHeaderSource struct {
	headers         map[string]string
	headersErr      error
	authenticateErr error
	authCalls       int
}

func (f *fakeHeaderSource) GetHeaders(_ context.Context, _ string) (map[string]string, error) {
	return f.headers, f.headersErr
}

func (f *fakeHeaderSource) Authenticate(_ context.Context, _ string, _ []string) error {
	f.authCalls++
	return f.authenticateErr
}

type fakeDiscoverer struct {
	calls []string
}

func (f *fakeDiscoverer) InitDiscovery(_ context.Context, serverID string, _ []ToolAnnouncement) error {
	f.calls = append(f.calls, serverID)
	return nil
}

// fakeClient is a minimal MCPClient stand-in so manager tests never touch
// a real transport.
type fakeClient struct {
	initErr   error
	tools     []mcp.Tool
	listErr   error
	closed    bool
	initCalls int
}

func (c *fakeClient) Initialize(_ context.Context) error {
	c.initCalls++
	return c.initErr
}
func (c *fakeClient) Close() error { c.closed = true; return nil }
func (c *fakeClient) ListTools(_ context.Context) ([]mcp.Tool, error) {
	return c.tools, c.listErr
}
func (c *fakeClient) CallTool(_ context.Context, _ string, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	return nil, nil
}

func testServer(id, name string) domain.Server {
	return domain.Server{
		ID:         id,
		Name:       name,
		ServerType: domain.ServerTypeRemote,
		RemoteURL:  "https://upstream.example/mcp",
		AutoStart:  false,
	}
}

func TestManagerLoadPopulatesStoppedServers(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})

	require.NoError(t, m.Load(context.Background()))

	sv, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, sv.Status)

	id, ok := m.ResolveID("alpha")
	require.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestManagerGetUnknownServerReturnsNotFound(t *testing.T) {
	m := New(newFakeServerStore(), &fakeHeaderSource{}, &fakeDiscoverer{})
	_, err := m.Get("missing")
	require.Error(t, err)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestManagerCreateRegistersStoppedServer(t *testing.T) {
	store := newFakeServerStore()
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})

	sv := testServer("s1", "alpha")
	require.NoError(t, m.Create(context.Background(), sv))

	got, err := m.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, got.Status)
	assert.Len(t, store.servers, 1)
}

func TestManagerStartIsIdempotent(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	// Force the already-running shortcut without touching real transports.
	m.mu.Lock()
	m.clients["s1"].status = domain.StatusRunning
	m.mu.Unlock()

	require.NoError(t, m.Start(context.Background(), "alpha"))

	sv, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, sv.Status)
}

func TestManagerStartRejectsDisabledServer(t *testing.T) {
	sv := testServer("s1", "alpha")
	sv.Disabled = true
	store := newFakeServerStore(sv)
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	err := m.Start(context.Background(), "alpha")
	require.Error(t, err)

	got, _ := m.Get("alpha")
	assert.Equal(t, domain.StatusStopped, got.Status)
}

func TestManagerStopIsIdempotentWhenNotRunning(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.Stop(context.Background(), "alpha"))

	sv, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, sv.Status)
}

func TestManagerStopClosesLiveClient(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	fc := &fakeClient{}
	m.mu.Lock()
	m.clients["s1"].status = domain.StatusRunning
	m.clients["s1"].client = fc
	m.mu.Unlock()

	require.NoError(t, m.Stop(context.Background(), "alpha"))
	assert.True(t, fc.closed)

	_, err := m.Client("alpha")
	require.Error(t, err)
	var notRunning *domain.ServerNotRunningError
	assert.ErrorAs(t, err, &notRunning)
}

func TestManagerRemoveDeletesRecordAndMapEntries(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.Remove(context.Background(), "alpha"))

	_, err := m.Get("alpha")
	require.Error(t, err)
	assert.Empty(t, store.servers)

	_, ok := m.ResolveID("alpha")
	assert.False(t, ok)
}

func TestManagerClientReturnsNotRunningWhenStopped(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	_, err := m.Client("alpha")
	require.Error(t, err)
	var notRunning *domain.ServerNotRunningError
	assert.ErrorAs(t, err, &notRunning)
}

func TestManagerClearAllStopsAndEmptiesMaps(t *testing.T) {
	store := newFakeServerStore(testServer("s1", "alpha"), testServer("s2", "beta"))
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	fc := &fakeClient{}
	m.mu.Lock()
	m.clients["s1"].status = domain.StatusRunning
	m.clients["s1"].client = fc
	m.mu.Unlock()

	m.ClearAll(context.Background())

	assert.True(t, fc.closed)
	assert.Empty(t, m.List())
}

func TestManagerAutoStartSkipsDisabledServers(t *testing.T) {
	// "alpha" is local with a command that cannot possibly exist, so its
	// connect attempt fails immediately instead of blocking on real I/O.
	enabled := domain.Server{
		ID: "s1", Name: "alpha", ServerType: domain.ServerTypeLocal,
		Command: "mcpbroker-nonexistent-binary", AutoStart: true,
	}
	disabled := testServer("s2", "beta")
	disabled.AutoStart = true
	disabled.Disabled = true

	store := newFakeServerStore(enabled, disabled)
	m := New(store, &fakeHeaderSource{}, &fakeDiscoverer{})
	require.NoError(t, m.Load(context.Background()))

	m.AutoStart(context.Background())

	alpha, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, alpha.Status)

	beta, err := m.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, beta.Status)
}
