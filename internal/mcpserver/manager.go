// Package mcpserver implements the Server Manager: the supervisor that
// owns the lifecycle of every upstream MCP server the broker aggregates.
// It keeps three in-memory maps (servers, live clients, name-to-id) plus
// a status map, all guarded by one RWMutex, and is the only component
// that ever starts or stops an upstream transport. Grounded on the
// register/deregister/refresh-capabilities shape of the teacher's
// aggregator.ServerRegistry, generalized from a single local-process
// model to the three transport families a server can declare.
package mcpserver

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"mcpbroker/internal/domain"
	"mcpbroker/pkg/logging"
)

const (
	// DefaultLocalSpawnTimeout bounds how long a local process gets from
	// spawn to its first protocol message before Start gives up.
	DefaultLocalSpawnTimeout = 30 * time.Second

	stderrTailLines = 50
)

// ServerStore is the persistence seam the Server Manager depends on: the
// durable half of the servers map. Status/ErrorMessage/Logs never reach
// it; those fields are runtime-only and live solely in the in-memory
// status map below.
type ServerStore interface {
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	GetServerByName(ctx context.Context, name string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	CreateServer(ctx context.Context, s domain.Server) error
	UpdateServer(ctx context.Context, s domain.Server) error
	RemoveServer(ctx context.Context, id string) error
}

// HeaderSource is the pull interface OAuth Core exposes so the Server
// Manager can ask for whatever Authorization header a remote server
// currently needs, without the Server Manager importing OAuth Core's
// token-refresh machinery or OAuth Core importing the Server Manager.
// Authenticate kicks off (or resumes) authorization for a server whose
// connection attempt came back 401; Start calls it at most once per
// attempt, then retries the connection exactly once.
type HeaderSource interface {
	GetHeaders(ctx context.Context, serverID string) (map[string]string, error)
	Authenticate(ctx context.Context, serverID string, scopes []string) error
}

// ToolDiscoverer is the hook the Tool Filter Service exposes for the
// moment a server's tool list becomes known: it upserts/updates a
// preference row per announced tool and deletes rows for tools the
// upstream no longer offers.
type ToolDiscoverer interface {
	InitDiscovery(ctx context.Context, serverID string, announced []ToolAnnouncement) error
}

// ToolAnnouncement mirrors toolfilter.AnnouncedTool; kept as a distinct
// type here so this package does not import toolfilter directly (the
// two packages are wired together at the composition root).
type ToolAnnouncement struct {
	Name        string
	Description string
}

// clientState is the live half of one server: the open transport, plus
// the goroutine-visible runtime status mirrored onto domain.Server.
type clientState struct {
	client MCPClient

	status       domain.ServerStatus
	errorMessage string
	logs         []string
}

// Manager supervises every upstream server: it starts and stops
// transports, resolves placeholders, injects headers, and hands newly
// discovered tools to the Tool Filter Service. All exported methods are
// safe for concurrent use; per-server operations are additionally
// serialized through a per-id lock so a Start and a Stop racing on the
// same server id never interleave.
type Manager struct {
	store    ServerStore
	headers  HeaderSource
	discover ToolDiscoverer

	mu       sync.RWMutex
	servers  map[string]domain.Server // id -> durable record (cache of Store)
	clients  map[string]*clientState  // id -> live transport + runtime status
	nameToID map[string]string        // name -> id

	serverLocks map[string]*sync.Mutex // id -> per-server serialization lock
	locksMu     sync.Mutex
}

func New(store ServerStore, headers HeaderSource, discover ToolDiscoverer) *Manager {
	return &Manager{
		store:       store,
		headers:     headers,
		discover:    discover,
		servers:     make(map[string]domain.Server),
		clients:     make(map[string]*clientState),
		nameToID:    make(map[string]string),
		serverLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization lock for a server id, creating it on
// first use. The locks map itself is protected by locksMu, which is held
// only for the map lookup/insert, never across the caller's critical
// section.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.serverLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.serverLocks[id] = l
	}
	return l
}

// Load populates the in-memory maps from Store at startup. Every server
// begins in StatusStopped regardless of how it was left at the previous
// shutdown; nothing is auto-connected here, that is AutoStart's job.
func (m *Manager) Load(ctx context.Context) error {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("loading servers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sv := range servers {
		sv.Status = domain.StatusStopped
		m.servers[sv.ID] = sv
		m.nameToID[sv.Name] = sv.ID
		m.clients[sv.ID] = &clientState{status: domain.StatusStopped}
	}
	return nil
}

// AutoStart starts every loaded, non-disabled server with AutoStart set,
// logging but not failing on individual start errors: one misconfigured
// server must not block the rest of the fleet from coming up.
func (m *Manager) AutoStart(ctx context.Context) {
	m.mu.RLock()
	var ids []string
	for id, sv := range m.servers {
		if sv.AutoStart && !sv.Disabled {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Start(ctx, id); err != nil {
			logging.Error("ServerManager", err, "auto-start failed for server %s", id)
		}
	}
}

// resolveID accepts either a server id or name and returns the id.
func (m *Manager) resolveID(nameOrID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.servers[nameOrID]; ok {
		return nameOrID, true
	}
	if id, ok := m.nameToID[nameOrID]; ok {
		return id, true
	}
	return "", false
}

// ResolveID is the exported form of resolveID: the Router Gate resolves
// a server name or id to a canonical id before every forwarded call.
func (m *Manager) ResolveID(nameOrID string) (string, bool) {
	return m.resolveID(nameOrID)
}

// Get returns the current durable record plus its mirrored runtime
// status, or NotFoundError.
func (m *Manager) Get(nameOrID string) (domain.Server, error) {
	id, ok := m.resolveID(nameOrID)
	if !ok {
		return domain.Server{}, &domain.NotFoundError{Kind: "server", ID: nameOrID}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	sv := m.servers[id]
	if cs, ok := m.clients[id]; ok {
		sv.Status = cs.status
		sv.ErrorMessage = cs.errorMessage
		sv.Logs = cs.logs
	}
	return sv, nil
}

// List returns every known server with its mirrored runtime status.
func (m *Manager) List() []domain.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Server, 0, len(m.servers))
	for id, sv := range m.servers {
		if cs, ok := m.clients[id]; ok {
			sv.Status = cs.status
			sv.ErrorMessage = cs.errorMessage
			sv.Logs = cs.logs
		}
		out = append(out, sv)
	}
	return out
}

// Create persists a new server record and registers it in memory in the
// stopped state. It does not connect; call Start or AutoStart for that.
func (m *Manager) Create(ctx context.Context, sv domain.Server) error {
	if err := m.store.CreateServer(ctx, sv); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sv.Status = domain.StatusStopped
	m.servers[sv.ID] = sv
	m.nameToID[sv.Name] = sv.ID
	m.clients[sv.ID] = &clientState{status: domain.StatusStopped}
	return nil
}

// setStatus mutates only the runtime mirror, never the durable record.
func (m *Manager) setStatus(id string, status domain.ServerStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.clients[id]
	if !ok {
		cs = &clientState{}
		m.clients[id] = cs
	}
	cs.status = status
	cs.errorMessage = errMsg
}

func (m *Manager) appendLog(id, line string) {
	if line == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.clients[id]
	if !ok {
		return
	}
	cs.logs = append(cs.logs, line)
	if len(cs.logs) > stderrTailLines {
		cs.logs = cs.logs[len(cs.logs)-stderrTailLines:]
	}
}

// Start connects to the named or id'd server if it is not already
// running. It is idempotent: a second Start on an already-Running or
// already-Starting server returns nil without reconnecting. On a
// detected 401 from a remote transport it asks OAuth Core to
// authenticate, then retries the connection exactly once.
func (m *Manager) Start(ctx context.Context, nameOrID string) error {
	id, ok := m.resolveID(nameOrID)
	if !ok {
		return &domain.NotFoundError{Kind: "server", ID: nameOrID}
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	sv := m.servers[id]
	status := m.clients[id].status
	m.mu.RUnlock()

	if status == domain.StatusRunning || status == domain.StatusStarting {
		return nil
	}
	if sv.Disabled {
		return fmt.Errorf("server %s is disabled", sv.Name)
	}

	m.setStatus(id, domain.StatusStarting, "")

	client, err := m.connect(ctx, sv)
	if authErr, ok := err.(*AuthRequiredError); ok {
		logging.Info("ServerManager", "server %s requires authentication, invoking OAuth Core", sv.Name)
		if m.headers == nil {
			m.setStatus(id, domain.StatusError, authErr.Error())
			return authErr
		}
		if authzErr := m.headers.Authenticate(ctx, sv.ID, []string{authErr.AuthInfo.Scope}); authzErr != nil {
			m.setStatus(id, domain.StatusError, authzErr.Error())
			return authzErr
		}
		client, err = m.connect(ctx, sv)
	}
	if err != nil {
		m.setStatus(id, domain.StatusError, err.Error())
		return err
	}

	tools, listErr := client.ListTools(ctx)
	if listErr != nil {
		logging.Warn("ServerManager", "server %s connected but tool listing failed: %v", sv.Name, listErr)
	} else if m.discover != nil {
		announced := make([]ToolAnnouncement, 0, len(tools))
		for _, t := range tools {
			announced = append(announced, ToolAnnouncement{Name: t.Name, Description: t.Description})
		}
		if err := m.discover.InitDiscovery(ctx, id, announced); err != nil {
			logging.Warn("ServerManager", "tool discovery init failed for server %s: %v", sv.Name, err)
		}
	}

	m.mu.Lock()
	m.clients[id].client = client
	m.clients[id].status = domain.StatusRunning
	m.clients[id].errorMessage = ""
	m.mu.Unlock()

	if stdio, ok := client.(*StdioClient); ok {
		go m.captureStderr(id, stdio)
	}

	logging.Info("ServerManager", "server %s started", sv.Name)
	return nil
}

// captureStderr tails a local server's stderr into its in-memory log
// buffer for as long as the process stays connected, so a later Get
// call can show why a tool call failed even after the upstream process
// has already written its diagnostics and moved on.
func (m *Manager) captureStderr(id string, stdio *StdioClient) {
	r, ok := stdio.GetStderr()
	if !ok {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.appendLog(id, scanner.Text())
	}
}

// connect builds the transport for sv, resolving placeholders for local
// servers and headers for remote ones, and performs the protocol
// handshake.
func (m *Manager) connect(ctx context.Context, sv domain.Server) (MCPClient, error) {
	switch sv.ServerType {
	case domain.ServerTypeLocal:
		return m.connectLocal(ctx, sv)
	case domain.ServerTypeRemote, domain.ServerTypeRemoteStreamable:
		return m.connectRemote(ctx, sv)
	default:
		return nil, fmt.Errorf("server %s has unknown server type %q", sv.Name, sv.ServerType)
	}
}

func (m *Manager) connectLocal(ctx context.Context, sv domain.Server) (MCPClient, error) {
	values := resolveParams(sv.InputParams, sv.Env)
	if err := requiredParamsPresent(sv.InputParams, values); err != nil {
		return nil, fmt.Errorf("server %s: %w", sv.Name, err)
	}

	cfg := MCPClientConfig{
		Command: sv.Command,
		Args:    substituteArgs(sv.Args, values),
		Env:     values,
	}

	client, err := NewMCPClientFromType(sv.ServerType, cfg)
	if err != nil {
		return nil, err
	}

	spawnCtx, cancel := context.WithTimeout(ctx, DefaultLocalSpawnTimeout)
	defer cancel()

	if err := client.Initialize(spawnCtx); err != nil {
		return client, fmt.Errorf("server %s: %w", sv.Name, err)
	}
	return client, nil
}

func (m *Manager) connectRemote(ctx context.Context, sv domain.Server) (MCPClient, error) {
	headers := map[string]string{}
	if sv.BearerToken != "" {
		headers["Authorization"] = "Bearer " + sv.BearerToken
	}
	if m.headers != nil {
		oauthHeaders, err := m.headers.GetHeaders(ctx, sv.ID)
		if err != nil {
			logging.Debug("ServerManager", "no OAuth headers for server %s: %v", sv.Name, err)
		}
		for k, v := range oauthHeaders {
			headers[k] = v
		}
	}

	cfg := MCPClientConfig{URL: sv.RemoteURL, Headers: headers}
	client, err := NewMCPClientFromType(sv.ServerType, cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Stop closes the transport for the named or id'd server if running. It
// is idempotent: stopping an already-stopped server returns nil.
func (m *Manager) Stop(ctx context.Context, nameOrID string) error {
	id, ok := m.resolveID(nameOrID)
	if !ok {
		return &domain.NotFoundError{Kind: "server", ID: nameOrID}
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	cs := m.clients[id]
	if cs == nil || cs.status == domain.StatusStopped {
		if cs != nil {
			cs.status = domain.StatusStopped
		}
		m.mu.Unlock()
		return nil
	}
	cs.status = domain.StatusStopping
	client := cs.client
	name := m.servers[id].Name
	m.mu.Unlock()

	var closeErr error
	if client != nil {
		closeErr = client.Close()
	}

	m.mu.Lock()
	cs.client = nil
	cs.status = domain.StatusStopped
	cs.errorMessage = ""
	m.mu.Unlock()

	logging.Info("ServerManager", "server %s stopped", name)
	return closeErr
}

// Remove stops the server if running, then deletes its durable record
// and drops it from every in-memory map.
func (m *Manager) Remove(ctx context.Context, nameOrID string) error {
	id, ok := m.resolveID(nameOrID)
	if !ok {
		return &domain.NotFoundError{Kind: "server", ID: nameOrID}
	}

	if err := m.Stop(ctx, id); err != nil {
		logging.Warn("ServerManager", "stop during remove failed for server %s: %v", id, err)
	}

	if err := m.store.RemoveServer(ctx, id); err != nil {
		return err
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if sv, ok := m.servers[id]; ok {
		delete(m.nameToID, sv.Name)
	}
	delete(m.servers, id)
	delete(m.clients, id)
	m.mu.Unlock()

	m.locksMu.Lock()
	delete(m.serverLocks, id)
	m.locksMu.Unlock()

	return nil
}

// Client returns the live transport for a running server, or
// ServerNotRunningError if it is not connected.
func (m *Manager) Client(nameOrID string) (MCPClient, error) {
	id, ok := m.resolveID(nameOrID)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "server", ID: nameOrID}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.clients[id]
	if !ok || cs.status != domain.StatusRunning || cs.client == nil {
		return nil, &domain.ServerNotRunningError{ServerID: id}
	}
	return cs.client, nil
}

// ClearAll stops every running server and empties the in-memory maps.
// Used during shutdown; it does not touch Store.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			logging.Warn("ServerManager", "stop during shutdown failed for server %s: %v", id, err)
		}
	}

	m.mu.Lock()
	m.servers = make(map[string]domain.Server)
	m.clients = make(map[string]*clientState)
	m.nameToID = make(map[string]string)
	m.mu.Unlock()
}
