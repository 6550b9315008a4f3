package router

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpbroker/internal/domain"
	"mcpbroker/internal/mcpserver"
	"mcpbroker/internal/token"
)

type fakeTokenValidator struct {
	tokens map[string]*token.Validated
}

func (f *fakeTokenValidator) Validate(_ context.Context, id string) (*token.Validated, error) {
	v, ok := f.tokens[id]
	if !ok {
		return nil, &domain.UnauthenticatedError{TokenID: id, Reason: "token unknown"}
	}
	return v, nil
}

type fakeToolResolver struct {
	resolved map[string]domain.ResolvedTool // key: serverID|toolName
	err      error
}

func (f *fakeToolResolver) Resolve(_ context.Context, serverID, toolName, _ string) (domain.ResolvedTool, error) {
	if f.err != nil {
		return domain.ResolvedTool{}, f.err
	}
	if r, ok := f.resolved[serverID+"|"+toolName]; ok {
		return r, nil
	}
	return domain.ResolvedTool{Enabled: true, OriginalName: toolName, Name: toolName}, nil
}

type fakeServerDirectory struct {
	nameToID map[string]string
	clients  map[string]mcpserver.MCPClient
}

func (f *fakeServerDirectory) ResolveID(nameOrID string) (string, bool) {
	if _, ok := f.clients[nameOrID]; ok {
		return nameOrID, true
	}
	id, ok := f.nameToID[nameOrID]
	return id, ok
}

func (f *fakeServerDirectory) Client(serverID string) (mcpserver.MCPClient, error) {
	c, ok := f.clients[serverID]
	if !ok {
		return nil, &domain.ServerNotRunningError{ServerID: serverID}
	}
	return c, nil
}

type fakeMCPClient struct {
	tools      []mcp.Tool
	callResult *mcp.CallToolResult
	callErr    error
	lastCalled string
}

func (c *fakeMCPClient) Initialize(_ context.Context) error { return nil }
func (c *fakeMCPClient) Close() error                       { return nil }
func (c *fakeMCPClient) ListTools(_ context.Context) ([]mcp.Tool, error) {
	return c.tools, nil
}
func (c *fakeMCPClient) CallTool(_ context.Context, name string, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	c.lastCalled = name
	return c.callResult, c.callErr
}

func TestCallToolRejectsUnknownToken(t *testing.T) {
	g := New(&fakeTokenValidator{tokens: map[string]*token.Validated{}}, &fakeToolResolver{}, &fakeServerDirectory{})

	_, err := g.CallTool(context.Background(), "bad-token", "srv", "tool", nil)
	require.Error(t, err)
	var unauth *domain.UnauthenticatedError
	assert.ErrorAs(t, err, &unauth)
}

func TestCallToolRejectsUnknownServer(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	g := New(tokens, &fakeToolResolver{}, &fakeServerDirectory{})

	_, err := g.CallTool(context.Background(), "tok1", "unknown-server", "tool", nil)
	require.Error(t, err)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCallToolRejectsServerNotInGrant(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	dirs := &fakeServerDirectory{nameToID: map[string]string{"other": "s2"}, clients: map[string]mcpserver.MCPClient{"s2": &fakeMCPClient{}}}
	g := New(tokens, &fakeToolResolver{}, dirs)

	_, err := g.CallTool(context.Background(), "tok1", "other", "tool", nil)
	require.Error(t, err)
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestCallToolRejectsEmptyGrant(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: nil},
	}}
	dirs := &fakeServerDirectory{clients: map[string]mcpserver.MCPClient{"s1": &fakeMCPClient{}}}
	g := New(tokens, &fakeToolResolver{}, dirs)

	_, err := g.CallTool(context.Background(), "tok1", "s1", "tool", nil)
	require.Error(t, err)
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestCallToolRejectsDisabledTool(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	dirs := &fakeServerDirectory{clients: map[string]mcpserver.MCPClient{"s1": &fakeMCPClient{}}}
	resolver := &fakeToolResolver{resolved: map[string]domain.ResolvedTool{
		"s1|restart": {Enabled: false, OriginalName: "restart"},
	}}
	g := New(tokens, resolver, dirs)

	_, err := g.CallTool(context.Background(), "tok1", "s1", "restart", nil)
	require.Error(t, err)
	var disabled *domain.ToolDisabledError
	assert.ErrorAs(t, err, &disabled)
}

func TestCallToolRejectsServerNotRunning(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	dirs := &fakeServerDirectory{nameToID: map[string]string{"s1": "s1"}, clients: map[string]mcpserver.MCPClient{}}
	g := New(tokens, &fakeToolResolver{}, dirs)

	_, err := g.CallTool(context.Background(), "tok1", "s1", "tool", nil)
	require.Error(t, err)
	var notRunning *domain.ServerNotRunningError
	assert.ErrorAs(t, err, &notRunning)
}

func TestCallToolForwardsUsingOriginalName(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	client := &fakeMCPClient{callResult: &mcp.CallToolResult{}}
	dirs := &fakeServerDirectory{clients: map[string]mcpserver.MCPClient{"s1": client}}
	resolver := &fakeToolResolver{resolved: map[string]domain.ResolvedTool{
		"s1|list_pods": {Enabled: true, OriginalName: "kubectl_get_pods", Name: "list_pods"},
	}}
	g := New(tokens, resolver, dirs)

	result, err := g.CallTool(context.Background(), "tok1", "s1", "list_pods", map[string]interface{}{"ns": "default"})
	require.NoError(t, err)
	assert.Same(t, client.callResult, result)
	assert.Equal(t, "kubectl_get_pods", client.lastCalled)
}

func TestListToolsFiltersDisabledAndAppliesOverrides(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	client := &fakeMCPClient{tools: []mcp.Tool{
		{Name: "kubectl_get_pods", Description: "list pods"},
		{Name: "kubectl_delete_pod", Description: "delete a pod"},
	}}
	dirs := &fakeServerDirectory{clients: map[string]mcpserver.MCPClient{"s1": client}}
	resolver := &fakeToolResolver{resolved: map[string]domain.ResolvedTool{
		"s1|kubectl_get_pods":    {Enabled: true, Name: "list_pods", Description: "List pods"},
		"s1|kubectl_delete_pod":  {Enabled: false},
	}}
	g := New(tokens, resolver, dirs)

	tools, err := g.ListTools(context.Background(), "tok1", "s1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "list_pods", tools[0].Name)
	assert.Equal(t, "List pods", tools[0].Description)
}

func TestListToolsRejectsServerNotInGrant(t *testing.T) {
	tokens := &fakeTokenValidator{tokens: map[string]*token.Validated{
		"tok1": {ClientID: "client1", ServerIDs: []string{"s1"}},
	}}
	dirs := &fakeServerDirectory{nameToID: map[string]string{"other": "s2"}, clients: map[string]mcpserver.MCPClient{"s2": &fakeMCPClient{}}}
	g := New(tokens, &fakeToolResolver{}, dirs)

	_, err := g.ListTools(context.Background(), "tok1", "other")
	require.Error(t, err)
	var forbidden *domain.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}
