// Package router implements the Router Gate: the single path every tool
// call and list-tools request takes from an authenticated client through
// to an upstream MCP server. It performs validate → resolve → authorize
// → filter → forward in that fixed order and returns the first failure
// it hits, typed so callers can map it to a transport-appropriate error
// without inspecting strings. Grounded on the resolve-then-forward shape
// of the teacher's aggregator tool call dispatch in
// internal/aggregator/server_helpers.go's toolHandlerFactory, reshaped
// around a single bearer token's (clientId, serverIds) grant instead of
// the teacher's per-session OAuth connection state.
package router

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpbroker/internal/domain"
	"mcpbroker/internal/mcpserver"
	"mcpbroker/internal/token"
)

// TokenValidator is the narrow slice of the Token Service the gate
// depends on.
type TokenValidator interface {
	Validate(ctx context.Context, presentedID string) (*token.Validated, error)
}

// ToolResolver is the narrow slice of the Tool Filter Service the gate
// depends on.
type ToolResolver interface {
	Resolve(ctx context.Context, serverID, toolName, clientID string) (domain.ResolvedTool, error)
}

// ServerDirectory is the narrow slice of the Server Manager the gate
// depends on: resolving a server name or id, and reaching its live
// transport.
type ServerDirectory interface {
	ResolveID(nameOrID string) (string, bool)
	Client(nameOrID string) (mcpserver.MCPClient, error)
}

// Gate is the Router Gate. It holds no mutable state of its own; all
// state lives in the three components it forwards to.
type Gate struct {
	tokens  TokenValidator
	filter  ToolResolver
	servers ServerDirectory
}

func New(tokens TokenValidator, filter ToolResolver, servers ServerDirectory) *Gate {
	return &Gate{tokens: tokens, filter: filter, servers: servers}
}

// authorized is the outcome of steps 1-3, shared by CallTool and
// ListTools.
type authorized struct {
	serverID string
	clientID string
}

// authorize runs validate → resolve → authorize (steps 1-3): the token
// must exist, the server name or id must resolve, and the token's grant
// must include that server.
func (g *Gate) authorize(ctx context.Context, tokenID, serverNameOrID string) (*authorized, error) {
	validated, err := g.tokens.Validate(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	serverID, ok := g.servers.ResolveID(serverNameOrID)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "server", ID: serverNameOrID}
	}

	if !token.GrantsServer(validated.ServerIDs, serverID) {
		return nil, &domain.ForbiddenError{TokenID: tokenID, ServerID: serverID}
	}

	return &authorized{serverID: serverID, clientID: validated.ClientID}, nil
}

// CallTool runs the full validate → resolve → authorize → filter →
// forward pipeline for one tool call and returns the upstream response
// verbatim on success.
func (g *Gate) CallTool(ctx context.Context, tokenID, serverNameOrID, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	auth, err := g.authorize(ctx, tokenID, serverNameOrID)
	if err != nil {
		return nil, err
	}

	resolved, err := g.filter.Resolve(ctx, auth.serverID, toolName, auth.clientID)
	if err != nil {
		return nil, err
	}
	if !resolved.Enabled {
		return nil, &domain.ToolDisabledError{ServerID: auth.serverID, ToolName: toolName}
	}

	client, err := g.servers.Client(auth.serverID)
	if err != nil {
		return nil, err
	}

	return client.CallTool(ctx, resolved.OriginalName, args)
}

// ListedTool is one entry in a ListTools response: the resolved
// (possibly overridden) name/description, enabled tools only.
type ListedTool struct {
	Name        string
	Description string
}

// ListTools runs steps 1-3 and 5, then returns every enabled tool for
// this (server, client) pair with name/description overrides applied,
// preserving the upstream's own ordering.
func (g *Gate) ListTools(ctx context.Context, tokenID, serverNameOrID string) ([]ListedTool, error) {
	auth, err := g.authorize(ctx, tokenID, serverNameOrID)
	if err != nil {
		return nil, err
	}

	client, err := g.servers.Client(auth.serverID)
	if err != nil {
		return nil, err
	}

	upstream, err := client.ListTools(ctx)
	if err != nil {
		return nil, &domain.UpstreamError{ServerID: auth.serverID, Message: "list tools failed", Cause: err}
	}

	out := make([]ListedTool, 0, len(upstream))
	for _, t := range upstream {
		resolved, err := g.filter.Resolve(ctx, auth.serverID, t.Name, auth.clientID)
		if err != nil {
			return nil, err
		}
		if !resolved.Enabled {
			continue
		}
		out = append(out, ListedTool{Name: resolved.Name, Description: resolved.Description})
	}
	return out, nil
}
