package mcpserver

import (
	"fmt"

	"mcpbroker/internal/domain"
)

// MCPClientConfig carries the resolved, placeholder-substituted
// connection parameters for one server, regardless of transport.
type MCPClientConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Headers map[string]string
}

// NewMCPClientFromType creates the transport implementation matching
// serverType.
func NewMCPClientFromType(serverType domain.ServerType, config MCPClientConfig) (MCPClient, error) {
	switch serverType {
	case domain.ServerTypeLocal:
		if config.Command == "" {
			return nil, fmt.Errorf("command is required for local server type")
		}
		return NewStdioClientWithEnv(config.Command, config.Args, config.Env), nil

	case domain.ServerTypeRemoteStreamable:
		if config.URL == "" {
			return nil, fmt.Errorf("url is required for remote-streamable server type")
		}
		return NewStreamableHTTPClientWithHeaders(config.URL, config.Headers), nil

	case domain.ServerTypeRemote:
		if config.URL == "" {
			return nil, fmt.Errorf("url is required for remote server type")
		}
		return NewSSEClientWithHeaders(config.URL, config.Headers), nil

	default:
		return nil, fmt.Errorf("unsupported server type: %s", serverType)
	}
}
