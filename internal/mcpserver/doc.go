// Package mcpserver implements the Server Manager: the component that
// supervises every upstream MCP server the broker aggregates and speaks
// the upstream side of the Model Context Protocol on its behalf.
//
// # Server Types
//
// A server is one of three transport families:
//
//   - local: a child process speaking stdio, started with a command,
//     argument list, and environment; the arguments are subject to
//     placeholder substitution from the server's declared input
//     parameters.
//   - remote: an SSE-transport MCP server reached over HTTP(S).
//   - remote-streamable: a streamable-HTTP-transport MCP server.
//
// # Lifecycle
//
// Manager keeps three in-memory maps keyed by server id: the durable
// server record (a cache of Store), the live client plus its runtime
// status, and a name-to-id lookup. Start and Stop are idempotent and
// serialized per server id so a racing Start/Stop pair on the same
// server never interleaves. A 401 from a remote transport triggers one
// authentication attempt through OAuth Core's pull interface, followed
// by exactly one retry of the connection.
//
// On a successful connect, Manager lists the upstream's tools and hands
// them to the Tool Filter Service so it can initialize per-tool policy
// rows before the first client request arrives.
//
// # Placeholder Substitution
//
// Local server args accept ${PARAM}, {PARAM}, and the
// user_config.-prefixed variants of both, resolved against the server's
// declared input parameter defaults overlaid with the caller-supplied
// environment. Env values are passed to the child as given; placeholders
// inside them are not substituted.
package mcpserver
