// Package mcpserver provides the stdio transport an "mcp" RemoteTest
// plugin (internal/capability/mcptest) drives a test-harness agent
// over: the test-harness process is started as a subprocess and spoken
// to as an MCP server, one CallTool per configured step.
//
// This is a deliberately narrow slice of the teacher's original
// mcpserver package, which also managed MCP server lifecycle as a
// Kubernetes-backed resource type with SSE/streamable-HTTP transports,
// an aggregator-facing API adapter, and OAuth-authenticated remotes.
// None of that applies to a standalone invocation engine: invocore has
// no aggregator to register tools with and no CRD to back a server
// definition, so only the one transport an "mcp" test plugin needs
// survives the trim. See DESIGN.md for the rest of the cut.
package mcpserver
