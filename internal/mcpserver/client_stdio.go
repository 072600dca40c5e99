// Package mcpserver is the stdio transport for an MCP-based RemoteTest,
// trimmed from the teacher's multi-transport (stdio/SSE/streamable-HTTP)
// aggregator client down to the one transport a RemoteTest actually
// drives a test-harness agent over: a local subprocess talking MCP on
// stdin/stdout. See doc.go.
package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"invocore/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultStdioInitTimeout bounds how long Initialize waits for the
// subprocess to start and complete the MCP handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioClient drives one MCP server subprocess over stdio. Lazily
// started: constructing a StdioClient never spawns anything, only the
// first Initialize call does.
type StdioClient struct {
	mu        sync.Mutex
	client    client.MCPClient
	connected bool

	command string
	args    []string
	env     map[string]string
}

// NewStdioClient builds a StdioClient for command/args with no extra
// environment variables.
func NewStdioClient(command string, args []string) *StdioClient {
	return &StdioClient{command: command, args: args, env: make(map[string]string)}
}

// Initialize starts the subprocess (if not already running) and
// completes the MCP handshake. Safe to call more than once; subsequent
// calls are no-ops once connected.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("mcpserver", "starting stdio MCP client: %s %v", c.command, c.args)

	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("starting mcp subprocess %q: %w", c.command, err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	_, err = mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo:      mcp.Implementation{Name: "invocore", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("mcp handshake with %q: %w", c.command, err)
	}

	c.client = mcpClient
	c.connected = true
	return nil
}

// CallTool invokes one tool by name against the running subprocess.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("mcp client for %q not initialized", c.command)
	}

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("calling tool %q on %q: %w", name, c.command, err)
	}
	return result, nil
}

// Close shuts down the subprocess if running.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.connected = false
	c.client = nil
	return err
}
