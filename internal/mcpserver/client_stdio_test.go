package mcpserver

import (
	"context"
	"testing"
)

func TestStdioClient_CallToolBeforeInitializeFails(t *testing.T) {
	c := NewStdioClient("nonexistent-binary-xyz", nil)

	_, err := c.CallTool(context.Background(), "some.tool", nil)
	if err == nil {
		t.Fatal("expected error calling a tool before Initialize")
	}
}

func TestStdioClient_CloseBeforeInitializeIsNoop(t *testing.T) {
	c := NewStdioClient("nonexistent-binary-xyz", nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() before Initialize should be a no-op, got: %v", err)
	}
}

func TestStdioClient_InitializeFailsForMissingBinary(t *testing.T) {
	c := NewStdioClient("nonexistent-binary-xyz", []string{"--flag"})

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected Initialize to fail for a nonexistent command")
	}
}

func TestStdioClient_InitializeIsIdempotentOnceConnected(t *testing.T) {
	c := &StdioClient{command: "noop", connected: true}

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize on an already-connected client should be a no-op, got: %v", err)
	}
}
