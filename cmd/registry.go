package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2/clientcredentials"

	"invocore/internal/capability"
	"invocore/internal/capability/httpresolver"
	"invocore/internal/capability/mcptest"
	"invocore/internal/capability/oauthresolver"
	"invocore/internal/config"
	"invocore/internal/listener"
	"invocore/internal/logsaver"
	"invocore/internal/mcpserver"
	"invocore/internal/model"
	"invocore/internal/testdevice"
)

// configValidationError wraps any error a plugin constructor or
// internal/config.Load returns, so getExitCode can tell "nothing ran
// because the configuration was bad" apart from a mid-run failure.
type configValidationError struct {
	cause error
}

func (e *configValidationError) Error() string { return e.cause.Error() }
func (e *configValidationError) Unwrap() error  { return e.cause }

// buildRegistry populates every plugin this build of invocore ships.
// fakeDevices additionally wires the in-memory testdevice build
// provider under type "fake", for `invocore check` and demo runs that
// have no real lab to reach.
func buildRegistry(fakeDevices bool) *config.Registry {
	reg := config.NewRegistry()

	reg.BuildProviders["remote-http"] = func(options map[string]string) (capability.BuildProvider, error) {
		return newRemoteBuildProvider(httpresolver.New(options["dest-dir"]), options)
	}
	reg.BuildProviders["remote-gs"] = func(options map[string]string) (capability.BuildProvider, error) {
		ccCfg := clientcredentials.Config{
			ClientID:     options["client-id"],
			ClientSecret: options["client-secret"],
			TokenURL:     options["token-url"],
		}
		if scopes := options["scopes"]; scopes != "" {
			ccCfg.Scopes = strings.Split(scopes, ",")
		}
		return newRemoteBuildProvider(oauthresolver.New(ccCfg, options["dest-dir"]), options)
	}
	if fakeDevices {
		reg.BuildProviders["fake"] = func(options map[string]string) (capability.BuildProvider, error) {
			return testdevice.NewBuildProvider(options["build-id"]), nil
		}
	}

	reg.Tests["mcp"] = func(options map[string]string) (capability.RemoteTest, error) {
		return newMCPTest(options)
	}

	reg.Listeners["junit"] = func(options map[string]string) (capability.TestInvocationListener, error) {
		return listener.NewJUnitListener(), nil
	}
	reg.Listeners["json"] = func(options map[string]string) (capability.TestInvocationListener, error) {
		return listener.NewJSONListener(), nil
	}

	reg.LogSavers["filesystem"] = func(options map[string]string) (capability.LogSaver, error) {
		root := options["root"]
		if root == "" {
			root = "."
		}
		saver, err := logsaver.New(root)
		if err != nil {
			return nil, &configValidationError{cause: err}
		}
		return saver, nil
	}

	return reg
}

// newMCPTest builds an mcptest.Test driven over a stdio-transport MCP
// server, reusing internal/mcpserver's StdioClient transport rather
// than hand-rolling a second mcp-go client wiring: options["command"]
// is split on spaces into the subprocess argv, options["steps"] is a
// "tool1,tool2,..." list run in order with no templated arguments
// (a richer step DSL belongs to the configuration file format, not to
// this plugin constructor).
func newMCPTest(options map[string]string) (capability.RemoteTest, error) {
	name := options["name"]
	argv := strings.Fields(options["command"])
	if len(argv) == 0 {
		return nil, fmt.Errorf("mcp test %q: options.command is required", name)
	}

	caller := &mcpClientToolCaller{client: mcpserver.NewStdioClient(argv[0], argv[1:])}

	var steps []mcptest.Step
	for _, tool := range strings.Split(options["steps"], ",") {
		tool = strings.TrimSpace(tool)
		if tool == "" {
			continue
		}
		steps = append(steps, mcptest.Step{ID: tool, Tool: tool})
	}

	return mcptest.New(name, steps, caller), nil
}

// mcpClientToolCaller adapts mcpserver.StdioClient (Initialize, CallTool)
// to mcptest.ToolCaller (CallToolInternal), initializing the underlying
// stdio transport lazily on first call so building the plugin doesn't
// itself spawn the test-agent subprocess.
type mcpClientToolCaller struct {
	client *mcpserver.StdioClient
}

func (c *mcpClientToolCaller) CallToolInternal(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if err := c.client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing mcp client: %w", err)
	}
	return c.client.CallTool(ctx, toolName, args)
}

var _ mcptest.ToolCaller = (*mcpClientToolCaller)(nil)

// remoteBuildProvider resolves a device's build artifact via a
// capability.RemoteFileResolver (http(s)/file or authenticated gs://)
// and assembles the resulting BuildInfo, per SPEC_FULL.md's note that
// these resolvers are wired at the build-provider boundary rather than
// the aggregator boundary the teacher originally used them for.
type remoteBuildProvider struct {
	resolver capability.RemoteFileResolver
	uri      string
	branch   string
	flavor   string
}

func newRemoteBuildProvider(resolver capability.RemoteFileResolver, options map[string]string) (capability.BuildProvider, error) {
	uri := options["uri"]
	if uri == "" {
		return nil, fmt.Errorf("remote build provider: options.uri is required")
	}
	return &remoteBuildProvider{
		resolver: resolver,
		uri:      uri,
		branch:   options["branch"],
		flavor:   options["flavor"],
	}, nil
}

// GetBuild implements capability.BuildProvider by resolving the
// configured URI to a local path and recording it as the build's sole
// VersionedFile, keyed "artifact".
func (p *remoteBuildProvider) GetBuild(ctx context.Context, descriptor model.ConfigurationDescriptor) (*model.BuildInfo, error) {
	path, err := p.resolver.Resolve(ctx, p.uri)
	if err != nil {
		return nil, fmt.Errorf("resolving build artifact %q: %w", p.uri, err)
	}
	bi := model.NewBuildInfo(p.uri, p.branch, p.flavor, descriptor.ModuleName)
	bi.PutAttribute("sourceUri", p.uri)
	if err := bi.SetVersionedFile("artifact", func() (model.ReadCloser, error) {
		return os.Open(path)
	}); err != nil {
		return nil, fmt.Errorf("recording build artifact: %w", err)
	}
	return bi, nil
}

// CleanUp implements capability.BuildProvider. Fetched artifacts live
// under the resolver's dest-dir for the life of the process; nothing
// invocation-scoped to release here.
func (p *remoteBuildProvider) CleanUp(build *model.BuildInfo) {}
