// Package mcptest implements capability.RemoteTest by driving a module's
// tests as calls against an MCP (Model Context Protocol) tool server,
// rather than a locally compiled test binary — for modules whose "test"
// is really an agentic workflow exercised through tool calls. Grounded
// directly on the teacher's internal/workflow.WorkflowExecutor, whose
// step-by-step tool invocation loop is reused almost unchanged; only the
// result-to-capability.TestInvocationListener translation is new. Spec
// §6 (RemoteTest) / §4.1.
package mcptest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/mark3labs/mcp-go/mcp"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// ToolCaller is the capability this test needs from its MCP transport;
// kept as a one-method interface so a fake can stand in during tests,
// exactly as the teacher's ToolCaller does for WorkflowExecutor.
type ToolCaller interface {
	CallToolInternal(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Step is one call in the test's tool-call sequence.
type Step struct {
	ID   string
	Tool string
	Args map[string]interface{}
	// Store, if non-empty, names the variable later steps' templated
	// string args can reference as {{.vars.<Store>}}.
	Store string
}

// Test is a capability.RemoteTest whose body is a sequence of MCP tool
// calls, templated against each previous step's stored result the same
// way the teacher's executionContext resolves `.input.X` references.
type Test struct {
	Name       string
	Steps      []Step
	toolCaller ToolCaller

	includeFilter []string
	excludeFilter []string
}

// New returns a Test driven through caller.
func New(name string, steps []Step, caller ToolCaller) *Test {
	return &Test{Name: name, Steps: steps, toolCaller: caller}
}

// AddIncludeFilter implements capability.TestFilterReceiver.
func (t *Test) AddIncludeFilter(filter string) { t.includeFilter = append(t.includeFilter, filter) }

// AddExcludeFilter implements capability.TestFilterReceiver.
func (t *Test) AddExcludeFilter(filter string) { t.excludeFilter = append(t.excludeFilter, filter) }

func (t *Test) filteredSteps() []Step {
	if len(t.includeFilter) == 0 && len(t.excludeFilter) == 0 {
		return t.Steps
	}
	var out []Step
	for _, s := range t.Steps {
		if len(t.includeFilter) > 0 && !contains(t.includeFilter, s.ID) {
			continue
		}
		if contains(t.excludeFilter, s.ID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Run implements capability.RemoteTest.
func (t *Test) Run(ctx context.Context, testInfo *capability.TestInformation, listener capability.TestInvocationListener) error {
	steps := t.filteredSteps()
	listener.TestRunStarted(t.Name, len(steps), 0)

	stored := make(map[string]interface{})
	var runErr error

	for _, step := range steps {
		desc := capability.TestDescription{ClassName: t.Name, TestName: step.ID}
		listener.TestStarted(desc)

		resolved, err := resolveArgs(step.Args, stored)
		if err != nil {
			listener.TestFailed(desc, stepFailure(err))
			listener.TestEnded(desc, nil)
			runErr = err
			continue
		}

		result, err := t.toolCaller.CallToolInternal(ctx, step.Tool, resolved)
		if err != nil {
			failErr := fmt.Errorf("tool %q failed: %w", step.Tool, err)
			listener.TestFailed(desc, stepFailure(failErr))
			listener.TestEnded(desc, nil)
			runErr = failErr
			continue
		}

		if step.Store != "" {
			stored[step.Store] = extractResult(result)
		}
		listener.TestEnded(desc, nil)
	}

	listener.TestRunEnded(0, nil)
	return runErr
}

func stepFailure(err error) *model.FailureDescription {
	return model.NewFailure(model.ClassificationTestFailure, "mcptest", err)
}

// resolveArgs renders every string-valued arg as a text/template against
// {{.vars}}, mirroring the teacher's step-argument template resolution.
// Non-string values pass through unchanged.
func resolveArgs(args map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		tmpl, err := template.New(k).Option("missingkey=error").Parse(s)
		if err != nil {
			// Not a template expression; treat as a literal string.
			out[k] = v
			continue
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, map[string]interface{}{"vars": vars}); err != nil {
			return nil, fmt.Errorf("resolving arg %q: %w", k, err)
		}
		out[k] = buf.String()
	}
	return out, nil
}

func extractResult(result *mcp.CallToolResult) interface{} {
	if result == nil || len(result.Content) == 0 {
		return nil
	}
	if textContent, ok := result.Content[0].(mcp.TextContent); ok {
		var parsed interface{}
		if err := json.Unmarshal([]byte(textContent.Text), &parsed); err == nil {
			return parsed
		}
		return textContent.Text
	}
	return nil
}

var _ capability.RemoteTest = (*Test)(nil)
var _ capability.TestFilterReceiver = (*Test)(nil)
