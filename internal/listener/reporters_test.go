package listener

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

func TestJSONListener_ReportsPassAndFailCounts(t *testing.T) {
	j := NewJSONListener()
	j.InvocationStarted(model.NewInvocationContext(model.ConfigurationDescriptor{}))

	j.TestModuleStarted(model.ConfigurationDescriptor{ModuleName: "mod1", Abi: "arm64-v8a"})
	j.TestRunStarted("run1", 2, 0)

	j.TestStarted(capability.TestDescription{TestName: "Test1"})
	j.TestEnded(capability.TestDescription{TestName: "Test1"}, nil)

	j.TestStarted(capability.TestDescription{TestName: "Test2"})
	j.TestFailed(capability.TestDescription{TestName: "Test2"}, model.NewFailure(model.ClassificationTestFailure, "", errors.New("assert failed")))
	j.TestEnded(capability.TestDescription{TestName: "Test2"}, nil)

	j.TestRunEnded(time.Second, nil)
	j.TestModuleEnded()

	var buf bytes.Buffer
	if err := j.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"passed": 1`) {
		t.Fatalf("expected 1 passed test in JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"failed": 1`) {
		t.Fatalf("expected 1 failed test in JSON output, got: %s", out)
	}
}

func TestJUnitListener_WritesValidXMLStructure(t *testing.T) {
	j := NewJUnitListener()
	j.TestModuleStarted(model.ConfigurationDescriptor{ModuleName: "mod1"})
	j.TestStarted(capability.TestDescription{ClassName: "pkg", TestName: "Test1"})
	j.TestEnded(capability.TestDescription{ClassName: "pkg", TestName: "Test1"}, nil)
	j.TestModuleEnded()

	var buf bytes.Buffer
	if err := j.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<testsuites>") || !strings.Contains(out, "<testcase") {
		t.Fatalf("expected JUnit XML structure, got: %s", out)
	}
	if !strings.Contains(out, `name="Test1"`) {
		t.Fatalf("expected test case name in output, got: %s", out)
	}
}

func TestJUnitListener_RecordsFailureElement(t *testing.T) {
	j := NewJUnitListener()
	j.TestModuleStarted(model.ConfigurationDescriptor{ModuleName: "mod1"})
	j.TestStarted(capability.TestDescription{TestName: "Test1"})
	j.TestFailed(capability.TestDescription{TestName: "Test1"}, model.NewFailure(model.ClassificationTestFailure, "", errors.New("boom")))
	j.TestEnded(capability.TestDescription{TestName: "Test1"}, nil)
	j.TestModuleEnded()

	var buf bytes.Buffer
	if err := j.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(buf.String(), "<failure") {
		t.Fatalf("expected a failure element for the failed test, got: %s", buf.String())
	}
}
