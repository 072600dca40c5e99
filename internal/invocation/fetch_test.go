package invocation

import (
	"context"
	"errors"
	"testing"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/internal/testdevice"
)

func TestInvoke_BuildFetchFailureSkipsSetupAndTestsReportsDiagnostics(t *testing.T) {
	fetchErr := errors.New("build retrieval failed: artifact store unreachable")
	provider := testdevice.NewBuildProvider("BUILD1")
	provider.FetchErr = fetchErr

	var trace []string
	preparer := &fakePreparer{label: "A", trace: &trace}

	cfg := &capability.Configuration{
		MultiPreTargetPreparers: []capability.MultiTargetPreparer{preparer},
		Tests:                   []capability.RemoteTest{&fakeTest{}},
	}
	invCtx := model.NewInvocationContext(model.ConfigurationDescriptor{ModuleName: "mod1"})
	dev := testdevice.New("device1", model.DeviceDescriptor{Serial: "SERIAL1"})
	_ = invCtx.AllocateDevice("device1", dev)
	cfg.Devices = map[string]capability.DeviceSpec{
		"device1": {BuildProvider: provider},
	}

	lst := &recordingListener{}
	exec := New(invCtx, cfg, lst)

	err := exec.Invoke(context.Background())
	if err == nil {
		t.Fatal("expected Invoke to return the build fetch error")
	}
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected returned error to wrap the fetch error, got %v", err)
	}

	if len(trace) != 0 {
		t.Fatalf("expected no setup/teardown to run after a fetch failure, got trace %v", trace)
	}

	if lst.invocationFailure == nil {
		t.Fatal("expected invocationFailed to fire")
	}
	if lst.invocationFailure.Classification != model.ClassificationInfraFailure {
		t.Fatalf("classification = %s, want INFRA_FAILURE", lst.invocationFailure.Classification)
	}
	if lst.invocationFailure.ActionInProgress != model.ActionFetchingArtifacts {
		t.Fatalf("actionInProgress = %s, want FETCHING_ARTIFACTS", lst.invocationFailure.ActionInProgress)
	}

	wantEvents := []string{"invocationStarted", "invocationFailed:INFRA_FAILURE", "invocationEnded"}
	if len(lst.events) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", lst.events, wantEvents)
	}
	for i, want := range wantEvents {
		if lst.events[i] != want {
			t.Fatalf("events = %v, want %v", lst.events, wantEvents)
		}
	}

	bi, ok := invCtx.BuildInfo("device1")
	if !ok {
		t.Fatal("expected a placeholder build info to be attached despite the fetch failure")
	}
	if bi.BuildID == "" {
		t.Fatal("expected the placeholder build info to carry a non-empty build id")
	}
	if !bi.IsFrozen() {
		t.Fatal("expected the placeholder build info to be frozen")
	}
}
