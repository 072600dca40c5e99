package invocation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/internal/testdevice"
)

// fakePreparer is a capability.TargetPreparer/MultiTargetPreparer that
// records its own setUp/tearDown calls into a shared trace, so tests can
// assert ordering across several preparers.
type fakePreparer struct {
	label    string
	trace    *[]string
	setUpErr error
	disabled bool
}

func (p *fakePreparer) SetUp(ctx context.Context, testInfo *capability.TestInformation) error {
	if p.setUpErr != nil {
		return p.setUpErr
	}
	*p.trace = append(*p.trace, "setUp:"+p.label)
	return nil
}

func (p *fakePreparer) TearDown(ctx context.Context, testInfo *capability.TestInformation, cause error) error {
	suffix := "nil"
	if cause != nil {
		suffix = cause.Error()
	}
	*p.trace = append(*p.trace, "tearDown:"+p.label+"("+suffix+")")
	return nil
}

func (p *fakePreparer) IsDisabled() bool { return p.disabled }

var (
	_ capability.TargetPreparer      = (*fakePreparer)(nil)
	_ capability.MultiTargetPreparer = (*fakePreparer)(nil)
	_ capability.Disabler            = (*fakePreparer)(nil)
)

// fakeTest is a capability.RemoteTest that either succeeds or returns a
// configured error.
type fakeTest struct {
	runErr error
}

func (t *fakeTest) Run(ctx context.Context, testInfo *capability.TestInformation, listener capability.TestInvocationListener) error {
	return t.runErr
}

var _ capability.RemoteTest = (*fakeTest)(nil)

// recordingListener is a capability.TestInvocationListener that records
// the sequence of callbacks it receives, plus the invocationFailed
// payload, for test assertions.
type recordingListener struct {
	events            []string
	invocationFailure *model.FailureDescription
}

func (l *recordingListener) InvocationStarted(invocationCtx *model.InvocationContext) {
	l.events = append(l.events, "invocationStarted")
}
func (l *recordingListener) InvocationFailed(failure *model.FailureDescription) {
	l.invocationFailure = failure
	l.events = append(l.events, "invocationFailed:"+string(failure.Classification))
}
func (l *recordingListener) InvocationEnded(elapsedTime time.Duration) {
	l.events = append(l.events, "invocationEnded")
}
func (l *recordingListener) TestModuleStarted(descriptor model.ConfigurationDescriptor) {}
func (l *recordingListener) TestModuleEnded()                                           {}
func (l *recordingListener) TestRunStarted(runName string, testCount int, attemptNumber int) {
}
func (l *recordingListener) TestRunFailed(failure *model.FailureDescription)               {}
func (l *recordingListener) TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string) {
}
func (l *recordingListener) TestStarted(test capability.TestDescription) {}
func (l *recordingListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
}
func (l *recordingListener) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
}
func (l *recordingListener) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
}
func (l *recordingListener) LogAssociation(dataName string, logFile model.LogFile) {}

var _ capability.TestInvocationListener = (*recordingListener)(nil)

func newTestExecution(cfg *capability.Configuration) (*Execution, *recordingListener) {
	lst := &recordingListener{}
	ctx := model.NewInvocationContext(model.ConfigurationDescriptor{ModuleName: "mod1", Abi: "arm64-v8a"})
	dev := testdevice.New("device1", model.DeviceDescriptor{Serial: "SERIAL1"})
	_ = ctx.AllocateDevice("device1", dev)
	if cfg.Devices == nil {
		cfg.Devices = map[string]capability.DeviceSpec{}
	}
	return New(ctx, cfg, lst), lst
}

// withDevice1 sets device1's DeviceSpec, keeping whatever
// TargetPreparers the test wants to attach.
func withDevice1(cfg *capability.Configuration, preparers ...capability.TargetPreparer) {
	cfg.Devices["device1"] = capability.DeviceSpec{
		BuildProvider:   testdevice.NewBuildProvider("BUILD1"),
		TargetPreparers: preparers,
	}
}

func TestInvoke_NormalMultiPreparerLifecycleTeardownOrder(t *testing.T) {
	var trace []string
	a := &fakePreparer{label: "A", trace: &trace}
	b := &fakePreparer{label: "B", trace: &trace}
	c := &fakePreparer{label: "C", trace: &trace}
	d := &fakePreparer{label: "D", trace: &trace}
	e := &fakePreparer{label: "E", trace: &trace}

	cfg := &capability.Configuration{
		MultiPreTargetPreparers: []capability.MultiTargetPreparer{a, b},
		MultiTargetPreparers:    []capability.MultiTargetPreparer{d, e},
		Tests:                   []capability.RemoteTest{&fakeTest{}},
		RetryStrategy:           model.RetryNone,
	}
	exec, lst := newTestExecution(cfg)
	withDevice1(cfg, c)

	if err := exec.Invoke(context.Background()); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	wantSetup := []string{"setUp:A", "setUp:B", "setUp:C", "setUp:D", "setUp:E"}
	wantTeardown := []string{
		"tearDown:E(nil)", "tearDown:D(nil)", "tearDown:C(nil)", "tearDown:B(nil)", "tearDown:A(nil)",
	}
	if len(trace) != len(wantSetup)+len(wantTeardown) {
		t.Fatalf("trace = %v, want %d entries", trace, len(wantSetup)+len(wantTeardown))
	}
	for i, want := range wantSetup {
		if trace[i] != want {
			t.Fatalf("trace[%d] = %q, want %q (full trace %v)", i, trace[i], want, trace)
		}
	}
	for i, want := range wantTeardown {
		if trace[len(wantSetup)+i] != want {
			t.Fatalf("teardown trace = %v, want %v", trace[len(wantSetup):], wantTeardown)
		}
	}
	if lst.invocationFailure != nil {
		t.Fatalf("expected no invocation failure, got %v", lst.invocationFailure)
	}
}

func TestInvoke_DeviceNotAvailableDuringTestTeardownReceivesCause(t *testing.T) {
	var trace []string
	a := &fakePreparer{label: "A", trace: &trace}
	b := &fakePreparer{label: "B", trace: &trace}
	c := &fakePreparer{label: "C", trace: &trace}
	d := &fakePreparer{label: "D", trace: &trace}
	e := &fakePreparer{label: "E", trace: &trace}

	testErr := model.NewDeviceNotAvailableError(errors.New("adb offline"))
	cfg := &capability.Configuration{
		MultiPreTargetPreparers: []capability.MultiTargetPreparer{a, b},
		MultiTargetPreparers:    []capability.MultiTargetPreparer{d, e},
		Tests:                   []capability.RemoteTest{&fakeTest{runErr: testErr}},
		RetryStrategy:           model.RetryNone,
	}
	exec, lst := newTestExecution(cfg)
	withDevice1(cfg, c)

	err := exec.Invoke(context.Background())
	if err == nil {
		t.Fatal("expected Invoke to return the device-not-available error")
	}
	if !errors.Is(err, testErr) {
		t.Fatalf("expected returned error to wrap the device-not-available error, got %v", err)
	}

	wantOrder := []string{"E", "D", "C", "B", "A"}
	teardown := trace[5:]
	if len(teardown) != len(wantOrder) {
		t.Fatalf("teardown trace = %v, want %d entries", teardown, len(wantOrder))
	}
	for i, label := range wantOrder {
		want := "tearDown:" + label + "(device not available: adb offline)"
		if teardown[i] != want {
			t.Fatalf("teardown[%d] = %q, want %q", i, teardown[i], want)
		}
	}

	if lst.invocationFailure == nil || lst.invocationFailure.Classification != model.ClassificationLostSystemUnderTest {
		t.Fatalf("expected invocationFailed(LOST_SYSTEM_UNDER_TEST), got %v", lst.invocationFailure)
	}

	failedIdx, endedIdx := -1, -1
	for i, ev := range lst.events {
		if ev == "invocationFailed:LOST_SYSTEM_UNDER_TEST" {
			failedIdx = i
		}
		if ev == "invocationEnded" {
			endedIdx = i
		}
	}
	if failedIdx == -1 || endedIdx == -1 || endedIdx < failedIdx {
		t.Fatalf("expected invocationFailed before invocationEnded, events: %v", lst.events)
	}
}
