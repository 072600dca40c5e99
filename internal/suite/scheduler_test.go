package suite

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

// fakeTest is a capability.RemoteTest that either succeeds or returns a
// configured error, optionally only on its first N calls (to exercise
// module-level preparation retry without a separate preparer type).
type fakeTest struct {
	runErr error
}

func (t *fakeTest) Run(ctx context.Context, testInfo *capability.TestInformation, lst capability.TestInvocationListener) error {
	return t.runErr
}

// Name gives runNameFor (internal/invocation) a stable run name instead
// of falling back to the concrete type name, so assertions here don't
// depend on that fallback's exact formatting.
func (t *fakeTest) Name() string { return "moduleTest" }

var _ capability.RemoteTest = (*fakeTest)(nil)

// flakyPreparer fails SetUp until it has been called failUntil times,
// then succeeds, so module-level preparation retry can be exercised
// deterministically.
type flakyPreparer struct {
	calls     int
	failUntil int
}

func (p *flakyPreparer) SetUp(ctx context.Context, testInfo *capability.TestInformation) error {
	p.calls++
	if p.calls <= p.failUntil {
		return model.NewTargetSetupError(errors.New("transient provisioning failure"))
	}
	return nil
}

func (p *flakyPreparer) TearDown(ctx context.Context, testInfo *capability.TestInformation, cause error) error {
	return nil
}

var _ capability.TargetPreparer = (*flakyPreparer)(nil)

// fakeChecker is a capability.SystemStatusChecker returning a
// configured failure from its pre- or post-execution check.
type fakeChecker struct {
	preFailure  *model.FailureDescription
	postFailure *model.FailureDescription
	wantsBugreport bool
}

func (c *fakeChecker) PreExecutionCheck(ctx context.Context, testInfo *capability.TestInformation) *model.FailureDescription {
	return c.preFailure
}

func (c *fakeChecker) PostExecutionCheck(ctx context.Context, testInfo *capability.TestInformation) *model.FailureDescription {
	return c.postFailure
}

func (c *fakeChecker) NeedsBugreport() bool { return c.wantsBugreport }

var _ capability.SystemStatusChecker = (*fakeChecker)(nil)
var _ bugreportRequester = (*fakeChecker)(nil)

// recordingListener records the sequence of callbacks received, the
// run names seen, and any invocation/run failures, for assertions.
type recordingListener struct {
	events      []string
	runNames    []string
	runFailures []*model.FailureDescription
}

func (l *recordingListener) InvocationStarted(invocationCtx *model.InvocationContext) {
	l.events = append(l.events, "invocationStarted")
}
func (l *recordingListener) InvocationFailed(failure *model.FailureDescription) {
	l.events = append(l.events, "invocationFailed:"+string(failure.Classification))
}
func (l *recordingListener) InvocationEnded(elapsedTime time.Duration) {
	l.events = append(l.events, "invocationEnded")
}
func (l *recordingListener) TestModuleStarted(descriptor model.ConfigurationDescriptor) {
	l.events = append(l.events, "testModuleStarted:"+descriptor.ModuleName)
}
func (l *recordingListener) TestModuleEnded() { l.events = append(l.events, "testModuleEnded") }
func (l *recordingListener) TestRunStarted(runName string, testCount int, attemptNumber int) {
	l.events = append(l.events, "testRunStarted:"+runName)
	l.runNames = append(l.runNames, runName)
}
func (l *recordingListener) TestRunFailed(failure *model.FailureDescription) {
	l.events = append(l.events, "testRunFailed:"+string(failure.Classification))
	l.runFailures = append(l.runFailures, failure)
}
func (l *recordingListener) TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string) {
	l.events = append(l.events, "testRunEnded")
}
func (l *recordingListener) TestStarted(test capability.TestDescription) {}
func (l *recordingListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
}
func (l *recordingListener) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
}
func (l *recordingListener) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
	_, _ = io.Copy(io.Discard, data)
}
func (l *recordingListener) LogAssociation(dataName string, logFile model.LogFile) {}

var _ capability.TestInvocationListener = (*recordingListener)(nil)

// recordingRecorder is a capability.EventRecorder that records every
// reason it was given.
type recordingRecorder struct {
	reasons []string
}

func (r *recordingRecorder) Event(reason, message string) {
	r.reasons = append(r.reasons, reason)
}

func (r *recordingRecorder) Eventf(reason, messageFmt string, args ...interface{}) {
	r.reasons = append(r.reasons, reason)
}

var _ capability.EventRecorder = (*recordingRecorder)(nil)

func moduleConfig(name string, test capability.RemoteTest, preparers ...capability.TargetPreparer) ModuleDefinition {
	return ModuleDefinition{
		Name: name,
		Configuration: &capability.Configuration{
			Name:          name,
			Tests:         []capability.RemoteTest{test},
			RetryStrategy: model.RetryNone,
			Devices: map[string]capability.DeviceSpec{
				"device1": {
					BuildProvider:   testdevice.NewBuildProvider("BUILD1"),
					TargetPreparers: preparers,
				},
			},
		},
	}
}

func newTopContext() *model.InvocationContext {
	ctx := model.NewInvocationContext(model.ConfigurationDescriptor{})
	dev := testdevice.New("device1", model.DeviceDescriptor{Serial: "SERIAL1", BuildType: "userdebug"})
	_ = ctx.AllocateDevice("device1", dev)
	return ctx
}

func TestScheduler_RunsModulesInOrderWithModuleLifecycle(t *testing.T) {
	lst := &recordingListener{}
	topCtx := newTopContext()
	dev, _ := topCtx.Device("device1")
	devices := map[string]capability.Device{"device1": dev.(capability.Device)}

	modules := []ModuleDefinition{
		moduleConfig("mod1", &fakeTest{}),
		moduleConfig("mod2", &fakeTest{}),
	}

	sched := New(lst, nil, nil, SchedulerConfig{})
	if err := sched.Run(context.Background(), topCtx, devices, modules); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantOrder := []string{
		"testModuleStarted:mod1", "invocationStarted",
		"testRunStarted:moduleTest", "testRunEnded", "invocationEnded", "testModuleEnded",
		"testModuleStarted:mod2", "invocationStarted",
		"testRunStarted:moduleTest", "testRunEnded", "invocationEnded", "testModuleEnded",
	}
	if len(lst.events) != len(wantOrder) {
		t.Fatalf("events = %v, want %v", lst.events, wantOrder)
	}
	for i, want := range wantOrder {
		if lst.events[i] != want {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, lst.events[i], want, lst.events)
		}
	}
}

func TestScheduler_DeviceLostSynthesizesNotExecutedForRemainingModules(t *testing.T) {
	lst := &recordingListener{}
	recorder := &recordingRecorder{}
	topCtx := newTopContext()
	dev, _ := topCtx.Device("device1")
	devices := map[string]capability.Device{"device1": dev.(capability.Device)}

	deviceErr := model.NewDeviceNotAvailableError(errors.New("adb offline"))
	modules := []ModuleDefinition{
		moduleConfig("mod1", &fakeTest{}),
		moduleConfig("mod2", &fakeTest{runErr: deviceErr}),
		moduleConfig("mod3", &fakeTest{}),
	}

	sched := New(lst, recorder, nil, SchedulerConfig{})
	err := sched.Run(context.Background(), topCtx, devices, modules)
	if err == nil {
		t.Fatal("expected Run to return the device-lost error")
	}
	if !errors.Is(err, deviceErr) {
		t.Fatalf("expected returned error to wrap the device-not-available error, got %v", err)
	}

	var mod3Failure *model.FailureDescription
	for _, fd := range lst.runFailures {
		if fd.Classification == model.ClassificationNotExecuted {
			mod3Failure = fd
		}
	}
	if mod3Failure == nil {
		t.Fatal("expected a NOT_EXECUTED testRunFailed for the unreached module")
	}

	foundMod3Started, foundMod3Ended := false, false
	for _, ev := range lst.events {
		if ev == "testModuleStarted:mod3" {
			foundMod3Started = true
		}
		if ev == "testModuleEnded" {
			foundMod3Ended = true
		}
	}
	if !foundMod3Started || !foundMod3Ended {
		t.Fatalf("expected mod3 to be synthesized as started+ended, events: %v", lst.events)
	}

	foundRecovery := false
	for _, reason := range recorder.reasons {
		if reason == "ModuleDeviceLost" {
			foundRecovery = true
		}
	}
	if !foundRecovery {
		t.Fatalf("expected a ModuleDeviceLost event, got %v", recorder.reasons)
	}
}

func TestScheduler_ModulePrepRetryRecoversFromTransientSetupFailure(t *testing.T) {
	lst := &recordingListener{}
	topCtx := newTopContext()
	dev, _ := topCtx.Device("device1")
	devices := map[string]capability.Device{"device1": dev.(capability.Device)}

	preparer := &flakyPreparer{failUntil: 1}
	modules := []ModuleDefinition{moduleConfig("mod1", &fakeTest{}, preparer)}

	sched := New(lst, nil, nil, SchedulerConfig{
		ModuleRetryStrategy:  model.RetryAnyFailure,
		MaxModulePrepRetries: 3,
	})
	if err := sched.Run(context.Background(), topCtx, devices, modules); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if preparer.calls != 2 {
		t.Fatalf("preparer.calls = %d, want 2 (one failure, one recovery)", preparer.calls)
	}
}

// shardableFakeTest is a capability.RemoteTest/ShardableTest that splits
// into count independent sub-tests, each reporting the same run name, so
// ModuleSplitter wiring can be exercised without a real sharding-capable
// test implementation.
type shardableFakeTest struct {
	fakeTest
	count int
}

func (t *shardableFakeTest) IsShardable() bool { return true }

func (t *shardableFakeTest) Split(shardCountHint int) []capability.RemoteTest {
	out := make([]capability.RemoteTest, t.count)
	for i := range out {
		out[i] = &fakeTest{}
	}
	return out
}

var _ capability.ShardableTest = (*shardableFakeTest)(nil)

func TestScheduler_SplitsShardableModuleBeforeRunning(t *testing.T) {
	lst := &recordingListener{}
	topCtx := newTopContext()
	dev, _ := topCtx.Device("device1")
	devices := map[string]capability.Device{"device1": dev.(capability.Device)}

	def := moduleConfig("mod1", &shardableFakeTest{count: 2})
	def.Configuration.ShardCount = 2

	sched := New(lst, nil, nil, SchedulerConfig{})
	if err := sched.Run(context.Background(), topCtx, devices, []ModuleDefinition{def}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	started := 0
	for _, ev := range lst.events {
		if ev == "testModuleStarted:mod1" {
			started++
		}
	}
	if started != 2 {
		t.Fatalf("expected ModuleSplitter to produce 2 shards of mod1, got %d testModuleStarted events (events: %v)", started, lst.events)
	}
}

func TestScheduler_SystemStatusCheckerFailureReportsSyntheticRun(t *testing.T) {
	lst := &recordingListener{}
	topCtx := newTopContext()
	dev, _ := topCtx.Device("device1")
	devices := map[string]capability.Device{"device1": dev.(capability.Device)}

	checker := &fakeChecker{
		preFailure:     model.NewFailure(model.ClassificationModuleChangedSysStatus, "checker", errors.New("system drifted")),
		wantsBugreport: true,
	}
	def := moduleConfig("mod1", &fakeTest{})
	def.Configuration.SystemStatusCheckers = []capability.SystemStatusChecker{checker}

	sched := New(lst, nil, nil, SchedulerConfig{ReportSystemCheckers: true})
	if err := sched.Run(context.Background(), topCtx, devices, []ModuleDefinition{def}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantRun := "MODULE_CHECKER_PRE_mod1"
	found := false
	for _, name := range lst.runNames {
		if name == wantRun {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected synthetic run %q, got run names %v", wantRun, lst.runNames)
	}
}
