package capability

import (
	"context"
	"io"
	"time"

	"invocore/internal/model"
)

// TestDescription identifies a single test case within a run.
type TestDescription struct {
	ClassName string
	TestName  string
}

func (t TestDescription) String() string {
	if t.ClassName == "" {
		return t.TestName
	}
	return t.ClassName + "#" + t.TestName
}

// LogDataType classifies a blob handed to TestInvocationListener.TestLog.
type LogDataType string

const (
	LogDataText      LogDataType = "TEXT"
	LogDataLogcat    LogDataType = "LOGCAT"
	LogDataBugreport LogDataType = "BUGREPORT"
	LogDataPNG       LogDataType = "PNG"
	LogDataHostLog   LogDataType = "HOST_LOG"
)

// TestInvocationListener is the central lifecycle callback surface fired
// by internal/invocation and fanned out by internal/listener. Spec §4.4.
type TestInvocationListener interface {
	InvocationStarted(invocationCtx *model.InvocationContext)
	InvocationFailed(failure *model.FailureDescription)
	InvocationEnded(elapsedTime time.Duration)

	TestModuleStarted(descriptor model.ConfigurationDescriptor)
	TestModuleEnded()

	TestRunStarted(runName string, testCount int, attemptNumber int)
	TestRunFailed(failure *model.FailureDescription)
	TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string)

	TestStarted(test TestDescription)
	TestFailed(test TestDescription, failure *model.FailureDescription)
	TestEnded(test TestDescription, testMetrics map[string]string)

	TestLog(dataName string, dataType LogDataType, data io.Reader)
	LogAssociation(dataName string, logFile model.LogFile)
}

// LogSaverListener is the optional mix-in a TestInvocationListener
// implements when it wants the concrete LogSaver instance, rather than
// only receiving already-persisted LogFile handles via LogAssociation.
// TestLogSaved fires once a log has been persisted, giving the listener
// both the original stream and the resulting handle together; spec §4.4.
type LogSaverListener interface {
	SetLogSaver(saver LogSaver)
	TestLogSaved(dataName string, dataType LogDataType, data io.Reader, logFile model.LogFile)
}

// LogSaver persists a raw log stream and returns a reference to it.
// Spec §6.
type LogSaver interface {
	SaveLogData(dataName string, dataType LogDataType, data io.Reader) (model.LogFile, error)
}

// BuildProvider resolves a ConfigurationDescriptor into a concrete
// BuildInfo during the fetch phase. Spec §4.1/§6.
type BuildProvider interface {
	GetBuild(ctx context.Context, descriptor model.ConfigurationDescriptor) (*model.BuildInfo, error)
	CleanUp(build *model.BuildInfo)
}

// TestInformation is the read/write handle target preparers, remote
// tests and system status checkers operate against: the devices and
// build infos of the invocation (or module) they're scoped to.
type TestInformation struct {
	InvocationContext *model.InvocationContext
	Devices           map[string]Device
}

// Device returns the default device's handle, per the convention that
// most preparers only care about one device. When this TestInformation
// has been scoped to exactly one device (e.g. a per-device target
// preparer's setUp call), that device is returned regardless of which
// device is the invocation's overall default.
func (ti *TestInformation) Device() (Device, bool) {
	if len(ti.Devices) == 1 {
		for _, dev := range ti.Devices {
			return dev, true
		}
	}
	name, ok := ti.InvocationContext.DefaultDeviceName()
	if !ok {
		return nil, false
	}
	dev, ok := ti.Devices[name]
	return dev, ok
}

// Device is the full device capability: identity (embedded model.Device)
// plus the lifecycle hooks the invocation drives directly. Spec §6.
type Device interface {
	model.Device

	PreInvocationSetup(ctx context.Context, build *model.BuildInfo, listener TestInvocationListener) error
	PostInvocationTearDown(ctx context.Context, cause error) error

	GetDeviceDescriptor() model.DeviceDescriptor
	GetOptions() map[string]string

	LogBugreport(ctx context.Context, dataName string, listener TestInvocationListener) error
	Reboot(ctx context.Context) error
}

// TargetPreparer runs module-scoped setUp/tearDown around a test run.
// Spec §4.1/§4.6.
type TargetPreparer interface {
	SetUp(ctx context.Context, testInfo *TestInformation) error
	TearDown(ctx context.Context, testInfo *TestInformation, cause error) error
}

// Disabler is the optional mix-in a TargetPreparer, MultiTargetPreparer
// or HostCleaner implements to be skipped entirely (spec §4.1 step 3:
// "each preparer is consulted via isDisabled() before setUp"). A
// preparer lacking this mix-in is always enabled.
type Disabler interface {
	IsDisabled() bool
}

// TearDownDisabler is the optional mix-in a preparer implements to skip
// tearDown independent of IsDisabled (spec §4.1 step 5). Per §4.1 step
// 6, IsDisabled implies tear-down-disabled regardless of this mix-in.
type TearDownDisabler interface {
	IsTearDownDisabled() bool
}

// PrototypeTargetPreparer is the optional mix-in a stateful preparer
// implements so the engine copies a fresh instance per module rather
// than reusing one instance across modules. Spec §4.6.
type PrototypeTargetPreparer interface {
	Prototype() TargetPreparer
}

// MultiTargetPreparer runs setUp/tearDown across every device at once,
// for preparers whose work only makes sense with the full device set in
// hand (e.g. pairing two devices together). Spec §3/§4.1.
type MultiTargetPreparer interface {
	SetUp(ctx context.Context, testInfo *TestInformation) error
	TearDown(ctx context.Context, testInfo *TestInformation, cause error) error
}

// HostCleaner runs host-side cleanup unconditionally, even when a prior
// phase errored or left state partially applied. Spec §4.1 cleanUp.
type HostCleaner interface {
	CleanUp(ctx context.Context, cause error) error
}

// RemoteTest runs the tests of a module and reports results through
// listener. Spec §4.1/§6.
type RemoteTest interface {
	Run(ctx context.Context, testInfo *TestInformation, listener TestInvocationListener) error
}

// ShardableTest is the optional mix-in ModuleSplitter probes to decide
// whether, and how, a RemoteTest can be divided across shards.
// Spec §4.6/ModuleSplitter.
type ShardableTest interface {
	IsShardable() bool
	Split(shardCountHint int) []RemoteTest
}

// StrictShardableTest additionally guarantees the shards it returns
// never need intra-module retrying against each other, matching the
// spec's "strict shardable" category in ModuleSplitter.
type StrictShardableTest interface {
	ShardableTest
	IsStrictShardable() bool
}

// TestFilterReceiver is the optional mix-in a RemoteTest implements to
// accept include/exclude filters, used both by module-level filtering
// and by RetryDecision's narrowed retry attempts.
type TestFilterReceiver interface {
	AddIncludeFilter(filter string)
	AddExcludeFilter(filter string)
}

// ConfigurationReceiver is the optional mix-in a capability implements
// to receive the fully-resolved Configuration it's running under (e.g.
// to read sibling command options).
type ConfigurationReceiver interface {
	SetConfiguration(cfg *Configuration)
}

// MetricCollector wraps a TestInvocationListener with one that also
// records metrics, without the wrapped listener needing to know
// collection is happening. Spec §3/§6.
type MetricCollector interface {
	Init(invocationCtx *model.InvocationContext, listener TestInvocationListener) TestInvocationListener
}

// MetricCollectorReceiver is the optional mix-in a RemoteTest implements
// to receive the module's MetricCollector list directly instead of
// having the engine wrap its listener chain with them. Spec §4.1 phase
// 4: "For tests that accept collectors directly ... the engine passes
// the shared list and does not wrap; for others, the engine wraps the
// listener chain."
type MetricCollectorReceiver interface {
	SetMetricCollectors(collectors []MetricCollector)
}

// SystemStatusChecker runs before and after each module to catch
// system-under-test regressions a test itself wouldn't flag. A non-nil
// FailureDescription from PostExecutionCheck triggers the
// MODULE_CHANGED_SYSTEM_STATUS classification. Spec §4.2/§6.
type SystemStatusChecker interface {
	PreExecutionCheck(ctx context.Context, testInfo *TestInformation) *model.FailureDescription
	PostExecutionCheck(ctx context.Context, testInfo *TestInformation) *model.FailureDescription
}

// RemoteFileResolver fetches a referenced remote file (e.g. a
// "gs://..." or "https://..." config option value) to a local path.
// Spec §6.
type RemoteFileResolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
	Scheme() string
}

// EventRecorder emits a structured, Kubernetes-event-shaped record for
// scheduler-level occurrences (module start/skip/retry) independent of
// the TestInvocationListener stream, grounded on the teacher
// orchestrator's event generation. Spec §4.2 [EXPANSION].
type EventRecorder interface {
	Event(reason, message string)
	Eventf(reason, messageFmt string, args ...interface{})
}
