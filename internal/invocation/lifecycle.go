// Package invocation implements InvocationExecution, the lifecycle
// state machine that drives one resolved invocation (devices + build +
// setup/teardown + tests + listeners) through the phases of spec §4.1:
// fetch build, pre-invocation device setup, setup, tests, teardown,
// cleanup, post-invocation teardown. Grounded on the teacher's
// internal/orchestrator.Orchestrator for its mutex-guarded phase
// sequencing and "log, don't crash on a component failure" idiom, and on
// internal/testing/test_runner.go's fan-out-then-collect shape for the
// parallel pre-invocation setup phase.
package invocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/pkg/logging"
	"invocore/pkg/metrics"
	"invocore/pkg/tracing"
)

const subsystem = "invocation"

// Origins named per spec §4.1's failure taxonomy table.
const (
	originFetch         model.Origin = "fetchBuild"
	originPreInvocation model.Origin = "preInvocationSetup"
	originSetup         model.Origin = "setup"
	originTest          model.Origin = "test"
	originTeardown      model.Origin = "teardown"
	originForceStop     model.Origin = "forceStop"
)

// teardownStep is one successfully-set-up preparer recorded so doTeardown
// can unwind in strict reverse order, per spec §4.1 phase 5.
type teardownStep struct {
	label    string
	testInfo *capability.TestInformation
	cleaner    capability.HostCleaner // non-nil if this preparer is also a HostCleaner
	tdDisabled bool                  // IsTearDownDisabled() (or IsDisabled(), which implies it)
	tearDown func(ctx context.Context, testInfo *capability.TestInformation, cause error) error
}

// Execution drives exactly one invocation of one Configuration against
// one InvocationContext, per spec §4.1's "Responsibility" clause.
// remote.go's sub-process variant composes this same Execution behind a
// different listener rather than overriding individual phase methods,
// since Go has no subclassing to hang per-method overrides off of.
type Execution struct {
	Context       *model.InvocationContext
	Configuration *capability.Configuration
	Listener      capability.TestInvocationListener
	LogSaver      capability.LogSaver
	Metrics       *metrics.Registry

	opts Options

	mu                       sync.Mutex
	teardownStack            []teardownStep
	invocationFailureReported bool
}

// New builds an Execution ready to run via Invoke.
func New(ctx *model.InvocationContext, cfg *capability.Configuration, lst capability.TestInvocationListener) *Execution {
	return &Execution{
		Context:       ctx,
		Configuration: cfg,
		Listener:      lst,
		LogSaver:      cfg.LogSaver,
		opts:          ParseOptions(cfg),
	}
}

// Invoke drives all phases in strict order, always emitting
// invocationStarted first and invocationEnded last, per §4.1's public
// contract.
func (e *Execution) Invoke(ctx context.Context) error {
	start := time.Now()
	phaseCtx, span := tracing.StartPhase(ctx, "invocation", tracing.ModuleAttributes(
		e.Context.Descriptor().ModuleName, e.Context.Descriptor().Abi, e.Context.Descriptor().ShardIndex)...)
	defer func() { tracing.EndPhase(span, nil) }()

	e.Listener.InvocationStarted(e.Context)
	if e.Metrics != nil {
		e.Metrics.InvocationsTotal.WithLabelValues("started").Inc()
	}

	if err := e.fetchBuild(phaseCtx); err != nil {
		failure := model.NewFailure(model.ClassificationInfraFailure, originFetch, err).WithAction(model.ActionFetchingArtifacts)
		e.reportDiagnostics(failure)
		e.reportInvocationFailure(failure)
		e.Listener.InvocationEnded(time.Since(start))
		return err
	}

	testInfo := e.buildTestInfo()

	if err := e.runDevicePreInvocationSetup(phaseCtx, testInfo); err != nil {
		failure := model.NewFailure(model.ClassificationLostSystemUnderTest, originPreInvocation, err).WithAction(model.ActionSetup)
		e.reportInvocationFailure(failure)
		e.postInvocationTeardown(phaseCtx, err)
		e.Listener.InvocationEnded(time.Since(start))
		return err
	}

	var terminalErr error
	if setupErr := e.doSetup(phaseCtx, testInfo); setupErr != nil {
		e.reportInvocationFailure(classifySetupError(setupErr))
		terminalErr = setupErr
	} else if ForceStopRequested() {
		stopErr := errors.New("SHUTDOWN_HARD_LATENCY: force stop requested before test phase")
		e.reportInvocationFailure(model.NewFailure(model.ClassificationNotExecuted, originForceStop, stopErr))
		terminalErr = stopErr
	} else {
		testErr := e.runTests(phaseCtx, testInfo)
		if testErr != nil {
			e.reportInvocationFailure(classifyTestError(testErr))
			terminalErr = testErr
		}
	}

	teardownErr := e.doTeardown(phaseCtx, terminalErr)
	e.doCleanUp(phaseCtx, terminalErr)

	if terminalErr == nil && teardownErr != nil {
		terminalErr = teardownErr
		e.reportInvocationFailure(model.NewFailure(model.ClassificationInfraFailure, originTeardown, teardownErr))
	}

	e.postInvocationTeardown(phaseCtx, terminalErr)
	e.Listener.InvocationEnded(time.Since(start))
	if e.Metrics != nil {
		outcome := "ok"
		if terminalErr != nil {
			outcome = "failed"
		}
		e.Metrics.ObserveModule(e.Context.Descriptor().ModuleName, outcome, time.Since(start))
	}
	return terminalErr
}

// reportInvocationFailure fires invocationFailed at most once per
// invocation, per §7's propagation policy.
func (e *Execution) reportInvocationFailure(failure *model.FailureDescription) {
	e.mu.Lock()
	already := e.invocationFailureReported
	e.invocationFailureReported = true
	e.mu.Unlock()
	if already {
		return
	}
	e.Listener.InvocationFailed(failure)
}

// reportDiagnostics emits the "error-stage log, host log" pair spec
// scenario 6 expects alongside a build-fetch failure.
func (e *Execution) reportDiagnostics(failure *model.FailureDescription) {
	e.Listener.TestLog("error-stage", capability.LogDataText, strings.NewReader(failure.Error()))
	e.Listener.TestLog("host-log", capability.LogDataHostLog, strings.NewReader(fmt.Sprintf("invocation %s: %s", e.Context.Descriptor().String(), failure.Error())))
}

// fetchBuild resolves a BuildInfo for every allocated device, per §4.1
// phase 1. On a provider error it synthesizes a placeholder BuildInfo
// carrying the requested build id so downstream tools still see a
// record, and aborts the remaining phases.
func (e *Execution) fetchBuild(ctx context.Context) error {
	ctx, span := tracing.StartPhase(ctx, "fetchBuild")
	var err error
	defer func() { tracing.EndPhase(span, err) }()

	for _, name := range e.Context.DeviceNames() {
		spec, ok := e.Configuration.Devices[name]
		if !ok {
			err = fmt.Errorf("no device spec configured for device %q", name)
			return err
		}
		descriptor := e.Context.Descriptor()
		bi, fetchErr := spec.BuildProvider.GetBuild(ctx, descriptor)
		if fetchErr != nil {
			requestedID := spec.DeviceOptions["build-id"]
			if requestedID == "" {
				requestedID = "unknown"
			}
			placeholder := model.NewBuildInfo(requestedID, "", "", descriptor.ModuleName)
			placeholder.Freeze()
			_ = e.Context.SetBuildInfo(name, placeholder)
			logging.Error(subsystem, fetchErr, "build fetch failed for device %s", name)
			err = fmt.Errorf("fetching build for device %q: %w", name, fetchErr)
			return err
		}
		bi.Freeze()
		if setErr := e.Context.SetBuildInfo(name, bi); setErr != nil {
			err = setErr
			return err
		}
	}
	return nil
}

// buildTestInfo assembles the TestInformation handed to every preparer,
// test and checker: every allocated device, type-asserted from
// model.Device back to the full capability.Device it was registered as.
func (e *Execution) buildTestInfo() *capability.TestInformation {
	devices := make(map[string]capability.Device, e.Context.DeviceCount())
	for _, name := range e.Context.DeviceNames() {
		dev, ok := e.Context.Device(name)
		if !ok {
			continue
		}
		if capDev, ok := dev.(capability.Device); ok {
			devices[name] = capDev
		}
	}
	return &capability.TestInformation{InvocationContext: e.Context, Devices: devices}
}

// singleDeviceTestInfo narrows testInfo to one device, so a per-device
// target preparer's testInfo.Device() resolves to its owning device
// regardless of which device is the invocation's overall default.
func singleDeviceTestInfo(ctx *model.InvocationContext, name string, dev capability.Device) *capability.TestInformation {
	return &capability.TestInformation{
		InvocationContext: ctx,
		Devices:           map[string]capability.Device{name: dev},
	}
}

// runDevicePreInvocationSetup runs §4.1 phase 2. With
// parallelPreInvocationSetup set, every device's setup runs concurrently
// under a shared deadline; errgroup.Wait reports the first error to
// occur without cancelling any in-flight setup, since the per-device
// calls are handed the plain timeout context rather than the group's
// derived (auto-cancel-on-error) context.
func (e *Execution) runDevicePreInvocationSetup(ctx context.Context, testInfo *capability.TestInformation) error {
	ctx, span := tracing.StartPhase(ctx, "preInvocationSetup")
	var err error
	defer func() { tracing.EndPhase(span, err) }()

	names := e.Context.DeviceNames()
	if !e.opts.ParallelPreInvocationSetup {
		for _, name := range names {
			dev, _ := testInfo.Devices[name]
			if dev == nil {
				continue
			}
			bi, _ := e.Context.BuildInfo(name)
			if setupErr := dev.PreInvocationSetup(ctx, bi, e.Listener); setupErr != nil {
				err = fmt.Errorf("pre-invocation setup for device %q: %w", name, setupErr)
				return err
			}
		}
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.opts.ParallelPreInvocationSetupTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(timeoutCtx)
	for _, name := range names {
		name := name
		dev := testInfo.Devices[name]
		if dev == nil {
			continue
		}
		bi, _ := e.Context.BuildInfo(name)
		g.Go(func() error {
			if setupErr := dev.PreInvocationSetup(timeoutCtx, bi, e.Listener); setupErr != nil {
				return fmt.Errorf("pre-invocation setup for device %q: %w", name, setupErr)
			}
			return nil
		})
	}
	err = g.Wait()
	return err
}

// pushTeardown records a successfully-set-up preparer for doTeardown's
// strict reverse-order unwind.
func (e *Execution) pushTeardown(step teardownStep) {
	e.teardownStack = append(e.teardownStack, step)
}
