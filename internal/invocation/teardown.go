package invocation

import (
	"context"
	"fmt"

	"invocore/internal/capability"
	"invocore/pkg/logging"
	"invocore/pkg/tracing"
)

// doTeardown unwinds every recorded teardownStep in strict reverse order,
// per spec §4.1 phase 5. A step whose preparer opted out via
// TearDownDisabler (or Disabler) is skipped. Per §7's teardown-safety
// rule, one tearDown erroring never stops the rest from running; the
// first error encountered is returned once the unwind completes.
func (e *Execution) doTeardown(ctx context.Context, cause error) error {
	ctx, span := tracing.StartPhase(ctx, "teardown")
	defer func() { tracing.EndPhase(span, nil) }()

	var firstErr error
	for i := len(e.teardownStack) - 1; i >= 0; i-- {
		step := e.teardownStack[i]
		if step.tdDisabled {
			continue
		}
		if tdErr := step.tearDown(ctx, step.testInfo, cause); tdErr != nil {
			logTeardownFailure(step.label, tdErr)
			if firstErr == nil {
				firstErr = tdErr
			}
		}
	}
	return firstErr
}

// doCleanUp runs cleanUp on every recorded step that also implements
// HostCleaner, per spec §4.1 phase 6 ("cleanUp runs unconditionally, even
// for steps whose tearDown failed"). A step disabled for tearDown is also
// skipped here, since cleanUp and tearDown share the same disable switch.
func (e *Execution) doCleanUp(ctx context.Context, cause error) {
	ctx, span := tracing.StartPhase(ctx, "cleanUp")
	defer func() { tracing.EndPhase(span, nil) }()

	for _, step := range e.teardownStack {
		if step.cleaner == nil || step.tdDisabled {
			continue
		}
		if err := step.cleaner.CleanUp(ctx, cause); err != nil {
			logTeardownFailure(step.label+" cleanUp", err)
		}
	}

	for i, post := range e.Configuration.PostProcessors {
		if err := post.CleanUp(ctx, cause); err != nil {
			logTeardownFailure(fmt.Sprintf("postProcessors[%d]", i), err)
		}
	}
}

// postInvocationTeardown runs spec §4.1 phase 7: each device's own
// postInvocationTearDown hook, then each device's build provider cleanUp.
// Runs however the invocation ends once the build fetch has succeeded
// (Invoke returns without it when fetchBuild fails), and never masks
// terminalErr.
func (e *Execution) postInvocationTeardown(ctx context.Context, cause error) {
	ctx, span := tracing.StartPhase(ctx, "postInvocationTeardown")
	defer func() { tracing.EndPhase(span, nil) }()

	for _, name := range e.Context.DeviceNames() {
		dev, ok := e.Context.Device(name)
		if !ok {
			continue
		}
		capDev, ok := dev.(capability.Device)
		if !ok {
			continue
		}
		if err := capDev.PostInvocationTearDown(ctx, cause); err != nil {
			logTeardownFailure("postInvocationTearDown device "+name, err)
		}
	}

	for name, bi := range e.Context.AllBuildInfos() {
		spec, ok := e.Configuration.Devices[name]
		if !ok || spec.BuildProvider == nil {
			continue
		}
		spec.BuildProvider.CleanUp(bi)
	}
}

func logTeardownFailure(label string, err error) {
	logging.Error(subsystem, err, "teardown step failed: %s", label)
}
