package invocation

import (
	"context"
	"fmt"
	"time"

	"invocore/internal/capability"
	"invocore/internal/collector"
	"invocore/internal/listener"
	"invocore/internal/model"
	"invocore/internal/retry"
	"invocore/pkg/tracing"
)

// runTests runs spec §4.1 phase 4: every configured RemoteTest in order,
// each wrapped in the module's intra-module retry loop, all reporting
// through the MetricCollector chain built once for the whole module. A
// non-fatal test failure is recorded and the next test still runs; a
// fatal one (device lost) aborts the remaining tests and is returned so
// Invoke can classify and propagate it.
func (e *Execution) runTests(ctx context.Context, testInfo *capability.TestInformation) error {
	ctx, span := tracing.StartPhase(ctx, "tests")
	defer func() { tracing.EndPhase(span, nil) }()

	var devices map[string]capability.Device
	if testInfo != nil {
		devices = testInfo.Devices
	}
	collectors := make([]capability.MetricCollector, 0, len(e.Configuration.MetricCollectors)+3)
	collectors = append(collectors, e.Configuration.MetricCollectors...)
	collectors = append(collectors, collector.Presets(devices)...)

	chain := e.Listener
	for _, c := range collectors {
		chain = c.Init(e.Context, chain)
	}

	var firstErr error
	for _, test := range e.Configuration.Tests {
		if ForceStopRequested() {
			return fmt.Errorf("SHUTDOWN_HARD_LATENCY: force stop requested before running %s", runNameFor(test))
		}
		if cr, ok := test.(capability.ConfigurationReceiver); ok {
			cr.SetConfiguration(e.Configuration)
		}

		// Tests that accept collectors directly (MetricCollectorReceiver)
		// get the shared list and run against the unwrapped listener;
		// everything else runs against the wrapped chain. Spec §4.1
		// phase 4.
		downstream := chain
		if mcr, ok := test.(capability.MetricCollectorReceiver); ok {
			mcr.SetMetricCollectors(collectors)
			downstream = e.Listener
		}

		if runErr := e.runTestWithRetry(ctx, test, testInfo, downstream); runErr != nil {
			fd := asFailure(runErr, originTest)
			if fd.IsFatalToInvocation() {
				return runErr
			}
			if firstErr == nil {
				firstErr = runErr
			}
		}
	}
	return firstErr
}

// runTestWithRetry runs one RemoteTest through the intra-module retry
// loop spec §4.3 describes: a RetryDecision inspects each attempt's
// outcome and decides whether another attempt should run, optionally
// narrowed to the tests that just failed.
func (e *Execution) runTestWithRetry(ctx context.Context, test capability.RemoteTest, testInfo *capability.TestInformation, downstream capability.TestInvocationListener) error {
	decision := retry.New(e.Configuration.RetryStrategy)
	retryCtx := &model.RetryContext{
		AttemptsRemaining: e.Configuration.MaxRetries,
		Strategy:          e.Configuration.RetryStrategy,
		MaxAttempts:       e.Configuration.MaxRetries + 1,
		ShouldAutoRetry:   e.Configuration.RetryStrategy != model.RetryNone,
	}
	runName := runNameFor(test)

	attempt := 0
	var lastErr error
	for {
		forwarder := listener.NewForwarder()
		if err := forwarder.AddListener(downstream); err != nil {
			return err
		}
		saverForwarder := listener.NewLogSaverForwarder(forwarder, e.logSaverOrDiscard())
		saverForwarder.Freeze()
		observer := &retryObserver{TestInvocationListener: saverForwarder}

		observer.TestRunStarted(runName, 0, attempt)
		start := time.Now()
		runErr := test.Run(ctx, testInfo, observer)
		elapsed := time.Since(start)
		if runErr != nil {
			observer.TestRunFailed(asFailure(runErr, originTest))
		}
		observer.TestRunEnded(elapsed, nil)
		lastErr = runErr

		outcome := decision.ShouldRetry(retryCtx, retry.AttemptResult{
			FailedTestIDs: observer.failed,
			RunFailed:     runErr != nil,
		})
		if !outcome.Retry {
			break
		}
		retryCtx.AttemptsRemaining--
		if fr, ok := test.(capability.TestFilterReceiver); ok {
			for _, inc := range outcome.IncludeFilter {
				fr.AddIncludeFilter(inc)
			}
			for _, exc := range outcome.ExcludeFilter {
				fr.AddExcludeFilter(exc)
			}
		}
		attempt++
	}
	return lastErr
}

// logSaverOrDiscard returns the invocation's configured LogSaver, or a
// discarding stand-in when none was configured, so LogSaverForwarder
// never has to nil-check.
func (e *Execution) logSaverOrDiscard() capability.LogSaver {
	if e.LogSaver != nil {
		return e.LogSaver
	}
	return discardLogSaver{}
}

// runNameFor derives the run name TestRunStarted reports: the test's own
// Name() if it implements one, otherwise its concrete type name.
func runNameFor(test capability.RemoteTest) string {
	if named, ok := test.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", test)
}

// retryObserver wraps a listener to track which test IDs failed during
// one attempt, so the next retry decision can narrow to just those.
type retryObserver struct {
	capability.TestInvocationListener
	failed []string
}

func (o *retryObserver) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	o.failed = append(o.failed, test.String())
	o.TestInvocationListener.TestFailed(test, failure)
}
