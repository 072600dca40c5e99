// Package retry implements RetryDecision: the pure policy object spec §4.3
// consults between test-case-run attempts. It holds no invocation state of
// its own — all state lives in the model.RetryContext passed in and the
// Outcome returned.
package retry

import "invocore/internal/model"

// Outcome is what a Decision returns after inspecting a completed
// attempt: whether to retry, and the filters to apply on the retry
// attempt (spec §4.3: "retry attempts may narrow to only the tests that
// failed").
type Outcome struct {
	Retry          bool
	IncludeFilter  []string
	ExcludeFilter  []string
}

// AttemptResult is the minimal shape of a finished test-run attempt a
// Decision needs to see: which test IDs failed, and whether the run
// itself errored out independent of any individual test.
type AttemptResult struct {
	FailedTestIDs []string
	RunFailed     bool
}

// Decision is the RetryDecision capability: given the retry context and
// the outcome of the attempt just finished, decide whether another
// attempt should run and how it should be filtered.
type Decision interface {
	ShouldRetry(ctx *model.RetryContext, attempt AttemptResult) Outcome
}

// strategyFunc adapts a plain function to the Decision interface so the
// table in New can stay a flat list of functions instead of one type per
// strategy.
type strategyFunc func(ctx *model.RetryContext, attempt AttemptResult) Outcome

func (f strategyFunc) ShouldRetry(ctx *model.RetryContext, attempt AttemptResult) Outcome {
	return f(ctx, attempt)
}

var strategies = map[model.RetryStrategy]strategyFunc{
	model.RetryNone: func(ctx *model.RetryContext, attempt AttemptResult) Outcome {
		return Outcome{Retry: false}
	},
	model.RetryIterations: func(ctx *model.RetryContext, attempt AttemptResult) Outcome {
		// Reruns a fixed number of times regardless of outcome, no filtering:
		// used to detect flakiness rather than to chase a failure to green.
		if ctx.AttemptsRemaining <= 0 {
			return Outcome{Retry: false}
		}
		return Outcome{Retry: true}
	},
	model.RetryAnyFailure: func(ctx *model.RetryContext, attempt AttemptResult) Outcome {
		if ctx.AttemptsRemaining <= 0 {
			return Outcome{Retry: false}
		}
		if !attempt.RunFailed && len(attempt.FailedTestIDs) == 0 {
			return Outcome{Retry: false}
		}
		return Outcome{Retry: true, IncludeFilter: attempt.FailedTestIDs}
	},
	model.RetryRerunUntilFail: func(ctx *model.RetryContext, attempt AttemptResult) Outcome {
		// Inverse of RetryAnyFailure: keeps rerunning while the module stays
		// green, and stops the moment something fails (or attempts run out).
		if ctx.AttemptsRemaining <= 0 {
			return Outcome{Retry: false}
		}
		if attempt.RunFailed || len(attempt.FailedTestIDs) > 0 {
			return Outcome{Retry: false}
		}
		return Outcome{Retry: true}
	},
}

// New returns the Decision implementing the named strategy. Unknown
// strategies behave as RetryNone, matching the spec's "unset retry
// strategy disables retrying" default.
func New(strategy model.RetryStrategy) Decision {
	if fn, ok := strategies[strategy]; ok {
		return fn
	}
	return strategies[model.RetryNone]
}
