package model

import "fmt"

// Classification is the closed taxonomy a FailureDescription is bucketed
// into, per spec §3/§7. Downstream listeners and the retry policy branch
// on this value, so it is never extended at runtime.
type Classification string

const (
	ClassificationInfraFailure           Classification = "INFRA_FAILURE"
	ClassificationDependencyIssue        Classification = "DEPENDENCY_ISSUE"
	ClassificationDeviceLost             Classification = "DEVICE_LOST"
	ClassificationTestFailure            Classification = "TEST_FAILURE"
	ClassificationNotExecuted            Classification = "NOT_EXECUTED"
	ClassificationLostSystemUnderTest    Classification = "LOST_SYSTEM_UNDER_TEST"
	ClassificationModuleChangedSysStatus Classification = "MODULE_CHANGED_SYSTEM_STATUS"
)

// ActionInProgress records what the invocation was doing when the
// failure occurred, so a listener can tell "failed during teardown" from
// "failed during the test itself" without string-matching the message.
type ActionInProgress string

const (
	ActionNone              ActionInProgress = ""
	ActionFetchingArtifacts ActionInProgress = "FETCHING_ARTIFACTS"
	ActionSetup             ActionInProgress = "SETUP"
	ActionTest              ActionInProgress = "TEST"
	ActionTearingDown       ActionInProgress = "TEARING_DOWN"
	ActionCleaningUp        ActionInProgress = "CLEANING_UP"
)

// Origin identifies which component raised a FailureDescription, used by
// listeners that group failures by subsystem.
type Origin string

// FailureDescription is the structured failure record passed through
// invocationFailed/testFailed. It implements error (and Unwrap) so it
// composes with errors.Is/errors.As the same way any wrapped stdlib
// error does.
type FailureDescription struct {
	Message          string
	ErrorIdentifier  string
	Classification   Classification
	ActionInProgress ActionInProgress
	Origin           Origin

	cause error
}

// NewFailure builds a FailureDescription from a root cause error.
func NewFailure(classification Classification, origin Origin, cause error) *FailureDescription {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &FailureDescription{
		Message:        msg,
		Classification: classification,
		Origin:         origin,
		cause:          cause,
	}
}

// WithAction returns a copy annotated with the action in progress when
// the failure occurred.
func (f *FailureDescription) WithAction(action ActionInProgress) *FailureDescription {
	clone := *f
	clone.ActionInProgress = action
	return &clone
}

// WithErrorIdentifier returns a copy annotated with a stable machine
// identifier (distinct from the human-readable Message).
func (f *FailureDescription) WithErrorIdentifier(id string) *FailureDescription {
	clone := *f
	clone.ErrorIdentifier = id
	return &clone
}

// Error implements the error interface.
func (f *FailureDescription) Error() string {
	if f.ActionInProgress != ActionNone {
		return fmt.Sprintf("[%s] %s: %s", f.Classification, f.ActionInProgress, f.Message)
	}
	return fmt.Sprintf("[%s] %s", f.Classification, f.Message)
}

// Unwrap exposes the root cause to errors.Is/errors.As.
func (f *FailureDescription) Unwrap() error {
	return f.cause
}

// IsFatalToInvocation reports whether this classification should abort
// the rest of the invocation rather than just the current module, per
// spec §4.1/§4.2.
func (f *FailureDescription) IsFatalToInvocation() bool {
	switch f.Classification {
	case ClassificationDeviceLost, ClassificationLostSystemUnderTest:
		return true
	default:
		return false
	}
}

// BuildError is the error a TargetPreparer or RemoteTest returns to
// signal that setup failed because of an image/version mismatch rather
// than an environment fault, per §4.1's failure-taxonomy table
// ("build error (image/version mismatch)" -> DEPENDENCY_ISSUE).
type BuildError struct {
	Cause error
}

func NewBuildError(cause error) *BuildError { return &BuildError{Cause: cause} }

func (e *BuildError) Error() string { return "build error: " + e.Cause.Error() }
func (e *BuildError) Unwrap() error { return e.Cause }

// TargetSetupError is the error a TargetPreparer/MultiTargetPreparer
// returns for an ordinary environment fault during setUp, classified
// INFRA_FAILURE with ActionInProgress=SETUP per §4.1.
type TargetSetupError struct {
	Cause error
}

func NewTargetSetupError(cause error) *TargetSetupError { return &TargetSetupError{Cause: cause} }

func (e *TargetSetupError) Error() string { return "target setup error: " + e.Cause.Error() }
func (e *TargetSetupError) Unwrap() error { return e.Cause }

// DeviceNotAvailableError is returned by a Device or RemoteTest when the
// device under test can no longer be reached, the one error class that
// is fatal to the whole invocation rather than just the current test or
// module, per §4.1/§4.2/§7.
type DeviceNotAvailableError struct {
	Cause error
}

func NewDeviceNotAvailableError(cause error) *DeviceNotAvailableError {
	return &DeviceNotAvailableError{Cause: cause}
}

func (e *DeviceNotAvailableError) Error() string { return "device not available: " + e.Cause.Error() }
func (e *DeviceNotAvailableError) Unwrap() error { return e.Cause }
