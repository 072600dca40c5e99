package invocation

import (
	"errors"

	"invocore/internal/model"
)

// classifySetupError maps an error returned by doSetup to the
// failure-taxonomy row spec §4.1 assigns setup failures: a BuildError is
// a DEPENDENCY_ISSUE, a lost device is LOST_SYSTEM_UNDER_TEST, anything
// else is a plain INFRA_FAILURE.
func classifySetupError(err error) *model.FailureDescription {
	var buildErr *model.BuildError
	if errors.As(err, &buildErr) {
		return model.NewFailure(model.ClassificationDependencyIssue, originSetup, err).WithAction(model.ActionSetup)
	}
	var unavailable *model.DeviceNotAvailableError
	if errors.As(err, &unavailable) {
		return model.NewFailure(model.ClassificationLostSystemUnderTest, originSetup, err).WithAction(model.ActionSetup)
	}
	return model.NewFailure(model.ClassificationInfraFailure, originSetup, err).WithAction(model.ActionSetup)
}

// classifyTestError maps an error returned by runTests: a lost device is
// fatal to the invocation (LOST_SYSTEM_UNDER_TEST), anything else is
// reported as an ordinary INFRA_FAILURE during testing.
func classifyTestError(err error) *model.FailureDescription {
	var unavailable *model.DeviceNotAvailableError
	if errors.As(err, &unavailable) {
		return model.NewFailure(model.ClassificationLostSystemUnderTest, originTest, err).WithAction(model.ActionTest)
	}
	return model.NewFailure(model.ClassificationInfraFailure, originTest, err).WithAction(model.ActionTest)
}

// asFailure converts an arbitrary error into a FailureDescription for a
// listener callback that needs one (e.g. testFailed), preserving an
// already-classified failure or a device-loss signal and otherwise
// falling back to a plain INFRA_FAILURE tagged with origin.
func asFailure(err error, origin model.Origin) *model.FailureDescription {
	var fd *model.FailureDescription
	if errors.As(err, &fd) {
		return fd
	}
	var unavailable *model.DeviceNotAvailableError
	if errors.As(err, &unavailable) {
		return model.NewFailure(model.ClassificationLostSystemUnderTest, origin, err)
	}
	return model.NewFailure(model.ClassificationInfraFailure, origin, err)
}
