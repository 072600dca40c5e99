package config

import (
	"errors"
	"fmt"
	"strings"

	"invocore/internal/model"
)

// validate collects every structural problem in doc instead of stopping
// at the first one, so a misconfigured document can be fixed in a
// single edit-run cycle rather than one error at a time.
func validate(doc document) []error {
	var errs []error

	if strings.TrimSpace(doc.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(doc.Devices) == 0 {
		errs = append(errs, errors.New("at least one device is required"))
	}
	for name, d := range doc.Devices {
		if d.BuildProvider.Type == "" {
			errs = append(errs, fmt.Errorf("device %q: buildProvider.type is required", name))
		}
	}
	if len(doc.Tests) == 0 {
		errs = append(errs, errors.New("at least one test is required"))
	}
	for i, t := range doc.Tests {
		if t.Type == "" {
			errs = append(errs, fmt.Errorf("tests[%d]: type is required", i))
		}
	}

	switch model.RetryStrategy(doc.RetryStrategy) {
	case model.RetryNone, model.RetryIterations, model.RetryAnyFailure, model.RetryRerunUntilFail:
	default:
		errs = append(errs, fmt.Errorf("retryStrategy %q is not a recognized strategy", doc.RetryStrategy))
	}
	if doc.RetryStrategy != string(model.RetryNone) && doc.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("retryStrategy %q requires maxRetries > 0", doc.RetryStrategy))
	}
	if doc.ShardCount <= 0 {
		errs = append(errs, fmt.Errorf("shardCount must be positive, got %d", doc.ShardCount))
	}

	return errs
}

// joinErrors renders errs as a single %w-wrappable error with one
// message per line, matching the teacher's validation.go reporting
// style for multi-error documents.
func joinErrors(errs []error) error {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = "  - " + e.Error()
	}
	return errors.New(strings.Join(lines, "\n"))
}
