package invocation

import (
	"context"
	"fmt"

	"invocore/internal/capability"
	"invocore/pkg/tracing"
)

// doSetup runs spec §4.1 phase 3 in its fixed three-stage order:
// multiPreTargetPreparers across the full device set, then each device's
// own targetPreparers in declaration order, then multiTargetPreparers
// across the full device set again. Every preparer that completes setUp
// successfully is recorded via pushTeardown so a later failure unwinds
// exactly what was applied, in reverse.
func (e *Execution) doSetup(ctx context.Context, testInfo *capability.TestInformation) error {
	ctx, span := tracing.StartPhase(ctx, "setup")
	var err error
	defer func() { tracing.EndPhase(span, err) }()

	for i, p := range e.Configuration.MultiPreTargetPreparers {
		if isDisabled(p) {
			continue
		}
		if setupErr := p.SetUp(ctx, testInfo); setupErr != nil {
			err = fmt.Errorf("multiPreTargetPreparers[%d]: %w", i, setupErr)
			return err
		}
		e.pushTeardown(teardownStep{
			label:      fmt.Sprintf("multiPreTargetPreparers[%d]", i),
			testInfo:   testInfo,
			tdDisabled: isTearDownDisabled(p),
			cleaner:    asHostCleaner(p),
			tearDown:   p.TearDown,
		})
	}

	for _, deviceName := range e.Context.DeviceNames() {
		spec, ok := e.Configuration.Devices[deviceName]
		if !ok {
			continue
		}
		dev, ok := testInfo.Devices[deviceName]
		if !ok {
			continue
		}
		deviceTestInfo := singleDeviceTestInfo(e.Context, deviceName, dev)
		for i, p := range spec.TargetPreparers {
			if isDisabled(p) {
				continue
			}
			if setupErr := p.SetUp(ctx, deviceTestInfo); setupErr != nil {
				err = fmt.Errorf("device %q targetPreparers[%d]: %w", deviceName, i, setupErr)
				return err
			}
			e.pushTeardown(teardownStep{
				label:      fmt.Sprintf("device %s targetPreparers[%d]", deviceName, i),
				testInfo:   deviceTestInfo,
				tdDisabled: isTearDownDisabled(p),
				cleaner:    asHostCleaner(p),
				tearDown:   p.TearDown,
			})
		}
	}

	for i, p := range e.Configuration.MultiTargetPreparers {
		if isDisabled(p) {
			continue
		}
		if setupErr := p.SetUp(ctx, testInfo); setupErr != nil {
			err = fmt.Errorf("multiTargetPreparers[%d]: %w", i, setupErr)
			return err
		}
		e.pushTeardown(teardownStep{
			label:      fmt.Sprintf("multiTargetPreparers[%d]", i),
			testInfo:   testInfo,
			tdDisabled: isTearDownDisabled(p),
			cleaner:    asHostCleaner(p),
			tearDown:   p.TearDown,
		})
	}
	return nil
}

// isDisabled reports whether p opts out of setUp/tearDown entirely via
// the optional Disabler mix-in. A preparer lacking the mix-in is always
// enabled.
func isDisabled(p interface{}) bool {
	if d, ok := p.(capability.Disabler); ok {
		return d.IsDisabled()
	}
	return false
}

// isTearDownDisabled reports whether p's tearDown (and cleanUp) should be
// skipped: either because it is fully disabled, or because it opts out of
// tearDown alone via TearDownDisabler. Per spec §4.1 step 6, IsDisabled
// implies tear-down-disabled regardless of the second mix-in.
func isTearDownDisabled(p interface{}) bool {
	if isDisabled(p) {
		return true
	}
	if d, ok := p.(capability.TearDownDisabler); ok {
		return d.IsTearDownDisabled()
	}
	return false
}

// asHostCleaner returns p as a capability.HostCleaner if it implements
// that optional mix-in, nil otherwise.
func asHostCleaner(p interface{}) capability.HostCleaner {
	if c, ok := p.(capability.HostCleaner); ok {
		return c
	}
	return nil
}
