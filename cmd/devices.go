package cmd

import (
	"fmt"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/internal/testdevice"
)

// allocateDevices registers one capability.Device per device named in
// cfg into ctx. Real lab device discovery and allocation is explicitly
// out of scope for this engine (spec's Non-goals: the invocation engine
// consumes already-allocated devices, it does not manage a device
// farm) — fake wires internal/testdevice's in-memory stand-in instead,
// for the --fake-devices flag of `invocore run`, `suite` and
// `shard-worker`.
func allocateDevices(ctx *model.InvocationContext, cfg *capability.Configuration, fake bool) error {
	for _, name := range cfg.DeviceOrder() {
		if !fake {
			return fmt.Errorf("device %q: no real device backend is wired; pass --fake-devices or supply devices out of band before invoking Execution directly", name)
		}
		spec := cfg.Devices[name]
		dev := testdevice.New(name, model.DeviceDescriptor{
			Serial:    spec.DeviceOptions["serial"],
			Product:   spec.DeviceOptions["product"],
			BuildType: spec.DeviceOptions["build-type"],
		})
		for k, v := range spec.DeviceOptions {
			dev.SetOption(k, v)
		}
		if err := ctx.AllocateDevice(name, dev); err != nil {
			return fmt.Errorf("allocating device %q: %w", name, err)
		}
	}
	return nil
}
