package invocation

import (
	"strconv"
	"time"

	"invocore/internal/capability"
)

// Options are the lifecycle-engine-level knobs spec §6 says the core
// reads directly out of a Configuration's free-form CommandOptions,
// parsed once per Execution rather than re-parsed on every access.
type Options struct {
	ParallelPreInvocationSetup        bool
	ParallelPreInvocationSetupTimeout time.Duration
}

const defaultParallelPreInvocationSetupTimeout = 5 * time.Minute

// ParseOptions reads the engine-level option keys out of a
// Configuration's CommandOptions. Unrecognized or malformed values fall
// back to their documented default rather than failing the invocation —
// option validation proper belongs to internal/config's loader.
func ParseOptions(cfg *capability.Configuration) Options {
	opts := Options{
		ParallelPreInvocationSetupTimeout: defaultParallelPreInvocationSetupTimeout,
	}
	if cfg == nil {
		return opts
	}
	if v, ok := cfg.CommandOptions["parallel-pre-invocation-setup"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.ParallelPreInvocationSetup = b
		}
	}
	if v, ok := cfg.CommandOptions["parallel-pre-invocation-setup-timeout"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			opts.ParallelPreInvocationSetupTimeout = d
		}
	}
	return opts
}
