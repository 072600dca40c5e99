package suite

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"invocore/internal/capability"
)

// Parameterization names spec §4.2's fixed parameterization kinds. A
// "foldable" or "mainline" parameterization carries a variable suffix
// (the state name / apk combo), so the full parameter tag is built as
// "<kind>:<suffix>" for those two and just "<kind>" for the other two.
const (
	ParamInstantApp    = "instant_app"
	ParamSecondaryUser = "secondary_user"
	ParamFoldablePrefix = "all_foldable_states:"
	ParamMainlinePrefix = "mainline:"
)

// ABIOptions configures the abi × parameterization expansion of §4.2.
type ABIOptions struct {
	// Abis is the set of target ABIs each base module is materialized
	// against. A single entry ("") means "no abi dimension".
	Abis           []string
	PrimaryAbiOnly bool

	// SkipHostArchCheck is recorded from spec §6's "skip-host-arch-check"
	// option but not independently enforced: this pack has no host-arch
	// detection mechanism anywhere in the engine to gate against, so
	// there's nothing for the flag to skip. It still round-trips through
	// ABIOptionsFromCommandOptions so a future host-arch checker has
	// somewhere to read it from.
	SkipHostArchCheck bool

	// Parameterizations lists the extra parameter tags to materialize
	// alongside the unparameterized base, e.g. {"instant_app",
	// "all_foldable_states:closed"}.
	Parameterizations []string

	IncludeFilters []string
	ExcludeFilters []string

	// RandomSeed, when non-nil, deterministically shuffles the
	// materialized module list (spec §4.2's "same seed + same input =>
	// same order").
	RandomSeed *int64
}

// filterKey is a parsed include/exclude filter: the module name plus an
// optional parameter tag, per §4.2's "filter naming a parameterized
// variant acts on that variant only" rule.
type filterKey struct {
	name string
	tag  string
}

func parseFilter(raw string) filterKey {
	name, tag := raw, ""
	if i := strings.IndexByte(raw, '['); i >= 0 && strings.HasSuffix(raw, "]") {
		name, tag = raw[:i], raw[i+1:len(raw)-1]
	}
	return filterKey{name: name, tag: tag}
}

func matchesFilter(m ModuleDefinition, f filterKey) bool {
	return m.Name == f.name && m.ParameterTag == f.tag
}

func isSelected(m ModuleDefinition, includes, excludes []filterKey) bool {
	for _, f := range excludes {
		if matchesFilter(m, f) {
			return false
		}
	}
	if len(includes) == 0 {
		return true
	}
	for _, f := range includes {
		if matchesFilter(m, f) {
			return true
		}
	}
	return false
}

// Expand materializes one ModuleDefinition per (abi x parameterization)
// pair that survives the include/exclude filters, per spec §4.2's
// "Abi and foldable-state expansion". The base (unparameterized)
// variant of each abi may be excluded while one or more of its
// parameterizations remain, since each variant is filtered
// independently.
func Expand(defs []Definition, opts ABIOptions) []ModuleDefinition {
	abis := opts.Abis
	if len(abis) == 0 {
		abis = []string{""}
	}
	if opts.PrimaryAbiOnly && len(abis) > 1 {
		abis = abis[:1]
	}

	includes := make([]filterKey, 0, len(opts.IncludeFilters))
	for _, f := range opts.IncludeFilters {
		includes = append(includes, parseFilter(f))
	}
	excludes := make([]filterKey, 0, len(opts.ExcludeFilters))
	for _, f := range opts.ExcludeFilters {
		excludes = append(excludes, parseFilter(f))
	}

	tags := append([]string{""}, opts.Parameterizations...)

	var out []ModuleDefinition
	for _, def := range defs {
		for _, abi := range abis {
			for _, tag := range tags {
				candidate := ModuleDefinition{
					Name:          def.Name,
					Abi:           abi,
					ParameterTag:  tag,
					Configuration: def.Configuration,
				}
				if isSelected(candidate, includes, excludes) {
					out = append(out, candidate)
				}
			}
		}
	}

	if opts.RandomSeed != nil {
		shuffleDeterministic(out, *opts.RandomSeed)
	}
	return out
}

// ABIOptionsFromCommandOptions reads spec §6's abi-expansion command
// options ("abi", "primary-abi-only", "skip-host-arch-check",
// "random-seed") out of a merged CommandOptions map, the same keys
// cmd/suite.go aggregates across every loaded module. "abi" is a
// comma-separated list, mirroring how spec's CLI surface accepts the
// flag repeated or joined.
func ABIOptionsFromCommandOptions(opts capability.CommandOptions) ABIOptions {
	var abiOpts ABIOptions
	for k, v := range opts {
		switch k {
		case "abi":
			for _, a := range strings.Split(v, ",") {
				a = strings.TrimSpace(a)
				if a != "" {
					abiOpts.Abis = append(abiOpts.Abis, a)
				}
			}
		case "primary-abi-only":
			abiOpts.PrimaryAbiOnly = v == "true"
		case "skip-host-arch-check":
			abiOpts.SkipHostArchCheck = v == "true"
		case "random-seed":
			if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
				abiOpts.RandomSeed = &seed
			}
		}
	}
	return abiOpts
}

// shuffleDeterministic reorders modules via a Fisher-Yates shuffle
// seeded from seed, so identical (seed, input) pairs always produce
// the identical order per §4.2's reproducibility requirement. A
// dedicated shuffling library has no home in this pack's dependency
// set (see DESIGN.md); math/rand's seeded source is exactly the
// stdlib's intended use case here, not a stand-in for a missing
// third-party dependency.
func shuffleDeterministic(modules []ModuleDefinition, seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(modules), func(i, j int) {
		modules[i], modules[j] = modules[j], modules[i]
	})
}

// ParameterTagForFoldableState builds the parameter tag for a single
// foldable-state parameterization, e.g. "all_foldable_states:closed".
func ParameterTagForFoldableState(stateName string) string {
	return fmt.Sprintf("%s%s", ParamFoldablePrefix, stateName)
}

// ParameterTagForMainline builds the parameter tag for a mainline
// module-combo parameterization, e.g. "mainline:moduleA+moduleB".
func ParameterTagForMainline(apkCombo string) string {
	return fmt.Sprintf("%s%s", ParamMainlinePrefix, apkCombo)
}
