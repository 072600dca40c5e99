// Package suite implements SuiteScheduler, ModuleSplitter and the
// abi/parameterization expansion of spec §4.2/§4.6: sequencing a
// multi-module run, retrying and recovering at module granularity, and
// materializing the concrete module list a Scheduler actually walks.
// Grounded on the teacher's internal/orchestrator.Orchestrator for its
// "walk a registry, log and continue past a single failed component"
// idiom, generalized here from services to test modules.
package suite

import "invocore/internal/capability"

// Definition is one suite-authoring-time module entry: a name and its
// base Configuration, before abi/parameterization expansion. Suites are
// modeled as an ordered slice rather than a map, since spec §4.2 treats
// module order as semantically load-bearing (a map has none).
type Definition struct {
	Name          string
	Configuration *capability.Configuration
}

// ModuleDefinition is one materialized module the Scheduler will
// actually run: a Definition after abi × parameterization expansion
// (abi.go) and, if applicable, module-internal sharding (splitter.go).
type ModuleDefinition struct {
	// Name is the base module name; Abi/ParameterTag (when non-empty)
	// identify which materialized variant this is, per §4.2's "a filter
	// naming a parameterized variant acts on that variant only" rule.
	Name         string
	Abi          string
	ParameterTag string
	ShardIndex   int

	Configuration *capability.Configuration

	// PerModuleListeners are listeners scoped to this module only,
	// additive to the suite's main listener chain per §4.2 step 4.
	PerModuleListeners []capability.TestInvocationListener
}

// QualifiedName is the identifier filters and synthetic run names
// address this module by: "<name>[<parameterTag>]" when parameterized,
// else plain "<name>", per §4.2's filter-naming rule.
func (m ModuleDefinition) QualifiedName() string {
	if m.ParameterTag != "" {
		return m.Name + "[" + m.ParameterTag + "]"
	}
	return m.Name
}
