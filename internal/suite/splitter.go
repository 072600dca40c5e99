package suite

import "invocore/internal/capability"

// SplitOptions configures one module's ModuleSplitter pass, sourced
// from the module's command options per spec §4.6 / §6
// ("no-intra-module-sharding", "not-shardable", "not-strict-shardable").
type SplitOptions struct {
	ShardCountHint int

	NotShardable          bool
	NotStrictShardable    bool
	DynamicShardingContext bool
	NoIntraModuleSharding bool
}

// SplitOptionsFromCommandOptions reads the module's own command options
// per spec §6 ("not-shardable", "not-strict-shardable",
// "no-intra-module-sharding"), the same keys cmd/run.go's standalone
// `invocore run` path reads for a Configuration with ShardCount > 1,
// shared with the Scheduler's per-module ModuleSplitter pass.
func SplitOptionsFromCommandOptions(opts capability.CommandOptions, shardCountHint int) SplitOptions {
	splitOpts := SplitOptions{ShardCountHint: shardCountHint}
	for k, v := range opts {
		switch k {
		case "not-shardable":
			splitOpts.NotShardable = v == "true"
		case "not-strict-shardable":
			splitOpts.NotStrictShardable = v == "true"
		case "no-intra-module-sharding":
			splitOpts.NoIntraModuleSharding = v == "true"
		}
	}
	return splitOpts
}

// Splitter implements ModuleSplitter: deciding whether, and how, a
// module's RemoteTests are divided across shards before the Scheduler
// runs them. Spec §4.6.
type Splitter struct{}

// Split returns the list of module definitions that will actually run
// for m, per §4.6's rules. A module that isn't split at all comes back
// as a single-element slice holding the same Configuration pointer
// (the "original test instance is preserved, not cloned" rule).
func (Splitter) Split(m ModuleDefinition, opts SplitOptions) []ModuleDefinition {
	if opts.NoIntraModuleSharding || opts.NotShardable {
		return []ModuleDefinition{m}
	}
	if opts.NotStrictShardable && !opts.DynamicShardingContext {
		return []ModuleDefinition{m}
	}

	perTest, anySplit := splitTests(m.Configuration.Tests, opts)
	if !anySplit {
		return []ModuleDefinition{m}
	}

	shardCount := opts.ShardCountHint
	if shardCount < 1 {
		shardCount = 1
	}

	buckets := make([][]capability.RemoteTest, shardCount)
	next := 0
	for _, subs := range perTest {
		for _, t := range subs {
			buckets[next%shardCount] = append(buckets[next%shardCount], t)
			next++
		}
	}

	out := make([]ModuleDefinition, 0, shardCount)
	for i, tests := range buckets {
		if len(tests) == 0 {
			continue
		}
		shard := m
		shard.ShardIndex = i
		shard.Configuration = cloneConfigForShard(m.Configuration, tests)
		out = append(out, shard)
	}
	return out
}

// splitTests calls Split(hint) on every test that advertises
// ShardableTest, respecting the strict-shardable gate when the module
// was flagged "not-strict-shardable". It returns, per original test in
// declaration order, the sub-tests that test expanded into (a
// single-element slice when it didn't split), plus whether anything
// actually split.
func splitTests(tests []capability.RemoteTest, opts SplitOptions) ([][]capability.RemoteTest, bool) {
	perTest := make([][]capability.RemoteTest, 0, len(tests))
	anySplit := false

	for _, test := range tests {
		st, ok := test.(capability.ShardableTest)
		if !ok || !st.IsShardable() {
			perTest = append(perTest, []capability.RemoteTest{test})
			continue
		}
		if opts.NotStrictShardable {
			sst, ok := test.(capability.StrictShardableTest)
			if !ok || !sst.IsStrictShardable() {
				perTest = append(perTest, []capability.RemoteTest{test})
				continue
			}
		}
		sub := st.Split(opts.ShardCountHint)
		if sub == nil {
			perTest = append(perTest, []capability.RemoteTest{test})
			continue
		}
		anySplit = true
		perTest = append(perTest, sub)
	}
	return perTest, anySplit
}

// cloneConfigForShard builds the Configuration one shard's
// ModuleDefinition runs with: tests replaced by the shard's share,
// target preparers copied fresh per §4.6's "copied, not shared" rule.
func cloneConfigForShard(cfg *capability.Configuration, tests []capability.RemoteTest) *capability.Configuration {
	clone := *cfg
	clone.Tests = tests
	clone.MultiPreTargetPreparers = copyMultiPreparers(cfg.MultiPreTargetPreparers)
	clone.MultiTargetPreparers = copyMultiPreparers(cfg.MultiTargetPreparers)

	clone.Devices = make(map[string]capability.DeviceSpec, len(cfg.Devices))
	for name, spec := range cfg.Devices {
		specCopy := spec
		specCopy.TargetPreparers = copyTargetPreparers(spec.TargetPreparers)
		clone.Devices[name] = specCopy
	}
	return &clone
}

func copyTargetPreparers(ps []capability.TargetPreparer) []capability.TargetPreparer {
	out := make([]capability.TargetPreparer, len(ps))
	for i, p := range ps {
		out[i] = prototypeOrSame(p)
	}
	return out
}

// prototypeOrSame returns a fresh instance of p if it advertises
// PrototypeTargetPreparer, else falls back to reusing p across shards —
// the same fallback the engine already applies to any stateless
// preparer.
func prototypeOrSame(p capability.TargetPreparer) capability.TargetPreparer {
	if proto, ok := p.(capability.PrototypeTargetPreparer); ok {
		return proto.Prototype()
	}
	return p
}

// copyMultiPreparers reuses the same MultiTargetPreparer instances
// across shards. MultiTargetPreparer has no Prototype() mixin of its
// own (spec §6 defines it as "same shape but receives the full
// context"): a multi-device preparer's state is inherently
// invocation-scoped, not per-device, so there's nothing for a shard to
// clone independently.
func copyMultiPreparers(ps []capability.MultiTargetPreparer) []capability.MultiTargetPreparer {
	out := make([]capability.MultiTargetPreparer, len(ps))
	copy(out, ps)
	return out
}
