package capability

import "invocore/internal/model"

// DeviceSpec assembles the per-device plugins of a Configuration: a
// device gets its own build provider, ordered target preparers, an
// optional recovery preparer, and a free-form option bag. The recovery
// preparer is loaded from the configuration but the engine never runs
// it.
type DeviceSpec struct {
	BuildProvider   BuildProvider
	TargetPreparers []TargetPreparer
	DeviceRecovery  TargetPreparer
	DeviceOptions   map[string]string
}

// CommandOptions are free-form module/run options threaded down to
// RemoteTest, TargetPreparer and SystemStatusChecker implementations
// that accept them via ConfigurationReceiver, keyed the way a CLI
// "--module-option key=value" flag would populate them.
type CommandOptions map[string]string

// Configuration is the immutable, fully-resolved description of one
// invocation, assembled by internal/config's loader from a YAML
// configuration file plus CLI overrides. Spec §3.
type Configuration struct {
	Name string

	MultiPreTargetPreparers []MultiTargetPreparer
	Devices                 map[string]DeviceSpec
	MultiTargetPreparers    []MultiTargetPreparer

	Tests []RemoteTest

	MetricCollectors     []MetricCollector
	SystemStatusCheckers []SystemStatusChecker
	PostProcessors       []HostCleaner
	Listeners            []TestInvocationListener

	CommandOptions CommandOptions

	RetryStrategy model.RetryStrategy
	MaxRetries    int

	LogSaver LogSaver

	ShardCount int
}

// DeviceOrder returns device names in a stable order (sorted), used
// anywhere a Configuration's per-device plugins must be walked
// deterministically (e.g. pre-invocation setup dispatch).
func (c *Configuration) DeviceOrder() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	// Simple insertion sort: device counts are small (single digits),
	// not worth pulling in sort for.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}
