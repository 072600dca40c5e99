package config

import "invocore/internal/model"

// PluginSpec names a registered plugin constructor plus the free-form
// options it is constructed with. This is the YAML-serializable stand-in
// for a capability.* interface value: the engine can't unmarshal
// "build a Go interface" out of YAML directly, so a PluginSpec's Type
// names the Registry entry to call instead.
type PluginSpec struct {
	Type    string            `yaml:"type"`
	Options map[string]string `yaml:"options,omitempty"`
}

// deviceSpecDoc is one device's YAML-level plugin wiring.
type deviceSpecDoc struct {
	BuildProvider   PluginSpec        `yaml:"buildProvider"`
	TargetPreparers []PluginSpec      `yaml:"targetPreparers,omitempty"`
	DeviceRecovery  *PluginSpec       `yaml:"deviceRecovery,omitempty"`
	DeviceOptions   map[string]string `yaml:"deviceOptions,omitempty"`
}

// document is the top-level YAML schema a Configuration file is parsed
// into, before plugin names are resolved against a Registry.
type document struct {
	Name string `yaml:"name"`

	MultiPreTargetPreparers []PluginSpec             `yaml:"multiPreTargetPreparers,omitempty"`
	Devices                 map[string]deviceSpecDoc `yaml:"devices"`
	MultiTargetPreparers    []PluginSpec             `yaml:"multiTargetPreparers,omitempty"`

	Tests []PluginSpec `yaml:"tests"`

	MetricCollectors     []PluginSpec `yaml:"metricCollectors,omitempty"`
	SystemStatusCheckers []PluginSpec `yaml:"systemStatusCheckers,omitempty"`
	PostProcessors       []PluginSpec `yaml:"postProcessors,omitempty"`
	Listeners            []PluginSpec `yaml:"listeners,omitempty"`

	CommandOptions map[string]string `yaml:"commandOptions,omitempty"`

	RetryStrategy string `yaml:"retryStrategy,omitempty"`
	MaxRetries    int    `yaml:"maxRetries,omitempty"`

	LogSaver *PluginSpec `yaml:"logSaver,omitempty"`

	ShardCount int `yaml:"shardCount,omitempty"`
}

func defaultDocument() document {
	return document{
		RetryStrategy: string(model.RetryNone),
		ShardCount:    1,
	}
}
