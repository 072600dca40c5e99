package config

import (
	"fmt"

	"invocore/internal/capability"
)

// Registry maps a PluginSpec's Type name to the constructor that builds
// the corresponding capability implementation from its Options. cmd/
// populates one Registry at startup with every plugin this build of
// invocore ships, then hands it to Load.
type Registry struct {
	BuildProviders       map[string]func(options map[string]string) (capability.BuildProvider, error)
	TargetPreparers      map[string]func(options map[string]string) (capability.TargetPreparer, error)
	MultiTargetPreparers map[string]func(options map[string]string) (capability.MultiTargetPreparer, error)
	Tests                map[string]func(options map[string]string) (capability.RemoteTest, error)
	MetricCollectors     map[string]func(options map[string]string) (capability.MetricCollector, error)
	SystemStatusCheckers map[string]func(options map[string]string) (capability.SystemStatusChecker, error)
	PostProcessors       map[string]func(options map[string]string) (capability.HostCleaner, error)
	Listeners            map[string]func(options map[string]string) (capability.TestInvocationListener, error)
	LogSavers            map[string]func(options map[string]string) (capability.LogSaver, error)
}

// NewRegistry returns an empty Registry; callers populate the maps they
// need plugins registered under.
func NewRegistry() *Registry {
	return &Registry{
		BuildProviders:       make(map[string]func(options map[string]string) (capability.BuildProvider, error)),
		TargetPreparers:      make(map[string]func(options map[string]string) (capability.TargetPreparer, error)),
		MultiTargetPreparers: make(map[string]func(options map[string]string) (capability.MultiTargetPreparer, error)),
		Tests:                make(map[string]func(options map[string]string) (capability.RemoteTest, error)),
		MetricCollectors:     make(map[string]func(options map[string]string) (capability.MetricCollector, error)),
		SystemStatusCheckers: make(map[string]func(options map[string]string) (capability.SystemStatusChecker, error)),
		PostProcessors:       make(map[string]func(options map[string]string) (capability.HostCleaner, error)),
		Listeners:            make(map[string]func(options map[string]string) (capability.TestInvocationListener, error)),
		LogSavers:            make(map[string]func(options map[string]string) (capability.LogSaver, error)),
	}
}

func missingPlugin(kind, name string) error {
	return fmt.Errorf("config: no %s plugin registered under type %q", kind, name)
}
