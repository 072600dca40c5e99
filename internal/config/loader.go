package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/pkg/logging"
)

// Load reads and resolves a Configuration file at path against reg,
// applying overrides on top. Returns every validation error found,
// rather than stopping at the first one, so a misconfigured YAML file
// can be fixed in one edit-run cycle.
func Load(path string, reg *Registry, overrides CommandOptions) (*capability.Configuration, error) {
	doc := defaultDocument()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %q does not exist", path)
		}
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	logging.Info("config", "loaded configuration %q from %s", doc.Name, path)

	if errs := validate(doc); len(errs) > 0 {
		return nil, fmt.Errorf("config: %q is invalid:\n%w", path, joinErrors(errs))
	}

	cfg, err := resolve(doc, reg)
	if err != nil {
		return nil, fmt.Errorf("config: resolving %q: %w", path, err)
	}

	for k, v := range overrides {
		cfg.CommandOptions[k] = v
	}
	return cfg, nil
}

// CommandOptions is re-exported for callers (cmd/) that only need to
// build override maps without importing internal/capability directly.
type CommandOptions = capability.CommandOptions

func resolve(doc document, reg *Registry) (*capability.Configuration, error) {
	cfg := &capability.Configuration{
		Name:           doc.Name,
		Devices:        make(map[string]capability.DeviceSpec, len(doc.Devices)),
		CommandOptions: make(capability.CommandOptions, len(doc.CommandOptions)),
		RetryStrategy:  model.RetryStrategy(doc.RetryStrategy),
		MaxRetries:     doc.MaxRetries,
		ShardCount:     doc.ShardCount,
	}
	for k, v := range doc.CommandOptions {
		cfg.CommandOptions[k] = v
	}

	var err error
	if cfg.MultiPreTargetPreparers, err = resolveMultiPreparers(doc.MultiPreTargetPreparers, reg); err != nil {
		return nil, err
	}
	if cfg.MultiTargetPreparers, err = resolveMultiPreparers(doc.MultiTargetPreparers, reg); err != nil {
		return nil, err
	}

	for name, deviceDoc := range doc.Devices {
		spec, err := resolveDeviceSpec(deviceDoc, reg)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		cfg.Devices[name] = spec
	}

	for _, t := range doc.Tests {
		ctor, ok := reg.Tests[t.Type]
		if !ok {
			return nil, missingPlugin("test", t.Type)
		}
		test, err := ctor(t.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing test %q: %w", t.Type, err)
		}
		cfg.Tests = append(cfg.Tests, test)
	}

	for _, m := range doc.MetricCollectors {
		ctor, ok := reg.MetricCollectors[m.Type]
		if !ok {
			return nil, missingPlugin("metric collector", m.Type)
		}
		collector, err := ctor(m.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing metric collector %q: %w", m.Type, err)
		}
		cfg.MetricCollectors = append(cfg.MetricCollectors, collector)
	}

	for _, s := range doc.SystemStatusCheckers {
		ctor, ok := reg.SystemStatusCheckers[s.Type]
		if !ok {
			return nil, missingPlugin("system status checker", s.Type)
		}
		checker, err := ctor(s.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing system status checker %q: %w", s.Type, err)
		}
		cfg.SystemStatusCheckers = append(cfg.SystemStatusCheckers, checker)
	}

	for _, p := range doc.PostProcessors {
		ctor, ok := reg.PostProcessors[p.Type]
		if !ok {
			return nil, missingPlugin("post processor", p.Type)
		}
		cleaner, err := ctor(p.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing post processor %q: %w", p.Type, err)
		}
		cfg.PostProcessors = append(cfg.PostProcessors, cleaner)
	}

	for _, l := range doc.Listeners {
		ctor, ok := reg.Listeners[l.Type]
		if !ok {
			return nil, missingPlugin("listener", l.Type)
		}
		listener, err := ctor(l.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing listener %q: %w", l.Type, err)
		}
		cfg.Listeners = append(cfg.Listeners, listener)
	}

	if doc.LogSaver != nil {
		ctor, ok := reg.LogSavers[doc.LogSaver.Type]
		if !ok {
			return nil, missingPlugin("log saver", doc.LogSaver.Type)
		}
		saver, err := ctor(doc.LogSaver.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing log saver %q: %w", doc.LogSaver.Type, err)
		}
		cfg.LogSaver = saver
	}

	return cfg, nil
}

func resolveMultiPreparers(specs []PluginSpec, reg *Registry) ([]capability.MultiTargetPreparer, error) {
	out := make([]capability.MultiTargetPreparer, 0, len(specs))
	for _, s := range specs {
		ctor, ok := reg.MultiTargetPreparers[s.Type]
		if !ok {
			return nil, missingPlugin("multi target preparer", s.Type)
		}
		preparer, err := ctor(s.Options)
		if err != nil {
			return nil, fmt.Errorf("constructing multi target preparer %q: %w", s.Type, err)
		}
		out = append(out, preparer)
	}
	return out, nil
}

func resolveDeviceSpec(doc deviceSpecDoc, reg *Registry) (capability.DeviceSpec, error) {
	buildCtor, ok := reg.BuildProviders[doc.BuildProvider.Type]
	if !ok {
		return capability.DeviceSpec{}, missingPlugin("build provider", doc.BuildProvider.Type)
	}
	buildProvider, err := buildCtor(doc.BuildProvider.Options)
	if err != nil {
		return capability.DeviceSpec{}, fmt.Errorf("constructing build provider %q: %w", doc.BuildProvider.Type, err)
	}

	spec := capability.DeviceSpec{
		BuildProvider: buildProvider,
		DeviceOptions: doc.DeviceOptions,
	}

	for _, p := range doc.TargetPreparers {
		ctor, ok := reg.TargetPreparers[p.Type]
		if !ok {
			return capability.DeviceSpec{}, missingPlugin("target preparer", p.Type)
		}
		preparer, err := ctor(p.Options)
		if err != nil {
			return capability.DeviceSpec{}, fmt.Errorf("constructing target preparer %q: %w", p.Type, err)
		}
		spec.TargetPreparers = append(spec.TargetPreparers, preparer)
	}

	if doc.DeviceRecovery != nil {
		ctor, ok := reg.TargetPreparers[doc.DeviceRecovery.Type]
		if !ok {
			return capability.DeviceSpec{}, missingPlugin("device recovery preparer", doc.DeviceRecovery.Type)
		}
		recovery, err := ctor(doc.DeviceRecovery.Options)
		if err != nil {
			return capability.DeviceSpec{}, fmt.Errorf("constructing device recovery preparer %q: %w", doc.DeviceRecovery.Type, err)
		}
		spec.DeviceRecovery = recovery
	}

	return spec, nil
}
