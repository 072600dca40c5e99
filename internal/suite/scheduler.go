// Package suite's Scheduler sequences a materialized module list, per
// spec §4.2. Grounded on the teacher's internal/orchestrator.Orchestrator
// for its "walk a list, log a failed component, keep going" shape and on
// internal/invocation.Execution for the module body itself — a module is
// nothing more than one fresh Execution run against a narrowed
// Configuration.
package suite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"invocore/internal/capability"
	"invocore/internal/invocation"
	"invocore/internal/listener"
	"invocore/internal/model"
	"invocore/internal/retry"
	"invocore/pkg/logging"
	"invocore/pkg/metrics"
)

const subsystem = "suite"

// Origins for the synthetic failures the scheduler itself raises
// (system-status drift, device-lost recovery), distinct from the
// origins internal/invocation uses for module-body failures.
const (
	originSystemChecker model.Origin = "systemStatusChecker"
	originNotExecuted   model.Origin = "suiteDeviceLostRecovery"
)

// SchedulerConfig carries the suite-wide command options spec §6 lists
// under the SuiteScheduler's control.
type SchedulerConfig struct {
	ReportSystemCheckers bool
	RebootPerModule      bool

	// ModuleRetryStrategy/MaxModulePrepRetries govern §4.2's
	// "preparation-retry (module-level)": the whole module body is
	// re-attempted, not just a single test-run.
	ModuleRetryStrategy  model.RetryStrategy
	MaxModulePrepRetries int
}

// SchedulerConfigFromCommandOptions overlays spec §6's module-prep
// command options ("reboot-per-module", "retry-strategy",
// "max-testcase-run-count") onto base, the same merged CommandOptions
// map cmd/suite.go aggregates across every loaded module. These are
// module-prep-granularity settings, distinct from (and read from a
// different map than) the per-test RetryStrategy/MaxRetries a
// Configuration carries via its own typed YAML fields.
func SchedulerConfigFromCommandOptions(opts capability.CommandOptions, base SchedulerConfig) SchedulerConfig {
	cfg := base
	for k, v := range opts {
		switch k {
		case "reboot-per-module":
			cfg.RebootPerModule = v == "true"
		case "retry-strategy":
			cfg.ModuleRetryStrategy = model.RetryStrategy(v)
		case "max-testcase-run-count":
			if n, err := strconv.Atoi(v); err == nil {
				cfg.MaxModulePrepRetries = n
			}
		}
	}
	return cfg
}

// bugreportRequester is the optional mixin a SystemStatusChecker
// implements to ask the scheduler to capture a bugreport alongside a
// failed check, per §4.2 step 2/5's "if the checker requested a
// bug-report, capture it." Kept local to this package rather than
// added to capability.SystemStatusChecker, since it's a detail only the
// scheduler's synthetic-run reporting needs.
type bugreportRequester interface {
	NeedsBugreport() bool
}

// Scheduler implements SuiteScheduler: module sequencing, per-module
// system-status checks, device-lost recovery and module-level
// preparation retry. Spec §4.2.
type Scheduler struct {
	MainListener capability.TestInvocationListener
	Recorder     capability.EventRecorder
	Metrics      *metrics.Registry
	Config       SchedulerConfig
}

// New builds a Scheduler. recorder and metricsRegistry may be nil.
func New(mainListener capability.TestInvocationListener, recorder capability.EventRecorder, metricsRegistry *metrics.Registry, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{MainListener: mainListener, Recorder: recorder, Metrics: metricsRegistry, Config: cfg}
}

// Run walks modules in order, delegating each to a fresh
// invocation.Execution. devices is the full set of physical device
// handles shared by every module (the suite, not the module, owns
// device allocation). Returns the first fatal (device-lost) error, if
// any, after synthesizing NOT_EXECUTED reporting for every module that
// never got to run.
func (s *Scheduler) Run(ctx context.Context, topCtx *model.InvocationContext, devices map[string]capability.Device, modules []ModuleDefinition) error {
	modules = s.splitModules(modules)
	for i, m := range modules {
		fatal, err := s.runModule(ctx, topCtx, devices, m)
		if err != nil {
			logging.Error(subsystem, err, "module %s finished with an error", m.QualifiedName())
		}
		if fatal {
			s.synthesizeNotExecuted(modules[i+1:])
			return err
		}
	}
	return nil
}

// splitModules runs ModuleSplitter over every incoming module before the
// main sequencing loop, per spec §4.6's "consulted by the Scheduler
// before each module runs": each module's own CommandOptions and
// ShardCount (not a suite-wide setting) govern whether, and how, it is
// divided, mirroring the standalone `invocore run` path's use of the
// same Splitter for a Configuration with ShardCount > 1.
func (s *Scheduler) splitModules(modules []ModuleDefinition) []ModuleDefinition {
	out := make([]ModuleDefinition, 0, len(modules))
	for _, m := range modules {
		var commandOptions capability.CommandOptions
		shardCountHint := 0
		if m.Configuration != nil {
			commandOptions = m.Configuration.CommandOptions
			shardCountHint = m.Configuration.ShardCount
		}
		splitOpts := SplitOptionsFromCommandOptions(commandOptions, shardCountHint)
		out = append(out, Splitter{}.Split(m, splitOpts)...)
	}
	return out
}

func (s *Scheduler) runModule(ctx context.Context, topCtx *model.InvocationContext, devices map[string]capability.Device, m ModuleDefinition) (fatal bool, err error) {
	chain := s.buildModuleListener(m)
	descriptor := model.ConfigurationDescriptor{
		ModuleName:   m.Name,
		Abi:          m.Abi,
		ShardIndex:   m.ShardIndex,
		ParameterTag: m.ParameterTag,
	}

	chain.TestModuleStarted(descriptor)
	s.event("ModuleStarted", "module %s started", m.QualifiedName())

	preTestInfo := &capability.TestInformation{InvocationContext: newModuleContext(topCtx, m, 0), Devices: devices}
	s.runSystemStatusCheckers(ctx, m, preTestInfo, chain, "PRE", func(c capability.SystemStatusChecker) *model.FailureDescription {
		return c.PreExecutionCheck(ctx, preTestInfo)
	})

	if s.Config.RebootPerModule {
		s.rebootPrimaryIfNeeded(ctx, preTestInfo)
	}

	decision := retry.New(s.Config.ModuleRetryStrategy)
	maxAttempts := s.Config.MaxModulePrepRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryCtx := &model.RetryContext{
		Strategy:          s.Config.ModuleRetryStrategy,
		MaxAttempts:       maxAttempts,
		AttemptsRemaining: maxAttempts - 1,
		ShouldAutoRetry:   s.Config.ModuleRetryStrategy != model.RetryNone,
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		attemptCtx := newModuleContext(topCtx, m, attempt)
		exec := invocation.New(attemptCtx, m.Configuration, chain)
		lastErr = exec.Invoke(ctx)

		if lastErr == nil {
			break
		}
		if isDeviceLost(lastErr) {
			s.event("ModuleDeviceLost", "module %s lost its device, recovering remaining suite: %v", m.QualifiedName(), lastErr)
			postTestInfo := &capability.TestInformation{InvocationContext: attemptCtx, Devices: devices}
			s.runSystemStatusCheckers(ctx, m, postTestInfo, chain, "POST", func(c capability.SystemStatusChecker) *model.FailureDescription {
				return c.PostExecutionCheck(ctx, postTestInfo)
			})
			chain.TestModuleEnded()
			return true, lastErr
		}
		if !isPreparationFailure(lastErr) {
			break
		}

		outcome := decision.ShouldRetry(retryCtx, retry.AttemptResult{RunFailed: true})
		if !outcome.Retry {
			break
		}
		retryCtx.AttemptsRemaining--
		s.event("ModulePrepRetry", "module %s retrying after preparation failure (attempt %d): %v", m.QualifiedName(), attempt+1, lastErr)
	}

	postCtx := newModuleContext(topCtx, m, 0)
	postTestInfo := &capability.TestInformation{InvocationContext: postCtx, Devices: devices}
	s.runSystemStatusCheckers(ctx, m, postTestInfo, chain, "POST", func(c capability.SystemStatusChecker) *model.FailureDescription {
		return c.PostExecutionCheck(ctx, postTestInfo)
	})

	chain.TestModuleEnded()
	s.event("ModuleEnded", "module %s ended", m.QualifiedName())

	if s.Metrics != nil {
		outcome := "passed"
		if lastErr != nil {
			outcome = "failed"
		}
		s.Metrics.ObserveModule(m.Name, outcome, time.Since(start))
	}

	return false, lastErr
}

// runSystemStatusCheckers runs every checker of m's Configuration
// through check, reporting a synthetic MODULE_CHECKER_<phase>_<module>
// run (with a bugreport attached, if requested) for any checker that
// returns a non-nil FailureDescription, per §4.2 step 2/5.
func (s *Scheduler) runSystemStatusCheckers(ctx context.Context, m ModuleDefinition, testInfo *capability.TestInformation, chain capability.TestInvocationListener, phase string, check func(capability.SystemStatusChecker) *model.FailureDescription) {
	for _, checker := range m.Configuration.SystemStatusCheckers {
		fd := check(checker)
		if fd == nil {
			continue
		}
		if fd.Classification == "" {
			fd.Classification = model.ClassificationModuleChangedSysStatus
		}

		if !s.Config.ReportSystemCheckers {
			logging.Warn(subsystem, "system status checker failed for module %s (%s): %s", m.QualifiedName(), phase, fd.Message)
			continue
		}

		runName := fmt.Sprintf("MODULE_CHECKER_%s_%s", phase, m.Name)
		chain.TestRunStarted(runName, 0, 0)
		chain.TestRunFailed(fd)

		if req, ok := checker.(bugreportRequester); ok && req.NeedsBugreport() {
			if dev, ok := testInfo.Device(); ok {
				if err := dev.LogBugreport(ctx, runName+"_bugreport", chain); err != nil {
					logging.Error(subsystem, err, "failed to capture bugreport for %s", runName)
				}
			}
		}
		chain.TestRunEnded(0, nil)
	}
}

// rebootPrimaryIfNeeded reboots the primary device ahead of the module
// body, unless its build is a "user" (production-signed) build, per
// §4.2 step 3.
func (s *Scheduler) rebootPrimaryIfNeeded(ctx context.Context, testInfo *capability.TestInformation) {
	dev, ok := testInfo.Device()
	if !ok {
		return
	}
	if dev.GetDeviceDescriptor().BuildType == "user" {
		return
	}
	if err := dev.Reboot(ctx); err != nil {
		logging.Error(subsystem, err, "reboot-per-module failed")
	}
}

// synthesizeNotExecuted emits the full testModuleStarted/testRunStarted/
// testRunFailed(NOT_EXECUTED)/testRunEnded/testModuleEnded sequence for
// every module that will never run because an earlier module lost its
// device, per §4.2's device-lost recovery rule.
func (s *Scheduler) synthesizeNotExecuted(remaining []ModuleDefinition) {
	for _, m := range remaining {
		chain := s.buildModuleListener(m)
		descriptor := model.ConfigurationDescriptor{
			ModuleName:   m.Name,
			Abi:          m.Abi,
			ShardIndex:   m.ShardIndex,
			ParameterTag: m.ParameterTag,
		}
		chain.TestModuleStarted(descriptor)
		chain.TestRunStarted(m.QualifiedName(), 0, 0)
		fd := model.NewFailure(model.ClassificationNotExecuted, originNotExecuted,
			errors.New("module did not run due to device not available")).WithAction(model.ActionNone)
		chain.TestRunFailed(fd)
		chain.TestRunEnded(0, nil)
		chain.TestModuleEnded()
		s.event("ModuleNotExecuted", "module %s skipped: device not available", m.QualifiedName())
	}
}

// buildModuleListener fans suite-wide listener callbacks out to the
// main chain plus any module-specific listeners, per §4.2 step 4
// ("feeding any provided per-module listeners, a separate list
// additive to the suite's main chain").
func (s *Scheduler) buildModuleListener(m ModuleDefinition) capability.TestInvocationListener {
	if len(m.PerModuleListeners) == 0 {
		return s.MainListener
	}
	fwd := listener.NewForwarder()
	_ = fwd.AddListener(s.MainListener)
	for _, l := range m.PerModuleListeners {
		_ = fwd.AddListener(l)
	}
	fwd.Freeze()
	return fwd
}

func (s *Scheduler) event(reason, format string, args ...interface{}) {
	if s.Recorder == nil {
		return
	}
	s.Recorder.Eventf(reason, format, args...)
}

// isDeviceLost reports whether err represents the one error class that
// is fatal to the whole suite rather than just the current module, per
// §4.2/§7: the device can no longer be reached at all. Note
// invocation.Execution.Invoke returns the module body's raw error, not
// a *model.FailureDescription (that type is only attached to the
// listener stream) — so classification here walks the same sentinel
// error types internal/invocation's own classify.go matches on.
func isDeviceLost(err error) bool {
	var dna *model.DeviceNotAvailableError
	return errors.As(err, &dna)
}

// isPreparationFailure reports whether err represents a setup-phase
// failure eligible for module-level preparation retry, per §4.2's
// "after a module body completes with a preparation error" trigger:
// a TargetPreparer/MultiTargetPreparer signaled TargetSetupError or
// BuildError during setUp.
func isPreparationFailure(err error) bool {
	var setupErr *model.TargetSetupError
	if errors.As(err, &setupErr) {
		return true
	}
	var buildErr *model.BuildError
	return errors.As(err, &buildErr)
}

// newModuleContext builds the per-attempt InvocationContext a module
// run is delegated into: a fresh context carrying m's own descriptor,
// sharing the suite's already-allocated device handles (the lab
// resources are the suite's, not any one module's).
func newModuleContext(top *model.InvocationContext, m ModuleDefinition, attempt int) *model.InvocationContext {
	descriptor := model.ConfigurationDescriptor{
		ModuleName:   m.Name,
		Abi:          m.Abi,
		ShardIndex:   m.ShardIndex,
		ParameterTag: m.ParameterTag,
	}
	child := model.NewInvocationContext(descriptor)
	for _, name := range top.DeviceNames() {
		dev, _ := top.Device(name)
		_ = child.AllocateDevice(name, dev)
	}
	child.SetModuleContext(&model.ModuleInvocationContext{ModuleName: m.Name, AttemptIndex: attempt})
	return child
}
