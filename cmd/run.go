package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"invocore/internal/capability"
	"invocore/internal/config"
	"invocore/internal/invocation"
	"invocore/internal/model"
	"invocore/internal/shard"
	"invocore/internal/suite"
	"invocore/pkg/metrics"
)

func newRunCmd() *cobra.Command {
	var fakeDevices bool
	var moduleOptions map[string]string

	cmd := &cobra.Command{
		Use:   "run <configuration.yaml>",
		Short: "Run a single invocation from a Configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvocation(cmd.Context(), args[0], fakeDevices, moduleOptions)
		},
	}
	cmd.Flags().BoolVar(&fakeDevices, "fake-devices", false, "wire in-memory fake devices instead of a real device backend")
	cmd.Flags().StringToStringVar(&moduleOptions, "option", nil, "override a configuration command option, key=value (repeatable)")
	return cmd
}

// runInvocation wires a Configuration, its devices and its listener
// chain into one invocation.Execution (or, when the Configuration asks
// for more than one shard, a Runner over internal/shard.Merger), and
// drives it to completion. A process-wide force-stop signal handler is
// installed so SIGINT/SIGTERM is honored at the next phase boundary per
// spec §5, rather than killing the process mid-phase.
func runInvocation(ctx context.Context, configPath string, fakeDevices bool, overrides map[string]string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		invocation.RequestForceStop()
	}()
	defer invocation.ResetForceStop()

	reg := buildRegistry(fakeDevices)
	cfg, err := config.Load(configPath, reg, overrides)
	if err != nil {
		return &configValidationError{cause: err}
	}

	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	descriptor := model.ConfigurationDescriptor{ModuleName: cfg.Name}
	invCtx := model.NewInvocationContext(descriptor)
	if err := allocateDevices(invCtx, cfg, fakeDevices); err != nil {
		return &configValidationError{cause: err}
	}

	chain := buildListenerChain(cfg)

	if cfg.ShardCount <= 1 {
		exec := invocation.New(invCtx, cfg, chain)
		exec.Metrics = metricsRegistry
		return exec.Invoke(ctx)
	}
	return runSharded(ctx, invCtx, cfg, chain)
}

// runSharded splits cfg's tests across cfg.ShardCount shards via
// suite.Splitter (the same module-internal sharding ModuleSplitter
// applies inside a suite, reused here for a standalone `invocore run`)
// and drives every shard concurrently through a shard.Runner, merging
// their streams back into chain via shard.Merger. Spec §4.5/§4.6.
func runSharded(ctx context.Context, invCtx *model.InvocationContext, cfg *capability.Configuration, chain capability.TestInvocationListener) error {
	base := suite.ModuleDefinition{Name: cfg.Name, Configuration: cfg}
	splitOpts := suite.SplitOptionsFromCommandOptions(cfg.CommandOptions, cfg.ShardCount)

	shards := suite.Splitter{}.Split(base, splitOpts)
	merger := shard.New(chain, len(shards), nil)
	runner := shard.NewRunner(merger)

	plans := make([]shard.Plan, len(shards))
	for i, s := range shards {
		plans[i] = shard.Plan{
			ShardIndex: s.ShardIndex,
			Context:    invCtx.NewShardContext(s.ShardIndex, len(shards)),
			Config:     s.Configuration,
		}
	}

	for _, err := range runner.InProcess(ctx, plans) {
		if err != nil {
			return err
		}
	}
	return nil
}
