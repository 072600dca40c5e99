package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invocore/internal/config"
	"invocore/internal/invocation"
	"invocore/internal/listener"
	"invocore/internal/model"
)

// newShardWorkerCmd is the hidden child-process entry point
// shard.Runner.SubProcess execs as `invocore shard-worker --config <path>
// --shard-index <n>`. Each sub-process shard is its own OS process with
// no memory shared with the parent, so unlike runSharded's in-process
// path it cannot inherit a parent InvocationContext — it builds its own
// from scratch and reports failures back to the parent over stdout in
// spec §7's wire format rather than returning Go values.
func newShardWorkerCmd() *cobra.Command {
	var configPath string
	var shardIndex int
	var fakeDevices bool

	cmd := &cobra.Command{
		Use:    "shard-worker",
		Short:  "Run one shard of a split Configuration (internal, exec'd by run/suite)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShardWorker(cmd, configPath, shardIndex, fakeDevices)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to this shard's resolved Configuration file")
	cmd.Flags().IntVar(&shardIndex, "shard-index", 0, "this shard's index")
	cmd.Flags().BoolVar(&fakeDevices, "fake-devices", false, "wire in-memory fake devices instead of a real device backend")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runShardWorker(cmd *cobra.Command, configPath string, shardIndex int, fakeDevices bool) error {
	reg := buildRegistry(fakeDevices)
	cfg, err := config.Load(configPath, reg, nil)
	if err != nil {
		return fmt.Errorf("shard %d: loading configuration: %w", shardIndex, err)
	}

	descriptor := model.ConfigurationDescriptor{
		ModuleName: cfg.Name,
		ShardIndex: shardIndex,
	}
	invCtx := model.NewInvocationContext(descriptor)
	if err := allocateDevices(invCtx, cfg, fakeDevices); err != nil {
		return fmt.Errorf("shard %d: %w", shardIndex, err)
	}

	// The parent reconstructs real results from the wire stream on
	// stdout, so the downstream listener here only needs to exist to
	// satisfy RunRemote's signature; it never reaches a real sink.
	downstream := listener.NewForwarder()
	downstream.Freeze()

	return invocation.RunRemote(cmd.Context(), invCtx, cfg, downstream, os.Stdout)
}
