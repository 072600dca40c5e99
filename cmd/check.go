package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"invocore/internal/capability"
	"invocore/internal/config"
	invstrings "invocore/pkg/strings"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <configuration.yaml>",
		Short: "Validate and plan a Configuration without running it",
		Long: `check loads and resolves a Configuration file exactly as run would,
then prints the resolved device/test/listener plan instead of invoking
anything. Every plugin type referenced by the file must already be
registered in this build's Registry, so a check failure here means run
would fail in the same way before any device work begins.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := buildRegistry(true)
			cfg, err := config.Load(args[0], reg, nil)
			if err != nil {
				return &configValidationError{cause: err}
			}
			printPlan(cmd, cfg)
			return nil
		},
	}
}

func printPlan(cmd *cobra.Command, cfg *capability.Configuration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration %q is valid\n", invstrings.TruncateDescription(cfg.Name, invstrings.DefaultDescriptionMaxLen))
	fmt.Fprintf(out, "  devices: %d\n", len(cfg.Devices))
	for _, name := range cfg.DeviceOrder() {
		fmt.Fprintf(out, "    - %s\n", name)
	}
	fmt.Fprintf(out, "  tests: %d\n", len(cfg.Tests))
	fmt.Fprintf(out, "  listeners: %d\n", len(cfg.Listeners))
	fmt.Fprintf(out, "  shard count: %d\n", shardCountOrOne(cfg.ShardCount))
	fmt.Fprintf(out, "  retry strategy: %s (max %d)\n", cfg.RetryStrategy, cfg.MaxRetries)
}

func shardCountOrOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
