package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the build
// version. invocore has no client/server split (unlike the teacher's
// aggregator), so there is no second "server version" to probe — just
// the binary that's running.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the invocore version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "invocore version %s\n", rootCmd.Version)
		},
	}
}
