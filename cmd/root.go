package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"invocore/internal/model"
)

// Exit codes for CLI commands, redesigned around spec §7's
// Classification taxonomy rather than the teacher's auth-specific
// codes: a caller scripting around invocore needs to tell "the run
// itself failed" apart from "the device/lab was lost" apart from
// "nothing ran at all because the configuration was bad."
const (
	// ExitCodeSuccess indicates the invocation or suite completed with
	// every module either passing or failing cleanly (test failures are
	// reported, not a CLI error).
	ExitCodeSuccess = 0
	// ExitCodeError is a general error: bad arguments, an unhandled
	// failure not classified below.
	ExitCodeError = 1
	// ExitCodeConfigInvalid indicates the Configuration file failed
	// validation or plugin resolution before anything could run.
	ExitCodeConfigInvalid = 2
	// ExitCodeLostSystemUnderTest indicates a device was lost mid-run
	// (model.ClassificationLostSystemUnderTest) and the invocation or
	// suite aborted as a result.
	ExitCodeLostSystemUnderTest = 3
)

// rootCmd is the entry point when invocore is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "invocore",
	Short: "Drive on-device test-harness invocations and suites",
	Long: `invocore runs a resolved test-harness invocation (devices, build,
setup/teardown, tests, listeners) through its lifecycle, sequences
suites of modules across shards, and reports results to JUnit, JSON and
log-backed listeners.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from
// main.main() with a build-time-injected version string.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and translates a returned error into an
// exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "invocore version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error returned from a subcommand to the exit code
// scheme above, unwrapping a *model.FailureDescription's Classification
// when present.
func getExitCode(err error) int {
	var fd *model.FailureDescription
	if errors.As(err, &fd) {
		if fd.Classification == model.ClassificationLostSystemUnderTest {
			return ExitCodeLostSystemUnderTest
		}
	}
	var configErr *configValidationError
	if errors.As(err, &configErr) {
		return ExitCodeConfigInvalid
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSuiteCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newShardWorkerCmd())
}
