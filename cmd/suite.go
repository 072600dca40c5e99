package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"invocore/internal/capability"
	"invocore/internal/config"
	"invocore/internal/listener"
	"invocore/internal/model"
	"invocore/internal/suite"
	"invocore/pkg/logging"
	"invocore/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func newSuiteCmd() *cobra.Command {
	var fakeDevices bool
	var junitOut string
	var jsonOut string
	var reportSystemCheckers bool

	cmd := &cobra.Command{
		Use:   "suite <suite-dir>",
		Short: "Sequence every module configuration in a directory as one suite",
		Long: `suite loads every *.yaml file in suite-dir as one module's
Configuration (sorted by filename, since module order is semantically
load bearing), expands each into its abi/parameterization variants and
runs them in order through a single SuiteScheduler, recovering from a
lost device by skipping the remaining modules rather than aborting the
whole process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd.Context(), args[0], suiteOptions{
				fakeDevices:          fakeDevices,
				junitOut:             junitOut,
				jsonOut:              jsonOut,
				reportSystemCheckers: reportSystemCheckers,
			})
		},
	}
	cmd.Flags().BoolVar(&fakeDevices, "fake-devices", false, "wire in-memory fake devices instead of a real device backend")
	cmd.Flags().StringVar(&junitOut, "junit-out", "", "write a JUnit XML report to this path")
	cmd.Flags().StringVar(&jsonOut, "json-out", "", "write a JSON report to this path")
	cmd.Flags().BoolVar(&reportSystemCheckers, "report-system-checkers", true, "report a synthetic run for a failed system status checker instead of only logging it")
	return cmd
}

type suiteOptions struct {
	fakeDevices          bool
	junitOut             string
	jsonOut              string
	reportSystemCheckers bool
}

func runSuite(ctx context.Context, dir string, opts suiteOptions) error {
	defs, err := loadSuiteDefinitions(dir, buildRegistry(opts.fakeDevices))
	if err != nil {
		return &configValidationError{cause: err}
	}

	commandOptions := mergeCommandOptions(defs)
	abiOpts := suite.ABIOptionsFromCommandOptions(commandOptions)
	modules := suite.Expand(defs, abiOpts)

	topCtx := model.NewInvocationContext(model.ConfigurationDescriptor{ModuleName: filepath.Base(dir)})
	if abiOpts.RandomSeed != nil {
		topCtx.PutAttribute("random-seed", fmt.Sprintf("%d", *abiOpts.RandomSeed))
	}
	devices := make(map[string]capability.Device)
	for _, def := range defs {
		for _, name := range def.Configuration.DeviceOrder() {
			if _, ok := devices[name]; ok {
				continue
			}
			if err := allocateOneDevice(topCtx, name, def.Configuration, opts.fakeDevices); err != nil {
				return &configValidationError{cause: err}
			}
			dev, _ := topCtx.Device(name)
			if capDev, ok := dev.(capability.Device); ok {
				devices[name] = capDev
			}
		}
	}

	fwd := listener.NewForwarder()
	junit := listener.NewJUnitListener()
	jsonL := listener.NewJSONListener()
	if opts.junitOut != "" {
		_ = fwd.AddListener(junit)
	}
	if opts.jsonOut != "" {
		_ = fwd.AddListener(jsonL)
	}
	fwd.Freeze()

	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	schedulerConfig := suite.SchedulerConfigFromCommandOptions(commandOptions, suite.SchedulerConfig{
		ReportSystemCheckers: opts.reportSystemCheckers,
	})
	sched := suite.New(fwd, logRecorder{}, metricsRegistry, schedulerConfig)

	runErr := sched.Run(ctx, topCtx, devices, modules)

	if opts.junitOut != "" {
		if err := writeReport(opts.junitOut, junit.WriteTo); err != nil {
			logging.Error("suite", err, "failed to write JUnit report")
		}
	}
	if opts.jsonOut != "" {
		if err := writeReport(opts.jsonOut, jsonL.WriteTo); err != nil {
			logging.Error("suite", err, "failed to write JSON report")
		}
	}
	return runErr
}

// loadSuiteDefinitions loads every *.yaml file directly under dir as one
// module Configuration, sorted by filename.
func loadSuiteDefinitions(dir string, reg *config.Registry) ([]suite.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading suite directory %q: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".yaml" || filepath.Ext(e.Name()) == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]suite.Definition, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		cfg, err := config.Load(path, reg, nil)
		if err != nil {
			return nil, err
		}
		defs = append(defs, suite.Definition{Name: cfg.Name, Configuration: cfg})
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("suite directory %q has no *.yaml module configurations", dir)
	}
	return defs, nil
}

// mergeCommandOptions aggregates every module's CommandOptions into one
// suite-wide map for the abi-expansion and module-prep options spec §6
// treats as suite-level settings (abi, random-seed, reboot-per-module,
// and the like) rather than per-module ones. Later files win on key
// collision, matching loadSuiteDefinitions' filename sort order.
func mergeCommandOptions(defs []suite.Definition) capability.CommandOptions {
	merged := capability.CommandOptions{}
	for _, def := range defs {
		for k, v := range def.Configuration.CommandOptions {
			merged[k] = v
		}
	}
	return merged
}

func allocateOneDevice(ctx *model.InvocationContext, name string, cfg *capability.Configuration, fake bool) error {
	single := &capability.Configuration{Devices: map[string]capability.DeviceSpec{name: cfg.Devices[name]}}
	return allocateDevices(ctx, single, fake)
}

func writeReport(path string, writeTo func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeTo(f)
}
