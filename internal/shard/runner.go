package shard

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"invocore/internal/capability"
	"invocore/internal/invocation"
	"invocore/internal/model"
	"invocore/pkg/logging"
)

// Plan is one shard's share of a split module: its own InvocationContext
// (see model.InvocationContext.NewShardContext) and Configuration.
type Plan struct {
	ShardIndex int
	Context    *model.InvocationContext
	Config     *capability.Configuration
}

// Runner drives a set of shard Plans against a Merger, per §5's "each
// shard runs on its own thread/process; between shards there is no
// ordering, ordering is restored only at the ShardMainMerger."
type Runner struct {
	Merger *Merger
}

// NewRunner wraps an already-constructed Merger in a Runner.
func NewRunner(merger *Merger) *Runner {
	return &Runner{Merger: merger}
}

// InProcess runs every plan on its own goroutine against the Merger,
// the default shard execution mode. It collects and returns every
// shard's error rather than cancelling siblings on first failure —
// §5 extends the pre-invocation-setup "let remaining work finish"
// collection rule to sharded execution, since one shard's device
// trouble says nothing about another shard's device.
func (r *Runner) InProcess(ctx context.Context, plans []Plan) []error {
	errs := make([]error, len(plans))
	var g errgroup.Group
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			sink := r.Merger.Shard(plan.ShardIndex)
			exec := invocation.New(plan.Context, plan.Config, sink)
			errs[i] = exec.Invoke(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// SubProcessBinary is the path to the invocore binary SubProcess execs
// for each shard; overridable by cmd/ wiring, defaulting to the
// currently-running executable.
var SubProcessBinary = func() string {
	path, err := os.Executable()
	if err != nil {
		return "invocore"
	}
	return path
}()

// SubProcess runs one shard plan as a child `invocore shard-worker`
// process, grounded on internal/invocation.RunRemote: the child drives
// the exact same Execution machinery as InProcess, the only difference
// being that its failures cross the process boundary serialized in
// spec §7's compact key/value wire format instead of as in-process
// Go values. configPath is the path to plan.Config already serialized
// to disk (the wire format a real ShardRunner.SubProcess would pass a
// child is a config-file path, the same contract cmd/run.go already
// exposes for a top-level invocation).
func (r *Runner) SubProcess(ctx context.Context, plan Plan, configPath string) error {
	cmd := exec.CommandContext(ctx, SubProcessBinary, "shard-worker",
		"--config", configPath,
		"--shard-index", fmt.Sprintf("%d", plan.ShardIndex),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("shard %d: creating stdout pipe: %w", plan.ShardIndex, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("shard %d: starting sub-process: %w", plan.ShardIndex, err)
	}

	sink := r.Merger.Shard(plan.ShardIndex)
	sink.InvocationStarted(plan.Context)

	var lastFailure *model.FailureDescription
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fd, err := model.DecodeFailure(line)
		if err != nil {
			logging.Warn(subsystem, "shard %d: unparseable wire line %q: %v", plan.ShardIndex, line, err)
			continue
		}
		lastFailure = fd
		sink.TestRunFailed(fd)
	}
	if err := scanner.Err(); err != nil {
		logging.Error(subsystem, err, "shard %d: reading wire stream", plan.ShardIndex)
	}

	waitErr := cmd.Wait()
	sink.InvocationEnded(0)

	if waitErr != nil {
		if lastFailure != nil {
			return fmt.Errorf("shard %d exited with an error (last reported failure: %s): %w", plan.ShardIndex, lastFailure.Message, waitErr)
		}
		return fmt.Errorf("shard %d: %w (stderr: %s)", plan.ShardIndex, waitErr, stderr.String())
	}
	return nil
}
