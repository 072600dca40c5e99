package invocation

import (
	"context"
	"io"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/pkg/logging"
)

// wireListener wraps a TestInvocationListener, additionally encoding
// every FailureDescription-bearing callback to out in spec §7's compact
// key/value wire format. A sub-process shard uses this to report its
// failures back to the parent ShardRunner.SubProcess without the parent
// having to parse free-form log text.
type wireListener struct {
	capability.TestInvocationListener
	out io.Writer
}

func newWireListener(downstream capability.TestInvocationListener, out io.Writer) *wireListener {
	return &wireListener{TestInvocationListener: downstream, out: out}
}

func (w *wireListener) InvocationFailed(failure *model.FailureDescription) {
	w.encode(failure)
	w.TestInvocationListener.InvocationFailed(failure)
}

func (w *wireListener) TestRunFailed(failure *model.FailureDescription) {
	w.encode(failure)
	w.TestInvocationListener.TestRunFailed(failure)
}

func (w *wireListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	w.encode(failure)
	w.TestInvocationListener.TestFailed(test, failure)
}

func (w *wireListener) encode(f *model.FailureDescription) {
	if err := model.EncodeFailure(w.out, f); err != nil {
		logging.Error(subsystem, err, "failed to encode failure to sub-process wire stream")
	}
}

// RunRemote drives invCtx/cfg through exactly the same phase sequence as
// Invoke, the difference being purely at the listener boundary: every
// failure is additionally streamed to out in the wire format a parent
// ShardRunner.SubProcess reads from the child's stdout. This is the Go
// shape of §4.1's "remote invocation variant" note — since Go has no
// method-override-by-subclassing, the variant is expressed as a thin
// wrapper function composing the same *Execution the in-process path
// uses, grounded on the teacher's cmd/*.go pattern of thin wrappers
// around one shared engine.
func RunRemote(ctx context.Context, invCtx *model.InvocationContext, cfg *capability.Configuration, downstream capability.TestInvocationListener, out io.Writer) error {
	exec := New(invCtx, cfg, newWireListener(downstream, out))
	return exec.Invoke(ctx)
}

var _ capability.TestInvocationListener = (*wireListener)(nil)
