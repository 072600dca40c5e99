// Package listener implements ResultForwarder and LogSaverResultForwarder:
// the fan-out layer that relays TestInvocationListener callbacks to every
// registered downstream listener, and the log-persistence wrapper that
// de-duplicates log association on top of it. Spec §4.4.
package listener

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/pkg/logging"
)

// Forwarder relays every TestInvocationListener callback to each
// registered downstream listener in registration order. A panic or
// error from one listener is caught and logged; it never stops delivery
// to the others — a broken log listener should not also break JUnit
// output.
type Forwarder struct {
	mu        sync.RWMutex
	listeners []capability.TestInvocationListener
	frozen    bool
}

// NewForwarder returns an empty Forwarder.
func NewForwarder() *Forwarder {
	return &Forwarder{}
}

// AddListener registers a downstream listener. Returns an error once the
// forwarder has been frozen (spec §5: listener registration is only
// valid before the test phase begins, since tests may run concurrently
// across shards once it starts).
func (f *Forwarder) AddListener(l capability.TestInvocationListener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return fmt.Errorf("forwarder is frozen: cannot add listener after test phase has begun")
	}
	f.listeners = append(f.listeners, l)
	return nil
}

// Freeze prevents further AddListener calls. Called once at the start
// of the test phase.
func (f *Forwarder) Freeze() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen = true
}

func (f *Forwarder) snapshot() []capability.TestInvocationListener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]capability.TestInvocationListener, len(f.listeners))
	copy(out, f.listeners)
	return out
}

func (f *Forwarder) forEach(name string, fn func(capability.TestInvocationListener)) {
	for _, l := range f.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("listener", fmt.Errorf("%v", r), "listener panicked in %s", name)
				}
			}()
			fn(l)
		}()
	}
}

func (f *Forwarder) InvocationStarted(invocationCtx *model.InvocationContext) {
	f.forEach("InvocationStarted", func(l capability.TestInvocationListener) { l.InvocationStarted(invocationCtx) })
}

func (f *Forwarder) InvocationFailed(failure *model.FailureDescription) {
	f.forEach("InvocationFailed", func(l capability.TestInvocationListener) { l.InvocationFailed(failure) })
}

func (f *Forwarder) InvocationEnded(elapsedTime time.Duration) {
	f.forEach("InvocationEnded", func(l capability.TestInvocationListener) { l.InvocationEnded(elapsedTime) })
}

func (f *Forwarder) TestModuleStarted(descriptor model.ConfigurationDescriptor) {
	f.forEach("TestModuleStarted", func(l capability.TestInvocationListener) { l.TestModuleStarted(descriptor) })
}

func (f *Forwarder) TestModuleEnded() {
	f.forEach("TestModuleEnded", func(l capability.TestInvocationListener) { l.TestModuleEnded() })
}

func (f *Forwarder) TestRunStarted(runName string, testCount int, attemptNumber int) {
	f.forEach("TestRunStarted", func(l capability.TestInvocationListener) { l.TestRunStarted(runName, testCount, attemptNumber) })
}

func (f *Forwarder) TestRunFailed(failure *model.FailureDescription) {
	f.forEach("TestRunFailed", func(l capability.TestInvocationListener) { l.TestRunFailed(failure) })
}

func (f *Forwarder) TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string) {
	f.forEach("TestRunEnded", func(l capability.TestInvocationListener) { l.TestRunEnded(elapsedTime, runMetrics) })
}

func (f *Forwarder) TestStarted(test capability.TestDescription) {
	f.forEach("TestStarted", func(l capability.TestInvocationListener) { l.TestStarted(test) })
}

func (f *Forwarder) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	f.forEach("TestFailed", func(l capability.TestInvocationListener) { l.TestFailed(test, failure) })
}

func (f *Forwarder) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
	f.forEach("TestEnded", func(l capability.TestInvocationListener) { l.TestEnded(test, testMetrics) })
}

// TestLog hands every downstream listener its own fresh reader over the
// same bytes: io.Reader is stateful, so sharing one reader across a
// fan-out would leave every listener after the first one to actually
// read it with an exhausted stream.
func (f *Forwarder) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
	buf, err := io.ReadAll(data)
	if err != nil {
		logging.Error("listener", err, "failed to buffer log %q for fan-out", dataName)
		return
	}
	f.forEach("TestLog", func(l capability.TestInvocationListener) {
		l.TestLog(dataName, dataType, bytes.NewReader(buf))
	})
}

func (f *Forwarder) LogAssociation(dataName string, logFile model.LogFile) {
	f.forEach("LogAssociation", func(l capability.TestInvocationListener) { l.LogAssociation(dataName, logFile) })
}

// TestLogSaved fans TestLogSaved out to every downstream listener that
// advertises the LogSaverListener mix-in, each with its own fresh reader
// over the same persisted bytes. Spec §4.4 step 3.
func (f *Forwarder) TestLogSaved(dataName string, dataType capability.LogDataType, data io.Reader, logFile model.LogFile) {
	buf, err := io.ReadAll(data)
	if err != nil {
		logging.Error("listener", err, "failed to buffer saved log %q for fan-out", dataName)
		return
	}
	f.forEach("TestLogSaved", func(l capability.TestInvocationListener) {
		if sl, ok := l.(capability.LogSaverListener); ok {
			sl.TestLogSaved(dataName, dataType, bytes.NewReader(buf), logFile)
		}
	})
}

var _ capability.TestInvocationListener = (*Forwarder)(nil)
