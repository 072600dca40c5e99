// Package collector implements the named auto-collector presets spec
// §4.1 phase 4 describes: "Auto-collectors (named presets like
// screenshot-on-failure, logcat-on-failure, GC-verification) are
// appended to the collector list just before runtime." Each preset
// wraps the listener chain with a capability.MetricCollector that
// watches for test failures (or, for GC-verification, end-of-test
// metrics) and captures diagnostic data through whatever device
// capability is already available, rather than inventing new device
// surface for it.
package collector

import (
	"context"
	"fmt"
	"strings"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// Names of the three presets spec §4.1 names explicitly.
const (
	NameScreenshotOnFailure = "screenshot-on-failure"
	NameLogcatOnFailure     = "logcat-on-failure"
	NameGCVerification      = "gc-verification"
)

// onFailureCapture is a capability.MetricCollector that, on every
// TestFailed, captures a bugreport-shaped log tagged under its own
// dataName so screenshot-on-failure and logcat-on-failure each leave a
// distinguishable log entry — this engine's only device-level capture
// primitive is Device.LogBugreport, so both presets invoke it under
// their own logical name rather than requiring a device capability
// neither the spec nor any Device implementation in this pack exposes.
type onFailureCapture struct {
	name    string
	devices map[string]capability.Device
}

// NewScreenshotOnFailure returns the screenshot-on-failure auto-collector.
func NewScreenshotOnFailure(devices map[string]capability.Device) capability.MetricCollector {
	return &onFailureCapture{name: NameScreenshotOnFailure, devices: devices}
}

// NewLogcatOnFailure returns the logcat-on-failure auto-collector.
func NewLogcatOnFailure(devices map[string]capability.Device) capability.MetricCollector {
	return &onFailureCapture{name: NameLogcatOnFailure, devices: devices}
}

func (c *onFailureCapture) Init(invocationCtx *model.InvocationContext, listener capability.TestInvocationListener) capability.TestInvocationListener {
	return &onFailureCaptureListener{onFailureCapture: c, TestInvocationListener: listener, invocationCtx: invocationCtx}
}

type onFailureCaptureListener struct {
	*onFailureCapture
	capability.TestInvocationListener
	invocationCtx *model.InvocationContext
}

func (l *onFailureCaptureListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	l.TestInvocationListener.TestFailed(test, failure)

	name, ok := l.invocationCtx.DefaultDeviceName()
	if !ok {
		return
	}
	dev, ok := l.devices[name]
	if !ok {
		return
	}
	dataName := fmt.Sprintf("%s-%s", l.name, test.String())
	_ = dev.LogBugreport(context.Background(), dataName, l.TestInvocationListener)
}

var _ capability.MetricCollector = (*onFailureCapture)(nil)

// gcVerification is a capability.MetricCollector that inspects each
// test's reported metrics for a "gc_count" entry and fails the
// invocation-visible log stream with a diagnostic note when the count
// exceeds Threshold, catching a regression a test's own pass/fail
// result wouldn't otherwise flag.
type gcVerification struct {
	Threshold int
}

// NewGCVerification returns the GC-verification auto-collector, flagging
// any test whose reported "gc_count" metric exceeds threshold.
func NewGCVerification(threshold int) capability.MetricCollector {
	return &gcVerification{Threshold: threshold}
}

func (g *gcVerification) Init(invocationCtx *model.InvocationContext, listener capability.TestInvocationListener) capability.TestInvocationListener {
	return &gcVerificationListener{gcVerification: g, TestInvocationListener: listener}
}

type gcVerificationListener struct {
	*gcVerification
	capability.TestInvocationListener
}

func (l *gcVerificationListener) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
	l.TestInvocationListener.TestEnded(test, testMetrics)

	count, ok := parseGCCount(testMetrics)
	if !ok || count <= l.Threshold {
		return
	}
	note := fmt.Sprintf("gc_count=%d exceeds threshold %d for %s", count, l.Threshold, test.String())
	l.TestInvocationListener.TestLog(NameGCVerification+"-"+test.String(), capability.LogDataText, strings.NewReader(note))
}

var _ capability.MetricCollector = (*gcVerification)(nil)

func parseGCCount(metrics map[string]string) (int, bool) {
	raw, ok := metrics["gc_count"]
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Presets returns the three named auto-collectors spec §4.1 phase 4
// lists, scoped to devices for the device-capture presets. Appended to
// a module's MetricCollectors just before the Init loop runs.
func Presets(devices map[string]capability.Device) []capability.MetricCollector {
	return []capability.MetricCollector{
		NewScreenshotOnFailure(devices),
		NewLogcatOnFailure(devices),
		NewGCVerification(0),
	}
}
