// Package testdevice provides an in-process fake Device and
// BuildProvider for exercising internal/invocation and internal/suite
// without real lab hardware — used by this module's own tests, by the
// --fake-devices flag of `invocore run`, `suite` and `shard-worker`, and
// by the "fake" build provider in cmd/registry.go. Grounded on the
// teacher's internal/testing mock patterns (mock_manager.go-style fakes
// that record calls for assertions).
package testdevice

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// Device is an in-memory stand-in for a real lab device.
type Device struct {
	mu sync.Mutex

	name       string
	descriptor model.DeviceDescriptor
	options    map[string]string

	RebootCount         int
	PreInvocationErr    error
	PostInvocationErr   error
	RebootErr           error
	BugreportErr        error
	PreInvocationCalled bool
}

// New returns a fake device identified by name.
func New(name string, descriptor model.DeviceDescriptor) *Device {
	return &Device{name: name, descriptor: descriptor, options: make(map[string]string)}
}

func (d *Device) Name() string { return d.name }

func (d *Device) GetDeviceDescriptor() model.DeviceDescriptor { return d.descriptor }

func (d *Device) GetOptions() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.options))
	for k, v := range d.options {
		out[k] = v
	}
	return out
}

// SetOption records a device option, the fake equivalent of a lab
// device's provisioned properties.
func (d *Device) SetOption(k, v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.options[k] = v
}

func (d *Device) PreInvocationSetup(ctx context.Context, build *model.BuildInfo, listener capability.TestInvocationListener) error {
	d.mu.Lock()
	d.PreInvocationCalled = true
	d.mu.Unlock()
	return d.PreInvocationErr
}

func (d *Device) PostInvocationTearDown(ctx context.Context, cause error) error {
	return d.PostInvocationErr
}

func (d *Device) LogBugreport(ctx context.Context, dataName string, listener capability.TestInvocationListener) error {
	if d.BugreportErr != nil {
		return d.BugreportErr
	}
	listener.TestLog(dataName, capability.LogDataBugreport, strings.NewReader("fake bugreport for "+d.name))
	return nil
}

func (d *Device) Reboot(ctx context.Context) error {
	d.mu.Lock()
	d.RebootCount++
	d.mu.Unlock()
	return d.RebootErr
}

var _ capability.Device = (*Device)(nil)

// BuildProvider is an in-memory BuildProvider returning a fixed
// BuildInfo (or a configured error) for every fetch.
type BuildProvider struct {
	mu sync.Mutex

	BuildID string
	FetchErr error

	cleanUpCalls int
}

// NewBuildProvider returns a BuildProvider that always resolves to a
// build stamped with buildID.
func NewBuildProvider(buildID string) *BuildProvider {
	return &BuildProvider{BuildID: buildID}
}

func (p *BuildProvider) GetBuild(ctx context.Context, descriptor model.ConfigurationDescriptor) (*model.BuildInfo, error) {
	if p.FetchErr != nil {
		return nil, fmt.Errorf("testdevice: fetch failed for %s: %w", descriptor.String(), p.FetchErr)
	}
	bi := model.NewBuildInfo(p.BuildID, "main", "userdebug", descriptor.ModuleName)
	bi.PutAttribute("module", descriptor.ModuleName)
	return bi, nil
}

func (p *BuildProvider) CleanUp(build *model.BuildInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanUpCalls++
}

// CleanUpCalls reports how many times CleanUp has run, for test
// assertions that build cleanup actually happens once per invocation.
func (p *BuildProvider) CleanUpCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanUpCalls
}

var _ capability.BuildProvider = (*BuildProvider)(nil)

// DiscardLogSaver is a capability.LogSaver that discards log bytes and
// returns a synthetic LogFile, for tests that don't care about log
// persistence.
type DiscardLogSaver struct{}

func (DiscardLogSaver) SaveLogData(dataName string, dataType capability.LogDataType, data io.Reader) (model.LogFile, error) {
	_, _ = io.Copy(io.Discard, data)
	return model.LogFile{Path: "/dev/null/" + dataName, DataType: string(dataType)}, nil
}

var _ capability.LogSaver = DiscardLogSaver{}
