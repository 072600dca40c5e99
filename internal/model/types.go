package model

import (
	"fmt"
	"sync"
)

// Device is the minimal identity surface the data model needs from a
// device handle. The full device capability (preInvocationSetup, reboot,
// log collection, ...) is defined by capability.Device, which embeds
// this interface — keeping the dependency edge one-directional
// (capability -> model, never the reverse).
type Device interface {
	Name() string
}

// DeviceDescriptor carries the immutable identity of an allocated device,
// independent of its live capability implementation.
type DeviceDescriptor struct {
	Serial    string
	Product   string
	BuildType string // e.g. "user", "userdebug", "eng"
}

// ConfigurationDescriptor is the immutable metadata of one invocation:
// which module it runs, under which ABI, shard and parameter variant.
type ConfigurationDescriptor struct {
	ModuleName   string
	Abi          string
	ShardIndex   int
	ParameterTag string
}

func (d ConfigurationDescriptor) String() string {
	if d.ParameterTag != "" {
		return fmt.Sprintf("%s[%s][%s#%d]", d.ModuleName, d.ParameterTag, d.Abi, d.ShardIndex)
	}
	return fmt.Sprintf("%s[%s#%d]", d.ModuleName, d.Abi, d.ShardIndex)
}

// ModuleInvocationContext is attached to an InvocationContext by the suite
// scheduler while a module is running, and cleared once the module ends.
type ModuleInvocationContext struct {
	ModuleName   string
	AttemptIndex int
}

// FileProvider lazily opens a build artifact; named files are not held
// open for the invocation's full lifetime.
type FileProvider func() (ReadCloser, error)

// ReadCloser mirrors io.ReadCloser without importing io here, so callers
// that only need the data-model layer don't pull in I/O concerns.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// BuildInfo is the build-artifact record attached to a device once the
// fetch phase resolves it. Per the invariant in spec §3, every field
// except Attributes is frozen once the fetch phase completes.
type BuildInfo struct {
	mu sync.RWMutex

	BuildID string
	Branch  string
	Flavor  string
	TestTag string

	attributes     map[string]string
	versionedFiles map[string]FileProvider
	properties     map[string]struct{}

	frozen bool
}

// NewBuildInfo constructs a BuildInfo. Attributes remain mutable for the
// life of the invocation; the remaining fields become immutable once
// Freeze is called.
func NewBuildInfo(buildID, branch, flavor, testTag string) *BuildInfo {
	return &BuildInfo{
		BuildID:        buildID,
		Branch:         branch,
		Flavor:         flavor,
		TestTag:        testTag,
		attributes:     make(map[string]string),
		versionedFiles: make(map[string]FileProvider),
		properties:     make(map[string]struct{}),
	}
}

// Freeze marks every field but Attributes as immutable. Called once the
// fetch phase completes successfully.
func (b *BuildInfo) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = true
}

// IsFrozen reports whether Freeze has been called.
func (b *BuildInfo) IsFrozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

// PutAttribute sets a build attribute. Attributes remain writable after
// Freeze — they are the one field the spec keeps mutable (e.g. for the
// shard merger to attach per-shard data after the fact).
func (b *BuildInfo) PutAttribute(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attributes[key] = value
}

// Attribute returns a build attribute value.
func (b *BuildInfo) Attribute(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.attributes[key]
	return v, ok
}

// Attributes returns a snapshot copy of all build attributes.
func (b *BuildInfo) Attributes() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.attributes))
	for k, v := range b.attributes {
		out[k] = v
	}
	return out
}

// SetVersionedFile registers a lazily-opened build artifact. Returns an
// error if the build info is frozen.
func (b *BuildInfo) SetVersionedFile(name string, provider FileProvider) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return fmt.Errorf("build info for %s is frozen: cannot add versioned file %q", b.BuildID, name)
	}
	b.versionedFiles[name] = provider
	return nil
}

// VersionedFile returns the provider for a named build artifact.
func (b *BuildInfo) VersionedFile(name string) (FileProvider, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.versionedFiles[name]
	return p, ok
}

// AddProperty adds a named flag to the build info's property set.
// Returns an error if the build info is frozen.
func (b *BuildInfo) AddProperty(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return fmt.Errorf("build info for %s is frozen: cannot add property %q", b.BuildID, name)
	}
	b.properties[name] = struct{}{}
	return nil
}

// HasProperty reports whether a named flag is set.
func (b *BuildInfo) HasProperty(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.properties[name]
	return ok
}

// Clone returns a deep copy, used when a build info must be attached to
// more than one device or context independently (e.g. synthesizing a
// placeholder build info after a fetch failure).
func (b *BuildInfo) Clone() *BuildInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clone := NewBuildInfo(b.BuildID, b.Branch, b.Flavor, b.TestTag)
	for k, v := range b.attributes {
		clone.attributes[k] = v
	}
	for k, v := range b.versionedFiles {
		clone.versionedFiles[k] = v
	}
	for k := range b.properties {
		clone.properties[k] = struct{}{}
	}
	return clone
}

// OrderedDeviceMap preserves device-allocation order; the first device
// inserted is the invocation's default device, per spec §3.
type OrderedDeviceMap struct {
	order []string
	byName map[string]Device
}

func newOrderedDeviceMap() *OrderedDeviceMap {
	return &OrderedDeviceMap{byName: make(map[string]Device)}
}

func (m *OrderedDeviceMap) put(name string, dev Device) error {
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("device %q already allocated", name)
	}
	m.byName[name] = dev
	m.order = append(m.order, name)
	return nil
}

func (m *OrderedDeviceMap) get(name string) (Device, bool) {
	d, ok := m.byName[name]
	return d, ok
}

func (m *OrderedDeviceMap) names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *OrderedDeviceMap) defaultName() (string, bool) {
	if len(m.order) == 0 {
		return "", false
	}
	return m.order[0], true
}

func (m *OrderedDeviceMap) len() int {
	return len(m.order)
}

// InvocationContext is the mutable identity bag of a single invocation
// (or shard sub-invocation), per spec §3.
type InvocationContext struct {
	mu sync.RWMutex

	devices    *OrderedDeviceMap
	buildInfos map[string]*BuildInfo
	attributes map[string][]string
	descriptor ConfigurationDescriptor
	module     *ModuleInvocationContext
}

// NewInvocationContext creates an empty context for the given
// configuration descriptor.
func NewInvocationContext(descriptor ConfigurationDescriptor) *InvocationContext {
	return &InvocationContext{
		devices:    newOrderedDeviceMap(),
		buildInfos: make(map[string]*BuildInfo),
		attributes: make(map[string][]string),
		descriptor: descriptor,
	}
}

// AllocateDevice registers a device handle under name. The first call
// establishes the invocation's default device.
func (c *InvocationContext) AllocateDevice(name string, dev Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices.put(name, dev)
}

// Device returns the device handle registered under name.
func (c *InvocationContext) Device(name string) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices.get(name)
}

// DeviceNames returns allocated device names in allocation order.
func (c *InvocationContext) DeviceNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices.names()
}

// DefaultDeviceName returns the first-allocated device name.
func (c *InvocationContext) DefaultDeviceName() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices.defaultName()
}

// DeviceCount returns the number of allocated devices.
func (c *InvocationContext) DeviceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices.len()
}

// SetBuildInfo attaches a build info to an already-allocated device.
// Enforces the invariant that every deviceBuildInfos key also appears
// in allocatedDevices.
func (c *InvocationContext) SetBuildInfo(deviceName string, bi *BuildInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices.get(deviceName); !ok {
		return fmt.Errorf("cannot attach build info to unallocated device %q", deviceName)
	}
	c.buildInfos[deviceName] = bi
	return nil
}

// BuildInfo returns the build info attached to a device, if any.
func (c *InvocationContext) BuildInfo(deviceName string) (*BuildInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bi, ok := c.buildInfos[deviceName]
	return bi, ok
}

// AllBuildInfos returns a snapshot of device name -> build info.
func (c *InvocationContext) AllBuildInfos() map[string]*BuildInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*BuildInfo, len(c.buildInfos))
	for k, v := range c.buildInfos {
		out[k] = v
	}
	return out
}

// PutAttribute appends a value to the invocation's attribute multimap.
// Attributes are append-only for the duration of an invocation.
func (c *InvocationContext) PutAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[key] = append(c.attributes[key], value)
}

// Attributes returns the values for key, in insertion order.
func (c *InvocationContext) Attributes(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.attributes[key]
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// SetAttribute replaces every existing value for key with a single
// value. Unlike PutAttribute, this does not append — it exists only for
// the shard merger's finalize step (spec §4.5), which computes one
// deterministic final value per key (a decimal sum or a last-writer-wins
// pick) across all shards and needs to commit it without duplicating
// whatever the main context's own shard run already contributed.
// Ordinary invocation code should use PutAttribute's append semantics.
func (c *InvocationContext) SetAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[key] = []string{value}
}

// AllAttributes returns a deep copy of the full attribute multimap.
func (c *InvocationContext) AllAttributes() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.attributes))
	for k, v := range c.attributes {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Descriptor returns the configuration descriptor this context was
// created for.
func (c *InvocationContext) Descriptor() ConfigurationDescriptor {
	return c.descriptor
}

// SetModuleContext records the module currently running under a suite.
func (c *InvocationContext) SetModuleContext(mc *ModuleInvocationContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.module = mc
}

// ModuleContext returns the module context, if one was set.
func (c *InvocationContext) ModuleContext() *ModuleInvocationContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.module
}

// NewShardContext derives a sub-invocation context for shard shardIndex
// of shardCount, sharing this context's allocated devices (the physical
// lab resources) but starting with fresh attributes and build infos, as
// each shard fetches and mutates its own build info copies.
func (c *InvocationContext) NewShardContext(shardIndex, shardCount int) *InvocationContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	descriptor := c.descriptor
	descriptor.ShardIndex = shardIndex

	child := NewInvocationContext(descriptor)
	for _, name := range c.devices.order {
		dev, _ := c.devices.get(name)
		_ = child.AllocateDevice(name, dev)
	}
	return child
}

// RetryStrategy names a RetryDecision policy, per spec §3/§4.3.
type RetryStrategy string

const (
	RetryNone            RetryStrategy = "NO_RETRY"
	RetryIterations      RetryStrategy = "ITERATIONS"
	RetryAnyFailure      RetryStrategy = "RETRY_ANY_FAILURE"
	RetryRerunUntilFail  RetryStrategy = "RERUN_UNTIL_FAILURE"
)

// RetryContext is the state consulted and updated by RetryDecision
// between test-case-run attempts.
type RetryContext struct {
	AttemptsRemaining int
	Strategy          RetryStrategy
	MaxAttempts       int
	ShouldAutoRetry   bool
}

// LogFile is the opaque handle a LogSaver returns once a log stream has
// been persisted.
type LogFile struct {
	Path     string
	URL      string
	DataType string
}

// ShardEnvelope is the ShardMainMerger's per-run accumulator.
type ShardEnvelope struct {
	ShardIndex               int
	ShardCount               int
	SubContext               *InvocationContext
	BuildAttributesPerDevice map[string]map[string]string
	GroupedAttributes        map[string]string
}
