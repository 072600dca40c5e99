// Package shard implements ShardMainMerger (spec §4.5) and the shard
// execution variants (§5's "each shard runs on its own thread/process")
// that drive N parallel InvocationExecutions and unify their streams
// into one canonical outer stream. Grounded on
// internal/listener.Forwarder for the fan-out shape and on
// internal/invocation.RunRemote for the sub-process variant.
package shard

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

const subsystem = "shard"

// defaultSumAggregatedGroups is the one sum-aggregated group name the
// spec calls out by example.
var defaultSumAggregatedGroups = []string{"TEST_TYPE_COUNT"}

// Merger implements ShardMainMerger: it sits downstream of every
// shard's InvocationExecution and presents a single invocationStarted/
// invocationEnded pair (plus everything in between, passed straight
// through) to the listeners actually registered for the whole run.
// Spec §4.5.
type Merger struct {
	downstream          capability.TestInvocationListener
	sumAggregatedGroups []string

	mu             sync.Mutex
	remaining      int
	mainStarted    bool
	mainShardIndex int
	maxElapsed     time.Duration
	shardContexts  map[int]*model.InvocationContext
}

// New builds a Merger expecting expectedShardCount shards to report.
// sumAggregatedGroups names the attribute-group prefixes (the part of a
// "<group>:<tag>" key before the colon) whose values are summed rather
// than last-writer-wins across shards; nil defaults to
// {"TEST_TYPE_COUNT"} per §4.5.
func New(downstream capability.TestInvocationListener, expectedShardCount int, sumAggregatedGroups []string) *Merger {
	if sumAggregatedGroups == nil {
		sumAggregatedGroups = defaultSumAggregatedGroups
	}
	return &Merger{
		downstream:          downstream,
		sumAggregatedGroups: sumAggregatedGroups,
		remaining:           expectedShardCount,
		shardContexts:       make(map[int]*model.InvocationContext),
	}
}

// Shard returns the TestInvocationListener one shard's
// InvocationExecution reports to. shardIndex must be unique per shard
// and match the index the shard's own InvocationContext carries.
func (m *Merger) Shard(shardIndex int) capability.TestInvocationListener {
	return &shardSink{merger: m, shardIndex: shardIndex}
}

// shardSink is the per-shard adapter: InvocationStarted/InvocationEnded
// are intercepted for merging, everything else passes straight through
// to the downstream listener under the merger's mutex, since sharded
// test-level callbacks may arrive from concurrent shard goroutines and
// most downstream listeners (JUnit/JSON exporters, loggers) are not
// themselves safe for concurrent calls.
type shardSink struct {
	merger     *Merger
	shardIndex int
}

func (s *shardSink) InvocationStarted(invocationCtx *model.InvocationContext) {
	s.merger.handleStarted(s.shardIndex, invocationCtx)
}

func (s *shardSink) InvocationFailed(failure *model.FailureDescription) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.InvocationFailed(failure) })
}

func (s *shardSink) InvocationEnded(elapsedTime time.Duration) {
	s.merger.handleEnded(s.shardIndex, elapsedTime)
}

func (s *shardSink) TestModuleStarted(descriptor model.ConfigurationDescriptor) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestModuleStarted(descriptor) })
}

func (s *shardSink) TestModuleEnded() {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestModuleEnded() })
}

func (s *shardSink) TestRunStarted(runName string, testCount int, attemptNumber int) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestRunStarted(runName, testCount, attemptNumber) })
}

func (s *shardSink) TestRunFailed(failure *model.FailureDescription) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestRunFailed(failure) })
}

func (s *shardSink) TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestRunEnded(elapsedTime, runMetrics) })
}

func (s *shardSink) TestStarted(test capability.TestDescription) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestStarted(test) })
}

func (s *shardSink) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestFailed(test, failure) })
}

func (s *shardSink) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestEnded(test, testMetrics) })
}

func (s *shardSink) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.TestLog(dataName, dataType, data) })
}

func (s *shardSink) LogAssociation(dataName string, logFile model.LogFile) {
	s.merger.forward(func(l capability.TestInvocationListener) { l.LogAssociation(dataName, logFile) })
}

var _ capability.TestInvocationListener = (*shardSink)(nil)

func (m *Merger) forward(fn func(capability.TestInvocationListener)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.downstream)
}

// handleStarted records shardIndex's context. The first shard to report
// becomes the main context and is forwarded immediately, per §4.5's
// "the first invocationStarted carries the main context and is
// forwarded immediately." Every other shard's context is held until
// finalize.
func (m *Merger) handleStarted(shardIndex int, ctx *model.InvocationContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shardContexts[shardIndex] = ctx
	if !m.mainStarted {
		m.mainStarted = true
		m.mainShardIndex = shardIndex
		m.downstream.InvocationStarted(ctx)
	}
}

// handleEnded decrements the outstanding-shard counter; once every
// shard has ended, it merges every shard's attributes into the main
// context and emits exactly one invocationEnded downstream.
func (m *Merger) handleEnded(shardIndex int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elapsed > m.maxElapsed {
		m.maxElapsed = elapsed
	}
	m.remaining--
	if m.remaining > 0 {
		return
	}
	m.finalizeLocked()
}

// finalizeLocked performs the §4.5 merge once every shard has reported.
// Called with mu held.
func (m *Merger) finalizeLocked() {
	mainCtx, ok := m.shardContexts[m.mainShardIndex]
	if !ok {
		return
	}

	indices := make([]int, 0, len(m.shardContexts))
	for idx := range m.shardContexts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		if idx == m.mainShardIndex {
			continue
		}
		mergeBuildAttributes(mainCtx, m.shardContexts[idx])
	}
	mergeGroupAttributes(mainCtx, m.shardContexts, indices, m.sumAggregatedGroups)

	m.downstream.InvocationEnded(m.maxElapsed)
}

// mergeBuildAttributes implements §4.5 rule 1: for every device name
// present in main, copy every build attribute from shard's matching
// device build-info into main's. A device name shard doesn't share with
// main is dropped, exactly as the spec specifies.
func mergeBuildAttributes(main, shardCtx *model.InvocationContext) {
	for _, deviceName := range main.DeviceNames() {
		shardBI, ok := shardCtx.BuildInfo(deviceName)
		if !ok {
			continue
		}
		mainBI, ok := main.BuildInfo(deviceName)
		if !ok {
			continue
		}
		for k, v := range shardBI.Attributes() {
			mainBI.PutAttribute(k, v)
		}
	}
}

// mergeGroupAttributes implements §4.5 rule 2: keys of a declared
// sum-aggregated group are the decimal sum of every shard's value for
// that exact key; every other key is last-writer-wins in shard-index
// order. indices must already be sorted ascending so "last" here is
// literally the highest shard index to have set the key.
func mergeGroupAttributes(main *model.InvocationContext, shards map[int]*model.InvocationContext, indices []int, sumGroups []string) {
	sums := make(map[string]int)
	summed := make(map[string]bool)
	lastValue := make(map[string]string)

	for _, idx := range indices {
		for key, values := range shards[idx].AllAttributes() {
			if isSumAggregated(key, sumGroups) {
				summed[key] = true
				for _, v := range values {
					n, err := strconv.Atoi(v)
					if err != nil {
						continue
					}
					sums[key] += n
				}
				continue
			}
			if len(values) > 0 {
				lastValue[key] = values[len(values)-1]
			}
		}
	}

	for key := range summed {
		main.SetAttribute(key, strconv.Itoa(sums[key]))
	}
	for key, v := range lastValue {
		if summed[key] {
			continue
		}
		main.SetAttribute(key, v)
	}
}

// isSumAggregated reports whether key's group (the part before the
// first ':') is one of the declared sum-aggregated groups.
func isSumAggregated(key string, sumGroups []string) bool {
	group := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		group = key[:i]
	}
	for _, g := range sumGroups {
		if g == group {
			return true
		}
	}
	return false
}
