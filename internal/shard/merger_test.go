package shard

import (
	"fmt"
	"io"
	"testing"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// fakeDevice is the minimal model.Device a test InvocationContext needs
// to allocate — merger logic never calls into it.
type fakeDevice struct{ name string }

func (d fakeDevice) Name() string { return d.name }

// recordingListener records what the merger actually delivers
// downstream, so tests can assert the "exactly once" properties §4.5
// and §8 require.
type recordingListener struct {
	startedContexts []*model.InvocationContext
	endedCount      int
	lastElapsed     time.Duration
}

func (l *recordingListener) InvocationStarted(ctx *model.InvocationContext) {
	l.startedContexts = append(l.startedContexts, ctx)
}
func (l *recordingListener) InvocationFailed(failure *model.FailureDescription) {}
func (l *recordingListener) InvocationEnded(elapsedTime time.Duration) {
	l.endedCount++
	l.lastElapsed = elapsedTime
}
func (l *recordingListener) TestModuleStarted(descriptor model.ConfigurationDescriptor) {}
func (l *recordingListener) TestModuleEnded()                                          {}
func (l *recordingListener) TestRunStarted(runName string, testCount int, attemptNumber int) {
}
func (l *recordingListener) TestRunFailed(failure *model.FailureDescription) {}
func (l *recordingListener) TestRunEnded(elapsedTime time.Duration, runMetrics map[string]string) {
}
func (l *recordingListener) TestStarted(test capability.TestDescription) {}
func (l *recordingListener) TestFailed(test capability.TestDescription, failure *model.FailureDescription) {
}
func (l *recordingListener) TestEnded(test capability.TestDescription, testMetrics map[string]string) {
}
func (l *recordingListener) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
	_, _ = io.Copy(io.Discard, data)
}
func (l *recordingListener) LogAssociation(dataName string, logFile model.LogFile) {}

var _ capability.TestInvocationListener = (*recordingListener)(nil)

// buildShardContext constructs one shard's InvocationContext carrying a
// device1 build info with one attribute (keyed by shard index, so the
// per-device merge keeps every shard's value), a sum-aggregated
// invocation attribute and a last-writer-wins invocation attribute.
func buildShardContext(t *testing.T, shardIndex int, buildAttr, sumValue, lastValue string) *model.InvocationContext {
	t.Helper()
	ctx := model.NewInvocationContext(model.ConfigurationDescriptor{ModuleName: "mod1", ShardIndex: shardIndex})
	if err := ctx.AllocateDevice("device1", fakeDevice{name: "device1"}); err != nil {
		t.Fatalf("AllocateDevice: %v", err)
	}
	bi := model.NewBuildInfo("BUILD1", "branch", "flavor", "tag")
	bi.PutAttribute(fmt.Sprintf("deviceAttr%d", shardIndex), buildAttr)
	if err := ctx.SetBuildInfo("device1", bi); err != nil {
		t.Fatalf("SetBuildInfo: %v", err)
	}
	ctx.PutAttribute("TEST_TYPE_COUNT:instrumentation", sumValue)
	ctx.PutAttribute("RUN_HOST:name", lastValue)
	return ctx
}

func runThreeShards(t *testing.T, endOrder []int) (*recordingListener, *model.InvocationContext) {
	t.Helper()
	rec := &recordingListener{}
	merger := New(rec, 3, nil)

	ctxs := map[int]*model.InvocationContext{
		0: buildShardContext(t, 0, "shard0-device-attr", "2", "host0"),
		1: buildShardContext(t, 1, "shard1-device-attr", "3", "host1"),
		2: buildShardContext(t, 2, "shard2-device-attr", "5", "host2"),
	}

	for i := 0; i < 3; i++ {
		merger.Shard(i).InvocationStarted(ctxs[i])
	}
	elapsed := map[int]time.Duration{0: 2 * time.Millisecond, 1: 9 * time.Millisecond, 2: 5 * time.Millisecond}
	for _, i := range endOrder {
		merger.Shard(i).InvocationEnded(elapsed[i])
	}

	return rec, ctxs[0]
}

func TestMerger_ExactlyOneInvocationEndedAcrossShards(t *testing.T) {
	rec, _ := runThreeShards(t, []int{2, 0, 1})
	if rec.endedCount != 1 {
		t.Fatalf("endedCount = %d, want 1", rec.endedCount)
	}
	if len(rec.startedContexts) != 1 {
		t.Fatalf("startedContexts = %d, want 1 (only the main shard's context is forwarded)", len(rec.startedContexts))
	}
	if rec.lastElapsed != 9*time.Millisecond {
		t.Fatalf("lastElapsed = %v, want the max across shards (9ms)", rec.lastElapsed)
	}
}

func TestMerger_SumAggregatedAttributeIsDecimalSumAcrossShards(t *testing.T) {
	_, main := runThreeShards(t, []int{2, 0, 1})
	got := main.Attributes("TEST_TYPE_COUNT:instrumentation")
	if len(got) != 1 || got[0] != "10" {
		t.Fatalf("TEST_TYPE_COUNT:instrumentation = %v, want [\"10\"] (2+3+5)", got)
	}
}

func TestMerger_NonSumAttributeIsLastWriterWinsByShardIndex(t *testing.T) {
	_, main := runThreeShards(t, []int{2, 0, 1})
	got := main.Attributes("RUN_HOST:name")
	if len(got) != 1 || got[0] != "host2" {
		t.Fatalf("RUN_HOST:name = %v, want [\"host2\"] (shard 2 has the highest index)", got)
	}
}

func TestMerger_BuildAttributesMergePerDeviceFromEveryShard(t *testing.T) {
	_, main := runThreeShards(t, []int{2, 0, 1})
	bi, ok := main.BuildInfo("device1")
	if !ok {
		t.Fatal("expected main context to retain its device1 build info")
	}
	attrs := bi.Attributes()
	for _, want := range []string{"shard0-device-attr", "shard1-device-attr", "shard2-device-attr"} {
		found := false
		for _, v := range attrs {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("device1 build attributes = %v, missing %q", attrs, want)
		}
	}
}

// TestMerger_AttributeMergeIsIndependentOfShardEndOrder exercises §8's
// "shard attribute merge commutative/idempotent" property: the merge
// result depends only on shard index, not on the real-time order shards
// happen to finish in.
func TestMerger_AttributeMergeIsIndependentOfShardEndOrder(t *testing.T) {
	_, mainA := runThreeShards(t, []int{0, 1, 2})
	_, mainB := runThreeShards(t, []int{2, 1, 0})

	for _, key := range []string{"TEST_TYPE_COUNT:instrumentation", "RUN_HOST:name"} {
		gotA := mainA.Attributes(key)
		gotB := mainB.Attributes(key)
		if len(gotA) != 1 || len(gotB) != 1 || gotA[0] != gotB[0] {
			t.Fatalf("key %q diverged across end orders: %v vs %v", key, gotA, gotB)
		}
	}
}
