package listener

import (
	"io"
	"testing"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

type recordingListener struct {
	events []string
}

func (r *recordingListener) InvocationStarted(*model.InvocationContext)     { r.events = append(r.events, "InvocationStarted") }
func (r *recordingListener) InvocationFailed(*model.FailureDescription)    { r.events = append(r.events, "InvocationFailed") }
func (r *recordingListener) InvocationEnded(time.Duration)                 { r.events = append(r.events, "InvocationEnded") }
func (r *recordingListener) TestModuleStarted(model.ConfigurationDescriptor) {
	r.events = append(r.events, "TestModuleStarted")
}
func (r *recordingListener) TestModuleEnded() { r.events = append(r.events, "TestModuleEnded") }
func (r *recordingListener) TestRunStarted(string, int, int) { r.events = append(r.events, "TestRunStarted") }
func (r *recordingListener) TestRunFailed(*model.FailureDescription) {
	r.events = append(r.events, "TestRunFailed")
}
func (r *recordingListener) TestRunEnded(time.Duration, map[string]string) {
	r.events = append(r.events, "TestRunEnded")
}
func (r *recordingListener) TestStarted(capability.TestDescription) { r.events = append(r.events, "TestStarted") }
func (r *recordingListener) TestFailed(capability.TestDescription, *model.FailureDescription) {
	r.events = append(r.events, "TestFailed")
}
func (r *recordingListener) TestEnded(capability.TestDescription, map[string]string) {
	r.events = append(r.events, "TestEnded")
}
func (r *recordingListener) TestLog(string, capability.LogDataType, io.Reader) {
	r.events = append(r.events, "TestLog")
}
func (r *recordingListener) LogAssociation(string, model.LogFile) {
	r.events = append(r.events, "LogAssociation")
}

type panickingListener struct{}

func (panickingListener) InvocationStarted(*model.InvocationContext) { panic("boom") }
func (panickingListener) InvocationFailed(*model.FailureDescription) {}
func (panickingListener) InvocationEnded(time.Duration)              {}
func (panickingListener) TestModuleStarted(model.ConfigurationDescriptor) {}
func (panickingListener) TestModuleEnded()                               {}
func (panickingListener) TestRunStarted(string, int, int)                     {}
func (panickingListener) TestRunFailed(*model.FailureDescription)        {}
func (panickingListener) TestRunEnded(time.Duration, map[string]string)  {}
func (panickingListener) TestStarted(capability.TestDescription)         {}
func (panickingListener) TestFailed(capability.TestDescription, *model.FailureDescription) {}
func (panickingListener) TestEnded(capability.TestDescription, map[string]string)          {}
func (panickingListener) TestLog(string, capability.LogDataType, io.Reader)                {}
func (panickingListener) LogAssociation(string, model.LogFile)                             {}

func TestForwarder_FansOutToAllListeners(t *testing.T) {
	f := NewForwarder()
	r1, r2 := &recordingListener{}, &recordingListener{}
	if err := f.AddListener(r1); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := f.AddListener(r2); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	ctx := model.NewInvocationContext(model.ConfigurationDescriptor{})
	f.InvocationStarted(ctx)
	f.InvocationEnded(time.Second)

	for _, r := range []*recordingListener{r1, r2} {
		if len(r.events) != 2 || r.events[0] != "InvocationStarted" || r.events[1] != "InvocationEnded" {
			t.Fatalf("unexpected events: %v", r.events)
		}
	}
}

func TestForwarder_PanicInOneListenerDoesNotBlockOthers(t *testing.T) {
	f := NewForwarder()
	if err := f.AddListener(panickingListener{}); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	r := &recordingListener{}
	if err := f.AddListener(r); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	ctx := model.NewInvocationContext(model.ConfigurationDescriptor{})
	f.InvocationStarted(ctx)

	if len(r.events) != 1 || r.events[0] != "InvocationStarted" {
		t.Fatalf("expected the well-behaved listener to still receive the event, got %v", r.events)
	}
}

func TestForwarder_FreezeRejectsFurtherRegistration(t *testing.T) {
	f := NewForwarder()
	f.Freeze()
	if err := f.AddListener(&recordingListener{}); err == nil {
		t.Fatal("expected error registering a listener after Freeze")
	}
}
