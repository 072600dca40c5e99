package cmd

import "invocore/pkg/logging"

// logRecorder implements capability.EventRecorder by forwarding to
// pkg/logging, grounded on the teacher orchestrator's event-generation
// pattern without a real Kubernetes object to attach the event to: a
// standalone invocore process has no API server to post events
// against, so the CLI's recorder is the log stream itself.
type logRecorder struct{}

func (logRecorder) Event(reason, message string) {
	logging.Info("event", "%s: %s", reason, message)
}

func (logRecorder) Eventf(reason, messageFmt string, args ...interface{}) {
	logging.Info("event", reason+": "+messageFmt, args...)
}
