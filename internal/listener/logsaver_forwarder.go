package listener

import (
	"bytes"
	"io"
	"sync"

	"invocore/internal/capability"
	"invocore/internal/model"
	"invocore/pkg/logging"
)

// LogSaverForwarder wraps a Forwarder and a concrete capability.LogSaver:
// every TestLog call is persisted exactly once, and the resulting
// LogFile is announced to downstream listeners via LogAssociation.
// Spec §4.4's idempotent-log-persistence invariant is enforced by a
// dedup set keyed per forwarder instance, so a retried or re-wrapped
// forwarder gets its own independent dedup state rather than sharing one
// global set across the whole invocation.
type LogSaverForwarder struct {
	*Forwarder

	saver capability.LogSaver
	saved sync.Map // logName -> struct{}
}

// NewLogSaverForwarder wraps forwarder with log persistence via saver.
func NewLogSaverForwarder(forwarder *Forwarder, saver capability.LogSaver) *LogSaverForwarder {
	return &LogSaverForwarder{Forwarder: forwarder, saver: saver}
}

// SetLogSaver implements capability.LogSaverListener.
func (l *LogSaverForwarder) SetLogSaver(saver capability.LogSaver) {
	l.saver = saver
}

// TestLog implements spec §4.4's log-persistence order: 1. persist the
// stream exactly once via the injected LogSaver, 2. fire testLog on
// every downstream listener, 3. fire testLogSaved on every downstream
// listener advertising LogSaverListener, 4. fire logAssociation. The
// stream is buffered once up front so persistence and every fan-out
// step each see their own fresh, unconsumed reader.
func (l *LogSaverForwarder) TestLog(dataName string, dataType capability.LogDataType, data io.Reader) {
	buf, err := io.ReadAll(data)
	if err != nil {
		logging.Error("listener", err, "failed to buffer log %q", dataName)
		return
	}

	var logFile model.LogFile
	saved := false
	if l.saver != nil {
		if _, alreadySaved := l.saved.LoadOrStore(dataName, struct{}{}); alreadySaved {
			logging.Warn("listener", "skipping duplicate log persistence for %q", dataName)
		} else {
			logFile, err = l.saver.SaveLogData(dataName, dataType, bytes.NewReader(buf))
			if err != nil {
				logging.Error("listener", err, "failed to persist log %q", dataName)
			} else {
				saved = true
			}
		}
	}

	l.Forwarder.TestLog(dataName, dataType, bytes.NewReader(buf))

	if !saved {
		return
	}
	l.Forwarder.TestLogSaved(dataName, dataType, bytes.NewReader(buf), logFile)
	l.Forwarder.LogAssociation(dataName, logFile)
}

// TestLogSaved is part of the LogSaverListener mix-in surface; a
// LogSaverForwarder only ever originates testLogSaved itself (above), it
// never receives one from further upstream.
func (l *LogSaverForwarder) TestLogSaved(dataName string, dataType capability.LogDataType, data io.Reader, logFile model.LogFile) {
	l.Forwarder.TestLogSaved(dataName, dataType, data, logFile)
}

var _ capability.TestInvocationListener = (*LogSaverForwarder)(nil)
var _ capability.LogSaverListener = (*LogSaverForwarder)(nil)
