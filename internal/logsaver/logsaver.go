// Package logsaver implements the concrete, filesystem-backed LogSaver
// capability (spec §6): every log stream handed to it is written under
// a per-invocation directory and returned as a model.LogFile. Grounded
// on the teacher's pkg/logging (dual-sink dispatch: always write to the
// primary sink, optionally mirror to a secondary one) generalized from
// slog channels to file + journald sinks.
package logsaver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// FileSaver persists logs under a root directory, one file per
// dataName, with an incrementing suffix if a name repeats within the
// same invocation (a retried module re-emits the same log names).
type FileSaver struct {
	mu   sync.Mutex
	root string
	seen map[string]int

	// journal, if non-nil, also mirrors TEXT logs to the systemd
	// journal. It is set through WithJournalMirror, typically with the
	// function JournalMirror (journal.go) builds; nothing in cmd/ sets it,
	// so the mirror is off unless a caller opts in.
	journal func(priority, message string)
}

// New returns a FileSaver rooted at root (created if absent).
func New(root string) (*FileSaver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("logsaver: creating root %q: %w", root, err)
	}
	return &FileSaver{root: root, seen: make(map[string]int)}, nil
}

// WithJournalMirror configures a journald mirror function for TEXT logs,
// invoked in addition to (never instead of) the filesystem write.
func (s *FileSaver) WithJournalMirror(mirror func(priority, message string)) *FileSaver {
	s.journal = mirror
	return s
}

// SaveLogData implements capability.LogSaver.
func (s *FileSaver) SaveLogData(dataName string, dataType capability.LogDataType, data io.Reader) (model.LogFile, error) {
	path := s.reservePath(dataName, dataType)

	f, err := os.Create(path)
	if err != nil {
		return model.LogFile{}, fmt.Errorf("logsaver: creating %q: %w", path, err)
	}
	defer f.Close()

	var tee io.Writer = f
	var mirrorBuf *strings.Builder
	if s.journal != nil && dataType == capability.LogDataText {
		mirrorBuf = &strings.Builder{}
		tee = io.MultiWriter(f, mirrorBuf)
	}

	if _, err := io.Copy(tee, data); err != nil {
		return model.LogFile{}, fmt.Errorf("logsaver: writing %q: %w", path, err)
	}

	if mirrorBuf != nil {
		s.journal("info", mirrorBuf.String())
	}

	return model.LogFile{Path: path, DataType: string(dataType)}, nil
}

func (s *FileSaver) reservePath(dataName string, dataType capability.LogDataType) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	safe := sanitize(dataName)
	ext := extensionFor(dataType)
	key := safe + ext

	n := s.seen[key]
	s.seen[key] = n + 1

	name := safe + ext
	if n > 0 {
		name = fmt.Sprintf("%s.%d%s", safe, n, ext)
	}
	return filepath.Join(s.root, name)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ' ':
			return '_'
		default:
			return r
		}
	}, name)
}

func extensionFor(dataType capability.LogDataType) string {
	switch dataType {
	case capability.LogDataPNG:
		return ".png"
	case capability.LogDataBugreport:
		return ".zip"
	default:
		return ".log"
	}
}

// RootFor returns the per-invocation log root under base, timestamped
// and named after descriptor so concurrent shard runs never collide.
func RootFor(base string, descriptor model.ConfigurationDescriptor, startedAt time.Time) string {
	stamp := startedAt.Format("20060102-150405")
	return filepath.Join(base, fmt.Sprintf("%s-%s", sanitize(descriptor.String()), stamp))
}

var _ capability.LogSaver = (*FileSaver)(nil)
