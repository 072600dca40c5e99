package invocation

import (
	"io"

	"invocore/internal/capability"
	"invocore/internal/model"
)

// discardLogSaver is the LogSaver used when a Configuration sets none:
// it drains the stream without persisting anything, so callers never
// have to special-case a missing LogSaver.
type discardLogSaver struct{}

func (discardLogSaver) SaveLogData(dataName string, dataType capability.LogDataType, data io.Reader) (model.LogFile, error) {
	if data != nil {
		_, _ = io.Copy(io.Discard, data)
	}
	return model.LogFile{DataType: string(dataType)}, nil
}

var _ capability.LogSaver = discardLogSaver{}
