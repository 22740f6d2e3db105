package logging

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SourceFormatter wraps another formatter and adds the caller as
// x_file_source="file.go:line". Entries carrying a scrid get it moved to the
// front of the line so correlated requests are easy to grep.
type SourceFormatter struct {
	Underlying logrus.Formatter
}

func (f *SourceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.HasCaller() {
		entry.Data["x_file_source"] = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}

	if scrid, ok := entry.Data[ScridField]; ok {
		entry.Message = fmt.Sprintf("[%v] %s", scrid, entry.Message)
	}

	return f.Underlying.Format(entry)
}
