package logging

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/DeRuina/timberjack"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/sirupsen/logrus"
)

// NewLogger creates and configures a new logrus.Logger based on the provided configuration.
func NewLogger(cfg *config.LogSettings) (*logrus.Logger, error) {
	logger := logrus.New()

	logLevel := logrus.InfoLevel
	if cfg.LogLevel != nil && *cfg.LogLevel != "" {
		if lv, err := logrus.ParseLevel(strings.ToLower(*cfg.LogLevel)); err == nil {
			logLevel = lv
		}
	}
	logger.SetLevel(logLevel)

	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		fileLogger := &timberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		output = io.MultiWriter(os.Stdout, fileLogger)
		logrus.New().Infof("File logging enabled, writing to %s", cfg.LogFile)
	}
	logger.SetOutput(output)

	textFormatter := &logrus.TextFormatter{
		FullTimestamp: true,
		// our SourceFormatter adds the caller itself
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", ""
		},
	}

	logger.SetFormatter(&SourceFormatter{
		Underlying: textFormatter,
	})
	logger.SetReportCaller(true)

	return logger, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests and
// by components constructed without a logger.
func NewNopLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
