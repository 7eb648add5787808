// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBaseLogger(os.Stderr)

// Logf is the package-level diagnostic logger. It defaults to the shared
// logrus logger at info level but may be replaced by SetLogger. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = base.Infof

func newBaseLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Logger returns the shared logrus logger for structured logging.
func Logger() *logrus.Logger {
	return base
}

// Configure sets the level and output format of the shared logger and
// points Logf back at it. An unknown level falls back to info.
func Configure(level string, json bool) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	if json {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	Logf = base.Infof
}

// SetOutput redirects the shared logger.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}
