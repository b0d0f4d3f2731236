package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// InitLogger replaces Log with a logger writing to stdout.
func InitLogger(debug bool) {
	Log = New(os.Stdout, debug)
}

// New builds a logger: text with full timestamps at debug level, JSON at
// info level otherwise.
func New(out io.Writer, debug bool) *logrus.Logger {
	l := logrus.New()
	l.Out = out

	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Logger returns Log, falling back to the logrus standard logger when
// InitLogger has not been called.
func Logger() *logrus.Logger {
	if Log == nil {
		return logrus.StandardLogger()
	}
	return Log
}
