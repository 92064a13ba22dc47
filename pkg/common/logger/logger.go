package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init; Init only reconfigures it.
var Log = logrus.New()

func Init() {
	InitWithLevel(os.Getenv("LOG_LEVEL"))
}

func InitWithLevel(level string) {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

// Silence discards output, used by tests and the CLI.
func Silence() {
	Log.SetOutput(io.Discard)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
