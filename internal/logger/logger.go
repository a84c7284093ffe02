package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Options mirrors the logging section of the config file.
type Options struct {
	Level        string
	Format       string
	Output       string
	FileRotation bool
	MaxSize      int
	MaxBackups   int
	MaxAge       int
}

// New creates a logger from options. Unknown levels fall back to info,
// unknown formats to json.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	default:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	}

	log.SetOutput(output(opts))
	return log
}

func output(opts Options) io.Writer {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	if opts.FileRotation {
		return &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    opts.MaxSize, // megabytes
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge, // days
			Compress:   true,
		}
	}
	f, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// Discard is a logger that drops everything, for tests and CLI one-shots.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
