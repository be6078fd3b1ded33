// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON slog.Logger. With a non-empty logPath, output goes
// to a size-rotated file; otherwise it goes to stderr. The returned
// closer flushes and releases the rotating file, and is a no-op for
// stderr.
func New(logPath string, debug bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if logPath == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    15, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(rotator, opts)), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
