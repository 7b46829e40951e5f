// Package logging builds the engine's loggers.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a prefixed logger writing to w.
func New(prefix string, w io.Writer) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}

// Writer returns the log destination for the given file path: stderr when
// path is empty, otherwise stderr plus a size-rotated file.
func Writer(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotated)
}
