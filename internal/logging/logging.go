// Package logging builds the prefixed loggers the services are constructed
// with, optionally tee'd into a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger with the given "[prefix] " that writes to stderr,
// and additionally to a rotating file when path is non-empty. Rotation
// keeps runs from growing an unbounded log on long-lived deployments.
func New(prefix, path string) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags)
}
