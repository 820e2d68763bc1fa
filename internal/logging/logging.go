// Package logging configures the process-wide standard logger.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr and, when path is set, also at a
// size-rotated log file. The returned closer flushes the file writer.
func Setup(path string) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}
