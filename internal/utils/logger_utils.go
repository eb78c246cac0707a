package utils

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"pt-watch/internal/types"

	"github.com/sirupsen/logrus"
)

// syncWriter wraps an io.Writer with a mutex so concurrent goroutines cannot
// interleave log entries.
type syncWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

func (sw *syncWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.writer.Write(p)
}

// flushWriter flushes the buffered writer after each write so entries become
// visible immediately. Not thread-safe on its own; wrap in syncWriter.
type flushWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newFlushWriter(file *os.File) *flushWriter {
	return &flushWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}
}

func (fw *flushWriter) Write(p []byte) (n int, err error) {
	n, err = fw.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, fw.writer.Flush()
}

var logFile *os.File

// SetupLogger configures the global logrus logger from the log configuration.
func SetupLogger(configManager types.ConfigManager) {
	logConfig := configManager.GetLogConfig()

	level, err := logrus.ParseLevel(logConfig.Level)
	if err != nil {
		logrus.Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if logConfig.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if !logConfig.EnableFile {
		return
	}

	logDir := filepath.Dir(logConfig.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logrus.Warnf("Failed to create log directory: %v", err)
		return
	}
	file, err := os.OpenFile(logConfig.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.Warnf("Failed to open log file: %v", err)
		return
	}
	logFile = file

	var fileWriter io.Writer
	// Buffered flush-per-write only helps during debugging; direct writes are
	// faster otherwise.
	if level == logrus.DebugLevel || level == logrus.TraceLevel {
		fileWriter = newFlushWriter(file)
	} else {
		fileWriter = file
	}
	logrus.SetOutput(&syncWriter{
		writer: io.MultiWriter(os.Stdout, fileWriter),
	})
}

// CloseLogger closes the log file if one was opened.
func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
