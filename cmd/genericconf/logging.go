// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package genericconf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethereum/go-ethereum/log"
)

func HandlerFromLogType(logType string, output io.Writer) (slog.Handler, error) {
	switch logType {
	case "plaintext":
		return log.NewTerminalHandler(output, false), nil
	case "json":
		return log.JSONHandler(output), nil
	}
	return nil, errors.New("invalid log type")
}

var globalFileWriter *fileWriter

// fileWriter hands records to a rotating file from a background goroutine.
// Records are dropped while BufSize records are pending.
type fileWriter struct {
	logger  *lumberjack.Logger
	records chan []byte
	done    chan struct{}
	once    sync.Once
}

func newFileWriter(config *FileLoggingConfig, filename string) *fileWriter {
	w := &fileWriter{
		logger: &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			LocalTime:  config.LocalTime,
			Compress:   config.Compress,
		},
		records: make(chan []byte, config.BufSize),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for record := range w.records {
			_, _ = w.logger.Write(record)
		}
	}()
	return w
}

func (w *fileWriter) Write(p []byte) (int, error) {
	// the handler reuses p after Write returns
	record := make([]byte, len(p))
	copy(record, p)
	select {
	case w.records <- record:
	default:
	}
	return len(p), nil
}

// Close flushes pending records. Write must not be called afterwards.
func (w *fileWriter) Close() error {
	w.once.Do(func() { close(w.records) })
	<-w.done
	return w.logger.Close()
}

// InitLog installs the process wide logger. It is not threadsafe.
func InitLog(logType string, logLevel string, fileLoggingConfig *FileLoggingConfig, pathResolver func(string) string) error {
	handler, err := HandlerFromLogType(logType, io.Discard)
	if err != nil {
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	slogLevel, err := ToSlogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	previous := globalFileWriter
	globalFileWriter = nil
	var output io.Writer = os.Stderr
	if fileLoggingConfig.Enable {
		globalFileWriter = newFileWriter(fileLoggingConfig, pathResolver(fileLoggingConfig.File))
		output = io.MultiWriter(os.Stderr, globalFileWriter)
	}
	handler, _ = HandlerFromLogType(logType, output)
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(slogLevel)
	log.SetDefault(log.NewLogger(glogger))
	if previous != nil {
		if err := previous.Close(); err != nil {
			return fmt.Errorf("failed to close previous log file: %w", err)
		}
	}
	return nil
}

// CloseLog flushes and closes the log file opened by InitLog, if any.
func CloseLog() error {
	if globalFileWriter == nil {
		return nil
	}
	w := globalFileWriter
	globalFileWriter = nil
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, false)))
	return w.Close()
}
