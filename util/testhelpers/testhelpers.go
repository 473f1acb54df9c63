// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package testhelpers

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"regexp"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/util/colors"
)

// Fail a test should an error occur
func RequireImpl(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatal(colors.Red, printables, err, colors.Clear)
	}
}

func FailImpl(t *testing.T, printables ...interface{}) {
	t.Helper()
	t.Fatal(colors.Red, printables, colors.Clear)
}

// RandomSlice returns size bytes of unseeded randomness.
func RandomSlice(size uint64) []byte {
	slice := make([]byte, size)
	if _, err := rand.Read(slice); err != nil {
		panic(err)
	}
	return slice
}

func RandomHash() common.Hash {
	return common.BytesToHash(RandomSlice(common.HashLength))
}

// LogHandler keeps the records accepted by the glog filter so tests can
// assert on what was logged.
type LogHandler struct {
	mutex         *sync.Mutex
	t             *testing.T
	records       *[]slog.Record
	streamHandler slog.Handler
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.streamHandler.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.streamHandler.Handle(ctx, record); err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	*h.records = append(*h.records, record)
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cpy := *h
	cpy.streamHandler = h.streamHandler.WithAttrs(attrs)
	return &cpy
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	cpy := *h
	cpy.streamHandler = h.streamHandler.WithGroup(name)
	return &cpy
}

func (h *LogHandler) WasLogged(pattern string) bool {
	re, err := regexp.Compile(pattern)
	RequireImpl(h.t, err)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, record := range *h.records {
		if re.MatchString(record.Message) {
			return true
		}
	}
	return false
}

func newLogHandler(t *testing.T) *LogHandler {
	return &LogHandler{
		mutex:         &sync.Mutex{},
		t:             t,
		records:       &[]slog.Record{},
		streamHandler: log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelTrace, false),
	}
}

func InitTestLog(t *testing.T, level slog.Level) *LogHandler {
	handler := newLogHandler(t)
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return handler
}
