// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stopwaiter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

const testStopDelayWarningTimeout = 350 * time.Millisecond

type TestStruct struct{}

func TestStopWaiterStopAndWaitTimeout(t *testing.T) {
	logHandler := testhelpers.InitTestLog(t, slog.LevelWarn)
	sw := StopWaiter{}
	sw.Start(context.Background(), TestStruct{})
	sw.LaunchThread(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(testStopDelayWarningTimeout + 150*time.Millisecond)
			}
		}
	})
	time.Sleep(50 * time.Millisecond)
	sw.stopAndWaitImpl(testStopDelayWarningTimeout)
	if !logHandler.WasLogged("taking too long to stop") {
		testhelpers.FailImpl(t, "Failed to log about hanging on StopAndWait")
	}
}

func TestStopWaiterCallIteratively(t *testing.T) {
	sw := StopWaiter{}
	sw.Start(context.Background(), &TestStruct{})
	var calls atomic.Int32
	sw.CallIteratively(func(ctx context.Context) time.Duration {
		calls.Add(1)
		return time.Millisecond
	})
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, time.Millisecond)
	sw.StopAndWait()
	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, calls.Load())
	require.True(t, sw.Stopped())
}

func TestStopWaiterLifecycle(t *testing.T) {
	var idle StopWaiter
	require.Panics(t, func() { idle.GetContext() })
	require.Panics(t, func() { idle.LaunchThread(func(context.Context) {}) })
	idle.StopAndWait()
	require.False(t, idle.Stopped())

	var sw StopWaiter
	sw.Start(context.Background(), &TestStruct{})
	require.Panics(t, func() { sw.Start(context.Background(), &TestStruct{}) })
	ctx := sw.GetContext()
	sw.StopAndWait()
	require.Error(t, ctx.Err())

	var ran atomic.Bool
	sw.LaunchThread(func(context.Context) { ran.Store(true) })
	sw.StopAndWait()
	require.False(t, ran.Load())
}
