// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package stopwaiter tracks the goroutines of a long running component so
// that stopping it cancels them and waits for them to return.
package stopwaiter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const stopDelayWarningTimeout = 30 * time.Second

var (
	errNotStarted     = errors.New("not started")
	errAlreadyStarted = errors.New("already started")
)

// StopWaiter is embedded by components that own goroutines. Calls made in
// the wrong order panic.
type StopWaiter struct {
	mutex    sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	name     string
	threads  sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

// Start derives the component context from ctx. parent names the component
// in log messages.
func (s *StopWaiter) Start(ctx context.Context, parent any) {
	if err := s.start(ctx, parent); err != nil {
		panic(err)
	}
}

func (s *StopWaiter) start(ctx context.Context, parent any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx != nil {
		return errAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.name = fmt.Sprintf("%T", parent)
	s.done = make(chan struct{})
	return nil
}

func (s *StopWaiter) GetContext() context.Context {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx == nil {
		panic(errNotStarted)
	}
	return s.ctx
}

func (s *StopWaiter) Stopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

// StopOnly cancels the threads without waiting for them.
func (s *StopWaiter) StopOnly() {
	s.stopOnly()
}

func (s *StopWaiter) stopOnly() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ctx == nil || s.stopped {
		return false
	}
	s.stopped = true
	s.cancel()
	return true
}

// StopAndWait cancels the threads and waits for them to return, logging the
// goroutine stacks if that takes long. Stopping a never started StopWaiter
// is a no-op.
func (s *StopWaiter) StopAndWait() {
	s.stopAndWaitImpl(stopDelayWarningTimeout)
}

func (s *StopWaiter) stopAndWaitImpl(warningTimeout time.Duration) {
	if !s.stopOnly() {
		return
	}
	done := s.waitChannel()
	timer := time.NewTimer(warningTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
		buf := make([]byte, 1<<20)
		buf = buf[:runtime.Stack(buf, true)]
		log.Warn("taking too long to stop", "name", s.name, "delay[s]", warningTimeout.Seconds())
		log.Warn(string(buf))
	}
	<-done
}

func (s *StopWaiter) waitChannel() <-chan struct{} {
	s.waitOnce.Do(func() {
		go func() {
			s.threads.Wait()
			close(s.done)
		}()
	})
	return s.done
}

// LaunchThread runs foo with the component context. Threads launched after
// stopping are dropped.
func (s *StopWaiter) LaunchThread(foo func(context.Context)) {
	ctx := s.GetContext()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return
	}
	s.threads.Add(1)
	go func() {
		defer s.threads.Done()
		foo(ctx)
	}()
}

// CallIteratively calls foo in a thread until stopped, waiting for the
// returned interval between calls.
func (s *StopWaiter) CallIteratively(foo func(context.Context) time.Duration) {
	s.LaunchThread(func(ctx context.Context) {
		for {
			interval := foo(ctx)
			if ctx.Err() != nil {
				return
			}
			if interval == 0 {
				continue
			}
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	})
}
