// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/packserve/packserve/lib/clock"
)

// sessionLimiter bounds concurrent upload sessions. The store already
// rejects two concurrent writes of the same digest; this caps total
// sessions so an upload burst cannot exhaust file descriptors or disk
// bandwidth. Clients that hit the cap get a busy reply and retry.
type sessionLimiter struct {
	mu     sync.Mutex
	limit  int
	active int
}

func newSessionLimiter(limit int) *sessionLimiter {
	return &sessionLimiter{limit: limit}
}

// acquire claims a session slot. Returns false when the limiter is at
// capacity.
func (l *sessionLimiter) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.limit {
		return false
	}
	l.active++
	return true
}

func (l *sessionLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
}

func (l *sessionLimiter) activeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// idleWatchdog closes an upload connection when no data arrives
// within the configured window. The read loop calls touch after every
// frame; a stalled client's connection is closed, which surfaces as a
// read error in the handler and aborts the staged write.
type idleWatchdog struct {
	timer *clock.Timer
	d     time.Duration
	fired atomic.Bool
}

func startIdleWatchdog(clk clock.Clock, d time.Duration, conn net.Conn) *idleWatchdog {
	w := &idleWatchdog{d: d}
	w.timer = clk.AfterFunc(d, func() {
		w.fired.Store(true)
		conn.Close()
	})
	return w
}

// touch restarts the idle countdown.
func (w *idleWatchdog) touch() {
	w.timer.Reset(w.d)
}

func (w *idleWatchdog) stop() {
	w.timer.Stop()
}

// expired reports whether the watchdog closed the connection.
func (w *idleWatchdog) expired() bool {
	return w.fired.Load()
}
