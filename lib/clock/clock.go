// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and drive time with Advance.
//
// The upload session registry uses AfterFunc timers for idle
// timeouts, and the uploader client uses Sleep for retry backoff.
// Both are deterministic under FakeClock.
package clock

import "time"

// Clock is the time source injected into components that schedule
// timeouts or sleep. Code that needs the current time, a delay, or a
// cancellable timer should go through a Clock rather than calling the
// time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real)
	// or synchronously during Advance (fake). The returned Timer
	// cancels the pending call with Stop; its C field is nil.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a scheduled event created by AfterFunc. C is always nil;
// the event is delivered by calling the registered function.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. Returns true if the call
// stopped the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the timer to fire after d. Returns true if the
// timer was still active before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
