// Package ratelimit bounds the blast radius of a compromised loop: a fixed
// time window caps total sensitive operations per protected scope. Issuance
// and consumption draw from the same budget, so alternating the two calls
// cannot stretch the cap.
package ratelimit

import "time"

// Window is a fixed-length operation window. Not safe for concurrent use on
// its own; the gate serializes access under its ledger lock so window state
// stays consistent with the mutations it meters.
type Window struct {
	length time.Duration
	maxOps int

	windowStart time.Time
	count       int
}

// NewWindow builds a window of the given length and cap.
func NewWindow(length time.Duration, maxOps int) *Window {
	return &Window{length: length, maxOps: maxOps}
}

// Allow consumes one unit of budget at the given instant. It first rolls the
// window forward if it has elapsed, then admits the operation only when the
// cap has room.
func (w *Window) Allow(now time.Time) bool {
	w.roll(now)
	if w.count >= w.maxOps {
		return false
	}
	w.count++
	return true
}

// Remaining reports the budget left in the current window.
func (w *Window) Remaining(now time.Time) int {
	w.roll(now)
	remaining := w.maxOps - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt reports when the current window ends.
func (w *Window) ResetAt(now time.Time) time.Time {
	w.roll(now)
	return w.windowStart.Add(w.length)
}

// Restore forces the window to a known state. Used by WAL replay.
func (w *Window) Restore(windowStart time.Time, count int) {
	w.windowStart = windowStart
	w.count = count
}

// Snapshot exposes the current state for status reporting and replay.
func (w *Window) Snapshot() (windowStart time.Time, count int) {
	return w.windowStart, w.count
}

func (w *Window) roll(now time.Time) {
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= w.length {
		w.windowStart = now
		w.count = 0
	}
}
