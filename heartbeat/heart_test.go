package heartbeat

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartTicksThenTimesOut(t *testing.T) {
	var ticks, timeouts atomic.Int32

	h := New(20*time.Millisecond, 20*time.Millisecond,
		func() { ticks.Add(1) },
		func() { timeouts.Add(1) },
	)
	defer h.Dispose()

	time.Sleep(30 * time.Millisecond)
	if !h.IsExpectingHeartbeat() {
		t.Fatal("IsExpectingHeartbeat() = false, want true after the interval elapses")
	}
	if got := ticks.Load(); got != 1 {
		t.Fatalf("ticks = %d, want match for 1", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := timeouts.Load(); got != 1 {
		t.Fatalf("timeouts = %d, want match for 1", got)
	}
}

func TestHeartResetPreventsTimeout(t *testing.T) {
	var timeouts atomic.Int32

	h := New(15*time.Millisecond, 15*time.Millisecond, func() {}, func() { timeouts.Add(1) })
	defer h.Dispose()

	// Reset every 10ms for 60ms, always ahead of the 30ms timeout window.
	stop := time.After(60 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			h.Reset()
		case <-stop:
			break loop
		}
	}

	if got := timeouts.Load(); got != 0 {
		t.Fatalf("timeouts = %d, want match for 0 (heartbeat kept alive by Reset)", got)
	}
	if h.IsExpectingHeartbeat() {
		t.Fatal("IsExpectingHeartbeat() = true, want false right after Reset")
	}
}

func TestHeartDisposeSuppressesCallbacks(t *testing.T) {
	var ticks, timeouts atomic.Int32

	h := New(10*time.Millisecond, 10*time.Millisecond,
		func() { ticks.Add(1) },
		func() { timeouts.Add(1) },
	)
	h.Dispose()

	time.Sleep(40 * time.Millisecond)
	if got := ticks.Load(); got != 0 {
		t.Fatalf("ticks = %d, want match for 0 after Dispose", got)
	}
	if got := timeouts.Load(); got != 0 {
		t.Fatalf("timeouts = %d, want match for 0 after Dispose", got)
	}
}

func TestHeartResetAfterDisposeIsNoop(t *testing.T) {
	h := New(5*time.Millisecond, 5*time.Millisecond, func() {}, func() {})
	h.Dispose()
	h.Reset() // must not panic or re-arm timers
	time.Sleep(20 * time.Millisecond)
}
