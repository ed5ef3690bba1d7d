package ratchet

import "testing"

func TestReplayWindowRejectsDuplicateCounter(t *testing.T) {
	var w replayWindow
	if !w.validate(0) {
		t.Fatalf("expected first counter to validate")
	}
	w.accept(0)
	if w.validate(0) {
		t.Fatalf("expected duplicate counter to be rejected")
	}
}

func TestReplayWindowAcceptsIncreasingCounters(t *testing.T) {
	var w replayWindow
	for i := uint64(0); i < 100; i++ {
		if !w.validate(i) {
			t.Fatalf("counter %d unexpectedly rejected", i)
		}
		w.accept(i)
	}
}

func TestReplayWindowAcceptsOutOfOrderWithinWindow(t *testing.T) {
	var w replayWindow
	w.accept(100)
	if !w.validate(50) {
		t.Fatalf("expected a counter within the window behind high-water to validate")
	}
	w.accept(50)
	if w.validate(50) {
		t.Fatalf("expected replaying counter 50 to be rejected")
	}
}

func TestReplayWindowRejectsTooOldCounter(t *testing.T) {
	var w replayWindow
	w.accept(replayWindowSize + 10)
	if w.validate(9) {
		t.Fatalf("expected a counter older than the window to be rejected")
	}
}

func TestReplayWindowSlidesAndForgetsOldBits(t *testing.T) {
	var w replayWindow
	w.accept(0)
	w.accept(replayWindowSize)
	// Counter 0 is now exactly replayWindowSize behind the high-water mark
	// and must read as out of window, even though its bit was never
	// explicitly cleared by a duplicate check.
	if w.validate(0) {
		t.Fatalf("expected counter 0 to fall out of the window after advancing by replayWindowSize")
	}
}
