package main

import (
	"testing"

	"sidequest/internal/gesture"
)

func TestSettleSignalFiresOnAdvance(t *testing.T) {
	ch := make(chan struct{}, 1)
	sig := settleSignal{ch: ch}

	sig.OnTransition(gesture.Idle, gesture.Dragging)
	sig.OnTransition(gesture.Dragging, gesture.Committing)
	if len(ch) != 0 {
		t.Fatalf("signalled before the deck advanced")
	}
	sig.OnTransition(gesture.Committing, gesture.Idle)
	// A second signal must not block the session while one is pending.
	sig.OnTransition(gesture.Committing, gesture.Exhausted)
	if len(ch) != 1 {
		t.Fatalf("pending signals = %d", len(ch))
	}
}
