package render

import (
	"testing"
	"time"
)

func TestRedrawQueueCoalescesWithinDebounce(t *testing.T) {
	q := NewRedrawQueue(20 * time.Millisecond)
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.RequestDraw()
	}

	select {
	case <-q.Draws():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a coalesced draw signal")
	}

	select {
	case <-q.Draws():
		t.Fatal("expected exactly one draw signal for a burst within the debounce window")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedrawQueueImmediateBypassesDebounce(t *testing.T) {
	q := NewRedrawQueue(time.Hour)
	defer q.Stop()

	q.RequestDraw() // arms a long timer that would not fire during the test
	q.RequestImmediateDraw()

	select {
	case <-q.Draws():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected immediate draw to signal without waiting for debounce")
	}
}

func TestRedrawQueueZeroDebounceSignalsEveryRequest(t *testing.T) {
	q := NewRedrawQueue(0)
	defer q.Stop()

	q.RequestDraw()
	select {
	case <-q.Draws():
	default:
		t.Fatal("expected immediate signal with zero debounce")
	}
}

func TestRedrawQueueStopSuppressesFurtherSignals(t *testing.T) {
	q := NewRedrawQueue(10 * time.Millisecond)
	q.RequestDraw()
	q.Stop()

	select {
	case <-q.Draws():
		// fine: a signal queued before Stop may still be buffered.
	case <-time.After(50 * time.Millisecond):
	}

	q.RequestDraw()
	select {
	case <-q.Draws():
		t.Fatal("expected no further signals after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
