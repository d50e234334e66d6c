package session

import "testing"

func TestInitializeGate(t *testing.T) {
	s := New("conn-1", nil)
	if err := s.RequireInitialized(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized before Initialize, got %v", err)
	}
	s.Initialize([]string{"session/idle"})
	if err := s.RequireInitialized(); err != nil {
		t.Fatalf("expected nil after Initialize, got %v", err)
	}
	if !s.OptedOut("session/idle") {
		t.Fatal("expected session/idle to be opted out")
	}
	if s.OptedOut("session/error") {
		t.Fatal("did not expect session/error to be opted out")
	}
}

func TestPendingInputRejectsConcurrentPrompt(t *testing.T) {
	s := New("conn-1", nil)
	s.Initialize(nil)

	pi, err := s.RegisterPendingInput("turn-1", "continue?", []string{"yes", "no"})
	if err != nil {
		t.Fatalf("RegisterPendingInput: %v", err)
	}
	if _, err := s.RegisterPendingInput("turn-1", "again?", nil); err == nil {
		t.Fatal("expected error registering a second concurrent prompt for the same turn")
	}

	go func() {
		if err := s.AnswerPendingInput("turn-1", "yes"); err != nil {
			t.Errorf("AnswerPendingInput: %v", err)
		}
	}()
	if got := pi.Wait(); got != "yes" {
		t.Fatalf("Wait() = %q, want yes", got)
	}

	if _, err := s.RegisterPendingInput("turn-1", "once more?", nil); err != nil {
		t.Fatalf("expected slot to be free after answer, got %v", err)
	}
}

func TestAnswerPendingInputUnknownTurn(t *testing.T) {
	s := New("conn-1", nil)
	if err := s.AnswerPendingInput("missing", "x"); err == nil {
		t.Fatal("expected error answering unknown turn")
	}
}

func TestRateLimitsRoundTrip(t *testing.T) {
	s := New("conn-1", nil)
	if _, ok := s.RateLimits(); ok {
		t.Fatal("expected no rate limits initially")
	}
	s.UpdateRateLimits(map[string]any{"requests_remaining": 10})
	snap, ok := s.RateLimits()
	if !ok {
		t.Fatal("expected a rate limit snapshot after update")
	}
	if snap.Raw["requests_remaining"] != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap.Raw)
	}
}
