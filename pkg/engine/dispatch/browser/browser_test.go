package browser

import (
	"context"
	"testing"
)

func TestURLMatches(t *testing.T) {
	cases := []struct {
		current, target string
		want             bool
	}{
		{"https://x", "https://x", true},
		{"https://x/page", "https://x", true},
		{"https://y", "https://x", false},
	}
	for _, c := range cases {
		if got := urlMatches(c.current, c.target); got != c.want {
			t.Errorf("urlMatches(%q, %q) = %v, want %v", c.current, c.target, got, c.want)
		}
	}
}

func TestIsRecoverableTransportError(t *testing.T) {
	if !isRecoverableTransportError(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be recoverable")
	}
}

func TestManagerInitialState(t *testing.T) {
	m := NewManager("ws://example/devtools", false)
	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %v, want Disconnected", m.State())
	}
}
