package runtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
)

func TestShouldRetryAfterError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection closed", errors.New("connection closed by peer"), true},
		{"transport", errors.New("transport error: reset"), true},
		{"timeout", errors.New("request timeout"), true},
		{"no such session", errors.New("no such session"), true},
		{"context destroyed", errors.New("context destroyed"), true},
		{"unrelated", errors.New("invalid api key"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := shouldRetryAfterError(c.err); got != c.want {
				t.Errorf("shouldRetryAfterError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestRetryBackoffRespectsAttemptBudget(t *testing.T) {
	b := newRetryBackoff()
	b.maxAttempts = 2
	if !b.Allow(1) {
		t.Fatal("attempt 1 should be within budget")
	}
	if !b.Allow(2) {
		t.Fatal("attempt 2 should be within budget")
	}
	if b.Allow(3) {
		t.Fatal("attempt 3 should exceed budget")
	}
}

// flakyStreamLLM fails its first Stream() call with a recoverable transport
// error, then succeeds with a short canned response on the retry.
type flakyStreamLLM struct {
	attempts int
}

func (m *flakyStreamLLM) Stream(ctx context.Context, req LLMRequest) (LLMStream, error) {
	m.attempts++
	if m.attempts == 1 {
		return nil, errors.New("transport error: connection reset")
	}
	return &fixedStream{chunks: []LLMChunk{
		{Delta: "hi"},
		{FinishReason: "stop"},
	}}, nil
}

type fixedStream struct {
	chunks []LLMChunk
}

func (s *fixedStream) Recv(ctx context.Context) (LLMChunk, error) {
	if len(s.chunks) == 0 {
		return LLMChunk{}, io.EOF
	}
	ch := s.chunks[0]
	s.chunks = s.chunks[1:]
	return ch, nil
}

func (s *fixedStream) Close() error { return nil }

func TestAgentLoopRetriesAfterRecoverableTransportError(t *testing.T) {
	llm := &flakyStreamLLM{}
	cfg := TurnRunnerConfig{
		LLM:              llm,
		Tools:            emptyToolRegistry{},
		Policy:           policy.NewDefaultPolicy(),
		SessionStore:     newMemStore[*api.Session](),
		PlanStore:        newMemStore[*api.PlanPayload](),
		RetryMaxAttempts: 2,
	}
	r := NewTurnRunner(cfg)
	// Make the backoff interval negligible so the test doesn't wait out the
	// default 500ms spacing between attempts.
	r.retry.limiter = rate.NewLimiter(rate.Inf, 1)
	session := &api.Session{SessionID: "sess-retry"}

	events, err := r.Run(context.Background(), session, "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sawBackground bool
	var sawDone bool
	for {
		e, err := events.Recv(ctx)
		if err != nil {
			break
		}
		if e.Type == api.EventBackground {
			sawBackground = true
		}
		if e.Type == api.EventDone {
			sawDone = true
		}
	}

	if !sawBackground {
		t.Error("expected a background retry notice after the first transport error")
	}
	if !sawDone {
		t.Error("expected the turn to complete after the retry succeeded")
	}
	if llm.attempts < 2 {
		t.Errorf("expected at least 2 stream attempts, got %d", llm.attempts)
	}
}
