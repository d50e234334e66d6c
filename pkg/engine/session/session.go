// Package session implements per-connection Session State: the
// initialize gate, opted-out notification methods, pending user-input
// single-shot channel, MCP access snapshot, and rate-limit snapshots.
package session

import (
	"fmt"
	"sync"

	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
)

// ErrNotInitialized is returned by any method before Initialize succeeds,
// matching the "-32600 Not initialized" contract at the RPC layer.
var ErrNotInitialized = fmt.Errorf("Not initialized")

// PendingInput is a single-shot question awaiting a user answer, registered
// under the active turn id.
type PendingInput struct {
	TurnID  string
	Prompt  string
	Options []string
	answer  chan string
}

// RateLimitSnapshot mirrors the most recent transport rate-limit payload.
type RateLimitSnapshot struct {
	Raw map[string]any
}

// Session is one client connection's state.
type Session struct {
	mu sync.Mutex

	ConnectionID string
	initialized  bool

	optedOutMethods map[string]bool

	mcp *policy.McpAccessManager

	pendingInput map[string]*PendingInput // keyed by turn id

	rateLimits *RateLimitSnapshot
}

// New creates an uninitialized Session.
func New(connectionID string, mcp *policy.McpAccessManager) *Session {
	return &Session{
		ConnectionID:    connectionID,
		optedOutMethods: make(map[string]bool),
		mcp:             mcp,
		pendingInput:    make(map[string]*PendingInput),
	}
}

// Initialize marks the session ready to accept non-initialize RPC calls
// and records the opted-out notification methods from the client's
// capabilities payload.
func (s *Session) Initialize(optOutMethods []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	for _, m := range optOutMethods {
		s.optedOutMethods[m] = true
	}
}

// Initialized reports whether Initialize has been called.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// RequireInitialized returns ErrNotInitialized if Initialize has not yet
// been called; every RPC method other than "initialize" calls this first.
func (s *Session) RequireInitialized() error {
	if !s.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

// OptedOut reports whether the client asked not to receive notifications
// of the given method.
func (s *Session) OptedOut(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optedOutMethods[method]
}

// RegisterPendingInput creates a single-shot answer channel for a turn. A
// second concurrent registration for the same turn id is rejected: a
// second concurrent prompt for the same turn is rejected.
func (s *Session) RegisterPendingInput(turnID, prompt string, options []string) (*PendingInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pendingInput[turnID]; exists {
		return nil, fmt.Errorf("session: turn %q already has a pending input request", turnID)
	}
	pi := &PendingInput{TurnID: turnID, Prompt: prompt, Options: options, answer: make(chan string, 1)}
	s.pendingInput[turnID] = pi
	return pi, nil
}

// AnswerPendingInput delivers an answer and releases the slot for turnID.
func (s *Session) AnswerPendingInput(turnID, answer string) error {
	s.mu.Lock()
	pi, ok := s.pendingInput[turnID]
	if ok {
		delete(s.pendingInput, turnID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: no pending input for turn %q", turnID)
	}
	pi.answer <- answer
	close(pi.answer)
	return nil
}

// Wait blocks until the answer channel receives a value.
func (p *PendingInput) Wait() string {
	return <-p.answer
}

// McpAccess returns the session's MCP access manager.
func (s *Session) McpAccess() *policy.McpAccessManager {
	return s.mcp
}

// UpdateRateLimits stores the latest rate-limit snapshot from the
// transport's `RateLimits(snapshot)` event.
func (s *Session) UpdateRateLimits(raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimits = &RateLimitSnapshot{Raw: raw}
}

// RateLimits returns the most recent snapshot, if any.
func (s *Session) RateLimits() (RateLimitSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rateLimits == nil {
		return RateLimitSnapshot{}, false
	}
	return *s.rateLimits, true
}
