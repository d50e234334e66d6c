package runtime

import (
	"context"
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
	"github.com/immateria/codex-mod-sub007/pkg/engine/store"
	"github.com/immateria/codex-mod-sub007/pkg/engine/streamctl"
)

// memStore is a minimal in-memory store.Store[T] used only by this test.
type memStore[T any] struct {
	values map[string]T
}

func newMemStore[T any]() *memStore[T] {
	return &memStore[T]{values: make(map[string]T)}
}

func (m *memStore[T]) Get(ctx context.Context, id string) (T, error) {
	v, ok := m.values[id]
	if !ok {
		var zero T
		return zero, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore[T]) Put(ctx context.Context, id string, value T) error {
	m.values[id] = value
	return nil
}

func (m *memStore[T]) Del(ctx context.Context, id string) error {
	delete(m.values, id)
	return nil
}

func (m *memStore[T]) List(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	return out, nil
}

type emptyToolRegistry struct{}

func (emptyToolRegistry) Get(name string) (Tool, bool) { return nil, false }
func (emptyToolRegistry) All() []Tool                  { return nil }

func newTestTurnRunner(t *testing.T, h *history.Store, alloc *history.Allocator, sc *streamctl.Controller) (*TurnRunner, *api.Session) {
	t.Helper()
	cfg := TurnRunnerConfig{
		LLM:          &MockLLM{},
		Tools:        emptyToolRegistry{},
		Policy:       policy.NewDefaultPolicy(),
		SessionStore: newMemStore[*api.Session](),
		PlanStore:    newMemStore[*api.PlanPayload](),
		History:      h,
		Allocator:    alloc,
		Stream:       sc,
	}
	r := NewTurnRunner(cfg)
	session := &api.Session{SessionID: "sess-1"}
	return r, session
}

func TestTurnRunnerMirrorsAssistantTextIntoHistory(t *testing.T) {
	h := history.NewStore()
	alloc := history.NewAllocator()
	sc := streamctl.New(h, alloc, false)

	r, session := newTestTurnRunner(t, h, alloc, sc)

	events, err := r.Run(context.Background(), session, "hello there")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx := context.Background()
	for {
		if _, err := events.Recv(ctx); err != nil {
			break
		}
	}

	recs := h.RecordsInOrder()
	var found *history.HistoryRecord
	for i := range recs {
		if recs[i].Assistant != nil {
			found = &recs[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected an assistant stream record, got %+v", recs)
	}
	if found.Assistant.InProgress {
		t.Fatal("assistant stream should be finalized once the turn completes")
	}
	if found.Assistant.Text == "" {
		t.Fatal("expected non-empty assistant text mirrored from the mock LLM")
	}
}
