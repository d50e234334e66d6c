package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
	"github.com/immateria/codex-mod-sub007/pkg/engine/tools"
)

// scriptedLLM returns one predefined stream per Stream() call.
type scriptedLLM struct {
	mu      sync.Mutex
	streams []*fixedStream
}

func (s *scriptedLLM) Stream(ctx context.Context, req LLMRequest) (LLMStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.streams[0]
	s.streams = s.streams[1:]
	return next, nil
}

// concurrencyProbe is a tool that sleeps briefly and records how many
// invocations overlapped.
type concurrencyProbe struct {
	tools.BaseTool
	active  int32
	maxSeen int32
	calls   int32
}

func newConcurrencyProbe() *concurrencyProbe {
	return &concurrencyProbe{
		BaseTool: tools.NewBaseTool("probe", "records overlapping invocations", nil, api.RiskLow),
	}
}

func (p *concurrencyProbe) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	n := atomic.AddInt32(&p.active, 1)
	for {
		seen := atomic.LoadInt32(&p.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&p.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	atomic.AddInt32(&p.active, -1)
	atomic.AddInt32(&p.calls, 1)
	return api.ToolResult{Status: "success", Content: "ok"}, nil
}

type singleToolRegistry struct{ tool Tool }

func (r singleToolRegistry) Get(name string) (Tool, bool) {
	if name == r.tool.Name() {
		return r.tool, true
	}
	return nil, false
}
func (r singleToolRegistry) All() []Tool { return []Tool{r.tool} }

func TestParallelToolCallsDispatchConcurrently(t *testing.T) {
	probe := newConcurrencyProbe()
	llm := &scriptedLLM{streams: []*fixedStream{
		{chunks: []LLMChunk{
			{ToolCall: &api.LLMToolCall{ID: "tc-1", Name: "probe", Args: "{}"}},
			{ToolCall: &api.LLMToolCall{ID: "tc-2", Name: "probe", Args: "{}"}},
			{ToolCall: &api.LLMToolCall{ID: "tc-3", Name: "probe", Args: "{}"}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []LLMChunk{
			{Delta: "all done"},
			{FinishReason: "stop"},
		}},
	}}

	cfg := TurnRunnerConfig{
		LLM:               llm,
		Tools:             singleToolRegistry{tool: probe},
		Policy:            policy.NewDefaultPolicy(),
		SessionStore:      newMemStore[*api.Session](),
		PlanStore:         newMemStore[*api.PlanPayload](),
		ApprovalMode:      api.ModeFullAuto,
		ParallelToolCalls: true,
	}
	r := NewTurnRunner(cfg)
	session := &api.Session{SessionID: "sess-par"}

	events, err := r.Run(context.Background(), session, "run the probes")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var results []string
	for {
		e, err := events.Recv(ctx)
		if err != nil {
			break
		}
		if e.Type == api.EventToolResult && e.ToolResult != nil {
			results = append(results, e.ToolResult.ToolCallID)
		}
	}

	if got := atomic.LoadInt32(&probe.calls); got != 3 {
		t.Fatalf("probe executed %d times, want 3", got)
	}
	if atomic.LoadInt32(&probe.maxSeen) < 2 {
		t.Error("expected at least two probe invocations to overlap")
	}
	// Results join back in the batch's arrival order regardless of which
	// goroutine finished first.
	want := []string{"tc-1", "tc-2", "tc-3"}
	if len(results) != len(want) {
		t.Fatalf("results = %v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, results[i], want[i])
		}
	}
}
