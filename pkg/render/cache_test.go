package render

import (
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

func TestStreamingUpdateHydratesInPlace(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	applyOrFail(t, store, state, history.BeginStream{Kind: history.StreamAnswer, StreamID: "s1", Order: alloc.NextSynthetic()})
	applyOrFail(t, store, state, history.AppendStreamDelta{StreamID: "s1", Text: "hello"})

	recs := store.RecordsInOrder()
	id := recs[0].ID
	cBefore, ok := state.Cell(id)
	if !ok {
		t.Fatal("expected a cell for the open stream")
	}
	_ = cBefore.Lines(40)

	applyOrFail(t, store, state, history.AppendStreamDelta{StreamID: "s1", Text: " world"})

	cAfter, ok := state.Cell(id)
	if !ok {
		t.Fatal("expected the cell to still exist")
	}
	if cAfter != cBefore {
		t.Fatal("expected the same Cell identity to be reused across hydration (in-place mutation)")
	}
}

func TestSetReasoningVisibleChangesRenderedText(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	order := alloc.OrderKeyFromMeta(history.OrderMeta{RequestOrdinal: 1})
	_, err := store.ApplyDomainEvent(history.BeginStream{Kind: history.StreamReasoning, StreamID: "r1", Order: order})
	if err != nil {
		t.Fatal(err)
	}
	mut, err := store.ApplyDomainEvent(history.AppendStreamDelta{StreamID: "r1", Text: "first thought"})
	if err != nil {
		t.Fatal(err)
	}
	state.Apply(store, mut)
	mut, err = store.ApplyDomainEvent(history.FinishStream{StreamID: "r1", FinalText: "first thought"})
	if err != nil {
		t.Fatal(err)
	}
	state.Apply(store, mut)

	recs := store.RecordsInOrder()
	id := recs[0].ID
	c, _ := state.Cell(id)
	collapsed := c.text

	state.SetReasoningVisible(store, true)
	c, _ = state.Cell(id)
	if c.text == collapsed {
		t.Fatal("expected reasoning text to change when becoming visible")
	}
}

func TestPerfSamplerCounts(t *testing.T) {
	p := NewPerfSampler()
	p.Record("notice", 80)
	p.Record("notice", 80)
	p.Record("notice", 40)
	if p.Count("notice", 80) != 2 {
		t.Fatalf("expected 2 samples, got %d", p.Count("notice", 80))
	}
	if p.Total() != 3 {
		t.Fatalf("expected total 3, got %d", p.Total())
	}
	p.Reset()
	if p.Total() != 0 {
		t.Fatal("expected reset to clear samples")
	}
}
