package render

import (
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

func applyOrFail(t *testing.T, store *history.Store, state *HistoryRenderState, ev history.DomainEvent) {
	t.Helper()
	mut, err := store.ApplyDomainEvent(ev)
	if err != nil {
		t.Fatalf("apply %#v: %v", ev, err)
	}
	state.Apply(store, mut)
}

func TestComposeFrameOrderingAndSpacing(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	applyOrFail(t, store, state, history.InsertNotice{Level: "info", Message: "first", Order: alloc.NextSynthetic()})
	applyOrFail(t, store, state, history.InsertNotice{Level: "info", Message: "second", Order: alloc.NextSynthetic()})

	frame := ComposeFrame(store, state, 80, 20, 0)
	if len(frame.Lines) < 3 {
		t.Fatalf("expected notice lines plus a spacer, got %v", frame.Lines)
	}
	// a blank spacer row must separate the two non-empty notices.
	foundBlank := false
	for _, l := range frame.Lines {
		if l == "" {
			foundBlank = true
		}
	}
	if !foundBlank {
		t.Fatalf("expected spacing row between notices, got %v", frame.Lines)
	}
}

func TestComposeFrameViewportClipsToHeight(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	for i := 0; i < 10; i++ {
		applyOrFail(t, store, state, history.InsertBackground{Message: "line", Order: alloc.NextSynthetic()})
	}

	frame := ComposeFrame(store, state, 80, 3, 0)
	if len(frame.Lines) > 3 {
		t.Fatalf("viewport of height 3 produced %d lines", len(frame.Lines))
	}
}

func TestComposeFrameScrollOffsetClampedToTop(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	applyOrFail(t, store, state, history.InsertBackground{Message: "only", Order: alloc.NextSynthetic()})

	frame := ComposeFrame(store, state, 80, 40, 1000)
	if !frame.AtBottom && frame.ViewTop != 0 {
		t.Fatalf("expected clamp to top, got ViewTop=%d", frame.ViewTop)
	}
}

func TestRebuildAppendOnlyFastPath(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()

	applyOrFail(t, store, state, history.InsertNotice{Message: "one", Order: alloc.NextSynthetic()})
	ComposeFrame(store, state, 80, 20, 0)

	before := state.Perf.Total()

	applyOrFail(t, store, state, history.InsertNotice{Message: "two", Order: alloc.NextSynthetic()})
	ComposeFrame(store, state, 80, 20, 0)

	after := state.Perf.Total()
	if after-before != 1 {
		t.Fatalf("append-only path should only measure the new cell once, measured %d", after-before)
	}
}

func TestEnsureWidthRemeasuresOnWidthChange(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	state := NewHistoryRenderState()
	applyOrFail(t, store, state, history.InsertNotice{Message: "hello world this wraps", Order: alloc.NextSynthetic()})

	f1 := ComposeFrame(store, state, 80, 20, 0)
	f2 := ComposeFrame(store, state, 10, 20, 0)
	if len(f2.Lines) <= len(f1.Lines) {
		t.Fatalf("narrower width should wrap into more lines: %v vs %v", f1.Lines, f2.Lines)
	}
}
