package streamctl

import (
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

func TestBeginAppendFinish(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	c := New(store, alloc, false)

	c.BeginStream(history.StreamAnswer, "s1", nil)
	c.AppendDelta(history.StreamAnswer, "s1", "hello ", nil)
	c.AppendDelta(history.StreamAnswer, "s1", "world", nil)
	c.FinishStream(history.StreamAnswer, "s1", "")

	recs := store.RecordsInOrder()
	if len(recs) != 1 || recs[0].Assistant == nil {
		t.Fatalf("expected one assistant record, got %+v", recs)
	}
	if recs[0].Assistant.Text != "hello world" {
		t.Fatalf("text = %q", recs[0].Assistant.Text)
	}
	if recs[0].Assistant.InProgress {
		t.Fatal("should be finalized")
	}
}

func TestStreamClosedAfterFinish(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	c := New(store, alloc, false)

	c.BeginStream(history.StreamAnswer, "s1", nil)
	c.AppendDelta(history.StreamAnswer, "s1", "hi", nil)
	c.FinishStream(history.StreamAnswer, "s1", "")

	if !store.IsStreamClosed("s1") {
		t.Fatal("stream should be closed")
	}
}

func TestImplicitCloseOnOtherID(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	c := New(store, alloc, false)

	c.BeginStream(history.StreamAnswer, "s1", nil)
	c.AppendDelta(history.StreamAnswer, "s1", "first", nil)
	c.AppendDelta(history.StreamAnswer, "s2", "second", nil)

	if !store.IsStreamClosed("s1") {
		t.Fatal("s1 should have been implicitly closed")
	}
	if _, ok := c.IsOpen(history.StreamAnswer); !ok {
		t.Fatal("s2 should now be open")
	}
}

func TestExtractCitationsAndPlanBlock(t *testing.T) {
	src := "See [docs](https://example.com/docs) for more.\n\n```plan\n1. do a thing\n```\n"
	citations, plan := extractMarkup(src)
	if len(citations) != 1 || citations[0] != "https://example.com/docs" {
		t.Fatalf("citations = %v", citations)
	}
	if plan != "1. do a thing\n" {
		t.Fatalf("plan = %q", plan)
	}
}

func TestFirstDeltaMetaSetsStreamOrderKey(t *testing.T) {
	store := history.NewStore()
	alloc := history.NewAllocator()
	alloc.BeginRequest(3)
	c := New(store, alloc, false)

	outIdx := int32(0)
	seq := uint64(5)
	c.AppendDelta(history.StreamAnswer, "s1", "hello", &history.OrderMeta{
		RequestOrdinal: 3,
		OutputIndex:    &outIdx,
		SequenceNumber: &seq,
	})
	// Later deltas carry newer sequence numbers; the stream keeps the key
	// of the delta that opened it.
	seq2 := uint64(6)
	c.AppendDelta(history.StreamAnswer, "s1", " world", &history.OrderMeta{
		RequestOrdinal: 3,
		OutputIndex:    &outIdx,
		SequenceNumber: &seq2,
	})
	c.FinishStream(history.StreamAnswer, "s1", "")

	recs := store.RecordsInOrder()
	if len(recs) != 1 || recs[0].Assistant == nil {
		t.Fatalf("expected one assistant record, got %+v", recs)
	}
	order := recs[0].Order
	if order.RequestOrdinal != 3 || order.OutputIndex != 0 || order.SequenceNumber != 5 {
		t.Fatalf("order = %+v, want the first delta's server key (3, 0, 5)", order)
	}
}
