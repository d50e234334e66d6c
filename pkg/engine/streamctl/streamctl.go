// Package streamctl implements the Stream Controller: owns the active
// Answer and Reasoning stream per turn, folds deltas through an
// incremental markup parser, and finalizes records in the History Store
// with citation/plan-block extraction.
package streamctl

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// streamEntry tracks one open stream's accumulated text, independent of
// the Store's own bookkeeping, so the Controller can re-parse markup
// incrementally without re-reading the Store on every delta.
type streamEntry struct {
	id   string
	kind history.StreamKind
	buf  bytes.Buffer
}

// Controller owns at most one open Answer stream and one open Reasoning
// stream at a time, per its state machine.
type Controller struct {
	mu      sync.Mutex
	store   *history.Store
	alloc   *history.Allocator
	open    map[history.StreamKind]*streamEntry
	rawVis  bool // raw-reasoning visibility, set by the caller's config
}

// New creates a Controller writing into store using alloc for OrderKeys.
func New(store *history.Store, alloc *history.Allocator, rawReasoningVisible bool) *Controller {
	return &Controller{
		store:  store,
		alloc:  alloc,
		open:   make(map[history.StreamKind]*streamEntry),
		rawVis: rawReasoningVisible,
	}
}

// BeginStream opens a new stream id for kind. If another stream of the same
// kind is already open, it is finalized first as an implicit close:
// Open --AppendDelta(other id)--> Idle then Open(other). meta is the server
// ordering carried by the opening transport event; nil mints a synthetic
// key instead.
func (c *Controller) BeginStream(kind history.StreamKind, streamID string, meta *history.OrderMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginStreamLocked(kind, streamID, meta)
}

// AppendDelta appends text to the named stream. A delta for a different id
// than the currently open one of the same kind triggers an implicit close
// of the previous stream and opens the new one. The stream's OrderKey is
// the one carried by the delta that opened it; meta on later deltas of an
// already-open stream is ignored.
func (c *Controller) AppendDelta(kind history.StreamKind, streamID, delta string, meta *history.OrderMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.open[kind]
	if !ok || entry.id != streamID {
		c.beginStreamLocked(kind, streamID, meta)
		entry = c.open[kind]
	}
	entry.buf.WriteString(delta)
	c.store.ApplyDomainEvent(history.AppendStreamDelta{StreamID: streamID, Text: delta})
}

// beginStreamLocked is BeginStream's body, callable while c.mu is already
// held (used internally by AppendDelta to avoid a recursive lock).
func (c *Controller) beginStreamLocked(kind history.StreamKind, streamID string, meta *history.OrderMeta) {
	if prev, ok := c.open[kind]; ok && prev.id != streamID {
		c.finalizeLocked(prev, false)
	}
	var order history.OrderKey
	if meta != nil {
		order = c.alloc.OrderKeyFromMeta(*meta)
	} else {
		order = c.alloc.NearTimeKeyForCurrentReq()
	}
	c.store.ApplyDomainEvent(history.BeginStream{Kind: kind, StreamID: streamID, Order: order})
	c.open[kind] = &streamEntry{id: streamID, kind: kind}
}

// FinishStream closes a stream with its final text, extracting citations
// and a plan block for Answer streams via the markup parser.
func (c *Controller) FinishStream(kind history.StreamKind, streamID, finalText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.open[kind]
	if !ok || entry.id != streamID {
		// Already closed or never opened here: still forward to the Store,
		// whose own idempotence handles the no-op case.
		c.store.ApplyDomainEvent(history.FinishStream{StreamID: streamID, FinalText: finalText})
		return
	}
	if finalText != "" {
		entry.buf.Reset()
		entry.buf.WriteString(finalText)
	}
	c.finalizeLocked(entry, true)
}

// TurnInterrupt finalizes any still-open streams as partial:
// Open --TurnInterrupt--> Closed(stream_id) with remaining buffer
// finalized as partial.
func (c *Controller) TurnInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.open {
		c.finalizeLocked(entry, false)
	}
}

func (c *Controller) finalizeLocked(entry *streamEntry, explicit bool) {
	text := entry.buf.String()
	var citations []string
	var planBlock string
	if entry.kind == history.StreamAnswer {
		citations, planBlock = extractMarkup(text)
	}
	c.store.ApplyDomainEvent(history.FinishStream{
		StreamID:  entry.id,
		FinalText: text,
		Citations: citations,
		PlanBlock: planBlock,
	})
	delete(c.open, entry.kind)
	_ = explicit
}

// extractMarkup parses markdown text with goldmark, pulling out link
// destinations as citations and the contents of a fenced code block
// labeled "plan" as the plan block: embedded citations and plan blocks
// are extracted and attached to the closing AssistantMessageRecord.
func extractMarkup(src string) (citations []string, planBlock string) {
	reader := text.NewReader([]byte(src))
	doc := goldmark.New().Parser().Parse(reader)

	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch node := n.(type) {
		case *ast.Link:
			citations = append(citations, string(node.Destination))
		case *ast.FencedCodeBlock:
			if string(node.Language([]byte(src))) == "plan" {
				var buf bytes.Buffer
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value([]byte(src)))
				}
				planBlock = buf.String()
			}
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(doc)
	return citations, planBlock
}

// IsOpen reports whether a stream kind currently has an open buffer.
func (c *Controller) IsOpen(kind history.StreamKind) (streamID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.open[kind]; ok {
		return e.id, true
	}
	return "", false
}

// debugf is a placeholder hook; the real logger is wired in by the caller
// via SetDebugLogger so this package stays dependency-light.
var debugf = func(format string, args ...any) {}

// SetDebugLogger installs a sink for the "late delta dropped" debug trace.
func SetDebugLogger(f func(format string, args ...any)) { debugf = f }

// NoteLateDelta logs a dropped delta for a closed stream id at debug level.
func NoteLateDelta(streamID string) {
	debugf("streamctl: dropping late delta for closed stream %s", streamID)
}
