package render

import (
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// HistoryRenderState is the renderer's cell + prefix-sum cache: one Cell
// per HistoryId, plus width-keyed prefix
// sums of cell heights so the frame algorithm can locate the viewport
// window without re-measuring every cell on every draw.
type HistoryRenderState struct {
	cells   map[history.HistoryId]*Cell
	order   []history.HistoryId // ids in render order, mirrors Store.RecordsInOrder
	reasoningVisible bool

	width       int
	themeEpoch  int
	prefixSums  []int // prefixSums[i] = total height of order[:i]
	spacingRows []int // spacingRows[i] = 1 if a blank row was inserted after order[i]

	Perf *PerfSampler
}

// NewHistoryRenderState creates an empty cache.
func NewHistoryRenderState() *HistoryRenderState {
	return &HistoryRenderState{
		cells: make(map[history.HistoryId]*Cell),
		Perf:  NewPerfSampler(),
	}
}

// SetReasoningVisible toggles whether Reasoning cells render expanded; it
// re-hydrates every cached cell from store since a Reasoning record's text
// depends on it: reasoning_visible is part of the cache key.
func (s *HistoryRenderState) SetReasoningVisible(store *history.Store, v bool) {
	if v == s.reasoningVisible {
		return
	}
	s.reasoningVisible = v
	for id, c := range s.cells {
		if rec, ok := store.Record(id); ok {
			HydrateCellFromRecord(c, rec, s.reasoningVisible)
		}
	}
	s.invalidateLayout()
}

// BumpThemeEpoch invalidates every cell's layout cache, used when the
// terminal theme changes: theme_epoch is part of the cache key.
func (s *HistoryRenderState) BumpThemeEpoch() {
	s.themeEpoch++
	for _, c := range s.cells {
		c.linesByWidth = make(map[int][]string)
	}
	s.invalidateLayout()
}

func (s *HistoryRenderState) invalidateLayout() {
	s.prefixSums = nil
	s.spacingRows = nil
}

// Apply projects mut's touched ids from store into the cell cache: inserted
// ids get a fresh Cell, replaced/updated ids are hydrated in place so their
// layout cache survives where possible. It must be called after every
// Store.ApplyDomainEvent so the cache never drifts from the authoritative
// history.
func (s *HistoryRenderState) Apply(store *history.Store, mut history.Mutation) {
	switch mut.Kind {
	case history.MutationNoop:
		return
	case history.MutationInserted:
		for _, id := range mut.IDs {
			rec, ok := store.Record(id)
			if !ok {
				continue
			}
			s.cells[id] = BuildCellFromRecord(rec, s.reasoningVisible)
		}
		s.Rebuild(store)
	case history.MutationReplaced, history.MutationUpdated:
		for _, id := range mut.IDs {
			rec, ok := store.Record(id)
			if !ok {
				continue
			}
			if c, ok := s.cells[id]; ok {
				HydrateCellFromRecord(c, rec, s.reasoningVisible)
			} else {
				s.cells[id] = BuildCellFromRecord(rec, s.reasoningVisible)
			}
		}
		s.invalidateLayout()
	}
}

// Rebuild resyncs the render-order slice from the store. It is cheap to
// call after every mutation: appends are detected and only the new tail is
// measured (the opportunistic append-only fast path), everything else
// falls back to a full rebuild.
func (s *HistoryRenderState) Rebuild(store *history.Store) {
	recs := store.RecordsInOrder()
	newOrder := make([]history.HistoryId, len(recs))
	for i, r := range recs {
		newOrder[i] = r.ID
	}

	appendOnly := len(newOrder) >= len(s.order)
	if appendOnly {
		for i := range s.order {
			if s.order[i] != newOrder[i] {
				appendOnly = false
				break
			}
		}
	}

	if appendOnly && s.width != 0 && s.prefixSums != nil {
		for _, rec := range recs[len(s.order):] {
			if _, ok := s.cells[rec.ID]; !ok {
				s.cells[rec.ID] = BuildCellFromRecord(rec, s.reasoningVisible)
			}
		}
		s.order = newOrder
		s.extendPrefixSums(recs)
		return
	}

	s.order = newOrder
	s.invalidateLayout()
}

// EnsureWidth rebuilds the prefix-sum cache for width if it is stale
// (frame algorithm step 1).
func (s *HistoryRenderState) EnsureWidth(store *history.Store, width int) {
	if width == s.width && s.prefixSums != nil && len(s.prefixSums) == len(s.order)+1 {
		return
	}
	s.width = width
	s.prefixSums = make([]int, len(s.order)+1)
	s.spacingRows = make([]int, len(s.order))
	s.recomputeFrom(0)
}

func (s *HistoryRenderState) recomputeFrom(start int) {
	if start == 0 {
		s.prefixSums[0] = 0
	}
	for i := start; i < len(s.order); i++ {
		c := s.cells[s.order[i]]
		h := 0
		if c != nil {
			h = c.HeightForWidth(s.width)
			if s.Perf != nil {
				s.Perf.Record(string(c.Kind), s.width)
			}
		}
		spacing := 0
		if i > 0 && s.hasSpacingBefore(i) {
			spacing = 1
		}
		s.spacingRows[i] = spacing
		s.prefixSums[i+1] = s.prefixSums[i] + spacing + h
	}
}

// hasSpacingBefore reports whether a blank row separates order[i] from the
// previous visible cell: one row between non-empty cells, none between
// consecutive collapsed reasoning cells (frame algorithm step 3).
func (s *HistoryRenderState) hasSpacingBefore(i int) bool {
	cur := s.cells[s.order[i]]
	if cur == nil || cur.IsEmpty() {
		return false
	}
	for j := i - 1; j >= 0; j-- {
		prev := s.cells[s.order[j]]
		if prev == nil || prev.IsEmpty() {
			continue
		}
		if prev.Kind == history.KindReasoning && cur.Kind == history.KindReasoning &&
			!s.reasoningVisible {
			return false
		}
		return true
	}
	return false
}

func (s *HistoryRenderState) extendPrefixSums(recs []history.HistoryRecord) {
	start := len(s.prefixSums) - 1
	s.prefixSums = append(s.prefixSums, make([]int, len(recs)-start)...)
	s.spacingRows = append(s.spacingRows, make([]int, len(recs)-start)...)
	s.recomputeFrom(start)
}

// TotalHeight returns the total content height at the cached width.
func (s *HistoryRenderState) TotalHeight() int {
	if len(s.prefixSums) == 0 {
		return 0
	}
	return s.prefixSums[len(s.prefixSums)-1]
}

// Order returns the current render-order id slice (read-only).
func (s *HistoryRenderState) Order() []history.HistoryId { return s.order }

// Cell returns the cached Cell for id, if any.
func (s *HistoryRenderState) Cell(id history.HistoryId) (*Cell, bool) {
	c, ok := s.cells[id]
	return c, ok
}

// HeightAt returns the cell height (excluding leading spacing) for order
// index i at the cached width.
func (s *HistoryRenderState) HeightAt(i int) int {
	if i < 0 || i+1 >= len(s.prefixSums) {
		return 0
	}
	spacing := s.spacingRows[i]
	return s.prefixSums[i+1] - s.prefixSums[i] - spacing
}

// SpacingBefore reports whether a blank row precedes order index i.
func (s *HistoryRenderState) SpacingBefore(i int) bool {
	if i < 0 || i >= len(s.spacingRows) {
		return false
	}
	return s.spacingRows[i] == 1
}

// PrefixAt returns the cumulative row offset of order index i, i.e. the row
// a spacing line before it (if any) would occupy.
func (s *HistoryRenderState) PrefixAt(i int) int {
	if i < 0 || i >= len(s.prefixSums) {
		return 0
	}
	return s.prefixSums[i]
}

// OffsetAt returns the cumulative row offset (including spacing) of order
// index i's first content row.
func (s *HistoryRenderState) OffsetAt(i int) int {
	if i < 0 || i >= len(s.prefixSums) {
		return 0
	}
	spacing := 0
	if i < len(s.spacingRows) {
		spacing = s.spacingRows[i]
	}
	return s.prefixSums[i] + spacing
}
