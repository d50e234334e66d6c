package render

import (
	"strings"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// Frame is one composed viewport: the visible text plus the scroll metadata
// a caller needs to keep a scrollbar or "jump to bottom" indicator in sync.
type Frame struct {
	Lines       []string
	TotalHeight int
	ViewTop     int // row offset of the first visible line
	AtBottom    bool
}

// ComposeFrame runs the frame algorithm: ensure the prefix-sum cache for
// width, compute total height and the scroll offset,
// walk cells intersecting the viewport, and join their visible slice with
// one blank row between non-empty cells (collapsed-reasoning runs excepted).
//
// scrollOffset is rows from the bottom; 0 means "pinned to bottom" and
// tracks new content as it streams in.
func ComposeFrame(store *history.Store, state *HistoryRenderState, width, height, scrollOffset int) Frame {
	state.Rebuild(store)
	state.EnsureWidth(store, width)

	total := state.TotalHeight()
	viewHeight := height
	if viewHeight <= 0 {
		viewHeight = 1
	}

	maxOffset := total - viewHeight
	if maxOffset < 0 {
		maxOffset = 0
	}
	if scrollOffset > maxOffset {
		scrollOffset = maxOffset
	}
	if scrollOffset < 0 {
		scrollOffset = 0
	}

	viewBottom := total - scrollOffset
	viewTop := viewBottom - viewHeight
	if viewTop < 0 {
		viewTop = 0
	}

	var out []string
	order := state.Order()
	for i := range order {
		spacingRow := state.PrefixAt(i)
		cellTop := state.OffsetAt(i)
		cellHeight := state.HeightAt(i)
		cellBottom := cellTop + cellHeight

		if state.SpacingBefore(i) && spacingRow >= viewTop && spacingRow < viewBottom {
			out = append(out, "")
		}
		if cellBottom <= viewTop || cellTop >= viewBottom {
			continue
		}
		c, ok := state.Cell(order[i])
		if !ok {
			continue
		}
		lines := c.Lines(width)
		for li, line := range lines {
			row := cellTop + li
			if row < viewTop || row >= viewBottom {
				continue
			}
			out = append(out, line)
		}
	}

	return Frame{
		Lines:       out,
		TotalHeight: total,
		ViewTop:     viewTop,
		AtBottom:    scrollOffset == 0,
	}
}

// Render joins a Frame's lines for writing to a frame sink.
func (f Frame) Render() string {
	return strings.Join(f.Lines, "\n")
}
