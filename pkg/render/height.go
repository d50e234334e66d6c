package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Lines returns the cell's content word-wrapped to width, memoized so a
// later call at the same width is O(1).
func (c *Cell) Lines(width int) []string {
	if width <= 0 {
		width = 1
	}
	if cached, ok := c.linesByWidth[width]; ok {
		return cached
	}
	lines := wrap(c.text, width)
	c.linesByWidth[width] = lines
	return lines
}

// HeightForWidth returns the number of terminal rows the cell occupies at
// width, including any internal newlines in its source text.
func (c *Cell) HeightForWidth(width int) int {
	return len(c.Lines(width))
}

// IsEmpty reports whether this cell currently renders no visible content.
func (c *Cell) IsEmpty() bool { return c.empty }

// wrap splits s on existing newlines, then soft-wraps each resulting line to
// at most width display cells, breaking on whitespace when possible. It
// never cuts a multi-byte rune or a combining cluster mid-way because it
// measures and slices using lipgloss.Width, which already accounts for
// ANSI escapes and wide runes.
func wrap(s string, width int) []string {
	if s == "" {
		return []string{""}
	}
	var out []string
	for _, paragraph := range strings.Split(s, "\n") {
		out = append(out, wrapParagraph(paragraph, width)...)
	}
	return out
}

func wrapParagraph(p string, width int) []string {
	if lipgloss.Width(p) <= width {
		return []string{p}
	}
	words := strings.Split(p, " ")
	var lines []string
	var cur strings.Builder
	curWidth := 0
	for _, w := range words {
		wWidth := lipgloss.Width(w)
		sep := 0
		if cur.Len() > 0 {
			sep = 1
		}
		if curWidth+sep+wWidth > width && cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curWidth = 0
			sep = 0
		}
		if wWidth > width {
			// A single word longer than width: hard-break it by rune.
			for _, seg := range hardBreak(w, width) {
				if cur.Len() > 0 {
					lines = append(lines, cur.String())
					cur.Reset()
					curWidth = 0
				}
				lines = append(lines, seg)
			}
			continue
		}
		if sep == 1 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
		curWidth += sep + wWidth
	}
	if cur.Len() > 0 || len(lines) == 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func hardBreak(w string, width int) []string {
	var segs []string
	runes := []rune(w)
	cur := make([]rune, 0, width)
	curWidth := 0
	for _, r := range runes {
		rw := lipgloss.Width(string(r))
		if curWidth+rw > width && len(cur) > 0 {
			segs = append(segs, string(cur))
			cur = cur[:0]
			curWidth = 0
		}
		cur = append(cur, r)
		curWidth += rw
	}
	if len(cur) > 0 {
		segs = append(segs, string(cur))
	}
	return segs
}
