// Package render implements the Renderer: a virtualized
// terminal view over the History Store. The renderer holds no authoritative
// state of its own — it projects HistoryRecords into Cells, caches their
// per-width heights, and composes the visible window on demand.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// Cell is the renderer's projection of one HistoryRecord. It caches its
// rendered lines per width so re-rendering an unchanged record at an
// unchanged width is free.
type Cell struct {
	ID               history.HistoryId
	Kind             history.RecordKind
	ReasoningVisible bool

	text  string
	empty bool

	// linesByWidth memoizes word-wrapped output so HeightForWidth doesn't
	// re-wrap on every frame; invalidated whenever the backing record
	// mutates (Hydrate) or the theme epoch changes.
	linesByWidth map[int][]string
}

var (
	styleNotice     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleBackground = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	styleReasoning  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleExecOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	styleExecErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	styleUser       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("219"))
	stylePlan       = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
)

// BuildCellFromRecord constructs a fresh Cell for a record. reasoningVisible
// controls whether ReasoningRecord sections render their raw content or a
// one-line collapsed summary — the renderer only ever shows raw reasoning
// when the caller opted in.
func BuildCellFromRecord(rec history.HistoryRecord, reasoningVisible bool) *Cell {
	c := &Cell{ID: rec.ID, Kind: rec.Kind, linesByWidth: make(map[int][]string)}
	HydrateCellFromRecord(c, rec, reasoningVisible)
	return c
}

// HydrateCellFromRecord mutates an existing Cell in place so its identity
// (and any layout cache for widths that didn't change) survives a streaming
// update — this is the hydrate-in-place half of the cell contract.
// Per-width line caches are dropped only when the rendered text actually
// changed, so a mutation to a *different* record never costs this one its
// cache.
func HydrateCellFromRecord(c *Cell, rec history.HistoryRecord, reasoningVisible bool) {
	c.ID = rec.ID
	c.Kind = rec.Kind
	c.ReasoningVisible = reasoningVisible
	text := plainText(rec, reasoningVisible)
	if text != c.text || c.linesByWidth == nil {
		c.linesByWidth = make(map[int][]string)
	}
	c.text = text
	c.empty = strings.TrimSpace(lipgloss.NewStyle().Render(text)) == ""
}

// plainText renders the cell body without wrapping (some kinds carry their
// lipgloss style), used by the wrapper to compute wrapped lines and by tests
// to assert on content.
func plainText(rec history.HistoryRecord, reasoningVisible bool) string {
	switch rec.Kind {
	case history.KindUserMessage:
		if rec.UserMessage != nil {
			return styleUser.Render("> " + *rec.UserMessage)
		}
		return ""
	case history.KindAssistantStream:
		if rec.Assistant == nil {
			return ""
		}
		text := rec.Assistant.Text
		if rec.Assistant.InProgress {
			text += " ▌"
		}
		return text
	case history.KindReasoning:
		if rec.Reasoning == nil {
			return ""
		}
		if !reasoningVisible {
			return styleReasoning.Render(fmt.Sprintf("▸ thinking (%d sections)", len(rec.Reasoning.Sections)))
		}
		return styleReasoning.Render(strings.Join(rec.Reasoning.Sections, "\n\n"))
	case history.KindExec:
		return execLine(rec.Exec)
	case history.KindMergedExec:
		if rec.MergedExec == nil {
			return ""
		}
		lines := make([]string, 0, len(rec.MergedExec.Segments))
		for i := range rec.MergedExec.Segments {
			lines = append(lines, execLine(&rec.MergedExec.Segments[i]))
		}
		return strings.Join(lines, "\n")
	case history.KindExploreAggregate:
		return exploreLine(rec.ExploreAggregate)
	case history.KindToolCall:
		if rec.ToolCall == nil {
			return ""
		}
		return fmt.Sprintf("🔧 %s (%s)", rec.ToolCall.ToolName, rec.ToolCall.Status)
	case history.KindPatch:
		if rec.Patch == nil {
			return ""
		}
		return fmt.Sprintf("patch: +%d -%d across %d files", rec.Patch.Added, rec.Patch.Removed, len(rec.Patch.Files))
	case history.KindImage:
		if rec.ImagePath != nil {
			return fmt.Sprintf("[image: %s]", *rec.ImagePath)
		}
		return "[image]"
	case history.KindNotice:
		if rec.Notice == nil {
			return ""
		}
		return styleNotice.Render(fmt.Sprintf("● %s", rec.Notice.Message))
	case history.KindBackground:
		if rec.Background == nil {
			return ""
		}
		return styleBackground.Render(rec.Background.Message)
	case history.KindPlanUpdate:
		return planLine(rec.PlanUpdate)
	case history.KindRateLimit:
		return "rate limits updated"
	default:
		return ""
	}
}

func execLine(e *history.ExecRecord) string {
	if e == nil {
		return ""
	}
	style := styleExecOK
	status := string(e.Status)
	if e.Status == history.ExecError || e.Status == history.ExecNotFound {
		style = styleExecErr
	}
	cmd := strings.Join(e.Command, " ")
	if e.ExitCode != nil {
		return style.Render(fmt.Sprintf("$ %s  [%s, exit %d]", cmd, status, *e.ExitCode))
	}
	return style.Render(fmt.Sprintf("$ %s  [%s]", cmd, status))
}

func exploreLine(agg *history.ExploreAggregationRecord) string {
	if agg == nil {
		return ""
	}
	parts := make([]string, 0, len(agg.Entries))
	for _, e := range agg.Entries {
		parts = append(parts, fmt.Sprintf("%s:%s", e.Action, e.Status))
	}
	return styleReasoning.Render("explore " + strings.Join(parts, ", "))
}

func planLine(p *history.PlanUpdateRecord) string {
	if p == nil {
		return ""
	}
	lines := make([]string, 0, len(p.Items)+1)
	lines = append(lines, stylePlan.Render("plan:"))
	for _, it := range p.Items {
		mark := " "
		switch it.Status {
		case "completed", "done":
			mark = "x"
		case "in_progress":
			mark = "~"
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", mark, it.Text))
	}
	return strings.Join(lines, "\n")
}

// IsEmpty reports whether a record renders to no visible content, used by
// the frame algorithm to decide whether to insert inter-cell spacing.
func IsEmpty(rec history.HistoryRecord) bool {
	return strings.TrimSpace(lipgloss.NewStyle().Render(plainText(rec, true))) == ""
}

// IsCollapsedReasoning reports whether rec is a Reasoning record currently
// rendered in its one-line collapsed form, used by the frame algorithm to
// suppress spacing between consecutive collapsed reasoning cells.
func IsCollapsedReasoning(rec history.HistoryRecord, reasoningVisible bool) bool {
	return rec.Kind == history.KindReasoning && !reasoningVisible
}
