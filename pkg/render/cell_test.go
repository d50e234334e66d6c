package render

import (
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

func TestWrapSplitsOnWhitespaceAndWidth(t *testing.T) {
	lines := wrap("the quick brown fox jumps", 10)
	for _, l := range lines {
		if len([]rune(l)) > 10 {
			t.Fatalf("line %q exceeds width 10", l)
		}
	}
	if len(lines) < 2 {
		t.Fatalf("expected wrapping to produce multiple lines, got %v", lines)
	}
}

func TestWrapPreservesExplicitNewlines(t *testing.T) {
	lines := wrap("line one\nline two", 80)
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Fatalf("unexpected wrap result: %v", lines)
	}
}

func TestHydrateCellFromRecordKeepsLayoutCacheWhenTextUnchanged(t *testing.T) {
	rec := history.HistoryRecord{
		ID:   1,
		Kind: history.KindNotice,
		Notice: &history.NoticeRecord{Level: "info", Message: "hello"},
	}
	c := BuildCellFromRecord(rec, true)
	_ = c.Lines(40) // populate cache for width 40

	if len(c.linesByWidth) != 1 {
		t.Fatalf("expected one cached width entry, got %d", len(c.linesByWidth))
	}

	// re-hydrate with an identical record: cache must survive.
	HydrateCellFromRecord(c, rec, true)
	if len(c.linesByWidth) != 1 {
		t.Fatalf("cache should survive a no-op hydrate, got %d entries", len(c.linesByWidth))
	}

	// re-hydrate with changed text: cache must be dropped.
	rec2 := rec
	rec2.Notice = &history.NoticeRecord{Level: "info", Message: "goodbye"}
	HydrateCellFromRecord(c, rec2, true)
	if len(c.linesByWidth) != 0 {
		t.Fatalf("cache should be dropped when text changes, got %d entries", len(c.linesByWidth))
	}
}

func TestIsEmptyForBlankRecord(t *testing.T) {
	rec := history.HistoryRecord{ID: 1, Kind: history.KindBackground, Background: &history.BackgroundRecord{Message: ""}}
	if !IsEmpty(rec) {
		t.Fatal("expected empty background record to report IsEmpty")
	}
}
