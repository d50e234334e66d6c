package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCatalogUpsertAndFind(t *testing.T) {
	cat, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []CatalogEntry{
		{SessionID: "aaa111", Path: "a.jsonl", Cwd: "/proj", UserMessageCount: 5, LastEventAt: base.Add(2 * time.Hour), FileModTime: base},
		{SessionID: "bbb222", Path: "b.jsonl", Cwd: "/proj", UserMessageCount: 1, LastEventAt: base.Add(time.Hour), FileModTime: base},
		{SessionID: "ccc333", Path: "c.jsonl", Cwd: "/other", UserMessageCount: 10, LastEventAt: base.Add(3 * time.Hour), FileModTime: base},
	}
	for _, e := range entries {
		if err := cat.Upsert(e); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := cat.Find(Query{Cwd: "/proj", MinUserMessages: 2})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "aaa111" {
		t.Fatalf("Find result = %+v, want only aaa111", got)
	}
}

func TestCatalogResolvePrefix(t *testing.T) {
	cat, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	now := time.Now()
	cat.Upsert(CatalogEntry{SessionID: "abc123", Path: "x.jsonl", Cwd: "/p", LastEventAt: now, FileModTime: now})

	e, err := cat.ResolvePrefix("abc")
	if err != nil {
		t.Fatalf("ResolvePrefix: %v", err)
	}
	if e.SessionID != "abc123" {
		t.Fatalf("SessionID = %q", e.SessionID)
	}

	if _, err := cat.ResolvePrefix("zzz"); err == nil {
		t.Fatal("expected error for no-match prefix")
	}
}

func TestCatalogOrderingNewestFirst(t *testing.T) {
	cat, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	base := time.Now()
	cat.Upsert(CatalogEntry{SessionID: "old", Path: "o.jsonl", LastEventAt: base, FileModTime: base})
	cat.Upsert(CatalogEntry{SessionID: "new", Path: "n.jsonl", LastEventAt: base.Add(time.Minute), FileModTime: base})

	got, err := cat.Find(Query{Limit: 1})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "new" {
		t.Fatalf("Find = %+v, want newest first", got)
	}
}
