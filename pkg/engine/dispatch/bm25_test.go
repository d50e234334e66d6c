package dispatch

import "testing"

func TestBM25RanksExactMatchHigher(t *testing.T) {
	idx := NewToolIndex([]McpToolDoc{
		{QualifiedName: "fs.read_file", Server: "fs", Tool: "read_file", Description: "read a file from disk"},
		{QualifiedName: "net.fetch", Server: "net", Tool: "fetch", Description: "fetch a URL over http"},
	})
	results := idx.Search("read file", 5)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Doc.Tool != "read_file" {
		t.Fatalf("top result = %q, want read_file", results[0].Doc.Tool)
	}
}

func TestBM25NoOverlapExcluded(t *testing.T) {
	idx := NewToolIndex([]McpToolDoc{
		{QualifiedName: "fs.read_file", Description: "read a file"},
	})
	results := idx.Search("zzz_nonexistent_term", 5)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestBM25TopK(t *testing.T) {
	idx := NewToolIndex([]McpToolDoc{
		{Tool: "a", Description: "search tool alpha"},
		{Tool: "b", Description: "search tool beta"},
		{Tool: "c", Description: "search tool gamma"},
	})
	results := idx.Search("search tool", 2)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}
