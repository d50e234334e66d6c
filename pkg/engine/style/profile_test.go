package style

import "testing"

func TestLoadMissingReturnsDefault(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p, err := s.Load("default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Ruleset != RulesetAuto {
		t.Fatalf("ruleset = %v, want auto default", p.Ruleset)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := Profile{Name: "strict", Ruleset: RulesetWindows, McpInclude: []string{"a"}, McpExclude: []string{"b"}}
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("strict")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Ruleset != RulesetWindows || len(got.McpInclude) != 1 || got.McpInclude[0] != "a" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPersistMcpLists(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.PersistMcpLists("default", []string{"srv1"}, nil); err != nil {
		t.Fatalf("PersistMcpLists: %v", err)
	}
	got, _ := s.Load("default")
	if len(got.McpInclude) != 1 || got.McpInclude[0] != "srv1" {
		t.Fatalf("McpInclude = %v", got.McpInclude)
	}
}
