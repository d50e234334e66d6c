package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAutoDriveDone(t *testing.T) {
	cases := []struct {
		reply string
		done  bool
	}{
		{"done", true},
		{"  Done  ", true},
		{"Done. All tests pass.", true},
		{"", true},
		{"still working on the parser", false},
		{"done is a word I will use later", false},
	}
	for _, c := range cases {
		if got := autoDriveDone(c.reply); got != c.done {
			t.Errorf("autoDriveDone(%q) = %v, want %v", c.reply, got, c.done)
		}
	}
}

func TestOutputSchemaSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(path, []byte(`{"type":"object"}`), 0644); err != nil {
		t.Fatal(err)
	}
	suffix, err := outputSchemaSuffix(path)
	if err != nil {
		t.Fatalf("outputSchemaSuffix: %v", err)
	}
	if !strings.Contains(suffix, `{"type":"object"}`) {
		t.Errorf("suffix missing schema body: %q", suffix)
	}
}

func TestOutputSchemaSuffixRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := outputSchemaSuffix(path); err == nil {
		t.Error("expected an error for invalid JSON schema")
	}
}

func TestBuildReviewPromptIncludesDiffAndFocus(t *testing.T) {
	prompt := buildReviewPrompt("uncommitted working-tree changes", "+added line\n", []string{"focus on error handling"})
	if !strings.Contains(prompt, "```diff") {
		t.Error("prompt missing diff fence")
	}
	if !strings.Contains(prompt, "+added line") {
		t.Error("prompt missing diff body")
	}
	if !strings.Contains(prompt, "focus on error handling") {
		t.Error("prompt missing reviewer focus")
	}
}
