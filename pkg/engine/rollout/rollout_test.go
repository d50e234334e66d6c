package rollout

import (
	"testing"
	"time"
)

func TestCreateAndReadMeta(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	w, err := Create(root, SessionMeta{Cwd: "/tmp/proj", Originator: "cli", CliVersion: "0.1.0", Source: SourceCli}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Append(ItemResponseItem, map[string]string{"role": "user", "text": "hi"}, now); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	meta, err := ReadMeta(w.Path())
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Cwd != "/tmp/proj" {
		t.Fatalf("Cwd = %q", meta.Cwd)
	}

	count, err := CountUserMessages(w.Path())
	if err != nil {
		t.Fatalf("CountUserMessages: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
