package dispatch

import (
	"context"
	"testing"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

func TestExecHandlerRunSuccess(t *testing.T) {
	dir := t.TempDir()
	store := history.NewStore()
	alloc := history.NewAllocator()
	h := &ExecHandler{Store: store, Allocator: alloc, Cwd: dir}

	res, err := h.Run(context.Background(), "call-1", []string{"echo", "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}

	id, ok := store.HistoryIdForCall("call-1")
	if !ok {
		t.Fatal("expected history record for call-1")
	}
	rec, _ := store.Record(id)
	if rec.Exec == nil {
		t.Fatal("expected ExecRecord")
	}
	if rec.Exec.Status != history.ExecSuccess {
		t.Fatalf("status = %v, want success", rec.Exec.Status)
	}
	if string(rec.Exec.Stdout()) != "hello\n" {
		t.Fatalf("stdout = %q, want %q", rec.Exec.Stdout(), "hello\n")
	}
}

func TestExecHandlerRunFailure(t *testing.T) {
	dir := t.TempDir()
	store := history.NewStore()
	alloc := history.NewAllocator()
	h := &ExecHandler{Store: store, Allocator: alloc, Cwd: dir}

	res, err := h.Run(context.Background(), "call-2", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestClassifyAction(t *testing.T) {
	if ClassifyAction("cat foo.txt") != history.ActionRead {
		t.Error("cat should classify as Read")
	}
	if ClassifyAction("rg pattern") != history.ActionSearch {
		t.Error("rg should classify as Search")
	}
	if ClassifyAction("ls -la") != history.ActionList {
		t.Error("ls should classify as List")
	}
	if ClassifyAction("make build") != history.ActionRun {
		t.Error("make should classify as Run")
	}
}

func TestClassifyDangerous(t *testing.T) {
	if !Classify([]string{"git", "reset", "--hard"}).Dangerous {
		t.Error("git reset --hard should be dangerous")
	}
}

