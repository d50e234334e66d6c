package agentrun

import (
	"context"
	"testing"
	"time"
)

func TestCreateStatusWaitResult(t *testing.T) {
	m := NewManager("echo")
	id, err := m.Create(context.Background(), CreateParams{Task: "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	status, err := m.Wait(context.Background(), id, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != StatusCompleted && status != StatusFailed {
		t.Fatalf("status = %v, want a terminal status", status)
	}

	if _, err := m.Result(id); err != nil {
		t.Fatalf("Result: %v", err)
	}
}

func TestStatusUnknownAgent(t *testing.T) {
	m := NewManager("echo")
	if _, _, err := m.Status("nope"); err == nil {
		t.Fatal("expected error for unknown agent id")
	}
}

func TestCancel(t *testing.T) {
	m := NewManager("sleep")
	id, _ := m.Create(context.Background(), CreateParams{Task: "5"})
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	status, err := m.Wait(context.Background(), id, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != StatusCancelled && status != StatusFailed {
		t.Fatalf("status = %v, want cancelled or failed after Cancel", status)
	}
}

func TestList(t *testing.T) {
	m := NewManager("echo")
	id, _ := m.Create(context.Background(), CreateParams{Task: "x"})
	m.Wait(context.Background(), id, 2*time.Second)
	runs := m.List()
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
}

func TestNotifyCompletionSuppressedForAutoReview(t *testing.T) {
	m := NewManager("true")
	if !m.NotifyCompletion() {
		t.Error("manual batches should notify on completion")
	}
	m.Source = SourceAutoReview
	if m.NotifyCompletion() {
		t.Error("auto-review batches should suppress the completion notice")
	}
}
