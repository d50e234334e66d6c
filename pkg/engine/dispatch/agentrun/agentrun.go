// Package agentrun manages subordinate agent processes spawned by the
// `agent.*` tool: create/status/wait/result/cancel/list, optional
// git-worktree isolation when writes are enabled, and a bounded wait with
// a default/cap timeout.
package agentrun

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the Pending/Running/Completed/Failed/Cancelled lifecycle
// of one agent run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	defaultWait = 300 * time.Second
	maxWait     = 600 * time.Second
)

// CreateParams is the `{action:"create", create:{...}}` payload.
type CreateParams struct {
	Task       string
	Context    string
	OutputGoal string
	Files      []string
	Models     []string
	Write      bool // when true, the agent runs in an isolated git worktree
	ReadOnly   bool // constrained to the host "code" binary, no worktree
}

// Run tracks one subordinate agent's lifecycle.
type Run struct {
	ID       string
	Status   Status
	Progress string
	Result   string
	Err      error
	Worktree string // empty when ReadOnly or Write is false

	cancel context.CancelFunc
	done   chan struct{}
}

// SourceKind identifies what triggered a batch of agent runs.
type SourceKind string

const (
	SourceManual     SourceKind = "manual"
	SourceAutoReview SourceKind = "auto_review"
)

// Manager is the batch-scoped table of subordinate agent runs.
type Manager struct {
	// WorktreeFactory creates an isolated git worktree for a write-enabled
	// agent and returns its path; nil disables worktree isolation (tests).
	WorktreeFactory func(ctx context.Context) (string, error)
	// Binary is the model CLI invoked for each agent (spawned as a
	// subprocess); CODE_BINARY_PATH selects it for read-only agents of the
	// "code" family.
	Binary string
	// Source marks what created this batch; Auto Review batches keep their
	// spinner but suppress the completion notice.
	Source SourceKind

	mu    sync.Mutex
	runs  map[string]*Run
	batch string
}

// NotifyCompletion reports whether batch-completion notices should be
// emitted for this batch. Manual batches always notify.
func (m *Manager) NotifyCompletion() bool {
	return m.Source != SourceAutoReview
}

// NewManager creates a Manager for one agent.create batch.
func NewManager(binary string) *Manager {
	return &Manager{Binary: binary, runs: make(map[string]*Run), batch: uuid.NewString()}
}

// Create spawns a new subordinate agent and returns its id immediately;
// the agent runs to completion in the background.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	run := &Run{ID: id, Status: StatusPending, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	var worktree string
	if p.Write && !p.ReadOnly && m.WorktreeFactory != nil {
		wt, err := m.WorktreeFactory(ctx)
		if err != nil {
			run.Status = StatusFailed
			run.Err = fmt.Errorf("worktree setup: %w", err)
			close(run.done)
			return id, nil
		}
		worktree = wt
	}
	run.Worktree = worktree

	go m.execute(runCtx, run, p)
	return id, nil
}

func (m *Manager) execute(ctx context.Context, run *Run, p CreateParams) {
	defer close(run.done)
	run.Status = StatusRunning
	run.Progress = "starting"

	prompt := buildPrompt(p)
	model := m.Binary
	if model == "" {
		model = "code"
	}
	args := []string{"run", prompt}
	if len(p.Models) > 0 {
		args = append(args, "--model", p.Models[0])
	}

	cmd := exec.CommandContext(ctx, model, args...)
	if run.Worktree != "" {
		cmd.Dir = run.Worktree
	}
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.Canceled {
		run.Status = StatusCancelled
		return
	}
	if err != nil {
		run.Status = StatusFailed
		run.Err = err
		run.Result = string(out)
		return
	}
	run.Status = StatusCompleted
	run.Result = string(out)
}

func buildPrompt(p CreateParams) string {
	prompt := p.Task
	if p.Context != "" {
		prompt += "\n\ncontext:\n" + p.Context
	}
	if p.OutputGoal != "" {
		prompt += "\n\ngoal:\n" + p.OutputGoal
	}
	for _, f := range p.Files {
		prompt += "\n\nfile: " + f
	}
	return prompt
}

// Status returns the current status and progress of an agent run.
func (m *Manager) Status(id string) (Status, string, error) {
	run, ok := m.get(id)
	if !ok {
		return "", "", fmt.Errorf("agentrun: unknown agent_id %q", id)
	}
	return run.Status, run.Progress, nil
}

// Wait blocks until the run completes or timeout elapses (default 300s,
// capped at 600s), returning whatever status is current when it returns.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (Status, error) {
	run, ok := m.get(id)
	if !ok {
		return "", fmt.Errorf("agentrun: unknown agent_id %q", id)
	}
	if timeout <= 0 {
		timeout = defaultWait
	}
	if timeout > maxWait {
		timeout = maxWait
	}
	select {
	case <-run.done:
		return run.Status, nil
	case <-time.After(timeout):
		return run.Status, nil
	case <-ctx.Done():
		return run.Status, ctx.Err()
	}
}

// Result returns the final output string of a completed run.
func (m *Manager) Result(id string) (string, error) {
	run, ok := m.get(id)
	if !ok {
		return "", fmt.Errorf("agentrun: unknown agent_id %q", id)
	}
	if run.Status != StatusCompleted && run.Status != StatusFailed {
		return "", fmt.Errorf("agentrun: agent %q has not finished (status=%s)", id, run.Status)
	}
	return run.Result, nil
}

// Cancel signals a run to stop.
func (m *Manager) Cancel(id string) error {
	run, ok := m.get(id)
	if !ok {
		return fmt.Errorf("agentrun: unknown agent_id %q", id)
	}
	run.cancel()
	return nil
}

// List returns a snapshot of every run in this batch.
func (m *Manager) List() []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out
}

func (m *Manager) get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}
