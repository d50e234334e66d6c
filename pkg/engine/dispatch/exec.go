// Package dispatch implements the Tool Dispatcher's handler catalog:
// one handler per tool name, each writing to the History Store only
// through its typed domain-event API.
package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy/commandsafety"
)

// ExecHandler runs a shell command under the sandbox policy, streaming
// stdout/stderr into an ExecRecord by offset and merging/folding the
// completed record per the Store's merge policy.
type ExecHandler struct {
	Store     *history.Store
	Allocator *history.Allocator
	Cwd       string
	Shell     string // runs single-string commands; defaults to "sh"
}

// ExecAction classifies the command for the merge policy. A caller that
// already knows the verb (ls/read/grep/...) should pass it explicitly;
// ClassifyAction offers a best-effort fallback for raw shell strings.
func ClassifyAction(command string) history.ExecAction {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return history.ActionRun
	}
	switch strings.TrimSuffix(fields[0], ".exe") {
	case "cat", "head", "tail", "less", "more":
		return history.ActionRead
	case "grep", "rg", "ag", "ack":
		return history.ActionSearch
	case "ls", "find", "tree", "dir":
		return history.ActionList
	default:
		return history.ActionRun
	}
}

// Result is what the handler returns to the caller (Turn Runner / approval
// flow) after a completed run; the authoritative state lives in the Store.
type Result struct {
	CallID   string
	ExitCode int
}

// Run executes command under ctx, emitting BeginExec/AppendExecStdout/
// AppendExecStderr/FinishExec domain events as output arrives. It does not
// itself consult approval policy — the dispatcher calls Classify before
// Run and gates on the caller's approval decision.
func (h *ExecHandler) Run(ctx context.Context, callID string, command []string) (Result, error) {
	cwd := h.Cwd
	action := ClassifyAction(strings.Join(command, " "))
	order := h.Allocator.NearTimeKeyForCurrentReq()

	if _, err := h.Store.ApplyDomainEvent(history.BeginExec{
		CallID: callID, Command: command, Cwd: cwd, Action: action, Order: order,
	}); err != nil {
		return Result{}, err
	}

	var cmd *exec.Cmd
	if len(command) <= 1 {
		shell := h.Shell
		if shell == "" {
			shell = "sh"
		}
		cmd = exec.CommandContext(ctx, shell, "-c", strings.Join(command, " "))
	} else {
		cmd = exec.CommandContext(ctx, command[0], command[1:]...)
	}
	cmd.Dir = cwd

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return h.finishWithError(callID, command, cwd, action, order, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return h.finishWithError(callID, command, cwd, action, order, err)
	}

	if err := cmd.Start(); err != nil {
		return h.finishWithError(callID, command, cwd, action, order, err)
	}

	done := make(chan struct{}, 2)
	go h.pump(stdoutPipe, callID, true, done)
	go h.pump(stderrPipe, callID, false, done)
	<-done
	<-done

	waitErr := cmd.Wait()
	exitCode := 0
	status := history.ExecSuccess
	if waitErr != nil {
		status = history.ExecError
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	ec := exitCode
	if _, err := h.Store.ApplyDomainEvent(history.FinishExec{
		CallID: callID, Status: status, ExitCode: &ec,
	}); err != nil {
		return Result{}, err
	}

	return Result{CallID: callID, ExitCode: exitCode}, nil
}

func (h *ExecHandler) finishWithError(callID string, command []string, cwd string, action history.ExecAction, order history.OrderKey, err error) (Result, error) {
	ec := -1
	h.Store.ApplyDomainEvent(history.FinishExec{
		CallID: callID, Status: history.ExecError, ExitCode: &ec,
		Command: command, Cwd: cwd, Action: action, Order: order,
		StderrTail: []byte(fmt.Sprintf("exec: %v", err)),
	})
	return Result{CallID: callID, ExitCode: -1}, err
}

// pump streams r in chunks of up to 32 KiB into the Store at monotonically increasing
// byte offsets, matching ExecRecord.stdout_chunks' offset-ordering
// invariant.
func (h *ExecHandler) pump(r io.Reader, callID string, stdout bool, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	br := bufio.NewReaderSize(r, 64*1024)
	offset := 0
	buf := make([]byte, 32*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if stdout {
				h.Store.ApplyDomainEvent(history.AppendExecStdout{CallID: callID, Offset: offset, Bytes: chunk})
			} else {
				h.Store.ApplyDomainEvent(history.AppendExecStderr{CallID: callID, Offset: offset, Bytes: chunk})
			}
			offset += n
		}
		if err != nil {
			return
		}
	}
}

// Classify reports whether command requires approval before Run is called.
func Classify(command []string) commandsafety.Verdict {
	return commandsafety.IsDangerous(command)
}
