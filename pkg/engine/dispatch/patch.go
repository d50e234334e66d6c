package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/tools"
)

// Patch envelope markers.
const (
	patchBegin      = "*** Begin Patch"
	patchEnd        = "*** End Patch"
	patchAddFile    = "*** Add File: "
	patchUpdateFile = "*** Update File: "
	patchDeleteFile = "*** Delete File: "
)

// PatchOp is one file-level operation parsed from the envelope.
type PatchOp struct {
	Kind   string // "add", "update", "delete"
	Path   string
	Hunks  []PatchHunk
	NewRaw string // full content for "add"
}

// PatchHunk is one @@-delimited block of an update: context lines anchor
// the edit, '-' lines are removed, '+' lines inserted in place.
type PatchHunk struct {
	Lines []PatchLine
}

// PatchLine is one line of a hunk with its leading marker stripped.
type PatchLine struct {
	Op   byte // ' ', '-', '+'
	Text string
}

// ParsePatch parses the structured patch envelope. It fails on a missing
// begin/end marker, an unknown directive, or an empty operation list —
// never on content lines, which are taken verbatim.
func ParsePatch(raw string) ([]PatchOp, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || strings.TrimSpace(lines[i]) != patchBegin {
		return nil, fmt.Errorf("patch must start with %q", patchBegin)
	}
	i++

	var ops []PatchOp
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.TrimSpace(line) == patchEnd:
			if len(ops) == 0 {
				return nil, fmt.Errorf("patch contains no operations")
			}
			return ops, nil

		case strings.HasPrefix(line, patchAddFile):
			path := strings.TrimSpace(strings.TrimPrefix(line, patchAddFile))
			i++
			var content []string
			for i < len(lines) && strings.HasPrefix(lines[i], "+") {
				content = append(content, strings.TrimPrefix(lines[i], "+"))
				i++
			}
			ops = append(ops, PatchOp{Kind: "add", Path: path, NewRaw: strings.Join(content, "\n") + "\n"})

		case strings.HasPrefix(line, patchDeleteFile):
			path := strings.TrimSpace(strings.TrimPrefix(line, patchDeleteFile))
			ops = append(ops, PatchOp{Kind: "delete", Path: path})
			i++

		case strings.HasPrefix(line, patchUpdateFile):
			path := strings.TrimSpace(strings.TrimPrefix(line, patchUpdateFile))
			i++
			op := PatchOp{Kind: "update", Path: path}
			for i < len(lines) {
				l := lines[i]
				if strings.HasPrefix(l, "*** ") {
					break
				}
				if strings.HasPrefix(l, "@@") {
					op.Hunks = append(op.Hunks, PatchHunk{})
					i++
					continue
				}
				if len(op.Hunks) == 0 {
					op.Hunks = append(op.Hunks, PatchHunk{})
				}
				h := &op.Hunks[len(op.Hunks)-1]
				switch {
				case strings.HasPrefix(l, "+"):
					h.Lines = append(h.Lines, PatchLine{'+', l[1:]})
				case strings.HasPrefix(l, "-"):
					h.Lines = append(h.Lines, PatchLine{'-', l[1:]})
				case strings.HasPrefix(l, " "):
					h.Lines = append(h.Lines, PatchLine{' ', l[1:]})
				case l == "":
					h.Lines = append(h.Lines, PatchLine{' ', ""})
				default:
					return nil, fmt.Errorf("update %s: unexpected line %q", path, l)
				}
				i++
			}
			if len(op.Hunks) == 0 {
				return nil, fmt.Errorf("update %s has no hunks", path)
			}
			ops = append(ops, op)

		default:
			return nil, fmt.Errorf("unexpected directive %q", line)
		}
	}
	return nil, fmt.Errorf("patch missing %q", patchEnd)
}

// applyHunks computes the new file content, or fails without touching
// anything if a hunk's old lines cannot be located.
func applyHunks(original string, hunks []PatchHunk) (string, int, int, error) {
	fileLines := strings.Split(original, "\n")
	added, removed := 0, 0
	for hi, h := range hunks {
		var oldSeq, newSeq []string
		for _, l := range h.Lines {
			switch l.Op {
			case ' ':
				oldSeq = append(oldSeq, l.Text)
				newSeq = append(newSeq, l.Text)
			case '-':
				oldSeq = append(oldSeq, l.Text)
				removed++
			case '+':
				newSeq = append(newSeq, l.Text)
				added++
			}
		}
		at := findSubsequence(fileLines, oldSeq)
		if at < 0 {
			return "", 0, 0, fmt.Errorf("hunk %d does not match file content", hi+1)
		}
		replaced := make([]string, 0, len(fileLines)-len(oldSeq)+len(newSeq))
		replaced = append(replaced, fileLines[:at]...)
		replaced = append(replaced, newSeq...)
		replaced = append(replaced, fileLines[at+len(oldSeq):]...)
		fileLines = replaced
	}
	return strings.Join(fileLines, "\n"), added, removed, nil
}

func findSubsequence(haystack, needle []string) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// PatchHandler applies a structured patch atomically: every file's new
// content is computed before the first write, so a mid-patch failure
// leaves the tree untouched.
type PatchHandler struct {
	Store     *history.Store
	Allocator *history.Allocator
	Root      string
}

// PatchSummary is the terminal payload of a completed apply.
type PatchSummary struct {
	CallID  string
	Added   int
	Removed int
	Files   []string
}

// Apply parses and applies raw, recording a PatchRecord in the Store.
func (h *PatchHandler) Apply(ctx context.Context, callID, raw string) (PatchSummary, error) {
	ops, err := ParsePatch(raw)
	if err != nil {
		return PatchSummary{}, err
	}

	type plannedWrite struct {
		path    string
		content string
		delete  bool
	}
	var plan []plannedWrite
	totalAdded, totalRemoved := 0, 0
	var files []string

	for _, op := range ops {
		abs := filepath.Join(h.Root, op.Path)
		rel, err := filepath.Rel(h.Root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return PatchSummary{}, fmt.Errorf("path %q escapes the workspace", op.Path)
		}
		files = append(files, op.Path)

		switch op.Kind {
		case "add":
			if _, err := os.Stat(abs); err == nil {
				return PatchSummary{}, fmt.Errorf("add %s: file already exists", op.Path)
			}
			totalAdded += strings.Count(op.NewRaw, "\n")
			plan = append(plan, plannedWrite{path: abs, content: op.NewRaw})
		case "delete":
			raw, err := os.ReadFile(abs)
			if err != nil {
				return PatchSummary{}, fmt.Errorf("delete %s: %w", op.Path, err)
			}
			totalRemoved += strings.Count(string(raw), "\n")
			plan = append(plan, plannedWrite{path: abs, delete: true})
		case "update":
			raw, err := os.ReadFile(abs)
			if err != nil {
				return PatchSummary{}, fmt.Errorf("update %s: %w", op.Path, err)
			}
			next, added, removed, err := applyHunks(string(raw), op.Hunks)
			if err != nil {
				return PatchSummary{}, fmt.Errorf("update %s: %w", op.Path, err)
			}
			totalAdded += added
			totalRemoved += removed
			plan = append(plan, plannedWrite{path: abs, content: next})
		}
	}

	for _, w := range plan {
		if err := ctx.Err(); err != nil {
			return PatchSummary{}, err
		}
		if w.delete {
			if err := os.Remove(w.path); err != nil {
				return PatchSummary{}, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
			return PatchSummary{}, err
		}
		tmp := w.path + ".tmp"
		if err := os.WriteFile(tmp, []byte(w.content), 0644); err != nil {
			return PatchSummary{}, err
		}
		if err := os.Rename(tmp, w.path); err != nil {
			return PatchSummary{}, err
		}
	}

	summary := PatchSummary{CallID: callID, Added: totalAdded, Removed: totalRemoved, Files: files}
	if h.Store != nil && h.Allocator != nil {
		_, _ = h.Store.ApplyDomainEvent(history.InsertPatch{
			CallID:  callID,
			Added:   totalAdded,
			Removed: totalRemoved,
			Files:   files,
			Order:   h.Allocator.NearTimeKeyForCurrentReq(),
		})
	}
	return summary, nil
}

// ApplyPatchTool adapts PatchHandler.Apply to tools.Tool.
type ApplyPatchTool struct {
	tools.BaseTool
	Handler *PatchHandler
}

// NewApplyPatchTool builds the apply_patch tool over a handler.
func NewApplyPatchTool(h *PatchHandler) *ApplyPatchTool {
	return &ApplyPatchTool{
		BaseTool: tools.NewBaseTool(
			"apply_patch",
			"Apply a structured multi-file patch (*** Begin Patch ... *** End Patch) atomically.",
			[]tools.ParameterDef{
				{Name: "patch", Type: "string", Description: "The patch envelope text", Required: true},
			},
			api.RiskHigh,
		),
		Handler: h,
	}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	raw := tools.GetStringArg(args, "patch", "")
	if raw == "" {
		return api.ToolResult{Status: "error", Error: "patch is required"}, nil
	}
	callID := fmt.Sprintf("patch_%d", time.Now().UnixNano())
	summary, err := t.Handler.Apply(ctx, callID, raw)
	if err != nil {
		return api.ToolResult{Status: "error", Error: err.Error()}, nil
	}
	return api.ToolResult{
		Status: "success",
		Content: fmt.Sprintf("applied patch to %d file(s): +%d -%d (%s)",
			len(summary.Files), summary.Added, summary.Removed, strings.Join(summary.Files, ", ")),
	}, nil
}
