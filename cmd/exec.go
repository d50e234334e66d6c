package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/immateria/codex-mod-sub007/cmd/ui"
	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/rollout"
	"github.com/immateria/codex-mod-sub007/pkg/logger"
)

// Exit codes for the non-interactive exec entry point.
const (
	exitOK              = 0
	exitUsage           = 2
	exitApprovalCancel  = 3
	exitPolicyDenied    = 4
	exitTransportFailed = 5
	exitTimeBudget      = 6
	exitInterrupted     = 130
)

var (
	execAutoFlag        bool
	execAutoReviewFlag  bool
	execModelFlag       string
	execOSSFlag         bool
	execSandboxFlag     string
	execProfileFlag     string
	execFullAutoFlag    bool
	execBypassFlag      bool
	execYoloFlag        bool
	execCdFlag          string
	execDebugFlag       bool
	execSkipGitFlag     bool
	execOutputSchema    string
	execColorFlag       string
	execJSONFlag        bool
	execMaxSeconds      int
	execTurnCap         int
	execIncludePlanTool bool
	execOutputLast      string
	execReviewOutJSON   string
	execImagesFlag      []string
)

// execCmd is the one-shot entry point: run a prompt to completion without
// the interactive REPL and exit with a status describing how the turn
// ended.
var execCmd = &cobra.Command{
	Use:   "exec [PROMPT]",
	Short: "Run a single prompt non-interactively ('-' reads the prompt from stdin)",
	Args:  cobra.MaximumNArgs(1),
	Run:   runExec,
}

func init() {
	f := execCmd.Flags()
	f.BoolVar(&execAutoFlag, "auto", false, "Auto Drive: keep submitting turns until the task reports done or the turn cap is hit")
	f.BoolVar(&execAutoReviewFlag, "auto-review", false, "Run a review turn over the changes after the task completes")
	f.StringVarP(&execModelFlag, "model", "m", "", "Model override for this run")
	f.BoolVar(&execOSSFlag, "oss", false, "Use a local OSS provider endpoint")
	f.StringVarP(&execSandboxFlag, "sandbox", "s", "", "Sandbox mode: read-only | workspace-write | danger-full-access")
	f.StringVarP(&execProfileFlag, "profile", "p", "", "Named agent profile to run under")
	f.BoolVar(&execFullAutoFlag, "full-auto", false, "Full-auto approval mode: every tool call is auto-approved; there is no on-failure approval step")
	f.BoolVar(&execBypassFlag, "dangerously-bypass-approvals-and-sandbox", false, "Run with no approvals and no sandbox")
	f.BoolVar(&execYoloFlag, "yolo", false, "Alias for --dangerously-bypass-approvals-and-sandbox")
	_ = f.MarkHidden("yolo")
	f.StringVarP(&execCdFlag, "cd", "C", "", "Change to this directory before running")
	f.BoolVarP(&execDebugFlag, "debug", "d", false, "Verbose debug output")
	f.BoolVar(&execSkipGitFlag, "skip-git-repo-check", false, "Allow running outside a git repository")
	f.StringVar(&execOutputSchema, "output-schema", "", "JSON schema file the final message must conform to")
	f.StringVar(&execColorFlag, "color", "auto", "Color output: always | never | auto")
	f.BoolVar(&execJSONFlag, "json", false, "Emit a final JSON result object instead of plain text")
	f.IntVar(&execMaxSeconds, "max-seconds", 0, "Abort the run after this many seconds (>= 1)")
	f.IntVar(&execTurnCap, "turn-cap", 8, "Maximum number of turns in Auto Drive mode")
	f.BoolVar(&execIncludePlanTool, "include-plan-tool", false, "Expose the plan/todo tools to the model")
	f.StringVarP(&execOutputLast, "output-last-message", "o", "", "Write the final assistant message to this file")
	f.StringVar(&execReviewOutJSON, "review-output-json", "", "Write the auto-review result as JSON to this file")
	f.StringSliceVarP(&execImagesFlag, "image", "i", nil, "Attach image file(s) to the prompt")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) {
	os.Exit(execMain(cmd, args))
}

func execMain(cmd *cobra.Command, args []string) int {
	bypass := execBypassFlag || execYoloFlag
	if execFullAutoFlag && bypass {
		fmt.Fprintln(os.Stderr, "Error: --full-auto conflicts with --dangerously-bypass-approvals-and-sandbox; pick one")
		return exitPolicyDenied
	}
	switch execColorFlag {
	case "always", "never", "auto":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid --color %q (want always, never or auto)\n", execColorFlag)
		return exitUsage
	}
	if execColorFlag == "never" {
		os.Setenv("NO_COLOR", "1")
	}
	switch execSandboxFlag {
	case "", "read-only", "workspace-write", "danger-full-access":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid --sandbox %q\n", execSandboxFlag)
		return exitUsage
	}
	if cmd.Flags().Changed("max-seconds") && execMaxSeconds < 1 {
		fmt.Fprintln(os.Stderr, "Error: --max-seconds must be >= 1")
		return exitUsage
	}

	if execCdFlag != "" {
		if err := os.Chdir(execCdFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot change directory: %v\n", err)
			return exitUsage
		}
	}
	if !execSkipGitFlag && !insideGitRepo() {
		fmt.Fprintln(os.Stderr, "Error: not inside a git repository (use --skip-git-repo-check to override)")
		return exitUsage
	}

	prompt, err := resolveExecPrompt(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if schema := execOutputSchema; schema != "" {
		suffix, err := outputSchemaSuffix(schema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitUsage
		}
		prompt += suffix
	}
	for _, img := range execImagesFlag {
		if _, err := os.Stat(img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: image %q: %v\n", img, err)
			return exitUsage
		}
	}
	if len(execImagesFlag) > 0 {
		fmt.Fprintf(os.Stderr, "(ignoring %d attached image(s): image prompts are not supported by exec)\n", len(execImagesFlag))
	}

	applyExecEnvironment()
	if execModelFlag != "" {
		modelFlag = execModelFlag
	}
	if execProfileFlag != "" {
		agentFlag = execProfileFlag
	}
	includePlanTool = execIncludePlanTool

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if execMaxSeconds >= 1 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(execMaxSeconds)*time.Second)
		defer cancel()
	}

	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	eng, err := newAPIEngine(workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing engine: %v\n", err)
		return exitTransportFailed
	}

	mode := api.ModeAuto
	if execFullAutoFlag || bypass || execSandboxFlag == "danger-full-access" {
		mode = api.ModeFullAuto
	} else if execSandboxFlag == "read-only" {
		mode = api.ModeSuggest
	}
	sessionID, err := eng.StartSession(ctx, api.StartOptions{ApprovalMode: mode})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting session: %v\n", err)
		return exitTransportFailed
	}

	projectRoot := filepath.Dir(workspaceRoot)
	recorder, err := rollout.NewTranscriptRecorder(projectRoot, sessionID, workspaceRoot, time.Now())
	if err != nil {
		logger.Warn("exec", "failed to start rollout transcript", map[string]interface{}{"error": err.Error()})
		recorder = nil
	} else {
		defer recorder.Close()
	}

	approver := ui.NewCLIApprover()
	approval := &approvalState{autoApproveAll: execFullAutoFlag || bypass}

	var lastReply string
	turns := 0
	for {
		turns++
		if recorder != nil {
			_ = recorder.RecordUser(prompt, time.Now())
		}
		reply, err := runTurnWithApprovals(ctx, eng, sessionID, prompt, approver, approval)
		if recorder != nil {
			_ = recorder.RecordAssistant(reply, time.Now())
		}
		if reply != "" {
			lastReply = reply
		}
		if err != nil {
			return execFailureCode(ctx, err, lastReply)
		}
		if !execAutoFlag || autoDriveDone(reply) || turns >= execTurnCap {
			break
		}
		prompt = "Continue working on the task. When everything is complete, reply with only: done"
	}

	if execAutoReviewFlag {
		review, err := runTurnWithApprovals(ctx, eng, sessionID,
			"Review the changes made for the task above. List any bugs, regressions or missed requirements; reply 'looks good' if there are none.",
			approver, approval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Auto review failed: %v\n", err)
		} else if execReviewOutJSON != "" {
			raw, _ := json.MarshalIndent(map[string]any{"review": review}, "", "  ")
			if werr := os.WriteFile(execReviewOutJSON, raw, 0644); werr != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", execReviewOutJSON, werr)
			}
		}
	}

	syncExecCatalog(recorder, projectRoot)

	if execOutputLast != "" {
		if err := os.WriteFile(execOutputLast, []byte(lastReply), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", execOutputLast, err)
		}
	}
	if execJSONFlag {
		raw, _ := json.Marshal(map[string]any{
			"last_message": lastReply,
			"turns":        turns,
			"session_id":   sessionID,
		})
		fmt.Println(string(raw))
	}
	return exitOK
}

// execFailureCode maps a failed turn to the exec exit-code contract.
func execFailureCode(ctx context.Context, err error, lastReply string) int {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		fmt.Fprintln(os.Stderr, "Error: time budget exceeded")
		return exitTimeBudget
	case errors.Is(ctx.Err(), context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		return exitInterrupted
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cancel"):
		fmt.Fprintf(os.Stderr, "Approval cancelled: %v\n", err)
		return exitApprovalCancel
	case strings.Contains(msg, "denied") || strings.Contains(msg, "policy"):
		fmt.Fprintf(os.Stderr, "Policy denied: %v\n", err)
		return exitPolicyDenied
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if lastReply != "" {
			fmt.Fprintln(os.Stderr, "(partial output above was preserved)")
		}
		return exitTransportFailed
	}
}

func resolveExecPrompt(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("exec requires a PROMPT argument ('-' reads stdin)")
	}
	if args[0] != "-" {
		return args[0], nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt on stdin")
	}
	return prompt, nil
}

func outputSchemaSuffix(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading --output-schema: %w", err)
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("--output-schema %s is not valid JSON: %w", path, err)
	}
	return "\n\nYour final reply must be a JSON document conforming to this schema:\n" + string(raw), nil
}

// autoDriveDone reports whether an Auto Drive reply signals completion.
func autoDriveDone(reply string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(reply))
	return trimmed == "" || trimmed == "done" || strings.HasPrefix(trimmed, "done.")
}

// applyExecEnvironment mirrors the provider credential conventions: when
// GEMINI_API_KEY is absent, point the child CLI at <cwd>/.gemini so it can
// discover config there. Existing values are never overwritten.
func applyExecEnvironment() {
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GEMINI_CONFIG_DIR") == "" {
		if wd, err := os.Getwd(); err == nil {
			os.Setenv("GEMINI_CONFIG_DIR", filepath.Join(wd, ".gemini"))
		}
	}
	if execOSSFlag && os.Getenv("LLM_BASE_URL") == "" {
		os.Setenv("LLM_BASE_URL", "http://localhost:11434/v1")
	}
	if execDebugFlag {
		os.Setenv("LOG_LEVEL", "DEBUG")
	}
}

func insideGitRepo() bool {
	dir, err := os.Getwd()
	if err != nil {
		return false
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

func syncExecCatalog(recorder *rollout.TranscriptRecorder, projectRoot string) {
	if recorder == nil {
		return
	}
	catalogPath := filepath.Join(projectRoot, "sessions", "catalog.db")
	catalog, err := history.OpenCatalog(catalogPath)
	if err != nil {
		logger.Warn("exec", "failed to open session catalog", map[string]interface{}{"error": err.Error()})
		return
	}
	defer catalog.Close()
	if err := recorder.SyncCatalog(catalog, time.Now()); err != nil {
		logger.Warn("exec", "failed to sync session catalog", map[string]interface{}{"error": err.Error()})
	}
}
