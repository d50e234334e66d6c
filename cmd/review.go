package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/immateria/codex-mod-sub007/cmd/ui"
	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/rollout"
	"github.com/immateria/codex-mod-sub007/pkg/logger"
)

var (
	reviewUncommittedFlag bool
	reviewBaseFlag        string
	reviewCommitFlag      string
	reviewTitleFlag       string
)

// reviewCmd runs a code-review turn over a diff: the uncommitted working
// tree, the delta against a base branch, or a single commit.
var reviewCmd = &cobra.Command{
	Use:   "review [PROMPT]",
	Short: "Review uncommitted changes, a branch delta, or a single commit",
	Args:  cobra.MaximumNArgs(1),
	Run:   runReview,
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewUncommittedFlag, "uncommitted", false, "Review uncommitted working-tree changes (default)")
	reviewCmd.Flags().StringVar(&reviewBaseFlag, "base", "", "Review the delta of HEAD against this base branch")
	reviewCmd.Flags().StringVar(&reviewCommitFlag, "commit", "", "Review a single commit by SHA")
	reviewCmd.Flags().StringVar(&reviewTitleFlag, "title", "", "Title for the reviewed commit (with --commit)")
	reviewCmd.MarkFlagsMutuallyExclusive("uncommitted", "base", "commit")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) {
	if reviewTitleFlag != "" && reviewCommitFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --title requires --commit")
		os.Exit(exitUsage)
	}

	headBefore, err := gitOutput("rev-parse", "HEAD")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: not inside a git repository: %v\n", err)
		os.Exit(exitUsage)
	}

	diff, scope, err := collectReviewDiff()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
	if strings.TrimSpace(diff) == "" {
		fmt.Println("Nothing to review: the selected diff is empty.")
		return
	}

	// The diff was captured against a HEAD snapshot; if HEAD moved while
	// we were collecting it, the review would describe stale code.
	headAfter, err := gitOutput("rev-parse", "HEAD")
	if err != nil || headAfter != headBefore {
		fmt.Println("auto-resolve: base snapshot no longer matches current HEAD; stopping to avoid stale review.")
		return
	}

	prompt := buildReviewPrompt(scope, diff, args)

	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
	eng, err := newAPIEngine(workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing engine: %v\n", err)
		os.Exit(exitTransportFailed)
	}

	ctx := context.Background()
	sessionID, err := eng.StartSession(ctx, api.StartOptions{ApprovalMode: api.ModeSuggest})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting session: %v\n", err)
		os.Exit(exitTransportFailed)
	}

	recorder, err := rollout.NewTranscriptRecorder(workspaceRoot, sessionID, workspaceRoot, time.Now())
	if err != nil {
		logger.Warn("review", "failed to start rollout transcript", map[string]interface{}{"error": err.Error()})
		recorder = nil
	} else {
		defer recorder.Close()
	}

	approver := ui.NewCLIApprover()
	if recorder != nil {
		_ = recorder.RecordUser(prompt, time.Now())
	}
	reply, err := runTurnWithApprovals(ctx, eng, sessionID, prompt, approver, &approvalState{})
	if recorder != nil {
		_ = recorder.RecordAssistant(reply, time.Now())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nReview failed: %v\n", err)
		os.Exit(exitTransportFailed)
	}
}

// collectReviewDiff returns the diff text and a one-line description of
// what it covers.
func collectReviewDiff() (diff, scope string, err error) {
	switch {
	case reviewCommitFlag != "":
		diff, err = gitOutput("show", "--patch", "--stat", reviewCommitFlag)
		scope = "commit " + reviewCommitFlag
		if reviewTitleFlag != "" {
			scope += " (" + reviewTitleFlag + ")"
		}
	case reviewBaseFlag != "":
		diff, err = gitOutput("diff", reviewBaseFlag+"...HEAD")
		scope = "changes on HEAD relative to " + reviewBaseFlag
	default:
		diff, err = gitOutput("diff", "HEAD")
		scope = "uncommitted working-tree changes"
	}
	return diff, scope, err
}

func buildReviewPrompt(scope, diff string, args []string) string {
	var b strings.Builder
	b.WriteString("Review the following ")
	b.WriteString(scope)
	b.WriteString(". Point out bugs, regressions and risky patterns with file and line references; reply 'looks good' if there are none.\n")
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		b.WriteString("\nReviewer focus: ")
		b.WriteString(args[0])
		b.WriteString("\n")
	}
	b.WriteString("\n```diff\n")
	b.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

func gitOutput(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
