package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/immateria/codex-mod-sub007/cmd/ui"
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/rollout"
	"github.com/immateria/codex-mod-sub007/pkg/logger"
	"github.com/immateria/codex-mod-sub007/pkg/render"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	resumeLastFlag   bool
	resumeAllFlag    bool
	resumeImagesFlag []string
)

// resumeCmd implements `resume [SESSION_ID|--last [--all]] [--image ...]
// [PROMPT]`: replay a prior session's rollout transcript through the
// Renderer, then optionally continue it with a new turn. When --last is
// set without an explicit prompt, the positional argument is the prompt,
// not an id.
var resumeCmd = &cobra.Command{
	Use:   "resume [SESSION_ID] [PROMPT]",
	Short: "Resume a prior session, replaying its transcript",
	Args:  cobra.MaximumNArgs(2),
	Run:   runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeLastFlag, "last", false, "Resume the most recently active session")
	resumeCmd.Flags().BoolVar(&resumeAllFlag, "all", false, "With --last, consider sessions from any working directory")
	resumeCmd.Flags().StringSliceVarP(&resumeImagesFlag, "image", "i", nil, "Attach image file(s) to the resumed turn")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	projectRoot := filepath.Dir(workspaceRoot)

	catalogPath := filepath.Join(projectRoot, "sessions", "catalog.db")
	catalog, err := history.OpenCatalog(catalogPath)
	if err != nil {
		fmt.Printf("Error opening session catalog: %v\n", err)
		return
	}
	defer catalog.Close()

	var sessionIDArg, prompt string
	switch {
	case resumeLastFlag:
		if len(args) > 0 {
			prompt = args[0]
		}
	case len(args) > 0:
		sessionIDArg = args[0]
		if len(args) > 1 {
			prompt = args[1]
		}
	}

	var entry history.CatalogEntry
	if resumeLastFlag {
		q := history.Query{Limit: 1}
		if !resumeAllFlag {
			q.Cwd = workspaceRoot
		}
		matches, err := catalog.Find(q)
		if err != nil {
			fmt.Printf("Error querying session catalog: %v\n", err)
			return
		}
		if len(matches) == 0 {
			fmt.Println("No sessions found to resume.")
			return
		}
		entry = matches[0]
	} else {
		if sessionIDArg == "" {
			fmt.Println("resume requires a SESSION_ID or --last")
			return
		}
		e, err := catalog.ResolvePrefix(sessionIDArg)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		entry = e
	}

	store, err := rollout.ReplayToHistory(entry.Path)
	if err != nil {
		fmt.Printf("Error replaying transcript: %v\n", err)
		return
	}
	printStaticTranscript(store)

	if len(resumeImagesFlag) > 0 {
		fmt.Printf("(ignoring %d attached image(s): image turns are not yet supported by resume)\n", len(resumeImagesFlag))
	}

	if strings.TrimSpace(prompt) == "" {
		return
	}

	eng, err := newAPIEngine(workspaceRoot)
	if err != nil {
		fmt.Printf("Error initializing engine: %v\n", err)
		return
	}
	ctx := context.Background()
	if _, err := eng.GetSession(ctx, entry.SessionID); err != nil {
		fmt.Printf("Error: session %q is no longer known to the engine: %v\n", entry.SessionID, err)
		return
	}

	recorder, err := rollout.ResumeTranscriptRecorder(entry.Path, entry.SessionID, entry.Cwd, entry.UserMessageCount)
	if err != nil {
		logger.Warn("resume", "failed to reopen rollout transcript", map[string]interface{}{"error": err.Error()})
	} else {
		defer recorder.Close()
	}

	approver := ui.NewCLIApprover()
	approval := &approvalState{}

	fmt.Printf("\n💬 You: %s\n", prompt)
	if recorder != nil {
		if err := recorder.RecordUser(prompt, time.Now()); err != nil {
			logger.Warn("resume", "failed to record user turn", map[string]interface{}{"error": err.Error()})
		}
	}

	reply, err := runTurnWithApprovals(ctx, eng, entry.SessionID, prompt, approver, approval)
	if err != nil {
		fmt.Printf("\n❌ Error: %v\n", err)
	}
	if recorder != nil {
		now := time.Now()
		if err := recorder.RecordAssistant(reply, now); err != nil {
			logger.Warn("resume", "failed to record assistant turn", map[string]interface{}{"error": err.Error()})
		}
		if err := recorder.SyncCatalog(catalog, now); err != nil {
			logger.Warn("resume", "failed to sync session catalog", map[string]interface{}{"error": err.Error()})
		}
	}
}

// printStaticTranscript composes one full-height frame of the replayed
// history and writes it to stdout, the non-interactive counterpart to
// pkg/render's live bubbletea Model.
func printStaticTranscript(store *history.Store) {
	state := render.NewHistoryRenderState()
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	state.Rebuild(store)
	state.EnsureWidth(store, width)
	frame := render.ComposeFrame(store, state, width, state.TotalHeight()+1, 0)
	fmt.Println(frame.Render())
}
