package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch"
	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
	"github.com/immateria/codex-mod-sub007/pkg/engine/memory"
	mw "github.com/immateria/codex-mod-sub007/pkg/engine/middleware"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
	"github.com/immateria/codex-mod-sub007/pkg/engine/runtime"
	"github.com/immateria/codex-mod-sub007/pkg/engine/skill"
	"github.com/immateria/codex-mod-sub007/pkg/engine/store"
	"github.com/immateria/codex-mod-sub007/pkg/engine/streamctl"
	"github.com/immateria/codex-mod-sub007/pkg/engine/style"
	"github.com/immateria/codex-mod-sub007/pkg/engine/systool"
	"github.com/immateria/codex-mod-sub007/pkg/engine/tools"
)

// includePlanTool gates registration of the plan/todo tools. Interactive
// modes keep them on; `exec` exposes them only behind --include-plan-tool.
var includePlanTool = true

func resolveWorkspaceRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if realWD, err := filepath.EvalSymlinks(wd); err == nil {
		wd = realWD
	}
	// Use workspace/ subdirectory as the working directory for file operations
	workspaceDir := filepath.Join(wd, "workspace")
	// Create if it doesn't exist
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return "", err
	}
	return workspaceDir, nil
}

func defaultSkillRoots(workspaceRoot string) []string {
	var roots []string

	// workspaceRoot points to workspace/ subdirectory, go up one level for project root
	projectRoot := filepath.Dir(workspaceRoot)

	// Project skills (<project>/.sea/skills). Highest priority.
	roots = append(roots, filepath.Join(projectRoot, ".sea", "skills"))

	// Legacy project skills path (<project>/workspace/.sea/skills).
	roots = append(roots, filepath.Join(workspaceRoot, ".sea", "skills"))

	// Global skills (~/.sea/<agent>/skills).
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".sea", agentFlag, "skills"))
	}

	// Built-in skills shipped with the repo.
	roots = append(roots, filepath.Join(projectRoot, "skills"))

	// Codex skills (optional).
	if codexHome := os.Getenv("CODEX_HOME"); codexHome != "" {
		roots = append(roots, filepath.Join(codexHome, "skills"))
	} else if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".codex", "skills"))
	}

	return roots
}

// defaultStyleDir returns where named style profiles (ruleset + MCP
// include/exclude lists) are persisted for the active agent.
func defaultStyleDir(workspaceRoot string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".sea", agentFlag, "styles")
	}
	return filepath.Join(workspaceRoot, "styles")
}

func newAPIEngine(workspaceRoot string) (api.Engine, error) {
	sessionStore, err := store.NewFileSessionStore(workspaceRoot)
	if err != nil {
		return nil, err
	}
	planStore, err := store.NewFilePlanStore(workspaceRoot)
	if err != nil {
		return nil, err
	}
	eventLog, err := store.NewJSONLEventLog(workspaceRoot)
	if err != nil {
		return nil, err
	}

	skillIndex, err := skill.NewDirSkillIndex(defaultSkillRoots(workspaceRoot)...)
	if err != nil {
		return nil, err
	}

	mem := memory.NewStructuredManager(workspaceRoot)

	hist := history.NewStore()
	alloc := history.NewAllocator()
	rawReasoningVisible := os.Getenv("RAW_REASONING_VISIBLE") == "true" || os.Getenv("RAW_REASONING_VISIBLE") == "1"
	stream := streamctl.New(hist, alloc, rawReasoningVisible)

	styleStore, err := style.NewStore(defaultStyleDir(workspaceRoot))
	if err != nil {
		return nil, err
	}

	mcpAccess := policy.NewMcpAccessManager(agentFlag, styleStore)

	reg := tools.NewRegistry()
	reg.MustRegister(&systool.ListSkillsTool{SkillIndex: skillIndex})
	reg.MustRegister(&systool.ReadSkillTool{SkillIndex: skillIndex})
	reg.MustRegister(&systool.ActivateSkillTool{SkillIndex: skillIndex})
	if includePlanTool {
		reg.MustRegister(&systool.ReadTodosTool{PlanStore: planStore})
		reg.MustRegister(&systool.WriteTodosTool{PlanStore: planStore})
	}
	reg.MustRegister(&systool.ReadMemoryTool{Manager: mem})
	reg.MustRegister(&systool.UpdateMemoryTool{Manager: mem})
	reg.MustRegister(&systool.UnderstandIntentTool{})
	reg.MustRegister(&systool.DecideMcpAccessTool{Manager: mcpAccess})

	if enableToolsFlag {
		for _, t := range tools.DefaultRegistry(workspaceRoot).All() {
			reg.MustRegister(t)
		}
		// run_skill_script needs skill index for path resolution.
		reg.MustRegister(tools.NewRunSkillScriptTool(workspaceRoot, skillIndex))
		// exec streams stdout/stderr into the ordered history as the command
		// runs, unlike shell's bounded one-shot capture; register it whenever
		// the richer tool surface is enabled.
		reg.MustRegister(dispatch.NewExecTool(&dispatch.ExecHandler{
			Store:     hist,
			Allocator: alloc,
			Cwd:       workspaceRoot,
		}))
		reg.MustRegister(dispatch.NewApplyPatchTool(&dispatch.PatchHandler{
			Store:     hist,
			Allocator: alloc,
			Root:      workspaceRoot,
		}))
	}

	var llm runtime.LLM = &runtime.MockLLM{}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		baseURL := os.Getenv("LLM_BASE_URL")
		model := os.Getenv("LLM_MODEL")
		if modelFlag != "" {
			model = modelFlag
		}
		openai := runtime.NewOpenAILLM(baseURL, apiKey, model)
		llm = openai
	}

	// Read compression settings from environment
	autoCompressThreshold := 50 // Default
	if v := os.Getenv("AUTO_COMPRESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			autoCompressThreshold = n
		}
	}
	compressKeepTurns := 3 // Default
	if v := os.Getenv("COMPRESS_KEEP_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			compressKeepTurns = n
		}
	}

	// Filter historical tool messages (default: true for smaller context)
	filterHistoryTools := true
	if v := os.Getenv("FILTER_HISTORY_TOOLS"); v == "false" || v == "0" {
		filterHistoryTools = false
	}

	// Most current model families advertise parallel tool calling; the env
	// override forces it on or off for the rest.
	model := os.Getenv("LLM_MODEL")
	if modelFlag != "" {
		model = modelFlag
	}
	parallelToolCalls := strings.HasPrefix(model, "gpt-4") || strings.HasPrefix(model, "gpt-5") ||
		strings.HasPrefix(model, "claude-") || strings.HasPrefix(model, "gemini-")
	if v := os.Getenv("PARALLEL_TOOL_CALLS"); v != "" {
		parallelToolCalls = v == "true" || v == "1"
	}

	retryMaxAttempts := 0 // 0 keeps the TurnRunner's own default
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			retryMaxAttempts = n
		}
	}

	engine, err := runtime.NewEngine(runtime.EngineConfig{
		LLM:                   llm,
		Tools:                 reg,
		Policy:                policy.NewDefaultPolicy(),
		Middlewares:           []runtime.Middleware{mw.NewPersonaMiddleware(workspaceRoot, filepath.Dir(workspaceRoot), agentFlag), mw.NewBasePromptMiddleware(workspaceRoot), mw.NewSkillsMiddleware(skillIndex), mw.NewMemoryMiddleware(mem), mw.NewPlanningMiddleware(planStore)},
		WorkspaceRoot:         workspaceRoot,
		SkillIndex:            skillIndex,
		SessionStore:          sessionStore,
		PlanStore:             planStore,
		EventLog:              eventLog,
		AutoCompressThreshold: autoCompressThreshold,
		CompressKeepTurns:     compressKeepTurns,
		FilterHistoryTools:    filterHistoryTools,
		History:               hist,
		Allocator:             alloc,
		Stream:                stream,
		RetryMaxAttempts:      retryMaxAttempts,
		ParallelToolCalls:     parallelToolCalls,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}
