package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch/agentrun"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch/browser"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch/jsrepl"
	"github.com/immateria/codex-mod-sub007/pkg/engine/tools"
)

// This file adapts the handler catalog's lower-level managers onto
// tools.Tool, the uniform interface the Turn Runner and Policy dispatch
// through (pkg/engine/tools/interface.go). Each adapter is a thin
// marshaling layer: argument extraction in, handler call, api.ToolResult
// out. The handler itself (ExecHandler, jsrepl.Manager, ...) stays
// transport-agnostic so it can also be driven directly by tests.

// ExecTool adapts ExecHandler.Run to tools.Tool, as the "exec" entry of
// the dispatcher handler catalog.
type ExecTool struct {
	tools.BaseTool
	Handler *ExecHandler
}

// NewExecTool builds the exec tool over an already-constructed handler.
func NewExecTool(h *ExecHandler) *ExecTool {
	return &ExecTool{
		BaseTool: tools.NewBaseTool(
			"exec",
			"Run a shell command, streaming stdout/stderr into the ordered history as it executes.",
			[]tools.ParameterDef{
				{Name: "command", Type: "string", Description: "Shell command line to execute", Required: true},
			},
			api.RiskHigh,
		),
		Handler: h,
	}
}

func (t *ExecTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	command := tools.GetStringArg(args, "command", "")
	if command == "" {
		return api.ToolResult{Status: "error", Error: "command is required"}, nil
	}
	if v := Classify(strings.Fields(command)); v.Dangerous {
		return api.ToolResult{Status: "error", Error: "refused: " + v.Reason}, nil
	}
	callID := fmt.Sprintf("exec_%d", time.Now().UnixNano())
	res, err := t.Handler.Run(ctx, callID, []string{command})
	if err != nil {
		return api.ToolResult{Status: "error", Error: err.Error()}, nil
	}
	content := ""
	if id, ok := t.Handler.Store.HistoryIdForCall(callID); ok {
		if rec, ok := t.Handler.Store.Record(id); ok && rec.Exec != nil {
			content = string(rec.Exec.Stdout()) + string(rec.Exec.Stderr())
		}
	}
	if res.ExitCode != 0 {
		return api.ToolResult{Status: "error", Content: content, Error: fmt.Sprintf("exit code %d", res.ExitCode)}, nil
	}
	return api.ToolResult{Status: "success", Content: content}, nil
}

// JsReplTool adapts jsrepl.Manager to tools.Tool.
type JsReplTool struct {
	tools.BaseTool
	Manager *jsrepl.Manager
}

// NewJsReplTool wraps a persistent JS kernel subprocess as a tool.
func NewJsReplTool(m *jsrepl.Manager) *JsReplTool {
	return &JsReplTool{
		BaseTool: tools.NewBaseTool(
			"js_repl",
			"Evaluate JavaScript in a persistent Node REPL kernel. Raw code only, no JSON or fenced-code wrapping.",
			[]tools.ParameterDef{
				{Name: "code", Type: "string", Description: "JavaScript source to evaluate", Required: true},
			},
			api.RiskMedium,
		),
		Manager: m,
	}
}

func (t *JsReplTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	code := tools.GetStringArg(args, "code", "")
	res := t.Manager.Execute(ctx, code)
	if res.Error != "" {
		return api.ToolResult{Status: "error", Error: res.Error, Content: res.Output}, nil
	}
	return api.ToolResult{Status: "success", Content: res.Output}, nil
}

// AgentRunTool adapts agentrun.Manager's lifecycle to a single multi-verb
// tool ("agent.create" / "agent.status" / "agent.wait" / "agent.result" /
// "agent.cancel") under the "agent.*" namespace.
type AgentRunTool struct {
	tools.BaseTool
	Manager *agentrun.Manager
}

// NewAgentRunTool builds the agent.* multi-verb tool.
func NewAgentRunTool(m *agentrun.Manager) *AgentRunTool {
	return &AgentRunTool{
		BaseTool: tools.NewBaseTool(
			"agent_run",
			"Create, inspect, or cancel a subordinate coding agent. Agents created here are not write-enabled and get no separate worktree.",
			[]tools.ParameterDef{
				{Name: "action", Type: "string", Description: "create|status|wait|result|cancel|list", Required: true},
				{Name: "agent_id", Type: "string", Description: "Agent id (all actions except create)", Required: false},
				{Name: "task", Type: "string", Description: "Task description (create)", Required: false},
				{Name: "timeout_seconds", Type: "integer", Description: "Wait timeout in seconds (wait)", Required: false},
			},
			api.RiskMedium,
		),
		Manager: m,
	}
}

func (t *AgentRunTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	action := tools.GetStringArg(args, "action", "")
	switch action {
	case "create":
		id, err := t.Manager.Create(ctx, agentrun.CreateParams{Task: tools.GetStringArg(args, "task", "")})
		if err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: id, Data: map[string]any{"agent_id": id}}, nil
	case "status":
		status, progress, err := t.Manager.Status(tools.GetStringArg(args, "agent_id", ""))
		if err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: string(status), Data: map[string]any{"status": status, "progress": progress}}, nil
	case "wait":
		secs := tools.GetIntArg(args, "timeout_seconds", 300)
		status, err := t.Manager.Wait(ctx, tools.GetStringArg(args, "agent_id", ""), time.Duration(secs)*time.Second)
		if err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: string(status)}, nil
	case "result":
		result, err := t.Manager.Result(tools.GetStringArg(args, "agent_id", ""))
		if err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: result}, nil
	case "cancel":
		if err := t.Manager.Cancel(tools.GetStringArg(args, "agent_id", "")); err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: "canceled"}, nil
	case "list":
		runs := t.Manager.List()
		b, _ := json.Marshal(runs)
		return api.ToolResult{Status: "success", Content: string(b), Data: runs}, nil
	default:
		return api.ToolResult{Status: "error", Error: "unknown action: " + action}, nil
	}
}

// BrowserTool adapts browser.Manager's connect/goto/screenshot/evaluate
// cycle to a single multi-verb tool under the "browser_*" namespace
// (browser_goto, browser_screenshot, browser_javascript).
type BrowserTool struct {
	tools.BaseTool
	Manager *browser.Manager
}

// NewBrowserTool builds the browser_* multi-verb tool.
func NewBrowserTool(m *browser.Manager) *BrowserTool {
	return &BrowserTool{
		BaseTool: tools.NewBaseTool(
			"browser",
			"Drive a Chrome DevTools Protocol session: connect, navigate, screenshot, evaluate JavaScript.",
			[]tools.ParameterDef{
				{Name: "action", Type: "string", Description: "goto|screenshot|javascript", Required: true},
				{Name: "url", Type: "string", Description: "Target URL (goto)", Required: false},
				{Name: "script", Type: "string", Description: "JavaScript to evaluate (javascript)", Required: false},
			},
			api.RiskMedium,
		),
		Manager: m,
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	page, err := t.Manager.Connect(ctx)
	if err != nil {
		return api.ToolResult{Status: "error", Error: err.Error()}, nil
	}
	switch tools.GetStringArg(args, "action", "") {
	case "goto":
		url := tools.GetStringArg(args, "url", "")
		if err := page.Goto(ctx, url); err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: "navigated to " + url}, nil
	case "screenshot":
		data, err := page.Screenshot(ctx)
		if err != nil {
			return api.ToolResult{Status: "error", Error: err.Error()}, nil
		}
		return api.ToolResult{Status: "success", Content: data}, nil
	case "javascript":
		res := page.EvaluateJavaScript(ctx, tools.GetStringArg(args, "script", ""))
		if !res.Success {
			return api.ToolResult{Status: "error", Error: res.Error, Content: strings.Join(res.Logs, "\n")}, nil
		}
		b, _ := json.Marshal(res.Value)
		return api.ToolResult{Status: "success", Content: string(b), Data: res.Logs}, nil
	default:
		return api.ToolResult{Status: "error", Error: "unknown browser action"}, nil
	}
}

// SearchToolBM25 adapts ToolIndex.Search to tools.Tool, the
// "search_tool_bm25" entry for ranking MCP tool metadata by relevance.
type SearchToolBM25 struct {
	tools.BaseTool
	Index *ToolIndex
}

// NewSearchToolBM25 builds the search_tool_bm25 tool over a prebuilt index.
func NewSearchToolBM25(idx *ToolIndex) *SearchToolBM25 {
	return &SearchToolBM25{
		BaseTool: tools.NewBaseTool(
			"search_tool_bm25",
			"Rank available MCP tools by relevance to a natural-language query.",
			[]tools.ParameterDef{
				{Name: "query", Type: "string", Description: "Free-text query", Required: true},
				{Name: "limit", Type: "integer", Description: "Max results (default 5)", Required: false},
			},
			api.RiskLow,
		),
		Index: idx,
	}
}

func (t *SearchToolBM25) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	query := tools.GetStringArg(args, "query", "")
	limit := tools.GetIntArg(args, "limit", 5)
	scored := t.Index.Search(query, limit)
	b, _ := json.Marshal(scored)
	return api.ToolResult{Status: "success", Content: string(b), Data: scored}, nil
}

// CodeBridgeTool adapts BridgeHandler.Dispatch to tools.Tool, the
// "code_bridge" entry.
type CodeBridgeTool struct {
	tools.BaseTool
	Handler *BridgeHandler
}

// NewCodeBridgeTool builds the code_bridge control-channel tool.
func NewCodeBridgeTool(h *BridgeHandler) *CodeBridgeTool {
	return &CodeBridgeTool{
		BaseTool: tools.NewBaseTool(
			"code_bridge",
			"Subscribe to or query the companion editor bridge (screenshot, script, topic subscriptions).",
			[]tools.ParameterDef{
				{Name: "verb", Type: "string", Description: "subscribe|screenshot|script|unsubscribe", Required: true},
				{Name: "id", Type: "string", Description: "Subscription id", Required: false},
				{Name: "topics", Type: "array", Description: "Topics to subscribe to", Required: false},
			},
			api.RiskLow,
		),
		Handler: h,
	}
}

func (t *CodeBridgeTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	verb := BridgeVerb(tools.GetStringArg(args, "verb", ""))
	id := tools.GetStringArg(args, "id", "")
	var topics []string
	if raw, ok := args["topics"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				topics = append(topics, s)
			}
		}
	}
	result, err := t.Handler.Dispatch(verb, id, topics)
	if err != nil {
		return api.ToolResult{Status: "error", Error: err.Error()}, nil
	}
	b, _ := json.Marshal(result)
	return api.ToolResult{Status: "success", Content: string(b), Data: result}, nil
}
