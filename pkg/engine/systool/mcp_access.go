package systool

import (
	"context"
	"fmt"

	"github.com/immateria/codex-mod-sub007/pkg/engine/api"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
)

// DecideMcpAccessTool lets the assistant answer a gated MCP server prompt:
// allow/deny for this turn, for the session, or persisted into the active
// style profile. It is the tool-facing half of policy.McpAccessManager.
type DecideMcpAccessTool struct {
	Manager *policy.McpAccessManager
}

func (t *DecideMcpAccessTool) Name() string        { return "decide_mcp_access" }
func (t *DecideMcpAccessTool) Risk() api.RiskLevel { return api.RiskNone }

func (t *DecideMcpAccessTool) Schema() api.ToolSchema {
	return api.ToolSchema{
		Name:        "decide_mcp_access",
		Description: "Answer a pending MCP server access prompt: allow or deny it once, for the rest of the session, or persisted into the active style profile.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"server": map[string]any{
					"type":        "string",
					"description": "MCP server name the decision applies to",
				},
				"decision": map[string]any{
					"type": "string",
					"enum": []string{
						string(policy.AllowOnce), string(policy.AllowSession), string(policy.AllowPersistStyle),
						string(policy.DenyOnce), string(policy.DenySession), string(policy.DenyPersistStyle),
						string(policy.Cancel),
					},
				},
			},
			"required": []string{"server", "decision"},
		},
	}
}

func (t *DecideMcpAccessTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	server, _ := args["server"].(string)
	if server == "" {
		return api.ToolResult{Status: "error", Error: "server is required"}, nil
	}
	decisionStr, _ := args["decision"].(string)
	if decisionStr == "" {
		return api.ToolResult{Status: "error", Error: "decision is required"}, nil
	}
	decision := policy.McpDecision(decisionStr)

	if err := t.Manager.Decide(server, decision); err != nil {
		return api.ToolResult{Status: "error", Error: err.Error()}, nil
	}

	allowed := t.Manager.Snapshot().Allowed(server)
	return api.ToolResult{
		Status:  "success",
		Content: fmt.Sprintf("%s is now %s for %q", server, allowedLabel(allowed), decision),
		Data:    map[string]any{"server": server, "allowed": allowed},
	}, nil
}

func allowedLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
