package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/adapter/goskills"
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// desktopOperation describes a single file/shell action requested of
// capi_desktop, decoded from external_payload.desktop_operation or
// synthesized from the instruction text when absent.
type desktopOperation struct {
	Tool    string `json:"tool"`    // "write_file", "read_file", "run_shell_code", "file_operations"
	Payload string `json:"payload"` // JSON body passed straight to the SkillTool
}

// NewCapiDesktop returns the capi_desktop node: previews a
// file or shell action and requires HumanGate approval before it ever
// runs adapter/goskills against the real filesystem. A read-only
// read_file preview needs no approval; any writing or shell tool does.
func NewCapiDesktop(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "capi_desktop",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			op := desktopOperationFor(s)

			if requiresApprovalFor(op.Tool) && !approvedByHumanGate(s) {
				if _, decided := s.ResponseMetadata["human_decision"]; !decided {
					return requestApproval(s, "capi_desktop", "desktop_"+op.Tool,
						fmt.Sprintf("Run desktop tool %q with payload %s", op.Tool, op.Payload),
						map[string]any{"tool": op.Tool, "payload": op.Payload}), nil
				}
				next := state.AddError(consumeApproval(s), "capi_desktop", "approval_denied", "desktop operation was not approved", nil)
				return finish(next, "capi_desktop", map[string]any{
					"result_summary": "The requested file/shell action was not approved, so nothing ran.",
				}), nil
			}

			if approvedByHumanGate(s) {
				s = consumeApproval(s)
			}

			skillPath := deps.SkillsPath
			if skillPath == "" {
				skillPath = deps.WorkspaceRoot
			}
			tool := goskills.NewSkillTool(op.Tool, "capi_desktop sandboxed operation", skillPath)
			output, err := tool.Call(ctx.Context, op.Payload)
			if err != nil {
				return fail(s, "capi_desktop", err), nil
			}

			next := finish(s, "capi_desktop", map[string]any{
				"tool":           op.Tool,
				"output":         output,
				"result_summary": fmt.Sprintf("capi_desktop ran %s successfully.", op.Tool),
				"executed_at":    nowToken(),
			})
			return next, nil
		},
	}
}

func desktopOperationFor(s *state.GraphState) desktopOperation {
	if raw, ok := s.ExternalPayload["desktop_operation"].(map[string]any); ok {
		tool, _ := raw["tool"].(string)
		payload, _ := raw["payload"].(string)
		if tool != "" {
			return desktopOperation{Tool: tool, Payload: payload}
		}
	}
	return desktopOperation{
		Tool:    "read_file",
		Payload: fmt.Sprintf(`{"filePath": %q}`, instructionOf(s)),
	}
}

func requiresApprovalFor(tool string) bool {
	switch tool {
	case "read_file":
		return false
	default:
		return true
	}
}
