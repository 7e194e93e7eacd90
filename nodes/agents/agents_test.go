package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

func testRunContext() *graph.RunContext {
	return &graph.RunContext{Context: context.Background(), SessionID: "sess-1", TraceID: "trace-1"}
}

func TestCapiDatab_ReadQueryProducesRows(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "show me recent transactions", state.WorkflowModeChat)
	out, err := NewCapiDatab(support.Dependencies{WorkspaceRoot: t.TempDir()}).Run(testRunContext(), s)
	require.NoError(t, err)
	artifact := out.SharedArtifacts["capi_datab"]
	assert.Equal(t, "query", artifact["operation"])
	assert.EqualValues(t, 2, artifact["row_count"])
	assert.Contains(t, out.CompletedNodes, "capi_datab")
}

func TestCapiDatab_ExportsRowsToFile(t *testing.T) {
	root := t.TempDir()
	s := state.New("sess-1", "trace-1", "user-1", "show me recent transactions", state.WorkflowModeChat)
	out, err := NewCapiDatab(support.Dependencies{WorkspaceRoot: root}).Run(testRunContext(), s)
	require.NoError(t, err)

	path, _ := out.SharedArtifacts["capi_datab"]["export_path"].(string)
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "id,summary")
	assert.Contains(t, path, filepath.Join(root, "data", "sessions"))
}

func TestCapiDatab_WriteOperationRequestsApproval(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "delete the stale rows", state.WorkflowModeChat)
	s.ExternalPayload["operation"] = "delete"
	out, err := NewCapiDatab(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAwaitingHuman, out.Status)
	approval, _ := out.ResponseMetadata["requires_human_approval"].(bool)
	assert.True(t, approval)
}

func TestCapiDatab_DeniedApprovalRecordsError(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "delete the stale rows", state.WorkflowModeChat)
	s.ExternalPayload["operation"] = "delete"
	s.ResponseMetadata["human_decision"] = map[string]any{"approved": false}
	s.ResponseMetadata["human_approved"] = false
	out, err := NewCapiDatab(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "approval_denied", out.Errors[0].Code)
}

func TestCapiDatab_CooperateWithSetsRoutingDecision(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "show me recent transactions", state.WorkflowModeChat)
	s.ExternalPayload["cooperate_with"] = "capi_elcajas"
	out, err := NewCapiDatab(support.Dependencies{WorkspaceRoot: t.TempDir()}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"capi_elcajas"}, out.RoutingDecision)
}

func TestCapiDatab_UnknownCooperateWithIsIgnored(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "show me recent transactions", state.WorkflowModeChat)
	s.ExternalPayload["cooperate_with"] = "capi_gus"
	out, err := NewCapiDatab(support.Dependencies{WorkspaceRoot: t.TempDir()}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Empty(t, out.RoutingDecision)
}

func TestCapiAlertas_SeveritiesByRowCount(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "any alerts?", state.WorkflowModeChat)
	s.SharedArtifacts["capi_datab"] = map[string]any{"row_count": 5}
	out, err := NewCapiAlertas(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, "warning", out.SharedArtifacts["capi_alertas"]["severity"])
}

func TestCapiDesktop_ReadFileNeedsNoApproval(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "nonexistent.txt", state.WorkflowModeChat)
	out, err := NewCapiDesktop(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	// the file doesn't exist, so capi_desktop fails the read, but it never
	// should have asked for approval first.
	_, asked := out.ResponseMetadata["requires_human_approval"]
	assert.False(t, asked)
	assert.Contains(t, out.CompletedNodes, "capi_desktop")
}

func TestCapiDesktop_WriteFileRequestsApproval(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "save notes", state.WorkflowModeChat)
	s.ExternalPayload["desktop_operation"] = map[string]any{
		"tool":    "write_file",
		"payload": `{"filePath": "notes.txt", "content": "hi"}`,
	}
	out, err := NewCapiDesktop(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAwaitingHuman, out.Status)
	actions, _ := out.ResponseMetadata["actions"].([]any)
	require.Len(t, actions, 1)
}

func TestAgenteG_ReadScopeAnswersDirectly(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "what's on my calendar today", state.WorkflowModeChat)
	s.ResponseMetadata["google_scope"] = "calendar"
	out, err := NewAgenteG(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, "calendar", out.SharedArtifacts["agente_g"]["scope"])
	_, asked := out.ResponseMetadata["requires_human_approval"]
	assert.False(t, asked)
}

func TestAgenteG_SendEmailRequestsApproval(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "email the branch manager", state.WorkflowModeChat)
	s.ExternalPayload["google_action"] = "send_email"
	out, err := NewAgenteG(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAwaitingHuman, out.Status)
}

func TestCapiGus_GreetingAndSummary(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "hi there", state.WorkflowModeChat)
	s.DetectedIntent = state.IntentGreeting
	out, err := NewCapiGus(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Contains(t, out.SharedArtifacts["capi_gus"]["result_summary"], "Hello")
}

func TestAnomaly_FlagsVolumeSpike(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "anything unusual?", state.WorkflowModeChat)
	s.SharedArtifacts["capi_datab"] = map[string]any{"row_count": 3}
	out, err := NewAnomaly(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.SharedArtifacts["anomaly"]["finding_count"])
}

func TestBranch_DefaultsUnspecifiedBranchID(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "what time do you open?", state.WorkflowModeChat)
	out, err := NewBranch(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.Equal(t, "unspecified", out.SharedArtifacts["branch"]["branch_id"])
}

func TestCapiElcajas_ReconcilesDatabRows(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "reconcile today's cash", state.WorkflowModeChat)
	s.SharedArtifacts["capi_datab"] = map[string]any{"row_count": 4}
	out, err := NewCapiElcajas(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	assert.EqualValues(t, 4, out.SharedArtifacts["capi_elcajas"]["dataset_rows"])
	assert.Equal(t, true, out.SharedArtifacts["capi_elcajas"]["reconciled"])
}

func TestCapiDatab_ApprovedWriteExecutesAndConsumesAction(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "update the row", state.WorkflowModeChat)
	s.ExternalPayload["operation"] = "update"
	s.ResponseMetadata["human_decision"] = map[string]any{"approved": true}
	s.ResponseMetadata["human_approved"] = true
	s.ResponseMetadata["actions"] = []any{
		map[string]any{"type": "db_write", "agent": "capi_datab"},
	}

	out, err := NewCapiDatab(support.Dependencies{WorkspaceRoot: t.TempDir()}).Run(testRunContext(), s)
	require.NoError(t, err)

	artifact := out.SharedArtifacts["capi_datab"]
	assert.Equal(t, "update", artifact["operation"])
	actions, _ := out.ResponseMetadata["actions"].([]any)
	assert.Empty(t, actions, "an executed approval must not be dispatched again")
}

func TestCapiDatab_DeniedApprovalConsumesAction(t *testing.T) {
	s := state.New("sess-1", "trace-1", "user-1", "delete the stale rows", state.WorkflowModeChat)
	s.ExternalPayload["operation"] = "delete"
	s.ResponseMetadata["human_decision"] = map[string]any{"approved": false}
	s.ResponseMetadata["human_approved"] = false
	s.ResponseMetadata["actions"] = []any{
		map[string]any{"type": "db_write", "agent": "capi_datab"},
	}

	out, err := NewCapiDatab(support.Dependencies{}).Run(testRunContext(), s)
	require.NoError(t, err)
	actions, _ := out.ResponseMetadata["actions"].([]any)
	assert.Empty(t, actions)
}
