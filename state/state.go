// Package state defines GraphState, the single conversation-scoped record
// threaded through the orchestration graph, and StateMutator, the set of
// pure functions that produce new state snapshots from an input state and
// a delta.
package state

import "time"

// WorkflowMode selects the root behavior of a turn.
type WorkflowMode string

const (
	WorkflowModeChat         WorkflowMode = "chat"
	WorkflowModeAlertMonitor WorkflowMode = "alert_monitor"
)

// Status is the lifecycle of a GraphState within one turn.
type Status string

const (
	StatusInitialized   Status = "initialized"
	StatusProcessing    Status = "processing"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Intent is the classification assigned by the Intent node.
type Intent string

const (
	IntentGreeting        Intent = "GREETING"
	IntentSmallTalk       Intent = "SMALL_TALK"
	IntentSummaryRequest  Intent = "SUMMARY_REQUEST"
	IntentBranchQuery     Intent = "BRANCH_QUERY"
	IntentAnomalyQuery    Intent = "ANOMALY_QUERY"
	IntentFileOperation   Intent = "FILE_OPERATION"
	IntentDBOperation     Intent = "DB_OPERATION"
	IntentGoogleWorkspace Intent = "GOOGLE_WORKSPACE"
	IntentGoogleGmail     Intent = "GOOGLE_GMAIL"
	IntentGoogleDrive     Intent = "GOOGLE_DRIVE"
	IntentGoogleCalendar  Intent = "GOOGLE_CALENDAR"
	IntentQuery           Intent = "QUERY"
	IntentUnknown         Intent = "UNKNOWN"
)

// ErrorRecord is one accumulated fault. Errors only ever grow; nothing
// removes an entry once appended.
type ErrorRecord struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Node      string         `json:"node,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryTurn is one prior turn retained in conversation_history.
type HistoryTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// GraphState is the conversation-scoped record threaded through every
// node. All mutation happens through StateMutator functions in this
// package; nothing outside this package should mutate a GraphState's
// map/slice fields in place.
type GraphState struct {
	SessionID       string         `json:"session_id"`
	TraceID         string         `json:"trace_id"`
	UserID          string         `json:"user_id"`
	OriginalQuery   string         `json:"original_query"`
	WorkflowMode    WorkflowMode   `json:"workflow_mode"`
	ExternalPayload map[string]any `json:"external_payload"`

	Status           Status   `json:"status"`
	CurrentNode      string   `json:"current_node"`
	CompletedNodes   []string `json:"completed_nodes"`
	DetectedIntent   Intent   `json:"detected_intent"`
	IntentConfidence float64  `json:"intent_confidence"`

	// RoutingDecision holds the next node(s). A single-element slice means
	// a single successor; more than one element means fan-out.
	RoutingDecision []string `json:"routing_decision"`
	ActiveAgent     string   `json:"active_agent"`

	ResponseMessage  string         `json:"response_message"`
	ResponseData     map[string]any `json:"response_data"`
	ResponseMetadata map[string]any `json:"response_metadata"`

	SharedArtifacts map[string]map[string]any `json:"shared_artifacts"`

	ConversationHistory []HistoryTurn `json:"conversation_history"`
	MemoryWindow        []HistoryTurn `json:"memory_window"`

	ReasoningSummary string `json:"reasoning_summary"`

	ProcessingMetrics map[string]float64 `json:"processing_metrics"`
	Errors            []ErrorRecord      `json:"errors"`

	Config map[string]any `json:"config"`
}

// New returns an initialized GraphState for a new turn. All mapping/slice
// fields are allocated so downstream mutators never need nil-checks.
func New(sessionID, traceID, userID, query string, mode WorkflowMode) *GraphState {
	return &GraphState{
		SessionID:           sessionID,
		TraceID:             traceID,
		UserID:              userID,
		OriginalQuery:       query,
		WorkflowMode:        mode,
		ExternalPayload:     map[string]any{},
		Status:              StatusInitialized,
		CompletedNodes:      []string{},
		DetectedIntent:      IntentUnknown,
		RoutingDecision:     nil,
		ResponseData:        map[string]any{},
		ResponseMetadata:    map[string]any{},
		SharedArtifacts:     map[string]map[string]any{},
		ConversationHistory: []HistoryTurn{},
		MemoryWindow:        []HistoryTurn{},
		ProcessingMetrics:   map[string]float64{},
		Errors:              []ErrorRecord{},
		Config:              map[string]any{},
	}
}

// Clone returns a deep-enough copy of s suitable for handing to a
// parallel fan-out branch: every mapping and slice field is copied one
// level deep so a branch's writes never alias the parent's storage.
func Clone(s *GraphState) *GraphState {
	clone := *s
	clone.ExternalPayload = copyMap(s.ExternalPayload)
	clone.CompletedNodes = append([]string(nil), s.CompletedNodes...)
	clone.RoutingDecision = append([]string(nil), s.RoutingDecision...)
	clone.ResponseData = copyMap(s.ResponseData)
	clone.ResponseMetadata = copyMap(s.ResponseMetadata)
	clone.SharedArtifacts = make(map[string]map[string]any, len(s.SharedArtifacts))
	for k, v := range s.SharedArtifacts {
		clone.SharedArtifacts[k] = copyMap(v)
	}
	clone.ConversationHistory = append([]HistoryTurn(nil), s.ConversationHistory...)
	clone.MemoryWindow = append([]HistoryTurn(nil), s.MemoryWindow...)
	clone.ProcessingMetrics = make(map[string]float64, len(s.ProcessingMetrics))
	for k, v := range s.ProcessingMetrics {
		clone.ProcessingMetrics[k] = v
	}
	clone.Errors = append([]ErrorRecord(nil), s.Errors...)
	clone.Config = copyMap(s.Config)
	return &clone
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}
