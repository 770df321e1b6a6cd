package event

import "github.com/opencode-ai/opencode/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.SessionHeader `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.SessionHeader `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// SessionIdleData is the data for session.idle events, fired when a session
// crosses the idle timeout and is evicted.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// DumpOpenedData is the data for dump.opened events.
type DumpOpenedData struct {
	SessionID string `json:"sessionID"`
	DumpID    string `json:"dumpID"`
}

// DumpClosedData is the data for dump.closed events.
type DumpClosedData struct {
	SessionID string `json:"sessionID"`
	DumpID    string `json:"dumpID"`
}

// ReportGeneratedData is the data for report.generated events.
type ReportGeneratedData struct {
	SessionID   string `json:"sessionID"`
	DumpID      string `json:"dumpID"`
	GeneratedAt int64  `json:"generatedAt"`
}

// WatchAddedData is the data for watch.added events.
type WatchAddedData struct {
	DumpID string      `json:"dumpID"`
	Watch  types.Watch `json:"watch"`
}

// WatchUpdatedData is the data for watch.updated events, fired when a watch
// is re-evaluated.
type WatchUpdatedData struct {
	DumpID string             `json:"dumpID"`
	Result types.WatchResult  `json:"result"`
}

// WatchRemovedData is the data for watch.removed events.
type WatchRemovedData struct {
	DumpID  string `json:"dumpID"`
	WatchID string `json:"watchID"`
}

// AIIterationData is the data for ai.iteration events, fired once per
// orchestrator loop iteration.
type AIIterationData struct {
	SessionID string `json:"sessionID"`
	Iteration int    `json:"iteration"`
	ToolName  string `json:"toolName,omitempty"`
}

// AICheckpointData is the data for ai.checkpoint events.
type AICheckpointData struct {
	SessionID  string           `json:"sessionID"`
	Checkpoint types.Checkpoint `json:"checkpoint"`
}

// DebuggerLostData is the data for debugger.lost events, fired when a
// session's debugger subprocess exits unexpectedly.
type DebuggerLostData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason,omitempty"`
}
