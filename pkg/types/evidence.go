package types

// EvidenceLedger is the per (SessionID, DumpID) append-only accumulation of
// tool calls the AI orchestrator made during a sampling run. Reset whenever
// DumpID or the report's GeneratedAt changes (see ReportSnapshot).
type EvidenceLedger struct {
	SessionID  string        `json:"sessionID"`
	Snapshot   SnapshotKey   `json:"snapshot"`
	Entries    []LedgerEntry `json:"entries"`
	Checkpoint *Checkpoint   `json:"checkpoint,omitempty"`
}

// LedgerEntry records one tool call made during an AI sampling iteration.
type LedgerEntry struct {
	Iteration    int    `json:"iteration"`
	ToolName     string `json:"toolName"`
	ArgsDigest   string `json:"argsDigest"`
	ResultDigest string `json:"resultDigest"`
	Excerpt      string `json:"excerpt"`
	Error        bool   `json:"error,omitempty"`
	Time         int64  `json:"time"`
}

// Checkpoint is the periodic structured summary the AI emits, carried
// forward into subsequent prompts.
type Checkpoint struct {
	Hypothesis    string   `json:"hypothesis"`
	OpenQuestions []string `json:"openQuestions,omitempty"`
	Confidence    float64  `json:"confidence"`
	Iteration     int      `json:"iteration"`
}

// SnapshotKey identifies which (DumpID, GeneratedAt) a ledger/checkpoint was
// accumulated against — used to detect staleness per spec §4.I.
type SnapshotKey struct {
	DumpID      string `json:"dumpID"`
	GeneratedAt int64  `json:"generatedAt"`
}

// Matches reports whether the ledger was accumulated against the same
// report identity as key. A nil ledger never matches, forcing callers to
// start a fresh one.
func (l *EvidenceLedger) Matches(key SnapshotKey) bool {
	return l != nil && l.Snapshot == key
}
