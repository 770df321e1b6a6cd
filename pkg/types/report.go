package types

// ReportSnapshot is the canonical JSON report document. Once emitted with a
// given GeneratedAt it is immutable; a mutated report is a new snapshot.
type ReportSnapshot struct {
	Metadata ReportMetadata `json:"metadata"`
	Analysis AnalysisFragment `json:"analysis"`
}

// ReportMetadata identifies a ReportSnapshot and records which optional
// sections it includes, for the report store's superset/subset comparison.
type ReportMetadata struct {
	UserID             string `json:"userID"`
	DumpID             string `json:"dumpID"`
	GeneratedAt        int64  `json:"generatedAt"`
	LLMKey             string `json:"llmKey,omitempty"`
	IncludesWatches    bool   `json:"includesWatches"`
	IncludesSecurity   bool   `json:"includesSecurity"`
	IncludesAIAnalysis bool   `json:"includesAiAnalysis"`
	IncludesAllFrames  bool   `json:"includesAllFrames"`
}

// ReportOptions is the request-side feature set a caller asks for; a cached
// ReportMetadata satisfies a ReportOptions request only if its feature set
// is a superset.
type ReportOptions struct {
	Watches    bool
	Security   bool
	AIAnalysis bool
	AllFrames  bool
	LLMKey     string
}

// Satisfies reports whether m's feature set is a superset of opts — the
// report-monotonicity invariant from spec §8.
func (m ReportMetadata) Satisfies(opts ReportOptions) bool {
	if opts.Watches && !m.IncludesWatches {
		return false
	}
	if opts.Security && !m.IncludesSecurity {
		return false
	}
	if opts.AIAnalysis && !m.IncludesAIAnalysis {
		return false
	}
	if opts.AllFrames && !m.IncludesAllFrames {
		return false
	}
	if opts.LLMKey != "" && m.LLMKey != opts.LLMKey {
		return false
	}
	return true
}

// AnalysisFragment is the `analysis` subtree of a ReportSnapshot. Enrichers
// (security, watches, ai) each return a fragment that is merged into a fresh
// snapshot rather than mutating a live one.
type AnalysisFragment struct {
	Summary     SummaryFragment     `json:"summary"`
	Threads     ThreadsFragment     `json:"threads"`
	Modules     []ModuleInfo        `json:"modules,omitempty"`
	GC          *GCFragment         `json:"gc,omitempty"`
	Contention  *ContentionFragment `json:"contention,omitempty"`
	Security    *SecurityFragment   `json:"security,omitempty"`
	Watches     []WatchReportEntry  `json:"watches,omitempty"`
	AIAnalysis  *AIAnalysisFragment `json:"aiAnalysis,omitempty"`
}

// SummaryFragment is the top-level crash summary, optionally rewritten by
// the AI orchestrator's final single-shot sampling passes.
type SummaryFragment struct {
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations,omitempty"`
	ExceptionType   string   `json:"exceptionType,omitempty"`
	FaultingThread  int      `json:"faultingThread,omitempty"`
}

// ThreadsFragment holds per-thread stacks plus an optional AI-rewritten
// summary description.
type ThreadsFragment struct {
	All     []ThreadInfo    `json:"all"`
	Summary ThreadsSummary  `json:"summary"`
}

// ThreadsSummary is the narrative summary over ThreadsFragment.All.
type ThreadsSummary struct {
	Description string `json:"description"`
}

// ThreadInfo is one managed or native thread's stack.
type ThreadInfo struct {
	ID     int         `json:"id"`
	Native bool        `json:"native"`
	Frames []FrameInfo `json:"frames"`
}

// FrameInfo is one stack frame.
type FrameInfo struct {
	Method string `json:"method"`
	Module string `json:"module,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// ModuleInfo describes one loaded module.
type ModuleInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	IsCLR   bool   `json:"isClr,omitempty"`
}

// GCFragment summarizes GC heap state.
type GCFragment struct {
	HeapCount  int              `json:"heapCount"`
	TotalBytes int64            `json:"totalBytes"`
	Generations []GenerationInfo `json:"generations,omitempty"`
}

// GenerationInfo is per-generation heap usage.
type GenerationInfo struct {
	Generation int   `json:"generation"`
	Bytes      int64 `json:"bytes"`
	ObjectCount int  `json:"objectCount"`
}

// ContentionFragment summarizes lock contention findings.
type ContentionFragment struct {
	BlockedThreads []int    `json:"blockedThreads,omitempty"`
	Findings       []string `json:"findings,omitempty"`
}

// SecurityFragment summarizes security-relevant findings.
type SecurityFragment struct {
	Findings []SecurityFinding `json:"findings,omitempty"`
}

// SecurityFinding is one security-analyzer finding.
type SecurityFinding struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// WatchReportEntry is one evaluated watch included in a report's watches
// section.
type WatchReportEntry struct {
	Watch  Watch       `json:"watch"`
	Result WatchResult `json:"-"`
}

// AIAnalysisFragment is the output the AI sampling orchestrator merges into
// a ReportSnapshot.
type AIAnalysisFragment struct {
	Iterations  int          `json:"iterations"`
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	DoneReason  string       `json:"doneReason"` // "model_done"|"confidence"|"evidence_budget"|"iteration_cap"
}
