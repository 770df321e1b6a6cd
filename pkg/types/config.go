package types

// Config is the service-wide configuration, loaded in layers by
// internal/config (global file, project file, environment overrides).
type Config struct {
	// StorageRoot is the root directory for sessions/dumps/watches/symbols.
	StorageRoot string `json:"storageRoot,omitempty"`

	// Quotas
	MaxSessionsPerUser int `json:"maxSessionsPerUser,omitempty"`
	IdleTimeoutSeconds int `json:"idleTimeoutSeconds,omitempty"`

	// Debugger backend selection and binary locations.
	Debugger DebuggerConfig `json:"debugger,omitempty"`

	// Symbols configures the symbol policy engine's default search path.
	Symbols SymbolsConfig `json:"symbols,omitempty"`

	// AI configures the sampling orchestrator's bounds.
	AI AIConfig `json:"ai,omitempty"`

	// Report configures report cache backend selection.
	Report ReportConfig `json:"report,omitempty"`

	// RPC configures transport-level timeouts and backpressure.
	RPC RPCConfig `json:"rpc,omitempty"`

	// DatadogSymbols toggles the Datadog-specific symbol downloader
	// collaborator (out of scope per spec §1, wired only as a feature flag).
	DatadogSymbolsEnabled bool `json:"datadogSymbolsEnabled,omitempty"`

	// DatadogMCP locates the Datadog-operated MCP server the datadog_symbols
	// tool calls out to when DatadogSymbolsEnabled is set.
	DatadogMCP DatadogMCPConfig `json:"datadogMCP,omitempty"`

	// APIKey, when non-empty, requires every HTTP request to carry a
	// matching X-API-Key header. Empty disables the check.
	APIKey string `json:"apiKey,omitempty"`

	// ManagedReader configures the out-of-process managed-metadata helper.
	ManagedReader ManagedReaderConfig `json:"managedReader,omitempty"`
}

// DebuggerConfig selects and locates the native debugger backend.
type DebuggerConfig struct {
	Backend           string `json:"backend,omitempty"` // "lldb" | "dbgeng"
	LLDBPath          string `json:"lldbPath,omitempty"`
	CDBPath           string `json:"cdbPath,omitempty"`
	CommandTimeoutSec int    `json:"commandTimeoutSeconds,omitempty"`
}

// ManagedReaderConfig locates the dotnet-hosted managed-metadata helper
// internal/managedreader launches per open dump.
type ManagedReaderConfig struct {
	HelperCommand     []string `json:"helperCommand,omitempty"`
	HelperPath        string   `json:"helperPath,omitempty"`
	RequestTimeoutSec int      `json:"requestTimeoutSeconds,omitempty"`
}

// SymbolsConfig configures default symbol search roots.
type SymbolsConfig struct {
	MicrosoftPublicSymbolServer string   `json:"microsoftPublicSymbolServer,omitempty"`
	GlobalCacheDir              string   `json:"globalCacheDir,omitempty"`
	DenylistGlobs               []string `json:"denylistGlobs,omitempty"`
}

// AIConfig bounds the AI sampling orchestrator.
type AIConfig struct {
	MaxIterations          int     `json:"maxIterations,omitempty"`
	CheckpointEveryIterations int  `json:"checkpointEveryIterations,omitempty"`
	MaxTokens              int     `json:"maxTokens,omitempty"`
	ConfidenceThreshold    float64 `json:"confidenceThreshold,omitempty"`
	EvidenceExcerptMaxChars int    `json:"evidenceExcerptMaxChars,omitempty"`
	WallClockDeadlineSec   int     `json:"wallClockDeadlineSeconds,omitempty"`
	TraceEnabled           bool    `json:"traceEnabled,omitempty"`
	TraceFiles             bool    `json:"traceFiles,omitempty"`
	TraceDir               string  `json:"traceDir,omitempty"`
}

// ReportConfig selects the report cache backend.
type ReportConfig struct {
	Backend  string `json:"backend,omitempty"` // "file" | "redis"
	RedisURL string `json:"redisURL,omitempty"`
}

// RPCConfig bounds the JSON-RPC transport.
type RPCConfig struct {
	RequestDeadlineSec  int `json:"requestDeadlineSeconds,omitempty"`
	MaxQueueDepth       int `json:"maxQueueDepth,omitempty"`
	SSEHeartbeatSeconds int `json:"sseHeartbeatSeconds,omitempty"`
}

// DatadogMCPConfig connects to a remote Datadog symbol MCP server over SSE.
type DatadogMCPConfig struct {
	URL        string `json:"url,omitempty"`
	TimeoutSec int    `json:"timeoutSeconds,omitempty"`
}

// DefaultConfig returns the service defaults named throughout spec.md
// (5 session quota, 30 min idle timeout, 5 min command timeout, etc).
func DefaultConfig() Config {
	return Config{
		MaxSessionsPerUser: 5,
		IdleTimeoutSeconds: 30 * 60,
		Debugger: DebuggerConfig{
			Backend:           "lldb",
			CommandTimeoutSec: 5 * 60,
		},
		AI: AIConfig{
			MaxIterations:             100,
			CheckpointEveryIterations: 5,
			MaxTokens:                 8192,
			ConfidenceThreshold:       0.8,
			EvidenceExcerptMaxChars:   500,
		},
		Report: ReportConfig{
			Backend: "file",
		},
		RPC: RPCConfig{
			RequestDeadlineSec:  10 * 60,
			MaxQueueDepth:       32,
			SSEHeartbeatSeconds: 30,
		},
		ManagedReader: ManagedReaderConfig{
			HelperPath:        "managedreader-helper",
			RequestTimeoutSec: 30,
		},
	}
}
