package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Load loads service configuration from multiple sources, in priority order:
//  1. types.DefaultConfig() baseline
//  2. global config (~/.config/dumpserver/dumpserver.json[c])
//  3. project config (<directory>/.dumpserver/dumpserver.json[c])
//  4. a .env file in directory, if present
//  5. environment variable overrides
func Load(directory string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "dumpserver.json"), &cfg)
	loadConfigFile(filepath.Join(globalPath, "dumpserver.jsonc"), &cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".dumpserver", "dumpserver.json"), &cfg)
		loadConfigFile(filepath.Join(directory, ".dumpserver", "dumpserver.jsonc"), &cfg)
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	applyEnvOverrides(&cfg)

	if cfg.StorageRoot == "" {
		cfg.StorageRoot = GetPaths().StoragePath()
	}

	return &cfg, nil
}

// loadConfigFile reads a single config file and merges it into cfg. Missing
// files are silently skipped — layering is additive, not mandatory.
func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = stripJSONComments(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

var (
	singleLineComment = regexp.MustCompile(`//.*$`)
	multiLineComment  = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLineComment.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))
	return multiLineComment.ReplaceAll(data, nil)
}

// mergeConfig merges non-zero fields of source into target. Zero values in
// source never clobber an already-set target field.
func mergeConfig(target, source *types.Config) {
	if source.StorageRoot != "" {
		target.StorageRoot = source.StorageRoot
	}
	if source.MaxSessionsPerUser != 0 {
		target.MaxSessionsPerUser = source.MaxSessionsPerUser
	}
	if source.IdleTimeoutSeconds != 0 {
		target.IdleTimeoutSeconds = source.IdleTimeoutSeconds
	}
	if source.Debugger.Backend != "" {
		target.Debugger.Backend = source.Debugger.Backend
	}
	if source.Debugger.LLDBPath != "" {
		target.Debugger.LLDBPath = source.Debugger.LLDBPath
	}
	if source.Debugger.CDBPath != "" {
		target.Debugger.CDBPath = source.Debugger.CDBPath
	}
	if source.Debugger.CommandTimeoutSec != 0 {
		target.Debugger.CommandTimeoutSec = source.Debugger.CommandTimeoutSec
	}
	if source.Symbols.MicrosoftPublicSymbolServer != "" {
		target.Symbols.MicrosoftPublicSymbolServer = source.Symbols.MicrosoftPublicSymbolServer
	}
	if source.Symbols.GlobalCacheDir != "" {
		target.Symbols.GlobalCacheDir = source.Symbols.GlobalCacheDir
	}
	if len(source.Symbols.DenylistGlobs) > 0 {
		target.Symbols.DenylistGlobs = source.Symbols.DenylistGlobs
	}
	if source.AI.MaxIterations != 0 {
		target.AI.MaxIterations = source.AI.MaxIterations
	}
	if source.AI.CheckpointEveryIterations != 0 {
		target.AI.CheckpointEveryIterations = source.AI.CheckpointEveryIterations
	}
	if source.AI.MaxTokens != 0 {
		target.AI.MaxTokens = source.AI.MaxTokens
	}
	if source.AI.ConfidenceThreshold != 0 {
		target.AI.ConfidenceThreshold = source.AI.ConfidenceThreshold
	}
	if source.AI.EvidenceExcerptMaxChars != 0 {
		target.AI.EvidenceExcerptMaxChars = source.AI.EvidenceExcerptMaxChars
	}
	if source.AI.WallClockDeadlineSec != 0 {
		target.AI.WallClockDeadlineSec = source.AI.WallClockDeadlineSec
	}
	if source.AI.TraceEnabled {
		target.AI.TraceEnabled = true
	}
	if source.AI.TraceDir != "" {
		target.AI.TraceDir = source.AI.TraceDir
	}
	if source.Report.Backend != "" {
		target.Report.Backend = source.Report.Backend
	}
	if source.Report.RedisURL != "" {
		target.Report.RedisURL = source.Report.RedisURL
	}
	if source.RPC.RequestDeadlineSec != 0 {
		target.RPC.RequestDeadlineSec = source.RPC.RequestDeadlineSec
	}
	if source.RPC.MaxQueueDepth != 0 {
		target.RPC.MaxQueueDepth = source.RPC.MaxQueueDepth
	}
	if source.RPC.SSEHeartbeatSeconds != 0 {
		target.RPC.SSEHeartbeatSeconds = source.RPC.SSEHeartbeatSeconds
	}
	if source.DatadogSymbolsEnabled {
		target.DatadogSymbolsEnabled = true
	}
	if source.DatadogMCP.URL != "" {
		target.DatadogMCP.URL = source.DatadogMCP.URL
	}
	if source.DatadogMCP.TimeoutSec != 0 {
		target.DatadogMCP.TimeoutSec = source.DatadogMCP.TimeoutSec
	}
	if source.APIKey != "" {
		target.APIKey = source.APIKey
	}
	if len(source.ManagedReader.HelperCommand) > 0 {
		target.ManagedReader.HelperCommand = source.ManagedReader.HelperCommand
	}
	if source.ManagedReader.HelperPath != "" {
		target.ManagedReader.HelperPath = source.ManagedReader.HelperPath
	}
	if source.ManagedReader.RequestTimeoutSec != 0 {
		target.ManagedReader.RequestTimeoutSec = source.ManagedReader.RequestTimeoutSec
	}
}

// applyEnvOverrides applies environment variable overrides, the final
// layer in Load's priority order.
func applyEnvOverrides(cfg *types.Config) {
	if v := os.Getenv("DUMPSERVER_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("DUMPSERVER_DEBUGGER_BACKEND"); v != "" {
		cfg.Debugger.Backend = v
	}
	if v := os.Getenv("DUMPSERVER_LLDB_PATH"); v != "" {
		cfg.Debugger.LLDBPath = v
	}
	if v := os.Getenv("DUMPSERVER_CDB_PATH"); v != "" {
		cfg.Debugger.CDBPath = v
	}
	if v := os.Getenv("DUMPSERVER_REPORT_BACKEND"); v != "" {
		cfg.Report.Backend = v
	}
	if v := os.Getenv("DUMPSERVER_REDIS_URL"); v != "" {
		cfg.Report.RedisURL = v
	}
	if v := os.Getenv("DUMPSERVER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("DUMPSERVER_MANAGED_READER_HELPER_PATH"); v != "" {
		cfg.ManagedReader.HelperPath = v
	}
	if v := os.Getenv("DUMPSERVER_DATADOG_MCP_URL"); v != "" {
		cfg.DatadogMCP.URL = v
	}
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed.
func Save(cfg *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
