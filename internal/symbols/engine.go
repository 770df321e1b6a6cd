// Package symbols maintains each session's ordered symbol search path and
// the on-disk per-dump symbol cache directories that back it.
package symbols

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Engine computes and persists the ordered symbol search path spec §4.C
// fixes: [Microsoft public, per-dump extracted dir, per-dump .datadog dir,
// user-provided dirs, global symbol cache]. It does not itself know about
// command caches, source-link resolvers, or cached reports — configure's
// caller (internal/session) invalidates those after every Configure call,
// per spec §4.C.
type Engine struct {
	storageRoot string
	cfg         types.SymbolsConfig
}

// New constructs an Engine rooted at storageRoot, using cfg for the
// Microsoft public symbol server URL, global cache directory, and the
// denylist globs user-provided extra directories are checked against.
func New(storageRoot string, cfg types.SymbolsConfig) *Engine {
	return &Engine{storageRoot: storageRoot, cfg: cfg}
}

// dumpSymbolsDir is {storage}/{userID}/.symbols_{dumpID}.
func (e *Engine) dumpSymbolsDir(userID, dumpID string) string {
	return filepath.Join(e.storageRoot, userID, ".symbols_"+dumpID)
}

// Configure computes the ordered search path for (userID, dumpID), creating
// the per-dump extracted and .datadog subdirectories if they don't already
// exist, and filtering extra against the configured denylist globs. Any
// extra directory matching a denylist glob is silently dropped — never
// added to the search path.
func (e *Engine) Configure(ctx context.Context, userID, dumpID string, extra []string) (types.SymbolPolicy, error) {
	base := e.dumpSymbolsDir(userID, dumpID)
	extractedDir := filepath.Join(base, "extracted")
	datadogDir := filepath.Join(base, "datadog")

	if err := os.MkdirAll(extractedDir, 0755); err != nil {
		return types.SymbolPolicy{}, fmt.Errorf("symbols: create extracted dir: %w", err)
	}
	if err := os.MkdirAll(datadogDir, 0755); err != nil {
		return types.SymbolPolicy{}, fmt.Errorf("symbols: create datadog dir: %w", err)
	}

	allowed := e.filterDenylisted(extra)

	paths := []string{}
	if e.cfg.MicrosoftPublicSymbolServer != "" {
		paths = append(paths, e.cfg.MicrosoftPublicSymbolServer)
	}
	paths = append(paths, extractedDir, datadogDir)
	paths = append(paths, allowed...)
	if e.cfg.GlobalCacheDir != "" {
		paths = append(paths, e.cfg.GlobalCacheDir)
	}

	return types.SymbolPolicy{
		DumpID:      dumpID,
		SearchPaths: paths,
		ExtraDirs:   allowed,
	}, nil
}

// filterDenylisted drops any candidate directory matching one of the
// engine's configured denylist globs (e.g. network paths operators don't
// want debuggers reaching into).
func (e *Engine) filterDenylisted(candidates []string) []string {
	if len(e.cfg.DenylistGlobs) == 0 {
		return candidates
	}
	var allowed []string
	for _, c := range candidates {
		denied := false
		for _, pattern := range e.cfg.DenylistGlobs {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(c)); ok {
				denied = true
				break
			}
		}
		if !denied {
			allowed = append(allowed, c)
		}
	}
	return allowed
}

// DatadogDir is the per-dump ".datadog" subdirectory Configure creates and
// includes in the search path, exposed so the datadog_symbols tool can write
// fetched symbol files directly into it.
func (e *Engine) DatadogDir(userID, dumpID string) string {
	return filepath.Join(e.dumpSymbolsDir(userID, dumpID), "datadog")
}

// ExtractedDir is the per-dump "extracted" subdirectory Configure creates
// and includes in the search path, exposed so the HTTP symbol-upload
// endpoints can write uploaded PDBs/DLLs directly into it.
func (e *Engine) ExtractedDir(userID, dumpID string) string {
	return filepath.Join(e.dumpSymbolsDir(userID, dumpID), "extracted")
}

// ClearDumpCache removes the per-dump symbol cache directory entirely. The
// next Configure for this (userID, dumpID) recreates it empty.
func (e *Engine) ClearDumpCache(ctx context.Context, userID, dumpID string) error {
	return os.RemoveAll(e.dumpSymbolsDir(userID, dumpID))
}

// DebuggerPathKind selects the backend-specific symbol-path syntax
// BuildDebuggerPath renders.
type DebuggerPathKind string

const (
	PathKindLLDB DebuggerPathKind = "lldb"
	PathKindCDB  DebuggerPathKind = "cdb"
)

// BuildDebuggerPath renders policy's ordered search path in the syntax the
// named debugger backend expects: lldb takes a single
// platform-path-list-separated string; cdb/dbgeng takes a semicolon-joined
// list regardless of host platform, matching its Windows-native .sympath
// syntax.
func BuildDebuggerPath(kind DebuggerPathKind, policy types.SymbolPolicy) string {
	switch kind {
	case PathKindCDB:
		return strings.Join(policy.SearchPaths, ";")
	default:
		sep := ":"
		if runtime.GOOS == "windows" {
			sep = ";"
		}
		return strings.Join(policy.SearchPaths, sep)
	}
}
