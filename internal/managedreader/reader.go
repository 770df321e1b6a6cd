// Package managedreader provides read-only access to a dump's managed
// (CLR) metadata independent of the debugger's command stream: modules,
// thread stacks, heap statistics, method-table type resolution, and
// sequence-point lookups for source mapping.
package managedreader

import (
	"context"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Reader is a read-only view onto a dump's managed runtime metadata. It
// holds the PDB search paths set by the symbol policy at Open time; a
// later ConfigureSymbolPath call requires re-opening.
type Reader interface {
	Modules(ctx context.Context) ([]types.ModuleInfo, error)
	Threads(ctx context.Context) ([]types.ThreadInfo, error)
	HeapStats(ctx context.Context) (types.HeapStats, error)
	TypeByMethodTable(ctx context.Context, methodTable string) (types.TypeInfo, error)
	SequencePointsForFrame(ctx context.Context, module, method string, ilOffset int) (*types.SourceLocation, error)
	Close() error
}

// Config selects and locates the managed-metadata helper process.
type Config struct {
	// HelperCommand launches a dotnet-hosted helper that speaks the
	// Content-Length-framed protocol defined in protocol.go over stdio.
	// Defaults to {"dotnet", "<HelperPath>"} when HelperCommand is empty.
	HelperCommand []string
	HelperPath    string
	RequestTimeoutSec int
}

// Open opens dumpPath read-only for managed-metadata queries. isDotNet
// must be the debugger's own CLR detection result (from OpenDump's module
// probe) — managedreader never re-probes a dump itself. A dump without a
// CLR module is Preconditioned/Unavailable: there is nothing for this
// reader to open.
func Open(ctx context.Context, dumpPath string, isDotNet bool, symbolPaths []string, cfg Config) (Reader, error) {
	if !isDotNet {
		return nil, apperr.New(apperr.Preconditioned, "managed-metadata reader unavailable: dump has no CLR module")
	}
	return newHelperReader(ctx, dumpPath, symbolPaths, cfg)
}

// RequiresManagedRuntime wraps err for analyzers that depend on managed
// data but found the reader unavailable.
func RequiresManagedRuntime(cause error) error {
	return apperr.Wrap(apperr.Preconditioned, "analysis requires managed runtime data", cause)
}
