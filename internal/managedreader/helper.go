package managedreader

import (
	"context"
	"os/exec"
	"time"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// helperReader drives a dotnet-hosted out-of-process helper that opens the
// dump with ClrMD and answers managed-metadata queries. Isolating this in
// its own process mirrors how internal/lsp keeps each language server's
// crash blast radius away from the main process.
type helperReader struct {
	cmd     *exec.Cmd
	conn    *conn
	timeout time.Duration
}

func defaultHelperCommand(cfg Config) []string {
	if len(cfg.HelperCommand) > 0 {
		return cfg.HelperCommand
	}
	path := cfg.HelperPath
	if path == "" {
		path = "managedreader-helper.dll"
	}
	return []string{"dotnet", path}
}

func newHelperReader(ctx context.Context, dumpPath string, symbolPaths []string, cfg Config) (*helperReader, error) {
	command := defaultHelperCommand(cfg)
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.DebuggerUnavailable, "failed to open managed-metadata helper stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.DebuggerUnavailable, "failed to open managed-metadata helper stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.DebuggerUnavailable, "failed to start managed-metadata helper", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := &helperReader{cmd: cmd, conn: newConn(stdin, stdout), timeout: timeout}

	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	params := struct {
		DumpPath    string   `json:"dumpPath"`
		SymbolPaths []string `json:"symbolPaths"`
	}{DumpPath: dumpPath, SymbolPaths: symbolPaths}
	if err := r.conn.call(openCtx, "open", params, nil); err != nil {
		r.Close()
		return nil, apperr.Wrap(apperr.DebuggerUnavailable, "managed-metadata helper failed to open dump", err)
	}
	return r, nil
}

func (r *helperReader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *helperReader) Modules(ctx context.Context) ([]types.ModuleInfo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var result struct {
		Modules []types.ModuleInfo `json:"modules"`
	}
	if err := r.conn.call(ctx, "modules", nil, &result); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "managedreader.modules failed", err)
	}
	return result.Modules, nil
}

func (r *helperReader) Threads(ctx context.Context) ([]types.ThreadInfo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var result struct {
		Threads []types.ThreadInfo `json:"threads"`
	}
	if err := r.conn.call(ctx, "threads", nil, &result); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "managedreader.threads failed", err)
	}
	return result.Threads, nil
}

func (r *helperReader) HeapStats(ctx context.Context) (types.HeapStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var stats types.HeapStats
	if err := r.conn.call(ctx, "heapStats", nil, &stats); err != nil {
		return types.HeapStats{}, apperr.Wrap(apperr.Internal, "managedreader.heapStats failed", err)
	}
	return stats, nil
}

func (r *helperReader) TypeByMethodTable(ctx context.Context, methodTable string) (types.TypeInfo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var info types.TypeInfo
	params := struct {
		MethodTable string `json:"methodTable"`
	}{MethodTable: methodTable}
	if err := r.conn.call(ctx, "typeByMethodTable", params, &info); err != nil {
		return types.TypeInfo{}, apperr.Wrap(apperr.Internal, "managedreader.typeByMethodTable failed", err)
	}
	return info, nil
}

func (r *helperReader) SequencePointsForFrame(ctx context.Context, module, method string, ilOffset int) (*types.SourceLocation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var result struct {
		Location *types.SourceLocation `json:"location"`
	}
	params := struct {
		Module   string `json:"module"`
		Method   string `json:"method"`
		ILOffset int    `json:"ilOffset"`
	}{Module: module, Method: method, ILOffset: ilOffset}
	if err := r.conn.call(ctx, "sequencePointsForFrame", params, &result); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "managedreader.sequencePointsForFrame failed", err)
	}
	return result.Location, nil
}

func (r *helperReader) Close() error {
	r.conn.close()
	if r.cmd != nil && r.cmd.Process != nil {
		return r.cmd.Process.Kill()
	}
	return nil
}
