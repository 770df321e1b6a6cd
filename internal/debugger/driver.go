// Package debugger spawns and drives a native debugger subprocess
// (lldb or cdb) over its line-oriented stdin/stdout protocol.
package debugger

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
	"github.com/rs/zerolog"
)

// clrModulePattern matches module names that indicate a .NET runtime is
// loaded in the target process.
var clrModulePattern = regexp.MustCompile(`(?i)(coreclr|clr\.dll|libcoreclr\.so|libclrjit)`)

// chunk is one prompt-delimited segment of debugger output, or a terminal
// read error from the subprocess's stdout.
type chunk struct {
	text string
	err  error
}

// Driver owns one debugger subprocess for the lifetime of a Session's open
// dump. Execute is the fundamental primitive; every higher-level inspection
// tool is implemented over it. Commands are strictly serialized: at most one
// in flight at a time, enforced by mu.
type Driver struct {
	dialect Dialect
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	state types.DebuggerState

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// chunks delivers one prompt-delimited output segment per command, in
	// the order commands were issued; readLoop is the single writer.
	chunks chan chunk

	cache map[string]string

	isDotNet    bool
	isSOSLoaded bool
}

// New constructs a Driver for the configured backend. The subprocess is not
// spawned until Initialize is called.
func New(cfg types.DebuggerConfig, log zerolog.Logger) (*Driver, error) {
	path := cfg.LLDBPath
	if cfg.Backend == "dbgeng" || cfg.Backend == "cdb" {
		path = cfg.CDBPath
	}
	dialect, err := NewDialect(cfg.Backend, path)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.CommandTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Driver{
		dialect: dialect,
		timeout: timeout,
		log:     log,
		state:   types.DebuggerUninitialized,
		cache:   make(map[string]string),
	}, nil
}

// State reports the driver's current lifecycle state.
func (d *Driver) State() types.DebuggerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsDotNet reports whether open_dump's probe detected a CLR module.
func (d *Driver) IsDotNet() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isDotNet
}

// IsSOSLoaded reports whether the SOS extension loaded successfully.
func (d *Driver) IsSOSLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isSOSLoaded
}

// Initialize spawns the debugger subprocess and waits for its first prompt.
func (d *Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	if d.state != types.DebuggerUninitialized {
		d.mu.Unlock()
		return apperr.New(apperr.Conflict, "debugger already initialized")
	}

	cmd := exec.Command(d.dialect.Command(), d.dialect.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.mu.Unlock()
		return apperr.Wrap(apperr.DebuggerUnavailable, "failed to open debugger stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.mu.Unlock()
		return apperr.Wrap(apperr.DebuggerUnavailable, "failed to open debugger stdout", err)
	}

	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return apperr.Wrap(apperr.DebuggerUnavailable, "failed to start debugger subprocess", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.chunks = make(chan chunk, 4)
	d.state = types.DebuggerInitialized
	d.mu.Unlock()

	go d.readLoop(bufio.NewReader(stdout))

	if _, err := d.readChunk(ctx); err != nil {
		return apperr.Wrap(apperr.DebuggerUnavailable, "debugger did not reach initial prompt", err)
	}
	return nil
}

// readLoop is the sole reader of the subprocess's stdout for the lifetime
// of the Driver. It splits the byte stream into prompt-delimited chunks and
// publishes them in order; this keeps command/response correlation correct
// without per-command reader goroutines racing on a shared buffer.
func (d *Driver) readLoop(r *bufio.Reader) {
	prompt := d.dialect.Prompt()
	var acc strings.Builder
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			for {
				s := acc.String()
				idx := strings.Index(s, prompt)
				if idx < 0 {
					break
				}
				d.chunks <- chunk{text: strings.TrimSpace(s[:idx])}
				acc.Reset()
				acc.WriteString(s[idx+len(prompt):])
			}
		}
		if err != nil {
			d.chunks <- chunk{err: err}
			close(d.chunks)
			return
		}
	}
}

// readChunk waits for the next prompt-delimited chunk, the driver's
// configured timeout, or ctx cancellation, whichever comes first.
func (d *Driver) readChunk(ctx context.Context) (string, error) {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case c, ok := <-d.chunks:
		if !ok || c.err != nil {
			return "", io.ErrClosedPipe
		}
		return c.text, nil
	case <-timer.C:
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// OpenDump opens dumpPath, optionally pointing at the original executable
// image, and runs the .NET detection probe. SOS load failures are logged
// and surfaced via IsSOSLoaded but are non-fatal.
func (d *Driver) OpenDump(ctx context.Context, dumpPath, executablePath string) (string, error) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()
	if state == types.DebuggerUninitialized || state == types.DebuggerDisposed {
		return "", apperr.New(apperr.Preconditioned, "debugger is not initialized")
	}

	out, err := d.send(ctx, d.dialect.OpenDumpCommand(dumpPath, executablePath))
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.state = types.DebuggerDumpOpen
	d.cache = make(map[string]string)
	d.mu.Unlock()

	modules, err := d.send(ctx, d.dialect.ModuleListCommand())
	if err == nil && clrModulePattern.MatchString(modules) {
		d.mu.Lock()
		d.isDotNet = true
		d.mu.Unlock()

		if _, sosErr := d.send(ctx, d.dialect.LoadSOSCommand()); sosErr != nil {
			d.log.Warn().Err(sosErr).Msg("SOS load failed, continuing without managed commands")
		} else {
			d.mu.Lock()
			d.isSOSLoaded = true
			d.mu.Unlock()
		}
	}

	return out, nil
}

// CloseDump closes the currently open dump, clearing the command cache and
// .NET detection flags. The subprocess stays alive for a subsequent OpenDump.
func (d *Driver) CloseDump(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != types.DebuggerDumpOpen {
		return nil
	}
	d.state = types.DebuggerDumpClosed
	d.cache = make(map[string]string)
	d.isDotNet = false
	d.isSOSLoaded = false
	return nil
}

// ConfigureSymbolPath sets the debugger's symbol search path and clears the
// command cache — any previously cached output may now resolve differently.
func (d *Driver) ConfigureSymbolPath(ctx context.Context, path string) error {
	_, err := d.send(ctx, d.dialect.ConfigureSymbolPathCommand(path))
	if err != nil {
		return err
	}
	d.ClearCommandCache()
	return nil
}

// LoadSOS loads the SOS extension explicitly, clearing the command cache.
func (d *Driver) LoadSOS(ctx context.Context) error {
	out, err := d.send(ctx, d.dialect.LoadSOSCommand())
	d.mu.Lock()
	d.cache = make(map[string]string)
	if err == nil {
		d.isSOSLoaded = true
	}
	d.mu.Unlock()
	d.log.Debug().Str("output", out).Msg("sos load requested")
	return err
}

// ClearCommandCache drops all cached command output without touching
// debugger state.
func (d *Driver) ClearCommandCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]string)
}

// Execute runs command against the open dump, returning its textual output.
// Identical command strings return the cached prior output without
// re-invoking the debugger; timeouts and errors are never cached.
func (d *Driver) Execute(ctx context.Context, command string) (string, error) {
	d.mu.Lock()
	if d.state != types.DebuggerDumpOpen {
		d.mu.Unlock()
		return "", apperr.New(apperr.Preconditioned, "no dump is open")
	}
	if cached, ok := d.cache[command]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	out, err := d.send(ctx, command)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.cache[command] = out
	d.mu.Unlock()

	return out, nil
}

// send is the fundamental serialized write-then-read-prompt cycle. mu is
// held across the whole exchange so commands never interleave on the wire.
func (d *Driver) send(ctx context.Context, command string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin == nil {
		return "", apperr.New(apperr.DebuggerUnavailable, "debugger subprocess is not running")
	}
	if _, err := io.WriteString(d.stdin, command+"\n"); err != nil {
		d.state = types.DebuggerDisposed
		return "", apperr.Wrap(apperr.DebuggerUnavailable, "failed writing to debugger stdin", err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.readChunkUnlocked(cmdCtx)
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return "", apperr.Newf(apperr.Timeout, "command timed out after %s: %s", d.timeout, command)
		}
		d.state = types.DebuggerDisposed
		return "", apperr.Wrap(apperr.DebuggerUnavailable, "debugger subprocess died", err)
	}
	return out, nil
}

// readChunkUnlocked is readChunk without re-taking mu; callers must already
// hold it (send holds mu for the duration of the read, since exactly one
// command is ever in flight).
func (d *Driver) readChunkUnlocked(ctx context.Context) (string, error) {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case c, ok := <-d.chunks:
		if !ok || c.err != nil {
			return "", io.ErrClosedPipe
		}
		return c.text, nil
	case <-timer.C:
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close terminates the debugger subprocess.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == types.DebuggerDisposed {
		return nil
	}
	d.state = types.DebuggerDisposed

	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		return d.cmd.Process.Kill()
	}
	return nil
}
