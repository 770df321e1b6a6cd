package debugger

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
	"github.com/rs/zerolog"
)

// scriptDialect drives a tiny shell script standing in for a real debugger
// backend, so these tests exercise the subprocess read/write/prompt-framing
// protocol without depending on lldb or cdb being installed.
type scriptDialect struct {
	script string
}

func (d *scriptDialect) Command() string { return "sh" }
func (d *scriptDialect) Args() []string  { return []string{"-c", d.script} }
func (d *scriptDialect) Prompt() string  { return "(fake) " }

func (d *scriptDialect) OpenDumpCommand(dumpPath, executablePath string) string {
	return "open " + dumpPath
}
func (d *scriptDialect) ModuleListCommand() string { return "modules" }
func (d *scriptDialect) LoadSOSCommand() string    { return "loadsos" }
func (d *scriptDialect) ConfigureSymbolPathCommand(path string) string {
	return "sympath " + path
}

// fakeBackendScript behaves like a line-oriented REPL: it prints the prompt,
// reads a line, echoes a canned response keyed on the first word, and loops.
// "modules" answers with a line containing "coreclr.so" so the .NET probe
// in OpenDump fires deterministically.
const fakeBackendScript = `
printf '(fake) '
while IFS= read -r line; do
  case "$line" in
    open*) printf 'dump opened: %s\n' "$line" ;;
    modules) printf 'libcoreclr.so loaded at 0x1000\n' ;;
    loadsos) printf 'SOS loaded\n' ;;
    sympath*) printf 'symbol path set\n' ;;
    hang) sleep 5 ;;
    *) printf 'ok: %s\n' "$line" ;;
  esac
  printf '(fake) '
done
`

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake backend is a POSIX shell script")
	}
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	skipOnWindows(t)
	return &Driver{
		dialect: &scriptDialect{script: fakeBackendScript},
		timeout: 2 * time.Second,
		log:     zerolog.Nop(),
		state:   types.DebuggerUninitialized,
		cache:   make(map[string]string),
	}
}

func TestDriver_InitializeAndExecute(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()

	if d.State() != types.DebuggerInitialized {
		t.Fatalf("expected DebuggerInitialized, got %s", d.State())
	}

	out, err := d.OpenDump(ctx, "/tmp/fake.dmp", "")
	if err != nil {
		t.Fatalf("OpenDump: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty OpenDump output")
	}
	if d.State() != types.DebuggerDumpOpen {
		t.Fatalf("expected DebuggerDumpOpen, got %s", d.State())
	}
	if !d.IsDotNet() {
		t.Error("expected .NET probe to detect libcoreclr.so")
	}
	if !d.IsSOSLoaded() {
		t.Error("expected SOS to report loaded")
	}
}

func TestDriver_Execute_RequiresOpenDump(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()

	_, err := d.Execute(ctx, "!clrstack")
	if !apperr.IsCode(err, apperr.Preconditioned) {
		t.Fatalf("expected Preconditioned error, got %v", err)
	}
}

func TestDriver_Execute_CachesIdenticalCommands(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()
	if _, err := d.OpenDump(ctx, "/tmp/fake.dmp", ""); err != nil {
		t.Fatalf("OpenDump: %v", err)
	}

	first, err := d.Execute(ctx, "!clrstack")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := d.Execute(ctx, "!clrstack")
	if err != nil {
		t.Fatalf("Execute (cached): %v", err)
	}
	if first != second {
		t.Errorf("expected cached output to match, got %q vs %q", first, second)
	}
}

func TestDriver_ConfigureSymbolPath_ClearsCache(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()
	if _, err := d.OpenDump(ctx, "/tmp/fake.dmp", ""); err != nil {
		t.Fatalf("OpenDump: %v", err)
	}
	if _, err := d.Execute(ctx, "!clrstack"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := d.ConfigureSymbolPath(ctx, "/symbols"); err != nil {
		t.Fatalf("ConfigureSymbolPath: %v", err)
	}

	d.mu.Lock()
	_, cached := d.cache["!clrstack"]
	d.mu.Unlock()
	if cached {
		t.Error("expected command cache to be cleared after ConfigureSymbolPath")
	}
}

func TestDriver_Execute_Timeout(t *testing.T) {
	d := newTestDriver(t)
	d.timeout = 200 * time.Millisecond
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()
	if _, err := d.OpenDump(ctx, "/tmp/fake.dmp", ""); err != nil {
		t.Fatalf("OpenDump: %v", err)
	}

	_, err := d.Execute(ctx, "hang")
	if !apperr.IsCode(err, apperr.Timeout) {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}

func TestDriver_CloseDump_ResetsState(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Close()
	if _, err := d.OpenDump(ctx, "/tmp/fake.dmp", ""); err != nil {
		t.Fatalf("OpenDump: %v", err)
	}

	if err := d.CloseDump(ctx); err != nil {
		t.Fatalf("CloseDump: %v", err)
	}
	if d.State() != types.DebuggerDumpClosed {
		t.Fatalf("expected DebuggerDumpClosed, got %s", d.State())
	}
	if d.IsDotNet() {
		t.Error("expected .NET flag cleared after CloseDump")
	}
}

func TestDriver_Close_IsIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
