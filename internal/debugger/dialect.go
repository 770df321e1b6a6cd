package debugger

import "fmt"

// Dialect isolates the backend-specific command syntax and prompt framing
// of a native debugger. lldb and cdb speak different command languages over
// the same line-oriented stdin/stdout protocol; Driver is dialect-agnostic.
type Dialect interface {
	// Command is the executable to spawn.
	Command() string
	// Args are the arguments to launch the backend in batch/interactive mode.
	Args() []string
	// Prompt is the sentinel substring that marks the end of a command's
	// output on stdout.
	Prompt() string
	// OpenDumpCommand returns the command that opens a dump file, optionally
	// pointing at the original executable image.
	OpenDumpCommand(dumpPath, executablePath string) string
	// ModuleListCommand lists loaded modules, used for the .NET detection probe.
	ModuleListCommand() string
	// LoadSOSCommand loads the SOS managed-debugging extension.
	LoadSOSCommand() string
	// ConfigureSymbolPathCommand returns the command that sets the symbol
	// search path.
	ConfigureSymbolPathCommand(path string) string
}

// NewDialect resolves a Dialect by backend name ("lldb" or "dbgeng").
func NewDialect(backend, binaryPath string) (Dialect, error) {
	switch backend {
	case "", "lldb":
		return &lldbDialect{binary: nonEmpty(binaryPath, "lldb")}, nil
	case "dbgeng", "cdb":
		return &cdbDialect{binary: nonEmpty(binaryPath, "cdb")}, nil
	default:
		return nil, fmt.Errorf("unknown debugger backend %q", backend)
	}
}

func nonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// lldbDialect drives LLVM's lldb in batch-less interactive mode, reading
// its "(lldb) " prompt between commands.
type lldbDialect struct {
	binary string
}

func (d *lldbDialect) Command() string { return d.binary }
func (d *lldbDialect) Args() []string  { return []string{"--no-use-colors"} }
func (d *lldbDialect) Prompt() string  { return "(lldb) " }

func (d *lldbDialect) OpenDumpCommand(dumpPath, executablePath string) string {
	if executablePath != "" {
		return fmt.Sprintf("target create --core %q %q", dumpPath, executablePath)
	}
	return fmt.Sprintf("target create --core %q", dumpPath)
}

func (d *lldbDialect) ModuleListCommand() string { return "image list" }
func (d *lldbDialect) LoadSOSCommand() string    { return "plugin load libsosplugin.so" }

func (d *lldbDialect) ConfigureSymbolPathCommand(path string) string {
	return fmt.Sprintf("settings set target.debug-file-search-paths %q", path)
}

// cdbDialect drives Microsoft's cdb.exe (dbgeng), reading its "N:NNN> "
// prompt between commands.
type cdbDialect struct {
	binary string
}

func (d *cdbDialect) Command() string { return d.binary }
func (d *cdbDialect) Args() []string  { return []string{"-z"} }
func (d *cdbDialect) Prompt() string  { return "> " }

func (d *cdbDialect) OpenDumpCommand(dumpPath, executablePath string) string {
	return fmt.Sprintf("-z %q", dumpPath)
}

func (d *cdbDialect) ModuleListCommand() string { return "lm" }
func (d *cdbDialect) LoadSOSCommand() string    { return ".loadby sos clr" }

func (d *cdbDialect) ConfigureSymbolPathCommand(path string) string {
	return fmt.Sprintf(".sympath+ %q", path)
}
