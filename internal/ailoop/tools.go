package ailoop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/internal/debugger"
	"github.com/opencode-ai/opencode/internal/managedreader"
	"github.com/opencode-ai/opencode/pkg/types"
)

// toolPalette is the fixed set of tools offered to the model on every
// sampling/createMessage call, per spec §4.I.
var toolPalette = []types.SamplingToolDef{
	{Name: "report_get", Description: "Fetch a page of the cached report at a dot-path.", Schema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"limit":{"type":"integer"},"cursor":{"type":"integer"}},"required":["path"]}`)},
	{Name: "exec", Description: "Run a raw debugger command.", Schema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)},
	{Name: "inspect_object", Description: "Dump a managed object at the given address.", Schema: json.RawMessage(`{"type":"object","properties":{"address":{"type":"string"}},"required":["address"]}`)},
	{Name: "list_modules", Description: "List loaded modules.", Schema: json.RawMessage(`{"type":"object","properties":{}}`)},
	{Name: "find_report_sections", Description: "Search the cached report's index by path substring.", Schema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)},
	{Name: "get_report_section", Description: "Fetch a page of the cached report at a dot-path (alias of report_get).", Schema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"limit":{"type":"integer"},"cursor":{"type":"integer"}},"required":["path"]}`)},
}

// toolExecutor runs one sampling tool call against the session's live
// debugger/reader handles and the ledger's cached report snapshot. Every
// method returns a user-facing string — errors are formatted as "ERROR: …"
// rather than returned as Go errors, per spec §4.I's "tool errors are
// surfaced back into the prompt" failure model.
type toolExecutor struct {
	driver *debugger.Driver
	reader managedreader.Reader
	report types.ReportSnapshot
}

func (e *toolExecutor) execute(ctx context.Context, call types.SamplingToolCall) string {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return fmt.Sprintf("ERROR: invalid arguments: %v", err)
		}
	}

	switch call.Name {
	case "report_get", "get_report_section":
		return e.reportGet(args)
	case "find_report_sections":
		return e.findReportSections(args)
	case "exec":
		return e.exec(ctx, args)
	case "inspect_object":
		return e.inspectObject(ctx, args)
	case "list_modules":
		return e.listModules(ctx)
	default:
		return fmt.Sprintf("ERROR: unknown tool %q", call.Name)
	}
}

func (e *toolExecutor) reportGet(args map[string]any) string {
	path, _ := args["path"].(string)
	limit := intArg(args, "limit", 50)
	cursor := intArg(args, "cursor", 0)

	raw, next, err := getSection(e.report, path, limit, cursor)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	result := map[string]any{"value": json.RawMessage(raw), "nextCursor": next}
	out, _ := json.Marshal(result)
	return string(out)
}

func (e *toolExecutor) findReportSections(args map[string]any) string {
	query, _ := args["query"].(string)
	entries, err := reportIndex(e.report)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	var matches []SectionInfo
	for _, entry := range entries {
		if query == "" || strings.Contains(strings.ToLower(entry.Path), strings.ToLower(query)) {
			matches = append(matches, entry)
		}
	}
	out, _ := json.Marshal(matches)
	return string(out)
}

func (e *toolExecutor) exec(ctx context.Context, args map[string]any) string {
	if e.driver == nil {
		return "ERROR: no debugger is initialized for this session"
	}
	command, _ := args["command"].(string)
	if command == "" {
		return "ERROR: command is required"
	}
	out, err := e.driver.Execute(ctx, command)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return out
}

func (e *toolExecutor) inspectObject(ctx context.Context, args map[string]any) string {
	if e.driver == nil {
		return "ERROR: no debugger is initialized for this session"
	}
	address, _ := args["address"].(string)
	if address == "" {
		return "ERROR: address is required"
	}
	out, err := e.driver.Execute(ctx, fmt.Sprintf("!DumpObj %s", address))
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return out
}

func (e *toolExecutor) listModules(ctx context.Context) string {
	if e.reader == nil {
		return "ERROR: no managed-metadata reader is open for this session"
	}
	modules, err := e.reader.Modules(ctx)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	out, _ := json.Marshal(modules)
	return string(out)
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
