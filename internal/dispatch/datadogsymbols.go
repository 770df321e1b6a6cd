package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/symbols"
)

const datadogSymbolsSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"moduleName": {"type": "string"},
		"buildId": {"type": "string"}
	},
	"required": ["sessionId", "userId", "moduleName", "buildId"]
}`

// DatadogSymbolsTool implements the "datadog_symbols" tool: an optional
// fetch of private symbol files from a Datadog-operated MCP symbol server,
// gated by types.Config.DatadogSymbolsEnabled. Disabled (nil session) turns
// every call into a Preconditioned error rather than a panic.
type DatadogSymbolsTool struct {
	mgr     *session.Manager
	engine  *symbols.Engine
	session *sdkmcp.ClientSession
}

func NewDatadogSymbolsTool(mgr *session.Manager, engine *symbols.Engine, mcpSession *sdkmcp.ClientSession) *DatadogSymbolsTool {
	return &DatadogSymbolsTool{mgr: mgr, engine: engine, session: mcpSession}
}

func (t *DatadogSymbolsTool) Name() string { return "datadog_symbols" }
func (t *DatadogSymbolsTool) Description() string {
	return "Fetch a private symbol file from the configured Datadog symbol server into the dump's symbol cache."
}
func (t *DatadogSymbolsTool) Schema() json.RawMessage { return json.RawMessage(datadogSymbolsSchema) }

type datadogSymbolsArgs struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	ModuleName string `json:"moduleName"`
	BuildID    string `json:"buildId"`
}

func (t *DatadogSymbolsTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	if t.session == nil {
		return nil, apperr.New(apperr.Preconditioned, "the Datadog symbol server is not configured")
	}

	var a datadogSymbolsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid datadog_symbols arguments", err)
	}

	m, err := t.mgr.Get(ctx, a.SessionID, a.UserID)
	if err != nil {
		return nil, err
	}
	info := m.Info()
	if info.CurrentDumpID == nil {
		return nil, apperr.New(apperr.Preconditioned, "no dump is open for this session")
	}
	dumpID := *info.CurrentDumpID

	params := &sdkmcp.CallToolParams{
		Name: "fetch_symbols",
		Arguments: map[string]any{
			"moduleName": a.ModuleName,
			"buildId":    a.BuildID,
		},
	}
	result, err := t.session.CallTool(ctx, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "datadog symbol fetch failed", err)
	}
	if result.IsError {
		return nil, apperr.Newf(apperr.Internal, "datadog symbol server reported an error for module %q", a.ModuleName)
	}

	var body strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			body.WriteString(text.Text)
		}
	}
	if body.Len() == 0 {
		return nil, apperr.Newf(apperr.NotFound, "datadog symbol server returned no data for module %q", a.ModuleName)
	}

	destDir := t.engine.DatadogDir(a.UserID, dumpID)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create datadog symbol dir", err)
	}
	destPath := filepath.Join(destDir, fmt.Sprintf("%s.%s.pdb", a.ModuleName, a.BuildID))
	if err := os.WriteFile(destPath, []byte(body.String()), 0644); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to write fetched symbol file", err)
	}

	return jsonResult(map[string]string{"path": destPath})
}
