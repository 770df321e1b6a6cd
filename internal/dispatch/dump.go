package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/managedreader"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/symbols"
	"github.com/opencode-ai/opencode/pkg/types"
)

const dumpSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["open", "close"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"dumpId": {"type": "string"},
		"executablePath": {"type": "string"}
	},
	"required": ["action", "sessionId", "userId"]
}`

// DumpTool implements the "dump" tool: open/close the dump bound to a
// session's debugger instance.
type DumpTool struct {
	mgr          *session.Manager
	store        *storage.Storage
	symbolEngine *symbols.Engine
	readerCfg    managedreader.Config
	pathKind     symbols.DebuggerPathKind
	log          zerolog.Logger
}

func NewDumpTool(mgr *session.Manager, store *storage.Storage, engine *symbols.Engine, readerCfg managedreader.Config, backend string, log zerolog.Logger) *DumpTool {
	kind := symbols.PathKindLLDB
	if backend == "dbgeng" || backend == "cdb" {
		kind = symbols.PathKindCDB
	}
	return &DumpTool{mgr: mgr, store: store, symbolEngine: engine, readerCfg: readerCfg, pathKind: kind, log: log}
}

func (t *DumpTool) Name() string          { return "dump" }
func (t *DumpTool) Description() string   { return "Open or close the dump bound to a session's debugger instance." }
func (t *DumpTool) Schema() json.RawMessage { return json.RawMessage(dumpSchema) }

type dumpArgs struct {
	Action         string `json:"action"`
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	DumpID         string `json:"dumpId"`
	ExecutablePath string `json:"executablePath"`
}

func (t *DumpTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a dumpArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid dump arguments", err)
	}

	switch a.Action {
	case "open":
		return t.open(ctx, a)
	case "close":
		if err := t.mgr.CloseDump(ctx, a.SessionID, a.UserID); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"closed": true})
	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown dump action %q", a.Action)
	}
}

func (t *DumpTool) open(ctx context.Context, a dumpArgs) (any, error) {
	if a.DumpID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "dumpId is required for action=open")
	}

	dump, err := loadDump(ctx, t.store, a.UserID, a.DumpID)
	if err != nil {
		return nil, err
	}

	if a.ExecutablePath != "" {
		dump.ExecutablePath = &a.ExecutablePath
	}

	policy, err := t.symbolEngine.Configure(ctx, a.UserID, a.DumpID, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "symbol policy configure failed", err)
	}
	debuggerPath := symbols.BuildDebuggerPath(t.pathKind, policy)

	out, isDotNet, err := t.mgr.OpenDump(ctx, a.SessionID, a.UserID, dump, policy, debuggerPath, t.readerCfg)
	if err != nil {
		return nil, err
	}

	detected := "Native dump"
	if isDotNet {
		detected = ".NET dump detected"
	}

	now := time.Now().UnixMilli()
	dump.Time.Opened = &now
	isDotNetCopy := isDotNet
	dump.IsDotNet = &isDotNetCopy
	if err := t.store.Put(ctx, dumpStoragePath(a.UserID, a.DumpID), &dump); err != nil {
		t.log.Warn().Err(err).Str("dumpID", a.DumpID).Msg("dump opened but failed to persist updated metadata")
	}

	text := fmt.Sprintf("%s\nSymbols: %s\n%s", out, strings.Join(policy.SearchPaths, ", "), detected)
	return textResult(text)
}

func dumpStoragePath(userID, dumpID string) []string {
	return []string{"dumps", userID, dumpID}
}

func loadDump(ctx context.Context, store *storage.Storage, userID, dumpID string) (types.Dump, error) {
	var dump types.Dump
	if err := store.Get(ctx, dumpStoragePath(userID, dumpID), &dump); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.Dump{}, apperr.Newf(apperr.NotFound, "dump %q not found", dumpID)
		}
		return types.Dump{}, apperr.Wrap(apperr.Internal, "failed to load dump metadata", err)
	}
	if dump.UserID != userID {
		return types.Dump{}, apperr.New(apperr.Unauthorized, "dump belongs to a different user")
	}
	return dump, nil
}
