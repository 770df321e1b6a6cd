package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/symbols"
)

const symbolsSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["configure", "clear_cache"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"extra": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["action", "sessionId", "userId"]
}`

// SymbolsTool implements the "symbols" tool: reconfigure or clear the
// per-dump symbol search path for the session's open dump.
type SymbolsTool struct {
	mgr    *session.Manager
	engine *symbols.Engine
}

func NewSymbolsTool(mgr *session.Manager, engine *symbols.Engine) *SymbolsTool {
	return &SymbolsTool{mgr: mgr, engine: engine}
}

func (t *SymbolsTool) Name() string          { return "symbols" }
func (t *SymbolsTool) Description() string   { return "Reconfigure or clear the symbol search path for the session's open dump." }
func (t *SymbolsTool) Schema() json.RawMessage { return json.RawMessage(symbolsSchema) }

type symbolsArgs struct {
	Action    string   `json:"action"`
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId"`
	Extra     []string `json:"extra"`
}

func (t *SymbolsTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a symbolsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid symbols arguments", err)
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

	switch a.Action {
	case "configure":
		policy, err := t.mgr.ConfigureSymbols(ctx, a.SessionID, a.UserID, t.engine, dumpID, a.Extra)
		if err != nil {
			return nil, err
		}
		return jsonResult(policy)

	case "clear_cache":
		if err := t.engine.ClearDumpCache(ctx, a.UserID, dumpID); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"cleared": true})

	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown symbols action %q", a.Action)
	}
}
