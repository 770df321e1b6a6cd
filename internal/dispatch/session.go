package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
)

const sessionSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["create", "list", "close", "restore", "debugger_info"]},
		"userId": {"type": "string"},
		"sessionId": {"type": "string"}
	},
	"required": ["action", "userId"]
}`

// SessionTool implements the "session" tool: create/list/close/restore a
// debugger-lifecycle session, or report its debugger state.
type SessionTool struct {
	mgr *session.Manager
}

func NewSessionTool(mgr *session.Manager) *SessionTool {
	return &SessionTool{mgr: mgr}
}

func (t *SessionTool) Name() string          { return "session" }
func (t *SessionTool) Description() string   { return "Create, list, close, or restore a debugger session; report its debugger state." }
func (t *SessionTool) Schema() json.RawMessage { return json.RawMessage(sessionSchema) }

type sessionArgs struct {
	Action    string `json:"action"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (t *SessionTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a sessionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid session arguments", err)
	}

	switch a.Action {
	case "create":
		id, err := t.mgr.Create(ctx, a.UserID)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]string{"sessionId": id})

	case "list":
		headers, err := t.mgr.List(ctx, a.UserID)
		if err != nil {
			return nil, err
		}
		return jsonResult(headers)

	case "close":
		if a.SessionID == "" {
			return nil, apperr.New(apperr.InvalidArgument, "sessionId is required for action=close")
		}
		if err := t.mgr.Close(ctx, a.SessionID, a.UserID); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"closed": true})

	case "restore":
		if a.SessionID == "" {
			return nil, apperr.New(apperr.InvalidArgument, "sessionId is required for action=restore")
		}
		m, err := t.mgr.Get(ctx, a.SessionID, a.UserID)
		if err != nil {
			return nil, err
		}
		return jsonResult(m.Info())

	case "debugger_info":
		if a.SessionID == "" {
			return nil, apperr.New(apperr.InvalidArgument, "sessionId is required for action=debugger_info")
		}
		m, err := t.mgr.Get(ctx, a.SessionID, a.UserID)
		if err != nil {
			return nil, err
		}
		info := map[string]any{"debuggerState": m.Info().DebuggerState}
		m.Lock()
		driver := m.Driver
		m.Unlock()
		if driver != nil {
			info["isDotNet"] = driver.IsDotNet()
			info["isSOSLoaded"] = driver.IsSOSLoaded()
		}
		return jsonResult(info)

	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown session action %q", a.Action)
	}
}
