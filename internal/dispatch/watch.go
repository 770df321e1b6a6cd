package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/watch"
)

const watchSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["add", "remove", "clear", "list", "get", "has", "evaluate"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"watchId": {"type": "string"},
		"expression": {"type": "string"},
		"description": {"type": "string"},
		"type": {"type": "string"}
	},
	"required": ["action", "sessionId", "userId"]
}`

// WatchTool implements the "watch" tool: add/remove/clear/list/get/has a
// persisted watch expression for the session's open dump, plus evaluate to
// run every watch through the live debugger.
type WatchTool struct {
	mgr   *session.Manager
	store *watch.Store
}

func NewWatchTool(mgr *session.Manager, store *watch.Store) *WatchTool {
	return &WatchTool{mgr: mgr, store: store}
}

func (t *WatchTool) Name() string          { return "watch" }
func (t *WatchTool) Description() string   { return "Add, remove, list, or evaluate watch expressions against the session's open dump." }
func (t *WatchTool) Schema() json.RawMessage { return json.RawMessage(watchSchema) }

type watchArgs struct {
	Action      string `json:"action"`
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	WatchID     string `json:"watchId"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func (t *WatchTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a watchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid watch arguments", err)
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
	case "add":
		if a.Expression == "" {
			return nil, apperr.New(apperr.InvalidArgument, "expression is required for action=add")
		}
		w, err := t.store.Add(ctx, a.UserID, dumpID, a.Expression, a.Description, a.Type, time.Now().UnixMilli())
		if err != nil {
			return nil, err
		}
		return jsonResult(w)

	case "remove":
		if a.WatchID == "" {
			return nil, apperr.New(apperr.InvalidArgument, "watchId is required for action=remove")
		}
		if err := t.store.Remove(ctx, a.UserID, dumpID, a.WatchID); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"removed": true})

	case "clear":
		if err := t.store.Clear(ctx, a.UserID, dumpID); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"cleared": true})

	case "list":
		watches, err := t.store.List(ctx, a.UserID, dumpID)
		if err != nil {
			return nil, err
		}
		return jsonResult(watches)

	case "get":
		if a.WatchID == "" {
			return nil, apperr.New(apperr.InvalidArgument, "watchId is required for action=get")
		}
		w, err := t.store.Get(ctx, a.UserID, dumpID, a.WatchID)
		if err != nil {
			return nil, err
		}
		return jsonResult(w)

	case "has":
		has, err := t.store.Has(ctx, a.UserID, dumpID)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"has": has})

	case "evaluate":
		m.Lock()
		driver := m.Driver
		m.Unlock()
		if driver == nil {
			return nil, apperr.New(apperr.Preconditioned, "no debugger is initialized for this session")
		}
		results, err := t.store.Evaluate(ctx, a.UserID, dumpID, driver)
		if err != nil {
			return nil, err
		}
		return jsonResult(results)

	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown watch action %q", a.Action)
	}
}
