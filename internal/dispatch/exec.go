package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
)

const execSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"command": {"type": "string"}
	},
	"required": ["sessionId", "userId", "command"]
}`

// ExecTool implements the "exec" tool: an opaque debugger command forwarded
// to the session's Driver, serialized behind its per-session lock.
type ExecTool struct {
	mgr *session.Manager
}

func NewExecTool(mgr *session.Manager) *ExecTool {
	return &ExecTool{mgr: mgr}
}

func (t *ExecTool) Name() string          { return "exec" }
func (t *ExecTool) Description() string   { return "Run a raw debugger command against the session's open dump." }
func (t *ExecTool) Schema() json.RawMessage { return json.RawMessage(execSchema) }

type execArgs struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Command   string `json:"command"`
}

func (t *ExecTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a execArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid exec arguments", err)
	}

	m, err := t.mgr.Get(ctx, a.SessionID, a.UserID)
	if err != nil {
		return nil, err
	}

	var out string
	err = m.WithCancel(ctx, streamID+":"+a.Command, func(callCtx context.Context) error {
		m.Lock()
		driver := m.Driver
		m.Unlock()
		if driver == nil {
			return apperr.New(apperr.Preconditioned, "no debugger is initialized for this session")
		}
		result, execErr := driver.Execute(callCtx, a.Command)
		out = result
		return execErr
	})
	if err != nil {
		return nil, err
	}

	_ = t.mgr.Touch(ctx, a.SessionID, a.UserID)
	return textResult(out)
}
