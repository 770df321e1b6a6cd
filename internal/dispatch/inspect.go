package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
)

const inspectSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["modules", "type"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"methodTable": {"type": "string"}
	},
	"required": ["action", "sessionId", "userId"]
}`

// InspectTool implements the "inspect" tool: direct, unaggregated lookups
// against the session's managed-metadata reader, for callers that want a
// single module list or type resolution without a full report.
type InspectTool struct {
	mgr *session.Manager
}

func NewInspectTool(mgr *session.Manager) *InspectTool {
	return &InspectTool{mgr: mgr}
}

func (t *InspectTool) Name() string        { return "inspect" }
func (t *InspectTool) Description() string {
	return "Inspect loaded modules or resolve a method table to a managed type."
}
func (t *InspectTool) Schema() json.RawMessage { return json.RawMessage(inspectSchema) }

type inspectArgs struct {
	Action      string `json:"action"`
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	MethodTable string `json:"methodTable"`
}

func (t *InspectTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a inspectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid inspect arguments", err)
	}

	m, err := t.mgr.Get(ctx, a.SessionID, a.UserID)
	if err != nil {
		return nil, err
	}

	m.Lock()
	reader := m.Reader
	m.Unlock()
	if reader == nil {
		return nil, apperr.New(apperr.Preconditioned, "no managed-metadata reader is open for this session")
	}

	switch a.Action {
	case "modules":
		modules, err := reader.Modules(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(modules)

	case "type":
		if a.MethodTable == "" {
			return nil, apperr.New(apperr.InvalidArgument, "methodTable is required for action=type")
		}
		typ, err := reader.TypeByMethodTable(ctx, a.MethodTable)
		if err != nil {
			return nil, err
		}
		return jsonResult(typ)

	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown inspect action %q", a.Action)
	}
}
