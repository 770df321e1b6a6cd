package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
)

const sourceLinkSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"module": {"type": "string"},
		"method": {"type": "string"},
		"ilOffset": {"type": "integer"}
	},
	"required": ["sessionId", "userId", "module", "method"]
}`

// SourceLinkTool implements the "sourcelink" tool: resolve a managed
// frame's (module, method, ilOffset) to the source file and line it maps
// to, via the session's managed-metadata reader.
type SourceLinkTool struct {
	mgr *session.Manager
}

func NewSourceLinkTool(mgr *session.Manager) *SourceLinkTool {
	return &SourceLinkTool{mgr: mgr}
}

func (t *SourceLinkTool) Name() string        { return "sourcelink" }
func (t *SourceLinkTool) Description() string {
	return "Resolve a managed stack frame to its source file and line."
}
func (t *SourceLinkTool) Schema() json.RawMessage { return json.RawMessage(sourceLinkSchema) }

type sourceLinkArgs struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Module    string `json:"module"`
	Method    string `json:"method"`
	ILOffset  int    `json:"ilOffset"`
}

func (t *SourceLinkTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a sourceLinkArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid sourcelink arguments", err)
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

	loc, err := reader.SequencePointsForFrame(ctx, a.Module, a.Method, a.ILOffset)
	if err != nil {
		_ = t.mgr.MarkSourceLinkResolverOK(ctx, a.SessionID, a.UserID, false)
		return nil, err
	}
	if loc == nil {
		_ = t.mgr.MarkSourceLinkResolverOK(ctx, a.SessionID, a.UserID, false)
		return nil, apperr.New(apperr.NotFound, "no source mapping exists for this IL offset")
	}

	_ = t.mgr.MarkSourceLinkResolverOK(ctx, a.SessionID, a.UserID, true)
	return jsonResult(loc)
}
