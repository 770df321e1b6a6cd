package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/report"
	"github.com/opencode-ai/opencode/pkg/types"
)

const compareSchema = `{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "enum": ["summary"]},
		"userId": {"type": "string"},
		"dumpIdA": {"type": "string"},
		"dumpIdB": {"type": "string"}
	},
	"required": ["userId", "dumpIdA", "dumpIdB"]
}`

// CompareTool implements the "compare" tool: a textual diff between two
// already-generated reports for the same user, identified by dumpId. It
// never regenerates a report itself — both sides must already be cached by
// a prior report(action="full") call.
type CompareTool struct {
	store *report.Store
}

func NewCompareTool(store *report.Store) *CompareTool {
	return &CompareTool{store: store}
}

func (t *CompareTool) Name() string          { return "compare" }
func (t *CompareTool) Description() string   { return "Diff the cached reports of two dumps belonging to the same user." }
func (t *CompareTool) Schema() json.RawMessage { return json.RawMessage(compareSchema) }

type compareArgs struct {
	Kind    string `json:"kind"`
	UserID  string `json:"userId"`
	DumpIDA string `json:"dumpIdA"`
	DumpIDB string `json:"dumpIdB"`
}

func (t *CompareTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a compareArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid compare arguments", err)
	}

	snapA, okA, err := t.store.Get(ctx, a.UserID, a.DumpIDA, types.ReportOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "report cache lookup failed", err)
	}
	if !okA {
		return nil, apperr.Newf(apperr.NotFound, "no cached report for dump %q; generate one with report(action=\"full\") first", a.DumpIDA)
	}

	snapB, okB, err := t.store.Get(ctx, a.UserID, a.DumpIDB, types.ReportOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "report cache lookup failed", err)
	}
	if !okB {
		return nil, apperr.Newf(apperr.NotFound, "no cached report for dump %q; generate one with report(action=\"full\") first", a.DumpIDB)
	}

	diff := report.SummaryDiff(*snapA, *snapB)
	return textResult(diff)
}
