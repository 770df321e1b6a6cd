package dispatch

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opencode/internal/analyze"
	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/pkg/types"
)

const analyzeSchema = `{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "enum": ["crash", "ai", "performance", "cpu", "allocations", "gc", "contention", "security"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"maxIterations": {"type": "integer"},
		"maxTokens": {"type": "integer"}
	},
	"required": ["kind", "sessionId", "userId"]
}`

// AIRunner drives the AI sampling orchestrator for a single analyze(kind="ai")
// call. internal/ailoop implements it; left unwired (nil) here turns
// kind="ai" into a Preconditioned error rather than a panic.
type AIRunner interface {
	Run(ctx context.Context, streamID string, m *session.Managed, userID, dumpID string, maxIterations, maxTokens int) (types.AIAnalysisFragment, error)
}

// AnalyzeTool implements the "analyze" tool: a discriminated set of
// analyzer passes over the session's open dump.
type AnalyzeTool struct {
	mgr *session.Manager
	ai  AIRunner
}

func NewAnalyzeTool(mgr *session.Manager, ai AIRunner) *AnalyzeTool {
	return &AnalyzeTool{mgr: mgr, ai: ai}
}

func (t *AnalyzeTool) Name() string          { return "analyze" }
func (t *AnalyzeTool) Description() string   { return "Run a crash, performance, or AI-driven analyzer pass over the session's open dump." }
func (t *AnalyzeTool) Schema() json.RawMessage { return json.RawMessage(analyzeSchema) }

type analyzeArgs struct {
	Kind          string `json:"kind"`
	SessionID     string `json:"sessionId"`
	UserID        string `json:"userId"`
	MaxIterations int    `json:"maxIterations"`
	MaxTokens     int    `json:"maxTokens"`
}

func (t *AnalyzeTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a analyzeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid analyze arguments", err)
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

	if a.Kind == "ai" {
		if t.ai == nil {
			return nil, apperr.New(apperr.Preconditioned, "the AI analysis orchestrator is not configured")
		}
		frag, err := t.ai.Run(ctx, streamID, m, a.UserID, dumpID, a.MaxIterations, a.MaxTokens)
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]any{
			"metadata":   types.ReportMetadata{UserID: a.UserID, DumpID: dumpID},
			"aiAnalysis": frag,
		})
	}

	driver, _, threads, modules, heap, err := loadAnalysisInputs(ctx, m)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case "crash":
		faultingThreadID, exceptionType, exceptionMessage := crashInfo(ctx, driver)
		return jsonResult(analyze.Crash(threads, faultingThreadID, exceptionType, exceptionMessage))
	case "performance":
		return jsonResult(analyze.Performance(threads, heap))
	case "cpu":
		return jsonResult(analyze.CPUHotPath(threads, 10))
	case "allocations":
		return jsonResult(analyze.Allocations(heap))
	case "gc":
		return jsonResult(analyze.GC(heap))
	case "contention":
		frag := analyze.Contention(threads)
		if frag == nil {
			return jsonResult(types.ContentionFragment{})
		}
		return jsonResult(frag)
	case "security":
		frag := analyze.Security(modules)
		if frag == nil {
			return jsonResult(types.SecurityFragment{})
		}
		return jsonResult(frag)
	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown analyze kind %q", a.Kind)
	}
}
