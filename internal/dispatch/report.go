package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/opencode/internal/analyze"
	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/debugger"
	"github.com/opencode-ai/opencode/internal/managedreader"
	"github.com/opencode-ai/opencode/internal/report"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/watch"
	"github.com/opencode-ai/opencode/pkg/types"
)

// loadAnalysisInputs fetches the session's live driver/reader handles plus
// the managed-metadata views every analyzer needs. A session with no
// managed-metadata reader (native dump, or CLR not detected) returns zero
// values for threads/modules/heap rather than an error — analyzers that
// require managed data signal that themselves via managedreader.Reader's
// own Preconditioned error on the caller that actually needs it.
func loadAnalysisInputs(ctx context.Context, m *session.Managed) (driver *debugger.Driver, reader managedreader.Reader, threads []types.ThreadInfo, modules []types.ModuleInfo, heap types.HeapStats, err error) {
	m.Lock()
	driver = m.Driver
	reader = m.Reader
	m.Unlock()
	if driver == nil {
		return nil, nil, nil, nil, types.HeapStats{}, apperr.New(apperr.Preconditioned, "no debugger is initialized for this session")
	}
	if reader == nil {
		return driver, nil, nil, nil, types.HeapStats{}, nil
	}

	if threads, err = reader.Threads(ctx); err != nil {
		return nil, nil, nil, nil, types.HeapStats{}, err
	}
	if modules, err = reader.Modules(ctx); err != nil {
		return nil, nil, nil, nil, types.HeapStats{}, err
	}
	if heap, err = reader.HeapStats(ctx); err != nil {
		return nil, nil, nil, nil, types.HeapStats{}, err
	}
	return driver, reader, threads, modules, heap, nil
}

const reportSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["full", "summary"]},
		"sessionId": {"type": "string"},
		"userId": {"type": "string"},
		"format": {"type": "string", "enum": ["json"]},
		"watches": {"type": "boolean"},
		"security": {"type": "boolean"},
		"allFrames": {"type": "boolean"}
	},
	"required": ["action", "sessionId", "userId"]
}`

// ReportTool implements the "report" tool: the canonical report document,
// assembled fresh or served from cache per spec §8's report-monotonicity
// invariant.
type ReportTool struct {
	mgr        *session.Manager
	store      *report.Store
	watchStore *watch.Store
}

func NewReportTool(mgr *session.Manager, store *report.Store, watchStore *watch.Store) *ReportTool {
	return &ReportTool{mgr: mgr, store: store, watchStore: watchStore}
}

func (t *ReportTool) Name() string          { return "report" }
func (t *ReportTool) Description() string   { return "Return the canonical analysis report for the session's open dump, full or summary." }
func (t *ReportTool) Schema() json.RawMessage { return json.RawMessage(reportSchema) }

type reportArgs struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Watches   bool   `json:"watches"`
	Security  bool   `json:"security"`
	AllFrames bool   `json:"allFrames"`
}

func (t *ReportTool) Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error) {
	var a reportArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid report arguments", err)
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

	opts := types.ReportOptions{Watches: a.Watches, Security: a.Security, AllFrames: a.AllFrames}

	snap, found, err := t.store.Get(ctx, a.UserID, dumpID, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "report cache lookup failed", err)
	}
	if !found {
		fresh, berr := buildReport(ctx, m, a.UserID, dumpID, opts, t.watchStore)
		if berr != nil {
			return nil, berr
		}
		if perr := t.store.Put(ctx, fresh); perr != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to cache report", perr)
		}
		snap = &fresh
	}

	switch a.Action {
	case "full":
		return jsonResult(snap)
	case "summary":
		return jsonResult(map[string]any{
			"metadata":       snap.Metadata,
			"summary":        snap.Analysis.Summary,
			"threadsSummary": snap.Analysis.Threads.Summary,
		})
	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown report action %q", a.Action)
	}
}

// buildReport composes a fresh ReportSnapshot from the session's live
// debugger/reader handles, per spec §9's "report produced by functional
// composition" redesign note — enrichers return fragments merged into a
// new snapshot, never mutating a cached one.
func buildReport(ctx context.Context, m *session.Managed, userID, dumpID string, opts types.ReportOptions, watchStore *watch.Store) (types.ReportSnapshot, error) {
	driver, _, threads, modules, heap, err := loadAnalysisInputs(ctx, m)
	if err != nil {
		return types.ReportSnapshot{}, err
	}

	faultingThreadID, exceptionType, exceptionMessage := crashInfo(ctx, driver)

	analysis := types.AnalysisFragment{
		Summary:    analyze.Crash(threads, faultingThreadID, exceptionType, exceptionMessage),
		Threads:    analyze.Threads(threads),
		Modules:    modules,
		GC:         analyze.GC(heap),
		Contention: analyze.Contention(threads),
	}

	if opts.Security {
		analysis.Security = analyze.Security(modules)
	}
	if opts.Watches && watchStore != nil {
		watches, err := watchStore.List(ctx, userID, dumpID)
		if err == nil {
			if results, evalErr := watchStore.Evaluate(ctx, userID, dumpID, driver); evalErr == nil {
				analysis.Watches = watch.ToReportEntries(watches, results)
			}
		}
	}

	return types.ReportSnapshot{
		Metadata: types.ReportMetadata{
			UserID:             userID,
			DumpID:             dumpID,
			GeneratedAt:        time.Now().UnixMilli(),
			IncludesWatches:    opts.Watches,
			IncludesSecurity:   opts.Security,
			IncludesAIAnalysis: false,
			IncludesAllFrames:  opts.AllFrames,
		},
		Analysis: analysis,
	}, nil
}

// crashInfo runs the debugger's own crash-analysis command and scrapes its
// free-text output for the faulting thread and exception identity. Absent or
// unparseable output yields zero values rather than an error — a report
// without a diagnosed exception is still a valid report (e.g. a native-only
// dump with no managed exception).
func crashInfo(ctx context.Context, driver *debugger.Driver) (faultingThreadID int, exceptionType, exceptionMessage string) {
	out, err := driver.Execute(ctx, "analyze -v")
	if err != nil || out == "" {
		return 0, "", ""
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Exception type:"); ok {
			exceptionType = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Exception message:"); ok {
			exceptionMessage = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Faulting thread:"); ok {
			if n, cerr := strconv.Atoi(strings.TrimSpace(v)); cerr == nil {
				faultingThreadID = n
			}
		}
	}
	return
}
