package ailoop

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/analyze"
	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/obs"
	"github.com/opencode-ai/opencode/internal/report"
	"github.com/opencode-ai/opencode/internal/rpc"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/pkg/types"
)

// maxEvidenceEntries bounds how many ledger entries a single run
// accumulates before it's forced to terminate with doneReason
// "evidence_budget", independent of the iteration cap — a model that keeps
// calling tools without converging still has to stop eventually.
const maxEvidenceEntries = 200

const systemPromptMain = `You are analyzing a .NET crash dump. Use the provided tools to gather ` +
	`evidence before concluding. When you have enough evidence, reply with ` +
	`done=true and a confidence between 0 and 1.`

const systemPromptCheckpoint = `Summarize your current hypothesis about the root cause as a short ` +
	`structured checkpoint: hypothesis, open questions, and your confidence (0-1).`

const systemPromptSummaryRewrite = `Rewrite the crash summary description and recommendations based on ` +
	`the evidence gathered so far. Reply with the new description as content.`

const systemPromptThreadsRewrite = `Rewrite the thread summary description based on the evidence gathered ` +
	`so far. Reply with the new description as content.`

// Runner implements internal/dispatch.AIRunner, driving the sampling loop
// described in spec §4.I against a session's live debugger/reader handles.
type Runner struct {
	reportStore *report.Store
	ledgerStore LedgerStore
	rpcServer   *rpc.Server
	cfg         types.AIConfig
	log         zerolog.Logger
}

func NewRunner(reportStore *report.Store, ledgerStore LedgerStore, rpcServer *rpc.Server, cfg types.AIConfig, log zerolog.Logger) *Runner {
	return &Runner{reportStore: reportStore, ledgerStore: ledgerStore, rpcServer: rpcServer, cfg: cfg, log: log}
}

// Run drives the main evidence-accumulating loop, then two best-effort
// single-shot rewrite passes, merging everything into a fresh
// ReportSnapshot persisted back to the report store.
func (r *Runner) Run(ctx context.Context, streamID string, m *session.Managed, userID, dumpID string, maxIterations, maxTokens int) (types.AIAnalysisFragment, error) {
	ctx, span := obs.StartSpan(ctx, "ailoop.Run")
	defer span.End()

	maxIterations = clampPositive(maxIterations, r.cfg.MaxIterations, 100)
	maxTokens = clampPositive(maxTokens, r.cfg.MaxTokens, 8192)

	if r.cfg.WallClockDeadlineSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.WallClockDeadlineSec)*time.Second)
		defer cancel()
	}

	stream, ok := r.rpcServer.Stream(streamID)
	if !ok {
		return types.AIAnalysisFragment{}, apperr.New(apperr.TransportLost, "the requesting stream is no longer connected")
	}

	snap, err := r.currentOrFreshReport(ctx, m, userID, dumpID)
	if err != nil {
		return types.AIAnalysisFragment{}, err
	}

	key := types.SnapshotKey{DumpID: dumpID, GeneratedAt: snap.Metadata.GeneratedAt}
	ledger, err := r.ledgerStore.Load(ctx, userID, dumpID)
	if err != nil {
		r.log.Warn().Err(err).Msg("ailoop: failed to load evidence ledger, starting fresh")
	}
	if ledger == nil || !ledger.Matches(key) {
		ledger = &types.EvidenceLedger{SessionID: m.Info().ID, Snapshot: key}
	}

	m.Lock()
	driver := m.Driver
	reader := m.Reader
	m.Unlock()
	executor := &toolExecutor{driver: driver, reader: reader, report: snap}

	checkpointEvery := r.cfg.CheckpointEveryIterations
	if checkpointEvery <= 0 {
		checkpointEvery = 5
	}

	fragment := types.AIAnalysisFragment{}
	doneReason := "iteration_cap"

	i := 0
loop:
	for ; i < maxIterations; i++ {
		if len(ledger.Entries) >= maxEvidenceEntries {
			doneReason = "evidence_budget"
			break
		}

		iterCtx, iterSpan := obs.StartSpan(ctx, "ailoop.iteration")
		params := r.buildPromptParams(snap, ledger, i, maxTokens)
		result, err := r.sample(iterCtx, stream, params)
		iterSpan.End()
		if err != nil {
			r.log.Warn().Err(err).Int("iteration", i).Msg("ailoop: sampling request failed")
			continue
		}

		if len(result.ToolCalls) > 0 {
			for _, call := range result.ToolCalls {
				output := executor.execute(ctx, call)
				ledger.Entries = append(ledger.Entries, newLedgerEntry(i, call, output, r.cfg.EvidenceExcerptMaxChars))
			}
		}

		if i > 0 && i%checkpointEvery == 0 {
			if checkpoint, err := r.sampleCheckpoint(ctx, stream, ledger, i, maxTokens); err == nil {
				ledger.Checkpoint = checkpoint
				fragment.Checkpoints = append(fragment.Checkpoints, *checkpoint)
			}
		}

		_ = r.ledgerStore.Save(ctx, userID, dumpID, ledger)

		if result.Done {
			doneReason = "model_done"
			break loop
		}
		if result.Confidence >= r.cfg.ConfidenceThreshold && r.cfg.ConfidenceThreshold > 0 {
			doneReason = "confidence"
			break loop
		}
	}

	fragment.Iterations = i
	fragment.DoneReason = doneReason

	final := r.rewriteSummaries(ctx, stream, snap, maxTokens)
	final.Metadata.IncludesAIAnalysis = true
	final.Metadata.LLMKey = llmKey(maxIterations, maxTokens)
	final.Metadata.GeneratedAt = time.Now().UnixMilli()
	final.Analysis.AIAnalysis = &fragment

	if err := r.reportStore.Put(ctx, final); err != nil {
		r.log.Warn().Err(err).Msg("ailoop: failed to persist AI-enriched report")
	}

	return fragment, nil
}

// currentOrFreshReport returns the cached full report for (userID, dumpID),
// building a minimal one directly from the live driver/reader if none is
// cached yet — the AI loop must have something to index even if no caller
// has run report(action="full") first.
func (r *Runner) currentOrFreshReport(ctx context.Context, m *session.Managed, userID, dumpID string) (types.ReportSnapshot, error) {
	if snap, found, err := r.reportStore.Get(ctx, userID, dumpID, types.ReportOptions{}); err == nil && found {
		return *snap, nil
	}

	m.Lock()
	driver := m.Driver
	reader := m.Reader
	m.Unlock()
	if driver == nil {
		return types.ReportSnapshot{}, apperr.New(apperr.Preconditioned, "no debugger is initialized for this session")
	}

	var threads []types.ThreadInfo
	var modules []types.ModuleInfo
	var heap types.HeapStats
	if reader != nil {
		threads, _ = reader.Threads(ctx)
		modules, _ = reader.Modules(ctx)
		heap, _ = reader.HeapStats(ctx)
	}

	snap := types.ReportSnapshot{
		Metadata: types.ReportMetadata{UserID: userID, DumpID: dumpID, GeneratedAt: time.Now().UnixMilli()},
		Analysis: types.AnalysisFragment{
			Summary:    analyze.Crash(threads, 0, "", ""),
			Threads:    analyze.Threads(threads),
			Modules:    modules,
			GC:         analyze.GC(heap),
			Contention: analyze.Contention(threads),
		},
	}
	if err := r.reportStore.Put(ctx, snap); err != nil {
		r.log.Warn().Err(err).Msg("ailoop: failed to cache freshly built report")
	}
	return snap, nil
}

func (r *Runner) buildPromptParams(snap types.ReportSnapshot, ledger *types.EvidenceLedger, iteration, maxTokens int) types.SamplingCreateMessageParams {
	index, _ := reportIndex(snap)
	indexJSON, _ := json.Marshal(index)

	excerpt := ledgerExcerpt(ledger, r.cfg.EvidenceExcerptMaxChars)

	var checkpointText string
	if ledger.Checkpoint != nil {
		cpJSON, _ := json.Marshal(ledger.Checkpoint)
		checkpointText = string(cpJSON)
	}

	content := fmt.Sprintf("Report index: %s\nEvidence so far: %s\nLast checkpoint: %s",
		string(indexJSON), excerpt, checkpointText)

	return types.SamplingCreateMessageParams{
		SystemPrompt: systemPromptMain,
		Messages:     []types.SamplingMessage{{Role: "user", Content: content}},
		Tools:        toolPalette,
		MaxTokens:    maxTokens,
	}
}

func (r *Runner) sample(ctx context.Context, stream *rpc.Stream, params types.SamplingCreateMessageParams) (types.SamplingCreateMessageResult, error) {
	raw, err := stream.Request(ctx, types.MethodSamplingCreateMessage, params)
	if err != nil {
		return types.SamplingCreateMessageResult{}, err
	}
	var result types.SamplingCreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return types.SamplingCreateMessageResult{}, apperr.Wrap(apperr.Internal, "malformed sampling result", err)
	}
	return result, nil
}

func (r *Runner) sampleCheckpoint(ctx context.Context, stream *rpc.Stream, ledger *types.EvidenceLedger, iteration, maxTokens int) (*types.Checkpoint, error) {
	excerpt := ledgerExcerpt(ledger, r.cfg.EvidenceExcerptMaxChars)
	params := types.SamplingCreateMessageParams{
		SystemPrompt: systemPromptCheckpoint,
		Messages:     []types.SamplingMessage{{Role: "user", Content: excerpt}},
		MaxTokens:    maxTokens,
	}
	result, err := r.sample(ctx, stream, params)
	if err != nil {
		return nil, err
	}
	var checkpoint types.Checkpoint
	if err := json.Unmarshal([]byte(result.Content), &checkpoint); err != nil {
		checkpoint = types.Checkpoint{Hypothesis: result.Content, Confidence: result.Confidence}
	}
	checkpoint.Iteration = iteration
	return &checkpoint, nil
}

// rewriteSummaries runs the two post-loop single-shot passes spec §4.I
// describes, merging their output into a copy of snap. Failures are
// logged and the original text is kept — these passes are optional.
func (r *Runner) rewriteSummaries(ctx context.Context, stream *rpc.Stream, snap types.ReportSnapshot, maxTokens int) types.ReportSnapshot {
	out := snap

	summaryParams := types.SamplingCreateMessageParams{
		SystemPrompt: systemPromptSummaryRewrite,
		Messages:     []types.SamplingMessage{{Role: "user", Content: out.Analysis.Summary.Description}},
		MaxTokens:    maxTokens,
	}
	if result, err := r.sample(ctx, stream, summaryParams); err == nil && result.Content != "" {
		out.Analysis.Summary.Description = result.Content
	} else if err != nil {
		r.log.Warn().Err(err).Msg("ailoop: summary rewrite pass failed")
	}

	threadsParams := types.SamplingCreateMessageParams{
		SystemPrompt: systemPromptThreadsRewrite,
		Messages:     []types.SamplingMessage{{Role: "user", Content: out.Analysis.Threads.Summary.Description}},
		MaxTokens:    maxTokens,
	}
	if result, err := r.sample(ctx, stream, threadsParams); err == nil && result.Content != "" {
		out.Analysis.Threads.Summary.Description = result.Content
	} else if err != nil {
		r.log.Warn().Err(err).Msg("ailoop: threads summary rewrite pass failed")
	}

	return out
}

func newLedgerEntry(iteration int, call types.SamplingToolCall, output string, excerptMax int) types.LedgerEntry {
	if excerptMax <= 0 {
		excerptMax = 500
	}
	excerpt := output
	if len(excerpt) > excerptMax {
		excerpt = excerpt[:excerptMax]
	}
	return types.LedgerEntry{
		Iteration:    iteration,
		ToolName:     call.Name,
		ArgsDigest:   digest(call.Arguments),
		ResultDigest: digest([]byte(output)),
		Excerpt:      excerpt,
		Error:        len(output) >= 6 && output[:6] == "ERROR:",
		Time:         time.Now().UnixMilli(),
	}
}

func ledgerExcerpt(ledger *types.EvidenceLedger, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 500
	}
	raw, _ := json.Marshal(ledger.Entries)
	s := string(raw)
	if len(s) > maxChars {
		return s[len(s)-maxChars:]
	}
	return s
}

func digest(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}

// llmKey fingerprints the run's bounds and the tool palette version, so a
// cached AI-enriched snapshot is never served for a different palette than
// the one that produced it — per spec §9's flagged-not-guessed open
// question on whether the key should include palette version: it does.
func llmKey(maxIterations, maxTokens int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "palette-v1;maxIter=%d;maxTokens=%d", maxIterations, maxTokens)
	return fmt.Sprintf("%x", h.Sum64())
}

func clampPositive(v, cfgDefault, hardCap int) int {
	if v <= 0 {
		v = cfgDefault
	}
	if v <= 0 || v > hardCap {
		v = hardCap
	}
	return v
}
