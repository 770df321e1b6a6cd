package ailoop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opencode-ai/opencode/pkg/types"
)

type fakeReader struct {
	modules []types.ModuleInfo
	err     error
}

func (f *fakeReader) Modules(ctx context.Context) ([]types.ModuleInfo, error) {
	return f.modules, f.err
}
func (f *fakeReader) Threads(ctx context.Context) ([]types.ThreadInfo, error) { return nil, nil }
func (f *fakeReader) HeapStats(ctx context.Context) (types.HeapStats, error) {
	return types.HeapStats{}, nil
}
func (f *fakeReader) TypeByMethodTable(ctx context.Context, methodTable string) (types.TypeInfo, error) {
	return types.TypeInfo{}, nil
}
func (f *fakeReader) SequencePointsForFrame(ctx context.Context, module, method string, ilOffset int) (*types.SourceLocation, error) {
	return nil, nil
}
func (f *fakeReader) Close() error { return nil }

func sampleSnapshot() types.ReportSnapshot {
	return types.ReportSnapshot{
		Metadata: types.ReportMetadata{DumpID: "d1", GeneratedAt: 100},
		Analysis: types.AnalysisFragment{
			Summary: types.SummaryFragment{Description: "crashed"},
			Threads: types.ThreadsFragment{
				All: []types.ThreadInfo{
					{ID: 1, Frames: []types.FrameInfo{{Method: "Foo.Bar"}}},
					{ID: 2, Frames: []types.FrameInfo{{Method: "Baz.Qux"}}},
				},
			},
		},
	}
}

func TestReportIndex_FlattensPathsAndSizes(t *testing.T) {
	entries, err := reportIndex(sampleSnapshot())
	if err != nil {
		t.Fatalf("reportIndex: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Path == "analysis.threads.all[0].frames[0].method" {
			found = true
			if e.SizeBytes == 0 {
				t.Error("expected non-zero size for a string leaf")
			}
		}
	}
	if !found {
		t.Fatal("expected an indexed entry for the first thread's first frame method")
	}
}

func TestGetSection_PaginatesArrays(t *testing.T) {
	snap := sampleSnapshot()
	raw, next, err := getSection(snap, "analysis.threads.all", 1, 0)
	if err != nil {
		t.Fatalf("getSection: %v", err)
	}
	var page []types.ThreadInfo
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page) != 1 || page[0].ID != 1 {
		t.Fatalf("expected first thread only, got %+v", page)
	}
	if next != 1 {
		t.Fatalf("expected nextCursor 1, got %d", next)
	}

	raw, next, err = getSection(snap, "analysis.threads.all", 1, next)
	if err != nil {
		t.Fatalf("getSection second page: %v", err)
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(page) != 1 || page[0].ID != 2 {
		t.Fatalf("expected second thread only, got %+v", page)
	}
	if next != -1 {
		t.Fatalf("expected nextCursor -1 once exhausted, got %d", next)
	}
}

func TestGetSection_ScalarLeafReturnsWholeValue(t *testing.T) {
	raw, next, err := getSection(sampleSnapshot(), "analysis.summary.description", 50, 0)
	if err != nil {
		t.Fatalf("getSection: %v", err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != "crashed" {
		t.Fatalf("expected %q, got %q", "crashed", s)
	}
	if next != -1 {
		t.Fatalf("expected nextCursor -1 for a scalar leaf, got %d", next)
	}
}

func TestGetSection_UnknownPathFails(t *testing.T) {
	if _, _, err := getSection(sampleSnapshot(), "analysis.nope", 50, 0); err == nil {
		t.Fatal("expected error for an unknown path")
	}
}

func TestToolExecutor_ExecWithoutDriverReturnsErrorString(t *testing.T) {
	e := &toolExecutor{}
	out := e.execute(context.Background(), types.SamplingToolCall{Name: "exec", Arguments: json.RawMessage(`{"command":"~*e"}`)})
	if out != "ERROR: no debugger is initialized for this session" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestToolExecutor_ListModulesUsesReader(t *testing.T) {
	e := &toolExecutor{reader: &fakeReader{modules: []types.ModuleInfo{{Name: "coreclr.dll", IsCLR: true}}}}
	out := e.execute(context.Background(), types.SamplingToolCall{Name: "list_modules"})
	var modules []types.ModuleInfo
	if err := json.Unmarshal([]byte(out), &modules); err != nil {
		t.Fatalf("expected JSON modules, got %q: %v", out, err)
	}
	if len(modules) != 1 || modules[0].Name != "coreclr.dll" {
		t.Fatalf("unexpected modules: %+v", modules)
	}
}

func TestToolExecutor_UnknownToolReturnsErrorString(t *testing.T) {
	e := &toolExecutor{}
	out := e.execute(context.Background(), types.SamplingToolCall{Name: "nonexistent"})
	if out != `ERROR: unknown tool "nonexistent"` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestToolExecutor_FindReportSectionsFiltersByQuery(t *testing.T) {
	e := &toolExecutor{report: sampleSnapshot()}
	args, _ := json.Marshal(map[string]string{"query": "SUMMARY"})
	out := e.execute(context.Background(), types.SamplingToolCall{Name: "find_report_sections", Arguments: args})
	var matches []SectionInfo
	if err := json.Unmarshal([]byte(out), &matches); err != nil {
		t.Fatalf("unmarshal matches: %v", err)
	}
	for _, m := range matches {
		if m.Path == "" {
			t.Fatal("expected non-empty paths in matches")
		}
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match for a case-insensitive substring query")
	}
}

func TestLedgerEntry_FlagsErrorOutputs(t *testing.T) {
	entry := newLedgerEntry(0, types.SamplingToolCall{Name: "exec"}, "ERROR: boom", 0)
	if !entry.Error {
		t.Fatal("expected Error to be true for an ERROR-prefixed output")
	}
	entry = newLedgerEntry(0, types.SamplingToolCall{Name: "exec"}, "ok", 0)
	if entry.Error {
		t.Fatal("expected Error to be false for a non-error output")
	}
}

func TestLedgerEntry_TruncatesExcerpt(t *testing.T) {
	entry := newLedgerEntry(0, types.SamplingToolCall{Name: "exec"}, "0123456789", 5)
	if entry.Excerpt != "01234" {
		t.Fatalf("expected truncated excerpt, got %q", entry.Excerpt)
	}
}

func TestLLMKey_StableForSameBoundsDifferentForDifferentBounds(t *testing.T) {
	a := llmKey(10, 100)
	b := llmKey(10, 100)
	c := llmKey(20, 100)
	if a != b {
		t.Fatal("expected llmKey to be deterministic for identical bounds")
	}
	if a == c {
		t.Fatal("expected llmKey to differ when maxIterations differs")
	}
}

func TestClampPositive_FallsBackThenCaps(t *testing.T) {
	if got := clampPositive(0, 5, 100); got != 5 {
		t.Fatalf("expected fallback to default 5, got %d", got)
	}
	if got := clampPositive(0, 0, 100); got != 100 {
		t.Fatalf("expected fallback to hard cap 100, got %d", got)
	}
	if got := clampPositive(500, 5, 100); got != 100 {
		t.Fatalf("expected overlarge value capped to 100, got %d", got)
	}
	if got := clampPositive(7, 5, 100); got != 7 {
		t.Fatalf("expected explicit value 7 to pass through, got %d", got)
	}
}

func TestEvidenceLedger_MatchesResetsOnSnapshotChange(t *testing.T) {
	key := types.SnapshotKey{DumpID: "d1", GeneratedAt: 100}
	ledger := &types.EvidenceLedger{Snapshot: key}
	if !ledger.Matches(key) {
		t.Fatal("expected ledger to match its own snapshot key")
	}
	if ledger.Matches(types.SnapshotKey{DumpID: "d1", GeneratedAt: 101}) {
		t.Fatal("expected ledger to reject a newer GeneratedAt")
	}
}
