package analyze

import (
	"strings"
	"testing"

	"github.com/opencode-ai/opencode/pkg/types"
)

func TestCrash_DescribesFaultingThreadWithException(t *testing.T) {
	threads := []types.ThreadInfo{
		{ID: 1, Frames: []types.FrameInfo{{Method: "MyApp.Service.Process", File: "service.cs", Line: 42}}},
	}
	frag := Crash(threads, 1, "System.NullReferenceException", "Object reference not set")

	if !strings.Contains(frag.Description, "thread 1") && !strings.Contains(frag.Description, "Thread 1") {
		t.Errorf("expected description to mention the faulting thread, got %q", frag.Description)
	}
	if frag.ExceptionType != "System.NullReferenceException" {
		t.Errorf("unexpected exception type: %q", frag.ExceptionType)
	}
	if len(frag.Recommendations) == 0 {
		t.Error("expected at least one recommendation for a NullReferenceException")
	}
}

func TestCrash_NoFaultingThreadOrException(t *testing.T) {
	frag := Crash(nil, 0, "", "")
	if frag.Description == "" {
		t.Error("expected a non-empty fallback description")
	}
}

func TestThreads_SummarizesManagedAndNativeCounts(t *testing.T) {
	threads := []types.ThreadInfo{
		{ID: 1, Native: false, Frames: make([]types.FrameInfo, 3)},
		{ID: 2, Native: true, Frames: make([]types.FrameInfo, 1)},
	}
	frag := Threads(threads)
	if len(frag.All) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(frag.All))
	}
	if !strings.Contains(frag.Summary.Description, "1 managed") || !strings.Contains(frag.Summary.Description, "1 native") {
		t.Errorf("unexpected summary: %q", frag.Summary.Description)
	}
}

func TestCPUHotPath_RanksByStackDepth(t *testing.T) {
	threads := []types.ThreadInfo{
		{ID: 1, Frames: make([]types.FrameInfo, 2)},
		{ID: 2, Frames: make([]types.FrameInfo, 9)},
	}
	summary := CPUHotPath(threads, 1)
	lines := strings.Split(strings.TrimSpace(summary.Description), "\n")
	if !strings.Contains(lines[1], "thread 2") {
		t.Errorf("expected thread 2 (deepest stack) ranked first, got %q", lines[1])
	}
}

func TestGC_CopiesHeapStats(t *testing.T) {
	stats := types.HeapStats{HeapCount: 4, TotalBytes: 1024, Generations: []types.GenerationInfo{{Generation: 0, Bytes: 512}}}
	frag := GC(stats)
	if frag.HeapCount != 4 || frag.TotalBytes != 1024 {
		t.Errorf("unexpected fragment: %+v", frag)
	}
}

func TestContention_FindsBlockedThreads(t *testing.T) {
	threads := []types.ThreadInfo{
		{ID: 1, Frames: []types.FrameInfo{{Method: "System.Threading.Monitor.Enter"}}},
		{ID: 2, Frames: []types.FrameInfo{{Method: "MyApp.Work.Run"}}},
	}
	frag := Contention(threads)
	if frag == nil {
		t.Fatal("expected a contention fragment")
	}
	if len(frag.BlockedThreads) != 1 || frag.BlockedThreads[0] != 1 {
		t.Errorf("expected thread 1 blocked, got %+v", frag.BlockedThreads)
	}
}

func TestContention_NoBlockedThreadsReturnsNil(t *testing.T) {
	threads := []types.ThreadInfo{{ID: 1, Frames: []types.FrameInfo{{Method: "MyApp.Work.Run"}}}}
	if frag := Contention(threads); frag != nil {
		t.Errorf("expected nil fragment, got %+v", frag)
	}
}

func TestSecurity_FlagsMissingVersionAndDuplicatePaths(t *testing.T) {
	modules := []types.ModuleInfo{
		{Name: "System.Private.CoreLib", IsCLR: true, Version: ""},
		{Name: "native.dll", Path: "/app/native.dll"},
		{Name: "native.dll", Path: "/tmp/native.dll"},
	}
	frag := Security(modules)
	if frag == nil {
		t.Fatal("expected a security fragment")
	}
	if len(frag.Findings) != 2 {
		t.Errorf("expected 2 findings (missing version + duplicate path), got %d: %+v", len(frag.Findings), frag.Findings)
	}
}

func TestSecurity_NoFindingsReturnsNil(t *testing.T) {
	modules := []types.ModuleInfo{{Name: "a.dll", Path: "/app/a.dll", Version: "1.0"}}
	if frag := Security(modules); frag != nil {
		t.Errorf("expected nil fragment, got %+v", frag)
	}
}

func TestPerformance_CombinesCPUGCAndContention(t *testing.T) {
	threads := []types.ThreadInfo{{ID: 1, Frames: []types.FrameInfo{{Method: "System.Threading.Monitor.Enter"}}}}
	stats := types.HeapStats{HeapCount: 1, TotalBytes: 100}

	perf := Performance(threads, stats)
	if perf.GC == nil || perf.GC.HeapCount != 1 {
		t.Errorf("unexpected GC fragment: %+v", perf.GC)
	}
	if perf.Contention == nil {
		t.Error("expected contention fragment")
	}
	if perf.CPU.Description == "" {
		t.Error("expected CPU summary description")
	}
}
