package analyze

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Threads wraps the raw per-thread stacks with a narrative summary. The
// summary description is the default; the AI orchestrator's final
// single-shot sampling pass may overwrite it with a model-authored one.
func Threads(threads []types.ThreadInfo) types.ThreadsFragment {
	return types.ThreadsFragment{
		All:     threads,
		Summary: types.ThreadsSummary{Description: threadsSummaryText(threads)},
	}
}

func threadsSummaryText(threads []types.ThreadInfo) string {
	if len(threads) == 0 {
		return "No thread stacks were captured."
	}

	managed, native, deepest := 0, 0, 0
	for _, t := range threads {
		if t.Native {
			native++
		} else {
			managed++
		}
		if len(t.Frames) > deepest {
			deepest = len(t.Frames)
		}
	}
	return fmt.Sprintf("%d thread(s) captured: %d managed, %d native. Deepest stack is %d frame(s).",
		len(threads), managed, native, deepest)
}

// CPUHotPath ranks threads by stack depth as a cheap proxy for where a CPU
// profile would likely attribute time absent a real sampling profiler —
// the deepest managed stacks are usually the ones doing the most work in
// a synchronous dump.
func CPUHotPath(threads []types.ThreadInfo, top int) types.ThreadsSummary {
	ranked := append([]types.ThreadInfo(nil), threads...)
	sortByDepthDesc(ranked)

	var b strings.Builder
	b.WriteString("Threads ranked by stack depth (proxy for CPU-bound work):\n")
	for i, t := range ranked {
		if i >= top {
			break
		}
		kind := "managed"
		if t.Native {
			kind = "native"
		}
		fmt.Fprintf(&b, "  thread %d (%s): %d frames\n", t.ID, kind, len(t.Frames))
	}
	return types.ThreadsSummary{Description: strings.TrimRight(b.String(), "\n")}
}

func sortByDepthDesc(threads []types.ThreadInfo) {
	for i := 1; i < len(threads); i++ {
		for j := i; j > 0 && len(threads[j].Frames) > len(threads[j-1].Frames); j-- {
			threads[j], threads[j-1] = threads[j-1], threads[j]
		}
	}
}
