package analyze

import (
	"github.com/opencode-ai/opencode/pkg/types"
)

// PerformanceFragment is the combined view the analyze tool's "performance"
// kind returns: CPU hot-path plus GC and contention, the usual three
// suspects behind a slow or hung .NET process.
type PerformanceFragment struct {
	CPU        types.ThreadsSummary        `json:"cpu"`
	GC         *types.GCFragment           `json:"gc,omitempty"`
	Contention *types.ContentionFragment   `json:"contention,omitempty"`
}

// Performance runs the CPU, GC, and contention analyzers and returns them
// together.
func Performance(threads []types.ThreadInfo, stats types.HeapStats) PerformanceFragment {
	return PerformanceFragment{
		CPU:        CPUHotPath(threads, 10),
		GC:         GC(stats),
		Contention: Contention(threads),
	}
}
