package analyze

import (
	"github.com/opencode-ai/opencode/pkg/types"
)

// GC converts raw heap statistics into the report's GC fragment.
func GC(stats types.HeapStats) *types.GCFragment {
	return &types.GCFragment{
		HeapCount:   stats.HeapCount,
		TotalBytes:  stats.TotalBytes,
		Generations: stats.Generations,
	}
}

// Allocations reuses the GC fragment shape but is kept as a distinct entry
// point for the analyze tool's "allocations" kind, since a future revision
// may source this from per-generation allocation-rate sampling instead of
// heap stats.
func Allocations(stats types.HeapStats) *types.GCFragment {
	return GC(stats)
}
