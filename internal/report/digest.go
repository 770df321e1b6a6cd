package report

import (
	"fmt"
	"hash/fnv"

	"github.com/opencode-ai/opencode/pkg/types"
)

// OptionsDigest computes a stable FNV-1a hash over opts' feature flags in a
// fixed field order, so the same option set always produces the same digest
// regardless of how a caller happened to construct it (e.g. JSON field
// order never matters, since this hashes the parsed struct, not raw bytes).
func OptionsDigest(opts types.ReportOptions) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "w=%t;s=%t;a=%t;f=%t;k=%s",
		opts.Watches, opts.Security, opts.AIAnalysis, opts.AllFrames, opts.LLMKey)
	return h.Sum64()
}
