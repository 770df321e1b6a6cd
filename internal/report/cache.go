package report

import (
	"context"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Key identifies one cached ReportSnapshot. AI-enriched snapshots are keyed
// additionally by LLMKey (the model fingerprint), matching spec §8's
// "AI-enriched reports additionally overflow to disk under
// {storage}/{userId}/{dumpId}/ai_report_{llmKey}.json" requirement.
type Key struct {
	UserID string
	DumpID string
	LLMKey string
}

// Cache is the L2 overflow backend for AI-enriched report snapshots. The
// default implementation is file-backed (FileCache); RedisCache is an
// alternate implementation selected by Config.Report.Backend == "redis" for
// multi-instance deployments that need to share the overflow tier.
type Cache interface {
	Get(ctx context.Context, key Key) (*types.ReportSnapshot, bool, error)
	Put(ctx context.Context, key Key, snap types.ReportSnapshot) error
	Delete(ctx context.Context, key Key) error
}
