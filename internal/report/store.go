// Package report implements the canonical JSON report document cache: an
// in-memory superset/subset cache per (userID, dumpID) with an overflow
// tier for AI-enriched snapshots, keyed additionally by an LLM fingerprint.
package report

import (
	"context"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opencode-ai/opencode/pkg/types"
)

type memEntry struct {
	digest uint64
	snap   types.ReportSnapshot
}

// Store is the report cache spec §8/§6.E describes: an in-memory cache
// keyed by (userID, dumpID, options_digest), with AI-enriched snapshots
// additionally overflowing to Cache (file- or Redis-backed, selected by
// Config.Report.Backend).
type Store struct {
	mu      sync.RWMutex
	byScope map[string][]memEntry

	overflow Cache
}

// New constructs a Store backed by overflow for AI-enriched snapshots.
func New(overflow Cache) *Store {
	return &Store{
		byScope:  make(map[string][]memEntry),
		overflow: overflow,
	}
}

func scopeKey(userID, dumpID string) string {
	return userID + "/" + dumpID
}

// Put caches snap in memory, keyed by its own option digest, and — if snap
// includes AI analysis — writes it through to the overflow tier keyed by
// LLMKey, per spec §8's "AI-enriched snapshots also persisted to disk
// keyed by an llmKey fingerprint."
func (s *Store) Put(ctx context.Context, snap types.ReportSnapshot) error {
	opts := metadataToOptions(snap.Metadata)
	digest := OptionsDigest(opts)

	s.mu.Lock()
	key := scopeKey(snap.Metadata.UserID, snap.Metadata.DumpID)
	s.byScope[key] = append(s.byScope[key], memEntry{digest: digest, snap: snap})
	s.mu.Unlock()

	if snap.Metadata.IncludesAIAnalysis && snap.Metadata.LLMKey != "" {
		return s.overflow.Put(ctx, Key{
			UserID: snap.Metadata.UserID,
			DumpID: snap.Metadata.DumpID,
			LLMKey: snap.Metadata.LLMKey,
		}, snap)
	}
	return nil
}

// Get returns a cached snapshot satisfying opts — the newest entry whose
// feature set is a superset of opts — checking the in-memory tier first and
// falling back to the overflow tier when opts names an LLMKey.
func (s *Store) Get(ctx context.Context, userID, dumpID string, opts types.ReportOptions) (*types.ReportSnapshot, bool, error) {
	s.mu.RLock()
	entries := s.byScope[scopeKey(userID, dumpID)]
	var best *types.ReportSnapshot
	for i := range entries {
		e := entries[i]
		if !e.snap.Metadata.Satisfies(opts) {
			continue
		}
		if best == nil || e.snap.Metadata.GeneratedAt > best.Metadata.GeneratedAt {
			snap := e.snap
			best = &snap
		}
	}
	s.mu.RUnlock()
	if best != nil {
		return best, true, nil
	}

	if opts.LLMKey == "" {
		return nil, false, nil
	}
	snap, ok, err := s.overflow.Get(ctx, Key{UserID: userID, DumpID: dumpID, LLMKey: opts.LLMKey})
	if err != nil || !ok {
		return nil, false, err
	}
	if !snap.Metadata.Satisfies(opts) {
		return nil, false, nil
	}

	s.mu.Lock()
	key := scopeKey(userID, dumpID)
	s.byScope[key] = append(s.byScope[key], memEntry{digest: OptionsDigest(opts), snap: *snap})
	s.mu.Unlock()

	return snap, true, nil
}

// InvalidateOnWatchChange drops every cached snapshot for (userID, dumpID)
// from the in-memory tier, per spec §8's "invalidate_on_watch_change drops
// the cached report whenever watches are mutated." The overflow tier is
// left alone — an AI-enriched report fingerprinted by llmKey reflects the
// model's output at generation time and is addressed explicitly by that
// fingerprint, not implicitly refreshed by watch edits.
func (s *Store) InvalidateOnWatchChange(ctx context.Context, userID, dumpID string) {
	s.mu.Lock()
	delete(s.byScope, scopeKey(userID, dumpID))
	s.mu.Unlock()
}

func metadataToOptions(m types.ReportMetadata) types.ReportOptions {
	return types.ReportOptions{
		Watches:    m.IncludesWatches,
		Security:   m.IncludesSecurity,
		AIAnalysis: m.IncludesAIAnalysis,
		AllFrames:  m.IncludesAllFrames,
		LLMKey:     m.LLMKey,
	}
}

// SummaryDiff renders a compact diff between two snapshots' summary
// descriptions, used by the AI sampling orchestrator's checkpoint log to
// show what the model's understanding of the crash changed between
// iterations without repeating the whole summary text.
func SummaryDiff(prev, next types.ReportSnapshot) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev.Analysis.Summary.Description, next.Analysis.Summary.Description, false)
	return dmp.DiffPrettyText(diffs)
}
