package report

import (
	"context"
	"testing"

	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(NewFileCache(storage.New(t.TempDir())))
}

func baseSnapshot(userID, dumpID string, generatedAt int64) types.ReportSnapshot {
	return types.ReportSnapshot{
		Metadata: types.ReportMetadata{
			UserID:      userID,
			DumpID:      dumpID,
			GeneratedAt: generatedAt,
		},
		Analysis: types.AnalysisFragment{
			Summary: types.SummaryFragment{Description: "crash in thread 7"},
		},
	}
}

func TestStore_PutGet_ExactMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := baseSnapshot("user1", "dump1", 100)

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "user1", "dump1", types.ReportOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Metadata.GeneratedAt != 100 {
		t.Errorf("expected generatedAt 100, got %d", got.Metadata.GeneratedAt)
	}
}

func TestStore_Get_SupersetSatisfiesSubsetRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := baseSnapshot("user1", "dump1", 100)
	snap.Metadata.IncludesWatches = true
	snap.Metadata.IncludesSecurity = true

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, ok, err := s.Get(ctx, "user1", "dump1", types.ReportOptions{Watches: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected superset cache entry to satisfy a narrower request")
	}
}

func TestStore_Get_SubsetDoesNotSatisfySupersetRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := baseSnapshot("user1", "dump1", 100)

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, ok, err := s.Get(ctx, "user1", "dump1", types.ReportOptions{Security: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss: cached entry lacks security section")
	}
}

func TestStore_Get_ReturnsNewestSatisfyingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, baseSnapshot("user1", "dump1", 100)); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if err := s.Put(ctx, baseSnapshot("user1", "dump1", 200)); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	got, ok, err := s.Get(ctx, "user1", "dump1", types.ReportOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Metadata.GeneratedAt != 200 {
		t.Errorf("expected newest entry (200), got %d", got.Metadata.GeneratedAt)
	}
}

func TestStore_InvalidateOnWatchChange_DropsScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, baseSnapshot("user1", "dump1", 100)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.InvalidateOnWatchChange(ctx, "user1", "dump1")

	_, ok, err := s.Get(ctx, "user1", "dump1", types.ReportOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected cache to be empty after invalidation")
	}
}

func TestStore_AIEnrichedSnapshot_OverflowsToFileCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := baseSnapshot("user1", "dump1", 100)
	snap.Metadata.IncludesAIAnalysis = true
	snap.Metadata.LLMKey = "gpt-5-fingerprint"

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cached, ok, err := s.overflow.Get(ctx, Key{UserID: "user1", DumpID: "dump1", LLMKey: "gpt-5-fingerprint"})
	if err != nil {
		t.Fatalf("overflow.Get: %v", err)
	}
	if !ok {
		t.Fatal("expected AI-enriched snapshot to be written through to the overflow cache")
	}
	if cached.Metadata.LLMKey != "gpt-5-fingerprint" {
		t.Errorf("unexpected cached snapshot: %+v", cached)
	}
}

func TestStore_Get_FallsBackToOverflowByLLMKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := baseSnapshot("user1", "dump1", 100)
	snap.Metadata.IncludesAIAnalysis = true
	snap.Metadata.LLMKey = "gpt-5-fingerprint"
	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Simulate a fresh process with an empty in-memory tier.
	fresh := New(s.overflow)
	got, ok, err := fresh.Get(ctx, "user1", "dump1", types.ReportOptions{AIAnalysis: true, LLMKey: "gpt-5-fingerprint"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected overflow fallback hit")
	}
	if got.Metadata.LLMKey != "gpt-5-fingerprint" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestOptionsDigest_StableAcrossFieldOrder(t *testing.T) {
	a := types.ReportOptions{Watches: true, Security: true}
	b := types.ReportOptions{Security: true, Watches: true}
	if OptionsDigest(a) != OptionsDigest(b) {
		t.Error("expected digest to be independent of struct literal field order")
	}
}

func TestSummaryDiff_ProducesNonEmptyText(t *testing.T) {
	prev := baseSnapshot("user1", "dump1", 100)
	next := baseSnapshot("user1", "dump1", 200)
	next.Analysis.Summary.Description = "crash in thread 9 due to null reference"

	diff := SummaryDiff(prev, next)
	if diff == "" {
		t.Error("expected non-empty diff text")
	}
}
