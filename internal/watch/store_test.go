package watch

import (
	"context"
	"testing"

	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

type fakeExecutor struct {
	outputs map[string]string
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (string, error) {
	return f.outputs[command], nil
}

func newTestStore(t *testing.T) (*Store, map[string]int) {
	t.Helper()
	invalidations := make(map[string]int)
	s := New(storage.New(t.TempDir()), func(userID, dumpID string) {
		invalidations[Key(userID, dumpID)]++
	})
	return s, invalidations
}

func TestStore_AddListGet(t *testing.T) {
	s, invalidations := newTestStore(t)
	ctx := context.Background()

	w, err := s.Add(ctx, "u1", "d1", "*(int*)0x1000", "heap word", "primitive", 100)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if w.ID == "" {
		t.Fatal("expected a minted id")
	}
	if invalidations[Key("u1", "d1")] != 1 {
		t.Errorf("expected one invalidation, got %d", invalidations[Key("u1", "d1")])
	}

	list, err := s.List(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != w.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	got, err := s.Get(ctx, "u1", "d1", w.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Expression != w.Expression {
		t.Errorf("expected expression %q, got %q", w.Expression, got.Expression)
	}
}

func TestStore_Remove_MissingIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", "d1", "expr", "", "", 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := s.Remove(ctx, "u1", "d1", "nonexistent")
	if err == nil {
		t.Fatal("expected error removing unknown watch")
	}
}

func TestStore_Clear_DropsAllAndInvalidates(t *testing.T) {
	s, invalidations := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, "u1", "d1", "a", "", "", 1)
	s.Add(ctx, "u1", "d1", "b", "", "", 2)

	if err := s.Clear(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	list, err := s.List(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no watches after Clear, got %d", len(list))
	}
	if invalidations[Key("u1", "d1")] != 3 {
		t.Errorf("expected 3 invalidations (2 adds + 1 clear), got %d", invalidations[Key("u1", "d1")])
	}
}

func TestStore_Has(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	has, err := s.Has(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatal("expected no watches yet")
	}

	s.Add(ctx, "u1", "d1", "expr", "", "", 1)
	has, err = s.Has(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Fatal("expected a watch to exist")
	}
}

func TestStore_Evaluate_ClassifiesEachResultKind(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, "u1", "d1", "addr-expr", "", "", 1)
	s.Add(ctx, "u1", "d1", "prim-expr", "", "", 2)
	s.Add(ctx, "u1", "d1", "obj-expr", "", "", 3)
	s.Add(ctx, "u1", "d1", "err-expr", "", "", 4)

	exec := &fakeExecutor{outputs: map[string]string{
		"addr-expr": "0x00007ffd12345678",
		"prim-expr": "42",
		"obj-expr":  "MethodTable: 0x00007ffd00001000\nEEClass: 0x1\nName: System.String",
		"err-expr":  "",
	}}

	results, err := s.Evaluate(ctx, "u1", "d1", exec)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	kinds := make(map[string]string)
	for _, r := range results {
		kinds[r.ResultWatchID()] = string(r.ResultKind())
	}
	list, _ := s.List(ctx, "u1", "d1")
	byExpr := make(map[string]string)
	for _, w := range list {
		byExpr[w.Expression] = kinds[w.ID]
	}

	if byExpr["addr-expr"] != "address" {
		t.Errorf("expected address, got %s", byExpr["addr-expr"])
	}
	if byExpr["prim-expr"] != "primitive" {
		t.Errorf("expected primitive, got %s", byExpr["prim-expr"])
	}
	if byExpr["obj-expr"] != "object" {
		t.Errorf("expected object, got %s", byExpr["obj-expr"])
	}
	if byExpr["err-expr"] != "error" {
		t.Errorf("expected error, got %s", byExpr["err-expr"])
	}
}

func TestToReportEntries_PairsWatchesWithResults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	w1, _ := s.Add(ctx, "u1", "d1", "a", "", "", 1)
	w2, _ := s.Add(ctx, "u1", "d1", "b", "", "", 2)
	watches := []types.Watch{w1, w2}

	results := []types.WatchResult{
		&types.AddressResult{WatchID: w1.ID, Kind: "address", Address: "0x1"},
	}
	entries := ToReportEntries(watches, results)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Result == nil {
		t.Error("expected w1 to have a matched result")
	}
	if entries[1].Result != nil {
		t.Error("expected w2 to have no matched result")
	}
}
