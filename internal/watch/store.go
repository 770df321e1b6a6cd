// Package watch persists per-dump watch expressions and evaluates them
// against a live debugger session, following the same one-file-per-scope
// layout internal/storage uses elsewhere in the service.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Executor runs a debugger command and returns its raw text output. Bound to
// *debugger.Driver by callers; kept as an interface here so Store doesn't
// import internal/debugger for a single method.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// InvalidateFunc is called whenever a mutating watch operation changes the
// set for (userID, dumpID), so the caller can drop any cached report for
// that dump (watches are part of the report, per spec §4.J).
type InvalidateFunc func(userID, dumpID string)

// Store owns the persisted Watch lists, one JSON file per (userID, dumpID).
type Store struct {
	storage    *storage.Storage
	mu         sync.Mutex
	invalidate InvalidateFunc
}

// New constructs a Store backed by store. invalidate may be nil.
func New(store *storage.Storage, invalidate InvalidateFunc) *Store {
	return &Store{storage: store, invalidate: invalidate}
}

func watchPath(userID, dumpID string) []string {
	return []string{"watches", userID, dumpID}
}

func (s *Store) load(ctx context.Context, userID, dumpID string) ([]types.Watch, error) {
	var watches []types.Watch
	err := s.storage.Get(ctx, watchPath(userID, dumpID), &watches)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load watches", err)
	}
	return watches, nil
}

func (s *Store) save(ctx context.Context, userID, dumpID string, watches []types.Watch) error {
	if err := s.storage.Put(ctx, watchPath(userID, dumpID), watches); err != nil {
		return apperr.Wrap(apperr.Internal, "save watches", err)
	}
	if s.invalidate != nil {
		s.invalidate(userID, dumpID)
	}
	return nil
}

// Add appends a new watch and returns it with a freshly minted id.
func (s *Store) Add(ctx context.Context, userID, dumpID, expression, description, typ string, now int64) (types.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load(ctx, userID, dumpID)
	if err != nil {
		return types.Watch{}, err
	}

	w := types.Watch{
		ID:          ulid.Make().String(),
		DumpID:      dumpID,
		Expression:  expression,
		Description: description,
		Type:        typ,
		CreatedAt:   now,
	}
	watches = append(watches, w)
	if err := s.save(ctx, userID, dumpID, watches); err != nil {
		return types.Watch{}, err
	}
	return w, nil
}

// Remove deletes the watch with the given id, if present.
func (s *Store) Remove(ctx context.Context, userID, dumpID, watchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load(ctx, userID, dumpID)
	if err != nil {
		return err
	}

	out := watches[:0]
	found := false
	for _, w := range watches {
		if w.ID == watchID {
			found = true
			continue
		}
		out = append(out, w)
	}
	if !found {
		return apperr.Newf(apperr.NotFound, "watch %q not found", watchID)
	}
	return s.save(ctx, userID, dumpID, out)
}

// Clear removes every watch for (userID, dumpID).
func (s *Store) Clear(ctx context.Context, userID, dumpID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, userID, dumpID, nil)
}

// List returns every watch for (userID, dumpID), oldest first.
func (s *Store) List(ctx context.Context, userID, dumpID string) ([]types.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load(ctx, userID, dumpID)
	if err != nil {
		return nil, err
	}
	sort.Slice(watches, func(i, j int) bool { return watches[i].CreatedAt < watches[j].CreatedAt })
	return watches, nil
}

// Get returns a single watch by id.
func (s *Store) Get(ctx context.Context, userID, dumpID, watchID string) (types.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load(ctx, userID, dumpID)
	if err != nil {
		return types.Watch{}, err
	}
	for _, w := range watches {
		if w.ID == watchID {
			return w, nil
		}
	}
	return types.Watch{}, apperr.Newf(apperr.NotFound, "watch %q not found", watchID)
}

// Has reports whether any watch exists for (userID, dumpID).
func (s *Store) Has(ctx context.Context, userID, dumpID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load(ctx, userID, dumpID)
	if err != nil {
		return false, err
	}
	return len(watches) > 0, nil
}

// Evaluate runs every watch for (userID, dumpID) through exec and classifies
// each result, per spec §4.J.
func (s *Store) Evaluate(ctx context.Context, userID, dumpID string, exec Executor) ([]types.WatchResult, error) {
	watches, err := s.List(ctx, userID, dumpID)
	if err != nil {
		return nil, err
	}

	results := make([]types.WatchResult, 0, len(watches))
	for _, w := range watches {
		results = append(results, evaluateOne(ctx, w, exec))
	}
	return results, nil
}

func evaluateOne(ctx context.Context, w types.Watch, exec Executor) types.WatchResult {
	output, err := exec.Execute(ctx, w.Expression)
	if err != nil {
		return &types.ErrorResult{WatchID: w.ID, Kind: string(types.WatchResultError), Message: err.Error()}
	}
	return classify(w.ID, output)
}

// classify buckets raw debugger output into one of the watch result kinds.
// Managed-object dumps (method table + type name present) are recognized
// first, then single-token hex addresses (the debugger's own pointer
// rendering), falling back to a bare primitive value.
func classify(watchID, output string) types.WatchResult {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return &types.ErrorResult{WatchID: watchID, Kind: string(types.WatchResultError), Message: "empty result"}
	}

	if mt, typeName, ok := parseObjectDump(trimmed); ok {
		return &types.ObjectResult{WatchID: watchID, Kind: string(types.WatchResultObject), MethodTable: mt, TypeName: typeName}
	}

	if isHexAddress(trimmed) {
		return &types.AddressResult{WatchID: watchID, Kind: string(types.WatchResultAddress), Address: trimmed}
	}

	return &types.PrimitiveResult{WatchID: watchID, Kind: string(types.WatchResultPrimitive), Value: trimmed}
}

func isHexAddress(s string) bool {
	fields := strings.Fields(s)
	if len(fields) != 1 {
		return false
	}
	f := strings.TrimPrefix(strings.ToLower(fields[0]), "0x")
	if len(f) < 8 || len(f) > 16 {
		return false
	}
	for _, r := range f {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// parseObjectDump looks for SOS's "MethodTable: 0x... EEClass: ... Name: ..."
// style output and pulls out the method table and type name.
func parseObjectDump(output string) (methodTable, typeName string, ok bool) {
	var mtFound, nameFound string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, "MethodTable:"); found {
			mtFound = strings.TrimSpace(v)
		}
		if v, found := strings.CutPrefix(line, "Name:"); found {
			nameFound = strings.TrimSpace(v)
		}
	}
	if mtFound == "" || nameFound == "" {
		return "", "", false
	}
	return mtFound, nameFound, true
}

// ToReportEntries converts evaluation results into the WatchReportEntry
// shape embedded in a ReportSnapshot's analysis.watches.
func ToReportEntries(watches []types.Watch, results []types.WatchResult) []types.WatchReportEntry {
	byID := make(map[string]types.WatchResult, len(results))
	for _, r := range results {
		byID[r.ResultWatchID()] = r
	}

	entries := make([]types.WatchReportEntry, 0, len(watches))
	for _, w := range watches {
		entry := types.WatchReportEntry{Watch: w}
		if r, ok := byID[w.ID]; ok {
			entry.Result = r
		}
		entries = append(entries, entry)
	}
	return entries
}

// Key formats the (userID, dumpID) scope for log fields and digests.
func Key(userID, dumpID string) string {
	return fmt.Sprintf("%s/%s", userID, dumpID)
}
