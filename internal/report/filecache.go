package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

// FileCache is the default Cache backend, storing each AI-enriched snapshot
// as its own JSON file under {storage}/{userID}/{dumpID}/ai_report_{llmKey}.
// It wraps internal/storage the same way every other per-user resource in
// this service is persisted, so report overflow gets the same atomic
// write-then-rename durability as sessions and dumps.
type FileCache struct {
	storage *storage.Storage
}

// NewFileCache constructs a FileCache backed by store.
func NewFileCache(store *storage.Storage) *FileCache {
	return &FileCache{storage: store}
}

func reportPath(key Key) []string {
	name := fmt.Sprintf("ai_report_%s", key.LLMKey)
	return []string{key.UserID, key.DumpID, name}
}

// Get returns the cached snapshot for key, or (nil, false, nil) on a miss.
func (c *FileCache) Get(ctx context.Context, key Key) (*types.ReportSnapshot, bool, error) {
	var snap types.ReportSnapshot
	if err := c.storage.Get(ctx, reportPath(key), &snap); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &snap, true, nil
}

// Put persists snap under key, overwriting any prior snapshot for the same
// key (snapshots are logically immutable once generated — a caller that
// calls Put twice for the same llmKey is regenerating, not mutating).
func (c *FileCache) Put(ctx context.Context, key Key, snap types.ReportSnapshot) error {
	return c.storage.Put(ctx, reportPath(key), snap)
}

// Delete removes the cached snapshot for key, if present.
func (c *FileCache) Delete(ctx context.Context, key Key) error {
	return c.storage.Delete(ctx, reportPath(key))
}
