// Package ailoop drives the server-initiated sampling loop that iteratively
// refines a dump's canonical report: build a bounded prompt context, ask the
// client's LLM for the next step, execute any tool calls it asks for
// locally, and fold the results into an evidence ledger until the model is
// done, confidence clears the threshold, the ledger fills up, or the
// iteration/wall-clock caps are hit.
package ailoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

// LedgerStore persists one EvidenceLedger per (userID, dumpID). go-redis
// backs it for multi-instance deployments; the file-backed default mirrors
// every other per-user resource in this service.
type LedgerStore interface {
	Load(ctx context.Context, userID, dumpID string) (*types.EvidenceLedger, error)
	Save(ctx context.Context, userID, dumpID string, ledger *types.EvidenceLedger) error
}

// FileLedgerStore is the default LedgerStore, grounded on internal/report's
// FileCache: one JSON file per (userID, dumpID) under internal/storage's
// atomic write-then-rename path.
type FileLedgerStore struct {
	storage *storage.Storage
}

func NewFileLedgerStore(store *storage.Storage) *FileLedgerStore {
	return &FileLedgerStore{storage: store}
}

func ledgerPath(userID, dumpID string) []string {
	return []string{userID, dumpID, "ai_ledger"}
}

func (s *FileLedgerStore) Load(ctx context.Context, userID, dumpID string) (*types.EvidenceLedger, error) {
	var ledger types.EvidenceLedger
	if err := s.storage.Get(ctx, ledgerPath(userID, dumpID), &ledger); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (s *FileLedgerStore) Save(ctx context.Context, userID, dumpID string, ledger *types.EvidenceLedger) error {
	return s.storage.Put(ctx, ledgerPath(userID, dumpID), ledger)
}

// RedisLedgerStore is the LedgerStore selected by Config.Report.Backend ==
// "redis", mirroring internal/report.RedisCache's key shape so operators
// running both overflow tiers against the same Redis instance get a
// consistent naming convention.
type RedisLedgerStore struct {
	client *redis.Client
}

func NewRedisLedgerStore(addr string) *RedisLedgerStore {
	return &RedisLedgerStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func redisLedgerKey(userID, dumpID string) string {
	return fmt.Sprintf("ai_ledger:%s:%s", userID, dumpID)
}

func (s *RedisLedgerStore) Load(ctx context.Context, userID, dumpID string) (*types.EvidenceLedger, error) {
	data, err := s.client.Get(ctx, redisLedgerKey(userID, dumpID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ailoop: redis get: %w", err)
	}
	var ledger types.EvidenceLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("ailoop: unmarshal ledger: %w", err)
	}
	return &ledger, nil
}

func (s *RedisLedgerStore) Save(ctx context.Context, userID, dumpID string, ledger *types.EvidenceLedger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("ailoop: marshal ledger: %w", err)
	}
	if err := s.client.Set(ctx, redisLedgerKey(userID, dumpID), data, 0).Err(); err != nil {
		return fmt.Errorf("ailoop: redis set: %w", err)
	}
	return nil
}
