package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	store := storage.New(t.TempDir())
	bus := event.NewBus()
	cfg := types.Config{MaxSessionsPerUser: maxSessions, IdleTimeoutSeconds: 1800}
	return New(store, bus, cfg, zerolog.Nop())
}

func TestManager_CreateAndGet(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, err := mgr.Get(ctx, id, "user1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Info().UserID != "user1" {
		t.Errorf("expected UserID user1, got %s", m.Info().UserID)
	}
}

func TestManager_Create_QuotaExceeded(t *testing.T) {
	mgr := newTestManager(t, 2)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, "user1"); err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := mgr.Create(ctx, "user1"); err != nil {
		t.Fatalf("Create 2: %v", err)
	}
	_, err := mgr.Create(ctx, "user1")
	if !apperr.IsCode(err, apperr.QuotaExceeded) {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}
}

func TestManager_Get_WrongUserIsUnauthorized(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Evict from memory so Get falls through to the disk-restore path,
	// where ownership is actually checked against the persisted record.
	mgr.mu.Lock()
	delete(mgr.active, sessionKey{UserID: "user1", SessionID: id})
	mgr.mu.Unlock()

	_, err = mgr.Get(ctx, id, "user2")
	if !apperr.IsCode(err, apperr.Unauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestManager_Get_MissingSessionIsNotFound(t *testing.T) {
	mgr := newTestManager(t, 5)
	_, err := mgr.Get(context.Background(), "nonexistent", "user1")
	if !apperr.IsCode(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestManager_RestoreFromDisk_ResetsDebuggerState(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, _ := mgr.Get(ctx, id, "user1")
	m.mu.Lock()
	m.info.DebuggerState = types.DebuggerDumpOpen
	info := m.info
	m.mu.Unlock()
	if err := mgr.persistLocked(ctx, &info); err != nil {
		t.Fatalf("persistLocked: %v", err)
	}

	mgr.mu.Lock()
	delete(mgr.active, sessionKey{UserID: "user1", SessionID: id})
	mgr.mu.Unlock()

	restored, err := mgr.Get(ctx, id, "user1")
	if err != nil {
		t.Fatalf("Get (restore): %v", err)
	}
	if restored.Info().DebuggerState != types.DebuggerUninitialized {
		t.Errorf("expected restored session to reset DebuggerState, got %s", restored.Info().DebuggerState)
	}
}

func TestManager_Close_RemovesSessionAndCancelsInFlight(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m, _ := mgr.Get(ctx, id, "user1")

	inFlightErr := make(chan error, 1)
	go func() {
		inFlightErr <- m.WithCancel(ctx, "call-1", func(callCtx context.Context) error {
			<-callCtx.Done()
			return callCtx.Err()
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := mgr.Close(ctx, id, "user1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-inFlightErr:
		if err == nil {
			t.Error("expected in-flight call to observe cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight call did not observe Close's cancellation")
	}

	if _, err := mgr.Get(ctx, id, "user1"); !apperr.IsCode(err, apperr.NotFound) {
		t.Errorf("expected NotFound after Close, got %v", err)
	}
}

func TestManager_List_FiltersByUser(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, "user1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mgr.Create(ctx, "user2"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	headers, err := mgr.List(ctx, "user1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(headers) != 1 || headers[0].UserID != "user1" {
		t.Errorf("expected exactly one user1 session, got %+v", headers)
	}
}

func TestManager_Sweep_EvictsIdleSessions(t *testing.T) {
	mgr := newTestManager(t, 5)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, _ := mgr.Get(ctx, id, "user1")
	m.mu.Lock()
	m.info.LastActivityAt = time.Now().Add(-time.Hour).UnixMilli()
	m.mu.Unlock()

	mgr.sweep(ctx, 30*time.Minute)

	if _, err := mgr.Get(ctx, id, "user1"); !apperr.IsCode(err, apperr.NotFound) {
		t.Errorf("expected idle session to be evicted, got %v", err)
	}
}
