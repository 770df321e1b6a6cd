// Package session owns the (UserID, SessionID)-keyed in-memory registry of
// debugger-lifecycle sessions: creation, quota enforcement, ownership
// checks, disk persistence, restore-from-disk, and idle eviction.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/internal/debugger"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/managedreader"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/symbols"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Managed wraps a types.Session with its live, in-process handles. All
// debugger I/O for this session is serialized through mu, mirroring
// internal/debugger.Driver's own single-flight invariant one level up —
// this is the lock spec §5 calls "per-session lock".
type Managed struct {
	mu sync.Mutex

	info   types.Session
	Driver *debugger.Driver
	Reader managedreader.Reader

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// Info returns a copy of the session's persisted fields.
func (m *Managed) Info() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Lock/Unlock expose the per-session serialization lock to callers that
// need to hold it across a debugger or reader operation plus its
// bookkeeping (dispatch handlers, the AI loop).
func (m *Managed) Lock()   { m.mu.Lock() }
func (m *Managed) Unlock() { m.mu.Unlock() }

// registerCancel tracks an in-flight operation's cancel func, keyed by an
// opaque call id, so Close can cancel every in-flight call atomically.
func (m *Managed) registerCancel(callID string, cancel context.CancelFunc) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	if m.cancels == nil {
		m.cancels = make(map[string]context.CancelFunc)
	}
	m.cancels[callID] = cancel
}

func (m *Managed) unregisterCancel(callID string) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	delete(m.cancels, callID)
}

// WithCancel runs fn under a context that Close cancels if the session is
// torn down mid-call; fn's own return governs the normal in-flight/error
// path, matching spec §5's "complete or fail with Cancelled" guarantee.
func (m *Managed) WithCancel(ctx context.Context, callID string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	m.registerCancel(callID, cancel)
	defer func() {
		m.unregisterCancel(callID)
		cancel()
	}()
	return fn(callCtx)
}

func (m *Managed) cancelAll() {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = make(map[string]context.CancelFunc)
}

type sessionKey struct {
	UserID    string
	SessionID string
}

// Manager is the keyed map (userID, sessionID) -> Session spec §4.D
// describes, backed by file storage for persistence and restore.
type Manager struct {
	storage *storage.Storage
	bus     *event.Bus
	log     zerolog.Logger

	cfg types.Config

	mu     sync.RWMutex
	active map[sessionKey]*Managed

	stopSweep chan struct{}
}

// New constructs a Manager. Start must be called separately to begin the
// idle-eviction sweep.
func New(store *storage.Storage, bus *event.Bus, cfg types.Config, log zerolog.Logger) *Manager {
	return &Manager{
		storage: store,
		bus:     bus,
		cfg:     cfg,
		log:     log,
		active:  make(map[sessionKey]*Managed),
	}
}

// Create allocates a fresh session for userID, failing QuotaExceeded if
// the user's active session count is already at the configured limit.
func (mgr *Manager) Create(ctx context.Context, userID string) (string, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	limit := mgr.cfg.MaxSessionsPerUser
	if limit <= 0 {
		limit = types.DefaultConfig().MaxSessionsPerUser
	}
	count := 0
	for k := range mgr.active {
		if k.UserID == userID {
			count++
		}
	}
	if count >= limit {
		return "", apperr.Newf(apperr.QuotaExceeded, "user %s already has %d active sessions (limit %d)", userID, count, limit)
	}

	now := time.Now().UnixMilli()
	info := types.Session{
		ID:             ulid.Make().String(),
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
		DebuggerState:  types.DebuggerUninitialized,
	}

	key := sessionKey{UserID: userID, SessionID: info.ID}
	mgr.active[key] = &Managed{info: info}

	if err := mgr.persistLocked(ctx, &info); err != nil {
		delete(mgr.active, key)
		return "", err
	}

	mgr.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: headerPtr(info)},
	})
	mgr.log.Info().Str("sessionID", info.ID).Str("userID", userID).Msg("session created")
	return info.ID, nil
}

// Get returns the Managed session for (sessionID, userID), validating
// ownership. On an in-memory miss it attempts restore-from-disk before
// failing NotFound.
func (mgr *Manager) Get(ctx context.Context, sessionID, userID string) (*Managed, error) {
	key := sessionKey{UserID: userID, SessionID: sessionID}

	mgr.mu.RLock()
	m, ok := mgr.active[key]
	mgr.mu.RUnlock()
	if ok {
		return m, nil
	}

	var info types.Session
	if err := mgr.storage.Get(ctx, []string{"sessions", sessionID}, &info); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Newf(apperr.NotFound, "session %s not found", sessionID)
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to read persisted session", err)
	}
	if info.UserID != userID {
		return nil, apperr.New(apperr.Unauthorized, "session belongs to a different user")
	}

	// Restore never reopens the dump eagerly: DebuggerState resets to
	// Uninitialized and the next operation that needs the dump drives
	// open_dump itself, per spec §4.D.
	info.DebuggerState = types.DebuggerUninitialized
	info.ManagedReaderOpen = false

	mgr.mu.Lock()
	m, ok = mgr.active[key]
	if !ok {
		m = &Managed{info: info}
		mgr.active[key] = m
	}
	mgr.mu.Unlock()

	mgr.log.Info().Str("sessionID", sessionID).Msg("session restored from disk")
	return m, nil
}

// Touch refreshes a session's LastActivityAt, used by dispatch on every
// tool call so the eviction sweep sees recent activity.
func (mgr *Manager) Touch(ctx context.Context, sessionID, userID string) error {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.info.LastActivityAt = time.Now().UnixMilli()
	info := m.info
	m.mu.Unlock()
	return mgr.persistLocked(ctx, &info)
}

// Close cancels any in-flight operation on the session, closes its
// debugger and reader handles, removes persisted state, and drops it from
// the in-memory map. Racing in-flight calls observe Cancelled via
// Managed.WithCancel's context.
func (mgr *Manager) Close(ctx context.Context, sessionID, userID string) error {
	key := sessionKey{UserID: userID, SessionID: sessionID}

	mgr.mu.Lock()
	m, ok := mgr.active[key]
	delete(mgr.active, key)
	mgr.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.NotFound, "session %s not found", sessionID)
	}

	m.cancelAll()

	m.mu.Lock()
	if m.Driver != nil {
		m.Driver.Close()
	}
	if m.Reader != nil {
		m.Reader.Close()
	}
	m.mu.Unlock()

	if err := mgr.storage.Delete(ctx, []string{"sessions", sessionID}); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.Internal, "failed to delete persisted session", err)
	}

	mgr.bus.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{SessionID: sessionID},
	})
	mgr.log.Info().Str("sessionID", sessionID).Msg("session closed")
	return nil
}

// List returns the session headers owned by userID.
func (mgr *Manager) List(ctx context.Context, userID string) ([]types.SessionHeader, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	var headers []types.SessionHeader
	for k, m := range mgr.active {
		if k.UserID != userID {
			continue
		}
		m.mu.Lock()
		dumpFileName := ""
		header := m.info.Header(dumpFileName)
		m.mu.Unlock()
		headers = append(headers, header)
	}
	return headers, nil
}

// ListPersisted scans every persisted session record for userID, unlike
// List (which only sees sessions currently held in-memory by this process).
// Used by the operator CLI, which inspects a storage tree without starting
// a live service around it.
func (mgr *Manager) ListPersisted(ctx context.Context, userID string) ([]types.SessionHeader, error) {
	var headers []types.SessionHeader
	err := mgr.storage.Scan(ctx, []string{"sessions"}, func(key string, data json.RawMessage) error {
		var info types.Session
		if err := json.Unmarshal(data, &info); err != nil {
			return nil
		}
		if info.UserID != userID {
			return nil
		}
		headers = append(headers, info.Header(""))
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to scan persisted sessions", err)
	}
	return headers, nil
}

// Persist idempotently snapshots sessionID's in-memory state to disk.
func (mgr *Manager) Persist(ctx context.Context, sessionID, userID string) error {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	info := m.Info()
	return mgr.persistLocked(ctx, &info)
}

func (mgr *Manager) persistLocked(ctx context.Context, info *types.Session) error {
	if err := mgr.storage.Put(ctx, []string{"sessions", info.ID}, info); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist session", err)
	}
	return nil
}

func headerPtr(s types.Session) *types.SessionHeader {
	h := s.Header("")
	return &h
}

// Start launches the idle-eviction sweep, ticking every interval and
// closing sessions whose LastActivityAt is older than idleTimeout. The
// ticker is owned by the caller's process lifetime (typically
// cmd/dumpserver's main), not per-session, following the single
// heartbeat-ticker pattern internal/server/sse.go uses for SSE keepalives.
func (mgr *Manager) Start(ctx context.Context, interval, idleTimeout time.Duration) {
	mgr.stopSweep = make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-mgr.stopSweep:
				return
			case <-ticker.C:
				mgr.sweep(ctx, idleTimeout)
			}
		}
	}()
}

// Stop halts the eviction sweep started by Start.
func (mgr *Manager) Stop() {
	if mgr.stopSweep != nil {
		close(mgr.stopSweep)
	}
}

func (mgr *Manager) sweep(ctx context.Context, idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout).UnixMilli()

	mgr.mu.RLock()
	var expired []sessionKey
	for k, m := range mgr.active {
		m.mu.Lock()
		idle := m.info.LastActivityAt < cutoff
		m.mu.Unlock()
		if idle {
			expired = append(expired, k)
		}
	}
	mgr.mu.RUnlock()

	for _, k := range expired {
		if err := mgr.Close(ctx, k.SessionID, k.UserID); err != nil {
			mgr.log.Warn().Err(err).Str("sessionID", k.SessionID).Msg("eviction sweep failed to close session")
		} else {
			mgr.log.Info().Str("sessionID", k.SessionID).Msg("session evicted for idleness")
		}
	}
}

// OpenDump opens dump on sessionID's debugger instance, replacing any
// previously open dump — the "at-most-one open dump" invariant from spec §8.
// It lazily constructs and initializes the session's Driver on first use,
// reopens the managed-metadata Reader if the dump has a CLR module, and
// applies debuggerPath as the configured symbol search path before
// returning the debugger's own open-dump output text.
func (mgr *Manager) OpenDump(ctx context.Context, sessionID, userID string, dump types.Dump, symbolPolicy types.SymbolPolicy, debuggerPath string, readerCfg managedreader.Config) (openOutput string, isDotNet bool, err error) {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Driver == nil {
		driver, derr := debugger.New(mgr.cfg.Debugger, mgr.log)
		if derr != nil {
			return "", false, apperr.Wrap(apperr.DebuggerUnavailable, "failed to construct debugger driver", derr)
		}
		m.Driver = driver
	}
	if m.Driver.State() == types.DebuggerUninitialized {
		if ierr := m.Driver.Initialize(ctx); ierr != nil {
			return "", false, ierr
		}
	}

	if m.Reader != nil {
		m.Reader.Close()
		m.Reader = nil
	}

	execPath := ""
	if dump.ExecutablePath != nil {
		execPath = *dump.ExecutablePath
	}
	out, err := m.Driver.OpenDump(ctx, dump.Path, execPath)
	if err != nil {
		return "", false, err
	}

	isDotNet = m.Driver.IsDotNet()
	if cerr := m.Driver.ConfigureSymbolPath(ctx, debuggerPath); cerr != nil {
		mgr.log.Warn().Err(cerr).Msg("configure symbol path failed after open_dump")
	}

	if isDotNet {
		reader, rerr := managedreader.Open(ctx, dump.Path, true, symbolPolicy.SearchPaths, readerCfg)
		if rerr != nil {
			mgr.log.Warn().Err(rerr).Msg("managed-metadata reader open failed; continuing with debugger only")
		} else {
			m.Reader = reader
		}
	}

	dumpID := dump.ID
	m.info.CurrentDumpID = &dumpID
	m.info.DebuggerState = types.DebuggerDumpOpen
	m.info.ManagedReaderOpen = m.Reader != nil
	m.info.SymbolPolicy = symbolPolicy
	m.info.SourceLinkResolverOK = false
	m.info.CachedReportKey = nil
	info := m.info

	if perr := mgr.persistLocked(ctx, &info); perr != nil {
		return out, isDotNet, perr
	}
	return out, isDotNet, nil
}

// CloseDump closes sessionID's currently open dump, if any, tearing down the
// managed-metadata reader alongside the debugger's own dump handle.
func (mgr *Manager) CloseDump(ctx context.Context, sessionID, userID string) error {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Driver != nil {
		if err := m.Driver.CloseDump(ctx); err != nil {
			return err
		}
	}
	if m.Reader != nil {
		m.Reader.Close()
		m.Reader = nil
	}

	m.info.CurrentDumpID = nil
	m.info.DebuggerState = types.DebuggerDumpClosed
	m.info.ManagedReaderOpen = false
	m.info.CachedReportKey = nil
	info := m.info
	return mgr.persistLocked(ctx, &info)
}

// ConfigureSymbols runs the symbol policy engine for this session's dump
// and clears the session's command cache, source-link resolver flag, and
// cached report key after every call, whether or not the search path
// changed — covering the cross-cutting invalidation spec §4.C requires of
// every symbol-path change.
func (mgr *Manager) ConfigureSymbols(ctx context.Context, sessionID, userID string, engine *symbols.Engine, dumpID string, extra []string) (types.SymbolPolicy, error) {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return types.SymbolPolicy{}, err
	}

	policy, err := engine.Configure(ctx, userID, dumpID, extra)
	if err != nil {
		return types.SymbolPolicy{}, apperr.Wrap(apperr.Internal, "symbol policy configure failed", err)
	}

	m.mu.Lock()
	m.info.SymbolPolicy = policy
	m.info.SourceLinkResolverOK = false
	m.info.CachedReportKey = nil
	if m.Driver != nil {
		m.Driver.ClearCommandCache()
	}
	info := m.info
	m.mu.Unlock()

	return policy, mgr.persistLocked(ctx, &info)
}

// MarkSourceLinkResolverOK records whether sessionID's source-link resolver
// successfully resolved at least one source location, so subsequent
// sourcelink tool calls can report resolver health without re-resolving.
func (mgr *Manager) MarkSourceLinkResolverOK(ctx context.Context, sessionID, userID string, ok bool) error {
	m, err := mgr.Get(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.info.SourceLinkResolverOK = ok
	info := m.info
	m.mu.Unlock()

	return mgr.persistLocked(ctx, &info)
}
