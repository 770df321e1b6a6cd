// Package httpapi exposes the service's external HTTP surface: the MCP
// JSON-RPC+SSE transport endpoints, the dump/symbol upload REST endpoints,
// and the liveness/capabilities endpoints — following the teacher's
// internal/server package shape (chi router, one setup* method per
// concern, Start/Shutdown/Router lifecycle) generalized to this domain's
// much smaller route table.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/report"
	"github.com/opencode-ai/opencode/internal/rpc"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/symbols"
	"github.com/opencode-ai/opencode/internal/watch"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Version is the service's release version, surfaced by GET /info.
const Version = "0.1.0"

// Config holds server-level HTTP concerns — everything that isn't already
// owned by one of the domain collaborators Server wires together.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's server.DefaultConfig, with no write
// timeout since /mcp/sse holds its connection open indefinitely.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}
}

// Server wires every domain collaborator into chi routes and owns the
// underlying *http.Server's lifecycle.
type Server struct {
	cfg    Config
	appCfg types.Config
	router *chi.Mux
	httpSrv *http.Server
	log    zerolog.Logger

	sessions *session.Manager
	reports  *report.Store
	watches  *watch.Store
	symbols  *symbols.Engine
	storage  *storage.Storage
	rpc      *rpc.Server
}

// New constructs a Server. Every argument is a previously-constructed
// collaborator; New only builds the router on top of them.
func New(cfg Config, appCfg types.Config, sessions *session.Manager, reports *report.Store, watches *watch.Store, symbolEngine *symbols.Engine, store *storage.Storage, rpcServer *rpc.Server, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		appCfg:   appCfg,
		router:   chi.NewRouter(),
		log:      log,
		sessions: sessions,
		reports:  reports,
		watches:  watches,
		symbols:  symbolEngine,
		storage:  store,
		rpc:      rpcServer,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-API-Key"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.apiKeyAuth)
}

// apiKeyAuth enforces spec §6's "optional X-API-Key header" contract: when
// Config.APIKey is unset, authentication is skipped entirely; when set,
// every request must carry a matching header or the request is rejected
// before it reaches a handler. /health is always exempt so liveness checks
// never need the key.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.appCfg.APIKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.appCfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid X-API-Key header", Code: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP on Config.Port. Blocks until Shutdown closes
// the listener, like net/http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests, including open SSE
// streams, until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the underlying chi.Mux for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
