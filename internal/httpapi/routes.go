package httpapi

import (
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes() {
	s.router.Get("/mcp/sse", s.rpc.ServeSSE)
	s.router.Post("/mcp/message", s.rpc.ServeMessage)

	s.router.Route("/api/dumps", func(r chi.Router) {
		r.Post("/upload", s.handleDumpUpload)
		r.Get("/user/{userID}", s.handleDumpList)
		r.Get("/{userID}/{dumpID}", s.handleDumpGet)
		r.Delete("/{userID}/{dumpID}", s.handleDumpDelete)
	})

	s.router.Route("/api/symbols", func(r chi.Router) {
		r.Post("/upload", s.handleSymbolUpload)
		r.Post("/upload-zip", s.handleSymbolUploadZip)
		r.Get("/dump/{dumpID}", s.handleSymbolList)
	})

	s.router.Get("/api/server/capabilities", s.handleCapabilities)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/info", s.handleInfo)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "dumpserver",
		"version": Version,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"platform":          runtime.GOOS,
		"architecture":      runtime.GOARCH,
		"debuggerBackend":   s.appCfg.Debugger.Backend,
		"datadogSymbols":    s.appCfg.DatadogSymbolsEnabled,
		"maxSessionsPerUser": s.appCfg.MaxSessionsPerUser,
	})
}
