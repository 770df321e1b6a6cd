package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/opencode/internal/ailoop"
	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/dispatch"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/httpapi"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/managedreader"
	"github.com/opencode-ai/opencode/internal/mcpclient"
	"github.com/opencode-ai/opencode/internal/obs"
	"github.com/opencode-ai/opencode/internal/report"
	"github.com/opencode-ai/opencode/internal/rpc"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/symbols"
	"github.com/opencode-ai/opencode/internal/watch"
	"github.com/opencode-ai/opencode/pkg/types"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dumpserver HTTP+SSE service",
	Long: `Start dumpserver as a long-running service exposing the MCP
JSON-RPC+SSE transport and the dump/symbol upload REST endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory to load project config/.env from")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting dumpserver")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appCfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	log := logging.Logger

	shutdownTracing, err := obs.InitTracerProvider(context.Background(), "dumpserver")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown error")
		}
	}()

	store := storage.New(appCfg.StorageRoot)
	bus := event.NewBus()
	sessions := session.New(store, bus, *appCfg, log)
	sessions.Start(context.Background(), time.Minute, time.Duration(appCfg.IdleTimeoutSeconds)*time.Second)

	symbolEngine := symbols.New(appCfg.StorageRoot, appCfg.Symbols)

	reportStore := report.New(buildReportCache(appCfg, store))

	watchStore := watch.New(store, func(userID, dumpID string) {
		reportStore.InvalidateOnWatchChange(context.Background(), userID, dumpID)
	})

	readerCfg := managedreader.Config{
		HelperCommand:     appCfg.ManagedReader.HelperCommand,
		HelperPath:        appCfg.ManagedReader.HelperPath,
		RequestTimeoutSec: appCfg.ManagedReader.RequestTimeoutSec,
	}

	registry := dispatch.NewRegistry(log)
	rpcServer := rpc.NewServer(registry, rpc.FromRPCConfig(appCfg.RPC), log)

	ledgerStore := buildLedgerStore(appCfg, store)
	aiRunner := ailoop.NewRunner(reportStore, ledgerStore, rpcServer, appCfg.AI, log)

	registry.Register(dispatch.NewSessionTool(sessions))
	registry.Register(dispatch.NewDumpTool(sessions, store, symbolEngine, readerCfg, appCfg.Debugger.Backend, log))
	registry.Register(dispatch.NewExecTool(sessions))
	registry.Register(dispatch.NewInspectTool(sessions))
	registry.Register(dispatch.NewReportTool(sessions, reportStore, watchStore))
	registry.Register(dispatch.NewWatchTool(sessions, watchStore))
	registry.Register(dispatch.NewSymbolsTool(sessions, symbolEngine))
	registry.Register(dispatch.NewSourceLinkTool(sessions))
	registry.Register(dispatch.NewCompareTool(reportStore))
	var datadogSession *sdkmcp.ClientSession
	if appCfg.DatadogSymbolsEnabled {
		datadogSession, err = mcpclient.Connect(context.Background(), appCfg.DatadogMCP)
		if err != nil {
			log.Warn().Err(err).Msg("datadog mcp server unreachable, datadog_symbols tool disabled")
		}
	}
	registry.Register(dispatch.NewDatadogSymbolsTool(sessions, symbolEngine, datadogSession))
	registry.Register(dispatch.NewAnalyzeTool(sessions, aiRunner))

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Port = servePort

	srv := httpapi.New(httpCfg, *appCfg, sessions, reportStore, watchStore, symbolEngine, store, rpcServer, log)

	go func() {
		logging.Info().Int("port", servePort).Msg("listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	sessions.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("stopped")
	return nil
}

func buildReportCache(cfg *types.Config, store *storage.Storage) report.Cache {
	if cfg.Report.Backend == "redis" && cfg.Report.RedisURL != "" {
		return report.NewRedisCache(cfg.Report.RedisURL)
	}
	return report.NewFileCache(store)
}

func buildLedgerStore(cfg *types.Config, store *storage.Storage) ailoop.LedgerStore {
	if cfg.Report.Backend == "redis" && cfg.Report.RedisURL != "" {
		return ailoop.NewRedisLedgerStore(cfg.Report.RedisURL)
	}
	return ailoop.NewFileLedgerStore(store)
}
