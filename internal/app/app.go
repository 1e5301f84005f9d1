// Package app assembles the process: configuration, engine, resolver, the
// protocol server, the disk watcher, and the observability side server.
package app

import (
	"context"

	"github.com/tliron/commonlog"
	"golang.org/x/time/rate"

	"msls/internal/analysis"
	"msls/internal/config"
	"msls/internal/document"
	"msls/internal/engine/msl"
	"msls/internal/lsp"
	"msls/internal/modgraph"
	"msls/internal/resolver"
	"msls/internal/scheduler"
	"msls/internal/shared/observability"
	"msls/internal/symbols"
	"msls/internal/watcher"
)

type App struct {
	Config *config.Config
	Server *lsp.Server

	store *document.Store
	graph *modgraph.Graph
	cache *analysis.Cache

	watcher         *watcher.Watcher
	obsServer       *observability.Server
	tracingShutdown func(context.Context) error
	log             commonlog.Logger
}

func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	a := &App{
		Config: cfg,
		log:    commonlog.GetLogger("msls.app"),
	}

	store := document.NewStore()
	sources := document.NewSources()
	graph := modgraph.NewGraph()
	cache := analysis.NewCache(cfg.Analysis.CacheCapacity)
	index := symbols.NewIndex()
	a.store = store
	a.graph = graph
	a.cache = cache

	res, err := resolver.New(sources, cfg.SearchPaths, cfg.Exclude.Paths)
	if err != nil {
		return nil, err
	}

	a.Server = lsp.New(lsp.Options{
		Version:                version,
		DiagnosticEndExclusive: cfg.Server.DiagnosticEndExclusive,
		Scheduler: scheduler.Options{
			Debounce:        cfg.Analysis.Debounce,
			AnalysisTimeout: cfg.Analysis.Timeout,
			Workers:         cfg.Analysis.Workers,
			EngineRate:      rate.Limit(cfg.Engine.RatePerSecond),
			EngineBurst:     cfg.Engine.Burst,
		},
	}, msl.New(), res, store, sources, graph, cache, index)

	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Watch.Debounce, cfg.Exclude.Dirs, a.Server.Scheduler())
		if err != nil {
			return nil, err
		}
		a.watcher = w
	}

	if cfg.Telemetry.MetricsAddr != "" {
		a.obsServer = observability.NewServer(cfg.Telemetry.MetricsAddr, a.healthStatus)
	}

	shutdown, err := observability.InitTracing(ctx, "msls", version, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.tracingShutdown = shutdown

	return a, nil
}

func (a *App) healthStatus(ctx context.Context) observability.HealthStatus {
	return observability.HealthStatus{
		Status:        "up",
		OpenDocuments: len(a.store.List()),
		GraphModules:  a.graph.ModuleCount(),
		CacheEntries:  a.cache.Len(),
	}
}

// Run starts the side services and blocks serving the LSP transport.
func (a *App) Run(ctx context.Context) error {
	if a.obsServer != nil {
		if err := a.obsServer.Start(ctx); err != nil {
			return err
		}
	}
	if a.watcher != nil {
		if err := a.watcher.Watch(a.Config.SearchPaths); err != nil {
			return err
		}
	}

	if addr := a.Config.Server.TCPAddr; addr != "" {
		a.log.Noticef("serving LSP on tcp %s", addr)
		return a.Server.RunTCP(addr)
	}
	a.log.Notice("serving LSP on stdio")
	return a.Server.RunStdio()
}

func (a *App) Shutdown(ctx context.Context) {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.log.Warningf("watcher close: %v", err)
		}
	}
	a.Server.Shutdown()
	if a.obsServer != nil {
		if err := a.obsServer.Stop(ctx); err != nil {
			a.log.Warningf("observability server stop: %v", err)
		}
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.log.Warningf("tracing shutdown: %v", err)
		}
	}
}
