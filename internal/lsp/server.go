// Package lsp is the protocol surface: it adapts editor requests onto the
// document store, the scheduler, and the symbol index, and streams
// diagnostics back to the client.
package lsp

import (
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"msls/internal/analysis"
	"msls/internal/core/ports"
	"msls/internal/document"
	"msls/internal/engine"
	"msls/internal/modgraph"
	"msls/internal/scheduler"
	"msls/internal/symbols"
	"msls/internal/text"
)

const serverName = "msls"

// Options carries the protocol-facing knobs.
type Options struct {
	Version string
	// DiagnosticEndExclusive controls whether published ranges end one past
	// the last byte (standard) or on it (for clients that render exclusive
	// ends poorly).
	DiagnosticEndExclusive bool
	Scheduler              scheduler.Options
}

type Server struct {
	opts    Options
	handler protocol.Handler
	glspSrv *glspserver.Server
	log     commonlog.Logger

	store   *document.Store
	sources *document.Sources
	texts   *document.TextSource
	graph   *modgraph.Graph
	cache   *analysis.Cache
	index   *symbols.Index
	sched   *scheduler.Scheduler
	pending *pendingRequests

	rootPath string

	notifyMu sync.Mutex
	notify   glsp.NotifyFunc
}

func New(opts Options, eng ports.SourceEngine, res ports.ModuleResolver,
	store *document.Store, sources *document.Sources, graph *modgraph.Graph,
	cache *analysis.Cache, index *symbols.Index) *Server {
	s := &Server{
		opts:    opts,
		log:     commonlog.GetLogger("msls.lsp"),
		store:   store,
		sources: sources,
		texts:   document.NewTextSource(store, sources),
		graph:   graph,
		cache:   cache,
		index:   index,
		pending: newPendingRequests(),
	}
	s.sched = scheduler.New(opts.Scheduler, store, sources, graph, cache, eng, res, index, s.publishDiagnostics)

	s.handler = protocol.Handler{
		Initialize:                     s.initialize,
		Initialized:                    s.initialized,
		Shutdown:                       s.shutdown,
		SetTrace:                       s.setTrace,
		CancelRequest:                  s.cancelRequest,
		TextDocumentDidOpen:            s.textDocumentDidOpen,
		TextDocumentDidChange:          s.textDocumentDidChange,
		TextDocumentDidClose:           s.textDocumentDidClose,
		TextDocumentHover:              s.textDocumentHover,
		TextDocumentDefinition:         s.textDocumentDefinition,
		TextDocumentReferences:         s.textDocumentReferences,
		TextDocumentRename:             s.textDocumentRename,
		WorkspaceDidChangeWatchedFiles: s.workspaceDidChangeWatchedFiles,
	}
	s.glspSrv = glspserver.NewServer(&s.handler, serverName, false)
	return s
}

// Scheduler exposes the analysis scheduler for the disk watcher.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.sched
}

func (s *Server) RunStdio() error {
	return s.glspSrv.RunStdio()
}

func (s *Server) RunTCP(addr string) error {
	return s.glspSrv.RunTCP(addr)
}

func (s *Server) Shutdown() {
	s.pending.cancelAll()
	s.sched.Shutdown()
}

// captureNotify stores the notification channel for async publishes: the
// scheduler finishes analyses on its own goroutines, long after the
// triggering request returned.
func (s *Server) captureNotify(ctx *glsp.Context) {
	if ctx == nil || ctx.Notify == nil {
		return
	}
	s.notifyMu.Lock()
	s.notify = ctx.Notify
	s.notifyMu.Unlock()
}

// publishDiagnostics is the scheduler's publish hook.
func (s *Server) publishDiagnostics(uri string, version int32, diags []engine.Diagnostic) {
	s.notifyMu.Lock()
	notify := s.notify
	s.notifyMu.Unlock()
	if notify == nil {
		return
	}

	doc, ok := s.store.Get(uri)
	if !ok {
		return
	}
	mapper := text.NewMapper(doc.Text)
	v := protocol.UInteger(version)
	notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     &v,
		Diagnostics: toProtocolDiagnostics(mapper, diags, s.opts.DiagnosticEndExclusive),
	})
}

// clearDiagnostics empties the client's diagnostics for a closed document.
func (s *Server) clearDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri) {
	if ctx == nil || ctx.Notify == nil {
		return
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
}
