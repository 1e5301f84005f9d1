// Package scheduler turns document events into analysis runs: it debounces
// edits, coalesces bursts, bounds concurrency, and publishes diagnostics in
// version order. One analysis at a time per module; newer versions supersede
// older in-flight runs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/time/rate"

	"msls/internal/analysis"
	"msls/internal/core/ports"
	"msls/internal/document"
	"msls/internal/engine"
	"msls/internal/modgraph"
	"msls/internal/shared/observability"
	"msls/internal/symbols"
)

type Options struct {
	Debounce        time.Duration
	AnalysisTimeout time.Duration
	Workers         int
	EngineRate      rate.Limit
	EngineBurst     int
}

func (o *Options) applyDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 10 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.EngineRate <= 0 {
		o.EngineRate = 50
	}
	if o.EngineBurst <= 0 {
		o.EngineBurst = 10
	}
}

// PublishFunc delivers one module's diagnostics to the client. uri is empty
// for modules that are not open in the editor.
type PublishFunc func(uri string, version int32, diags []engine.Diagnostic)

// docState is the per-module scheduling state. generation increments on every
// (re)schedule; a run whose generation is no longer current never publishes.
type docState struct {
	module     string
	uri        string
	timer      *time.Timer
	generation uint64
	cancel     context.CancelFunc
}

type Scheduler struct {
	opts     Options
	store    *document.Store
	sources  *document.Sources
	texts    ports.TextSource
	graph    *modgraph.Graph
	cache    *analysis.Cache
	engine   ports.SourceEngine
	resolver ports.ModuleResolver
	index    *symbols.Index
	publish  PublishFunc
	limiter  *rate.Limiter
	workers  chan struct{}
	log      commonlog.Logger

	mu            sync.Mutex
	docs          map[string]*docState
	lastPublished map[string]int32
	closed        bool
	wg            sync.WaitGroup
}

func New(opts Options, store *document.Store, sources *document.Sources, graph *modgraph.Graph,
	cache *analysis.Cache, eng ports.SourceEngine, res ports.ModuleResolver,
	index *symbols.Index, publish PublishFunc) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		opts:          opts,
		store:         store,
		sources:       sources,
		texts:         document.NewTextSource(store, sources),
		graph:         graph,
		cache:         cache,
		engine:        eng,
		resolver:      res,
		index:         index,
		publish:       publish,
		limiter:       rate.NewLimiter(opts.EngineRate, opts.EngineBurst),
		workers:       make(chan struct{}, opts.Workers),
		log:           commonlog.GetLogger("msls.scheduler"),
		docs:          make(map[string]*docState),
		lastPublished: make(map[string]int32),
	}
}

// DocumentOpened registers the buffer, analyzes it immediately, and
// reschedules open importers: a module appearing can clear their
// unresolved-import diagnostics.
func (s *Scheduler) DocumentOpened(doc *document.Document) {
	s.sources.SetOpen(doc.Module, doc.URI)
	s.cache.Pin(doc.Module)
	s.cache.MarkStale([]string{doc.Module})
	observability.OpenDocuments.Set(float64(len(s.store.List())))

	affected := s.graph.AffectedBy(doc.Module)
	s.cache.MarkStale(affected)
	s.schedule(doc.Module, doc.URI, 0)
	s.scheduleOpenDependents(doc.Module, affected, 0)
}

// DocumentChanged invalidates the edited module and its transitive importers
// and schedules re-analysis after the debounce window. Rapid edits keep
// pushing the window; only the last state is analyzed.
func (s *Scheduler) DocumentChanged(doc *document.Document) {
	affected := s.graph.AffectedBy(doc.Module)
	s.cache.MarkStale(affected)
	s.schedule(doc.Module, doc.URI, s.opts.Debounce)
	s.scheduleOpenDependents(doc.Module, affected, s.opts.Debounce)
}

// DocumentClosed cancels pending work for the module. If the module also
// exists on disk it keeps resolving for importers; otherwise it disappears
// and importers are re-analyzed to surface the missing import.
func (s *Scheduler) DocumentClosed(uri string) {
	module, ok := s.sources.CloseOpen(uri)
	if !ok {
		return
	}
	s.cache.Unpin(module)
	observability.OpenDocuments.Set(float64(len(s.store.List())))

	s.mu.Lock()
	if state, ok := s.docs[module]; ok {
		state.generation++
		if state.timer != nil {
			state.timer.Stop()
		}
		if state.cancel != nil {
			state.cancel()
		}
		delete(s.docs, module)
	}
	delete(s.lastPublished, module)
	s.mu.Unlock()

	affected := s.graph.AffectedBy(module)
	if _, stillKnown := s.sources.Get(module); !stillKnown {
		s.graph.Remove(module)
		s.cache.Evict(module)
		s.index.RemoveModule(module)
	} else {
		s.cache.MarkStale([]string{module})
	}
	s.cache.MarkStale(affected)
	s.scheduleOpenDependents(module, affected, 0)
}

// FileChanged reacts to an on-disk edit of a module that is not open in the
// editor. Open buffers shadow disk, so events for open modules are ignored.
func (s *Scheduler) FileChanged(path string) {
	module, ok := s.sources.ModuleForPath(path)
	if !ok {
		return
	}
	if src, ok := s.sources.Get(module); ok && src.Open {
		return
	}
	s.cache.Evict(module)
	affected := s.graph.AffectedBy(module)
	s.cache.MarkStale(affected)
	s.scheduleOpenDependents(module, affected, s.opts.Debounce)
}

// FileRemoved drops a disk module entirely.
func (s *Scheduler) FileRemoved(path string) {
	module, ok := s.sources.ModuleForPath(path)
	if !ok {
		return
	}
	if src, ok := s.sources.Get(module); ok && src.Open {
		return
	}
	s.sources.Remove(module)
	s.graph.Remove(module)
	s.cache.Evict(module)
	s.index.RemoveModule(module)
	affected := s.graph.AffectedBy(module)
	s.cache.MarkStale(affected)
	s.scheduleOpenDependents(module, affected, 0)
}

// scheduleOpenDependents queues re-analysis for every open module in affected
// except origin itself, in dependency order.
func (s *Scheduler) scheduleOpenDependents(origin string, affected []string, delay time.Duration) {
	for _, m := range s.graph.TopoOrder(affected) {
		if m == origin {
			continue
		}
		if doc, ok := s.store.GetByModule(m); ok {
			s.schedule(m, doc.URI, delay)
		}
	}
}

func (s *Scheduler) schedule(module, uri string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	state, ok := s.docs[module]
	if !ok {
		state = &docState{module: module}
		s.docs[module] = state
	}
	state.uri = uri
	state.generation++
	gen := state.generation

	if state.timer != nil {
		state.timer.Stop()
	}
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
		observability.AnalysesCancelledTotal.Inc()
	}

	state.timer = time.AfterFunc(delay, func() {
		s.runScheduled(module, gen)
	})
}

func (s *Scheduler) runScheduled(module string, gen uint64) {
	s.mu.Lock()
	state, ok := s.docs[module]
	if !ok || state.generation != gen || s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AnalysisTimeout)
	state.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.recoverAnalysis(module, gen)

		select {
		case s.workers <- struct{}{}:
			defer func() { <-s.workers }()
		case <-ctx.Done():
			s.finishAnalysis(module, gen, nil, ctx.Err(), ctx.Err())
			return
		}

		start := time.Now()
		res, err := s.ensureAnalyzed(ctx, module, make(map[string]bool))
		outcome := "ok"
		switch {
		case errors.Is(err, context.Canceled) || (err != nil && errors.Is(ctx.Err(), context.Canceled)):
			outcome = "cancelled"
		case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		observability.AnalysisDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		s.finishAnalysis(module, gen, res, err, ctx.Err())
	}()
}

// finishAnalysis publishes the outcome if this run is still the current one.
// ctxErr is the run context's state at completion; errors surfacing through
// intermediaries (the rate limiter, singleflight) need not be the context's
// own sentinel values, so both are consulted.
func (s *Scheduler) finishAnalysis(module string, gen uint64, res *analysis.Result, err, ctxErr error) {
	s.mu.Lock()
	state, ok := s.docs[module]
	current := ok && state.generation == gen
	if current {
		state.cancel = nil
	}
	s.mu.Unlock()
	if !current {
		if err == nil || errors.Is(err, context.Canceled) {
			observability.AnalysesCancelledTotal.Inc()
		}
		return
	}

	switch {
	case err == nil && res != nil:
		s.publishDiagnostics(module, res.Diagnostics)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		observability.AnalysisTimeoutsTotal.Inc()
		s.log.Warningf("analysis of %s timed out", module)
		s.publishDiagnostics(module, []engine.Diagnostic{{
			Kind:     engine.KindAnalysisTimeout,
			Severity: engine.SeverityWarning,
			Message:  "analysis did not finish within the configured deadline; results may be stale",
		}})
	case errors.Is(err, context.Canceled) || errors.Is(ctxErr, context.Canceled):
		// superseded by a newer edit, stay quiet
	default:
		s.log.Errorf("analysis of %s failed: %v", module, err)
	}
}

// recoverAnalysis converts an engine panic into a diagnostic instead of
// taking the server down.
func (s *Scheduler) recoverAnalysis(module string, gen uint64) {
	r := recover()
	if r == nil {
		return
	}
	s.log.Criticalf("panic analyzing %s: %v", module, r)
	s.mu.Lock()
	state, ok := s.docs[module]
	current := ok && state.generation == gen
	s.mu.Unlock()
	if current {
		s.publishDiagnostics(module, []engine.Diagnostic{{
			Kind:     engine.KindInternalError,
			Severity: engine.SeverityError,
			Message:  "internal analysis failure; please report this",
		}})
	}
}

// publishDiagnostics sends diagnostics for the module's current document
// version, enforcing monotonic publish order.
func (s *Scheduler) publishDiagnostics(module string, diags []engine.Diagnostic) {
	doc, ok := s.store.GetByModule(module)
	if !ok {
		return // not open, nothing to publish to
	}

	s.mu.Lock()
	if last, ok := s.lastPublished[module]; ok && doc.Version < last {
		s.mu.Unlock()
		return
	}
	s.lastPublished[module] = doc.Version
	s.mu.Unlock()

	if s.publish != nil {
		s.publish(doc.URI, doc.Version, diags)
		observability.DiagnosticsPublishedTotal.Inc()
	}
}

// EnsureAnalyzed analyzes the module synchronously, bypassing the debounce.
// Navigation requests use it when no servable cached result exists.
func (s *Scheduler) EnsureAnalyzed(ctx context.Context, module string) (*analysis.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.AnalysisTimeout)
	defer cancel()
	return s.ensureAnalyzed(ctx, module, make(map[string]bool))
}

// Peek returns the newest cached result, stale or not.
func (s *Scheduler) Peek(module string) (*analysis.Result, bool) {
	res, _, ok := s.cache.Peek(module)
	return res, ok
}

// Flush waits for in-flight analyses to finish. Pending debounce timers are
// not awaited; tests drive those explicitly.
func (s *Scheduler) Flush() {
	s.wg.Wait()
}

func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, state := range s.docs {
		state.generation++
		if state.timer != nil {
			state.timer.Stop()
		}
		if state.cancel != nil {
			state.cancel()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
