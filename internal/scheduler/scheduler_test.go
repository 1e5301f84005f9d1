package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"msls/internal/analysis"
	"msls/internal/core/ports"
	"msls/internal/document"
	"msls/internal/engine"
	"msls/internal/engine/msl"
	"msls/internal/modgraph"
	"msls/internal/resolver"
	"msls/internal/symbols"
)

type publishRec struct {
	uri     string
	version int32
	diags   []engine.Diagnostic
}

type capture struct {
	mu   sync.Mutex
	recs []publishRec
}

func (c *capture) fn(uri string, version int32, diags []engine.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, publishRec{uri: uri, version: version, diags: diags})
}

func (c *capture) lastFor(uri string) (publishRec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.recs) - 1; i >= 0; i-- {
		if c.recs[i].uri == uri {
			return c.recs[i], true
		}
	}
	return publishRec{}, false
}

func (c *capture) all() []publishRec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishRec(nil), c.recs...)
}

type harness struct {
	sched   *Scheduler
	store   *document.Store
	sources *document.Sources
	pub     *capture
}

func newHarness(t *testing.T, opts Options, eng ports.SourceEngine) *harness {
	t.Helper()
	store := document.NewStore()
	sources := document.NewSources()
	res, err := resolver.New(sources, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if eng == nil {
		eng = msl.New()
	}
	pub := &capture{}
	sched := New(opts, store, sources, modgraph.NewGraph(), analysis.NewCache(64),
		eng, res, symbols.NewIndex(), pub.fn)
	t.Cleanup(sched.Shutdown)
	return &harness{sched: sched, store: store, sources: sources, pub: pub}
}

func (h *harness) open(uri, module, text string) *document.Document {
	doc := h.store.Open(uri, module, text, 1, "")
	h.sched.DocumentOpened(doc)
	return doc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasKind(diags []engine.Diagnostic, kind engine.DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func TestScheduler_PublishesOnOpen(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.open("file:///m1.msl", "m1", "module m1\nvar x: Widget")

	waitFor(t, "diagnostics for m1", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && hasKind(rec.diags, engine.KindTypeError)
	})
}

func TestScheduler_UnresolvedImportClearsWhenDependencyOpens(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.open("file:///m1.msl", "m1", "module m1\nimport m2\nvar x: m2.Celsius")

	waitFor(t, "resolution error in m1", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && hasKind(rec.diags, engine.KindResolutionError)
	})

	// Opening the missing dependency must re-analyze m1 unprompted and clear
	// its diagnostics.
	h.open("file:///m2.msl", "m2", "module m2\ntype Celsius = Real")

	waitFor(t, "clean diagnostics for m1", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && len(rec.diags) == 0
	})
}

func TestScheduler_CoalescesAndPublishesInVersionOrder(t *testing.T) {
	h := newHarness(t, Options{Debounce: 30 * time.Millisecond}, nil)
	doc := h.open("file:///m1.msl", "m1", "module m1")

	waitFor(t, "initial publish", func() bool {
		_, ok := h.pub.lastFor(doc.URI)
		return ok
	})

	texts := []string{
		"module m1\nvar a: Int",
		"module m1\nvar a: Int\nvar b: Int",
		"module m1\nvar a: Int\nvar b: Widget",
	}
	for i, text := range texts {
		updated, err := h.store.Change(doc.URI, []document.Edit{{Full: true, Text: text}}, int32(i+2))
		if err != nil {
			t.Fatal(err)
		}
		h.sched.DocumentChanged(updated)
	}

	waitFor(t, "final version published", func() bool {
		rec, ok := h.pub.lastFor(doc.URI)
		return ok && rec.version == 4 && hasKind(rec.diags, engine.KindTypeError)
	})

	versions := []int32{}
	for _, rec := range h.pub.all() {
		if rec.uri == doc.URI {
			versions = append(versions, rec.version)
		}
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] < versions[i-1] {
			t.Fatalf("published versions went backwards: %v", versions)
		}
	}
}

func TestScheduler_CycleDiagnostic(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.open("file:///m1.msl", "m1", "module m1\nimport m2")
	h.open("file:///m2.msl", "m2", "module m2\nimport m1")

	// Cycle attribution is deterministic: the edge from the lexically later
	// module closes it.
	waitFor(t, "cycle diagnostic on m2", func() bool {
		rec, ok := h.pub.lastFor("file:///m2.msl")
		return ok && hasKind(rec.diags, engine.KindCycleError)
	})
}

// blockingEngine stalls analyses whose text contains marker until released,
// deliberately ignoring cancellation so a superseded run still completes with
// a result. Everything else passes straight through.
type blockingEngine struct {
	inner   ports.SourceEngine
	marker  string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *blockingEngine) ParseAndCheck(ctx context.Context, in engine.CheckInput) (engine.CheckOutput, error) {
	if strings.Contains(string(in.Text), e.marker) {
		e.once.Do(func() { close(e.started) })
		<-e.release
	}
	return e.inner.ParseAndCheck(context.Background(), in)
}

func TestScheduler_SupersededRunFinishingLateNeverPublishes(t *testing.T) {
	eng := &blockingEngine{
		inner:   msl.New(),
		marker:  "slow",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	var releaseOnce sync.Once
	doRelease := func() { releaseOnce.Do(func() { close(eng.release) }) }
	t.Cleanup(doRelease)

	h := newHarness(t, Options{Debounce: 10 * time.Millisecond}, eng)
	doc := h.open("file:///m1.msl", "m1", "module m1\nvar slow: Int")

	// Version 1 is stuck inside the engine before any newer edit lands.
	select {
	case <-eng.started:
	case <-time.After(3 * time.Second):
		t.Fatal("version 1 analysis never reached the engine")
	}

	for i, text := range []string{
		"module m1\nvar a: Int",
		"module m1\nvar a: Widget",
	} {
		updated, err := h.store.Change(doc.URI, []document.Edit{{Full: true, Text: text}}, int32(i+2))
		if err != nil {
			t.Fatal(err)
		}
		h.sched.DocumentChanged(updated)
	}

	waitFor(t, "version 3 published", func() bool {
		rec, ok := h.pub.lastFor(doc.URI)
		return ok && rec.version == 3 && hasKind(rec.diags, engine.KindTypeError)
	})

	// Unblock the stale version 1 run; its clean result must not surface
	// after version 3's error has been published.
	doRelease()
	h.sched.Flush()

	recs := h.pub.all()
	if len(recs) == 0 {
		t.Fatal("no publishes recorded")
	}
	last := recs[len(recs)-1]
	if last.version != 3 || !hasKind(last.diags, engine.KindTypeError) {
		t.Fatalf("stale result overwrote the newest diagnostics: %+v", last)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].version < recs[i-1].version {
			t.Fatalf("published versions went backwards: %+v", recs)
		}
	}
}

func TestScheduler_RateLimitedPastDeadlineReportsTimeout(t *testing.T) {
	h := newHarness(t, Options{
		AnalysisTimeout: 50 * time.Millisecond,
		EngineRate:      rate.Limit(0.001),
		EngineBurst:     1,
	}, nil)

	h.open("file:///m1.msl", "m1", "module m1")
	waitFor(t, "first module published", func() bool {
		_, ok := h.pub.lastFor("file:///m1.msl")
		return ok
	})

	// The burst token is spent; the next engine call cannot be admitted
	// within the analysis deadline, and the limiter refuses up front.
	h.open("file:///m2.msl", "m2", "module m2")
	waitFor(t, "timeout diagnostic on m2", func() bool {
		rec, ok := h.pub.lastFor("file:///m2.msl")
		return ok && hasKind(rec.diags, engine.KindAnalysisTimeout)
	})
}

type stallingEngine struct {
	inner ports.SourceEngine
}

func (e *stallingEngine) ParseAndCheck(ctx context.Context, in engine.CheckInput) (engine.CheckOutput, error) {
	<-ctx.Done()
	return engine.CheckOutput{}, ctx.Err()
}

func TestScheduler_TimeoutDiagnostic(t *testing.T) {
	h := newHarness(t, Options{AnalysisTimeout: 30 * time.Millisecond}, &stallingEngine{})
	h.open("file:///m1.msl", "m1", "module m1")

	waitFor(t, "timeout diagnostic", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && hasKind(rec.diags, engine.KindAnalysisTimeout)
	})
}

type panickingEngine struct{}

func (panickingEngine) ParseAndCheck(context.Context, engine.CheckInput) (engine.CheckOutput, error) {
	panic("engine blew up")
}

func TestScheduler_PanicBecomesInternalError(t *testing.T) {
	h := newHarness(t, Options{}, panickingEngine{})
	h.open("file:///m1.msl", "m1", "module m1")

	waitFor(t, "internal error diagnostic", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && hasKind(rec.diags, engine.KindInternalError)
	})
}

func TestScheduler_EnsureAnalyzedSynchronous(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.open("file:///m1.msl", "m1", "module m1\ntype Reading = Real")

	res, err := h.sched.EnsureAnalyzed(context.Background(), "m1")
	if err != nil {
		t.Fatalf("EnsureAnalyzed failed: %v", err)
	}
	if _, ok := res.Symbols.Lookup("Reading"); !ok {
		t.Errorf("expected Reading in symbols, got %+v", res.Symbols.Order)
	}

	// A second call at the same fingerprint is a cache hit returning the
	// identical result.
	again, err := h.sched.EnsureAnalyzed(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if res != again {
		t.Error("expected the cached result to be reused")
	}
}

func TestScheduler_ClosingScratchBufferResurfacesMissingImport(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.open("file:///m1.msl", "m1", "module m1\nimport m2\nvar x: m2.Celsius")
	doc2 := h.open("file:///m2.msl", "m2", "module m2\ntype Celsius = Real")

	waitFor(t, "clean m1", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && len(rec.diags) == 0
	})

	// m2 exists only as an editor buffer; closing it makes it vanish for
	// importers.
	h.store.Close(doc2.URI)
	h.sched.DocumentClosed(doc2.URI)

	waitFor(t, "m1 re-reports the missing import", func() bool {
		rec, ok := h.pub.lastFor("file:///m1.msl")
		return ok && hasKind(rec.diags, engine.KindResolutionError)
	})
}
