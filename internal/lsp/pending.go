package lsp

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"msls/internal/shared/observability"
)

// pendingRequests tracks in-flight navigation requests per document. The
// protocol layer does not expose request ids to handlers, so cancellation is
// keyed the other way around: an edit to a document cancels every navigation
// request still running against it.
type pendingRequests struct {
	mu    sync.Mutex
	byID  map[string]context.CancelFunc
	byURI map[string]map[string]bool
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		byID:  make(map[string]context.CancelFunc),
		byURI: make(map[string]map[string]bool),
	}
}

// track derives a cancellable context for one request against uri and returns
// a done function the handler must defer.
func (p *pendingRequests) track(ctx context.Context, uri string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	p.mu.Lock()
	p.byID[id] = cancel
	if p.byURI[uri] == nil {
		p.byURI[uri] = make(map[string]bool)
	}
	p.byURI[uri][id] = true
	observability.PendingRequests.Set(float64(len(p.byID)))
	p.mu.Unlock()

	return ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.byID[id]; ok {
			c()
			delete(p.byID, id)
			delete(p.byURI[uri], id)
			if len(p.byURI[uri]) == 0 {
				delete(p.byURI, uri)
			}
		}
		observability.PendingRequests.Set(float64(len(p.byID)))
	}
}

// cancelFor cancels every pending request against uri. Called when the
// document changes or closes; the superseded requests observe ctx
// cancellation and return without a result.
func (p *pendingRequests) cancelFor(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.byURI[uri] {
		if cancel, ok := p.byID[id]; ok {
			cancel()
			delete(p.byID, id)
		}
	}
	delete(p.byURI, uri)
	observability.PendingRequests.Set(float64(len(p.byID)))
}

func (p *pendingRequests) cancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.byID {
		cancel()
		delete(p.byID, id)
	}
	p.byURI = make(map[string]map[string]bool)
	observability.PendingRequests.Set(0)
}
