package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func testResult(module string, fp Fingerprint) *Result {
	return &Result{Module: module, Fingerprint: fp}
}

func TestCache_MemoizesByFingerprint(t *testing.T) {
	c := NewCache(8)
	var calls int32
	compute := func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return testResult("a", "fp1"), nil
	}

	r1, err := c.GetOrCompute(context.Background(), "a", "fp1", compute)
	if err != nil {
		t.Fatalf("first compute failed: %v", err)
	}
	r2, err := c.GetOrCompute(context.Background(), "a", "fp1", compute)
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 computation, got %d", calls)
	}
	if r1 != r2 {
		t.Error("expected the identical cached result on the second lookup")
	}
}

func TestCache_RecomputesOnNewFingerprint(t *testing.T) {
	c := NewCache(8)
	var calls int32

	_, _ = c.GetOrCompute(context.Background(), "a", "fp1", func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return testResult("a", "fp1"), nil
	})
	res, err := c.GetOrCompute(context.Background(), "a", "fp2", func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return testResult("a", "fp2"), nil
	})
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 computations, got %d", calls)
	}
	if res.Fingerprint != "fp2" {
		t.Errorf("expected fp2 result, got %s", res.Fingerprint)
	}
}

func TestCache_SingleFlight(t *testing.T) {
	c := NewCache(8)
	var calls int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return testResult("a", "fp1"), nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]*Result, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "a", "fp1", compute)
			if err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 in-flight computation, got %d", got)
	}
	for i := 1; i < waiters; i++ {
		if results[i] != results[0] {
			t.Errorf("waiter %d got a different result", i)
		}
	}
}

func TestCache_StaleServedByPeek(t *testing.T) {
	c := NewCache(8)
	_, _ = c.GetOrCompute(context.Background(), "a", "fp1", func(ctx context.Context) (*Result, error) {
		return testResult("a", "fp1"), nil
	})

	c.MarkStale([]string{"a"})

	res, stale, ok := c.Peek("a")
	if !ok {
		t.Fatal("expected stale entry to remain servable")
	}
	if !stale {
		t.Error("expected entry to be marked stale")
	}
	if res.Fingerprint != "fp1" {
		t.Errorf("unexpected result: %+v", res)
	}

	// A changed fingerprint forces recomputation.
	var calls int32
	_, _ = c.GetOrCompute(context.Background(), "a", "fp2", func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return testResult("a", "fp2"), nil
	})
	if calls != 1 {
		t.Errorf("expected stale entry with new fingerprint to recompute, got %d calls", calls)
	}
}

func TestCache_StaleRevalidatedAtUnchangedFingerprint(t *testing.T) {
	c := NewCache(8)
	first, _ := c.GetOrCompute(context.Background(), "a", "fp1", func(ctx context.Context) (*Result, error) {
		return testResult("a", "fp1"), nil
	})

	c.MarkStale([]string{"a"})

	// An unchanged fingerprint proves the invalidation was conservative: the
	// cached result is served and revalidated without a second computation.
	var calls int32
	res, err := c.GetOrCompute(context.Background(), "a", "fp1", func(ctx context.Context) (*Result, error) {
		atomic.AddInt32(&calls, 1)
		return testResult("a", "fp1"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("expected no recomputation at the unchanged fingerprint, got %d calls", calls)
	}
	if res != first {
		t.Error("expected the identical cached result")
	}

	if _, stale, ok := c.Peek("a"); !ok || stale {
		t.Errorf("expected entry revalidated, ok=%v stale=%v", ok, stale)
	}
}

func TestCache_FailedComputeKeepsPrevious(t *testing.T) {
	c := NewCache(8)
	_, _ = c.GetOrCompute(context.Background(), "a", "fp1", func(ctx context.Context) (*Result, error) {
		return testResult("a", "fp1"), nil
	})

	_, err := c.GetOrCompute(context.Background(), "a", "fp2", func(ctx context.Context) (*Result, error) {
		return nil, context.Canceled
	})
	if err == nil {
		t.Fatal("expected compute error to propagate")
	}

	res, _, ok := c.Peek("a")
	if !ok || res.Fingerprint != "fp1" {
		t.Errorf("expected previous entry preserved, got %+v", res)
	}
}

func TestCache_LRUEvictionSkipsPinned(t *testing.T) {
	c := NewCache(2)
	c.Pin("open")

	for _, m := range []string{"open", "b", "c"} {
		m := m
		_, _ = c.GetOrCompute(context.Background(), m, "fp", func(ctx context.Context) (*Result, error) {
			return testResult(m, "fp"), nil
		})
	}

	if c.Len() != 2 {
		t.Fatalf("expected capacity 2 enforced, got %d entries", c.Len())
	}
	if _, _, ok := c.Peek("open"); !ok {
		t.Error("pinned entry evicted")
	}
	// "b" was least recently used among unpinned entries.
	if _, _, ok := c.Peek("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, _, ok := c.Peek("c"); !ok {
		t.Error("expected c to survive")
	}
}

func TestFingerprint_DependencyClosure(t *testing.T) {
	base := NewFingerprint([]byte("module a"), nil)
	withImport := NewFingerprint([]byte("module a"), []Fingerprint{"dep-fp"})
	if base == withImport {
		t.Error("expected import fingerprints to change the key")
	}

	again := NewFingerprint([]byte("module a"), []Fingerprint{"dep-fp"})
	if withImport != again {
		t.Error("expected fingerprints to be deterministic")
	}

	missing := NewFingerprint([]byte("module a"), []Fingerprint{MissingFingerprint("dep")})
	if missing == withImport {
		t.Error("expected missing-import sentinel to produce a distinct key")
	}
}
