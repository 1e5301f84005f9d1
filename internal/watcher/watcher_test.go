package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (s *recordingSink) FileChanged(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = append(s.changed, path)
}

func (s *recordingSink) FileRemoved(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
}

func (s *recordingSink) snapshot() (changed, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.changed...), append([]string(nil), s.removed...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcher_ChangeAndRemove(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	w, err := New(20*time.Millisecond, nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{root}); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(root, "util.msl")
	if err := os.WriteFile(target, []byte("module util"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "change event", func() bool {
		changed, _ := sink.snapshot()
		for _, p := range changed {
			if p == target {
				return true
			}
		}
		return false
	})

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "remove event", func() bool {
		_, removed := sink.snapshot()
		for _, p := range removed {
			if p == target {
				return true
			}
		}
		return false
	})
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	w, err := New(20*time.Millisecond, nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{root}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "mod.msl"), []byte("module mod"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "msl change", func() bool {
		changed, _ := sink.snapshot()
		return len(changed) > 0
	})
	changed, _ := sink.snapshot()
	for _, p := range changed {
		if filepath.Ext(p) != ".msl" {
			t.Errorf("unexpected event for %s", p)
		}
	}
}
