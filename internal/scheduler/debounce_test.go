package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerSinglePath(t *testing.T) {
	var mu sync.Mutex
	var emitted []string

	d := NewDebouncer(50*time.Millisecond, func(path string) {
		mu.Lock()
		emitted = append(emitted, path)
		mu.Unlock()
	})
	defer d.Stop()

	d.Feed("/vault/a.md")

	// Wait for the debounce window to expire plus a little buffer.
	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("expected 1 emission, got %d", len(emitted))
	}
	if emitted[0] != "/vault/a.md" {
		t.Errorf("emitted %q", emitted[0])
	}
}

func TestDebouncerBurstCollapse(t *testing.T) {
	var mu sync.Mutex
	var emitted []string

	d := NewDebouncer(50*time.Millisecond, func(path string) {
		mu.Lock()
		emitted = append(emitted, path)
		mu.Unlock()
	})
	defer d.Stop()

	// An editor autosave burst: 10 notifications well within the window.
	for i := 0; i < 10; i++ {
		d.Feed("/vault/a.md")
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("expected exactly 1 emission after burst of 10, got %d", len(emitted))
	}
}

func TestDebouncerDifferentPaths(t *testing.T) {
	var mu sync.Mutex
	emitted := map[string]int{}

	d := NewDebouncer(50*time.Millisecond, func(path string) {
		mu.Lock()
		emitted[path]++
		mu.Unlock()
	})
	defer d.Stop()

	d.Feed("/vault/a.md")
	d.Feed("/vault/b.md")

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if emitted["/vault/a.md"] != 1 || emitted["/vault/b.md"] != 1 {
		t.Fatalf("expected one emission per path, got %v", emitted)
	}
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	var mu sync.Mutex
	var emitted []string

	d := NewDebouncer(time.Hour, func(path string) {
		mu.Lock()
		emitted = append(emitted, path)
		mu.Unlock()
	})

	d.Feed("/vault/a.md")
	d.Stop()

	mu.Lock()
	n := len(emitted)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected pending path to flush on Stop, got %d emissions", n)
	}

	// Feeds after Stop are no-ops.
	d.Feed("/vault/b.md")
	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Errorf("feed after stop emitted: %v", emitted)
	}
}

func TestSyncNowCoalesces(t *testing.T) {
	s := New(nil, nil, nil)

	// Many requests while nothing drains the channel collapse to one.
	for i := 0; i < 5; i++ {
		s.SyncNow()
	}

	select {
	case <-s.trigger:
	default:
		t.Fatal("expected one queued trigger")
	}
	select {
	case <-s.trigger:
		t.Fatal("expected triggers to coalesce into a single queued pass")
	default:
	}
}
