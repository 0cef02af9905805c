package registry

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := New[int]()

	if !r.Add(1) || !r.Add(2) {
		t.Fatal("Add should accept before shutdown")
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	r.Remove(1)
	r.Remove(1) // second removal is a no-op
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	if r.Contains(1) {
		t.Error("1 should be gone")
	}
	if !r.Contains(2) {
		t.Error("2 should still be registered")
	}
}

func TestRegistry_RemoveAbsent(t *testing.T) {
	r := New[string]()
	r.Remove("never-added")
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := New[int]()
	for i := 0; i < 5; i++ {
		r.Add(i)
	}

	snap := r.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("snapshot len = %d, want 5", len(snap))
	}

	// Mutating the live set while iterating the copy must be safe.
	for _, h := range snap {
		r.Remove(h)
	}
	if len(snap) != 5 {
		t.Errorf("snapshot changed under mutation: len = %d", len(snap))
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRegistry_ShutdownRejectsAdd(t *testing.T) {
	r := New[int]()
	r.Add(1)

	snap, first := r.Shutdown()
	if !first {
		t.Error("first Shutdown should report first = true")
	}
	if len(snap) != 1 || snap[0] != 1 {
		t.Errorf("snapshot = %v, want [1]", snap)
	}
	if !r.ShuttingDown() {
		t.Error("ShuttingDown should be true")
	}

	if r.Add(2) {
		t.Error("Add after Shutdown should be refused")
	}
	if r.Contains(2) {
		t.Error("refused handle must not be registered")
	}

	_, first = r.Shutdown()
	if first {
		t.Error("second Shutdown should report first = false")
	}
	if !r.ShuttingDown() {
		t.Error("shutdown flag must never revert")
	}
}

func TestRegistry_Drained(t *testing.T) {
	r := New[int]()
	r.Add(1)
	r.Add(2)

	select {
	case <-r.Drained():
		t.Fatal("drained before shutdown")
	default:
	}

	r.Remove(1) // empty-but-live is not drained
	r.Shutdown()

	select {
	case <-r.Drained():
		t.Fatal("drained while a handle is still registered")
	default:
	}

	r.Remove(2)

	select {
	case <-r.Drained():
	case <-time.After(time.Second):
		t.Fatal("not drained after the last handle left")
	}

	// Further removals and shutdowns must not close the channel twice.
	r.Remove(2)
	r.Shutdown()
}

func TestRegistry_DrainedWhenEmptyAtShutdown(t *testing.T) {
	r := New[int]()
	r.Shutdown()

	select {
	case <-r.Drained():
	case <-time.After(time.Second):
		t.Fatal("empty registry should drain immediately on shutdown")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[int]()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(h int) {
			defer wg.Done()
			r.Add(h)
			_ = r.Snapshot()
			if h%2 == 0 {
				r.Remove(h)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != n/2 {
		t.Errorf("len = %d, want %d", r.Len(), n/2)
	}
}
