package ledger

import (
	"sync"
	"testing"
)

func TestTryReserve_DeniesWhenOverBudget(t *testing.T) {
	l := New(8 << 30)
	id, ok := l.TryReserve("x", 5<<30)
	if !ok {
		t.Fatalf("expected first reservation to fit")
	}
	if _, ok := l.TryReserve("y", 6<<30); ok {
		t.Fatalf("expected denial: 5GB reserved of 8GB, 6GB cannot fit")
	}
	l.Release(id)
	if _, ok := l.TryReserve("y", 6<<30); !ok {
		t.Fatalf("expected admission after release")
	}
}

func TestTryReserve_RejectsNonPositive(t *testing.T) {
	l := New(1 << 30)
	if _, ok := l.TryReserve("x", 0); ok {
		t.Fatalf("zero-byte reservation must be denied")
	}
	if _, ok := l.TryReserve("x", -1); ok {
		t.Fatalf("negative reservation must be denied")
	}
}

func TestRelease_UnknownIDIsNoop(t *testing.T) {
	l := New(1 << 30)
	l.Release("nope")
	id, ok := l.TryReserve("x", 1<<20)
	if !ok {
		t.Fatalf("reserve: denied")
	}
	l.Release(id)
	l.Release(id) // double release must not free capacity twice
	if got := l.ReservedBytes(); got != 0 {
		t.Fatalf("reserved = %d, want 0", got)
	}
	if got := l.AvailableBytes(); got != 1<<30 {
		t.Fatalf("available = %d, want %d", got, int64(1<<30))
	}
}

// The budget invariant must hold at every observable instant, including under
// concurrent reserve/release traffic.
func TestInvariant_NeverOverbooksConcurrently(t *testing.T) {
	const total = 100
	l := New(total)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if id, ok := l.TryReserve("w", 30); ok {
					if r := l.ReservedBytes(); r > total {
						t.Errorf("reserved %d exceeds total %d", r, total)
					}
					l.Release(id)
				}
			}
		}()
	}
	wg.Wait()
	if got := l.ReservedBytes(); got != 0 {
		t.Fatalf("reserved = %d after all releases, want 0", got)
	}
}

func TestSnapshot_GroupsByOwner(t *testing.T) {
	l := New(100)
	if _, ok := l.TryReserve("a", 10); !ok {
		t.Fatal("reserve a")
	}
	if _, ok := l.TryReserve("a", 20); !ok {
		t.Fatal("reserve a again")
	}
	if _, ok := l.TryReserve("b", 30); !ok {
		t.Fatal("reserve b")
	}
	snap := l.Snapshot()
	if snap["a"] != 30 || snap["b"] != 30 {
		t.Fatalf("snapshot = %v", snap)
	}
}
