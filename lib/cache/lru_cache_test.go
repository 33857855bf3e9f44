package cache

import (
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU[int, string](2, 0)

	l.Put(1, "one")
	l.Put(2, "two")

	// touch 1 so 2 becomes the eviction candidate
	if v, ok := l.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}

	l.Put(3, "three")

	if _, ok := l.Get(2); ok {
		t.Fatal("expected 2 to be evicted")
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	for _, k := range []int{1, 3} {
		if _, ok := l.Get(k); !ok {
			t.Fatalf("expected %d to be cached", k)
		}
	}
}

func TestLRUExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLRU[string, int](10, time.Minute)
	l.now = func() time.Time { return now }

	l.Put("a", 1)

	now = now.Add(59 * time.Second)
	if _, ok := l.Get("a"); !ok {
		t.Fatal("entry expired too early")
	}

	now = now.Add(time.Second)
	if _, ok := l.Peek("a"); ok {
		t.Fatal("Peek returned an expired entry")
	}
	if _, ok := l.Get("a"); ok {
		t.Fatal("Get returned an expired entry")
	}
	if l.Len() != 0 {
		t.Fatalf("expired entry not removed, Len() = %d", l.Len())
	}
}

func TestLRUOverwriteAndDelete(t *testing.T) {
	l := NewLRU[string, int](1, 0)

	l.Put("a", 1)
	l.Put("a", 2)
	if v, _ := l.Get("a"); v != 2 {
		t.Fatalf("Get(a) = %d, want 2", v)
	}

	l.Delete("a")
	l.Delete("missing")
	if _, ok := l.Get("a"); ok {
		t.Fatal("deleted entry still present")
	}

	// evicting an empty cache is a no-op
	l.Evict()
}
