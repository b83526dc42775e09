package cache

import (
	"testing"
	"time"
)

func TestToolCacheSetGetRoundTrip(t *testing.T) {
	c := New(Options{})
	key := Key("read_file", `{"path":"a.go"}`)

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss before Set")
	}

	c.Set(key, "file contents")
	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected hit after Set")
	}
	if got != "file contents" {
		t.Fatalf("Get() = %q, want %q", got, "file contents")
	}
}

func TestToolCacheExpiresAfterTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	key := Key("echo_tool", `{"message":"hi"}`)

	start := time.Now()
	c.SetAt(key, "hi", start)

	if _, ok := c.GetAt(key, start.Add(30*time.Second)); !ok {
		t.Fatalf("expected hit within TTL")
	}
	if _, ok := c.GetAt(key, start.Add(61*time.Second)); ok {
		t.Fatalf("expected miss past TTL")
	}
}

func TestToolCacheClearRemovesAllEntries(t *testing.T) {
	c := New(Options{})
	c.Set(Key("a", "{}"), "1")
	c.Set(Key("b", "{}"), "2")
	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("Size() after Clear() = %d, want 0", c.Size())
	}
}

func TestToolCacheRemoveEvictsSingleKey(t *testing.T) {
	c := New(Options{})
	k1, k2 := Key("a", "{}"), Key("b", "{}")
	c.Set(k1, "1")
	c.Set(k2, "2")

	c.Remove(k1)
	if _, ok := c.Get(k1); ok {
		t.Fatalf("expected k1 evicted")
	}
	if _, ok := c.Get(k2); !ok {
		t.Fatalf("expected k2 to remain")
	}
}

func TestToolCacheEvictsOldestBeyondMaxSize(t *testing.T) {
	c := New(Options{MaxSize: 2, TTL: time.Hour})
	start := time.Now()

	c.SetAt(Key("a", "{}"), "1", start)
	c.SetAt(Key("b", "{}"), "2", start.Add(time.Second))
	c.SetAt(Key("c", "{}"), "3", start.Add(2*time.Second))

	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
	if _, ok := c.Get(Key("a", "{}")); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if _, ok := c.Get(Key("c", "{}")); !ok {
		t.Fatalf("expected newest entry to remain")
	}
}

func TestToolCacheDifferentArgumentsAreDistinctKeys(t *testing.T) {
	c := New(Options{})
	c.Set(Key("tool", `{"x":1}`), "result1")
	c.Set(Key("tool", `{"x":2}`), "result2")

	got1, _ := c.Get(Key("tool", `{"x":1}`))
	got2, _ := c.Get(Key("tool", `{"x":2}`))
	if got1 != "result1" || got2 != "result2" {
		t.Fatalf("expected distinct results per argument key, got %q and %q", got1, got2)
	}
}
