package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache[T any](size int, ttl time.Duration) (*LRUCache[T], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[T](size, ttl)
	c.Now = clock.Now
	return c, clock
}

// TestLRUCacheEviction tests size-based eviction
func TestLRUCacheEviction(t *testing.T) {
	cache, _ := newTestCache[string](3, time.Hour)

	var evicted []string
	cache.OnEvict = func(key string, _ string) { evicted = append(evicted, key) }

	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	cache.Set("key3", "value3")
	cache.Set("key4", "value4") // Should evict key1

	if _, found := cache.Get("key1"); found {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key2", "key3", "key4"} {
		if _, found := cache.Get(k); !found {
			t.Errorf("%s should still exist", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != "key1" {
		t.Errorf("OnEvict got %v", evicted)
	}
}

func TestLRUCacheRecentlyUsedSurvives(t *testing.T) {
	cache, _ := newTestCache[int](2, time.Hour)
	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Get("a")
	cache.Set("c", 3) // evicts b

	if _, found := cache.Get("b"); found {
		t.Error("b should have been evicted")
	}
	if _, found := cache.Get("a"); !found {
		t.Error("a should survive")
	}
}

// TestLRUCacheTTLExpiration tests time-based expiration
func TestLRUCacheTTLExpiration(t *testing.T) {
	cache, clock := newTestCache[string](100, time.Minute)

	cache.Set("key1", "value1")
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should exist immediately")
	}

	clock.Advance(2 * time.Minute)
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should have expired")
	}
}

func TestLRUCacheGetSlidesExpiry(t *testing.T) {
	cache, clock := newTestCache[string](100, time.Minute)
	cache.Set("k", "v")

	for i := 0; i < 5; i++ {
		clock.Advance(40 * time.Second)
		if _, found := cache.Get("k"); !found {
			t.Fatalf("lookup %d: entry expired despite use", i)
		}
	}
}

// TestLRUCacheCleanExpired tests the cleanup mechanism
func TestLRUCacheCleanExpired(t *testing.T) {
	cache, clock := newTestCache[string](100, time.Minute)

	evicted := 0
	cache.OnEvict = func(string, string) { evicted++ }

	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	clock.Advance(30 * time.Second)
	cache.Set("key3", "value3")
	clock.Advance(45 * time.Second)

	if removed := cache.CleanExpired(); removed != 2 {
		t.Errorf("Expected 2 items cleaned, got %d", removed)
	}
	if evicted != 2 {
		t.Errorf("OnEvict called %d times", evicted)
	}
	if cache.Size() != 1 {
		t.Errorf("Size = %d", cache.Size())
	}
}

func TestLRUCacheTake(t *testing.T) {
	cache, _ := newTestCache[string](10, time.Hour)
	cache.OnEvict = func(string, string) { t.Fatal("Take must not call OnEvict") }

	cache.Set("k", "v")
	v, ok := cache.Take("k")
	if !ok || v != "v" {
		t.Fatalf("Take = %q, %v", v, ok)
	}
	if _, ok := cache.Take("k"); ok {
		t.Fatal("second Take should miss")
	}
}

func TestManagerCleanNow(t *testing.T) {
	a, clock := newTestCache[string](10, time.Minute)
	b := NewLRUCache[int](10, time.Minute)
	b.Now = clock.Now

	a.Set("x", "1")
	b.Set("y", 2)
	clock.Advance(time.Hour)

	m := NewManager()
	m.Register(a)
	m.Register(b)
	if n := m.CleanNow(); n != 2 {
		t.Fatalf("CleanNow = %d", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop() // idempotent
}

func BenchmarkLRUCache(b *testing.B) {
	cache := NewLRUCache[string](1000, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%10 == 0 {
			cache.Set("bench-key", "v")
		} else {
			cache.Get("bench-key")
		}
	}
}
