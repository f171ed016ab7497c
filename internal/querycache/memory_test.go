package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/datachat/datachat/internal/executor"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("SELECT id FROM bi_reports.users LIMIT 1000")
	b := Key("SELECT id FROM bi_reports.users LIMIT 1000")
	c := Key("SELECT id FROM bi_reports.leads LIMIT 1000")
	if a != b {
		t.Fatalf("same statement produced different keys: %s %s", a, b)
	}
	if a == c {
		t.Fatalf("different statements produced the same key: %s", a)
	}
}

func TestMemoryCachePutGet(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	result := executor.Result{
		Columns:  []string{"n"},
		Rows:     []map[string]any{{"n": 1}},
		RowCount: 1,
	}
	key := Key("SELECT 1 LIMIT 1000")
	if err := cache.Put(context.Background(), key, result); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, ok, err := cache.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("get = ok=%v err=%v, want hit", ok, err)
	}
	if got.RowCount != 1 || got.Columns[0] != "n" {
		t.Fatalf("got = %+v", got)
	}
	if _, ok, _ := cache.Get(context.Background(), Key("other")); ok {
		t.Fatal("unexpected hit for unknown key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	current := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return current }

	key := Key("SELECT 1 LIMIT 1000")
	if err := cache.Put(context.Background(), key, executor.Result{RowCount: 1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	current = current.Add(30 * time.Second)
	if _, ok, _ := cache.Get(context.Background(), key); !ok {
		t.Fatal("entry expired before its TTL")
	}
	current = current.Add(31 * time.Second)
	if _, ok, _ := cache.Get(context.Background(), key); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryCacheEvictExpired(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	current := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return current }

	_ = cache.Put(context.Background(), "stale", executor.Result{})
	current = current.Add(2 * time.Minute)
	_ = cache.Put(context.Background(), "fresh", executor.Result{})

	cache.evictExpired()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if _, ok := cache.entries["stale"]; ok {
		t.Fatal("sweeper kept an expired entry")
	}
	if _, ok := cache.entries["fresh"]; !ok {
		t.Fatal("sweeper dropped a live entry")
	}
}
