package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"factcheck-challenge-service/internal/app"
)

func TestReadCacheFetchCaches(t *testing.T) {
	cache := NewReadCache(time.Minute, time.Minute)
	loader := &countingLoader{value: "v1"}

	for i := 0; i < 2; i++ {
		value, _, err := cache.Fetch(context.Background(), app.ViewDetail, "c1", loader.load)
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if string(value) != "v1" {
			t.Fatalf("expected v1, got %s", value)
		}
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}
	if _, ok, _ := cache.Get(context.Background(), app.ViewDetail, "c1"); !ok {
		t.Fatalf("expected cached detail")
	}
	if _, ok, _ := cache.Get(context.Background(), app.ViewLeaderboard, "c1"); ok {
		t.Fatalf("views must be cached independently")
	}
}

func TestReadCacheInvalidateForcesReload(t *testing.T) {
	cache := NewReadCache(time.Minute, time.Minute)
	loader := &countingLoader{value: "v1"}
	ctx := context.Background()

	if _, _, err := cache.Fetch(ctx, app.ViewLeaderboard, "c1", loader.load); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	loader.set("v2")
	if err := cache.Invalidate(ctx, "c1", app.ViewLeaderboard); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	value, hit, err := cache.Fetch(ctx, app.ViewLeaderboard, "c1", loader.load)
	if err != nil {
		t.Fatalf("fetch after invalidate: %v", err)
	}
	if hit || string(value) != "v2" {
		t.Fatalf("expected fresh v2 miss, got %s hit=%v", value, hit)
	}
}

func TestReadCacheDropsFillRacingInvalidation(t *testing.T) {
	cache := NewReadCache(time.Minute, time.Minute)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = cache.Fetch(ctx, app.ViewDetail, "c1", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("stale"), nil
		})
	}()

	<-started
	if err := cache.Invalidate(ctx, "c1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)
	<-done

	value, hit, err := cache.Fetch(ctx, app.ViewDetail, "c1", func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hit || string(value) != "fresh" {
		t.Fatalf("stale fill leaked past invalidation: %s hit=%v", value, hit)
	}
}

func TestReadCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewReadCacheWithClock(time.Minute, time.Minute, func() time.Time { return now })
	loader := &countingLoader{value: "v1"}

	if _, _, err := cache.Fetch(context.Background(), app.ViewDetail, "c1", loader.load); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(context.Background(), app.ViewDetail, "c1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

type countingLoader struct {
	mu    sync.Mutex
	calls int
	value string
}

func (l *countingLoader) load(context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return []byte(l.value), nil
}

func (l *countingLoader) set(v string) {
	l.mu.Lock()
	l.value = v
	l.mu.Unlock()
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
