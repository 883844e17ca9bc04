package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"factcheck-challenge-service/internal/app"
	"golang.org/x/sync/singleflight"
)

// ReadCache is an in-process app.ReadCache.
//
// Every (view, id) pair carries a generation that Invalidate bumps. Entries
// are stamped with the generation their fill started under, so a fill racing
// with an invalidation can never be served afterwards.
type ReadCache struct {
	ttls  map[app.View]time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu      sync.Mutex
	rnd     *rand.Rand
	gens    map[cacheKey]uint64
	entries map[cacheKey]cachedView
}

type cacheKey struct {
	view app.View
	id   string
}

type cachedView struct {
	gen       uint64
	value     []byte
	expiresAt time.Time
}

func NewReadCache(detailTTL, leaderboardTTL time.Duration) *ReadCache {
	return &ReadCache{
		ttls: map[app.View]time.Duration{
			app.ViewDetail:      detailTTL,
			app.ViewLeaderboard: leaderboardTTL,
		},
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		gens:    make(map[cacheKey]uint64),
		entries: make(map[cacheKey]cachedView),
	}
}

// NewReadCacheWithClock is test-only for deterministic expiry.
func NewReadCacheWithClock(detailTTL, leaderboardTTL time.Duration, now func() time.Time) *ReadCache {
	c := NewReadCache(detailTTL, leaderboardTTL)
	c.clock = now
	return c
}

func (c *ReadCache) Get(_ context.Context, view app.View, id string) ([]byte, bool, error) {
	value, _, ok := c.lookup(cacheKey{view, id})
	return value, ok, nil
}

func (c *ReadCache) Fetch(ctx context.Context, view app.View, id string, load app.Loader) ([]byte, bool, error) {
	key := cacheKey{view, id}
	value, gen, ok := c.lookup(key)
	if ok {
		return value, true, nil
	}

	sfKey := string(view) + ":" + id + ":" + strconv.FormatUint(gen, 10)
	result, err, _ := c.sf.Do(sfKey, func() (interface{}, error) {
		if value, current, ok := c.lookup(key); ok && current == gen {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = cachedView{
				gen:       gen,
				value:     value,
				expiresAt: c.clock().Add(c.ttlWithJitter(view)),
			}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.([]byte), false, nil
}

func (c *ReadCache) Invalidate(_ context.Context, id string, views ...app.View) error {
	if len(views) == 0 {
		views = app.AllViews
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, view := range views {
		key := cacheKey{view, id}
		c.gens[key]++
		delete(c.entries, key)
	}
	return nil
}

// lookup returns the live entry for key, if any, and the current generation.
func (c *ReadCache) lookup(key cacheKey) ([]byte, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[key]
	entry, ok := c.entries[key]
	if !ok || entry.gen != gen || !entry.expiresAt.After(c.clock()) {
		return nil, gen, false
	}
	return entry.value, gen, true
}

// ttlWithJitter adds up to 10% to spread expirations. Caller holds c.mu.
func (c *ReadCache) ttlWithJitter(view app.View) time.Duration {
	ttl := c.ttls[view]
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	return ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
