package redis

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"factcheck-challenge-service/internal/app"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// generationTTL must outlive every data key so a reset counter never
// resurrects an old entry.
const generationTTL = 24 * time.Hour

// ReadCache caches serialized challenge views in Redis.
//
// Keys:
//
//	challenge:{id}:{view}:gen      INCR'd by Invalidate
//	challenge:{id}:{view}:g{gen}   the view as filled under that generation
//
// A fill that raced with an invalidation lands under a generation nobody
// reads any more and simply expires. When Redis is unreachable reads fall
// through to the loader uncached.
type ReadCache struct {
	client *redis.Client
	ttls   map[app.View]time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewReadCache(client *redis.Client, detailTTL, leaderboardTTL time.Duration) *ReadCache {
	return &ReadCache{
		client: client,
		ttls: map[app.View]time.Duration{
			app.ViewDetail:      detailTTL,
			app.ViewLeaderboard: leaderboardTTL,
		},
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ReadCache) Get(ctx context.Context, view app.View, id string) ([]byte, bool, error) {
	gen, err := c.generation(ctx, view, id)
	if err != nil {
		return nil, false, err
	}
	value, err := c.client.Get(ctx, c.dataKey(view, id, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *ReadCache) Fetch(ctx context.Context, view app.View, id string, load app.Loader) ([]byte, bool, error) {
	gen, err := c.generation(ctx, view, id)
	if err != nil {
		value, err := load(ctx)
		return value, false, err
	}
	dataKey := c.dataKey(view, id, gen)
	if value, err := c.client.Get(ctx, dataKey).Bytes(); err == nil {
		return value, true, nil
	}

	result, err, _ := c.sf.Do(dataKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if value, err := c.client.Get(ctx, dataKey).Bytes(); err == nil {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if ttl := c.ttlWithJitter(view); ttl > 0 {
			_ = c.client.Set(ctx, dataKey, value, ttl).Err()
		}
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.([]byte), false, nil
}

func (c *ReadCache) Invalidate(ctx context.Context, id string, views ...app.View) error {
	if len(views) == 0 {
		views = app.AllViews
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, view := range views {
			key := c.generationKey(view, id)
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, generationTTL)
		}
		return nil
	})
	return err
}

func (c *ReadCache) generation(ctx context.Context, view app.View, id string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(view, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *ReadCache) generationKey(view app.View, id string) string {
	return "challenge:" + id + ":" + string(view) + ":gen"
}

func (c *ReadCache) dataKey(view app.View, id string, gen int64) string {
	return "challenge:" + id + ":" + string(view) + ":g" + strconv.FormatInt(gen, 10)
}

func (c *ReadCache) ttlWithJitter(view app.View) time.Duration {
	ttl := c.ttls[view]
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
