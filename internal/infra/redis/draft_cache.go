package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
	"live-poll-service/internal/infra/memory"
)

// DraftCache caches generated drafts in Redis keyed by transcript hash and
// falls back to the wrapped generator on a miss:
// SET live:generated:{sha256} {json drafts} EX ttl
type DraftCache struct {
	client *redis.Client
	next   app.DraftGenerator
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewDraftCache(client *redis.Client, next app.DraftGenerator, ttl time.Duration) *DraftCache {
	return &DraftCache{
		client: client,
		next:   next,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *DraftCache) Generate(ctx context.Context, transcript string) ([]domain.PollDraft, error) {
	key := c.key(transcript)
	if drafts, ok := c.lookup(ctx, key); ok {
		return drafts, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if drafts, ok := c.lookup(ctx, key); ok {
			return drafts, nil
		}
		drafts, err := c.next.Generate(ctx, transcript)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(drafts); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return drafts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.PollDraft), nil
}

func (c *DraftCache) lookup(ctx context.Context, key string) ([]domain.PollDraft, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var drafts []domain.PollDraft
	if err := json.Unmarshal(raw, &drafts); err != nil || len(drafts) == 0 {
		return nil, false
	}
	return drafts, true
}

func (c *DraftCache) key(transcript string) string {
	return "live:generated:" + memory.TranscriptKey(transcript)
}

func (c *DraftCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
