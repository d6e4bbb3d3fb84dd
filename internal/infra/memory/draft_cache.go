package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

// DraftCache memoizes generator output per transcript with a TTL, so a host
// re-submitting the same transcript does not pay for a second generation.
// It implements app.DraftGenerator.
type DraftCache struct {
	next  app.DraftGenerator
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand
	rndMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedDrafts
}

type cachedDrafts struct {
	drafts    []domain.PollDraft
	expiresAt time.Time
}

func NewDraftCache(next app.DraftGenerator, ttl time.Duration) *DraftCache {
	return &DraftCache{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedDrafts),
	}
}

func (c *DraftCache) Generate(ctx context.Context, transcript string) ([]domain.PollDraft, error) {
	key := TranscriptKey(transcript)
	if drafts, ok := c.lookup(key); ok {
		return drafts, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if drafts, ok := c.lookup(key); ok {
			return drafts, nil
		}
		drafts, err := c.next.Generate(ctx, transcript)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = cachedDrafts{
			drafts:    drafts,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return drafts, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneDrafts(result.([]domain.PollDraft)), nil
}

func (c *DraftCache) lookup(key string) ([]domain.PollDraft, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return cloneDrafts(entry.drafts), true
}

func (c *DraftCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// TranscriptKey is the cache key for a transcript.
func TranscriptKey(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}

func cloneDrafts(in []domain.PollDraft) []domain.PollDraft {
	out := make([]domain.PollDraft, len(in))
	for i, d := range in {
		d.Options = append([]string(nil), d.Options...)
		out[i] = d
	}
	return out
}
