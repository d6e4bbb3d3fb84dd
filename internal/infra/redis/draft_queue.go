package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"live-poll-service/internal/domain"
)

// DraftQueue keeps each session's pending drafts as a Redis list of JSON
// documents: RPUSH live:drafts:{code} {draft}
type DraftQueue struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDraftQueue(client *redis.Client, ttl time.Duration) *DraftQueue {
	return &DraftQueue{client: client, ttl: ttl}
}

func (q *DraftQueue) Push(ctx context.Context, code string, drafts []domain.QueuedDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(drafts))
	for _, d := range drafts {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode draft %s: %w", d.ID, err)
		}
		values = append(values, raw)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key(code), values...)
	if q.ttl > 0 {
		pipe.Expire(ctx, q.key(code), q.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (q *DraftQueue) List(ctx context.Context, code string) ([]domain.QueuedDraft, error) {
	raws, err := q.client.LRange(ctx, q.key(code), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.QueuedDraft, 0, len(raws))
	for _, raw := range raws {
		var d domain.QueuedDraft
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Take removes the draft with LREM on its exact encoding, so two concurrent
// takes of the same id cannot both succeed.
func (q *DraftQueue) Take(ctx context.Context, code, id string) (domain.QueuedDraft, error) {
	raws, err := q.client.LRange(ctx, q.key(code), 0, -1).Result()
	if err != nil {
		return domain.QueuedDraft{}, err
	}
	for _, raw := range raws {
		var d domain.QueuedDraft
		if err := json.Unmarshal([]byte(raw), &d); err != nil || d.ID != id {
			continue
		}
		removed, err := q.client.LRem(ctx, q.key(code), 1, raw).Result()
		if err != nil {
			return domain.QueuedDraft{}, err
		}
		if removed == 0 {
			break
		}
		return d, nil
	}
	return domain.QueuedDraft{}, domain.ErrDraftNotFound
}

func (q *DraftQueue) Clear(ctx context.Context, code string) error {
	return q.client.Del(ctx, q.key(code)).Err()
}

func (q *DraftQueue) key(code string) string {
	return "live:drafts:" + code
}
