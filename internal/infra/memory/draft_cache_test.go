package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-poll-service/internal/domain"
)

type countingGenerator struct {
	calls atomic.Int32
	err   error
}

func (g *countingGenerator) Generate(_ context.Context, transcript string) ([]domain.PollDraft, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return []domain.PollDraft{sampleDraft(transcript)}, nil
}

func sampleDraft(question string) domain.PollDraft {
	return domain.PollDraft{
		Question:     question,
		Options:      []string{"a", "b"},
		CorrectIndex: 1,
		Difficulty:   domain.DifficultyEasy,
	}
}

func TestDraftCacheCaches(t *testing.T) {
	gen := &countingGenerator{}
	cache := NewDraftCache(gen, time.Minute)

	first, err := cache.Generate(context.Background(), "closures")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	first[0].Options[0] = "mutated"

	second, err := cache.Generate(context.Background(), "closures")
	if err != nil {
		t.Fatalf("generate 2: %v", err)
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("expected cache hit, generator calls %d", gen.calls.Load())
	}
	if second[0].Options[0] != "a" {
		t.Fatalf("cached drafts leaked a caller mutation: %v", second[0].Options)
	}

	if _, err := cache.Generate(context.Background(), "hooks"); err != nil {
		t.Fatalf("generate other transcript: %v", err)
	}
	if gen.calls.Load() != 2 {
		t.Fatalf("expected miss for new transcript, calls %d", gen.calls.Load())
	}
}

func TestDraftCacheExpires(t *testing.T) {
	gen := &countingGenerator{}
	cache := NewDraftCache(gen, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.Generate(context.Background(), "t")
	now = now.Add(2 * time.Minute)
	_, _ = cache.Generate(context.Background(), "t")
	if gen.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, calls %d", gen.calls.Load())
	}
}

func TestDraftCacheDoesNotCacheErrors(t *testing.T) {
	gen := &countingGenerator{err: errors.New("upstream down")}
	cache := NewDraftCache(gen, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.Generate(context.Background(), "t"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if gen.calls.Load() != 2 {
		t.Fatalf("expected errors to bypass cache, calls %d", gen.calls.Load())
	}
}

func TestDraftCacheConcurrentCallers(t *testing.T) {
	gen := &countingGenerator{}
	cache := NewDraftCache(gen, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Generate(context.Background(), "same"); err != nil {
				t.Errorf("generate: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := gen.calls.Load(); got < 1 || got > 20 {
		t.Fatalf("unexpected generator calls %d", got)
	}
}
