package memory

import (
	"context"
	"sync"

	"live-poll-service/internal/domain"
)

// DraftQueue is an in-memory implementation of app.DraftQueue.
type DraftQueue struct {
	mu     sync.Mutex
	queues map[string][]domain.QueuedDraft
}

func NewDraftQueue() *DraftQueue {
	return &DraftQueue{queues: make(map[string][]domain.QueuedDraft)}
}

func (q *DraftQueue) Push(_ context.Context, code string, drafts []domain.QueuedDraft) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[code] = append(q.queues[code], drafts...)
	return nil
}

func (q *DraftQueue) List(_ context.Context, code string) ([]domain.QueuedDraft, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueuedDraft{}, q.queues[code]...), nil
}

func (q *DraftQueue) Take(_ context.Context, code, id string) (domain.QueuedDraft, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.queues[code]
	for i, d := range queue {
		if d.ID == id {
			q.queues[code] = append(queue[:i:i], queue[i+1:]...)
			return d, nil
		}
	}
	return domain.QueuedDraft{}, domain.ErrDraftNotFound
}

func (q *DraftQueue) Clear(_ context.Context, code string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, code)
	return nil
}
