package memory

import (
	"context"
	"sort"
	"sync"

	"live-poll-service/internal/domain"
)

// ArchiveStore keeps archived records in process. It backs History when no
// database is configured and stands in for one in tests.
type ArchiveStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionRecord
	polls    map[string]domain.Poll
	answers  map[string]domain.Answer
}

func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{
		sessions: make(map[string]domain.SessionRecord),
		polls:    make(map[string]domain.Poll),
		answers:  make(map[string]domain.Answer),
	}
}

func (s *ArchiveStore) SaveSession(_ context.Context, record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[record.ID]; ok && !existing.IsActive && record.IsActive {
		return nil
	}
	s.sessions[record.ID] = record
	return nil
}

func (s *ArchiveStore) SavePoll(_ context.Context, poll domain.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.polls[poll.ID]; ok && existing.State == domain.StateClosed {
		return nil
	}
	poll.Options = append([]string(nil), poll.Options...)
	s.polls[poll.ID] = poll
	return nil
}

func (s *ArchiveStore) SaveAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answer.PollID + "/" + answer.ParticipantID
	if _, ok := s.answers[key]; ok {
		return nil
	}
	s.answers[key] = answer
	return nil
}

func (s *ArchiveStore) LatestSession(_ context.Context, code string) (domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.SessionRecord
		found  bool
	)
	for _, r := range s.sessions {
		if r.Code != code {
			continue
		}
		if !found || r.CreatedAt.After(latest.CreatedAt) {
			latest, found = r, true
		}
	}
	if !found {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return latest, nil
}

// ListPolls returns a session's closed polls ordered by close time.
func (s *ArchiveStore) ListPolls(_ context.Context, sessionID string) ([]domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Poll, 0)
	for _, p := range s.polls {
		if p.SessionID == sessionID && p.State == domain.StateClosed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt.Before(out[j].ClosedAt)
	})
	return out, nil
}

// Session returns an archived session record by id.
func (s *ArchiveStore) Session(id string) (domain.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[id]
	return r, ok
}

// Answers returns the number of archived answers.
func (s *ArchiveStore) Answers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}
