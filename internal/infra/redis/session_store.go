package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-poll-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions themselves stay in a local map; their state is owned by this
//     process and is never serialized.
//   - Redis holds a claim on each room code (SET NX with TTL) so two
//     instances behind one load balancer cannot hand out the same code.
//   - List refreshes the claims of live sessions; the sweeper calls it every
//     interval, so a crashed instance's codes free up after one TTL.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	owner    string
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration, owner string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		owner:    owner,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Insert(session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := session.Code()
	if existing, ok := s.sessions[code]; ok && existing.IsActive() {
		return false
	}
	claimed, err := s.client.SetNX(context.Background(), s.key(code), s.owner, s.ttl).Result()
	if err != nil {
		// redis unavailable: fall back to local uniqueness only
		claimed = true
	}
	if !claimed {
		holder, _ := s.client.Get(context.Background(), s.key(code)).Result()
		if holder != s.owner {
			return false
		}
	}
	s.sessions[code] = session
	return true
}

func (s *SessionStore) Get(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	return session, ok
}

func (s *SessionStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[code]; !ok {
		return
	}
	delete(s.sessions, code)
	_ = s.client.Del(context.Background(), s.key(code)).Err()
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	if s.ttl > 0 && len(out) > 0 {
		pipe := s.client.Pipeline()
		for _, session := range out {
			pipe.Expire(context.Background(), s.key(session.Code()), s.ttl)
		}
		_, _ = pipe.Exec(context.Background())
	}
	return out
}

func (s *SessionStore) key(code string) string {
	return "live:session:" + code
}
