package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-poll-service/internal/domain"
)

// ArchiveStore persists sessions, polls and answers to Postgres, keyed by
// session id so a reused room code starts a fresh row. Every write
// is an upsert that never moves a row backwards: an ended session stays
// ended, a closed poll stays closed and the first stored answer wins.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

func (s *ArchiveStore) SaveSession(ctx context.Context, r domain.SessionRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO poll_sessions (id, code, host_id, is_active, created_at, ended_at, end_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	is_active = EXCLUDED.is_active,
	ended_at = EXCLUDED.ended_at,
	end_reason = EXCLUDED.end_reason
WHERE poll_sessions.is_active OR NOT EXCLUDED.is_active`,
		r.ID, r.Code, r.HostID, r.IsActive, r.CreatedAt, nullTime(r.EndedAt), r.EndReason)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *ArchiveStore) SavePoll(ctx context.Context, p domain.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO polls (id, session_id, session_code, question, options, correct_index, difficulty,
	time_limit_seconds, explanation, state, created_at, activated_at, closed_at, close_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	activated_at = EXCLUDED.activated_at,
	closed_at = EXCLUDED.closed_at,
	close_reason = EXCLUDED.close_reason
WHERE polls.state <> 'closed'`,
		p.ID, p.SessionID, p.SessionCode, p.Question, options, p.CorrectIndex, string(p.Difficulty),
		p.TimeLimitSeconds, p.Explanation, string(p.State), p.CreatedAt,
		nullTime(p.ActivatedAt), nullTime(p.ClosedAt), string(p.CloseReason))
	if err != nil {
		return fmt.Errorf("save poll: %w", err)
	}
	return nil
}

func (s *ArchiveStore) SaveAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO poll_answers (poll_id, participant_id, session_id, session_code, option_index,
	submitted_at, client_timestamp, is_correct, response_time_seconds, points_awarded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (poll_id, participant_id) DO NOTHING`,
		a.PollID, a.ParticipantID, a.SessionID, a.SessionCode, a.OptionIndex, a.SubmittedAt,
		nullTime(a.ClientTimestamp), a.IsCorrect, a.ResponseTimeSeconds, a.PointsAwarded)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// LatestSession returns the newest session archived under code.
func (s *ArchiveStore) LatestSession(ctx context.Context, code string) (domain.SessionRecord, error) {
	var (
		r     domain.SessionRecord
		ended *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, code, host_id, is_active, created_at, ended_at, end_reason
FROM poll_sessions
WHERE code = $1
ORDER BY created_at DESC
LIMIT 1`, code).Scan(&r.ID, &r.Code, &r.HostID, &r.IsActive, &r.CreatedAt, &ended, &r.EndReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	if ended != nil {
		r.EndedAt = *ended
	}
	return r, nil
}

func (s *ArchiveStore) ListPolls(ctx context.Context, sessionID string) ([]domain.Poll, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, session_code, question, options, correct_index, difficulty, time_limit_seconds,
	explanation, state, created_at, activated_at, closed_at, close_reason
FROM polls
WHERE session_id = $1 AND state = 'closed'
ORDER BY closed_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	polls := make([]domain.Poll, 0)
	for rows.Next() {
		var (
			p                   domain.Poll
			options             []byte
			difficulty, state   string
			reason              string
			activated, closedAt *time.Time
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.SessionCode, &p.Question, &options, &p.CorrectIndex, &difficulty,
			&p.TimeLimitSeconds, &p.Explanation, &state, &p.CreatedAt, &activated, &closedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		if err := json.Unmarshal(options, &p.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		p.Difficulty = domain.Difficulty(difficulty)
		p.State = domain.PollState(state)
		p.CloseReason = domain.CloseReason(reason)
		if activated != nil {
			p.ActivatedAt = *activated
		}
		if closedAt != nil {
			p.ClosedAt = *closedAt
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
