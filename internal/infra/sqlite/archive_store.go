package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"live-poll-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// ArchiveStore is the single-node archive: the same upsert rules as the
// Postgres store, on an embedded SQLite file. Timestamps are unix millis.
type ArchiveStore struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*ArchiveStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; also keeps ":memory:" on a single shared connection
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &ArchiveStore{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *ArchiveStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *ArchiveStore) SaveSession(ctx context.Context, r domain.SessionRecord) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO poll_sessions (id, code, host_id, is_active, created_at, ended_at, end_reason)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	is_active = excluded.is_active,
	ended_at = excluded.ended_at,
	end_reason = excluded.end_reason
WHERE poll_sessions.is_active = 1 OR excluded.is_active = 0
`,
		r.ID, r.Code, r.HostID, r.IsActive, r.CreatedAt.UTC().UnixMilli(), nullMillis(r.EndedAt), r.EndReason)
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
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO polls (id, session_id, session_code, question, options, correct_index, difficulty,
	time_limit_seconds, explanation, state, created_at, activated_at, closed_at, close_reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	state = excluded.state,
	activated_at = excluded.activated_at,
	closed_at = excluded.closed_at,
	close_reason = excluded.close_reason
WHERE polls.state <> 'closed'
`,
		p.ID, p.SessionID, p.SessionCode, p.Question, string(options), p.CorrectIndex, string(p.Difficulty),
		p.TimeLimitSeconds, p.Explanation, string(p.State), p.CreatedAt.UTC().UnixMilli(),
		nullMillis(p.ActivatedAt), nullMillis(p.ClosedAt), string(p.CloseReason))
	if err != nil {
		return fmt.Errorf("save poll: %w", err)
	}
	return nil
}

func (s *ArchiveStore) SaveAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO poll_answers (poll_id, participant_id, session_id, session_code, option_index,
	submitted_at, client_timestamp, is_correct, response_time_seconds, points_awarded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (poll_id, participant_id) DO NOTHING
`,
		a.PollID, a.ParticipantID, a.SessionID, a.SessionCode, a.OptionIndex, a.SubmittedAt.UTC().UnixMilli(),
		nullMillis(a.ClientTimestamp), a.IsCorrect, a.ResponseTimeSeconds, a.PointsAwarded)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// LatestSession returns the newest session archived under code.
func (s *ArchiveStore) LatestSession(ctx context.Context, code string) (domain.SessionRecord, error) {
	var (
		r       domain.SessionRecord
		created int64
		ended   sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, code, host_id, is_active, created_at, ended_at, end_reason
FROM poll_sessions
WHERE code = ?
ORDER BY created_at DESC
LIMIT 1
`, code).Scan(&r.ID, &r.Code, &r.HostID, &r.IsActive, &created, &ended, &r.EndReason)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	if ended.Valid {
		r.EndedAt = time.UnixMilli(ended.Int64).UTC()
	}
	return r, nil
}

func (s *ArchiveStore) ListPolls(ctx context.Context, sessionID string) ([]domain.Poll, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, session_id, session_code, question, options, correct_index, difficulty, time_limit_seconds,
	explanation, state, created_at, activated_at, closed_at, close_reason
FROM polls
WHERE session_id = ? AND state = 'closed'
ORDER BY closed_at
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	polls := make([]domain.Poll, 0)
	for rows.Next() {
		var (
			p                   domain.Poll
			options             string
			difficulty, state   string
			reason              string
			created             int64
			activated, closedAt sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.SessionCode, &p.Question, &options, &p.CorrectIndex, &difficulty,
			&p.TimeLimitSeconds, &p.Explanation, &state, &created, &activated, &closedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		p.Difficulty = domain.Difficulty(difficulty)
		p.State = domain.PollState(state)
		p.CloseReason = domain.CloseReason(reason)
		p.CreatedAt = time.UnixMilli(created).UTC()
		if activated.Valid {
			p.ActivatedAt = time.UnixMilli(activated.Int64).UTC()
		}
		if closedAt.Valid {
			p.ClosedAt = time.UnixMilli(closedAt.Int64).UTC()
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// CountAnswers returns how many answers are archived for a poll.
func (s *ArchiveStore) CountAnswers(ctx context.Context, pollID string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM poll_answers WHERE poll_id = ?`, pollID).Scan(&n)
	return n, err
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}
