package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"live-poll-service/internal/domain"
)

// SessionRepository owns the process-wide registry of live sessions.
// Sessions leave it only through EndSession or the inactivity sweep.
type SessionRepository interface {
	// Insert stores the session unless its code is taken.
	Insert(session *Session) bool
	Get(code string) (*Session, bool)
	Delete(code string)
	List() []*Session
}

// LiveService contains the live poll use cases. Each call resolves the
// session and delegates to it; there is no lock spanning sessions.
type LiveService struct {
	sessions  SessionRepository
	settings  Settings
	clock     Clock
	logger    *slog.Logger
	recorder  Recorder
	drafts    DraftQueue
	generator DraftGenerator
	history   ArchiveStore
	tracer    trace.Tracer
	newCode   func() (string, error)
}

// Option configures optional collaborators of the service.
type Option func(*LiveService)

func WithClock(clock Clock) Option {
	return func(s *LiveService) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *LiveService) { s.logger = logger }
}

func WithRecorder(recorder Recorder) Option {
	return func(s *LiveService) { s.recorder = recorder }
}

// WithDrafts enables the draft pipeline.
func WithDrafts(queue DraftQueue, generator DraftGenerator) Option {
	return func(s *LiveService) {
		s.drafts = queue
		s.generator = generator
	}
}

// WithHistory lets History read the polls of sessions that already ended.
func WithHistory(store ArchiveStore) Option {
	return func(s *LiveService) { s.history = store }
}

// WithCodeGenerator replaces the random room-code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *LiveService) { s.newCode = gen }
}

func NewLiveService(store SessionRepository, settings Settings, opts ...Option) *LiveService {
	s := &LiveService{
		sessions: store,
		settings: settings,
		clock:    SystemClock(),
		logger:   slog.Default(),
		recorder: NopRecorder{},
		tracer:   otel.Tracer("live-poll-service/app"),
		newCode:  RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

// RandomCode returns a 6-character room code without ambiguous characters.
func RandomCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeCode upper-cases and trims a room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *LiveService) get(code string) (*Session, error) {
	session, ok := s.sessions.Get(NormalizeCode(code))
	if !ok || !session.IsActive() {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// CreateSession registers a new session. An empty code is generated.
func (s *LiveService) CreateSession(ctx context.Context, hostID, code string) (domain.SessionSnapshot, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return domain.SessionSnapshot{}, domain.NewError(domain.KindValidation, "host id is required")
	}

	generated := code == ""
	for attempt := 0; ; attempt++ {
		if generated {
			var err error
			if code, err = s.newCode(); err != nil {
				return domain.SessionSnapshot{}, err
			}
		}
		code = NormalizeCode(code)
		if !codePattern.MatchString(code) {
			return domain.SessionSnapshot{}, domain.NewError(domain.KindValidation, "session code must be 4-12 letters or digits")
		}

		session := newSession(code, hostID, s.settings, sessionDeps{
			clock:    s.clock,
			logger:   s.logger,
			recorder: s.recorder,
		})
		if s.sessions.Insert(session) {
			s.recorder.RecordSession(session.Record())
			s.logger.Info("session created", "session", code, "host", hostID)
			return session.Snapshot(), nil
		}
		if !generated || attempt >= 4 {
			return domain.SessionSnapshot{}, domain.ErrSessionExists
		}
	}
}

// JoinSession adds (or reconnects) a member and returns the resync payload
// together with the member's event subscription.
func (s *LiveService) JoinSession(ctx context.Context, code string, p ParticipantJoin) (domain.Resync, *Subscription, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.ID == "" {
		return domain.Resync{}, nil, domain.NewError(domain.KindValidation, "participant id is required")
	}
	session, err := s.get(code)
	if err != nil {
		return domain.Resync{}, nil, err
	}
	resync, sub, err := session.join(p)
	if err != nil {
		return domain.Resync{}, nil, s.mapEnded(err)
	}
	return resync, sub, nil
}

// LeaveSession marks a participant disconnected.
func (s *LiveService) LeaveSession(ctx context.Context, code, participantID string) error {
	session, err := s.get(code)
	if err != nil {
		return err
	}
	return s.mapEnded(session.leave(participantID))
}

// Disconnect closes a member's subscription when its connection goes away.
// The participant is marked disconnected only if no other connection of
// theirs is still subscribed.
func (s *LiveService) Disconnect(ctx context.Context, code string, sub *Subscription) error {
	session, err := s.get(code)
	if err != nil {
		sub.Close()
		return err
	}
	return s.mapEnded(session.disconnect(sub))
}

// EndSession ends a session on behalf of its host and purges it from the registry.
func (s *LiveService) EndSession(ctx context.Context, code, hostID string) error {
	session, err := s.get(code)
	if err != nil {
		return err
	}
	if err := session.end(hostID, "host-ended", false); err != nil {
		return s.mapEnded(err)
	}
	s.sessions.Delete(session.Code())
	s.clearDrafts(ctx, session.Code())
	return nil
}

// LaunchPoll activates an inline draft.
func (s *LiveService) LaunchPoll(ctx context.Context, code, hostID string, draft domain.PollDraft) (domain.Poll, error) {
	_, span := s.tracer.Start(ctx, "LiveService.LaunchPoll", trace.WithAttributes(attribute.String("session.code", code)))
	defer span.End()

	session, err := s.get(code)
	if err != nil {
		return domain.Poll{}, err
	}
	poll, err := session.launch(hostID, draft)
	if err != nil {
		return domain.Poll{}, s.mapEnded(err)
	}
	span.SetAttributes(attribute.String("poll.id", poll.ID))
	return poll, nil
}

// ClosePoll ends a poll early on behalf of the host. closed is false when
// the poll had already closed; that is not an error.
func (s *LiveService) ClosePoll(ctx context.Context, code, hostID, pollID string) (domain.PollResults, bool, error) {
	_, span := s.tracer.Start(ctx, "LiveService.ClosePoll", trace.WithAttributes(
		attribute.String("session.code", code), attribute.String("poll.id", pollID)))
	defer span.End()

	session, err := s.get(code)
	if err != nil {
		return domain.PollResults{}, false, err
	}
	results, closed, err := session.closePoll(hostID, pollID)
	if err != nil {
		return domain.PollResults{}, false, s.mapEnded(err)
	}
	return results, closed, nil
}

// SubmitAnswer admits and scores a participant's answer.
func (s *LiveService) SubmitAnswer(ctx context.Context, code, participantID string, sub Submission) (domain.Answer, error) {
	_, span := s.tracer.Start(ctx, "LiveService.SubmitAnswer", trace.WithAttributes(
		attribute.String("session.code", code), attribute.String("poll.id", sub.PollID)))
	defer span.End()

	session, err := s.get(code)
	if err != nil {
		return domain.Answer{}, err
	}
	answer, err := session.submit(participantID, sub)
	if err != nil {
		span.SetAttributes(attribute.String("answer.rejected", string(domain.KindOf(err))))
		return domain.Answer{}, s.mapEnded(err)
	}
	span.SetAttributes(attribute.Int("answer.points", answer.PointsAwarded))
	return answer, nil
}

func (s *LiveService) Leaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	session, err := s.get(code)
	if err != nil {
		return nil, err
	}
	return session.Leaderboard(), nil
}

func (s *LiveService) RankOf(ctx context.Context, code, participantID string) (int, error) {
	session, err := s.get(code)
	if err != nil {
		return 0, err
	}
	return session.RankOf(participantID)
}

func (s *LiveService) Snapshot(ctx context.Context, code string) (domain.SessionSnapshot, error) {
	session, err := s.get(code)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// ResetScores zeroes all standings in a session.
func (s *LiveService) ResetScores(ctx context.Context, code, hostID string) error {
	session, err := s.get(code)
	if err != nil {
		return err
	}
	return s.mapEnded(session.resetScores(hostID))
}

// Reconcile runs the leaderboard drift check for one session.
func (s *LiveService) Reconcile(ctx context.Context, code string) (bool, error) {
	session, err := s.get(code)
	if err != nil {
		return false, err
	}
	return session.Reconcile(), nil
}

// History returns a session's closed polls. A live session answers from
// memory, so polls closed a moment ago are included even while the archive
// is still catching up. An ended session is looked up in the archive by the
// newest session that used the code.
func (s *LiveService) History(ctx context.Context, code string) ([]domain.Poll, error) {
	code = NormalizeCode(code)
	if session, err := s.get(code); err == nil {
		return session.ClosedPolls(), nil
	}
	if s.history == nil {
		return nil, domain.ErrSessionNotFound
	}
	record, err := s.history.LatestSession(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load archived session: %w", err)
	}
	polls, err := s.history.ListPolls(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("list archived polls: %w", err)
	}
	return polls, nil
}

// Sweep ends sessions that have been idle longer than the inactivity timeout.
func (s *LiveService) Sweep(now time.Time) int {
	if s.settings.InactivityTimeout <= 0 {
		return 0
	}
	ended := 0
	for _, session := range s.sessions.List() {
		if now.Sub(session.IdleSince()) < s.settings.InactivityTimeout {
			continue
		}
		if err := session.end("", "inactivity", true); err == nil {
			ended++
			s.logger.Info("session swept", "session", session.Code())
		}
		s.sessions.Delete(session.Code())
		s.clearDrafts(context.Background(), session.Code())
	}
	return ended
}

func (s *LiveService) clearDrafts(ctx context.Context, code string) {
	if s.drafts == nil {
		return
	}
	if err := s.drafts.Clear(ctx, code); err != nil {
		s.logger.Warn("clear drafts failed", "session", code, "error", err)
	}
}

// Run sweeps idle sessions until ctx is cancelled.
func (s *LiveService) Run(ctx context.Context) error {
	interval := s.settings.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.clock.Now())
		}
	}
}

// mapEnded hides sessions that ended between lookup and mutation.
func (s *LiveService) mapEnded(err error) error {
	if err == domain.ErrSessionEnded {
		return domain.ErrSessionNotFound
	}
	return err
}
