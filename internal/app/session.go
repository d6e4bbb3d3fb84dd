package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-poll-service/internal/domain"
)

// Settings bounds session and poll behaviour.
type Settings struct {
	MaxParticipants   int
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	SubscriberBuffer  int
	DefaultTimeLimit  int // seconds
	MaxTimeLimit      int // seconds
}

// DefaultSettings mirrors the limits the hosted product shipped with.
func DefaultSettings() Settings {
	return Settings{
		MaxParticipants:   100,
		InactivityTimeout: 30 * time.Minute,
		SweepInterval:     time.Minute,
		SubscriberBuffer:  64,
		DefaultTimeLimit:  30,
		MaxTimeLimit:      300,
	}
}

// ParticipantJoin identifies a member joining a session.
type ParticipantJoin struct {
	ID          string
	DisplayName string
}

// Session is one host-run room. Every mutation goes through mu, which makes
// the session its own serialized execution context: answer admission, poll
// transitions and deadline expiry never interleave.
type Session struct {
	id       string
	code     string
	hostID   string
	settings Settings
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
	hub      *hub

	mu           sync.Mutex
	active       bool
	createdAt    time.Time
	endedAt      time.Time
	endReason    string
	lastActivity time.Time
	seq          uint64
	participants map[string]*domain.Participant
	polls        map[string]*domain.Poll
	activePollID string
	history      []string
	answers      map[string]map[string]domain.Answer
	timer        Timer
	board        *Leaderboard
}

type sessionDeps struct {
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
}

// NewSession is exported for infrastructure layers and tests that need a
// standalone session on the wall clock.
func NewSession(code, hostID string, settings Settings) *Session {
	return newSession(code, hostID, settings, sessionDeps{})
}

func newSession(code, hostID string, settings Settings, deps sessionDeps) *Session {
	if deps.clock == nil {
		deps.clock = SystemClock()
	}
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	if deps.recorder == nil {
		deps.recorder = NopRecorder{}
	}
	now := deps.clock.Now()
	return &Session{
		id:           uuid.NewString(),
		code:         code,
		hostID:       hostID,
		settings:     settings,
		clock:        deps.clock,
		logger:       deps.logger.With("session", code),
		recorder:     deps.recorder,
		hub:          newHub(code, settings.SubscriberBuffer, deps.logger),
		active:       true,
		createdAt:    now,
		lastActivity: now,
		participants: make(map[string]*domain.Participant),
		polls:        make(map[string]*domain.Poll),
		answers:      make(map[string]map[string]domain.Answer),
		board:        NewLeaderboard(),
	}
}

// ID distinguishes this session from earlier ones that used the same code.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) Code() string {
	return s.code
}

func (s *Session) HostID() string {
	return s.hostID
}

// IsActive reports whether the session still accepts mutations.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IdleSince returns the time of the last accepted mutation.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Record returns the archivable form of the session.
func (s *Session) Record() domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() domain.SessionRecord {
	return domain.SessionRecord{
		ID:        s.id,
		Code:      s.code,
		HostID:    s.hostID,
		IsActive:  s.active,
		CreatedAt: s.createdAt,
		EndedAt:   s.endedAt,
		EndReason: s.endReason,
	}
}

func (s *Session) touchLocked(now time.Time) {
	s.lastActivity = now
}

func (s *Session) publishLocked(typ domain.EventType, payload any) {
	s.seq++
	s.hub.publish(domain.Event{
		Type:        typ,
		SessionCode: s.code,
		Seq:         s.seq,
		At:          s.clock.Now(),
		Payload:     payload,
	})
}

func (s *Session) membershipLocked(p *domain.Participant) domain.MembershipPayload {
	connected := 0
	for _, other := range s.participants {
		if other.Status == domain.Connected {
			connected++
		}
	}
	return domain.MembershipPayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Connected:     connected,
		Total:         len(s.participants),
	}
}

// join registers or reconnects a member and subscribes it to fan-out in the
// same critical section, so no event can slip between the resync and the
// first streamed event.
func (s *Session) join(p ParticipantJoin) (domain.Resync, *Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.Resync{}, nil, domain.ErrSessionEnded
	}
	now := s.clock.Now()

	if p.ID == s.hostID {
		sub := s.hub.subscribe(p.ID)
		s.touchLocked(now)
		return s.resyncLocked(p.ID), sub, nil
	}

	participant, reconnect := s.participants[p.ID]
	if !reconnect {
		if s.settings.MaxParticipants > 0 && len(s.participants) >= s.settings.MaxParticipants {
			return domain.Resync{}, nil, domain.ErrSessionFull
		}
		participant = &domain.Participant{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			SessionCode: s.code,
			JoinedAt:    now,
		}
		s.participants[p.ID] = participant
	}
	participant.Status = domain.Connected
	if p.DisplayName != "" {
		participant.DisplayName = p.DisplayName
	}
	s.touchLocked(now)

	sub := s.hub.subscribe(p.ID)
	if reconnect {
		s.reconcileLocked()
	}
	s.board.Upsert(*participant)
	s.publishLocked(domain.EventParticipantJoined, s.membershipLocked(participant))
	return s.resyncLocked(p.ID), sub, nil
}

// leave marks a participant disconnected. History and score are kept so a
// later join resumes where it left off.
func (s *Session) leave(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.ErrSessionEnded
	}
	return s.leaveLocked(participantID)
}

// disconnect drops one of a member's subscriptions. The member is only
// marked disconnected once its last subscription is gone. A subscription
// left over from an earlier session under the same code is just closed.
func (s *Session) disconnect(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Close()
	if sub.hub != s.hub || !s.active {
		return domain.ErrSessionEnded
	}
	if s.hub.subscriptions(sub.memberID) > 0 {
		return nil
	}
	return s.leaveLocked(sub.memberID)
}

func (s *Session) leaveLocked(participantID string) error {
	if participantID == s.hostID {
		return nil
	}
	participant, ok := s.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if participant.Status == domain.Disconnected {
		return nil
	}
	participant.Status = domain.Disconnected
	s.touchLocked(s.clock.Now())
	s.publishLocked(domain.EventParticipantLeft, s.membershipLocked(participant))
	return nil
}

// end closes the active poll, marks the session inactive and stops fan-out.
// force skips the host check for system-initiated ends such as the idle sweep.
func (s *Session) end(callerID, reason string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.ErrSessionEnded
	}
	if !force && callerID != s.hostID {
		return domain.ErrNotHost
	}
	if s.activePollID != "" {
		s.closePollLocked(s.activePollID, domain.CloseHostEnded)
	}
	now := s.clock.Now()
	s.active = false
	s.endedAt = now
	s.endReason = reason
	s.touchLocked(now)
	s.publishLocked(domain.EventSessionEnded, domain.SessionEndedPayload{Reason: reason})
	s.hub.close()
	s.recorder.RecordSession(s.recordLocked())
	s.logger.Info("session ended", "reason", reason, "polls", len(s.history), "participants", len(s.participants))
	return nil
}

// resetScores zeroes every participant's standing. This is the only path
// along which a score may decrease.
func (s *Session) resetScores(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.ErrSessionEnded
	}
	if callerID != s.hostID {
		return domain.ErrNotHost
	}
	if s.activePollID != "" {
		return domain.ErrPollRunning
	}
	for _, p := range s.participants {
		p.Score = 0
		p.Streak = 0
		p.CorrectAnswers = 0
		p.TotalAnswers = 0
		p.TotalResponseTime = 0
		p.Responses = nil
	}
	s.board = RecomputeLeaderboard(s.participantsLocked())
	s.touchLocked(s.clock.Now())
	s.publishLocked(domain.EventLeaderboardUpdated, domain.LeaderboardPayload{Entries: s.board.Snapshot()})
	return nil
}

// Reconcile recomputes the leaderboard from participant state and replaces
// the incremental board if the two disagree. It reports whether drift was found.
func (s *Session) Reconcile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	drifted := s.reconcileLocked()
	if drifted && s.active {
		s.publishLocked(domain.EventLeaderboardUpdated, domain.LeaderboardPayload{Entries: s.board.Snapshot()})
	}
	return drifted
}

func (s *Session) reconcileLocked() bool {
	fresh := RecomputeLeaderboard(s.participantsLocked())
	if s.board.Equal(fresh) {
		return false
	}
	s.logger.Warn("leaderboard drift detected, using full recompute",
		"incremental", s.board.Len(), "recomputed", fresh.Len())
	s.board = fresh
	return true
}

func (s *Session) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// Leaderboard returns the ordered standings.
func (s *Session) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Snapshot()
}

// RankOf returns a participant's 1-indexed rank.
func (s *Session) RankOf(participantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rank, ok := s.board.RankOf(participantID)
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	return rank, nil
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		ID:               s.id,
		Code:             s.code,
		HostID:           s.hostID,
		IsActive:         s.active,
		CreatedAt:        s.createdAt,
		EndedAt:          s.endedAt,
		ClosedPolls:      append([]string{}, s.history...),
		ParticipantCount: len(s.participants),
	}
	for _, p := range s.participants {
		if p.Status == domain.Connected {
			snap.ConnectedCount++
		}
	}
	if poll, ok := s.polls[s.activePollID]; ok {
		view := poll.View()
		snap.ActivePoll = &view
		if remaining := poll.Deadline().Sub(s.clock.Now()); remaining > 0 {
			snap.RemainingSeconds = remaining.Seconds()
		}
	}
	return snap
}

// ClosedPolls returns the session's closed polls in close order.
func (s *Session) ClosedPolls() []domain.Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Poll, 0, len(s.history))
	for _, id := range s.history {
		out = append(out, copyPoll(s.polls[id]))
	}
	return out
}

func (s *Session) resyncLocked(memberID string) domain.Resync {
	resync := domain.Resync{
		Session:     s.snapshotLocked(),
		IsHost:      memberID == s.hostID,
		Leaderboard: s.board.Snapshot(),
	}
	if p, ok := s.participants[memberID]; ok {
		cp := *p
		cp.Responses = append([]domain.Answer(nil), p.Responses...)
		resync.Participant = &cp
		resync.Rank, _ = s.board.RankOf(memberID)
		if answer, ok := s.answers[s.activePollID][memberID]; ok {
			resync.ActiveAnswer = &answer
		}
	}
	return resync
}

func copyPoll(p *domain.Poll) domain.Poll {
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	return cp
}
