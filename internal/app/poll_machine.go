package app

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"live-poll-service/internal/domain"
)

const (
	MinOptions        = 2
	MaxOptions        = 6
	MaxQuestionLength = 500
	MaxOptionLength   = 200
)

// NormalizeDraft validates a draft and fills in defaults (time limit, difficulty).
func NormalizeDraft(d domain.PollDraft, settings Settings) (domain.PollDraft, error) {
	d.Question = strings.TrimSpace(d.Question)
	if d.Question == "" {
		return d, domain.NewError(domain.KindValidation, "question is required")
	}
	if utf8.RuneCountInString(d.Question) > MaxQuestionLength {
		return d, domain.NewError(domain.KindValidation, fmt.Sprintf("question exceeds %d characters", MaxQuestionLength))
	}
	if len(d.Options) < MinOptions || len(d.Options) > MaxOptions {
		return d, domain.NewError(domain.KindValidation, fmt.Sprintf("poll needs %d to %d options, got %d", MinOptions, MaxOptions, len(d.Options)))
	}
	options := make([]string, len(d.Options))
	for i, opt := range d.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return d, domain.NewError(domain.KindValidation, fmt.Sprintf("option %d is empty", i))
		}
		if utf8.RuneCountInString(opt) > MaxOptionLength {
			return d, domain.NewError(domain.KindValidation, fmt.Sprintf("option %d exceeds %d characters", i, MaxOptionLength))
		}
		options[i] = opt
	}
	d.Options = options
	if d.CorrectIndex < 0 || d.CorrectIndex >= len(d.Options) {
		return d, domain.NewError(domain.KindValidation, fmt.Sprintf("correct option index %d out of range", d.CorrectIndex))
	}
	difficulty, ok := domain.ParseDifficulty(string(d.Difficulty))
	if !ok {
		return d, domain.NewError(domain.KindValidation, fmt.Sprintf("unknown difficulty %q", d.Difficulty))
	}
	d.Difficulty = difficulty
	if d.TimeLimitSeconds == 0 {
		d.TimeLimitSeconds = settings.DefaultTimeLimit
	}
	if d.TimeLimitSeconds <= 0 || (settings.MaxTimeLimit > 0 && d.TimeLimitSeconds > settings.MaxTimeLimit) {
		return d, domain.NewError(domain.KindValidation, fmt.Sprintf("time limit must be between 1 and %d seconds", settings.MaxTimeLimit))
	}
	return d, nil
}

// launch activates a new poll and arms its deadline timer.
func (s *Session) launch(callerID string, draft domain.PollDraft) (domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.Poll{}, domain.ErrSessionEnded
	}
	if callerID != s.hostID {
		return domain.Poll{}, domain.ErrNotHost
	}
	draft, err := NormalizeDraft(draft, s.settings)
	if err != nil {
		return domain.Poll{}, err
	}
	if s.activePollID != "" {
		return domain.Poll{}, domain.ErrPollAlreadyActive
	}

	now := s.clock.Now()
	poll := &domain.Poll{
		ID:               uuid.NewString(),
		SessionID:        s.id,
		SessionCode:      s.code,
		Question:         draft.Question,
		Options:          draft.Options,
		CorrectIndex:     draft.CorrectIndex,
		Difficulty:       draft.Difficulty,
		TimeLimitSeconds: draft.TimeLimitSeconds,
		Explanation:      draft.Explanation,
		State:            domain.StateDraft,
		CreatedAt:        now,
	}
	if err := poll.Transition(domain.StateActive); err != nil {
		return domain.Poll{}, err
	}
	poll.ActivatedAt = now

	s.polls[poll.ID] = poll
	s.answers[poll.ID] = make(map[string]domain.Answer)
	s.activePollID = poll.ID
	pollID := poll.ID
	s.timer = s.clock.AfterFunc(poll.TimeLimit(), func() {
		s.expire(pollID)
	})
	s.touchLocked(now)

	s.publishLocked(domain.EventPollStarted, domain.PollStartedPayload{Poll: poll.View()})
	s.recorder.RecordPoll(copyPoll(poll))
	s.logger.Info("poll launched", "poll", poll.ID, "timeLimit", poll.TimeLimitSeconds, "difficulty", poll.Difficulty)
	return copyPoll(poll), nil
}

// closePoll is the host-initiated close. Closing a closed poll is a no-op and
// reports closed=false.
func (s *Session) closePoll(callerID, pollID string) (domain.PollResults, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.PollResults{}, false, domain.ErrSessionEnded
	}
	if callerID != s.hostID {
		return domain.PollResults{}, false, domain.ErrNotHost
	}
	if _, ok := s.polls[pollID]; !ok {
		return domain.PollResults{}, false, domain.ErrPollNotFound
	}
	results, closed := s.closePollLocked(pollID, domain.CloseHostEnded)
	return results, closed, nil
}

// expire is the deadline timer callback. It competes with closePoll for the
// session lock; whichever gets there second finds the poll closed.
func (s *Session) expire(pollID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, closed := s.closePollLocked(pollID, domain.CloseTimeout); closed {
		s.logger.Info("poll timed out", "poll", pollID)
	}
}

func (s *Session) closePollLocked(pollID string, reason domain.CloseReason) (domain.PollResults, bool) {
	poll, ok := s.polls[pollID]
	if !ok {
		return domain.PollResults{}, false
	}
	if poll.State != domain.StateActive {
		return s.resultsLocked(poll), false
	}
	if err := poll.Transition(domain.StateClosed); err != nil {
		return s.resultsLocked(poll), false
	}

	now := s.clock.Now()
	poll.ClosedAt = now
	if reason == domain.CloseTimeout {
		poll.ClosedAt = poll.Deadline()
	}
	poll.CloseReason = reason
	if s.activePollID == pollID {
		s.activePollID = ""
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
	s.history = append(s.history, pollID)
	s.touchLocked(now)

	results := s.resultsLocked(poll)
	s.publishLocked(domain.EventPollEnded, domain.PollEndedPayload{Results: results})
	s.recorder.RecordPoll(copyPoll(poll))
	s.recorder.RecordResults(results)
	if reason == domain.CloseHostEnded {
		s.logger.Info("poll closed", "poll", pollID, "responses", results.TotalResponses)
	}
	return results, true
}

func (s *Session) resultsLocked(poll *domain.Poll) domain.PollResults {
	results := domain.PollResults{
		PollID:          poll.ID,
		SessionID:       s.id,
		SessionCode:     s.code,
		Question:        poll.Question,
		CorrectIndex:    poll.CorrectIndex,
		Explanation:     poll.Explanation,
		Reason:          poll.CloseReason,
		ClosedAt:        poll.ClosedAt,
		OptionBreakdown: make([]domain.OptionResult, len(poll.Options)),
	}
	for i, text := range poll.Options {
		results.OptionBreakdown[i] = domain.OptionResult{Index: i, Text: text}
	}

	answers := s.answers[poll.ID]
	totalTime := 0.0
	for _, a := range answers {
		results.TotalResponses++
		if a.IsCorrect {
			results.CorrectResponses++
		}
		totalTime += a.ResponseTimeSeconds
		results.OptionBreakdown[a.OptionIndex].Count++
	}
	if results.TotalResponses > 0 {
		results.AverageResponseTime = totalTime / float64(results.TotalResponses)
		for i := range results.OptionBreakdown {
			results.OptionBreakdown[i].Percentage = float64(results.OptionBreakdown[i].Count) * 100 / float64(results.TotalResponses)
		}
	}
	return results
}
