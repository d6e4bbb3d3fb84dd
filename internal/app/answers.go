package app

import (
	"fmt"
	"time"

	"live-poll-service/internal/domain"
)

// Submission is a participant's answer as received from the client.
type Submission struct {
	PollID          string
	OptionIndex     int
	ClientTimestamp time.Time
}

// submit admits and scores one answer. Admission, scoring, the streak update
// and the leaderboard reinsertion happen under one lock hold, so they are a
// single transaction as far as any other request can observe.
func (s *Session) submit(participantID string, sub Submission) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return domain.Answer{}, domain.ErrSessionEnded
	}
	participant, ok := s.participants[participantID]
	if !ok {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}
	poll, ok := s.polls[sub.PollID]
	if !ok {
		return domain.Answer{}, domain.ErrPollNotFound
	}

	now := s.clock.Now()
	deadline := poll.Deadline()
	if poll.State != domain.StateActive {
		if poll.CloseReason == domain.CloseTimeout && now.After(deadline) {
			return domain.Answer{}, domain.ErrAnswerExpired
		}
		return domain.Answer{}, domain.ErrPollNotActive
	}
	// the timer may not have fired yet; the deadline is authoritative
	if now.After(deadline) {
		return domain.Answer{}, domain.ErrAnswerExpired
	}
	if _, dup := s.answers[poll.ID][participantID]; dup {
		return domain.Answer{}, domain.ErrAlreadyAnswered
	}
	if sub.OptionIndex < 0 || sub.OptionIndex >= len(poll.Options) {
		return domain.Answer{}, domain.NewError(domain.KindValidation,
			fmt.Sprintf("option index %d out of range [0,%d)", sub.OptionIndex, len(poll.Options)))
	}

	elapsed := now.Sub(poll.ActivatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if limit := poll.TimeLimit(); elapsed > limit {
		elapsed = limit
	}
	correct := sub.OptionIndex == poll.CorrectIndex
	responseTime := elapsed.Seconds()
	points := domain.Score(domain.ScoreInput{
		Correct:             correct,
		ResponseTimeSeconds: responseTime,
		TimeLimitSeconds:    poll.TimeLimitSeconds,
		Difficulty:          poll.Difficulty,
		PriorStreak:         participant.Streak,
	})

	answer := domain.Answer{
		PollID:              poll.ID,
		ParticipantID:       participantID,
		SessionID:           s.id,
		SessionCode:         s.code,
		OptionIndex:         sub.OptionIndex,
		SubmittedAt:         now,
		ClientTimestamp:     sub.ClientTimestamp,
		IsCorrect:           correct,
		ResponseTimeSeconds: responseTime,
		PointsAwarded:       points,
	}
	s.answers[poll.ID][participantID] = answer

	participant.Score += points
	participant.Streak = domain.NextStreak(participant.Streak, correct)
	participant.TotalAnswers++
	if correct {
		participant.CorrectAnswers++
	}
	participant.TotalResponseTime += elapsed
	participant.Responses = append(participant.Responses, answer)
	s.board.Upsert(*participant)
	s.touchLocked(now)

	s.publishLocked(domain.EventLeaderboardUpdated, domain.LeaderboardPayload{Entries: s.board.Snapshot()})
	s.recorder.RecordAnswer(answer)
	return answer, nil
}
