package domain

import (
	"strings"
	"time"
)

// Difficulty is the tier of a poll; it scales the points awarded.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes free-form difficulty labels such as "Easy".
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium, "":
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	}
	return "", false
}

// Multiplier returns the score multiplier for the tier.
func (d Difficulty) Multiplier() float64 {
	switch d {
	case DifficultyEasy:
		return 1.0
	case DifficultyHard:
		return 2.0
	default:
		return 1.5
	}
}

// PollState is the lifecycle state of a poll.
type PollState string

const (
	StateDraft  PollState = "draft"
	StateActive PollState = "active"
	StateClosed PollState = "closed"
)

// CloseReason records why a poll stopped accepting answers.
type CloseReason string

const (
	CloseHostEnded CloseReason = "host-ended"
	CloseTimeout   CloseReason = "timeout"
)

// ConnectionStatus tracks whether a participant currently holds a live connection.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// PollDraft is a candidate poll, hand written or produced by the generator.
type PollDraft struct {
	Question         string     `json:"question"`
	Options          []string   `json:"options"`
	CorrectIndex     int        `json:"correctAnswerIndex"`
	Difficulty       Difficulty `json:"difficulty"`
	TimeLimitSeconds int        `json:"timeLimit,omitempty"`
	Explanation      string     `json:"explanation,omitempty"`
	Topic            string     `json:"topic,omitempty"`
}

// QueuedDraft is a draft waiting in a session's queue until the host launches it.
type QueuedDraft struct {
	ID       string    `json:"id"`
	Draft    PollDraft `json:"draft"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Poll is one multiple-choice question with a bounded lifecycle.
type Poll struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"sessionId"`
	SessionCode      string      `json:"sessionCode"`
	Question         string      `json:"question"`
	Options          []string    `json:"options"`
	CorrectIndex     int         `json:"correctIndex"`
	Difficulty       Difficulty  `json:"difficulty"`
	TimeLimitSeconds int         `json:"timeLimit"`
	Explanation      string      `json:"explanation,omitempty"`
	State            PollState   `json:"state"`
	CreatedAt        time.Time   `json:"createdAt"`
	ActivatedAt      time.Time   `json:"activatedAt,omitempty"`
	ClosedAt         time.Time   `json:"closedAt,omitempty"`
	CloseReason      CloseReason `json:"closeReason,omitempty"`
}

// TimeLimit returns the poll time limit as a duration.
func (p Poll) TimeLimit() time.Duration {
	return time.Duration(p.TimeLimitSeconds) * time.Second
}

// Deadline is the server-side instant after which answers are rejected.
func (p Poll) Deadline() time.Time {
	return p.ActivatedAt.Add(p.TimeLimit())
}

// Transition moves the poll one step along draft -> active -> closed.
func (p *Poll) Transition(to PollState) error {
	switch {
	case p.State == StateDraft && to == StateActive:
	case p.State == StateActive && to == StateClosed:
	default:
		return ErrInvalidTransition
	}
	p.State = to
	return nil
}

// View strips the correct answer so the poll can be shown to participants.
func (p Poll) View() PollView {
	return PollView{
		ID:               p.ID,
		Question:         p.Question,
		Options:          append([]string(nil), p.Options...),
		Difficulty:       p.Difficulty,
		TimeLimitSeconds: p.TimeLimitSeconds,
		State:            p.State,
		ActivatedAt:      p.ActivatedAt,
		Deadline:         p.Deadline(),
	}
}

// PollView is the participant-facing projection of a poll.
type PollView struct {
	ID               string     `json:"id"`
	Question         string     `json:"question"`
	Options          []string   `json:"options"`
	Difficulty       Difficulty `json:"difficulty"`
	TimeLimitSeconds int        `json:"timeLimit"`
	State            PollState  `json:"state"`
	ActivatedAt      time.Time  `json:"activatedAt"`
	Deadline         time.Time  `json:"deadline"`
}

// Participant represents a session member and their accumulated standing.
type Participant struct {
	ID                string           `json:"id"`
	DisplayName       string           `json:"displayName"`
	SessionCode       string           `json:"sessionCode"`
	Status            ConnectionStatus `json:"status"`
	Score             int              `json:"score"`
	Streak            int              `json:"streak"`
	CorrectAnswers    int              `json:"correctAnswers"`
	TotalAnswers      int              `json:"totalAnswers"`
	TotalResponseTime time.Duration    `json:"-"`
	JoinedAt          time.Time        `json:"joinedAt"`
	Responses         []Answer         `json:"responses,omitempty"`
}

// Answer is an accepted submission. It is immutable once stored.
type Answer struct {
	PollID              string    `json:"pollId"`
	ParticipantID       string    `json:"participantId"`
	SessionID           string    `json:"sessionId"`
	SessionCode         string    `json:"sessionCode"`
	OptionIndex         int       `json:"optionIndex"`
	SubmittedAt         time.Time `json:"submittedAt"`
	ClientTimestamp     time.Time `json:"clientTimestamp,omitempty"`
	IsCorrect           bool      `json:"isCorrect"`
	ResponseTimeSeconds float64   `json:"responseTimeSeconds"`
	PointsAwarded       int       `json:"pointsAwarded"`
}

// LeaderboardEntry is a derived, snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID       string  `json:"participantId"`
	DisplayName         string  `json:"displayName"`
	Score               int     `json:"score"`
	CorrectAnswers      int     `json:"correctAnswers"`
	TotalAnswers        int     `json:"totalAnswers"`
	Accuracy            float64 `json:"accuracy"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	Streak              int     `json:"streak"`
	Rank                int     `json:"rank"`
}

// OptionResult is one bar of a poll's answer breakdown.
type OptionResult struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PollResults aggregates a poll's answers at close time.
type PollResults struct {
	PollID              string         `json:"pollId"`
	SessionID           string         `json:"sessionId"`
	SessionCode         string         `json:"sessionCode"`
	Question            string         `json:"question"`
	CorrectIndex        int            `json:"correctIndex"`
	Explanation         string         `json:"explanation,omitempty"`
	Reason              CloseReason    `json:"reason"`
	TotalResponses      int            `json:"totalResponses"`
	CorrectResponses    int            `json:"correctResponses"`
	AverageResponseTime float64        `json:"averageResponseTime"`
	OptionBreakdown     []OptionResult `json:"optionBreakdown"`
	ClosedAt            time.Time      `json:"closedAt"`
}

// SessionRecord is the archived form of a session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	HostID    string    `json:"hostId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	EndReason string    `json:"endReason,omitempty"`
}

// SessionSnapshot is a point-in-time view of a live session.
type SessionSnapshot struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	HostID           string    `json:"hostId"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	EndedAt          time.Time `json:"endedAt,omitempty"`
	ActivePoll       *PollView `json:"activePoll,omitempty"`
	ClosedPolls      []string  `json:"closedPolls"`
	ParticipantCount int       `json:"participantCount"`
	ConnectedCount   int       `json:"connectedCount"`
	RemainingSeconds float64   `json:"remainingSeconds,omitempty"`
}

// Resync is sent to a member on (re)join in place of replaying missed events.
type Resync struct {
	Session      SessionSnapshot    `json:"session"`
	IsHost       bool               `json:"isHost"`
	Participant  *Participant       `json:"participant,omitempty"`
	Rank         int                `json:"rank,omitempty"`
	ActiveAnswer *Answer            `json:"activeAnswer,omitempty"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
}
