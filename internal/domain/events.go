package domain

import "time"

// EventType names a session-scoped state change delivered to members.
type EventType string

const (
	EventPollStarted        EventType = "poll-started"
	EventPollEnded          EventType = "poll-ended"
	EventLeaderboardUpdated EventType = "leaderboard-updated"
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventSessionEnded       EventType = "session-ended"
)

// Event is one fan-out message. Seq is strictly increasing within a session.
type Event struct {
	Type        EventType `json:"type"`
	SessionCode string    `json:"sessionCode"`
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Payload     any       `json:"payload"`
}

type PollStartedPayload struct {
	Poll PollView `json:"poll"`
}

type PollEndedPayload struct {
	Results PollResults `json:"results"`
}

type LeaderboardPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// MembershipPayload accompanies participant-joined and participant-left.
type MembershipPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Connected     int    `json:"connected"`
	Total         int    `json:"total"`
}

type SessionEndedPayload struct {
	Reason string `json:"reason"`
}
