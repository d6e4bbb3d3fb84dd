package app

import (
	"slices"
	"sort"
	"time"

	"live-poll-service/internal/domain"
)

// standing is the ranking key of one participant.
type standing struct {
	id           string
	name         string
	score        int
	correct      int
	answered     int
	responseTime time.Duration
	streak       int
}

func standingOf(p domain.Participant) standing {
	return standing{
		id:           p.ID,
		name:         p.DisplayName,
		score:        p.Score,
		correct:      p.CorrectAnswers,
		answered:     p.TotalAnswers,
		responseTime: p.TotalResponseTime,
		streak:       p.Streak,
	}
}

// before orders by score desc, then average response time asc (participants
// who never answered go last among equal scores), then id.
func (a standing) before(b standing) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if (a.answered > 0) != (b.answered > 0) {
		return a.answered > 0
	}
	if a.answered > 0 {
		// compare averages without division: ta/na < tb/nb <=> ta*nb < tb*na
		l := int64(a.responseTime) * int64(b.answered)
		r := int64(b.responseTime) * int64(a.answered)
		if l != r {
			return l < r
		}
	}
	return a.id < b.id
}

func (a standing) entry(rank int) domain.LeaderboardEntry {
	e := domain.LeaderboardEntry{
		ParticipantID:  a.id,
		DisplayName:    a.name,
		Score:          a.score,
		CorrectAnswers: a.correct,
		TotalAnswers:   a.answered,
		Streak:         a.streak,
		Rank:           rank,
	}
	if a.answered > 0 {
		e.Accuracy = float64(a.correct) / float64(a.answered)
		e.AverageResponseTime = a.responseTime.Seconds() / float64(a.answered)
	}
	return e
}

// Leaderboard keeps participants sorted. Updates locate the old and new
// positions by binary search instead of resorting the whole board.
type Leaderboard struct {
	order []standing
	byID  map[string]standing
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{byID: make(map[string]standing)}
}

// RecomputeLeaderboard rebuilds a board from scratch with a full sort.
func RecomputeLeaderboard(participants []domain.Participant) *Leaderboard {
	b := &Leaderboard{
		order: make([]standing, 0, len(participants)),
		byID:  make(map[string]standing, len(participants)),
	}
	for _, p := range participants {
		st := standingOf(p)
		b.order = append(b.order, st)
		b.byID[st.id] = st
	}
	sort.Slice(b.order, func(i, j int) bool {
		return b.order[i].before(b.order[j])
	})
	return b
}

func (b *Leaderboard) search(st standing) int {
	return sort.Search(len(b.order), func(i int) bool {
		return !b.order[i].before(st)
	})
}

// Upsert inserts or repositions a participant.
func (b *Leaderboard) Upsert(p domain.Participant) {
	st := standingOf(p)
	if old, ok := b.byID[st.id]; ok {
		if old == st {
			return
		}
		i := b.search(old)
		if i < len(b.order) && b.order[i].id == st.id {
			b.order = slices.Delete(b.order, i, i+1)
		}
	}
	b.order = slices.Insert(b.order, b.search(st), st)
	b.byID[st.id] = st
}

// RankOf returns the 1-indexed rank of a participant.
func (b *Leaderboard) RankOf(participantID string) (int, bool) {
	st, ok := b.byID[participantID]
	if !ok {
		return 0, false
	}
	return b.search(st) + 1, true
}

func (b *Leaderboard) Len() int {
	return len(b.order)
}

// Snapshot returns the ordered entries with ranks assigned.
func (b *Leaderboard) Snapshot() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(b.order))
	for i, st := range b.order {
		entries[i] = st.entry(i + 1)
	}
	return entries
}

// Equal reports whether both boards hold the same standings in the same order.
func (b *Leaderboard) Equal(other *Leaderboard) bool {
	return slices.Equal(b.order, other.order)
}
