package app_test

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

func TestLeaderboardOrdering(t *testing.T) {
	board := app.RecomputeLeaderboard([]domain.Participant{
		{ID: "c", Score: 200, TotalAnswers: 2, TotalResponseTime: 10 * time.Second},
		{ID: "a", Score: 200, TotalAnswers: 2, TotalResponseTime: 4 * time.Second},
		{ID: "b", Score: 200, TotalAnswers: 1, TotalResponseTime: 2 * time.Second},
		{ID: "idle", Score: 0},
		{ID: "zero", Score: 0, TotalAnswers: 1, TotalResponseTime: 29 * time.Second},
		{ID: "top", Score: 350, TotalAnswers: 2, TotalResponseTime: 50 * time.Second},
	})

	var got []string
	for _, e := range board.Snapshot() {
		got = append(got, e.ParticipantID)
	}
	// a and b tie on average (2s) and fall back to id
	want := []string{"top", "a", "b", "c", "zero", "idle"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	if rank, _ := board.RankOf("c"); rank != 4 {
		t.Fatalf("expected c ranked 4, got %d", rank)
	}
}

func TestLeaderboardIncrementalMatchesRecompute(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		participants := make(map[string]*domain.Participant)
		incremental := app.NewLeaderboard()

		n := 2 + rnd.Intn(30)
		for i := 0; i < n; i++ {
			p := &domain.Participant{ID: fmt.Sprintf("p%02d", i), DisplayName: fmt.Sprintf("P%d", i)}
			participants[p.ID] = p
			incremental.Upsert(*p)
		}

		for step := 0; step < 200; step++ {
			p := participants[fmt.Sprintf("p%02d", rnd.Intn(n))]
			correct := rnd.Intn(2) == 0
			// coarse values so score and average ties are common
			p.TotalAnswers++
			p.TotalResponseTime += time.Duration(rnd.Intn(4)) * time.Second
			if correct {
				p.Score += 100 + 10*rnd.Intn(2)
				p.CorrectAnswers++
			}
			p.Streak = domain.NextStreak(p.Streak, correct)
			incremental.Upsert(*p)

			all := make([]domain.Participant, 0, n)
			for _, q := range participants {
				all = append(all, *q)
			}
			full := app.RecomputeLeaderboard(all)
			if !incremental.Equal(full) {
				t.Fatalf("seed %d step %d: incremental board diverged\n inc=%v\nfull=%v",
					seed, step, incremental.Snapshot(), full.Snapshot())
			}
			rank, ok := incremental.RankOf(p.ID)
			wantRank, _ := full.RankOf(p.ID)
			if !ok || rank != wantRank {
				t.Fatalf("seed %d step %d: rank %d, want %d", seed, step, rank, wantRank)
			}
		}
	}
}

func TestLeaderboardEntryStats(t *testing.T) {
	board := app.NewLeaderboard()
	board.Upsert(domain.Participant{
		ID:                "u1",
		DisplayName:       "Ada",
		Score:             320,
		Streak:            2,
		CorrectAnswers:    3,
		TotalAnswers:      4,
		TotalResponseTime: 10 * time.Second,
	})
	e := board.Snapshot()[0]
	if e.Accuracy != 0.75 || e.AverageResponseTime != 2.5 || e.Rank != 1 || e.DisplayName != "Ada" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if board.Len() != 1 {
		t.Fatalf("expected one entry")
	}
}
