package domain

import "math"

const (
	CorrectAnswerBase = 100
	SpeedBonusMax     = 50
	StreakBonus       = 10
)

// ScoreInput carries everything the scoring formula depends on.
type ScoreInput struct {
	Correct             bool
	ResponseTimeSeconds float64
	TimeLimitSeconds    int
	Difficulty          Difficulty
	PriorStreak         int
}

// Score computes the points for one answer. It is a pure function of its input.
//
//	base       = correct ? 100 : 0
//	speedBonus = correct ? max(0, 50 * (1 - rt/limit)) : 0
//	points     = round((base + speedBonus) * multiplier) + (correct && streak >= 1 ? 10 : 0)
func Score(in ScoreInput) int {
	if !in.Correct {
		return 0
	}
	speed := 0.0
	if in.TimeLimitSeconds > 0 {
		speed = math.Max(0, SpeedBonusMax*(1-in.ResponseTimeSeconds/float64(in.TimeLimitSeconds)))
	}
	points := int(math.Round((CorrectAnswerBase + speed) * in.Difficulty.Multiplier()))
	if in.PriorStreak >= 1 {
		points += StreakBonus
	}
	return points
}

// NextStreak returns the streak after an answer.
func NextStreak(prior int, correct bool) int {
	if correct {
		return prior + 1
	}
	return 0
}
