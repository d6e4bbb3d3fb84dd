package generator

import (
	"context"
	"log/slog"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

// Fallback is the degraded mode of the generation collaborator: when the
// primary generator fails, canned drafts are returned instead of an error.
type Fallback struct {
	primary app.DraftGenerator
	logger  *slog.Logger
}

func NewFallback(primary app.DraftGenerator, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, logger: logger}
}

func (f *Fallback) Generate(ctx context.Context, transcript string) ([]domain.PollDraft, error) {
	drafts, err := f.primary.Generate(ctx, transcript)
	if err == nil && len(drafts) > 0 {
		return drafts, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.logger.Warn("draft generation failed, serving fallback drafts", "error", err)
	return GenericDrafts(), nil
}

// Demo serves canned drafts without calling any model. It is used when no
// API key is configured.
type Demo struct{}

func (Demo) Generate(context.Context, string) ([]domain.PollDraft, error) {
	return DemoDrafts(), nil
}

// DemoDrafts are the React-hooks questions shown in demo mode.
func DemoDrafts() []domain.PollDraft {
	return []domain.PollDraft{
		{
			Question:     "What is the primary purpose of useState in React?",
			Options:      []string{"Handle side effects", "Manage component state", "Make API calls", "Render components"},
			CorrectIndex: 1,
			Difficulty:   domain.DifficultyEasy,
			Topic:        "React Fundamentals",
			Explanation:  "useState is a React hook used to add state to functional components.",
		},
		{
			Question:     "When should you use useEffect in React?",
			Options:      []string{"To manage state", "To handle side effects", "To create components", "To style elements"},
			CorrectIndex: 1,
			Difficulty:   domain.DifficultyMedium,
			Topic:        "React Hooks",
			Explanation:  "useEffect is used for side effects like API calls, subscriptions, and DOM manipulation.",
		},
		{
			Question:     "What happens when you call setState in React?",
			Options:      []string{"Component re-renders immediately", "Component re-renders asynchronously", "Nothing happens", "Component unmounts"},
			CorrectIndex: 1,
			Difficulty:   domain.DifficultyMedium,
			Topic:        "React State Management",
			Explanation:  "setState triggers an asynchronous re-render of the component.",
		},
	}
}

// GenericDrafts are transcript-agnostic questions served after a failure.
func GenericDrafts() []domain.PollDraft {
	return []domain.PollDraft{
		{
			Question:     "Based on the discussion, what was the main topic covered?",
			Options:      []string{"Technology", "Business Strategy", "Team Management", "Product Development"},
			CorrectIndex: 0,
			Difficulty:   domain.DifficultyMedium,
			Topic:        "General",
			Explanation:  "This question helps assess if participants understood the main focus of the meeting.",
		},
		{
			Question:     "What was the key learning objective mentioned?",
			Options:      []string{"Understanding concepts", "Memorizing facts", "Following procedures", "Completing tasks"},
			CorrectIndex: 0,
			Difficulty:   domain.DifficultyEasy,
			Topic:        "Learning Objectives",
			Explanation:  "The primary goal was to help participants understand the core concepts discussed.",
		},
	}
}
