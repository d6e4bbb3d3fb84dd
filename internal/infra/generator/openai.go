package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"live-poll-service/internal/domain"
)

const systemPrompt = "You are an expert educator who creates engaging poll questions from meeting content. Always respond with valid JSON only."

const userPromptTemplate = `Based on the following meeting transcript, generate 3-5 relevant poll questions that would help gauge understanding and engagement.

Transcript: %q

Return the questions as a JSON array:
[
  {
    "question": "Question text here?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correctAnswer": 1,
    "difficulty": "Easy|Medium|Hard",
    "category": "Topic category",
    "explanation": "Why this answer is correct"
  }
]

Questions must be relevant to the content, clear and concise, have 4 options with the correct answer index (0-3), and an appropriate difficulty.`

// ErrEmptyCompletion is returned when the model answered with no content.
var ErrEmptyCompletion = errors.New("empty completion")

// Config holds the chat-completion settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// OpenAIGenerator asks a chat-completion model for poll drafts.
// It implements app.DraftGenerator.
type OpenAIGenerator struct {
	client openai.Client
	cfg    Config
}

func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT3_5Turbo)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), cfg: cfg}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, transcript string) ([]domain.PollDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf(userPromptTemplate, transcript)),
		},
		Temperature: openai.Float(g.cfg.Temperature),
		MaxTokens:   openai.Int(g.cfg.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}
	return ParseDrafts(completion.Choices[0].Message.Content)
}

// generatedQuestion is the shape the model is prompted to return.
type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Difficulty    string   `json:"difficulty"`
	Category      string   `json:"category"`
	Explanation   string   `json:"explanation"`
}

// ParseDrafts decodes a model reply. Models sometimes wrap the array in a
// markdown code fence; that is stripped first. Unknown difficulty labels
// fall back to medium.
func ParseDrafts(content string) ([]domain.PollDraft, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	var questions []generatedQuestion
	if err := json.Unmarshal([]byte(content), &questions); err != nil {
		return nil, fmt.Errorf("decode generated questions: %w", err)
	}
	drafts := make([]domain.PollDraft, 0, len(questions))
	for _, q := range questions {
		difficulty, ok := domain.ParseDifficulty(q.Difficulty)
		if !ok {
			difficulty = domain.DifficultyMedium
		}
		drafts = append(drafts, domain.PollDraft{
			Question:     q.Question,
			Options:      q.Options,
			CorrectIndex: q.CorrectAnswer,
			Difficulty:   difficulty,
			Explanation:  q.Explanation,
			Topic:        q.Category,
		})
	}
	return drafts, nil
}
