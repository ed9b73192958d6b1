package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

const questionSystemPrompt = `You generate questions that can be answered from a given document passage.
Write exactly one clear, self-contained question about the passage's content.
Output only the question, with no preamble or numbering.`

const (
	defaultQuestionCount = 5
	maxQuestionCount     = 20
	passageRunes         = 1000
)

// QuestionsRequest asks for suggested questions over the indexed corpus.
// Count zero selects the default; Model empty and Temperature zero select
// the configured provider defaults.
type QuestionsRequest struct {
	Count       int
	Model       string
	Temperature float32
}

// Questions is a batch of suggested questions and the model that wrote them.
type Questions struct {
	Questions []string `json:"questions"`
	Model     string   `json:"model_used"`
}

// SuggestQuestions samples indexed chunks and asks the generator for one
// question per chunk, rotating through the sample when Count exceeds it.
func (s *Service) SuggestQuestions(ctx context.Context, req QuestionsRequest) (Questions, error) {
	if req.Count < 0 {
		return Questions{}, fmt.Errorf("count must be non-negative, got %d: %w", req.Count, domain.ErrInvalidQuery)
	}
	if req.Count == 0 {
		req.Count = defaultQuestionCount
	}
	if req.Count > maxQuestionCount {
		return Questions{}, fmt.Errorf("count must be at most %d, got %d: %w", maxQuestionCount, req.Count, domain.ErrInvalidQuery)
	}
	if req.Temperature == 0 {
		req.Temperature = -1
	}

	limit := 2 * req.Count
	if limit > maxQuestionCount {
		limit = maxQuestionCount
	}
	chunks, err := s.retriever.Sample(ctx, limit)
	if err != nil {
		return Questions{}, fmt.Errorf("sample chunks: %w", err)
	}
	if len(chunks) == 0 {
		return Questions{}, fmt.Errorf("no indexed content to generate questions from: %w", domain.ErrInvalidQuery)
	}

	questions := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		passage := truncateRunes(chunks[i%len(chunks)].Text, passageRunes)
		text, err := s.generator.Generate(ctx, domain.GenerationRequest{
			System:      questionSystemPrompt,
			Prompt:      "Passage:\n\n" + passage + "\n\nQuestion:",
			Model:       req.Model,
			Temperature: req.Temperature,
		})
		if err != nil {
			s.logger.Error("Question generation failed",
				zap.Int("question", i+1), zap.Error(err))
			return Questions{}, fmt.Errorf("generate question %d: %w", i+1, err)
		}
		if q := strings.TrimSpace(text); q != "" {
			questions = append(questions, q)
		}
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	return Questions{Questions: questions, Model: model}, nil
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
