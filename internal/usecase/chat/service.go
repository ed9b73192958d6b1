package chat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/index"
)

const systemPrompt = `You are a helpful assistant answering questions about the user's documents.
Answer using ONLY the numbered context passages below. If the context does not contain the answer, say so plainly.
When a statement is grounded in a passage, cite it with its number in square brackets, e.g. [1].
Do not invent citations for passages you did not use.`

const (
	emptyIndexMessage = "I don't have any indexed documents to answer from yet. " +
		"Upload and sync a document first, then ask again."
	fallbackMessage = "ERROR: I couldn't generate an answer right now. Please try again in a moment."
)

const snippetRunes = 200

// Request is one retrieval-generation question. Model empty and
// Temperature negative select the configured provider defaults.
type Request struct {
	Question    string
	K           int
	Mode        domain.SearchMode
	Model       string
	Temperature float32
}

// Config carries retrieval-generation parameters.
type Config struct {
	DefaultK    int
	MaxK        int
	FetchFactor int
	Lambda      float64
}

// Service answers questions over the indexed corpus with citations.
type Service struct {
	retriever Retriever
	embedder  Embedder
	generator Generator
	model     string
	cfg       Config
	logger    *zap.Logger
}

// New creates a chat service. model is reported on answers; the provider
// holds the actual default.
func New(
	retriever Retriever, embedder Embedder, generator Generator,
	model string, cfg Config, logger *zap.Logger,
) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 3
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 20
	}
	return &Service{
		retriever: retriever,
		embedder:  embedder,
		generator: generator,
		model:     model,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Service) validate(req *Request) error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return fmt.Errorf("question is required: %w", domain.ErrInvalidQuery)
	}
	if req.K < 0 {
		return fmt.Errorf("k must be non-negative, got %d: %w", req.K, domain.ErrInvalidQuery)
	}
	if req.K == 0 {
		req.K = s.cfg.DefaultK
	}
	if req.K > s.cfg.MaxK {
		return fmt.Errorf("k must be at most %d, got %d: %w", s.cfg.MaxK, req.K, domain.ErrInvalidQuery)
	}
	if req.Mode == "" {
		req.Mode = domain.SearchSimilarity
	}
	if req.Temperature == 0 {
		// The OpenAI wire format cannot carry an explicit zero either;
		// treat it as "use the provider default".
		req.Temperature = -1
	}
	return nil
}

// retrieve embeds the question and fetches the supporting chunks.
// ok=false means the index holds no chunks at all.
func (s *Service) retrieve(ctx context.Context, req *Request) ([]domain.Retrieved, bool, error) {
	total, err := s.retriever.CountChunks(ctx)
	if err != nil {
		return nil, false, err
	}
	if total == 0 {
		return nil, false, nil
	}

	emb, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		return nil, false, fmt.Errorf("embed question: %w", err)
	}

	retrieved, err := s.retriever.Search(ctx, emb.Embedding, index.SearchOptions{
		K:           req.K,
		Mode:        req.Mode,
		FetchFactor: s.cfg.FetchFactor,
		Lambda:      s.cfg.Lambda,
	})
	if err != nil {
		return nil, false, err
	}
	return retrieved, true, nil
}

// buildPrompt renders the numbered context block followed by the question.
func buildPrompt(question string, retrieved []domain.Retrieved) string {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for i, r := range retrieved {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, r.Chunk.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// Answer runs one retrieval-generation cycle and returns the answer with
// citations for every [n] marker the model actually used.
func (s *Service) Answer(ctx context.Context, req Request) (domain.Answer, error) {
	if err := s.validate(&req); err != nil {
		return domain.Answer{}, err
	}

	retrieved, ok, err := s.retrieve(ctx, &req)
	if err != nil {
		return domain.Answer{}, err
	}
	if !ok {
		return s.answerWith(req.Model, emptyIndexMessage, nil, true), nil
	}

	text, err := s.generator.Generate(ctx, s.generationRequest(&req, retrieved))
	if err != nil {
		s.logger.Error("Generation failed, serving fallback",
			zap.String("question", req.Question), zap.Error(err))
		return s.answerWith(req.Model, fallbackMessage, nil, false), nil
	}

	return s.answerWith(req.Model, text, citationsFor(text, retrieved), true), nil
}

func (s *Service) generationRequest(req *Request, retrieved []domain.Retrieved) domain.GenerationRequest {
	return domain.GenerationRequest{
		System:      systemPrompt,
		Prompt:      buildPrompt(req.Question, retrieved),
		Model:       req.Model,
		Temperature: req.Temperature,
	}
}

// AnswerStream is Answer with incremental delivery: onDelta receives each
// partial-text token, and the returned Answer carries the full message.
// Citations can only be computed once the stream has ended.
func (s *Service) AnswerStream(
	ctx context.Context, req Request, onDelta func(delta string) error,
) (domain.Answer, error) {
	if err := s.validate(&req); err != nil {
		return domain.Answer{}, err
	}

	retrieved, ok, err := s.retrieve(ctx, &req)
	if err != nil {
		return domain.Answer{}, err
	}
	if !ok {
		if err := onDelta(emptyIndexMessage); err != nil {
			return domain.Answer{}, fmt.Errorf("deliver message: %w", err)
		}
		return s.answerWith(req.Model, emptyIndexMessage, nil, true), nil
	}

	text, err := s.generator.GenerateStream(ctx, s.generationRequest(&req, retrieved), onDelta)
	if err != nil {
		s.logger.Error("Streamed generation failed, serving fallback",
			zap.String("question", req.Question), zap.Error(err))
		if text == "" {
			// Nothing was sent yet, the fallback can still go out in-band.
			if deliverErr := onDelta(fallbackMessage); deliverErr != nil {
				return domain.Answer{}, fmt.Errorf("deliver fallback: %w", deliverErr)
			}
			return s.answerWith(req.Model, fallbackMessage, nil, false), nil
		}
		return s.answerWith(req.Model, text, citationsFor(text, retrieved), false), nil
	}

	return s.answerWith(req.Model, text, citationsFor(text, retrieved), true), nil
}

func (s *Service) answerWith(model, message string, citations []domain.Citation, success bool) domain.Answer {
	if model == "" {
		model = s.model
	}
	return domain.Answer{
		Message:   message,
		Citations: citations,
		Timestamp: time.Now().UTC(),
		Model:     model,
		Success:   success,
	}
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// citationsFor returns one citation per distinct [n] marker present in the
// message, in marker order, dropping markers outside the retrieved range.
func citationsFor(message string, retrieved []domain.Retrieved) []domain.Citation {
	var citations []domain.Citation
	seen := make(map[int]bool)

	for _, m := range citationMarker.FindAllStringSubmatch(message, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(retrieved) || seen[n] {
			continue
		}
		seen[n] = true
		chunk := retrieved[n-1].Chunk
		citations = append(citations, domain.Citation{
			DocID:   chunk.DocID,
			Seq:     chunk.Seq,
			Snippet: snippet(chunk.Text),
		})
	}
	return citations
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "…"
}
