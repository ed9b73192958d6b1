package chat

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/index"
)

// Retriever searches indexed chunks by query vector. Sample returns
// indexed chunks without a query, for prompt material.
type Retriever interface {
	Search(ctx context.Context, vector []float32, opts index.SearchOptions) ([]domain.Retrieved, error)
	Sample(ctx context.Context, limit int) ([]domain.Chunk, error)
	CountChunks(ctx context.Context) (int, error)
}

// Embedder vectorizes the user question.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Generator produces the final answer, in one shot or streamed.
type Generator interface {
	domain.Generator
	domain.StreamGenerator
}
