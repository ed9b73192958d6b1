package ingest

import (
	"context"
	"io"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// DocumentStore defines the raw document storage contract.
type DocumentStore interface {
	Get(ctx context.Context, docID string) (domain.Document, error)
	Checksum(ctx context.Context, docID string) (string, error)
	Open(ctx context.Context, docID string) (io.ReadCloser, error)
	GetConfig(ctx context.Context, docID string) (domain.DocumentConfig, bool, error)
	SetConfig(ctx context.Context, docID string, cfg domain.DocumentConfig) error
	Delete(ctx context.Context, docID string) error
	List(ctx context.Context) ([]domain.Document, error)
}

// ChunkIndex defines the vector index contract for chunk storage plus the
// per-document fingerprint and state records that drive idempotent syncs.
type ChunkIndex interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	DeleteByDoc(ctx context.Context, docID string) (int, error)
	CountByDoc(ctx context.Context, docID string) (int, error)

	GetFingerprint(ctx context.Context, docID string) (string, error)
	SetFingerprint(ctx context.Context, docID, fp string) error
	ClearFingerprint(ctx context.Context, docID string) error

	GetState(ctx context.Context, docID string) (domain.IndexState, error)
	SetState(ctx context.Context, docID string, state domain.IndexState) error
	ClearState(ctx context.Context, docID string) error
}

// Embedder vectorizes chunk batches.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// ExtractFunc pulls plain text out of a raw document stream.
type ExtractFunc func(mimeType string, r io.Reader) (string, error)

// SplitFunc cuts extracted text into chunks.
type SplitFunc func(docID, text string, size, overlap int) []domain.Chunk
