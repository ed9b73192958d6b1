package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// MIME types accepted by the document store.
const (
	MIMETypePDF  = "application/pdf"
	MIMETypeText = "text/plain"
)

// MaxChunkSize bounds chunk_size in any DocumentConfig.
const MaxChunkSize = 2000

// Document describes one uploaded source file. Raw bytes live in the
// document store and are never held on this struct.
type Document struct {
	ID        string    `json:"doc_id"`
	FileName  string    `json:"file_name"`
	MIMEType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentConfig holds per-document chunking parameters.
type DocumentConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// Validate checks the chunking bounds. Violations are rejected at write
// time so chunking itself never sees an invalid config.
func (c DocumentConfig) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf(
			"chunk_size must be in (0, %d], got %d: %w",
			MaxChunkSize, c.ChunkSize, ErrInvalidConfig,
		)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d: %w", c.ChunkOverlap, ErrInvalidConfig)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf(
			"chunk_overlap (%d) must be less than chunk_size (%d): %w",
			c.ChunkOverlap, c.ChunkSize, ErrInvalidConfig,
		)
	}
	return nil
}

// Fingerprint derives the idempotence key for a synced document: the same
// source bytes chunked with the same parameters always map to the same value.
func (c DocumentConfig) Fingerprint(sourceChecksum string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d|%d|%s", c.ChunkSize, c.ChunkOverlap, sourceChecksum))
	return hex.EncodeToString(h[:])
}

// Chunk is a contiguous slice of a document's extracted text, the unit of
// embedding and retrieval. Offsets are rune positions in the source text.
type Chunk struct {
	DocID       string
	Seq         int
	Text        string
	StartOffset int
	EndOffset   int
}

// ID returns the chunk identifier derived from the owning document and
// the sequence index.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.DocID, c.Seq)
}

// IndexState tracks a document's position in the ingestion lifecycle.
type IndexState string

const (
	// StateUnindexed means the document has never been synced.
	StateUnindexed IndexState = "unindexed"
	// StateIndexing means a sync is rewriting the document's vectors.
	StateIndexing IndexState = "indexing"
	// StateIndexed means the document's vectors match its fingerprint.
	StateIndexed IndexState = "indexed"
	// StateFailed means the last sync aborted mid-swap; vectors are suspect.
	StateFailed IndexState = "failed"
)
