package domain

import "errors"

var (
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrUnsupportedMediaType signals an upload with a MIME type outside the allow-list.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrPayloadTooLarge signals an upload exceeding the configured size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidConfig signals chunking parameters that violate their bounds.
	ErrInvalidConfig = errors.New("invalid chunking config")
	// ErrInvalidQuery signals malformed retrieval parameters (empty question, k <= 0).
	ErrInvalidQuery = errors.New("invalid query parameters")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingUnavailable signals an embedding provider failure after retries.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrGenerationUnavailable signals a generation model failure after retries.
	ErrGenerationUnavailable = errors.New("generation model unavailable")
	// ErrIndexUnavailable signals that the vector index cannot be reached or is corrupt.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrSyncInProgress signals a concurrent sync on the same document.
	ErrSyncInProgress = errors.New("sync already in progress for document")
)
