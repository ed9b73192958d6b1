package ragdex

import (
	"fmt"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Sentinel errors surfaced by the client. Each maps to an error code in the
// API's error envelope, so callers can use errors.Is regardless of which
// endpoint produced the failure.
var (
	ErrDocumentNotFound      = domain.ErrDocumentNotFound
	ErrUnsupportedMediaType  = domain.ErrUnsupportedMediaType
	ErrPayloadTooLarge       = domain.ErrPayloadTooLarge
	ErrInvalidConfig         = domain.ErrInvalidConfig
	ErrInvalidQuery          = domain.ErrInvalidQuery
	ErrSyncInProgress        = domain.ErrSyncInProgress
	ErrEmbeddingUnavailable  = domain.ErrEmbeddingUnavailable
	ErrGenerationUnavailable = domain.ErrGenerationUnavailable
	ErrIndexUnavailable      = domain.ErrIndexUnavailable
)

// APIError is returned when the service reports a failure that does not map
// to one of the sentinel errors above.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ragdex: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

var sentinelByCode = map[string]error{
	"document_not_found":     ErrDocumentNotFound,
	"unsupported_media_type": ErrUnsupportedMediaType,
	"payload_too_large":      ErrPayloadTooLarge,
	"invalid_config":         ErrInvalidConfig,
	"invalid_query":          ErrInvalidQuery,
	"sync_in_progress":       ErrSyncInProgress,
	"embedding_unavailable":  ErrEmbeddingUnavailable,
	"generation_unavailable": ErrGenerationUnavailable,
	"index_unavailable":      ErrIndexUnavailable,
}

func apiError(statusCode int, code, message string) error {
	if sentinel, ok := sentinelByCode[code]; ok {
		return fmt.Errorf("%s: %w", message, sentinel)
	}
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}
