package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/usecase/chat"
	"github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/ingest"
)

// Uploader stores a raw uploaded document.
type Uploader interface {
	Save(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Document, error)
}

// Ingestor drives the ingestion pipeline.
type Ingestor interface {
	Sync(ctx context.Context, docID string, override *domain.DocumentConfig, force bool) (ingest.SyncResult, error)
	SyncAll(ctx context.Context, override *domain.DocumentConfig, force bool) ([]ingest.SyncResult, error)
	List(ctx context.Context) ([]ingest.DocumentStatus, error)
	ResolveConfig(ctx context.Context, docID string, override *domain.DocumentConfig) (domain.DocumentConfig, error)
	Delete(ctx context.Context, docID string) error
	Defaults() domain.DocumentConfig
}

// Chatter answers questions over the indexed corpus.
type Chatter interface {
	Answer(ctx context.Context, req chat.Request) (domain.Answer, error)
	AnswerStream(ctx context.Context, req chat.Request, onDelta func(delta string) error) (domain.Answer, error)
	SuggestQuestions(ctx context.Context, req chat.QuestionsRequest) (chat.Questions, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

type errorCode string

const (
	codeBadRequest            errorCode = "bad_request"
	codeUnauthorized          errorCode = "unauthorized"
	codeUnsupportedMediaType  errorCode = "unsupported_media_type"
	codePayloadTooLarge       errorCode = "payload_too_large"
	codeInvalidConfig         errorCode = "invalid_config"
	codeInvalidQuery          errorCode = "invalid_query"
	codeDocumentNotFound      errorCode = "document_not_found"
	codeSyncInProgress        errorCode = "sync_in_progress"
	codeEmbeddingUnavailable  errorCode = "embedding_unavailable"
	codeGenerationUnavailable errorCode = "generation_unavailable"
	codeIndexUnavailable      errorCode = "index_unavailable"
	codeInternalError         errorCode = "internal_error"
)

// ErrorResponse is the JSON error envelope of every non-2xx response.
type ErrorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the document pipeline and chat over HTTP.
type Server struct {
	uploads       Uploader
	documents     Ingestor
	chat          Chatter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	uploads Uploader,
	documents Ingestor,
	chatter Chatter,
	healthChecker HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		uploads:   uploads,
		documents: documents,
		chat:      chatter,
		health:    healthChecker,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, codeUnsupportedMediaType),
		sentinelHandler(domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, codePayloadTooLarge),
		sentinelHandler(domain.ErrInvalidConfig, http.StatusBadRequest, codeInvalidConfig),
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrSyncInProgress, http.StatusConflict, codeSyncInProgress),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingUnavailable),
		sentinelHandler(domain.ErrGenerationUnavailable, http.StatusBadGateway, codeGenerationUnavailable),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeIndexUnavailable),
	}
	return s
}

// Router assembles the chi router with the full middleware chain.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware())
	r.Use(BearerAuthMiddleware(apiKeys))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/api/documents/upload-file", s.handleUpload)
	r.Get("/api/documents", s.handleListDocuments)
	r.Get("/api/documents/sync", s.handleSync)
	r.Get("/api/documents/{docID}/config", s.handleGetConfig)
	r.Post("/api/documents/{docID}/config", s.handleSetConfig)
	r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
	r.Post("/api/rag/chat", s.handleChat)
	r.Post("/api/rag/generate-questions", s.handleGenerateQuestions)

	return r
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != health.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrUnsupportedMediaType,
		domain.ErrPayloadTooLarge,
		domain.ErrInvalidConfig,
		domain.ErrInvalidQuery,
		domain.ErrDocumentNotFound,
		domain.ErrSyncInProgress,
		domain.ErrEmbeddingUnavailable,
		domain.ErrGenerationUnavailable,
		domain.ErrIndexUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// recoverer turns handler panics into a JSON 500 instead of a dropped connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits a canonical log line per request and propagates X-Request-ID.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		reqLogger := s.logger.With(zap.String("request_id", requestID))
		ctx := logger.ContextWithLogger(r.Context(), reqLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		reqLogger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", r.RemoteAddr),
			zap.Int64("content_length", r.ContentLength),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("response_bytes", ww.BytesWritten()),
		)
	})
}
