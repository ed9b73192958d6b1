package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/ingest"
)

// uploadResponse is the body of a successful document upload.
type uploadResponse struct {
	DocID    string `json:"doc_id"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// handleUpload handles POST /api/documents/upload-file (multipart).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	doc, err := s.uploads.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	s.logger.Info("Document uploaded",
		zap.String("doc_id", doc.ID),
		zap.String("file_name", doc.FileName),
		zap.Int64("size_bytes", doc.SizeBytes),
	)
	writeJSON(w, http.StatusCreated, uploadResponse{
		DocID:    doc.ID,
		FileName: doc.FileName,
		Message:  "uploaded",
	})
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.documents.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": statuses,
		"total":     len(statuses),
	})
}

// configPayload carries chunking parameters over the wire. chunk_overlab is
// a historical client misspelling, accepted and normalized to chunk_overlap.
type configPayload struct {
	ChunkSize    int  `json:"chunk_size"`
	ChunkOverlap *int `json:"chunk_overlap"`
	ChunkOverlab *int `json:"chunk_overlab"`
}

func (p *configPayload) toConfig() domain.DocumentConfig {
	overlap := 0
	switch {
	case p.ChunkOverlap != nil:
		overlap = *p.ChunkOverlap
	case p.ChunkOverlab != nil:
		overlap = *p.ChunkOverlab
	}
	return domain.DocumentConfig{ChunkSize: p.ChunkSize, ChunkOverlap: overlap}
}

// handleGetConfig handles GET /api/documents/{docID}/config.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	cfg, err := s.documents.ResolveConfig(r.Context(), docID, nil)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleSetConfig handles POST /api/documents/{docID}/config.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	var payload configPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	override := payload.toConfig()
	cfg, err := s.documents.ResolveConfig(r.Context(), docID, &override)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleDeleteDocument handles DELETE /api/documents/{docID}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	if err := s.documents.Delete(r.Context(), docID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// syncResponse aggregates per-document sync outcomes.
type syncResponse struct {
	ProcessedDocs    int                 `json:"processed_docs"`
	SkippedDocs      int                 `json:"skipped_docs"`
	FailedDocs       int                 `json:"failed_docs"`
	TotalChunks      int                 `json:"total_chunks"`
	UsedChunkSize    int                 `json:"used_chunk_size"`
	UsedChunkOverlap int                 `json:"used_chunk_overlap"`
	Results          []ingest.SyncResult `json:"results"`
}

// handleSync handles GET /api/documents/sync. Without doc_id every stored
// document is reconciled; chunk_size/chunk_overlap override the per-document
// configs for this run.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	override, err := syncOverride(q.Get("chunk_size"), q.Get("chunk_overlap"), s.documents.Defaults())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidQuery, err.Error())
		return
	}
	force := q.Get("force") == "true" || q.Get("force") == "1"

	var results []ingest.SyncResult
	if docID := q.Get("doc_id"); docID != "" {
		res, err := s.documents.Sync(r.Context(), docID, override, force)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		results = []ingest.SyncResult{res}
	} else {
		results, err = s.documents.SyncAll(r.Context(), override, force)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, aggregateSync(results, override, s.documents.Defaults()))
}

// syncOverride builds the run-wide config override from query parameters.
// Absent parameters fall back to the system defaults; nil means no override.
func syncOverride(sizeStr, overlapStr string, defaults domain.DocumentConfig) (*domain.DocumentConfig, error) {
	if sizeStr == "" && overlapStr == "" {
		return nil, nil
	}

	cfg := defaults
	if sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("chunk_size must be an integer, got %q", sizeStr)
		}
		cfg.ChunkSize = size
	}
	if overlapStr != "" {
		overlap, err := strconv.Atoi(overlapStr)
		if err != nil {
			return nil, fmt.Errorf("chunk_overlap must be an integer, got %q", overlapStr)
		}
		cfg.ChunkOverlap = overlap
	}
	return &cfg, nil
}

func aggregateSync(results []ingest.SyncResult, override *domain.DocumentConfig, defaults domain.DocumentConfig) syncResponse {
	used := defaults
	if override != nil {
		used = *override
	}

	resp := syncResponse{
		UsedChunkSize:    used.ChunkSize,
		UsedChunkOverlap: used.ChunkOverlap,
		Results:          results,
	}
	for _, res := range results {
		switch res.Status {
		case ingest.StatusIndexed:
			resp.ProcessedDocs++
			resp.TotalChunks += res.Chunks
		case ingest.StatusSkipped:
			resp.SkippedDocs++
		case ingest.StatusFailed:
			resp.FailedDocs++
		}
	}
	return resp
}
