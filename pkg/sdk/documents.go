package ragdex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// UploadResult is the outcome of a document upload.
type UploadResult struct {
	DocID    string `json:"doc_id"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// DocumentStatus describes a stored document and its index state.
type DocumentStatus struct {
	Document   domain.Document `json:"document"`
	IndexState string          `json:"index_state"`
	Chunks     int             `json:"chunks"`
}

// SyncOptions selects what to sync and with which chunking parameters.
// A zero DocID syncs every stored document. ChunkSize and ChunkOverlap
// override the per-document configuration when non-nil.
type SyncOptions struct {
	DocID        string
	ChunkSize    *int
	ChunkOverlap *int
	Force        bool
}

// SyncResult reports the outcome of syncing one document.
type SyncResult struct {
	DocID        string `json:"doc_id"`
	Status       string `json:"status"`
	Chunks       int    `json:"chunks"`
	ChunkSize    int    `json:"used_chunk_size,omitempty"`
	ChunkOverlap int    `json:"used_chunk_overlap,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SyncReport aggregates the outcomes of a sync run.
type SyncReport struct {
	ProcessedDocs    int          `json:"processed_docs"`
	SkippedDocs      int          `json:"skipped_docs"`
	FailedDocs       int          `json:"failed_docs"`
	TotalChunks      int          `json:"total_chunks"`
	UsedChunkSize    int          `json:"used_chunk_size"`
	UsedChunkOverlap int          `json:"used_chunk_overlap"`
	Results          []SyncResult `json:"results"`
}

// Upload stores a document on the server. The content type decides the
// extractor; unsupported types return ErrUnsupportedMediaType.
func (c *Client) Upload(ctx context.Context, fileName, contentType string, content io.Reader) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/documents/upload-file", nil, &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.doJSON(req, &result); err != nil {
		return UploadResult{}, err
	}
	return result, nil
}

// Documents lists all stored documents with their index state.
func (c *Client) Documents(ctx context.Context) ([]DocumentStatus, error) {
	var resp struct {
		Documents []DocumentStatus `json:"documents"`
		Total     int              `json:"total"`
	}
	if err := c.getJSON(ctx, "/api/documents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// GetConfig returns the effective chunking configuration of a document.
func (c *Client) GetConfig(ctx context.Context, docID string) (domain.DocumentConfig, error) {
	var cfg domain.DocumentConfig
	if err := c.getJSON(ctx, "/api/documents/"+url.PathEscape(docID)+"/config", nil, &cfg); err != nil {
		return domain.DocumentConfig{}, err
	}
	return cfg, nil
}

// SetConfig stores chunking parameters for a document and returns the
// normalized configuration.
func (c *Client) SetConfig(ctx context.Context, docID string, cfg domain.DocumentConfig) (domain.DocumentConfig, error) {
	var normalized domain.DocumentConfig
	err := c.postJSON(ctx, "/api/documents/"+url.PathEscape(docID)+"/config", cfg, &normalized)
	if err != nil {
		return domain.DocumentConfig{}, err
	}
	return normalized, nil
}

// Delete removes a document and its indexed chunks.
func (c *Client) Delete(ctx context.Context, docID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(docID), nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// Sync chunks, embeds, and indexes documents according to opts.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	query := url.Values{}
	if opts.DocID != "" {
		query.Set("doc_id", opts.DocID)
	}
	if opts.ChunkSize != nil {
		query.Set("chunk_size", strconv.Itoa(*opts.ChunkSize))
	}
	if opts.ChunkOverlap != nil {
		query.Set("chunk_overlap", strconv.Itoa(*opts.ChunkOverlap))
	}
	if opts.Force {
		query.Set("force", "true")
	}

	var report SyncReport
	if err := c.getJSON(ctx, "/api/documents/sync", query, &report); err != nil {
		return SyncReport{}, err
	}
	return report, nil
}
