package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// SyncStatus describes the outcome of one document sync.
type SyncStatus string

const (
	// StatusIndexed means the document's chunks were (re)written.
	StatusIndexed SyncStatus = "indexed"
	// StatusSkipped means the stored fingerprint already matched.
	StatusSkipped SyncStatus = "skipped"
	// StatusFailed means the sync aborted; the document is marked failed.
	StatusFailed SyncStatus = "failed"
)

// SyncResult reports one document's sync outcome. ChunkSize and
// ChunkOverlap echo the configuration the sync resolved for the document.
type SyncResult struct {
	DocID        string     `json:"doc_id"`
	Status       SyncStatus `json:"status"`
	Chunks       int        `json:"chunks"`
	ChunkSize    int        `json:"used_chunk_size,omitempty"`
	ChunkOverlap int        `json:"used_chunk_overlap,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Config carries ingestion parameters.
type Config struct {
	Defaults  domain.DocumentConfig
	BatchSize int
}

// Service drives the ingestion pipeline: extract, chunk, embed, swap.
type Service struct {
	docs    DocumentStore
	index   ChunkIndex
	emb     Embedder
	extract ExtractFunc
	split   SplitFunc
	cfg     Config
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an ingestion service.
func New(
	docs DocumentStore, index ChunkIndex, emb Embedder,
	extract ExtractFunc, split SplitFunc,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Service{
		docs:    docs,
		index:   index,
		emb:     emb,
		extract: extract,
		split:   split,
		cfg:     cfg,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// docLock returns the per-document mutex so concurrent syncs of the same
// document serialize instead of interleaving their index writes.
func (s *Service) docLock(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

// ResolveConfig returns the effective chunking config of a document:
// an explicit override wins, then the stored per-document config, then
// the service defaults. Overrides are validated and persisted.
func (s *Service) ResolveConfig(
	ctx context.Context, docID string, override *domain.DocumentConfig,
) (domain.DocumentConfig, error) {
	if override != nil {
		if err := override.Validate(); err != nil {
			return domain.DocumentConfig{}, err
		}
		if err := s.docs.SetConfig(ctx, docID, *override); err != nil {
			return domain.DocumentConfig{}, fmt.Errorf("store config: %w", err)
		}
		return *override, nil
	}

	stored, ok, err := s.docs.GetConfig(ctx, docID)
	if err != nil {
		return domain.DocumentConfig{}, fmt.Errorf("load config: %w", err)
	}
	if ok {
		return stored, nil
	}
	return s.cfg.Defaults, nil
}

// Sync brings one document's indexed chunks in line with its source and
// chunking config. Unchanged documents are skipped unless force is set.
func (s *Service) Sync(
	ctx context.Context, docID string, override *domain.DocumentConfig, force bool,
) (SyncResult, error) {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.docs.Get(ctx, docID)
	if err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}

	cfg, err := s.ResolveConfig(ctx, docID, override)
	if err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}

	checksum, err := s.docs.Checksum(ctx, docID)
	if err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}
	fingerprint := cfg.Fingerprint(checksum)

	stored, err := s.index.GetFingerprint(ctx, docID)
	if err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}
	if stored == fingerprint && !force {
		s.logger.Debug("Document unchanged, skipping sync", zap.String("doc_id", docID))
		return SyncResult{
			DocID: docID, Status: StatusSkipped,
			ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap,
		}, nil
	}

	chunks, vectors, err := s.embedDocument(ctx, doc, cfg)
	if err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}

	// The swap starts only after every vector is in hand. A failure
	// inside it leaves the document marked failed with no fingerprint,
	// so the next sync retries the whole unit.
	if err := s.index.SetState(ctx, docID, domain.StateIndexing); err != nil {
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}
	if err := s.swap(ctx, docID, chunks, vectors, fingerprint); err != nil {
		s.markFailed(ctx, docID)
		return SyncResult{DocID: docID, Status: StatusFailed}, err
	}

	s.logger.Info("Document synced",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int("chunk_overlap", cfg.ChunkOverlap),
	)

	return SyncResult{
		DocID: docID, Status: StatusIndexed, Chunks: len(chunks),
		ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap,
	}, nil
}

func (s *Service) embedDocument(
	ctx context.Context, doc domain.Document, cfg domain.DocumentConfig,
) ([]domain.Chunk, [][]float32, error) {
	rc, err := s.docs.Open(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	text, err := s.extract(doc.MIMEType, rc)
	if err != nil {
		return nil, nil, fmt.Errorf("extract %s: %w", doc.ID, err)
	}

	chunks := s.split(doc.ID, text, cfg.ChunkSize, cfg.ChunkOverlap)

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		batch, err := s.emb.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("embed %s chunks %d-%d: %w", doc.ID, start, end-1, err)
		}
		vectors = append(vectors, batch.Embeddings...)
	}

	return chunks, vectors, nil
}

// swap atomically replaces a document's chunks: old vectors go first,
// then the new set, then the fingerprint that certifies them.
func (s *Service) swap(
	ctx context.Context, docID string,
	chunks []domain.Chunk, vectors [][]float32, fingerprint string,
) error {
	if _, err := s.index.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("drop old chunks: %w", err)
	}
	if len(chunks) > 0 {
		if err := s.index.UpsertChunks(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("write chunks: %w", err)
		}
	}
	if err := s.index.SetFingerprint(ctx, docID, fingerprint); err != nil {
		return fmt.Errorf("store fingerprint: %w", err)
	}
	if err := s.index.SetState(ctx, docID, domain.StateIndexed); err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, docID string) {
	if err := s.index.ClearFingerprint(ctx, docID); err != nil {
		s.logger.Warn("Failed to clear fingerprint", zap.String("doc_id", docID), zap.Error(err))
	}
	if err := s.index.SetState(ctx, docID, domain.StateFailed); err != nil {
		s.logger.Warn("Failed to mark document failed", zap.String("doc_id", docID), zap.Error(err))
	}
}

// SyncAll syncs every stored document sequentially. Per-document failures
// are reported in the results; the call errors only when no document
// could be synced at all.
func (s *Service) SyncAll(
	ctx context.Context, override *domain.DocumentConfig, force bool,
) ([]SyncResult, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	results := make([]SyncResult, 0, len(docs))
	failures := 0
	var lastErr error

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := s.Sync(ctx, doc.ID, override, force)
		if err != nil {
			failures++
			lastErr = err
			res.Error = err.Error()
			s.logger.Error("Document sync failed",
				zap.String("doc_id", doc.ID), zap.Error(err))
		}
		results = append(results, res)
	}

	if len(docs) > 0 && failures == len(docs) {
		return results, fmt.Errorf("all %d documents failed to sync: %w", failures, lastErr)
	}
	return results, nil
}

// Defaults returns the system-wide chunking defaults.
func (s *Service) Defaults() domain.DocumentConfig {
	return s.cfg.Defaults
}

// DocumentStatus pairs a stored document with its index lifecycle view.
type DocumentStatus struct {
	Document domain.Document   `json:"document"`
	State    domain.IndexState `json:"index_state"`
	Chunks   int               `json:"chunks"`
}

// List reports every stored document with its index state and chunk count.
func (s *Service) List(ctx context.Context) ([]DocumentStatus, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	statuses := make([]DocumentStatus, 0, len(docs))
	for _, doc := range docs {
		state, err := s.index.GetState(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("state of %s: %w", doc.ID, err)
		}
		chunks, err := s.index.CountByDoc(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("chunk count of %s: %w", doc.ID, err)
		}
		statuses = append(statuses, DocumentStatus{Document: doc, State: state, Chunks: chunks})
	}
	return statuses, nil
}

// State returns a document's index lifecycle state.
func (s *Service) State(ctx context.Context, docID string) (domain.IndexState, error) {
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return "", err
	}
	return s.index.GetState(ctx, docID)
}

// Delete removes a document everywhere: chunks, sync records, raw files.
func (s *Service) Delete(ctx context.Context, docID string) error {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.docs.Get(ctx, docID); err != nil {
		return err
	}

	if _, err := s.index.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", docID, err)
	}
	if err := s.index.ClearFingerprint(ctx, docID); err != nil {
		return fmt.Errorf("clear fingerprint of %s: %w", docID, err)
	}
	if err := s.index.ClearState(ctx, docID); err != nil {
		return fmt.Errorf("clear state of %s: %w", docID, err)
	}
	if err := s.docs.Delete(ctx, docID); err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return fmt.Errorf("delete files of %s: %w", docID, err)
	}

	s.logger.Info("Document deleted", zap.String("doc_id", docID))
	return nil
}
