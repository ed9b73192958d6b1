package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

// store is the consumer interface for chunk index operations (ISP).
type store interface {
	HSetMulti(ctx context.Context, items map[string]map[string]string) error
	HGetAllMulti(ctx context.Context, keys []string) (map[string]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Config carries index construction parameters.
type Config struct {
	KeyPrefix   string
	Dim         int
	HNSWM       int
	EFConstruct int
}

// SearchOptions controls a retrieval call.
type SearchOptions struct {
	K           int
	Mode        domain.SearchMode
	FetchFactor int     // mmr only: candidates fetched = K * FetchFactor
	Lambda      float64 // mmr only: relevance/diversity trade-off
}

// Repo stores chunk hashes and their vectors under one FT index and
// keeps per-document fingerprint and index state records.
type Repo struct {
	store store
	cfg   Config
}

// New creates a chunk index repository.
func New(s store, cfg Config) *Repo {
	return &Repo{store: s, cfg: cfg}
}

func (r *Repo) indexName() string {
	return r.cfg.KeyPrefix + "chunks:idx"
}

func (r *Repo) chunkKey(docID string, seq int) string {
	return fmt.Sprintf("%schunk:%s:%d", r.cfg.KeyPrefix, docID, seq)
}

func (r *Repo) docPattern(docID string) string {
	return fmt.Sprintf("%schunk:%s:*", r.cfg.KeyPrefix, docID)
}

func (r *Repo) fingerprintKey(docID string) string {
	return r.cfg.KeyPrefix + "fp:" + docID
}

func (r *Repo) stateKey(docID string) string {
	return r.cfg.KeyPrefix + "state:" + docID
}

// EnsureIndex creates the chunk FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:        r.indexName(),
		StorageType: db.StorageHash,
		Prefixes:    []string{r.cfg.KeyPrefix + "chunk:"},
		Fields: []db.IndexField{
			{Name: "doc_id", Type: db.IndexFieldTag},
			{Name: "seq", Type: db.IndexFieldNumeric},
			{
				Name:              "__vector",
				Alias:             "vector",
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         r.cfg.Dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.cfg.HNSWM,
				VectorEFConstruct: r.cfg.EFConstruct,
			},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// UpsertChunks writes chunk hashes in one pipelined call. Every vector
// must match the configured dimension.
func (r *Repo) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d chunks: %w", len(vectors), len(chunks), domain.ErrVectorDimMismatch)
	}

	items := make(map[string]map[string]string, len(chunks))
	for i := range chunks {
		if len(vectors[i]) != r.cfg.Dim {
			return fmt.Errorf("chunk %s: dim %d, want %d: %w",
				chunks[i].ID(), len(vectors[i]), r.cfg.Dim, domain.ErrVectorDimMismatch)
		}
		items[r.chunkKey(chunks[i].DocID, chunks[i].Seq)] = buildHashFields(&chunks[i], vectors[i])
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}

// DeleteByDoc removes all chunk hashes of a document. Returns the number removed.
func (r *Repo) DeleteByDoc(ctx context.Context, docID string) (int, error) {
	keys, err := r.store.Scan(ctx, r.docPattern(docID))
	if err != nil {
		return 0, fmt.Errorf("scan chunks of %s: %w", docID, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", docID, err)
	}
	return len(keys), nil
}

// CountByDoc returns the number of indexed chunks belonging to a document.
func (r *Repo) CountByDoc(ctx context.Context, docID string) (int, error) {
	keys, err := r.store.Scan(ctx, r.docPattern(docID))
	if err != nil {
		return 0, fmt.Errorf("scan chunks of %s: %w", docID, err)
	}
	return len(keys), nil
}

// Sample returns up to limit indexed chunks in stable key order, for
// callers that need example content rather than a similarity match.
func (r *Repo) Sample(ctx context.Context, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	keys, err := r.store.Scan(ctx, r.cfg.KeyPrefix+"chunk:*")
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(keys))
	for _, key := range keys {
		fields, ok := hashes[key]
		if !ok {
			continue
		}
		chunks = append(chunks, parseHashFields(fields))
	}
	return chunks, nil
}

// CountChunks returns the total number of indexed chunks.
func (r *Repo) CountChunks(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.indexName(), "*")
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return n, nil
}

// Search retrieves the chunks most similar to the query vector. In mmr
// mode a wider candidate set is fetched with vectors and re-ranked for
// diversity before the top K is returned.
func (r *Repo) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]domain.Retrieved, error) {
	if opts.Mode == domain.SearchMMR {
		return r.searchMMR(ctx, vector, opts)
	}
	return r.searchSimilarity(ctx, vector, opts.K)
}

func (r *Repo) searchSimilarity(ctx context.Context, vector []float32, k int) ([]domain.Retrieved, error) {
	sr, err := r.knn(ctx, vector, k, false)
	if err != nil {
		return nil, err
	}
	return toRetrieved(sr), nil
}

func (r *Repo) searchMMR(ctx context.Context, vector []float32, opts SearchOptions) ([]domain.Retrieved, error) {
	fetchFactor := opts.FetchFactor
	if fetchFactor <= 0 {
		fetchFactor = 4
	}

	sr, err := r.knn(ctx, vector, opts.K*fetchFactor, true)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		candidates = append(candidates, candidate{
			retrieved: domain.Retrieved{Chunk: parseHashFields(entry.Fields), Score: entry.Score},
			vector:    bytesToVector(entry.Fields["__vector"]),
			key:       entry.Key,
		})
	}

	return rerankMMR(vector, candidates, opts.K, opts.Lambda), nil
}

func (r *Repo) knn(ctx context.Context, vector []float32, k int, withVectors bool) (*db.SearchResult, error) {
	returnFields := []string{"__content", "doc_id", "seq", "start", "end", "__vector_score"}
	if withVectors {
		returnFields = append(returnFields, "__vector")
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w: %w", domain.ErrIndexUnavailable, err)
	}

	// Score descending, key order breaks ties so results are stable.
	sort.SliceStable(sr.Entries, func(i, j int) bool {
		if sr.Entries[i].Score != sr.Entries[j].Score {
			return sr.Entries[i].Score > sr.Entries[j].Score
		}
		return sr.Entries[i].Key < sr.Entries[j].Key
	})

	return sr, nil
}

func toRetrieved(sr *db.SearchResult) []domain.Retrieved {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]domain.Retrieved, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		out = append(out, domain.Retrieved{
			Chunk: parseHashFields(entry.Fields),
			Score: entry.Score,
		})
	}
	return out
}

// --- Fingerprint and index state records ---

// GetFingerprint returns the stored ingest fingerprint of a document, "" if none.
func (r *Repo) GetFingerprint(ctx context.Context, docID string) (string, error) {
	fp, err := r.store.Get(ctx, r.fingerprintKey(docID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get fingerprint %s: %w", docID, err)
	}
	return fp, nil
}

// SetFingerprint records the ingest fingerprint of a document.
func (r *Repo) SetFingerprint(ctx context.Context, docID, fp string) error {
	if err := r.store.Set(ctx, r.fingerprintKey(docID), fp); err != nil {
		return fmt.Errorf("set fingerprint %s: %w", docID, err)
	}
	return nil
}

// ClearFingerprint removes the stored fingerprint so the next sync re-ingests.
func (r *Repo) ClearFingerprint(ctx context.Context, docID string) error {
	if err := r.store.Del(ctx, r.fingerprintKey(docID)); err != nil {
		return fmt.Errorf("clear fingerprint %s: %w", docID, err)
	}
	return nil
}

// GetState returns the index state of a document.
func (r *Repo) GetState(ctx context.Context, docID string) (domain.IndexState, error) {
	s, err := r.store.Get(ctx, r.stateKey(docID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.StateUnindexed, nil
		}
		return "", fmt.Errorf("get state %s: %w", docID, err)
	}
	return domain.IndexState(s), nil
}

// SetState records the index state of a document.
func (r *Repo) SetState(ctx context.Context, docID string, state domain.IndexState) error {
	if err := r.store.Set(ctx, r.stateKey(docID), string(state)); err != nil {
		return fmt.Errorf("set state %s: %w", docID, err)
	}
	return nil
}

// ClearState removes the index state record of a document.
func (r *Repo) ClearState(ctx context.Context, docID string) error {
	if err := r.store.Del(ctx, r.stateKey(docID)); err != nil {
		return fmt.Errorf("clear state %s: %w", docID, err)
	}
	return nil
}
