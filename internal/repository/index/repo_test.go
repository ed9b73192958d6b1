package index

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

// --- EnsureIndex ---

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	var created *db.IndexDefinition
	ms.indexExistsFn = func(_ context.Context, name string) (bool, error) {
		if name != "ragdex:chunks:idx" {
			t.Errorf("unexpected index name: %s", name)
		}
		return false, nil
	}
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected index to be created")
	}
	if len(created.Prefixes) != 1 || created.Prefixes[0] != "ragdex:chunk:" {
		t.Errorf("unexpected prefixes: %v", created.Prefixes)
	}

	var vectorField *db.IndexField
	for i := range created.Fields {
		if created.Fields[i].Type == db.IndexFieldVector {
			vectorField = &created.Fields[i]
		}
	}
	if vectorField == nil {
		t.Fatal("expected a vector field")
	}
	if vectorField.VectorDim != 4 || vectorField.VectorAlgo != db.VectorHNSW {
		t.Errorf("unexpected vector field: %+v", vectorField)
	}
}

func TestEnsureIndex_SkipsWhenPresent(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return true, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Error("create must not be called when index exists")
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_ToleratesConcurrentCreate(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return false, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return db.ErrIndexExists
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("expected race with parallel create to be tolerated, got %v", err)
	}
}

// --- UpsertChunks ---

func TestUpsertChunks_WritesHashFields(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	var written map[string]map[string]string
	ms.hSetMultiFn = func(_ context.Context, items map[string]map[string]string) error {
		written = items
		return nil
	}

	chunks := []domain.Chunk{
		{DocID: "report_abc", Seq: 0, Text: "first", StartOffset: 0, EndOffset: 5},
		{DocID: "report_abc", Seq: 1, Text: "second", StartOffset: 3, EndOffset: 9},
	}
	vectors := [][]float32{testVector(), testVector()}

	if err := repo.UpsertChunks(ctx, chunks, vectors); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(written))
	}

	fields, ok := written["ragdex:chunk:report_abc:1"]
	if !ok {
		t.Fatalf("expected key ragdex:chunk:report_abc:1, got %v", written)
	}
	if fields["__content"] != "second" || fields["doc_id"] != "report_abc" || fields["seq"] != "1" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if len(fields["__vector"]) != 16 {
		t.Errorf("expected 16 vector bytes, got %d", len(fields["__vector"]))
	}
}

func TestUpsertChunks_DimMismatch(t *testing.T) {
	repo, _ := newTestRepo(t)

	chunks := []domain.Chunk{{DocID: "d", Seq: 0, Text: "x"}}
	vectors := [][]float32{{0.1, 0.2}} // dim 2, config wants 4

	err := repo.UpsertChunks(context.Background(), chunks, vectors)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

// --- DeleteByDoc ---

func TestDeleteByDoc(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "ragdex:chunk:report_abc:*" {
			t.Errorf("unexpected pattern: %s", pattern)
		}
		return []string{"ragdex:chunk:report_abc:0", "ragdex:chunk:report_abc:1"}, nil
	}

	var deleted []string
	ms.delMultiFn = func(_ context.Context, keys []string) error {
		deleted = keys
		return nil
	}

	n, err := repo.DeleteByDoc(ctx, "report_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(deleted) != 2 {
		t.Fatalf("expected 2 deletions, got n=%d deleted=%v", n, deleted)
	}
}

func TestDeleteByDoc_NothingIndexed(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.delMultiFn = func(_ context.Context, _ []string) error {
		t.Error("DelMulti must not be called for an empty scan")
		return nil
	}

	n, err := repo.DeleteByDoc(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deletions, got %d", n)
	}
}

// --- Search ---

func knnEntries() []db.SearchEntry {
	return []db.SearchEntry{
		{
			Key:   "ragdex:chunk:doc-a:0",
			Score: 0.91,
			Fields: map[string]string{
				"__content": "alpha", "doc_id": "doc-a", "seq": "0", "start": "0", "end": "5",
			},
		},
		{
			Key:   "ragdex:chunk:doc-b:3",
			Score: 0.74,
			Fields: map[string]string{
				"__content": "bravo", "doc_id": "doc-b", "seq": "3", "start": "120", "end": "180",
			},
		},
	}
}

func TestSearch_Similarity(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "ragdex:chunks:idx" {
			t.Errorf("unexpected index: %s", q.IndexName)
		}
		if q.K != 3 {
			t.Errorf("unexpected K: %d", q.K)
		}
		for _, f := range q.ReturnFields {
			if f == "__vector" {
				t.Error("similarity search must not fetch vectors")
			}
		}
		return &db.SearchResult{Total: 2, Entries: knnEntries()}, nil
	}

	results, err := repo.Search(ctx, testVector(), SearchOptions{K: 3, Mode: domain.SearchSimilarity})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.DocID != "doc-a" || results[0].Chunk.Seq != 0 {
		t.Errorf("unexpected first result: %+v", results[0].Chunk)
	}
	if results[0].Score != 0.91 {
		t.Errorf("expected score 0.91, got %f", results[0].Score)
	}
	if results[1].Chunk.StartOffset != 120 || results[1].Chunk.EndOffset != 180 {
		t.Errorf("unexpected offsets: %+v", results[1].Chunk)
	}
}

func TestSearch_SortsByScoreThenKey(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "ragdex:chunk:z:0", Score: 0.8, Fields: map[string]string{"doc_id": "z", "seq": "0"}},
			{Key: "ragdex:chunk:a:0", Score: 0.8, Fields: map[string]string{"doc_id": "a", "seq": "0"}},
			{Key: "ragdex:chunk:m:0", Score: 0.9, Fields: map[string]string{"doc_id": "m", "seq": "0"}},
		}}, nil
	}

	results, err := repo.Search(context.Background(), testVector(),
		SearchOptions{K: 3, Mode: domain.SearchSimilarity})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{results[0].Chunk.DocID, results[1].Chunk.DocID, results[2].Chunk.DocID}
	want := []string{"m", "a", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestSearch_MMR_FetchesWiderSet(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.K != 8 { // k=2 * factor=4
			t.Errorf("expected widened K=8, got %d", q.K)
		}
		withVector := false
		for _, f := range q.ReturnFields {
			if f == "__vector" {
				withVector = true
			}
		}
		if !withVector {
			t.Error("mmr search must fetch vectors")
		}

		entries := knnEntries()
		entries[0].Fields["__vector"] = vectorToBytes([]float32{1, 0, 0, 0})
		entries[1].Fields["__vector"] = vectorToBytes([]float32{0, 1, 0, 0})
		return &db.SearchResult{Total: 2, Entries: entries}, nil
	}

	results, err := repo.Search(context.Background(), []float32{1, 0, 0, 0},
		SearchOptions{K: 2, Mode: domain.SearchMMR, FetchFactor: 4, Lambda: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.DocID != "doc-a" {
		t.Errorf("expected most relevant chunk first, got %+v", results[0].Chunk)
	}
}

func TestSearch_StoreErrorIsIndexUnavailable(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, errors.New("connection refused")
	}

	_, err := repo.Search(context.Background(), testVector(),
		SearchOptions{K: 3, Mode: domain.SearchSimilarity})
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

// --- Fingerprint and state ---

func TestFingerprint_RoundTrip(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	kv := map[string]string{}
	ms.setFn = func(_ context.Context, key, value string) error {
		kv[key] = value
		return nil
	}
	ms.getFn = func(_ context.Context, key string) (string, error) {
		v, ok := kv[key]
		if !ok {
			return "", db.ErrKeyNotFound
		}
		return v, nil
	}

	fp, err := repo.GetFingerprint(ctx, "doc-1")
	if err != nil || fp != "" {
		t.Fatalf("expected empty fingerprint for unknown doc, got %q err=%v", fp, err)
	}

	if err := repo.SetFingerprint(ctx, "doc-1", "abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp, err = repo.GetFingerprint(ctx, "doc-1")
	if err != nil || fp != "abc123" {
		t.Fatalf("expected abc123, got %q err=%v", fp, err)
	}
	if _, ok := kv["ragdex:fp:doc-1"]; !ok {
		t.Errorf("unexpected keys: %v", kv)
	}
}

func TestGetState_DefaultsToUnindexed(t *testing.T) {
	repo, _ := newTestRepo(t)

	state, err := repo.GetState(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != domain.StateUnindexed {
		t.Fatalf("expected unindexed, got %s", state)
	}
}

func TestSetState_WritesStateKey(t *testing.T) {
	repo, ms := newTestRepo(t)

	var gotKey, gotVal string
	ms.setFn = func(_ context.Context, key, value string) error {
		gotKey, gotVal = key, value
		return nil
	}

	if err := repo.SetState(context.Background(), "doc-1", domain.StateIndexed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "ragdex:state:doc-1" || gotVal != string(domain.StateIndexed) {
		t.Fatalf("unexpected write: %s=%s", gotKey, gotVal)
	}
}

func TestSample_StableOrderAndLimit(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "ragdex:chunk:*" {
			t.Errorf("unexpected scan pattern: %s", pattern)
		}
		// Deliberately unsorted.
		return []string{"ragdex:chunk:doc-1:2", "ragdex:chunk:doc-1:0", "ragdex:chunk:doc-1:1"}, nil
	}
	ms.hGetAllMultiFn = func(_ context.Context, keys []string) (map[string]map[string]string, error) {
		if len(keys) != 2 {
			t.Errorf("expected the limit to cap keys, got %v", keys)
		}
		out := make(map[string]map[string]string, len(keys))
		for i, key := range keys {
			out[key] = map[string]string{
				"doc_id":    "doc-1",
				"seq":       strconv.Itoa(i),
				"__content": "chunk " + key,
			}
		}
		return out, nil
	}

	chunks, err := repo.Sample(context.Background(), 2)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "chunk ragdex:chunk:doc-1:0" {
		t.Errorf("expected key-sorted order, got %q first", chunks[0].Text)
	}
}

func TestSample_EmptyIndex(t *testing.T) {
	repo, _ := newTestRepo(t)

	chunks, err := repo.Sample(context.Background(), 5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if chunks != nil {
		t.Fatalf("expected nil for an empty index, got %v", chunks)
	}
}
