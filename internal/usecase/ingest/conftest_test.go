package ingest

import (
	"context"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/chunker"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

// mockDocStore implements DocumentStore for tests.
type mockDocStore struct {
	docs      map[string]domain.Document
	contents  map[string]string
	configs   map[string]domain.DocumentConfig
	checksums map[string]string

	setConfigErr error
	deleteCalls  []string
}

func newMockDocStore() *mockDocStore {
	return &mockDocStore{
		docs:      map[string]domain.Document{},
		contents:  map[string]string{},
		configs:   map[string]domain.DocumentConfig{},
		checksums: map[string]string{},
	}
}

func (m *mockDocStore) addDoc(docID, content, checksum string) {
	m.docs[docID] = domain.Document{ID: docID, FileName: docID + ".txt", MIMEType: domain.MIMETypeText}
	m.contents[docID] = content
	m.checksums[docID] = checksum
}

func (m *mockDocStore) Get(_ context.Context, docID string) (domain.Document, error) {
	doc, ok := m.docs[docID]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *mockDocStore) Checksum(_ context.Context, docID string) (string, error) {
	return m.checksums[docID], nil
}

func (m *mockDocStore) Open(_ context.Context, docID string) (io.ReadCloser, error) {
	content, ok := m.contents[docID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (m *mockDocStore) GetConfig(_ context.Context, docID string) (domain.DocumentConfig, bool, error) {
	cfg, ok := m.configs[docID]
	return cfg, ok, nil
}

func (m *mockDocStore) SetConfig(_ context.Context, docID string, cfg domain.DocumentConfig) error {
	if m.setConfigErr != nil {
		return m.setConfigErr
	}
	m.configs[docID] = cfg
	return nil
}

func (m *mockDocStore) Delete(_ context.Context, docID string) error {
	m.deleteCalls = append(m.deleteCalls, docID)
	if _, ok := m.docs[docID]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(m.docs, docID)
	delete(m.contents, docID)
	return nil
}

func (m *mockDocStore) List(_ context.Context) ([]domain.Document, error) {
	out := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	return out, nil
}

// mockIndex implements ChunkIndex for tests.
type mockIndex struct {
	fingerprints map[string]string
	states       map[string]domain.IndexState
	stored       map[string][]domain.Chunk

	upsertErr   error
	deleteErr   error
	upsertCalls int
	deleteCalls int
}

func newMockIndex() *mockIndex {
	return &mockIndex{
		fingerprints: map[string]string{},
		states:       map[string]domain.IndexState{},
		stored:       map[string][]domain.Chunk{},
	}
}

func (m *mockIndex) UpsertChunks(_ context.Context, chunks []domain.Chunk, _ [][]float32) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, c := range chunks {
		m.stored[c.DocID] = append(m.stored[c.DocID], c)
	}
	return nil
}

func (m *mockIndex) DeleteByDoc(_ context.Context, docID string) (int, error) {
	m.deleteCalls++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	n := len(m.stored[docID])
	delete(m.stored, docID)
	return n, nil
}

func (m *mockIndex) CountByDoc(_ context.Context, docID string) (int, error) {
	return len(m.stored[docID]), nil
}

func (m *mockIndex) GetFingerprint(_ context.Context, docID string) (string, error) {
	return m.fingerprints[docID], nil
}

func (m *mockIndex) SetFingerprint(_ context.Context, docID, fp string) error {
	m.fingerprints[docID] = fp
	return nil
}

func (m *mockIndex) ClearFingerprint(_ context.Context, docID string) error {
	delete(m.fingerprints, docID)
	return nil
}

func (m *mockIndex) GetState(_ context.Context, docID string) (domain.IndexState, error) {
	if s, ok := m.states[docID]; ok {
		return s, nil
	}
	return domain.StateUnindexed, nil
}

func (m *mockIndex) SetState(_ context.Context, docID string, state domain.IndexState) error {
	m.states[docID] = state
	return nil
}

func (m *mockIndex) ClearState(_ context.Context, docID string) error {
	delete(m.states, docID)
	return nil
}

// mockEmbedder implements Embedder for tests.
type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{0.1, 0.2, 0.3}
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: len(texts)}, nil
}

func passthroughExtract(_ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	return string(data), err
}

func newTestService(t *testing.T) (*Service, *mockDocStore, *mockIndex, *mockEmbedder) {
	t.Helper()
	docs := newMockDocStore()
	idx := newMockIndex()
	emb := &mockEmbedder{}
	svc := New(docs, idx, emb, passthroughExtract, chunker.Split,
		Config{
			Defaults:  domain.DocumentConfig{ChunkSize: 20, ChunkOverlap: 5},
			BatchSize: 2,
		},
		zap.NewNop(),
	)
	return svc, docs, idx, emb
}
