package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/chat"
	"github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/ingest"
)

type mockUploader struct {
	saveFn func(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Document, error)
}

func (m *mockUploader) Save(ctx context.Context, fileName, mimeType string, r io.Reader) (domain.Document, error) {
	return m.saveFn(ctx, fileName, mimeType, r)
}

type mockIngestor struct {
	syncFn          func(ctx context.Context, docID string, override *domain.DocumentConfig, force bool) (ingest.SyncResult, error)
	syncAllFn       func(ctx context.Context, override *domain.DocumentConfig, force bool) ([]ingest.SyncResult, error)
	listFn          func(ctx context.Context) ([]ingest.DocumentStatus, error)
	resolveConfigFn func(ctx context.Context, docID string, override *domain.DocumentConfig) (domain.DocumentConfig, error)
	deleteFn        func(ctx context.Context, docID string) error
}

func (m *mockIngestor) Sync(
	ctx context.Context, docID string, override *domain.DocumentConfig, force bool,
) (ingest.SyncResult, error) {
	return m.syncFn(ctx, docID, override, force)
}

func (m *mockIngestor) SyncAll(
	ctx context.Context, override *domain.DocumentConfig, force bool,
) ([]ingest.SyncResult, error) {
	return m.syncAllFn(ctx, override, force)
}

func (m *mockIngestor) List(ctx context.Context) ([]ingest.DocumentStatus, error) {
	return m.listFn(ctx)
}

func (m *mockIngestor) ResolveConfig(
	ctx context.Context, docID string, override *domain.DocumentConfig,
) (domain.DocumentConfig, error) {
	return m.resolveConfigFn(ctx, docID, override)
}

func (m *mockIngestor) Delete(ctx context.Context, docID string) error {
	return m.deleteFn(ctx, docID)
}

func (m *mockIngestor) Defaults() domain.DocumentConfig {
	return domain.DocumentConfig{ChunkSize: 500, ChunkOverlap: 100}
}

type mockChatter struct {
	answerFn       func(ctx context.Context, req chat.Request) (domain.Answer, error)
	answerStreamFn func(ctx context.Context, req chat.Request, onDelta func(delta string) error) (domain.Answer, error)
	suggestFn      func(ctx context.Context, req chat.QuestionsRequest) (chat.Questions, error)
}

func (m *mockChatter) Answer(ctx context.Context, req chat.Request) (domain.Answer, error) {
	return m.answerFn(ctx, req)
}

func (m *mockChatter) AnswerStream(
	ctx context.Context, req chat.Request, onDelta func(delta string) error,
) (domain.Answer, error) {
	return m.answerStreamFn(ctx, req, onDelta)
}

func (m *mockChatter) SuggestQuestions(ctx context.Context, req chat.QuestionsRequest) (chat.Questions, error) {
	return m.suggestFn(ctx, req)
}

type mockHealth struct {
	report health.Report
}

func (m *mockHealth) Check(context.Context) health.Report {
	return m.report
}

type testServer struct {
	uploader *mockUploader
	ingestor *mockIngestor
	chatter  *mockChatter
	health   *mockHealth
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		uploader: &mockUploader{},
		ingestor: &mockIngestor{},
		chatter:  &mockChatter{},
		health: &mockHealth{report: health.Report{
			Status: health.Healthy,
			Checks: map[string]health.CheckResult{"database": health.CheckOK},
		}},
	}
	srv := NewServer(ts.uploader, ts.ingestor, ts.chatter, ts.health, zap.NewNop())
	ts.handler = srv.Router(nil)
	return ts
}
