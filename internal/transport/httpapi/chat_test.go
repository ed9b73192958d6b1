package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/chat"
)

func postChat(t *testing.T, ts *testServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/rag/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestChat_SingleShot(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(_ context.Context, req chat.Request) (domain.Answer, error) {
		if req.Question != "what is the deadline?" || req.K != 5 {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.Mode != domain.SearchMMR {
			t.Errorf("mode: got %s, want mmr", req.Mode)
		}
		return domain.Answer{
			Message:   "The deadline is June 30 [1].",
			Citations: []domain.Citation{{DocID: "doc-1", Seq: 0, Snippet: "deadline June 30"}},
			Timestamp: time.Now().UTC(),
			Model:     "test-model",
			Success:   true,
		}, nil
	}

	rr := postChat(t, ts, `{"question": "what is the deadline?", "k": 5, "search_type": "mmr"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var ans domain.Answer
	if err := json.NewDecoder(rr.Body).Decode(&ans); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if !ans.Success || len(ans.Citations) != 1 {
		t.Errorf("unexpected answer: %+v", ans)
	}
}

func TestChat_PassesModelAndTemperature(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(_ context.Context, req chat.Request) (domain.Answer, error) {
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model: got %q", req.Model)
		}
		if req.Temperature != 0.2 {
			t.Errorf("temperature: got %v", req.Temperature)
		}
		return domain.Answer{Success: true}, nil
	}

	rr := postChat(t, ts, `{"question": "q", "model": "gpt-4o-mini", "temperature": 0.2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
}

func TestChat_AbsentTemperatureMeansDefault(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(_ context.Context, req chat.Request) (domain.Answer, error) {
		if req.Temperature != -1 {
			t.Errorf("temperature: got %v, want -1", req.Temperature)
		}
		return domain.Answer{Success: true}, nil
	}

	rr := postChat(t, ts, `{"question": "q"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
}

func TestChat_UnknownSearchType(t *testing.T) {
	ts := newTestServer(t)

	rr := postChat(t, ts, `{"question": "q", "search_type": "hybrid"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != codeInvalidQuery {
		t.Errorf("code: got %s, want %s", resp.Code, codeInvalidQuery)
	}
}

func TestChat_ExplicitNonPositiveKRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(context.Context, chat.Request) (domain.Answer, error) {
		t.Error("answer must not run for a non-positive k")
		return domain.Answer{}, nil
	}

	for _, body := range []string{
		`{"question": "q", "k": 0}`,
		`{"question": "q", "k": -3}`,
	} {
		rr := postChat(t, ts, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status got %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.Code != codeInvalidQuery {
			t.Errorf("body %s: code got %s, want %s", body, resp.Code, codeInvalidQuery)
		}
	}
}

func TestChat_AbsentKSelectsDefault(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(_ context.Context, req chat.Request) (domain.Answer, error) {
		if req.K != 0 {
			t.Errorf("k: got %d, want 0 (service default)", req.K)
		}
		return domain.Answer{Success: true}, nil
	}

	rr := postChat(t, ts, `{"question": "q"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestChat_ValidationErrorBeforeStreaming(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerStreamFn = func(context.Context, chat.Request, func(string) error) (domain.Answer, error) {
		return domain.Answer{}, domain.ErrInvalidQuery
	}

	rr := postChat(t, ts, `{"question": "", "stream": true}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %s, want application/json", ct)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" || cur.data != "" {
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	return events
}

func TestChat_StreamDeltasThenDone(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerStreamFn = func(
		_ context.Context, _ chat.Request, onDelta func(string) error,
	) (domain.Answer, error) {
		for _, tok := range []string{"The answer ", "is 42 ", "[1]."} {
			if err := onDelta(tok); err != nil {
				return domain.Answer{}, err
			}
		}
		return domain.Answer{
			Message:   "The answer is 42 [1].",
			Citations: []domain.Citation{{DocID: "doc-1", Seq: 2, Snippet: "forty-two"}},
			Success:   true,
		}, nil
	}

	rr := postChat(t, ts, `{"question": "q", "stream": true}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %s, want text/event-stream", ct)
	}
	if !rr.Flushed {
		t.Error("expected the response to be flushed")
	}

	events := parseSSE(t, rr.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 3 delta events and a done event, got %d: %+v", len(events), events)
	}

	var text strings.Builder
	for _, ev := range events[:3] {
		if ev.event != "delta" {
			t.Fatalf("expected delta event, got %s", ev.event)
		}
		var payload struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		text.WriteString(payload.Delta)
	}
	if text.String() != "The answer is 42 [1]." {
		t.Errorf("concatenated deltas: %q", text.String())
	}

	if events[3].event != "done" {
		t.Fatalf("expected done event, got %s", events[3].event)
	}
	var ans domain.Answer
	if err := json.Unmarshal([]byte(events[3].data), &ans); err != nil {
		t.Fatalf("decode done answer: %v", err)
	}
	if !ans.Success || len(ans.Citations) != 1 || ans.Citations[0].Seq != 2 {
		t.Errorf("unexpected terminal answer: %+v", ans)
	}
}

func TestChat_StreamMidwayErrorEmitsErrorEvent(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerStreamFn = func(
		_ context.Context, _ chat.Request, onDelta func(string) error,
	) (domain.Answer, error) {
		if err := onDelta("partial "); err != nil {
			return domain.Answer{}, err
		}
		return domain.Answer{}, domain.ErrGenerationUnavailable
	}

	rr := postChat(t, ts, `{"question": "q", "stream": true}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("headers already sent, status must stay %d, got %d", http.StatusOK, rr.Code)
	}
	events := parseSSE(t, rr.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected delta then error event, got %+v", events)
	}
	if events[1].event != "error" {
		t.Fatalf("expected error event, got %s", events[1].event)
	}
	var resp ErrorResponse
	if err := json.Unmarshal([]byte(events[1].data), &resp); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if resp.Message != domain.ErrGenerationUnavailable.Error() {
		t.Errorf("unexpected error message: %q", resp.Message)
	}
}

func TestChat_EmbeddingUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.answerFn = func(context.Context, chat.Request) (domain.Answer, error) {
		return domain.Answer{}, domain.ErrEmbeddingUnavailable
	}

	rr := postChat(t, ts, `{"question": "q"}`)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	ts := newTestServer(t)

	rr := postChat(t, ts, `{"question":`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func postQuestions(t *testing.T, ts *testServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/rag/generate-questions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestGenerateQuestions_ReturnsBatch(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.suggestFn = func(_ context.Context, req chat.QuestionsRequest) (chat.Questions, error) {
		if req.Count != 3 || req.Model != "gpt-4o-mini" {
			t.Errorf("unexpected request: %+v", req)
		}
		return chat.Questions{
			Questions: []string{"What is the deadline?", "Who approves the budget?", "Where is the office?"},
			Model:     "gpt-4o-mini",
		}, nil
	}

	rr := postQuestions(t, ts, `{"num_questions": 3, "model": "gpt-4o-mini"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp struct {
		Questions []string `json:"questions"`
		Model     string   `json:"model_used"`
		Success   bool     `json:"success"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || len(resp.Questions) != 3 || resp.Model != "gpt-4o-mini" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGenerateQuestions_EmptyIndexMapsToBadRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.suggestFn = func(_ context.Context, _ chat.QuestionsRequest) (chat.Questions, error) {
		return chat.Questions{}, fmt.Errorf("no indexed content to generate questions from: %w", domain.ErrInvalidQuery)
	}

	rr := postQuestions(t, ts, `{"num_questions": 5}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != codeInvalidQuery {
		t.Errorf("code: got %s, want %s", resp.Code, codeInvalidQuery)
	}
}

func TestGenerateQuestions_GenerationFailureMapsToBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.chatter.suggestFn = func(_ context.Context, _ chat.QuestionsRequest) (chat.Questions, error) {
		return chat.Questions{}, fmt.Errorf("generate question 1: %w", domain.ErrGenerationUnavailable)
	}

	rr := postQuestions(t, ts, `{}`)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
}
