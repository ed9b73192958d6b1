package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/chat"
)

// chatRequest is the body of POST /api/rag/chat.
type chatRequest struct {
	Question    string   `json:"question"`
	K           *int     `json:"k"`
	SearchType  string   `json:"search_type"`
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature"`
	Stream      bool     `json:"stream"`
}

// handleChat handles POST /api/rag/chat. stream=false returns a single
// JSON answer; stream=true returns SSE delta events followed by a done
// event carrying the final answer with citations.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	mode, err := domain.ParseSearchMode(body.SearchType)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	// An absent k selects the configured default; an explicit k must be positive.
	k := 0
	if body.K != nil {
		if *body.K <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidQuery,
				fmt.Sprintf("k must be positive, got %d", *body.K))
			return
		}
		k = *body.K
	}

	temperature := float32(-1)
	if body.Temperature != nil {
		temperature = *body.Temperature
	}

	req := chat.Request{
		Question:    body.Question,
		K:           k,
		Mode:        mode,
		Model:       body.Model,
		Temperature: temperature,
	}

	if body.Stream {
		s.streamChat(w, r, req)
		return
	}

	answer, err := s.chat.Answer(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// questionsRequest is the body of POST /api/rag/generate-questions.
type questionsRequest struct {
	NumQuestions int      `json:"num_questions"`
	Model        string   `json:"model"`
	Temperature  *float32 `json:"temperature"`
}

type questionsResponse struct {
	Questions []string `json:"questions"`
	Model     string   `json:"model_used"`
	Success   bool     `json:"success"`
}

// handleGenerateQuestions handles POST /api/rag/generate-questions,
// suggesting questions the indexed corpus can answer.
func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var body questionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	temperature := float32(-1)
	if body.Temperature != nil {
		temperature = *body.Temperature
	}

	questions, err := s.chat.SuggestQuestions(r.Context(), chat.QuestionsRequest{
		Count:       body.NumQuestions,
		Model:       body.Model,
		Temperature: temperature,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, questionsResponse{
		Questions: questions.Questions,
		Model:     questions.Model,
		Success:   true,
	})
}

// streamChat runs the streaming answer path over SSE. Headers are written
// lazily on the first delta so validation errors still map to JSON statuses.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	streaming := false
	start := func() {
		if streaming {
			return
		}
		streaming = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	answer, err := s.chat.AnswerStream(r.Context(), req, func(delta string) error {
		start()
		return writeSSE(w, flusher, "delta", map[string]string{"delta": delta})
	})
	if err != nil {
		if !streaming {
			s.handleDomainError(w, err)
			return
		}
		_ = writeSSE(w, flusher, "error", ErrorResponse{
			Code:    codeInternalError,
			Message: safeDomainMessage(err),
		})
		return
	}

	start()
	_ = writeSSE(w, flusher, "done", answer)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}
