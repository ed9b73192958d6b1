package ragdex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// ChatRequest asks a question against the indexed corpus.
type ChatRequest struct {
	// Question is the user's query. Required.
	Question string `json:"question"`
	// K caps the number of retrieved chunks; zero uses the server default.
	K int `json:"k,omitempty"`
	// SearchType is "similarity" or "mmr"; empty means similarity.
	SearchType string `json:"search_type,omitempty"`
	// Model overrides the configured generation model when non-empty.
	Model string `json:"model,omitempty"`
	// Temperature overrides the provider default when non-nil.
	Temperature *float32 `json:"temperature,omitempty"`
}

type chatPayload struct {
	ChatRequest
	Stream bool `json:"stream"`
}

// Chat answers a question in a single round trip.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (domain.Answer, error) {
	var answer domain.Answer
	if err := c.postJSON(ctx, "/api/rag/chat", chatPayload{ChatRequest: req}, &answer); err != nil {
		return domain.Answer{}, err
	}
	return answer, nil
}

// QuestionsRequest asks the server to suggest questions that the indexed
// corpus can answer.
type QuestionsRequest struct {
	// NumQuestions caps the batch size; zero uses the server default.
	NumQuestions int `json:"num_questions,omitempty"`
	// Model overrides the configured generation model when non-empty.
	Model string `json:"model,omitempty"`
	// Temperature overrides the provider default when non-nil.
	Temperature *float32 `json:"temperature,omitempty"`
}

// Questions is a batch of suggested questions.
type Questions struct {
	Questions []string `json:"questions"`
	Model     string   `json:"model_used"`
	Success   bool     `json:"success"`
}

// GenerateQuestions asks the server for questions the indexed documents can
// answer, e.g. to seed an empty chat UI.
func (c *Client) GenerateQuestions(ctx context.Context, req QuestionsRequest) (Questions, error) {
	var questions Questions
	if err := c.postJSON(ctx, "/api/rag/generate-questions", req, &questions); err != nil {
		return Questions{}, err
	}
	return questions, nil
}

// ChatStream answers a question, invoking onDelta for each generated token
// batch as it arrives. The full answer is returned once the stream ends.
// A non-nil error from onDelta aborts the stream.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (domain.Answer, error) {
	payload, err := json.Marshal(chatPayload{ChatRequest: req, Stream: true})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/rag/chat", nil, bytes.NewReader(payload))
	if err != nil {
		return domain.Answer{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("POST /api/rag/chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Answer{}, decodeError(resp)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		// The server answered without streaming, e.g. when the index is empty.
		var answer domain.Answer
		if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
			return domain.Answer{}, fmt.Errorf("decode response: %w", err)
		}
		return answer, nil
	}

	return readChatStream(resp.Body, onDelta)
}

func readChatStream(body io.Reader, onDelta func(delta string) error) (domain.Answer, error) {
	var (
		event   string
		scanner = bufio.NewScanner(body)
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "delta":
				var d struct {
					Delta string `json:"delta"`
				}
				if err := json.Unmarshal([]byte(data), &d); err != nil {
					return domain.Answer{}, fmt.Errorf("decode delta event: %w", err)
				}
				if onDelta != nil {
					if err := onDelta(d.Delta); err != nil {
						return domain.Answer{}, err
					}
				}
			case "done":
				var answer domain.Answer
				if err := json.Unmarshal([]byte(data), &answer); err != nil {
					return domain.Answer{}, fmt.Errorf("decode done event: %w", err)
				}
				return answer, nil
			case "error":
				var e struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal([]byte(data), &e); err != nil {
					return domain.Answer{}, fmt.Errorf("decode error event: %w", err)
				}
				return domain.Answer{}, fmt.Errorf("generation failed: %s", e.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Answer{}, fmt.Errorf("read stream: %w", err)
	}
	return domain.Answer{}, errors.New("stream ended without a done event")
}
