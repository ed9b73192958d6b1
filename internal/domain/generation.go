package domain

import (
	"context"
	"time"
)

// GenerationRequest is one call to the generation model.
type GenerationRequest struct {
	System      string
	Prompt      string
	Model       string  // empty selects the configured default
	Temperature float32 // NaN-free; negative selects the configured default
}

// Generator produces answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// StreamGenerator produces answer text incrementally. onDelta receives
// each partial-text token in order; returning an error aborts the stream.
// The full concatenated text is returned once the stream ends.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, req GenerationRequest, onDelta func(delta string) error) (string, error)
}

// Citation points from an answer back to the chunk that grounded it.
type Citation struct {
	DocID   string `json:"doc_id"`
	Seq     int    `json:"sequence_index"`
	Snippet string `json:"snippet"`
}

// Answer is the result of one retrieval-generation cycle.
// Success=false marks the degraded fallback path; callers needing
// guarantees check the flag, not the message text.
type Answer struct {
	Message   string     `json:"message"`
	Citations []Citation `json:"citations"`
	Timestamp time.Time  `json:"timestamp"`
	Model     string     `json:"model_used"`
	Success   bool       `json:"success"`
}
