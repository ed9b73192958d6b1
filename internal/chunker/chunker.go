// Package chunker splits extracted document text into overlapping
// fixed-size segments, the retrieval unit of the pipeline.
package chunker

import "github.com/kailas-cloud/ragdex/internal/domain"

// Split walks text in a sliding window of size runes, advancing by
// size-overlap each step. The final window may be shorter and is still
// emitted, so chunk spans always cover the whole text. Offsets are rune
// positions in the source text.
//
// Split assumes a validated config (0 < size, 0 <= overlap < size); the
// document store rejects violations at write time.
func Split(docID, text string, size, overlap int) []domain.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := size - overlap
	chunks := make([]domain.Chunk, 0, (len(runes)+stride-1)/stride)

	for start, seq := 0, 0; start < len(runes); start, seq = start+stride, seq+1 {
		end := min(start+size, len(runes))
		chunks = append(chunks, domain.Chunk{
			DocID:       docID,
			Seq:         seq,
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if end == len(runes) {
			break
		}
	}

	return chunks
}
