package index

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// buildHashFields converts a chunk and its vector into a flat map[string]string for HSET.
func buildHashFields(c *domain.Chunk, vector []float32) map[string]string {
	return map[string]string{
		"__content": c.Text,
		"__vector":  vectorToBytes(vector),
		"doc_id":    c.DocID,
		"seq":       strconv.Itoa(c.Seq),
		"start":     strconv.Itoa(c.StartOffset),
		"end":       strconv.Itoa(c.EndOffset),
	}
}

// parseHashFields converts a flat hash map back into a chunk.
func parseHashFields(m map[string]string) domain.Chunk {
	seq, _ := strconv.Atoi(m["seq"])
	start, _ := strconv.Atoi(m["start"])
	end, _ := strconv.Atoi(m["end"])
	return domain.Chunk{
		DocID:       m["doc_id"],
		Seq:         seq,
		Text:        m["__content"],
		StartOffset: start,
		EndOffset:   end,
	}
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
