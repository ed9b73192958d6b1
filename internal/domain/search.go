package domain

import "fmt"

// SearchMode selects how the vector index ranks results.
type SearchMode string

const (
	// SearchSimilarity ranks purely by cosine similarity to the query vector.
	SearchSimilarity SearchMode = "similarity"
	// SearchMMR re-ranks similarity candidates by maximal marginal
	// relevance, trading relevance against diversity.
	SearchMMR SearchMode = "mmr"
)

// ParseSearchMode validates a wire-level search_type value.
func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "", string(SearchSimilarity):
		return SearchSimilarity, nil
	case string(SearchMMR):
		return SearchMMR, nil
	default:
		return "", fmt.Errorf("unknown search_type %q: %w", s, ErrInvalidQuery)
	}
}

// Retrieved is a single search hit: a chunk with its similarity score.
// Ownership is transient to one query-response cycle.
type Retrieved struct {
	Chunk Chunk
	Score float64
}
