package index

import (
	"math"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

type candidate struct {
	retrieved domain.Retrieved
	vector    []float32
	key       string
}

// rerankMMR selects k results by maximal marginal relevance:
// score = lambda*sim(query, c) - (1-lambda)*max(sim(c, selected)).
// Candidates must already be sorted by relevance; ties during selection
// fall back to that order, which keeps the result deterministic.
func rerankMMR(query []float32, candidates []candidate, k int, lambda float64) []domain.Retrieved {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	if lambda < 0 || lambda > 1 {
		lambda = 0.5
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]domain.Retrieved, 0, k)
	selectedVecs := make([][]float32, 0, k)
	used := make([]bool, len(candidates))

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, c := range candidates {
			if used[i] {
				continue
			}

			relevance := cosineSimilarity(query, c.vector)
			redundancy := 0.0
			for _, sv := range selectedVecs {
				if sim := cosineSimilarity(c.vector, sv); sim > redundancy {
					redundancy = sim
				}
			}

			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, candidates[bestIdx].retrieved)
		selectedVecs = append(selectedVecs, candidates[bestIdx].vector)
	}

	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
