package search

import (
	"sort"

	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/store"
)

// rrfK dampens the rank contribution in reciprocal rank fusion.
const rrfK = 60

// Default weights for the weighted strategy.
const (
	defaultBM25Weight   = 0.3
	defaultVectorWeight = 0.6
)

// bm25NormFloor guards the max-normalization divisor against near-zero
// BM25 scores.
const bm25NormFloor = 0.01

// adaptiveWeights maps a detected intent to fusion weights. Semantic
// queries lean on the vector side; procedural queries keep more keyword
// signal.
var adaptiveWeights = map[intent.Intent]struct{ bm25, vector float64 }{
	intent.Policy:    {0.35, 0.65},
	intent.Procedure: {0.40, 0.60},
	intent.Reference: {0.20, 0.80},
	intent.Unknown:   {0.30, 0.70},
}

// ReciprocalRankFusion merges two rankings by summed reciprocal rank:
// score(d) = sum over lists of 1/(k + rank(d)). Raw scores are ignored.
func ReciprocalRankFusion(bm25, vector []store.ScoredID) []store.ScoredID {
	scores := make(map[string]float64, len(bm25)+len(vector))
	for rank, r := range bm25 {
		scores[r.ID] += 1.0 / float64(rrfK+rank+1)
	}
	for rank, r := range vector {
		scores[r.ID] += 1.0 / float64(rrfK+rank+1)
	}
	return sortScores(scores)
}

// WeightedCombination normalizes both score sets to [0, 1] and combines
// them linearly. BM25 scores are max-normalized then clipped; cosine
// similarities are clipped.
func WeightedCombination(bm25, vector []store.ScoredID, bm25Weight, vectorWeight float64) []store.ScoredID {
	bm25Norm := make(map[string]float64, len(bm25))
	if len(bm25) > 0 {
		bm25Max := bm25[0].Score
		for _, r := range bm25 {
			if r.Score > bm25Max {
				bm25Max = r.Score
			}
		}
		if bm25Max < bm25NormFloor {
			bm25Max = bm25NormFloor
		}
		for _, r := range bm25 {
			bm25Norm[r.ID] = min(1.0, max(0.0, r.Score/bm25Max))
		}
	}

	vectorNorm := make(map[string]float64, len(vector))
	for _, r := range vector {
		vectorNorm[r.ID] = min(1.0, max(0.0, r.Score))
	}

	combined := make(map[string]float64, len(bm25Norm)+len(vectorNorm))
	for id, s := range bm25Norm {
		combined[id] = bm25Weight * s
	}
	for id, s := range vectorNorm {
		combined[id] += vectorWeight * s
	}
	return sortScores(combined)
}

// AdaptiveFusion runs a weighted combination with intent-derived weights.
func AdaptiveFusion(bm25, vector []store.ScoredID, queryIntent intent.Intent) []store.ScoredID {
	w, ok := adaptiveWeights[queryIntent]
	if !ok {
		w = adaptiveWeights[intent.Unknown]
	}
	return WeightedCombination(bm25, vector, w.bm25, w.vector)
}

// fuse dispatches on strategy. The rerank strategy fuses adaptively; the
// cross-encoder pass happens downstream.
func fuse(strategy Strategy, bm25, vector []store.ScoredID, queryIntent intent.Intent) []store.ScoredID {
	switch strategy {
	case StrategyRRF:
		return ReciprocalRankFusion(bm25, vector)
	case StrategyWeighted:
		return WeightedCombination(bm25, vector, defaultBM25Weight, defaultVectorWeight)
	default:
		return AdaptiveFusion(bm25, vector, queryIntent)
	}
}

// sortScores orders a score map best first with ids as tiebreaker so
// ranking is deterministic.
func sortScores(scores map[string]float64) []store.ScoredID {
	out := make([]store.ScoredID, 0, len(scores))
	for id, s := range scores {
		out = append(out, store.ScoredID{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
