package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/store"
)

var (
	bm25Fixture = []store.ScoredID{
		{ID: "a1", Score: 2.5},
		{ID: "a2", Score: 2.1},
		{ID: "a3", Score: 1.8},
	}
	vectorFixture = []store.ScoredID{
		{ID: "a2", Score: 0.85},
		{ID: "a1", Score: 0.82},
		{ID: "a4", Score: 0.79},
	}
)

func assertRanking(t *testing.T, fused []store.ScoredID, inputs ...[]store.ScoredID) {
	t.Helper()

	union := make(map[string]struct{})
	for _, in := range inputs {
		for _, r := range in {
			union[r.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	for i, r := range fused {
		_, dup := seen[r.ID]
		assert.False(t, dup, "duplicate id %s", r.ID)
		seen[r.ID] = struct{}{}

		_, known := union[r.ID]
		assert.True(t, known, "id %s not in any input", r.ID)

		if i > 0 {
			assert.GreaterOrEqual(t, fused[i-1].Score, r.Score, "ranking not descending at %d", i)
		}
	}
}

func TestReciprocalRankFusion(t *testing.T) {
	fused := ReciprocalRankFusion(bm25Fixture, vectorFixture)

	assertRanking(t, fused, bm25Fixture, vectorFixture)
	require.Len(t, fused, 4)

	scores := make(map[string]float64)
	for _, r := range fused {
		scores[r.ID] = r.Score
	}
	// a1: rank 1 keyword + rank 2 vector; a2: rank 2 keyword + rank 1 vector.
	assert.InDelta(t, 1.0/61+1.0/62, scores["a1"], 1e-12)
	assert.InDelta(t, 1.0/62+1.0/61, scores["a2"], 1e-12)
	assert.InDelta(t, 1.0/63, scores["a3"], 1e-12)
	assert.InDelta(t, 1.0/63, scores["a4"], 1e-12)
}

func TestReciprocalRankFusion_EmptyInputs(t *testing.T) {
	assert.Empty(t, ReciprocalRankFusion(nil, nil))

	fused := ReciprocalRankFusion(bm25Fixture, nil)
	require.Len(t, fused, 3)
	assert.Equal(t, "a1", fused[0].ID)
}

func TestWeightedCombination(t *testing.T) {
	fused := WeightedCombination(bm25Fixture, vectorFixture, 0.3, 0.6)
	assertRanking(t, fused, bm25Fixture, vectorFixture)

	scores := make(map[string]float64)
	for _, r := range fused {
		scores[r.ID] = r.Score
	}
	// a1: bm25 2.5/2.5=1.0, vector 0.82.
	assert.InDelta(t, 0.3*1.0+0.6*0.82, scores["a1"], 1e-9)
	// a4: vector only.
	assert.InDelta(t, 0.6*0.79, scores["a4"], 1e-9)
}

func TestWeightedCombination_ScoresStayInUnitRange(t *testing.T) {
	bm25 := []store.ScoredID{{ID: "a1", Score: 0.004}, {ID: "a2", Score: 0.002}}
	vector := []store.ScoredID{{ID: "a3", Score: 1.7}, {ID: "a4", Score: -0.2}}

	fused := WeightedCombination(bm25, vector, 0.3, 0.6)

	scores := make(map[string]float64)
	for _, r := range fused {
		scores[r.ID] = r.Score
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	// Tiny BM25 scores divide by the 0.01 floor instead of their max.
	assert.InDelta(t, 0.3*0.4, scores["a1"], 1e-9)
	// Out-of-range cosines are clipped.
	assert.InDelta(t, 0.6*1.0, scores["a3"], 1e-9)
	assert.InDelta(t, 0.0, scores["a4"], 1e-9)
}

func TestWeightedCombination_NegativeBM25ClipsToZero(t *testing.T) {
	// All-negative keyword scores divide by the 0.01 floor and must clip
	// instead of blowing up to large negative norms.
	bm25 := []store.ScoredID{{ID: "doc-a", Score: -10}, {ID: "doc-b", Score: -1}}

	fused := WeightedCombination(bm25, nil, 0.3, 0.6)

	require.Len(t, fused, 2)
	for _, r := range fused {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	// A negative score alongside a positive max clips to zero rather than
	// contributing a negative term.
	mixed := WeightedCombination([]store.ScoredID{
		{ID: "a", Score: 5},
		{ID: "b", Score: -2},
	}, nil, 0.3, 0.6)
	scores := make(map[string]float64)
	for _, r := range mixed {
		scores[r.ID] = r.Score
	}
	assert.InDelta(t, 0.3, scores["a"], 1e-9)
	assert.InDelta(t, 0.0, scores["b"], 1e-9)
}

func TestWeightedCombination_OneSideEmpty(t *testing.T) {
	fused := WeightedCombination(nil, vectorFixture, 0.3, 0.6)
	require.Len(t, fused, 3)
	assert.Equal(t, "a2", fused[0].ID)

	fused = WeightedCombination(bm25Fixture, nil, 0.3, 0.6)
	require.Len(t, fused, 3)
	assert.Equal(t, "a1", fused[0].ID)
}

func TestAdaptiveFusion_WeightsByIntent(t *testing.T) {
	// Reference leans hardest on the vector side, so the vector-only
	// article a4 ranks relatively higher than under procedure weights.
	ref := AdaptiveFusion(bm25Fixture, vectorFixture, intent.Reference)
	proc := AdaptiveFusion(bm25Fixture, vectorFixture, intent.Procedure)

	rank := func(fused []store.ScoredID, id string) int {
		for i, r := range fused {
			if r.ID == id {
				return i
			}
		}
		return -1
	}
	assert.LessOrEqual(t, rank(ref, "a4"), rank(proc, "a4"))
	assertRanking(t, ref, bm25Fixture, vectorFixture)
}

func TestAdaptiveFusion_UnknownMatchesDefaultWeights(t *testing.T) {
	got := AdaptiveFusion(bm25Fixture, vectorFixture, intent.Unknown)
	want := WeightedCombination(bm25Fixture, vectorFixture, 0.30, 0.70)
	assert.Equal(t, want, got)

	// Unrecognized intents fall back to the unknown weights.
	odd := AdaptiveFusion(bm25Fixture, vectorFixture, intent.Intent("weird"))
	assert.Equal(t, want, odd)
}

func TestFuse_Dispatch(t *testing.T) {
	rrf := fuse(StrategyRRF, bm25Fixture, vectorFixture, intent.Unknown)
	assert.Equal(t, ReciprocalRankFusion(bm25Fixture, vectorFixture), rrf)

	weighted := fuse(StrategyWeighted, bm25Fixture, vectorFixture, intent.Policy)
	assert.Equal(t, WeightedCombination(bm25Fixture, vectorFixture, 0.3, 0.6), weighted)

	// The rerank strategy fuses adaptively; re-ranking happens later.
	rerank := fuse(StrategyRerank, bm25Fixture, vectorFixture, intent.Policy)
	assert.Equal(t, AdaptiveFusion(bm25Fixture, vectorFixture, intent.Policy), rerank)
}
