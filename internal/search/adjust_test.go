package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/store"
)

func strptr(s string) *string   { return &s }
func f64ptr(f float64) *float64 { return &f }

func TestApplyCategoryBoost(t *testing.T) {
	fused := []store.ScoredID{
		{ID: "a1", Score: 0.50},
		{ID: "a2", Score: 0.48},
	}
	meta := map[string]store.ArticleMeta{
		"a1": {ID: "a1", Category: "REFERENCE"},
		"a2": {ID: "a2", Category: "POLICY"},
	}
	c := intent.Classification{Intent: intent.Policy, Confidence: 0.6}

	boosted := applyCategoryBoost(fused, meta, c)

	// a2 overtakes a1 after the 20% category boost.
	require.Equal(t, "a2", boosted[0].ID)
	assert.InDelta(t, 0.48*1.20, boosted[0].Score, 1e-9)
	assert.InDelta(t, 0.50, boosted[1].Score, 1e-9)
}

func TestApplyCategoryBoost_SkipsLowConfidenceAndUnknown(t *testing.T) {
	fused := []store.ScoredID{{ID: "a1", Score: 0.5}}
	meta := map[string]store.ArticleMeta{"a1": {ID: "a1", Category: "POLICY"}}

	low := applyCategoryBoost(fused, meta, intent.Classification{Intent: intent.Policy, Confidence: 0.2})
	assert.InDelta(t, 0.5, low[0].Score, 1e-9)

	unk := applyCategoryBoost(fused, meta, intent.Classification{Intent: intent.Unknown, Confidence: 0.9})
	assert.InDelta(t, 0.5, unk[0].Score, 1e-9)
}

func TestApplyCategoryBoost_OnlyTopWindow(t *testing.T) {
	fused := make([]store.ScoredID, 0, adjustWindow+1)
	meta := make(map[string]store.ArticleMeta)
	for i := 0; i < adjustWindow+1; i++ {
		id := fmt.Sprintf("a%02d", i)
		fused = append(fused, store.ScoredID{ID: id, Score: 1.0 - float64(i)*0.01})
		meta[id] = store.ArticleMeta{ID: id, Category: "POLICY"}
	}
	tailID := fused[adjustWindow].ID

	boosted := applyCategoryBoost(fused, meta, intent.Classification{Intent: intent.Policy, Confidence: 0.9})

	for _, r := range boosted {
		if r.ID == tailID {
			// Outside the window: unchanged.
			assert.InDelta(t, 1.0-float64(adjustWindow)*0.01, r.Score, 1e-9)
		}
	}
}

func TestApplyQualityScores(t *testing.T) {
	fused := []store.ScoredID{
		{ID: "a1", Score: 0.50},
		{ID: "a2", Score: 0.48},
		{ID: "a3", Score: 0.47},
	}
	meta := map[string]store.ArticleMeta{
		"a1": {ID: "a1", QualityScore: f64ptr(0.80)},
		"a2": {ID: "a2", QualityScore: f64ptr(1.10)},
		"a3": {ID: "a3"}, // no feedback yet: neutral
	}

	adjusted := applyQualityScores(fused, meta)

	require.Equal(t, "a2", adjusted[0].ID)
	assert.InDelta(t, 0.48*1.10, adjusted[0].Score, 1e-9)
	assert.Equal(t, "a3", adjusted[1].ID)
	assert.InDelta(t, 0.47, adjusted[1].Score, 1e-9)
	assert.Equal(t, "a1", adjusted[2].ID)
	assert.InDelta(t, 0.50*0.80, adjusted[2].Score, 1e-9)
}

func TestBoostThenQualityOrder(t *testing.T) {
	// The boost applies to the pre-quality ranking window: a result
	// pushed into the top by its quality score alone does not gain a
	// category boost retroactively.
	fused := []store.ScoredID{
		{ID: "match", Score: 0.40},
		{ID: "other", Score: 0.39},
	}
	meta := map[string]store.ArticleMeta{
		"match": {ID: "match", Category: "PROCEDURE", QualityScore: f64ptr(0.9)},
		"other": {ID: "other", Category: "REFERENCE", QualityScore: f64ptr(1.2)},
	}
	c := intent.Classification{Intent: intent.Procedure, Confidence: 0.5}

	out := applyQualityScores(applyCategoryBoost(fused, meta, c), meta)

	scores := map[string]float64{}
	for _, r := range out {
		scores[r.ID] = r.Score
	}
	assert.InDelta(t, 0.40*1.20*0.9, scores["match"], 1e-9)
	assert.InDelta(t, 0.39*1.2, scores["other"], 1e-9)
}

func TestDedupeBySourceDocument(t *testing.T) {
	fused := []store.ScoredID{
		{ID: "a1", Score: 0.9},
		{ID: "a2", Score: 0.8},
		{ID: "a3", Score: 0.7},
		{ID: "a4", Score: 0.6},
	}
	meta := map[string]store.ArticleMeta{
		"a1": {ID: "a1", SourceDocumentID: strptr("doc-1"), ChunkIndex: 0},
		"a2": {ID: "a2", SourceDocumentID: strptr("doc-1"), ChunkIndex: 3},
		"a3": {ID: "a3", SourceDocumentID: nil},
		// a4 has no metadata row at all.
	}

	out := dedupeBySourceDocument(fused, meta)

	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	// The lower-ranked chunk of doc-1 drops; null and missing metadata pass through.
	assert.Equal(t, []string{"a1", "a3", "a4"}, ids)
}

func TestDedupeBySourceDocument_KeepsBestRanked(t *testing.T) {
	fused := []store.ScoredID{
		{ID: "chunk-2", Score: 0.95},
		{ID: "chunk-1", Score: 0.90},
	}
	meta := map[string]store.ArticleMeta{
		"chunk-1": {ID: "chunk-1", SourceDocumentID: strptr("doc-9"), ChunkIndex: 1},
		"chunk-2": {ID: "chunk-2", SourceDocumentID: strptr("doc-9"), ChunkIndex: 2},
	}

	out := dedupeBySourceDocument(fused, meta)
	require.Len(t, out, 1)
	assert.Equal(t, "chunk-2", out[0].ID)
}
