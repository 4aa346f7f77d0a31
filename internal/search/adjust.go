package search

import (
	"sort"
	"strings"

	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/store"
)

// Post-fusion adjustment constants.
const (
	// categoryBoostFactor multiplies scores of results whose category
	// matches the detected intent.
	categoryBoostFactor = 1.20
	// boostConfidenceMin gates the category boost on intent confidence.
	boostConfidenceMin = 0.3
	// adjustWindow bounds how many top results get boosted or
	// quality-adjusted.
	adjustWindow = 30
)

// boostableIntents maps intents to article categories. Unknown has no
// category and never boosts.
var boostableIntents = map[intent.Intent]string{
	intent.Policy:    "POLICY",
	intent.Procedure: "PROCEDURE",
	intent.Reference: "REFERENCE",
}

// applyCategoryBoost multiplies the score of intent-matching results in
// the adjustment window, then re-sorts. It runs before the quality
// multiplier so both act on the same window.
func applyCategoryBoost(fused []store.ScoredID, meta map[string]store.ArticleMeta, c intent.Classification) []store.ScoredID {
	target, ok := boostableIntents[c.Intent]
	if !ok || c.Confidence < boostConfidenceMin {
		return fused
	}

	window := make(map[string]struct{}, adjustWindow)
	for _, r := range fused[:min(adjustWindow, len(fused))] {
		window[r.ID] = struct{}{}
	}

	boosted := make([]store.ScoredID, len(fused))
	for i, r := range fused {
		score := r.Score
		if _, inWindow := window[r.ID]; inWindow {
			if m, ok := meta[r.ID]; ok && strings.EqualFold(m.Category, target) {
				score *= categoryBoostFactor
			}
		}
		boosted[i] = store.ScoredID{ID: r.ID, Score: score}
	}
	return resort(boosted)
}

// applyQualityScores multiplies scores in the adjustment window by the
// per-article quality score learned from feedback, then re-sorts.
// Articles without a stored score count as neutral (1.0).
func applyQualityScores(fused []store.ScoredID, meta map[string]store.ArticleMeta) []store.ScoredID {
	window := make(map[string]struct{}, adjustWindow)
	for _, r := range fused[:min(adjustWindow, len(fused))] {
		window[r.ID] = struct{}{}
	}

	adjusted := make([]store.ScoredID, len(fused))
	for i, r := range fused {
		score := r.Score
		if _, inWindow := window[r.ID]; inWindow {
			if m, ok := meta[r.ID]; ok && m.QualityScore != nil {
				score *= *m.QualityScore
			}
		}
		adjusted[i] = store.ScoredID{ID: r.ID, Score: score}
	}
	return resort(adjusted)
}

func resort(results []store.ScoredID) []store.ScoredID {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
