// Package feedback turns user ratings into per-article quality scores.
//
// Quality scores multiply fusion scores at search time, so articles that
// users repeatedly mark helpful rise and articles marked incorrect sink.
// The adjustment stays small until enough feedback accumulates.
package feedback

import (
	"context"
	"log/slog"

	"github.com/assistsupport/kbsearch/internal/store"
)

// Aggregation constants.
const (
	// MinFeedback is the entry count below which an article's score
	// stays untouched.
	MinFeedback = 3
	// MaxWeight caps how far feedback can move a score.
	MaxWeight = 0.3
	// WeightPerFeedback grows the adjustment weight with volume.
	WeightPerFeedback = 0.02

	// Quality score clamp bounds.
	QualityMin = 0.5
	QualityMax = 1.5
)

// Rating values: helpful rewards, not_helpful is neutral-negative,
// incorrect actively penalizes.
const (
	helpfulValue    = 1.0
	notHelpfulValue = 0.0
	incorrectValue  = -0.5
)

// ValidRatings enumerates the accepted rating labels.
var ValidRatings = map[string]bool{
	"helpful":     true,
	"not_helpful": true,
	"incorrect":   true,
}

// QualityScore computes the quality multiplier for one article's rating
// counts. Returns 1.0 (neutral) and false when the article has too few
// entries to adjust.
func QualityScore(counts store.RatingCounts) (float64, bool) {
	total := counts.Total()
	if total < MinFeedback {
		return 1.0, false
	}

	scoreSum := float64(counts.Helpful)*helpfulValue +
		float64(counts.NotHelpful)*notHelpfulValue +
		float64(counts.Incorrect)*incorrectValue
	helpfulRate := max(0.0, scoreSum/float64(total))

	weight := min(MaxWeight, float64(total)*WeightPerFeedback)

	quality := 1.0 + (helpfulRate-0.5)*weight
	return min(QualityMax, max(QualityMin, quality)), true
}

// Aggregator recomputes quality scores from accumulated feedback.
type Aggregator struct {
	store  store.ArticleStore
	logger *slog.Logger
}

// NewAggregator creates a feedback aggregator.
func NewAggregator(s store.ArticleStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, logger: logger}
}

// Run recomputes and persists quality scores for every article with
// enough feedback. Returns the number of articles updated.
func (a *Aggregator) Run(ctx context.Context) (int, error) {
	counts, err := a.store.FeedbackCounts(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for articleID, c := range counts {
		score, ok := QualityScore(c)
		if !ok {
			continue
		}
		if err := a.store.UpdateQualityScore(ctx, articleID, score); err != nil {
			return updated, err
		}
		a.logger.Debug("quality_score_updated",
			slog.String("article_id", articleID),
			slog.Float64("quality_score", score),
			slog.Int("feedback_total", c.Total()))
		updated++
	}

	a.logger.Info("feedback_aggregation_complete",
		slog.Int("articles_with_feedback", len(counts)),
		slog.Int("articles_updated", updated))
	return updated, nil
}
