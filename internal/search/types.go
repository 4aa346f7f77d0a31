// Package search implements hybrid retrieval: keyword and vector search
// run in parallel, scores are fused, adjusted by intent and feedback
// quality, deduplicated, and optionally re-ranked by a cross-encoder.
package search

import (
	"github.com/assistsupport/kbsearch/internal/intent"
)

// Strategy selects the score fusion method.
type Strategy string

const (
	// StrategyRRF uses reciprocal rank fusion.
	StrategyRRF Strategy = "rrf"
	// StrategyWeighted uses fixed-weight score combination.
	StrategyWeighted Strategy = "weighted"
	// StrategyAdaptive picks weights from the detected intent.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyRerank is adaptive fusion followed by cross-encoder re-ranking.
	StrategyRerank Strategy = "rerank"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyRRF, StrategyWeighted, StrategyAdaptive, StrategyRerank:
		return true
	}
	return false
}

// Options controls one search execution.
type Options struct {
	// Limit is the number of results to return.
	Limit int
	// Strategy is the fusion strategy (default adaptive).
	Strategy Strategy
	// Deduplicate collapses chunks of the same source document.
	Deduplicate bool
}

// Result is one ranked article in a search response.
type Result struct {
	ArticleID        string   `json:"article_id"`
	Title            string   `json:"title"`
	ContentPreview   string   `json:"content_preview"`
	Category         string   `json:"category"`
	BM25Score        float64  `json:"bm25_score"`
	VectorScore      float64  `json:"vector_score"`
	FusionScore      float64  `json:"fusion_score"`
	RerankScore      *float64 `json:"rerank_score,omitempty"`
	SourceDocumentID *string  `json:"source_document_id"`
	HeadingPath      *string  `json:"heading_path"`
}

// Metrics carries per-stage timings for one search.
type Metrics struct {
	TotalResults    int     `json:"total_results"`
	TotalTimeMS     float64 `json:"total_time_ms"`
	EmbeddingTimeMS float64 `json:"embedding_time_ms"`
	SearchTimeMS    float64 `json:"search_time_ms"`
	FusionTimeMS    float64 `json:"fusion_time_ms"`
	RerankTimeMS    float64 `json:"rerank_time_ms"`
}

// Response is the full result of one search.
type Response struct {
	Query            string        `json:"query"`
	QueryID          string        `json:"query_id,omitempty"`
	Intent           intent.Intent `json:"intent"`
	IntentConfidence float64       `json:"intent_confidence"`
	Results          []Result      `json:"results"`
	Metrics          Metrics       `json:"metrics"`
}
