// Package store persists knowledge-base articles, query logs, and
// feedback, and serves keyword and vector retrieval.
package store

import (
	"context"
	"time"
)

// ScoredID pairs an article id with a retrieval score.
type ScoredID struct {
	ID    string
	Score float64
}

// Article is a knowledge-base article chunk.
type Article struct {
	ID               string  `db:"id"`
	Title            string  `db:"title"`
	Content          string  `db:"content"`
	Category         string  `db:"category"`
	SourceDocumentID *string `db:"source_document_id"`
	ChunkIndex       int     `db:"chunk_index"`
	HeadingPath      *string `db:"heading_path"`
}

// ArticleMeta carries the fields post-retrieval adjustment needs.
type ArticleMeta struct {
	ID               string   `db:"id"`
	Category         string   `db:"category"`
	SourceDocumentID *string  `db:"source_document_id"`
	ChunkIndex       int      `db:"chunk_index"`
	QualityScore     *float64 `db:"quality_score"`
}

// QueryLogEntry records one executed search for the performance log.
type QueryLogEntry struct {
	QueryText         string
	EfSearchUsed      int
	BM25ResultCount   int
	VectorResultCount int
	ResultsReturned   int
	ResponseTimeMS    float64
	Intent            string
	IntentConfidence  float64
	FusionStrategy    string
}

// FeedbackEntry is one user rating on a search result.
type FeedbackEntry struct {
	QueryID    string
	ResultRank int
	Rating     string
	Comment    string
	ArticleID  *string
}

// RatingCounts aggregates feedback per article by rating.
type RatingCounts struct {
	Helpful    int
	NotHelpful int
	Incorrect  int
}

// Total returns the number of feedback entries.
func (r RatingCounts) Total() int {
	return r.Helpful + r.NotHelpful + r.Incorrect
}

// LatencyStats summarizes response times over the stats window.
type LatencyStats struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Stats is the monitoring snapshot served by the stats endpoint.
type Stats struct {
	QueriesTotal       int            `json:"queries_total"`
	Queries24h         int            `json:"queries_24h"`
	Latency            LatencyStats   `json:"latency_ms"`
	IntentDistribution map[string]int `json:"intent_distribution"`
	FeedbackStats      map[string]int `json:"feedback_stats"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// ArticleStore is the persistence contract for the search engine.
type ArticleStore interface {
	// KeywordSearch runs full-text retrieval and returns up to 50
	// scored article ids, best first.
	KeywordSearch(ctx context.Context, query string) ([]ScoredID, error)

	// VectorSearch returns the nearest articles by cosine similarity.
	// Returns nil without error when vector search is disabled.
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]ScoredID, error)

	// VectorSearchEnabled reports whether the vector extension is usable.
	VectorSearchEnabled() bool

	// GetArticles fetches full articles by id.
	GetArticles(ctx context.Context, ids []string) (map[string]Article, error)

	// GetArticleMeta fetches adjustment metadata by id.
	GetArticleMeta(ctx context.Context, ids []string) (map[string]ArticleMeta, error)

	// LogQuery appends to the query performance log and returns the
	// generated query id.
	LogQuery(ctx context.Context, entry QueryLogEntry) (string, error)

	// SaveFeedback stores one feedback entry.
	SaveFeedback(ctx context.Context, fb FeedbackEntry) error

	// FeedbackCounts aggregates all feedback by article and rating.
	FeedbackCounts(ctx context.Context) (map[string]RatingCounts, error)

	// UpdateQualityScore persists a recomputed article quality score.
	UpdateQualityScore(ctx context.Context, articleID string, score float64) error

	// Stats returns the 24-hour monitoring snapshot.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying connections.
	Close() error
}
