package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// keywordSearchLimit bounds the FTS candidate list.
const keywordSearchLimit = 50

// pq error code for statement_timeout / query cancellation.
const pqQueryCanceled = "57014"

// PostgresStore implements ArticleStore on Postgres with the pgvector
// extension for semantic retrieval.
type PostgresStore struct {
	db            *sqlx.DB
	logger        *slog.Logger
	efSearch      int
	vectorEnabled bool
}

var _ ArticleStore = (*PostgresStore)(nil)

// Options configures the Postgres store.
type Options struct {
	// EfSearch is the HNSW query-time search width (default: 100).
	EfSearch int
	// MaxOpenConns bounds the pool (default: 10).
	MaxOpenConns int
	Logger       *slog.Logger
}

// NewPostgresStore connects to Postgres and probes vector capability.
// EfSearch is applied per connection via session options so every pooled
// connection uses the same HNSW search width.
func NewPostgresStore(dsn string, opts Options) (*PostgresStore, error) {
	if opts.EfSearch <= 0 {
		opts.EfSearch = 100
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsn += fmt.Sprintf(" options='-c hnsw.ef_search=%d'", opts.EfSearch)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeStoreUnavailable, "connect to postgres", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &PostgresStore{
		db:       db,
		logger:   opts.Logger,
		efSearch: opts.EfSearch,
	}
	s.vectorEnabled = s.detectVectorCapability(context.Background())
	if !s.vectorEnabled {
		s.logger.Warn("pgvector extension not available, vector search disabled")
	}
	return s, nil
}

// newPostgresStoreFromDB wires an existing connection, used by tests.
func newPostgresStoreFromDB(db *sqlx.DB, vectorEnabled bool) *PostgresStore {
	return &PostgresStore{
		db:            db,
		logger:        slog.Default(),
		efSearch:      100,
		vectorEnabled: vectorEnabled,
	}
}

func (s *PostgresStore) detectVectorCapability(ctx context.Context) bool {
	var enabled sql.NullBool
	err := s.db.GetContext(ctx, &enabled, "SELECT to_regtype('vector') IS NOT NULL")
	if err != nil {
		s.logger.Warn("vector capability probe failed", slog.String("error", err.Error()))
		return false
	}
	return enabled.Valid && enabled.Bool
}

// KeywordSearch runs full-text retrieval via plainto_tsquery.
func (s *PostgresStore) KeywordSearch(ctx context.Context, query string) ([]ScoredID, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ts_rank(fts_content, query) AS bm25_score
		FROM kb_articles, plainto_tsquery('english', $1) query
		WHERE fts_content @@ query AND is_active = true
		ORDER BY bm25_score DESC
		LIMIT $2`, query, keywordSearchLimit)
	if err != nil {
		return nil, s.wrapStoreErr("keyword search", err)
	}
	defer func() { _ = rows.Close() }()

	return scanScoredIDs(rows)
}

// VectorSearch runs HNSW nearest-neighbor retrieval by cosine distance.
func (s *PostgresStore) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]ScoredID, error) {
	if !s.vectorEnabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = keywordSearchLimit
	}

	lit := vectorLiteral(embedding)
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, 1 - (embedding <=> $1::vector) AS cosine_similarity
		FROM kb_articles
		WHERE embedding IS NOT NULL AND is_active = true
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, lit, limit)
	if err != nil {
		return nil, s.wrapStoreErr("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	return scanScoredIDs(rows)
}

// VectorSearchEnabled reports whether pgvector queries are issued.
func (s *PostgresStore) VectorSearchEnabled() bool {
	return s.vectorEnabled
}

// GetArticles fetches full articles by id.
func (s *PostgresStore) GetArticles(ctx context.Context, ids []string) (map[string]Article, error) {
	out := make(map[string]Article, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, title, content, category, source_document_id, chunk_index, heading_path
		FROM kb_articles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "build article query", err)
	}

	var articles []Article
	if err := s.db.SelectContext(ctx, &articles, s.db.Rebind(query), args...); err != nil {
		return nil, s.wrapStoreErr("fetch articles", err)
	}
	for _, a := range articles {
		out[a.ID] = a
	}
	return out, nil
}

// GetArticleMeta fetches category, source document, and quality score by id.
func (s *PostgresStore) GetArticleMeta(ctx context.Context, ids []string) (map[string]ArticleMeta, error) {
	out := make(map[string]ArticleMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, category, source_document_id, chunk_index, quality_score
		FROM kb_articles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "build meta query", err)
	}

	var metas []ArticleMeta
	if err := s.db.SelectContext(ctx, &metas, s.db.Rebind(query), args...); err != nil {
		return nil, s.wrapStoreErr("fetch article meta", err)
	}
	for _, m := range metas {
		out[m.ID] = m
	}
	return out, nil
}

// LogQuery appends one row to the query performance log.
func (s *PostgresStore) LogQuery(ctx context.Context, entry QueryLogEntry) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO query_performance
			(query_text, ef_search_used, bm25_results_count,
			 vector_results_count, results_returned, response_time_ms,
			 recall_estimate, category_filter, intent_confidence, fusion_strategy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		entry.QueryText, entry.EfSearchUsed, entry.BM25ResultCount,
		entry.VectorResultCount, entry.ResultsReturned, entry.ResponseTimeMS,
		entry.IntentConfidence, entry.Intent, entry.IntentConfidence, entry.FusionStrategy)
	if err != nil {
		return "", kberrors.New(kberrors.ErrCodeLogFailed, "log query", err)
	}
	return id, nil
}

// SaveFeedback stores one feedback entry.
func (s *PostgresStore) SaveFeedback(ctx context.Context, fb FeedbackEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_feedback (query_id, result_rank, rating, comment, article_id)
		VALUES ($1, $2, $3, $4, $5)`,
		fb.QueryID, fb.ResultRank, fb.Rating, fb.Comment, fb.ArticleID)
	if err != nil {
		return s.wrapStoreErr("save feedback", err)
	}
	return nil
}

// FeedbackCounts aggregates feedback per article and rating.
func (s *PostgresStore) FeedbackCounts(ctx context.Context) (map[string]RatingCounts, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT article_id, rating, COUNT(*) AS cnt
		FROM search_feedback
		WHERE article_id IS NOT NULL
		GROUP BY article_id, rating`)
	if err != nil {
		return nil, s.wrapStoreErr("aggregate feedback", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]RatingCounts)
	for rows.Next() {
		var articleID, rating string
		var cnt int
		if err := rows.Scan(&articleID, &rating, &cnt); err != nil {
			return nil, s.wrapStoreErr("scan feedback row", err)
		}
		counts := out[articleID]
		switch rating {
		case "helpful":
			counts.Helpful = cnt
		case "not_helpful":
			counts.NotHelpful = cnt
		case "incorrect":
			counts.Incorrect = cnt
		}
		out[articleID] = counts
	}
	return out, rows.Err()
}

// UpdateQualityScore persists a recomputed quality score.
func (s *PostgresStore) UpdateQualityScore(ctx context.Context, articleID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE kb_articles SET quality_score = $1 WHERE id = $2", score, articleID)
	if err != nil {
		return s.wrapStoreErr("update quality score", err)
	}
	return nil
}

// Stats computes the 24-hour monitoring snapshot.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		IntentDistribution: make(map[string]int),
		FeedbackStats:      make(map[string]int),
		GeneratedAt:        time.Now().UTC(),
	}

	if err := s.db.GetContext(ctx, &stats.QueriesTotal,
		"SELECT COUNT(*) FROM query_performance"); err != nil {
		return nil, s.wrapStoreErr("count queries", err)
	}
	if err := s.db.GetContext(ctx, &stats.Queries24h, `
		SELECT COUNT(*) FROM query_performance
		WHERE created_at > NOW() - INTERVAL '24 hours'`); err != nil {
		return nil, s.wrapStoreErr("count recent queries", err)
	}

	var lat struct {
		Avg sql.NullFloat64 `db:"avg_latency"`
		P50 sql.NullFloat64 `db:"p50"`
		P95 sql.NullFloat64 `db:"p95"`
		P99 sql.NullFloat64 `db:"p99"`
	}
	if err := s.db.GetContext(ctx, &lat, `
		SELECT
			ROUND(AVG(response_time_ms)::numeric, 1) AS avg_latency,
			ROUND(PERCENTILE_CONT(0.50) WITHIN GROUP (ORDER BY response_time_ms)::numeric, 1) AS p50,
			ROUND(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY response_time_ms)::numeric, 1) AS p95,
			ROUND(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY response_time_ms)::numeric, 1) AS p99
		FROM query_performance
		WHERE created_at > NOW() - INTERVAL '24 hours'`); err != nil {
		return nil, s.wrapStoreErr("latency percentiles", err)
	}
	stats.Latency = LatencyStats{
		Avg: lat.Avg.Float64,
		P50: lat.P50.Float64,
		P95: lat.P95.Float64,
		P99: lat.P99.Float64,
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT category_filter, COUNT(*) FROM query_performance
		WHERE created_at > NOW() - INTERVAL '24 hours'
		AND category_filter IS NOT NULL
		GROUP BY category_filter`)
	if err != nil {
		return nil, s.wrapStoreErr("intent distribution", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var intent string
		var count int
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, s.wrapStoreErr("scan intent row", err)
		}
		stats.IntentDistribution[intent] = count
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapStoreErr("intent distribution", err)
	}

	fbRows, err := s.db.QueryxContext(ctx, `
		SELECT rating, COUNT(*) FROM search_feedback
		WHERE created_at > NOW() - INTERVAL '24 hours'
		GROUP BY rating`)
	if err != nil {
		return nil, s.wrapStoreErr("feedback stats", err)
	}
	defer func() { _ = fbRows.Close() }()
	for fbRows.Next() {
		var rating string
		var count int
		if err := fbRows.Scan(&rating, &count); err != nil {
			return nil, s.wrapStoreErr("scan feedback stat", err)
		}
		stats.FeedbackStats[rating] = count
	}
	return stats, fbRows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// wrapStoreErr classifies timeouts separately so the engine can degrade.
func (s *PostgresStore) wrapStoreErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return kberrors.StoreTimeout(fmt.Errorf("%s: %w", op, err))
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqQueryCanceled {
		return kberrors.StoreTimeout(fmt.Errorf("%s: %w", op, err))
	}
	return kberrors.New(kberrors.ErrCodeStoreUnavailable, op, err)
}

func scanScoredIDs(rows *sqlx.Rows) ([]ScoredID, error) {
	var out []ScoredID
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeStoreUnavailable, "scan result row", err)
		}
		out = append(out, ScoredID{ID: id, Score: score})
	}
	return out, rows.Err()
}

// vectorLiteral renders an embedding in pgvector's input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.6f", x)
	}
	b.WriteByte(']')
	return b.String()
}
