package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assistsupport/kbsearch/internal/embed"
	kberrors "github.com/assistsupport/kbsearch/internal/errors"
	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/store"
)

// Engine runs the hybrid retrieval pipeline.
type Engine struct {
	store      store.ArticleStore
	embedder   embed.Embedder
	classifier intent.Classifier
	reranker   Reranker
	logger     *slog.Logger
	efSearch   int
}

// Option configures the engine.
type Option func(*Engine)

// WithClassifier overrides the intent classifier.
func WithClassifier(c intent.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithReranker enables the cross-encoder stage for the rerank strategy.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEfSearch records the HNSW search width for the query log.
func WithEfSearch(n int) Option {
	return func(e *Engine) { e.efSearch = n }
}

// NewEngine creates a hybrid search engine.
func NewEngine(s store.ArticleStore, em embed.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		embedder:   em,
		classifier: intent.NewHybridClassifier(nil, 0, nil),
		logger:     slog.Default(),
		efSearch:   100,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search executes the full pipeline: classify, retrieve in parallel,
// fuse, adjust, deduplicate, materialize, optionally re-rank, and log.
//
// Retrieval legs degrade independently: a failed keyword or vector leg
// logs a warning and contributes nothing. Both legs empty is a valid
// zero-result response, not an error. A failed query embedding is fatal
// for the request.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, kberrors.InvalidInput("query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if !ValidStrategy(opts.Strategy) {
		opts.Strategy = StrategyAdaptive
	}

	startTotal := time.Now()

	classification := e.classifier.Classify(query)

	var (
		bm25Results   []store.ScoredID
		vectorResults []store.ScoredID
		embedTime     time.Duration
	)

	startSearch := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25Results, err = e.store.KeywordSearch(gctx, query)
		if err != nil {
			e.logger.Warn("keyword search failed, continuing without it",
				slog.String("error", err.Error()))
			bm25Results = nil
		}
		return nil
	})
	g.Go(func() error {
		if !e.store.VectorSearchEnabled() {
			return nil
		}
		startEmbed := time.Now()
		vec, err := e.embedder.EmbedQuery(gctx, query)
		embedTime = time.Since(startEmbed)
		if err != nil {
			if kberrors.GetCode(err) == "" {
				err = kberrors.EmbeddingFailed(err)
			}
			return err
		}
		vectorResults, err = e.store.VectorSearch(gctx, vec, opts.Limit*2)
		if err != nil {
			e.logger.Warn("vector search failed, continuing without it",
				slog.String("error", err.Error()))
			vectorResults = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	searchTime := time.Since(startSearch)

	startFusion := time.Now()
	fused := fuse(opts.Strategy, bm25Results, vectorResults, classification.Intent)
	fusionTime := time.Since(startFusion)

	fused = e.adjust(ctx, fused, classification, opts.Deduplicate)

	poolSize := opts.Limit
	useReranker := opts.Strategy == StrategyRerank && e.reranker != nil
	if useReranker {
		poolSize = min(opts.Limit*2, 20)
	}

	results, err := e.materialize(ctx, fused, bm25Results, vectorResults, poolSize)
	if err != nil {
		return nil, err
	}

	var rerankTime time.Duration
	if useReranker {
		startRerank := time.Now()
		reranked, err := e.reranker.Rerank(ctx, query, results, opts.Limit)
		rerankTime = time.Since(startRerank)
		if err != nil {
			e.logger.Warn("rerank failed, keeping fusion order",
				slog.String("error", err.Error()))
			if len(results) > opts.Limit {
				results = results[:opts.Limit]
			}
		} else {
			results = reranked
		}
	}

	totalTime := time.Since(startTotal)
	queryID := e.logQuery(ctx, query, classification, opts.Strategy,
		len(bm25Results), len(vectorResults), len(results), totalTime)

	return &Response{
		Query:            query,
		QueryID:          queryID,
		Intent:           classification.Intent,
		IntentConfidence: classification.Confidence,
		Results:          results,
		Metrics: Metrics{
			TotalResults:    len(results),
			TotalTimeMS:     ms(totalTime),
			EmbeddingTimeMS: ms(embedTime),
			SearchTimeMS:    ms(searchTime),
			FusionTimeMS:    ms(fusionTime),
			RerankTimeMS:    ms(rerankTime),
		},
	}, nil
}

// adjust applies the category boost, then the quality multiplier, then
// deduplication. All three need article metadata; a metadata failure
// skips adjustment and keeps the raw fusion ranking.
func (e *Engine) adjust(ctx context.Context, fused []store.ScoredID, c intent.Classification, dedupe bool) []store.ScoredID {
	if len(fused) == 0 {
		return fused
	}

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.ID
	}
	meta, err := e.store.GetArticleMeta(ctx, ids)
	if err != nil {
		e.logger.Warn("article metadata fetch failed, skipping score adjustment",
			slog.String("error", err.Error()))
		return fused
	}

	fused = applyCategoryBoost(fused, meta, c)
	fused = applyQualityScores(fused, meta)
	if dedupe {
		fused = dedupeBySourceDocument(fused, meta)
	}
	return fused
}

// previewLen bounds the content preview in results.
const previewLen = 200

// materialize fetches full articles for the top of the fused ranking and
// assembles response results. Fused entries without a stored article are
// skipped.
func (e *Engine) materialize(ctx context.Context, fused, bm25, vector []store.ScoredID, limit int) ([]Result, error) {
	if len(fused) > limit {
		fused = fused[:limit]
	}
	if len(fused) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.ID
	}
	articles, err := e.store.GetArticles(ctx, ids)
	if err != nil {
		return nil, err
	}

	bm25Map := scoreMap(bm25)
	vectorMap := scoreMap(vector)

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		a, ok := articles[r.ID]
		if !ok {
			continue
		}
		preview := a.Content
		if len(preview) > previewLen {
			preview = truncateOnRune(preview, previewLen) + "..."
		}
		results = append(results, Result{
			ArticleID:        a.ID,
			Title:            a.Title,
			ContentPreview:   preview,
			Category:         a.Category,
			BM25Score:        bm25Map[r.ID],
			VectorScore:      vectorMap[r.ID],
			FusionScore:      r.Score,
			SourceDocumentID: a.SourceDocumentID,
			HeadingPath:      a.HeadingPath,
		})
	}
	return results, nil
}

// logQuery appends to the performance log. Logging failures degrade to
// an empty query id; the search result is still returned.
func (e *Engine) logQuery(ctx context.Context, query string, c intent.Classification,
	strategy Strategy, bm25Count, vectorCount, resultCount int, total time.Duration) string {

	id, err := e.store.LogQuery(ctx, store.QueryLogEntry{
		QueryText:         query,
		EfSearchUsed:      e.efSearch,
		BM25ResultCount:   bm25Count,
		VectorResultCount: vectorCount,
		ResultsReturned:   resultCount,
		ResponseTimeMS:    ms(total),
		Intent:            string(c.Intent),
		IntentConfidence:  c.Confidence,
		FusionStrategy:    string(strategy),
	})
	if err != nil {
		e.logger.Warn("query logging failed", slog.String("error", err.Error()))
		return ""
	}
	return id
}

func scoreMap(results []store.ScoredID) map[string]float64 {
	m := make(map[string]float64, len(results))
	for _, r := range results {
		m[r.ID] = r.Score
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
