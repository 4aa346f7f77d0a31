// Package server exposes the search engine over HTTP: search, feedback,
// stats, health, and config endpoints with authentication and rate
// limiting.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/assistsupport/kbsearch/internal/config"
	kberrors "github.com/assistsupport/kbsearch/internal/errors"
	"github.com/assistsupport/kbsearch/internal/feedback"
	"github.com/assistsupport/kbsearch/internal/search"
	"github.com/assistsupport/kbsearch/internal/store"
	"github.com/assistsupport/kbsearch/pkg/version"
)

// topKMax caps how many results one request may ask for.
const topKMax = 50

// Searcher runs one hybrid search. Satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Server is the HTTP API.
type Server struct {
	engine  Searcher
	store   store.ArticleStore
	cfg     config.Config
	limiter Limiter
	logger  *slog.Logger
	router  *gin.Engine
}

// New assembles the API server with its middleware chain.
func New(engine Searcher, st store.ArticleStore, cfg config.Config, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  engine,
		store:   st,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	r.GET("/health", s.handleHealth)
	r.GET("/config", s.handleConfig)

	authed := r.Group("/", s.auth())
	authed.GET("/stats", s.handleStats)

	limited := authed.Group("/", s.rateLimit())
	limited.POST("/search", s.handleSearch)
	limited.POST("/feedback", s.handleFeedback)

	return r
}

// Handler returns the http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_listening",
			slog.Int("port", s.cfg.API.Port),
			slog.String("environment", s.cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "AssistSupport Hybrid Search API",
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_url": fmt.Sprintf("http://localhost:%d", s.cfg.API.Port),
		"version": version.Version,
		"features": gin.H{
			"hybrid_search":       true,
			"intent_detection":    true,
			"feedback_collection": true,
			"vector_search":       s.store.VectorSearchEnabled(),
			"reranking":           s.cfg.Reranker.Enabled,
		},
	})
}

type searchRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
	IncludeScores  bool   `json:"include_scores"`
	FusionStrategy string `json:"fusion_strategy"`
}

type resultScores struct {
	BM25   float64 `json:"bm25"`
	Vector float64 `json:"vector"`
	Fused  float64 `json:"fused"`
}

type searchResult struct {
	Rank           int           `json:"rank"`
	ArticleID      string        `json:"article_id"`
	Title          string        `json:"title"`
	Category       string        `json:"category"`
	Preview        string        `json:"preview"`
	SourceDocument *string       `json:"source_document"`
	Section        *string       `json:"section"`
	Scores         *resultScores `json:"scores,omitempty"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body required"})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter required"})
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.Search.DefaultTopK
	}
	if topK > topKMax {
		topK = topKMax
	}
	strategy := search.Strategy(req.FusionStrategy)
	if req.FusionStrategy == "" {
		strategy = search.Strategy(s.cfg.Search.DefaultStrategy)
	}

	ctx := c.Request.Context()
	if s.cfg.Search.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Search.RequestTimeout)
		defer cancel()
	}

	resp, err := s.engine.Search(ctx, req.Query, search.Options{
		Limit:       topK,
		Strategy:    strategy,
		Deduplicate: true,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	results := make([]searchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		sr := searchResult{
			Rank:           i + 1,
			ArticleID:      r.ArticleID,
			Title:          r.Title,
			Category:       r.Category,
			Preview:        r.ContentPreview,
			SourceDocument: r.SourceDocumentID,
			Section:        r.HeadingPath,
		}
		if req.IncludeScores {
			sr.Scores = &resultScores{
				BM25:   round(r.BM25Score, 3),
				Vector: round(r.VectorScore, 3),
				Fused:  round(r.FusionScore, 3),
			}
		}
		results = append(results, sr)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"query":             resp.Query,
		"query_id":          resp.QueryID,
		"intent":            resp.Intent,
		"intent_confidence": round(resp.IntentConfidence, 2),
		"results_count":     len(results),
		"results":           results,
		"metrics": gin.H{
			"latency_ms":        round(resp.Metrics.TotalTimeMS, 1),
			"embedding_time_ms": round(resp.Metrics.EmbeddingTimeMS, 1),
			"search_time_ms":    round(resp.Metrics.SearchTimeMS, 1),
			"rerank_time_ms":    round(resp.Metrics.RerankTimeMS, 1),
			"result_count":      len(results),
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		},
	})
}

type feedbackRequest struct {
	QueryID    string  `json:"query_id"`
	ResultRank *int    `json:"result_rank"`
	Rating     string  `json:"rating"`
	Comment    string  `json:"comment"`
	ArticleID  *string `json:"article_id"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body required"})
		return
	}
	if req.QueryID == "" || req.ResultRank == nil || req.Rating == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query_id, result_rank, and rating required"})
		return
	}
	if *req.ResultRank < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "result_rank must be >= 1"})
		return
	}
	if !feedback.ValidRatings[req.Rating] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid rating: %s", req.Rating)})
		return
	}

	err := s.store.SaveFeedback(c.Request.Context(), store.FeedbackEntry{
		QueryID:    req.QueryID,
		ResultRank: *req.ResultRank,
		Rating:     req.Rating,
		Comment:    req.Comment,
		ArticleID:  req.ArticleID,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Feedback recorded",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"data":      stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := kberrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request_failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
			slog.String("code", kberrors.GetCode(err)))
	}
	c.JSON(status, gin.H{
		"status":    "error",
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
