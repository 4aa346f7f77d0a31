package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/assistsupport/kbsearch/internal/config"
	"github.com/assistsupport/kbsearch/internal/embed"
	"github.com/assistsupport/kbsearch/internal/intent"
	"github.com/assistsupport/kbsearch/internal/search"
	"github.com/assistsupport/kbsearch/internal/server"
	"github.com/assistsupport/kbsearch/internal/store"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		Long: `Start the HTTP API: POST /search, POST /feedback, GET /stats,
GET /health, and GET /config. Blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}
}

func runServe(cmd *cobra.Command, cfg config.Config) error {
	logger := slog.Default()

	st, err := store.NewPostgresStore(cfg.Store.DSN(), store.Options{
		EfSearch:     cfg.Store.EfSearch,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var embedder embed.Embedder
	if cfg.Embedding.Static {
		embedder = embed.NewStaticEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = embed.NewHTTPEmbedder(
			cfg.Embedding.Endpoint, cfg.Embedding.Model,
			cfg.Embedding.Dimensions, cfg.Embedding.Timeout)
	}
	defer func() { _ = embedder.Close() }()

	var model *intent.ModelClassifier
	if cfg.Intent.ModelPath != "" {
		model, err = intent.LoadModel(cfg.Intent.ModelPath)
		if err != nil {
			logger.Warn("intent model unavailable, using keyword fallback",
				slog.String("error", err.Error()))
		}
	}
	classifier := intent.NewHybridClassifier(model, cfg.Intent.CacheSize, logger)

	opts := []search.Option{
		search.WithClassifier(classifier),
		search.WithLogger(logger),
		search.WithEfSearch(cfg.Store.EfSearch),
	}
	if cfg.Reranker.Enabled {
		reranker := search.NewHTTPReranker(
			cfg.Reranker.Endpoint, cfg.Reranker.Model, cfg.Reranker.Timeout)
		opts = append(opts, search.WithReranker(reranker))
	}
	engine := search.NewEngine(st, embedder, opts...)

	limiter, err := server.NewLimiterFromURI(cfg.API.RateLimitURI, cfg.API.RatePerMinute)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Starting kbsearch API on port %d (%s)\n",
		cfg.API.Port, cfg.Environment)

	srv := server.New(engine, st, cfg, limiter, logger)
	return srv.Run(cmd.Context())
}
