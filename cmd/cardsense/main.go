package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/config"
	dbRedis "github.com/kailas-cloud/cardsense/internal/db/redis"
	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	logpkg "github.com/kailas-cloud/cardsense/internal/logger"
	"github.com/kailas-cloud/cardsense/internal/metrics"
	catalogrepo "github.com/kailas-cloud/cardsense/internal/repository/catalog"
	"github.com/kailas-cloud/cardsense/internal/repository/embcache"
	surveyrepo "github.com/kailas-cloud/cardsense/internal/repository/survey"
	chiTransport "github.com/kailas-cloud/cardsense/internal/transport/chi"
	"github.com/kailas-cloud/cardsense/internal/transport/ollama"
	openaiEmb "github.com/kailas-cloud/cardsense/internal/transport/openai"
	"github.com/kailas-cloud/cardsense/internal/transport/tiktoken"
	"github.com/kailas-cloud/cardsense/internal/usecase/candidate"
	embeddinguc "github.com/kailas-cloud/cardsense/internal/usecase/embedding"
	"github.com/kailas-cloud/cardsense/internal/usecase/fingerprint"
	healthuc "github.com/kailas-cloud/cardsense/internal/usecase/health"
	oracleuc "github.com/kailas-cloud/cardsense/internal/usecase/oracle"
	"github.com/kailas-cloud/cardsense/internal/usecase/parse"
	"github.com/kailas-cloud/cardsense/internal/usecase/prompt"
	"github.com/kailas-cloud/cardsense/internal/usecase/recommend"
	"github.com/kailas-cloud/cardsense/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, "api", cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting cardsense API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("oracle_model", cfg.Oracle.Model),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Username:   cfg.Database.Username,
		Password:   cfg.Database.Password,
		DB:         cfg.Database.DB,
		ClientName: "cardsense-api",
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// explicit registration, no init()
	metrics.RegisterHTTPMetrics()
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterOracleMetrics()
	metrics.RegisterPipelineMetrics()

	// Embedding chain: OpenAI-compatible -> Cached -> Instruction -> Vectorizer
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Timeout:    30 * time.Second,
		Logger:     logger,
	})
	var embedder domain.Embedder = embcache.New(base, store, embcache.Options{
		KeyPrefix:  cfg.Storage.KeyPrefix + "emb:",
		Model:      cfg.Embedding.Model,
		TTL:        time.Duration(cfg.Embedding.CacheTTLSec) * time.Second,
		CacheTotal: metrics.EmbeddingCacheTotal,
	}, logger)
	if cfg.Embedding.Instruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, cfg.Embedding.Instruction)
	}
	vectorizer := embeddinguc.NewVectorizer(
		embedder, cfg.Embedding.Dimensions, cfg.Embedding.Provider, cfg.Embedding.Model, logger,
	)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	surveys := surveyrepo.New(store, surveyrepo.Options{
		KeyPrefix: cfg.Storage.KeyPrefix,
		Dim:       cfg.Embedding.Dimensions,
		HNSW: surveyrepo.HNSWConfig{
			M:           cfg.Storage.HNSWM,
			EFConstruct: cfg.Storage.HNSWEFConstruct,
		},
	}, logger)
	if err := surveys.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure survey index", zap.Error(err))
	}
	catalog := catalogrepo.New(store, cfg.Storage.KeyPrefix)

	oracleClient := ollama.New(ollama.Config{
		BaseURL:       cfg.Oracle.BaseURL,
		Model:         cfg.Oracle.Model,
		Timeout:       cfg.Oracle.OracleTimeout(),
		MaxRetries:    cfg.Oracle.MaxRetries,
		RetryDelay:    cfg.Oracle.RetryDelay(),
		StatusTimeout: time.Duration(cfg.Oracle.StatusTimeoutSec) * time.Second,
		PullTimeout:   time.Duration(cfg.Oracle.PullTimeoutSec) * time.Second,
		Logger:        logger,
	})
	if cfg.Oracle.EnsureReadyOnStart {
		// not fatal: the oracle may come up after us, Call retries readiness
		if err := oracleClient.EnsureReady(ctx); err != nil {
			logger.Warn("Oracle not ready at startup", zap.Error(err))
		}
	}
	br := cfg.Oracle.Breaker
	oracleSvc := oracleuc.New(oracleClient, oracleuc.Options{
		EnsureReady: true,
		Breaker: oracleuc.BreakerOptions{
			Enabled:          br.Enabled,
			MinRequests:      br.MinRequests,
			FailureRatio:     br.FailureRatio,
			Interval:         time.Duration(br.IntervalSec) * time.Second,
			OpenTimeout:      time.Duration(br.OpenTimeoutSec) * time.Second,
			HalfOpenRequests: br.HalfOpenRequests,
		},
	}, logger)

	parser, err := parse.New(logger)
	if err != nil {
		logger.Fatal("Failed to compile recommendation schema", zap.Error(err))
	}

	spec, err := filter.FromMap(cfg.Recommendation.Filters)
	if err != nil {
		logger.Fatal("Invalid recommendation filters", zap.Error(err))
	}

	pipeline := recommend.New(recommend.Deps{
		Fingerprinter: fingerprint.New(vectorizer, logger),
		Index:         surveys,
		Catalog:       catalog,
		Filter:        candidate.New(logger),
		Prompt: prompt.NewBudgeter(
			tiktoken.NewCounter(cfg.Prompt.TokenizerModel, cfg.Prompt.FallbackEncoding, logger),
			prompt.Options{
				MaxTokens:      cfg.Prompt.MaxTokens,
				ReservedTokens: cfg.Prompt.ReservedTokens,
				MaxCards:       cfg.Prompt.MaxCards,
			},
			logger,
		),
		Oracle: oracleSvc,
		Parser: parser,
	}, recommend.Options{
		Threshold:  cfg.Recommendation.SimilarityThreshold,
		Inclusive:  *cfg.Recommendation.InclusiveThreshold,
		FetchLimit: cfg.Recommendation.CatalogFetchLimit,
		Spec:       spec,
		Coalesce:   *cfg.Recommendation.CoalesceInflight,
	}, logger)

	healthSvc := healthuc.New(store, map[string]healthuc.Checker{
		"embedding": base,
		"oracle":    oracleClient,
	}, logger)

	server := chiTransport.NewServer(pipeline, healthSvc, logger)
	r := chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
