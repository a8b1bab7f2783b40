package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"opportunist/internal/app"
	"opportunist/internal/classify"
	"opportunist/internal/config"
	"opportunist/internal/db"
	"opportunist/internal/delivery"
	"opportunist/internal/digest"
	"opportunist/internal/extract"
	"opportunist/internal/logger"
	"opportunist/internal/metrics"
	"opportunist/internal/pipeline"
	"opportunist/internal/relevance"
)

const memoryScheme = "memory://"

type store interface {
	pipeline.Store
	Close() error
}

// application holds every long-lived collaborator of one process.
type application struct {
	cfg     *config.SpiderConfig
	log     logger.Logger
	metrics *metrics.Metrics
	store   store
	redis   *redis.Client
	orch    *pipeline.Orchestrator
}

func newApplication(ctx context.Context, needDelivery bool) (*application, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if needDelivery {
		if err := cfg.ValidateDelivery(); err != nil {
			return nil, err
		}
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &application{cfg: cfg, log: log, metrics: metrics.New()}

	if strings.HasPrefix(cfg.DB.Connection, memoryScheme) {
		log.Warn("Using in-memory store, nothing will be persisted")
		a.store = db.NewMemoryStore()
	} else {
		mongoStore, err := db.NewMongoDB(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		a.store = mongoStore
	}

	embedder, err := relevance.NewEmbedder(cfg.Relevance, cfg.Logic.Timeout())
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Redis.URL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("Embedding cache disabled", logger.Error(err))
		} else {
			a.redis = rdb
			embedder = relevance.NewCachedEmbedder(embedder, rdb, time.Duration(cfg.Redis.CacheTTLHours)*time.Hour, log)
		}
	}

	scorer := relevance.NewScorer(embedder, relevance.Options{
		Interests:     cfg.Relevance.Interests,
		BatchSize:     cfg.Relevance.BatchSize,
		BatchInterval: time.Duration(cfg.Relevance.BatchIntervalMS) * time.Millisecond,
		Threshold:     cfg.Relevance.Threshold,
	}, log, a.metrics)

	var deliverer pipeline.Deliverer
	if cfg.ValidateDelivery() == nil {
		deliverer = delivery.NewSendGridDeliverer(cfg.Email, log)
	}

	a.orch = pipeline.New(pipeline.Deps{
		Store:     a.store,
		Crawler:   app.NewSpiderApp(cfg, a.store, extract.New(classify.Default(), log), log, a.metrics),
		Scorer:    scorer,
		Assembler: digest.NewAssembler(a.store, cfg.Relevance.Threshold, time.Duration(cfg.Digest.LookbackHours)*time.Hour, log),
		Deliverer: deliverer,
		Log:       log,
		Metrics:   a.metrics,
	})

	log.Info("Application ready",
		logger.String("embedding_backend", scorer.Backend()),
		logger.Int("sources", len(cfg.Sources)),
		logger.Bool("delivery", deliverer != nil),
	)
	return a, nil
}

func (a *application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close redis", logger.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close store", logger.Error(err))
		}
	}
	_ = a.log.Sync()
}

func withApplication(ctx context.Context, needDelivery bool, fn func(a *application) error) error {
	a, err := newApplication(ctx, needDelivery)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()
	return fn(a)
}
