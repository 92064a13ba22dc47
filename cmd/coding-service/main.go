package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/clinicalcoder/pkg/coding"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/auth"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/database"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/httpclient"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/kafka"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/middleware"
	"github.com/synaptica-ai/clinicalcoder/pkg/dlp"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends := coding.Backends{
		HTTPClient: auth.ServiceClient(ctx, httpclient.New(cfg.EmbeddingTimeout), auth.ClientCredentials{
			TokenURL:     cfg.EmbeddingTokenURL,
			ClientID:     cfg.EmbeddingClientID,
			ClientSecret: cfg.EmbeddingClientSecret,
		}),
	}

	if cfg.CodeSource == coding.SourcePostgres || cfg.DictionarySource == coding.SourcePostgres {
		db, err := database.OpenPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer database.ClosePostgres(db)
		backends.Postgres = db
	}

	switch cfg.CodeCacheBackend {
	case coding.BackendRedis:
		client, err := database.NewRedis(ctx, cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to redis")
		}
		defer client.Close()
		backends.Redis = client
	case coding.BackendSQLite:
		db, err := database.OpenSQLite(ctx, cfg.CodeCachePath, cfg.LookupReadOnly)
		if err != nil {
			logger.Log.WithError(err).WithField("path", cfg.CodeCachePath).Fatal("failed to open code cache")
		}
		defer db.Close()
		backends.SQLite = db
	}

	orch, err := coding.BuildOrchestrator(ctx, cfg, backends)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build extraction pipeline")
	}

	redactor, err := dlp.NewDetector(dlp.DefaultRules())
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to compile redaction rules")
	}

	var publisher coding.Publisher
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaCodedTopic)
		defer producer.Close()
		publisher = producer
	}

	svc := coding.NewService(orch, publisher, redactor, 0)
	handler := coding.NewHTTPHandler(svc, cfg.MaxRequestBody, cfg.KafkaEnabled)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	handler.RegisterOps(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":   cfg.ServerHost,
			"port":   cfg.ServerPort,
			"scorer": orch.ScorerName(),
		}).Info("Coding Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	if cfg.KafkaEnabled {
		opts := kafka.ConsumerOptions{}
		if cfg.KafkaDLQTopic != "" {
			dlq := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
			defer dlq.Close()
			opts.DeadLetter = dlq.Publish
		}
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaNotesTopic, cfg.KafkaGroupID, opts)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, svc.HandleNoteEvent); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("note consumer stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Coding Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Coding Service stopped")
}
