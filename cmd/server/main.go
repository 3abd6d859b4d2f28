// Package main runs the sleep monitoring HTTP server with WebSocket push and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sleepwatch/backend/config"
	"github.com/sleepwatch/backend/internal/auth"
	"github.com/sleepwatch/backend/internal/classifier"
	"github.com/sleepwatch/backend/internal/livecache"
	"github.com/sleepwatch/backend/internal/middleware"
	"github.com/sleepwatch/backend/internal/realtime"
	"github.com/sleepwatch/backend/internal/session"
	sigsrc "github.com/sleepwatch/backend/internal/signal"
	"github.com/sleepwatch/backend/internal/summaries"
	"github.com/sleepwatch/backend/internal/worker"
	"github.com/sleepwatch/backend/pkg/database"
	"github.com/sleepwatch/backend/pkg/queue"
	"github.com/sleepwatch/backend/pkg/redis"
	"github.com/sleepwatch/backend/pkg/response"
	"github.com/sleepwatch/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Summaries: Postgres when configured, in-memory otherwise.
	var store session.Store = summaries.NewMemoryStore()
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, database.PoolConfig{
			MaxConns:        int32(cfg.Database.MaxConns),
			MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetime) * time.Minute,
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		applied, err := database.Migrate(ctx, pool)
		if err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
		store = summaries.NewRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, session summaries are kept in memory")
	}

	var opts []session.Option
	var relay realtime.Relay
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		relay = realtime.NewRedisRelay(rdb.Client, logger)
		opts = append(opts, session.WithDirectory(
			livecache.NewDirectory(rdb.Client, time.Duration(cfg.Monitor.LiveTTLSec)*time.Second),
		))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.AWS.Enabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			opts = append(opts, session.WithArchive(worker.NewLinks(s3Client)))
			if rdb != nil {
				jobQueue := queue.NewQueue(rdb.Client, queue.QueueExports, logger)
				opts = append(opts, session.WithExporter(worker.NewExporter(jobQueue, logger)))
				processor := worker.NewExportProcessor(jobQueue, s3Client, queue.RetryBackoff, logger)
				go processor.Run(workerCtx)
				logger.Info("export worker started", zap.String("bucket", s3Client.ExportsBucket()))
			} else {
				logger.Warn("session exports need Redis; archives will not be written")
			}
		}
	}

	catalog, err := sigsrc.NewCatalog(sigsrc.CatalogConfig{
		Manifest:      cfg.Corpus.Manifest,
		EDFDir:        cfg.Corpus.EDFDir,
		AnnotationDir: cfg.Corpus.AnnotationDir,
		MaxSubjects:   cfg.Corpus.MaxSubjects,
		SampleRate:    cfg.Monitor.SampleRate,
	}, logger)
	if err != nil {
		logger.Fatal("corpus", zap.Error(err))
	}
	logger.Info("recorded corpus loaded", zap.Int("subjects", len(catalog.Subjects())))

	var clf classifier.Classifier = classifier.Reference{}
	if cfg.Classifier.Addr != "" {
		remote, err := classifier.DialRemote(cfg.Classifier.Addr, time.Duration(cfg.Classifier.TimeoutMs)*time.Millisecond)
		if err != nil {
			logger.Fatal("classifier", zap.Error(err))
		}
		defer remote.Close()
		clf = remote
		logger.Info("remote classifier configured", zap.String("addr", cfg.Classifier.Addr))
	}

	hub := realtime.NewHub(realtime.Config{
		PingInterval: time.Duration(cfg.Monitor.HeartbeatIntervalSec) * time.Second,
		PongWait:     time.Duration(cfg.Monitor.HeartbeatTimeoutSec) * time.Second,
		SendBuffer:   cfg.Monitor.SendBuffer,
	}, relay, logger)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	lifecycle := session.NewLifecycle(session.Config{
		SyntheticInterval:  cfg.Monitor.EpochInterval(),
		RecordedInterval:   cfg.Monitor.RecordedInterval(),
		MaxSyntheticEpochs: cfg.Monitor.MaxSyntheticEpochs,
		ApneaScale:         cfg.Monitor.ApneaScale,
		Seed:               cfg.Monitor.Seed,
		SampleRate:         cfg.Monitor.SampleRate,
		ClassifyTimeout:    cfg.Monitor.ClassifyTimeout(),
	}, store, hub, catalog, clf, logger, opts...)
	sessionHandler := session.NewHandler(lifecycle, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "subjects": len(catalog.Subjects())}
		if rdb != nil {
			status["redis"] = rdb.Healthy(c.Request.Context())
		}
		response.OK(c, status)
	})

	var wsValidate func(string) error
	api := router.Group("/api")
	if cfg.JWT.Required {
		jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
		api.Use(middleware.JWT(jwtService))
		wsValidate = jwtService.Check
	}
	read := api.Group("")
	write := api.Group("")
	if cfg.JWT.Required {
		write.Use(middleware.RequireScope(auth.ScopeOperator))
	}
	{
		read.GET("/subjects", sessionHandler.Subjects)
		read.GET("/weekly-summary", sessionHandler.Weekly)
		read.GET("/session/:id/summary", sessionHandler.Summary)
		read.GET("/session/:id/epochs", sessionHandler.Epochs)
		read.GET("/session/:id/snapshot", sessionHandler.Snapshot)
		read.GET("/session/:id/export-url", sessionHandler.ExportURL)

		write.POST("/session/start", sessionHandler.Start)
		write.POST("/session/:id/end", sessionHandler.End)
	}

	// WebSocket (token in query when JWT is required)
	router.GET("/ws/:id", realtime.ServeWs(hub, lifecycle.Active, wsValidate, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("session shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	close(hubStop)
	workerCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
