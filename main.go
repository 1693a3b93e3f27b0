package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leafscan/internal/auth"
	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/grpcclient"
	"github.com/example/leafscan/internal/handlers"
	"github.com/example/leafscan/internal/imageprep"
	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/labels"
	"github.com/example/leafscan/internal/leafgate"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/metrics"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/tempstore"
	"github.com/example/leafscan/internal/usecase"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	collector := metrics.NewCollector()
	deps := usecase.Dependencies{Recorder: collector}

	if cfg.Database.DSN != "" {
		db := initDatabase(ctx, cfg.Database.DSN, cfg.Debug, logger)
		repo := repository.NewPredictionRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		deps.Repository = repo
		closers = append(closers, func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
	} else {
		logger.Info("prediction history disabled, no database configured")
	}

	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)
		redisCancel()
		deps.Cache = usecase.NewRedisCache(redisClient)
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	gateModel, diseaseModel, closeModels, err := loadModels(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to load models", zap.Error(err))
	}
	closers = append(closers, closeModels)

	generic, err := labels.LoadFile(cfg.LeafGate.LabelsPath)
	if err != nil {
		logger.Fatal("failed to load leaf gate labels", zap.Error(err))
	}

	deps.Gate = leafgate.New(
		gateModel,
		generic,
		inputSpec(cfg.LeafGate.Model, imageprep.ScaleMobileNet),
		leafgate.Options{TopK: cfg.LeafGate.TopK, Keyword: cfg.LeafGate.Keyword},
		logger,
	)
	deps.Classifier = classifier.New(diseaseModel, labels.Disease(), inputSpec(cfg.Disease, imageprep.ScaleRaw))

	store, err := tempstore.New(cfg.Server.TempDir)
	if err != nil {
		logger.Fatal("failed to prepare temp directory", zap.Error(err))
	}
	deps.Store = store

	uc := usecase.NewPredictionUseCase(deps, usecase.Options{
		RejectWhenLeafDetected: cfg.LeafGate.RejectWhenDetected,
		CacheTTL:               cfg.Redis.TTL,
		MaxUploadBytes:         cfg.Server.MaxUploadBytes,
		MaxImagePixels:         cfg.Server.MaxImagePixels,
	}, logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(logger, "/health", "/metrics"), collector.Middleware())
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	routeOpts := handlers.Options{
		MaxUploadSize:     cfg.Server.MaxUploadBytes,
		IncludeConfidence: cfg.Server.IncludeConfidence,
		Metrics:           collector,
	}
	if cfg.Auth.JWTSecret != "" {
		routeOpts.Auth = auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
		routeOpts.OptionalAuth = auth.OptionalJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	} else {
		logger.Warn("JWT secret not set, prediction history is unauthenticated")
	}
	handlers.RegisterRoutes(r, uc, routeOpts)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("leafscan listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("runtime", cfg.Inference.Runtime))
	err = serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
	closeAll()
	if err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadModels opens the leaf gate and disease models on the configured runtime.
// The returned func releases them.
func loadModels(ctx context.Context, cfg *config.Config, logger *zap.Logger) (inference.Model, inference.Model, func(), error) {
	switch cfg.Inference.Runtime {
	case config.RuntimeGRPC:
		conn, err := grpcclient.DialModelServer(ctx, cfg.Inference.ServerAddr, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		gate := grpcclient.NewRemoteModel(conn, "leaf_gate", logger)
		disease := grpcclient.NewRemoteModel(conn, "disease", logger)
		return gate, disease, func() { _ = conn.Close() }, nil

	case config.RuntimeONNX:
		if err := inference.InitONNX(cfg.Inference.SharedLibraryPath); err != nil {
			return nil, nil, nil, err
		}
		gateModel, err := inference.NewONNXModel(modelSpec("leaf_gate", cfg.LeafGate.Model))
		if err != nil {
			_ = inference.ShutdownONNX()
			return nil, nil, nil, err
		}
		diseaseModel, err := inference.NewONNXModel(modelSpec("disease", cfg.Disease))
		if err != nil {
			_ = gateModel.Close()
			_ = inference.ShutdownONNX()
			return nil, nil, nil, err
		}
		logger.Info("onnx models loaded",
			zap.String("leaf_gate", cfg.LeafGate.Path),
			zap.String("disease", cfg.Disease.Path))
		return gateModel, diseaseModel, func() {
			if err := gateModel.Close(); err != nil {
				logger.Warn("failed to close leaf gate model", zap.Error(err))
			}
			if err := diseaseModel.Close(); err != nil {
				logger.Warn("failed to close disease model", zap.Error(err))
			}
			if err := inference.ShutdownONNX(); err != nil {
				logger.Warn("failed to shut down onnxruntime", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown inference runtime %q", cfg.Inference.Runtime)
	}
}

func inputSpec(m config.Model, scaling imageprep.Scaling) imageprep.Spec {
	return imageprep.Spec{
		Size:    m.ImageSize,
		Layout:  imageprep.Layout(m.Layout),
		Scaling: scaling,
	}
}

func modelSpec(name string, m config.Model) inference.ModelSpec {
	return inference.ModelSpec{
		Name:        name,
		Path:        m.Path,
		InputName:   m.InputName,
		OutputName:  m.OutputName,
		InputShape:  inputSpec(m, imageprep.ScaleRaw).Shape(),
		OutputShape: []int64{1, m.Classes},
	}
}

func initDatabase(ctx context.Context, dsn string, debug bool, zapLogger *zap.Logger) *gorm.DB {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
