package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/auth"
	"github.com/primoia/log-watcher/internal/config"
	"github.com/primoia/log-watcher/internal/contract"
	"github.com/primoia/log-watcher/internal/gateway"
	"github.com/primoia/log-watcher/internal/metrics"
	"github.com/primoia/log-watcher/internal/queue"
)

// Server holds the Echo app and the ingestion pipeline behind it.
type Server struct {
	Echo    *echo.Echo
	Config  *config.Config
	Auth    *auth.Service
	Gateway *gateway.Gateway
	Engine  *metrics.Engine
	Queue   queue.Queue

	pool        *queue.Pool
	stopWorkers context.CancelFunc
	logger      zerolog.Logger
}

// New assembles the pipeline (auth registry, contract validator, queue
// backend, metrics engine, worker pool, gateway) and registers routes.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover(), middleware.Logger())

	authSvc := auth.New(logger)
	if cfg.Auth.RegistryFile != "" {
		specs, err := auth.LoadRegistry(cfg.Auth.RegistryFile)
		if err != nil {
			return nil, err
		}
		if err := authSvc.Seed(specs); err != nil {
			return nil, err
		}
	}

	validator := contract.NewValidator(contract.Options{
		MaxMessageBytes:  cfg.Contract.MaxMessageBytes,
		TruncateOversize: cfg.Contract.TruncateOversize,
		MaxAttrs:         cfg.Contract.MaxAttrs,
		MaxAttrBytes:     cfg.Contract.MaxAttrBytes,
		MaxBatchEvents:   cfg.Contract.MaxBatchEvents,
	})

	q, err := queue.GlobalRegistry.Create(cfg.Queue.Backend, queue.Config{
		Backend:   cfg.Queue.Backend,
		Capacity:  cfg.Queue.Capacity,
		Addr:      cfg.Queue.RedisAddr,
		URL:       cfg.Queue.AmqpURL,
		Namespace: cfg.Queue.Namespace,
	}, logger)
	if err != nil {
		return nil, err
	}

	engine := metrics.NewEngine(cfg.Metrics.RateWindow(), logger)
	pool := queue.NewPool(q, engine, queue.PoolOptions{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.Backoff(),
		OnDrop: func(item *queue.Item, err error) {
			engine.RecordDrop(item.ServiceName(), len(item.Events))
		},
	}, logger)

	s := &Server{
		Echo:    e,
		Config:  cfg,
		Auth:    authSvc,
		Gateway: gateway.New(authSvc, validator, q, logger),
		Engine:  engine,
		Queue:   q,
		pool:    pool,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.Echo

	// Ingestion hot path.
	e.POST("/ingestion/logs/single", s.handleIngestSingle)
	e.POST("/ingestion/logs/batch", s.handleIngestBatch)
	e.GET("/ingestion/stats", s.handleOwnStats)

	// Aggregates. Global stats are deliberately unauthenticated.
	e.GET("/stats/global", s.handleGlobalStats)
	e.GET("/stats/top-services", s.handleTopServices)

	// Liveness only; no queue depth, no metrics state.
	e.GET("/health", s.handleHealth)

	// Administration, off the hot path.
	e.POST("/admin/services", s.handleRegisterService)
	e.GET("/admin/services", s.handleListServices)
	e.DELETE("/admin/services/:name", s.handleRemoveService)
	e.POST("/admin/services/:name/rotate-key", s.handleRotateKey)
	e.GET("/admin/queue", s.handleQueueStatus)
}

// Start launches the worker pool and the HTTP listener. It blocks until
// the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(context.Background())
	s.stopWorkers = cancel
	s.pool.Start(workerCtx)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	s.Echo.Server.ReadTimeout = time.Duration(s.Config.Server.ReadTimeout) * time.Second
	s.Echo.Server.WriteTimeout = time.Duration(s.Config.Server.WriteTimeout) * time.Second
	return s.Echo.Start(":" + s.Config.Server.Port)
}

// Shutdown stops accepting requests, then stops the workers and closes
// the queue backend.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	if s.stopWorkers != nil {
		s.stopWorkers()
	}
	s.pool.Wait()
	if closeErr := s.Queue.Close(); err == nil {
		err = closeErr
	}
	return err
}
