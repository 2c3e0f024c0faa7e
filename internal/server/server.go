package server

import (
    "context"
    "errors"
    "log/slog"
    "sync/atomic"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/Anychima/Rent-Flow-sub009/internal/config"
    "github.com/Anychima/Rent-Flow-sub009/internal/routes"
)

// Server wraps the Fiber application, shared dependencies and the funds
// event consumer that runs next to it.
type Server struct {
    app    *fiber.App
    cfg    config.Config
    db     *pgxpool.Pool
    cache  *redis.Client
    logger *slog.Logger
    worker routes.Worker

    workerCtx  context.Context
    stopWorker context.CancelFunc
    workerDone chan struct{}
    started    atomic.Bool
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
    })

    worker, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
    if err != nil {
        return nil, err
    }

    ctx, cancel := context.WithCancel(context.Background())
    return &Server{
        app:        app,
        cfg:        cfg,
        db:         db,
        cache:      cache,
        logger:     logger,
        worker:     worker,
        workerCtx:  ctx,
        stopWorker: cancel,
        workerDone: make(chan struct{}),
    }, nil
}

// Listen starts the funds event consumer and then the HTTP server.
func (s *Server) Listen() error {
    if s.started.CompareAndSwap(false, true) {
        go func() {
            defer close(s.workerDone)
            if err := s.worker(s.workerCtx); err != nil && !errors.Is(err, context.Canceled) {
                s.logger.Error("funds event consumer stopped", "error", err)
            }
        }()
    }
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then the consumer.
func (s *Server) Shutdown(ctx context.Context) error {
    err := s.app.ShutdownWithContext(ctx)
    s.stopWorker()
    if s.started.Load() {
        select {
        case <-s.workerDone:
        case <-ctx.Done():
        }
    }
    return err
}
