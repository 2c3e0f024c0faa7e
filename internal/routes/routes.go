package routes

import (
    "context"
    "fmt"
    "log/slog"
    "net/http"
    "os"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/Anychima/Rent-Flow-sub009/internal/account"
    "github.com/Anychima/Rent-Flow-sub009/internal/config"
    "github.com/Anychima/Rent-Flow-sub009/internal/custody"
    "github.com/Anychima/Rent-Flow-sub009/internal/funds"
    "github.com/Anychima/Rent-Flow-sub009/internal/lease"
    "github.com/Anychima/Rent-Flow-sub009/internal/ledger"
    "github.com/Anychima/Rent-Flow-sub009/internal/middleware"
    "github.com/Anychima/Rent-Flow-sub009/internal/notification"
    "github.com/Anychima/Rent-Flow-sub009/internal/payment"
    "github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

const fundsConsumerGroup = "lease-activation"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg    config.Config
    DB     *pgxpool.Pool
    Cache  *redis.Client
    Logger *slog.Logger
}

// Worker is a background loop started alongside the HTTP server.
type Worker func(ctx context.Context) error

// Setup configures middlewares and all application routes. It returns the
// funds event consumer, which the caller runs for the lifetime of the server.
func Setup(app *fiber.App, d Deps) (Worker, error) {
    if !d.Cfg.IsDev() {
        if d.DB == nil {
            return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
        if d.Cache == nil {
            return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
    }
    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID())
    app.Use(middleware.Audit(d.Logger))
    if d.Cache != nil {
        app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
    }

    // Health
    RegisterHealthRoutes(app, d)

    // Stores
    var (
        ledgerBackend ledger.Ledger
        walletRepo    wallet.Repository
        leaseRepo     lease.Repository
        accountRepo   account.Repository
    )
    if d.DB != nil {
        ledgerBackend = ledger.NewPostgresLedger(d.DB)
        walletRepo = wallet.NewPostgresRepository(d.DB)
        leaseRepo = lease.NewPostgresRepository(d.DB)
        accountRepo = account.NewPostgresRepository(d.DB)
    } else {
        ledgerBackend = ledger.NewInMemory()
        walletRepo = wallet.NewMemoryRepository()
        leaseRepo = lease.NewMemoryRepository()
        accountRepo = account.NewMemoryRepository()
    }

    // Funds event queue
    var (
        publisher funds.Publisher
        consumer  funds.Consumer
        deduper   funds.Deduper
    )
    if d.Cache != nil {
        q := funds.NewRedisStreamQueue(d.Cache, d.Cfg.FundsStream, fundsConsumerGroup, consumerName(d.Cfg.AppName), d.Logger)
        if err := q.EnsureGroup(context.Background()); err != nil {
            return nil, err
        }
        publisher, consumer = q, q
        deduper = funds.NewRedisDeduper(d.Cache, d.Cfg.FundsEventDedupTTL)
    } else {
        q := funds.NewChannelQueue(256, d.Logger)
        publisher, consumer = q, q
        deduper = funds.NewMemoryDeduper()
    }

    // Services and handlers
    notifier := notification.NewLoggerNotifier(d.Logger)
    walletSvc := wallet.NewService(walletRepo, d.Logger)
    accountSvc := account.NewService(accountRepo, d.Logger)
    transferer := funds.NewLedgerTransferer(ledgerBackend, publisher, d.Logger)

    var remote custody.RemoteSigner
    if d.Cfg.CustodyBaseURL != "" {
        remote = custody.NewRemoteClient(d.Cfg.CustodyBaseURL, d.Cfg.CustodyTimeout)
    }
    signer := custody.NewAdapter(remote, d.Cfg.CustodyTimeout, d.Logger)

    gate := payment.NewGate(payment.Config{
        Leases:   leaseRepo,
        Funds:    transferer,
        Promoter: accountSvc,
        Deduper:  deduper,
        Notifier: notifier,
        Timeout:  d.Cfg.FundsTimeout,
        Logger:   d.Logger,
    })
    leaseSvc := lease.NewService(leaseRepo, walletSvc, signer, gate, d.Logger, lease.WithNotifier(notifier))

    walletHandler := wallet.NewHandler(walletSvc)
    leaseHandler := lease.NewHandler(leaseSvc, d.Cfg.CurrencyScale)
    paymentHandler := payment.NewHandler(gate, publisher, d.Cfg.FundsWebhookSecret, d.Logger)
    fundsHandler := funds.NewHandler(transferer, d.Cfg.CurrencyScale)
    accountHandler := account.NewHandler(accountSvc)

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": middleware.RequestIDFrom(c.UserContext()),
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    // Provider callbacks authenticate by body signature, not by actor.
    RegisterFundsWebhookRoutes(api, paymentHandler)

    // Actor-scoped routes
    protected := api.Group("", middleware.Actor())
    RegisterAccountRoutes(protected, accountHandler)
    RegisterWalletRoutes(protected, walletHandler)
    RegisterLeaseRoutes(protected, leaseHandler)
    RegisterPaymentRoutes(protected, paymentHandler)
    RegisterFundsRoutes(protected, fundsHandler)

    worker := func(ctx context.Context) error {
        d.Logger.Info("funds event consumer started", "stream", d.Cfg.FundsStream)
        return gate.Run(ctx, consumer)
    }
    return worker, nil
}

func consumerName(app string) string {
    host, err := os.Hostname()
    if err != nil || host == "" {
        host = "local"
    }
    return fmt.Sprintf("%s-%s-%d", app, host, os.Getpid())
}
