package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/config"
	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/domain/health"
	"github.com/oneboxhq/onebox-core/domain/mailbox"
	"github.com/oneboxhq/onebox-core/domain/notify"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/domain/search"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
	"github.com/oneboxhq/onebox-core/routes"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: onebox-core [server|migrate]")
		os.Exit(1)
	}

	config.InitConfig()

	logger.Init(logger.Config{
		Level:       logger.Level(viper.GetString("LOG_LEVEL")),
		Environment: viper.GetString("ENVIRONMENT"),
		ServiceName: "onebox-core",
		Version:     viper.GetString("VERSION"),
	})
	log := logger.Get()

	switch os.Args[1] {
	case "server":
		startServer(log)
	case "migrate":
		runMigrations(log)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func runMigrations(log logger.Logger) {
	db := config.InitDB()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores := []interface {
		Migrate(ctx context.Context) error
	}{
		account.NewStore(db),
		search.NewStore(db),
		notify.NewAuditStore(db),
	}
	for _, s := range stores {
		if err := s.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", err)
		}
	}

	log.Info("Migrations applied")
}

func startServer(log logger.Logger) {
	db := config.InitDB()
	defer db.Close()
	redisClient := config.InitRedis()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	accountStore := account.NewStore(db)
	searchStore := search.NewStore(db)
	auditStore := notify.NewAuditStore(db)
	for _, s := range []interface {
		Migrate(ctx context.Context) error
	}{accountStore, searchStore, auditStore} {
		if err := s.Migrate(migrateCtx); err != nil {
			cancel()
			log.Fatal("Migration failed", err)
		}
	}
	cancel()

	// Classification: HTTP client behind the rate-limited adapter.
	client := classify.NewClient(classify.ClientConfigFromEnv())
	adapter := classify.NewAdapter(classify.AdapterConfigFromEnv(), client, log)

	// Notification fan-out with its audit sink.
	dispatcher := notify.NewDispatcher(notify.ConfigFromEnv(), auditStore, redisClient, log)

	// The single sequential worker serving every account.
	pipe := pipeline.New(pipeline.ConfigFromEnv(), adapter, searchStore, dispatcher, log)

	// Mailbox connections feed the pipeline.
	dialer := &mailbox.IMAPDialer{Log: log}
	manager := mailbox.NewManager(mailbox.ManagerConfigFromEnv(), dialer, accountStore, pipe, log)

	go adapter.Run(ctx)
	go dispatcher.Run(ctx)
	go pipe.Run(ctx)
	go search.RunRetention(ctx, search.RetentionConfigFromEnv(), searchStore, log)

	if err := manager.StartAll(ctx); err != nil {
		log.Fatal("Failed to start mailbox connections", err)
	}

	e := buildEcho(log, db, redisClient, pipe, adapter, dispatcher, manager, accountStore, searchStore, auditStore)

	addr := viper.GetString("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", err)
		}
	}()
	log.Info("Server started", logger.String("addr", addr))

	<-ctx.Done()
	log.Info("Shutting down")

	manager.StopAll()
	dispatcher.Drain(10 * time.Second)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", err)
	}
}

func buildEcho(
	log logger.Logger,
	db *sqlx.DB,
	redisClient *redis.Client,
	pipe *pipeline.Pipeline,
	adapter *classify.Adapter,
	dispatcher *notify.Dispatcher,
	manager *mailbox.Manager,
	accountStore *account.Store,
	searchStore *search.Store,
	auditStore *notify.AuditStore,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperrors.HTTPErrorHandler(log)

	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(logger.RequestLoggerMiddleware(log))
	e.Use(logger.RecoveryMiddleware(log))

	collect := func() health.ComponentStats {
		return health.ComponentStats{
			PipelineQueue:   pipe.QueueLen(),
			DedupeEntries:   pipe.DedupLen(),
			Classifier:      adapter.Stats(),
			Notify:          dispatcher.QueueDepths(),
			ActiveMailboxes: manager.ActiveConnections(),
		}
	}

	routes.RegisterRoutes(e, routes.Handlers{
		Health:  health.NewHandler(db, redisClient, collect),
		Search:  search.NewHandler(searchStore),
		Notify:  notify.NewHandler(auditStore),
		Account: account.NewHandler(accountStore, manager),
	})

	return e
}
