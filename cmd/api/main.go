package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pointsledger/loyalty-backend/api/controllers"
	"github.com/pointsledger/loyalty-backend/api/routes"
	"github.com/pointsledger/loyalty-backend/internal/events"
	"github.com/pointsledger/loyalty-backend/internal/ledger"
	"github.com/pointsledger/loyalty-backend/internal/promotions"
	"github.com/pointsledger/loyalty-backend/internal/transactions"
	"github.com/pointsledger/loyalty-backend/internal/users"
	"github.com/pointsledger/loyalty-backend/pkg/config"
	"github.com/pointsledger/loyalty-backend/pkg/db"
	"github.com/pointsledger/loyalty-backend/pkg/logger"
	"github.com/pointsledger/loyalty-backend/pkg/metrics"
	"github.com/pointsledger/loyalty-backend/pkg/migrate"
	"github.com/pointsledger/loyalty-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	txMetrics := metrics.NewTransactionMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	usersRepo := users.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	promotionsRepo := promotions.NewRepository(dbClient.DB())
	eventsRepo := events.NewRepository(dbClient.DB())

	userService, err := users.NewService(usersRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create user service", err)
		os.Exit(1)
	}

	promotionService, err := promotions.NewService(promotionsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create promotion service", err)
		os.Exit(1)
	}

	resolver, err := promotions.NewResolver(promotionsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create promotion resolver", err)
		os.Exit(1)
	}

	eventService, err := events.NewService(eventsRepo, usersRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create event service", err)
		os.Exit(1)
	}

	transactionService, err := transactions.NewService(
		ledgerRepo,
		usersRepo,
		resolver,
		dbClient,
		txMetrics,
		int64(cfg.Points.EarnRateCents),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			Redis:       redisClient,
			HTTPMetrics: httpMetrics,
			Gatherer:    registry,
			Pingers: map[string]controllers.Pinger{
				"postgres": dbClient,
				"redis":    redisClient,
			},
			Users:        userService,
			Transactions: transactionService,
			Promotions:   promotionService,
			Events:       eventService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
