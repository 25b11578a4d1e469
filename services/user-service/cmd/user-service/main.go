package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront-systems/storefront/libs/cache"
	"github.com/storefront-systems/storefront/libs/config"
	"github.com/storefront-systems/storefront/libs/db"
	"github.com/storefront-systems/storefront/libs/events"
	"github.com/storefront-systems/storefront/libs/httpx"
	"github.com/storefront-systems/storefront/libs/kafkax"
	otelx "github.com/storefront-systems/storefront/libs/otel"
	"github.com/storefront-systems/storefront/libs/runtime"
	"github.com/storefront-systems/storefront/services/user-service/internal/handlers"
	"github.com/storefront-systems/storefront/services/user-service/internal/service"
	"github.com/storefront-systems/storefront/services/user-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	serviceName := config.String("SERVICE_NAME", "user-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	apiKey, err := config.RequiredString("API_KEY")
	if err != nil {
		panic(err)
	}
	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	userCreatedTopic, err := config.RequiredString("KAFKA_USER_CREATED_TOPIC")
	if err != nil {
		panic(err)
	}
	orderCreatedTopic, err := config.RequiredString("KAFKA_ORDER_CREATED_TOPIC")
	if err != nil {
		panic(err)
	}
	groupID := config.String("KAFKA_GROUP_ID", "user-service")

	if err := db.Migrate(dbURL, storage.Migrations, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}
	entityCache := cache.New(rdb, config.Duration("CACHE_TTL", cache.DefaultTTL), logger)

	repo := storage.NewRepository(pool)

	publisher, err := kafkax.NewPublisher(logger, kafkax.PublisherConfig{
		Brokers: brokers,
		Topic:   userCreatedTopic,
	})
	if err != nil {
		panic(err)
	}
	defer publisher.Close()

	users := service.NewUsers(repo, publisher, logger)

	// Orders are observed only; nothing on this side depends on them.
	subscription, err := kafkax.NewSubscription(logger, kafkax.SubscriptionConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   orderCreatedTopic,
	}, func(_ context.Context, ev events.OrderCreated) error {
		logger.Info("received order created event",
			"order_id", ev.OrderID, "user_id", ev.UserID,
			"product", ev.Product, "quantity", ev.Quantity, "price", ev.Price)
		return nil
	})
	if err != nil {
		panic(err)
	}
	go subscription.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(users, entityCache, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		httpx.WithAPIKey(apiKey, logger),
	)
	handler = otelhttp.NewHandler(handler, "user-service")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
