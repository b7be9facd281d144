package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/common/logger"
	"github.com/moneyflowz367/affilync-bigcommerce/common/middleware"
	"github.com/moneyflowz367/affilync-bigcommerce/clients"
	"github.com/moneyflowz367/affilync-bigcommerce/config"
	"github.com/moneyflowz367/affilync-bigcommerce/controllers"
	"github.com/moneyflowz367/affilync-bigcommerce/database"
	"github.com/moneyflowz367/affilync-bigcommerce/models"
	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"
	"github.com/moneyflowz367/affilync-bigcommerce/routes"
	"github.com/moneyflowz367/affilync-bigcommerce/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	serviceName = "attribution-service"

	// idleVisitorRetention expires click sets nobody has touched in a year. Housekeeping
	// evicts clicks outside every store window well before that.
	idleVisitorRetention = 365 * 24 * time.Hour
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// AWS clients
	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)
	if awsErr != nil && needsAWS(cfg) {
		log.Fatalf("AWS config unavailable: %v", awsErr)
	}

	var cwLogs *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled && awsErr == nil {
		cwLogs, err = awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName, true)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
			cwLogs = nil
		}
	}
	if cwLogs != nil {
		logger.InitializeWithWriter(cfg.AppEnv, cwLogs)
		defer cwLogs.Close() //nolint:errcheck
	} else {
		logger.Initialize(cfg.AppEnv)
	}
	zl := logger.Log
	defer zl.Sync() //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsErr == nil {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled)
	}

	db, err := database.ConnectPostgres(cfg.Postgres, zl,
		&models.Store{},
		&models.ClickRecord{},
		&models.ConversionRecord{},
		&models.IdempotencyEntry{},
	)
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.LedgerBackend == config.BackendRedis || cfg.ClickRegistryBackend == config.BackendRedis {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zl.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		zl.Info("Connected to Redis")
	}

	ledgerOpts := repository.LedgerOptions{
		ReservationTimeout: cfg.ReservationTimeout,
		RetentionWindow:    cfg.RedeliveryWindow,
	}
	ledger := buildLedger(cfg, ledgerOpts, db, redisClient, awsCfg)
	clicks := buildClickRegistry(cfg, db, redisClient)
	stores := repository.NewGormStoreRepository(db)

	publisher := buildPublisher(cfg, awsCfg, zl)
	defer publisher.Close() //nolint:errcheck

	forwarder := buildForwarder(ctx, cfg, awsCfg, awsErr, zl)

	dispatcher := services.NewWebhookDispatcher(services.DispatcherDeps{
		Verifier:   services.NewSignatureVerifier(),
		Normalizer: services.NewEventNormalizer(),
		Resolver:   services.NewAttributionResolver(cfg.DefaultAttributionModel),
		Recorder:   services.NewConversionRecorder(repository.NewGormConversionRepository(db), publisher, zl),
		Ledger:     ledger,
		Clicks:     clicks,
		Stores:     stores,
		Forwarder:  forwarder,
		Metrics:    metrics,
	}, services.DispatcherConfig{
		AppClientSecret:   cfg.BigCommerceClientSecret,
		DefaultCookieDays: cfg.DefaultCookieDurationDays,
		DefaultModel:      cfg.DefaultAttributionModel,
	}, zl)
	webhookController := controllers.NewWebhookController(dispatcher, cfg.MaxWebhookBodyBytes)

	housekeeper := services.NewHousekeeper(
		ledger, clicks, stores,
		cfg.PruneInterval, cfg.RedeliveryWindow, cfg.SaleLag, cfg.DefaultCookieDurationDays,
		metrics, zl,
	)
	go housekeeper.Start(ctx)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(middleware.RequestLogger(zl))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterWebhookRoutes(r, webhookController, middleware.RateLimitMiddleware(ctx, cfg.RateLimitPerMinute))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	zl.Info("Attribution service started",
		zap.String("port", cfg.Port),
		zap.String("ledger", cfg.LedgerBackend),
		zap.String("click_registry", cfg.ClickRegistryBackend),
		zap.String("publisher", cfg.PublisherBackend),
	)
	<-quit
	zl.Info("Shutting down attribution service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	zl.Info("Server exited cleanly")
}

func needsAWS(cfg *config.Config) bool {
	return cfg.LedgerBackend == config.BackendDynamoDB || cfg.PublisherBackend == config.PublisherSNS
}

func buildLedger(cfg *config.Config, opts repository.LedgerOptions, db *gorm.DB, rdb *redis.Client, awsCfg sdkaws.Config) repository.IdempotencyLedger {
	switch cfg.LedgerBackend {
	case config.BackendRedis:
		return repository.NewRedisLedger(rdb, opts)
	case config.BackendDynamoDB:
		return repository.NewDynamoLedger(awspkg.NewDynamoDBClient(awsCfg), cfg.IdempotencyTable, opts)
	default:
		return repository.NewPostgresLedger(db, opts)
	}
}

func buildClickRegistry(cfg *config.Config, db *gorm.DB, rdb *redis.Client) repository.ClickRegistry {
	if cfg.ClickRegistryBackend == config.BackendRedis {
		return repository.NewRedisClickRegistry(rdb, idleVisitorRetention+cfg.SaleLag)
	}
	return repository.NewGormClickRegistry(db)
}

func buildPublisher(cfg *config.Config, awsCfg sdkaws.Config, zl *zap.Logger) clients.ConversionPublisher {
	if cfg.PublisherBackend == config.PublisherKafka {
		return clients.NewKafkaConversionPublisher(cfg.KafkaBrokers, cfg.KafkaConversionTopic, zl)
	}
	return clients.NewSNSConversionPublisher(awspkg.NewSNSClient(awsCfg), cfg.ConversionSNSTopicARN, zl)
}

// buildForwarder leaves a queue nil when its URL is unset; forwarding to it then fails the
// delivery so upstream redelivers once the queue is configured.
func buildForwarder(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, awsErr error, zl *zap.Logger) *clients.LifecycleForwarder {
	var productQueue, lifecycleQueue awspkg.MessageSender
	if awsErr != nil {
		zl.Warn("AWS config unavailable, product and lifecycle forwarding disabled", zap.Error(awsErr))
		return clients.NewLifecycleForwarder(nil, nil, zl)
	}
	if q := resolveQueue(ctx, awsCfg, cfg.ProductSyncQueueURL, "PRODUCT_SYNC_QUEUE_URL", zl); q != nil {
		productQueue = q
	}
	if q := resolveQueue(ctx, awsCfg, cfg.StoreLifecycleQueueURL, "STORE_LIFECYCLE_QUEUE_URL", zl); q != nil {
		lifecycleQueue = q
	}
	return clients.NewLifecycleForwarder(productQueue, lifecycleQueue, zl)
}

func resolveQueue(ctx context.Context, awsCfg sdkaws.Config, nameOrURL, key string, zl *zap.Logger) *awspkg.SQSQueue {
	if nameOrURL == "" {
		zl.Warn("Queue not configured, forwarding disabled", zap.String("key", key))
		return nil
	}
	url, err := awspkg.ResolveQueueURL(ctx, awsCfg, nameOrURL)
	if err != nil {
		zl.Warn("Queue lookup failed, forwarding disabled", zap.String("key", key), zap.Error(err))
		return nil
	}
	return awspkg.NewSQSQueue(awsCfg, url)
}
