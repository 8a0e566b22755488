package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/sylmmhy/Lumi-sub007/internal/pipeline"
	"github.com/sylmmhy/Lumi-sub007/internal/platform/apns"
	"github.com/sylmmhy/Lumi-sub007/internal/storage/cache"
	fsStore "github.com/sylmmhy/Lumi-sub007/internal/storage/firestore"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/metrics"
	"github.com/sylmmhy/Lumi-sub007/pushservice"
	"github.com/sylmmhy/Lumi-sub007/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// Local development convenience; real deployments set env directly.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "lumi-push-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- APNs signing (fail fast: a broken signer must never see a batch) ---
	apnsCfg := apns.Config{
		TeamID:        cfg.APNS.TeamID,
		KeyID:         cfg.APNS.KeyID,
		PrivateKey:    cfg.APNS.PrivateKey,
		BundleID:      cfg.APNS.BundleID,
		UseProduction: cfg.APNS.UseProduction,
	}
	signer, err := apns.NewSigner(apnsCfg)
	if err != nil {
		logger.Error("APNs signing configuration invalid", "err", err)
		os.Exit(1)
	}
	dispatcher := apns.NewDispatcher(signer, apnsCfg, logger)

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores (device registry optionally decorated with Redis) ---
	var deviceStore dispatch.DeviceStore = fsStore.NewDeviceStore(fsClient)
	logger.Info("DeviceStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deviceStore = cache.NewCachedDeviceStore(deviceStore, redisClient, cfg.DeviceCacheTTL)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_firestore")
	}

	queueStore := fsStore.NewQueueStore(fsClient, logger)

	// --- Processing ---
	m := metrics.New()
	pacer := rate.NewLimiter(rate.Every(cfg.DispatchInterval), 1)
	processor := pipeline.NewProcessor(queueStore, deviceStore, dispatcher, pacer,
		pipeline.ProcessorOptions{
			BatchSize:      cfg.BatchSize,
			DefaultSandbox: !cfg.APNS.UseProduction,
		}, m, logger)
	starter := pipeline.NewStarter(deviceStore, dispatcher, m, logger)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Scheduler consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newTickConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Scheduler consumer failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Info("No subscription configured; batch runs via HTTP trigger only")
	}

	service, err := pushservice.New(
		cfg,
		consumer,
		processor,
		starter,
		deviceStore,
		m,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newTickConsumer ensures the scheduler subscription exists and returns
// a consumer over it.
func newTickConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
