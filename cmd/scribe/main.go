package main

import (
	"context"
	"time"

	"aquascene/scribe/internal/batch"
	"aquascene/scribe/internal/config"
	"aquascene/scribe/internal/handlers"
	"aquascene/scribe/internal/jobs"
	"aquascene/scribe/internal/providers"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/internal/routing"
	"aquascene/scribe/internal/telemetry"
	"aquascene/scribe/internal/validation"
	pkgconfig "aquascene/scribe/pkg/config"
	"aquascene/scribe/pkg/kafka"
	"aquascene/scribe/pkg/logging"
	"aquascene/scribe/pkg/monitoring"
	pkgredis "aquascene/scribe/pkg/redis"
	"aquascene/scribe/pkg/server"
	"aquascene/scribe/pkg/version"
)

const serviceName = "scribe"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	pkgconfig.LoadEnv(logger)
	logger.SetLevel(pkgconfig.GetLogLevel())

	cfg := config.Load()

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"PROVIDERS_MANIFEST": cfg.ManifestPath,
	}))

	adapterConfigs, routingConfigs, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load provider manifest")
	}

	rules, err := config.LoadValidationRules(cfg.ValidationPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load validation rules")
	}
	if cfg.ValidationThreshold > 0 {
		rules.Threshold = cfg.ValidationThreshold
	}
	if cfg.ValidationAxisFloor > 0 {
		rules.AxisFloor = cfg.ValidationAxisFloor
	}

	// Kafka telemetry export is optional.
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, pkgconfig.GetEnv("KAFKA_CLUSTER_ID", "local"), logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, telemetry export disabled")
			producer = nil
		} else {
			defer producer.Close()
			healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
		}
	}

	// Redis backs async batch jobs; without it only synchronous batches work.
	var jobStore *jobs.Store
	if len(cfg.RedisAddrs) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisClient, err := pkgredis.NewUniversalClient(ctx, pkgredis.Config{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPass,
		})
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, async batch jobs disabled")
		} else {
			defer redisClient.Close()
			jobStore = jobs.NewStore(redisClient, logger, cfg.JobTTL)
			healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		}
	}

	trackerCfg := telemetry.Config{
		Source:      serviceName,
		Logger:      logger,
		Metrics:     metricsCollector,
		CostPerCall: config.CostMap(routingConfigs),
	}
	if producer != nil {
		// Assigning a nil *kafka.Producer would make the interface non-nil.
		trackerCfg.Publisher = producer
	}
	tracker := telemetry.NewTracker(trackerCfg)

	reg, err := registry.New(routingConfigs,
		registry.WithFailureWindow(cfg.FailureWindow),
		registry.WithCooldown(cfg.ProviderCooldown),
		registry.WithStateChangeHook(tracker.SetAvailability),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build provider registry")
	}

	adapters := make(map[string]providers.Provider, len(adapterConfigs))
	for _, pc := range adapterConfigs {
		p, err := providers.NewProvider(pc)
		if err != nil {
			logger.WithError(err).WithField("provider_id", pc.ID).Fatal("Failed to build provider adapter")
		}
		adapters[pc.ID] = providers.WithTelemetry(p, tracker)
	}
	logger.WithField("providers", len(adapters)).Info("Provider adapters ready")

	engine := routing.NewEngine(routing.Config{
		Registry:              reg,
		Providers:             adapters,
		Validator:             validation.New(&rules, logger),
		Logger:                logger,
		Policy:                cfg.RoutingPolicy,
		MaxValidationAttempts: cfg.MaxAttempts,
		Timeout:               cfg.GenerateTimeout,
		HeavyTimeout:          cfg.HeavyTimeout,
	})

	batchJobs, batchWorkers, batchDuration := metricsCollector.CreateBatchMetrics()
	processor := batch.NewProcessor(batch.Config{
		Generator:     engine,
		Logger:        logger,
		MaxConcurrent: cfg.BatchMaxConcurrent,
		LowWatermark:  cfg.AdaptiveLowWater,
		HighWatermark: cfg.AdaptiveHighWater,
		JobsTotal:     batchJobs,
		WorkersActive: batchWorkers,
		Duration:      batchDuration,
	})

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.New(engine, processor, reg, tracker, jobStore, logger).Register(router)

	serverCfg := server.DefaultConfig(serviceName, cfg.Port)
	if err := server.Start(serverCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
