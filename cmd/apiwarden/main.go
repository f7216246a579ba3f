package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/cache"
	"github.com/apiwarden/apiwarden/pkg/config"
	handlers "github.com/apiwarden/apiwarden/pkg/handlers/http"
	"github.com/apiwarden/apiwarden/pkg/infra/database"
	"github.com/apiwarden/apiwarden/pkg/infra/jwt"
	infraLogger "github.com/apiwarden/apiwarden/pkg/infra/logger"
	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/middleware"
	"github.com/apiwarden/apiwarden/pkg/ratelimit"
	"github.com/apiwarden/apiwarden/pkg/server"
	"github.com/apiwarden/apiwarden/pkg/threat"
	"github.com/apiwarden/apiwarden/pkg/threat/behavior"
	"github.com/apiwarden/apiwarden/pkg/threat/reputation"
	"github.com/apiwarden/apiwarden/pkg/threat/response"
	"github.com/apiwarden/apiwarden/pkg/threat/siem"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.New("apiwarden")

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	metrics := prometheus.NewMetrics()

	cacheClient, err := cache.NewClient(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to initialize redis: %v", err)
	}

	db, err := database.NewDB(logger, &database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("failed to close database")
		}
	}()

	eventStore := reputation.NewEventStore(db.DB)
	if err := eventStore.Migrate(); err != nil {
		logger.Fatalf("failed to migrate threat event store: %v", err)
	}

	behaviorAnalyzer := buildBehaviorAnalyzer(cfg, logger, cacheClient)
	reputationAnalyzer, denylist := buildReputationAnalyzer(cfg, logger, metrics, eventStore)

	responder := response.NewEngine(logger)
	if len(cfg.Security.Response) > 0 {
		if err := responder.UpdateConfig(cfg.Security.Response); err != nil {
			logger.Fatalf("invalid response config: %v", err)
		}
	}

	dispatcher := buildDispatcher(cfg, logger, metrics, eventStore)
	defer dispatcher.Close()

	detector := threat.NewDetector(
		[]threat.Analyzer{behaviorAnalyzer, reputationAnalyzer},
		responder,
		dispatcher,
		logger,
		metrics,
	)
	applyDetectorConfig(cfg, logger, detector)

	limiter := ratelimit.NewLimiter(cacheClient, metrics, nil)
	apiKeys := cache.NewAPIKeyStore(cacheClient)
	jwtManager := jwt.NewJwtManager(cfg.Security.AdminJWTSecret)

	mwTransport := middleware.Transport{
		PanicRecoverMiddleware: middleware.NewPanicRecoverMiddleware(logger),
		AdminAuthMiddleware:    middleware.NewAdminAuthMiddleware(logger, jwtManager),
		APIKeyAuthMiddleware:   middleware.NewAPIKeyAuthMiddleware(logger, apiKeys),
		ThreatMiddleware:       middleware.NewThreatMiddleware(logger, detector, behaviorAnalyzer, cfg.Security.FailClosed, nil),
	}
	if cfg.Security.RateLimit.Enabled {
		mwTransport.RateLimitMiddleware = middleware.NewRateLimitMiddleware(
			logger, limiter, cfg.Security.RateLimit.Requests, cfg.Security.RateLimit.WindowSeconds)
	}

	handlerTransport := handlers.HandlerTransport{
		GetStatusHandler:        handlers.NewGetStatusHandler(logger, detector),
		GetConfigHandler:        handlers.NewGetConfigHandler(logger, detector),
		UpdateConfigHandler:     handlers.NewUpdateConfigHandler(logger, detector),
		GetStatisticsHandler:    handlers.NewGetStatisticsHandler(logger, detector),
		HealthHandler:           handlers.NewHealthHandler(logger, detector),
		EnableHandler:           handlers.NewEnableHandler(logger, detector),
		DisableHandler:          handlers.NewDisableHandler(logger, detector),
		AddDenylistHandler:      handlers.NewAddDenylistHandler(logger, denylist, eventStore),
		RemoveDenylistHandler:   handlers.NewRemoveDenylistHandler(logger, denylist, eventStore),
		ListThreatEventsHandler: handlers.NewListThreatEventsHandler(logger, eventStore),
		CreateAPIKeyHandler:     handlers.NewCreateAPIKeyHandler(logger, apiKeys),
		RevokeAPIKeyHandler:     handlers.NewRevokeAPIKeyHandler(logger, apiKeys),
	}

	apiServer := server.NewAPIServer(server.APIServerDI{
		MiddlewareTransport: mwTransport,
		Config:              cfg,
		Logger:              logger,
		Metrics:             metrics,
	})
	adminServer := server.NewAdminServer(server.AdminServerDI{
		MiddlewareTransport: mwTransport,
		HandlerTransport:    handlerTransport,
		Config:              cfg,
		Logger:              logger,
		Metrics:             metrics,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Run() }()
	go func() { errCh <- adminServer.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Error("server stopped unexpectedly")
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	if err := apiServer.Shutdown(); err != nil {
		logger.WithError(err).Error("failed to shut down api server")
	}
	if err := adminServer.Shutdown(); err != nil {
		logger.WithError(err).Error("failed to shut down admin server")
	}
}

func buildBehaviorAnalyzer(cfg *config.Config, logger *logrus.Logger, cacheClient cache.Client) *behavior.Analyzer {
	analyzer := behavior.NewAnalyzer(behavior.NewRedisProfileStore(cacheClient), logger)
	if len(cfg.Security.Behavior) > 0 {
		if err := analyzer.UpdateConfig(cfg.Security.Behavior); err != nil {
			logger.Fatalf("invalid behavior config: %v", err)
		}
	}
	return analyzer
}

func buildReputationAnalyzer(
	cfg *config.Config,
	logger *logrus.Logger,
	metrics *prometheus.Metrics,
	eventStore *reputation.EventStore,
) (*reputation.Analyzer, *reputation.DenylistProvider) {
	denylist := reputation.NewDenylistProvider(cfg.Security.DenylistIPs)
	if err := denylist.LoadFromStore(context.Background(), eventStore); err != nil {
		logger.WithError(err).Warn("failed to load persisted denylist entries")
	}

	providers := []reputation.Provider{
		denylist,
		reputation.NewLocalProvider(eventStore),
	}
	for _, settings := range cfg.Security.ReputationProviders {
		var providerCfg reputation.HTTPProviderConfig
		if err := mapstructure.Decode(settings, &providerCfg); err != nil {
			logger.Fatalf("invalid reputation provider config: %v", err)
		}
		provider, err := reputation.NewHTTPProvider(providerCfg)
		if err != nil {
			logger.Fatalf("invalid reputation provider %q: %v", providerCfg.Name, err)
		}
		providers = append(providers, provider)
	}

	analyzer := reputation.NewAnalyzer(providers, logger, metrics)
	if len(cfg.Security.Reputation) > 0 {
		if err := analyzer.UpdateConfig(cfg.Security.Reputation); err != nil {
			logger.Fatalf("invalid reputation config: %v", err)
		}
	}
	return analyzer, denylist
}

func buildDispatcher(
	cfg *config.Config,
	logger *logrus.Logger,
	metrics *prometheus.Metrics,
	eventStore *reputation.EventStore,
) *siem.Dispatcher {
	dispatcherCfg := siem.DefaultConfig()
	if cfg.Security.Siem.QueueCapacity > 0 {
		dispatcherCfg.QueueCapacity = cfg.Security.Siem.QueueCapacity
	}
	if cfg.Security.Siem.BatchSize > 0 {
		dispatcherCfg.BatchSize = cfg.Security.Siem.BatchSize
	}
	if cfg.Security.Siem.FlushIntervalMs > 0 {
		dispatcherCfg.FlushIntervalMs = cfg.Security.Siem.FlushIntervalMs
	}
	if cfg.Security.Siem.RetryAttempts > 0 {
		dispatcherCfg.RetryAttempts = cfg.Security.Siem.RetryAttempts
	}
	if cfg.Security.Siem.RetryDelayMs > 0 {
		dispatcherCfg.RetryDelayMs = cfg.Security.Siem.RetryDelayMs
	}

	dispatcher, err := siem.NewDispatcher(dispatcherCfg, logger, metrics)
	if err != nil {
		logger.Fatalf("failed to build siem dispatcher: %v", err)
	}

	for _, sinkCfg := range cfg.Security.Siem.Sinks {
		sink, err := buildSink(sinkCfg, logger)
		if err != nil {
			logger.Fatalf("invalid siem sink %q: %v", sinkCfg.Type, err)
		}
		filters := make([]siem.Filter, 0, len(sinkCfg.Filters))
		for _, f := range sinkCfg.Filters {
			filters = append(filters, siem.Filter{Field: f.Field, Operator: f.Operator, Value: f.Value})
		}
		if err := dispatcher.AddSink(sink, filters...); err != nil {
			logger.Fatalf("failed to register siem sink %q: %v", sinkCfg.Type, err)
		}
	}

	// Detections feed the local reputation provider through the same pipeline,
	// so repeat offenders score higher on later requests.
	if err := dispatcher.AddSink(reputation.NewEventSink(eventStore, cfg.Security.Siem.PersistMinScore)); err != nil {
		logger.Fatalf("failed to register reputation event sink: %v", err)
	}
	return dispatcher
}

func buildSink(sinkCfg config.SinkConfig, logger *logrus.Logger) (siem.Sink, error) {
	switch sinkCfg.Type {
	case "webhook":
		return siem.NewWebhookSink(sinkCfg.Settings)
	case "kafka":
		return siem.NewKafkaSink(sinkCfg.Settings)
	case "log":
		return siem.NewLogSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sinkCfg.Type)
	}
}

func applyDetectorConfig(cfg *config.Config, logger *logrus.Logger, detector *threat.Detector) {
	detectorCfg := detector.Config()
	detectorCfg.Enabled = cfg.Security.Detector.Enabled
	detectorCfg.AutoResponseEnabled = cfg.Security.Detector.AutoResponseEnabled
	if cfg.Security.Detector.ThreatThreshold > 0 {
		detectorCfg.ThreatThreshold = cfg.Security.Detector.ThreatThreshold
	}
	if cfg.Security.Detector.ConfidenceThreshold > 0 {
		detectorCfg.ConfidenceThreshold = cfg.Security.Detector.ConfidenceThreshold
	}
	if cfg.Security.Detector.MaxAnalysisTimeMs > 0 {
		detectorCfg.MaxAnalysisTimeMs = cfg.Security.Detector.MaxAnalysisTimeMs
	}
	if len(cfg.Security.Detector.AnalyzerWeights) > 0 {
		detectorCfg.AnalyzerWeights = cfg.Security.Detector.AnalyzerWeights
	}
	if err := detector.UpdateConfig(detectorCfg); err != nil {
		logger.Fatalf("invalid detector config: %v", err)
	}
}
