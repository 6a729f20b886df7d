// Package app constructs the root object graph both cmd/gateway and
// cmd/scheduler start from: one store, one cache, one clock, one random
// source, one logging sink, and the safety/classification/coordination
// components wired against them. Grounded on the Design Notes' "explicit
// handles" pattern — nothing here is a package-level singleton, so tests
// and both binaries build their own App from their own *config.Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sentinelops/remediator/internal/config"
	"github.com/sentinelops/remediator/internal/database"
	"github.com/sentinelops/remediator/pkg/action"
	"github.com/sentinelops/remediator/pkg/action/executor"
	"github.com/sentinelops/remediator/pkg/action/scheduler"
	"github.com/sentinelops/remediator/pkg/cache"
	"github.com/sentinelops/remediator/pkg/classifier"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/decision"
	"github.com/sentinelops/remediator/pkg/fingerprint"
	"github.com/sentinelops/remediator/pkg/incident"
	"github.com/sentinelops/remediator/pkg/ingestion"
	"github.com/sentinelops/remediator/pkg/logging"
	"github.com/sentinelops/remediator/pkg/notify"
	"github.com/sentinelops/remediator/pkg/randsrc"
	"github.com/sentinelops/remediator/pkg/safety/fabric"
	"github.com/sentinelops/remediator/pkg/safety/retrybudget"
	"github.com/sentinelops/remediator/pkg/safety/rules"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/store/postgres"
	"github.com/sentinelops/remediator/pkg/types"
)

// App is the fully wired object graph. cmd/gateway reaches into Ingestion;
// cmd/scheduler reaches into Scheduler; both share everything else.
type App struct {
	Config      *config.Config
	Store       store.Store
	Cache       cache.Cache
	Clock       clock.Clock
	Rand        randsrc.Source
	Log         *logging.Sink
	Fabric      *fabric.Fabric
	Coordinator *action.Coordinator
	Incident    *incident.Manager
	Ingestion   *ingestion.Pipeline
	Scheduler   *scheduler.Scheduler

	db          sqlClosable
	redisClient *redis.Client
}

// sqlClosable is the narrow subset of *sqlx.DB App.Close needs, kept as an
// unexported indirection so this file doesn't need to import sqlx just for
// a Close call.
type sqlClosable interface {
	Close() error
}

// New connects to Postgres and Redis per cfg, runs EnsureSchema, and wires
// every component the ingestion pipeline and action scheduler depend on.
// Callers must call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSink(newLogrusLogger(cfg.Logging))

	db, err := database.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	pgStore := postgres.New(db)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("app: ensure schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		redisClient.Close()
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	redisCache := cache.New(redisClient)

	clk := clock.New()
	rnd := randsrc.New(time.Now().UnixNano())

	var s store.Store = pgStore
	rulesLookup := rules.New(cfg)
	retryBudget := retrybudget.New(s, clk)
	fingerprintDeriver := fingerprint.New()
	decisionRecorder := decision.New(s, clk)
	dispatcher := buildDispatcher(cfg.Notify)

	classifierAdapter, err := buildClassifier(cfg.Classifier, rulesLookup)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	safetyFabric := fabric.New(s, redisCache, clk, fabricConfig(cfg))

	coordinator := action.New(s, clk, rnd, rulesLookup, retryBudget, dispatcher, cfg.Safety, safetyFabric)

	incidentManager := incident.New(s, clk, fingerprintDeriver, classifierAdapter, decisionRecorder,
		func(ctx context.Context, inc *types.Incident, d *types.Decision) {
			errorCode, vendor := lastEventAttribution(ctx, s, inc)
			if _, err := coordinator.OnDecision(ctx, inc, d, errorCode, vendor); err != nil {
				log.WithCorrelation(inc.ID).Error("on_decision failed", logging.NewFields().
					Component("app").Operation("on_decision").Error(err))
			}
		})

	pipeline := ingestion.New(s, safetyFabric, incidentManager, clk, log)

	webhookExecutor := executor.New(s, cfg.Scheduler.WebhookTimeout)
	sched := scheduler.New(s, clk, rnd, coordinator, webhookExecutor, log, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		Jitter:       cfg.Scheduler.Jitter,
		BatchSize:    cfg.Scheduler.BatchSize,
		Concurrency:  cfg.Scheduler.Concurrency,
	})

	return &App{
		Config:      cfg,
		Store:       s,
		Cache:       redisCache,
		Clock:       clk,
		Rand:        rnd,
		Log:         log,
		Fabric:      safetyFabric,
		Coordinator: coordinator,
		Incident:    incidentManager,
		Ingestion:   pipeline,
		Scheduler:   sched,
		db:          db,
		redisClient: redisClient,
	}, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	redisErr := a.redisClient.Close()
	dbErr := a.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return redisErr
}

func newLogrusLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func buildDispatcher(cfg config.NotifyConfig) notify.Dispatcher {
	if cfg.SlackToken == "" {
		return notify.NoopDispatcher{}
	}
	channels := map[notify.Level]string{}
	if c, ok := cfg.SlackChannels["team"]; ok {
		channels[notify.LevelTeam] = c
	}
	if c, ok := cfg.SlackChannels["oncall"]; ok {
		channels[notify.LevelOnCall] = c
	}
	if c, ok := cfg.SlackChannels["management"]; ok {
		channels[notify.LevelManagement] = c
	}
	return notify.NewSlackDispatcher(cfg.SlackToken, channels)
}

func buildClassifier(cfg config.ClassifierConfig, rulesLookup *rules.Lookup) (classifier.Adapter, error) {
	switch cfg.Provider {
	case "llm":
		return classifier.NewLLM(cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "mock":
		return &classifier.Mock{Result: classifier.TimeoutResult}, nil
	case "rule_based", "":
		return classifier.NewRuleBased(rulesLookup), nil
	default:
		return nil, fmt.Errorf("app: unsupported classifier provider %q", cfg.Provider)
	}
}

func fabricConfig(cfg *config.Config) fabric.Config {
	vendors := make(map[string]types.VendorBreakerConfig, len(cfg.Vendors))
	vendorRateLimits := make(map[string]int, len(cfg.Vendors))
	for name, vc := range cfg.Vendors {
		vendors[name] = types.VendorBreakerConfig{
			Threshold: vc.Breaker.Threshold,
			Cooldown:  vc.Breaker.Cooldown,
			ProbeCap:  vc.Breaker.ProbeCap,
		}
		vendorRateLimits[name] = vc.RateLimit.PerMinute
	}
	return fabric.Config{
		TenantRateLimitPerMinute: cfg.Safety.TenantRateLimitPerMinute,
		Vendors:                  vendors,
		VendorRateLimitPerMinute: vendorRateLimits,
	}
}

// lastEventAttribution resolves the error code and vendor of the incident's
// most recently correlated event, the same inputs OnDecision needs to
// resolve a retry policy and, if the failures are attributed to a vendor,
// consult that vendor's rolling-hour budget.
func lastEventAttribution(ctx context.Context, s store.Store, inc *types.Incident) (errorCode, vendor string) {
	if len(inc.Correlation) == 0 {
		return "unknown", ""
	}
	last := inc.Correlation[len(inc.Correlation)-1]
	event, err := s.GetEvent(ctx, last)
	if err != nil {
		return "unknown", ""
	}
	return event.ErrorCode(), event.Vendor
}
