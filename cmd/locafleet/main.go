package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/action"
	"github.com/locafleet/locafleet/pkg/api"
	"github.com/locafleet/locafleet/pkg/async"
	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/config"
	"github.com/locafleet/locafleet/pkg/identity"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/pipeline"
	"github.com/locafleet/locafleet/pkg/policy"
	"github.com/locafleet/locafleet/pkg/rls"
	"github.com/locafleet/locafleet/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Tracing
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	// Database
	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.ConnTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	cm.StartHealthCheckRoutine(ctx, 30*time.Second)

	// Redis is optional; without it the decision cache is in-process only.
	decisionCache := access.NewDecisionCache(cfg.Access.CacheTTL, cfg.Access.L1CacheSize, nil)
	if cfg.Redis.URL != "" {
		redisClient, err := postgres.NewRedisClient(postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, running with in-process cache only")
		} else {
			decisionCache = access.NewDecisionCache(cfg.Access.CacheTTL, cfg.Access.L1CacheSize, redisClient)
		}
	}

	// Authorization components
	accessStore := access.NewPostgresStore(cm.Primary())
	resolver := access.NewResolver(accessStore, decisionCache, metrics, logger)
	binder := rls.NewBinder(cm.Primary(), metrics)
	classifier := action.NewClassifier("/api/v1")
	policyClient := policy.NewClient(cfg.Policy.EngineURL, cfg.Policy.Timeout, metrics)

	verifier, err := identity.NewOIDCVerifier(ctx, identity.OIDCConfig{
		IssuerURL: cfg.Identity.IssuerURL,
		ClientID:  cfg.Identity.ClientID,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize identity verifier")
		os.Exit(1)
	}

	// Audit trail
	var recorder *audit.Recorder
	var auditPool *async.Pool
	var purger *audit.Purger
	if cfg.Audit.Enabled {
		auditStore := audit.NewStore(cm.Primary())
		auditPool = async.NewPool(ctx, "audit", cfg.Audit.Pool, logger)
		recorder = audit.NewRecorder(auditStore, auditPool, metrics, logger)

		purger = audit.NewPurger(auditStore, audit.RetentionPolicy{
			RetentionDays: cfg.Audit.RetentionDays,
			Schedule:      cfg.Audit.PurgeSchedule,
		}, logger)
		if err := purger.Start(); err != nil {
			logger.WithError(err).Error("failed to start audit retention purger")
			os.Exit(1)
		}
	}

	authz := pipeline.New(verifier, resolver, classifier, policyClient, recorder, logger)

	server := api.NewServer(api.Options{
		Connections: cm,
		Binder:      binder,
		AccessStore: accessStore,
		Resolver:    resolver,
		AuditStore:  audit.NewStore(cm.Replica()),
		Recorder:    recorder,
		Pipeline:    authz,
		Metrics:     metrics,
		Logger:      logger,
		Tracing:     cfg.Observability.OTelEnabled,
	})

	mainServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, checkCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer checkCancel()
		if err := cm.HealthCheck(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, mainServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if purger != nil {
		shutdown.RegisterShutdownFunc(purger.Stop)
	}
	if auditPool != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return auditPool.Shutdown(10 * time.Second)
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(providers.Shutdown)
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		return cm.Close()
	})

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", mainServer.Addr).Info("API server listening")
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}
