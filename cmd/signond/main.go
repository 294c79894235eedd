package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/signonhq/signon/pkg/authflow"
	"github.com/signonhq/signon/pkg/config"
	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/notify"
	"github.com/signonhq/signon/pkg/observability"
	"github.com/signonhq/signon/pkg/session"
	"github.com/signonhq/signon/pkg/web"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config overlay (optional)")
	flag.Parse()

	// Startup failures go through logrus before the structured logger is up.
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configFile)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("app", cfg.Auth.AppName).Info("Starting signond")

	ctx := context.Background()

	var providers *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		providers, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			startupLog.WithError(err).Fatal("Failed to initialize OpenTelemetry")
		}
	}

	db, err := openDirectory(ctx, cfg)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to open directory database")
	}
	defer db.Close()

	store := directory.NewStore(db, cfg.Directory.Driver)
	if err := store.EnsureSchema(ctx); err != nil {
		startupLog.WithError(err).Fatal("Failed to ensure directory schema")
	}

	// The home tenant always exists and is active, so first logins work on
	// a fresh database even in restricted mode.
	tenant, err := store.EnsureTenant(ctx, cfg.Auth.PrimaryTenantID, cfg.Auth.PrimaryTenantName)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to ensure primary tenant")
	}
	logger.WithFields(map[string]interface{}{
		"tenant": tenant.TenantID,
		"name":   tenant.Name,
	}).Info("Primary tenant ready")

	sessionStore, memStore, redisStore, err := openSessions(ctx, cfg)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to open session store")
	}

	client, err := idp.NewOIDCClient(ctx, idp.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Authority:    cfg.Auth.Authority,
		RedirectURL:  cfg.Auth.AbsoluteRedirectURL(),
		Scopes:       cfg.Auth.Scopes,
	})
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to discover identity provider")
	}
	logger.WithField("authority", cfg.Auth.Authority).Info("Identity provider discovered")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// A typed-nil *notify.Notifier must not reach the interface value, or
	// the coordinator's nil check stops working.
	var notifier authflow.AccountNotifier
	if n := buildNotifier(ctx, cfg, logger, startupLog); n != nil {
		notifier = n
	}

	coordinator := authflow.NewCoordinator(
		client,
		authflow.NewTenantValidator(store, cfg.Auth.RestrictTenants, metrics, logger),
		authflow.NewProvisioner(store, metrics, logger),
		notifier,
		metrics,
		logger,
	)

	handler, err := web.NewHandler(web.Config{
		AppName:           cfg.Auth.AppName,
		LoginPath:         route(cfg.Auth.LoginPath),
		AuthorizePath:     route(cfg.Auth.LoginPath) + "/start",
		CallbackPath:      route(cfg.Auth.RedirectPath),
		LandingPath:       route(cfg.Auth.LandingPath),
		LogoutPath:        route(cfg.Auth.LogoutPath),
		RedirectFieldName: cfg.Auth.RedirectFieldName,
		ProviderLogoutURL: providerLogoutURL(cfg),
		CookieName:        cfg.Session.CookieName,
		SessionTTL:        cfg.Session.TTL,
		SecureCookies:     cfg.Session.CookieSecure,
	}, coordinator, sessionStore, store, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("Failed to build HTTP handlers")
	}

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      web.NewRouter(handler, logger, metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	var redisClient *redis.Client
	if redisStore != nil {
		redisClient = redisStore.Client()
	}
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler := startScheduler(cfg, db, memStore, metrics, logger)

	sm := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, appServer, healthServer)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	if redisStore != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisStore.Close()
		})
	}
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	g := &errgroup.Group{}
	g.Go(func() error {
		logger.Infof("Serving sign-in flow on %s", appServer.Addr)
		if err := appServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("app server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Serving health and metrics on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(sm.WaitForShutdown)

	if err := g.Wait(); err != nil {
		startupLog.WithError(err).Fatal("Server exited with error")
	}
	logger.Info("signond stopped")
}

// openDirectory opens and pings the relational store.
func openDirectory(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Directory.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Directory.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Directory.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// openSessions builds the configured session backend. The memory store is
// returned separately so the sweeper can reach it.
func openSessions(ctx context.Context, cfg *config.Config) (session.Store, *session.MemoryStore, *session.RedisStore, error) {
	switch cfg.Session.Backend {
	case "memory":
		mem := session.NewMemoryStore(cfg.Session.TTL)
		return mem, mem, nil, nil
	default:
		rs, err := session.NewRedisStore(ctx, session.RedisConfig{
			URL:      cfg.Session.RedisURL,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		}, cfg.Session.TTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return rs, nil, rs, nil
	}
}

// buildNotifier wires the configured mail backend, or nil when disabled.
func buildNotifier(ctx context.Context, cfg *config.Config, logger *observability.Logger, startupLog *logrus.Logger) *notify.Notifier {
	if !cfg.Notify.Enabled {
		return nil
	}

	var mailer notify.Mailer
	if cfg.Notify.Provider == "ses" {
		sesMailer, err := notify.NewSESMailer(ctx, cfg.Notify.SESRegion, cfg.Notify.FromAddress)
		if err != nil {
			startupLog.WithError(err).Fatal("Failed to initialize SES mailer")
		}
		mailer = sesMailer
	} else {
		mailer = notify.NewLogMailer(logger)
	}
	return notify.NewNotifier(mailer, logger, cfg.Auth.AppName, cfg.Notify.AdminEmails)
}

// startScheduler runs the periodic jobs: DB pool gauges and, for the
// memory backend, expired session sweeps.
func startScheduler(cfg *config.Config, db *sql.DB, memStore *session.MemoryStore, metrics *observability.Metrics, logger *observability.Logger) *cron.Cron {
	scheduler := cron.New()

	if metrics != nil {
		scheduler.AddFunc("@every 15s", func() {
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		})
	}

	if memStore != nil {
		scheduler.AddFunc("@every 10m", func() {
			if removed := memStore.Sweep(); removed > 0 {
				logger.WithField("removed", removed).Debug("Swept expired sessions")
			}
		})
	}

	scheduler.Start()
	return scheduler
}

func providerLogoutURL(cfg *config.Config) string {
	if !cfg.Auth.ProviderLogout {
		return ""
	}
	return cfg.Auth.ProviderLogoutURL
}

// route normalizes a configured path fragment to an absolute route.
func route(p string) string {
	return "/" + strings.TrimPrefix(p, "/")
}
