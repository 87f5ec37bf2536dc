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

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/tender-engine/apps/internal/engine"
	"github.com/zenGate-Global/tender-engine/contracts"
	assignmentshandler "github.com/zenGate-Global/tender-engine/domains/assignments/be/handler"
	ingestionhandler "github.com/zenGate-Global/tender-engine/domains/ingestion/be/handler"
	progresshandler "github.com/zenGate-Global/tender-engine/domains/progress/be/handler"
	submissionshandler "github.com/zenGate-Global/tender-engine/domains/submissions/be/handler"
	tendershandler "github.com/zenGate-Global/tender-engine/domains/tenders/be/handler"
	platformauth "github.com/zenGate-Global/tender-engine/platform/go/auth"
	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/tender-engine/platform/go/middleware"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	tenantmiddleware "github.com/zenGate-Global/tender-engine/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	AuthProvider            string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | jwks | dev
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	JWKSURL                 string `env:"JWKS_URL"`
	JWTIssuer               string `env:"JWT_ISSUER"`
	JWTAudience             string `env:"JWT_AUDIENCE"`

	Database persistence.PoolConfig
	Engine   engine.Config
	// Workers only apply with QUEUE_BACKEND=memory, where the api consumes its own queue.
	Workers engine.WorkerConfig
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := persistence.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.MigrateOnStart {
		if err := persistence.MigrateUp(ctx, pool); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	eng, err := engine.Open(ctx, cfg.Engine, pool, logger)
	if err != nil {
		logger.Fatal("init engine", zap.Error(err))
	}
	defer eng.Close()

	spec, err := contracts.Load()
	if err != nil {
		logger.Fatal("load openapi contract", zap.Error(err))
	}

	authMiddleware, stopAuth := buildAuthMiddleware(ctx, cfg, logger)
	defer stopAuth()

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := eng.Ping(pingCtx, pool); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	registerDocsRoutes(rootRouter, spec, logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformauth.RequireUser)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(tenantmiddleware.WithTenantSpace(tenantmiddleware.Config{EnvKey: cfg.Engine.EnvKey}))
	apiRouter.Use(platformmiddleware.SpecValidator(spec))

	apiRouter.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		tendershandler.New(eng.Tenders, logger).Routes(r)
		assignmentshandler.New(eng.Assignments, logger).Routes(r)
		submissionshandler.New(eng.Submissions, logger).Routes(r)
		r.Group(func(r chi.Router) {
			r.Use(platformauth.RequireAdmin)
			ingestionhandler.New(eng.Ingestion, logger).Routes(r)
		})
	})
	// Event streams are long-lived and stay outside the request timeout.
	progresshandler.New(eng.Hub, logger).Routes(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eng.Relay(gctx, logger.Named("relay"))
	})
	if cfg.Engine.QueueBackend == engine.QueueMemory {
		g.Go(func() error {
			return eng.RunWorkers(gctx, cfg.Workers, logger.Named("worker"))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api server stopped with error", zap.Error(err))
	}
}
