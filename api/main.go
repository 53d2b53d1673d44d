package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"skald/api/cloudformation"
	"skald/api/config"
	"skald/api/consul"
	"skald/api/handler"
	"skald/api/health"
	"skald/api/hub"
	"skald/api/logging"
	"skald/api/nomad"
	"skald/api/pipeline"
	"skald/api/retry"
	"skald/api/saga"
	"skald/api/stack"
	"skald/api/storage"
	"skald/api/store"
	"skald/api/validate"
)

var Version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var checks []health.Check

	var (
		sagaStore saga.Store     = saga.NewMemoryStore()
		recorder  store.Recorder = store.NewMemory()
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database", zap.Error(err))
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			log.Fatal("migration", zap.Error(err))
		}
		if n, err := db.RecoverInFlight(ctx); err != nil {
			log.Warn("invocation recovery", zap.Error(err))
		} else if n > 0 {
			log.Info("marked interrupted invocations failed", zap.Int64("count", n))
		}
		sagaStore = saga.NewPostgresStore(db.Pool())
		recorder = db
		checks = append(checks, health.Check{Name: "postgres", Fn: func(ctx context.Context) error {
			return db.Pool().Ping(ctx)
		}})
	} else {
		log.Warn("SKALD_DATABASE_URL not set, keeping history in memory")
	}

	buckets := storage.NewBuckets(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}, log)
	if def, err := buckets.Default(); err != nil {
		log.Fatal("object storage", zap.Error(err))
	} else {
		if err := def.EnsureBucket(ctx); err != nil {
			log.Warn("ensure bucket", zap.String("bucket", cfg.S3Bucket), zap.Error(err))
		}
		checks = append(checks, health.Check{Name: "storage", Fn: def.Healthy})
		log.Info("object storage configured", zap.String("endpoint", cfg.S3Endpoint), zap.String("bucket", cfg.S3Bucket))
	}

	backend, check, err := newBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("stack backend", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	checks = append(checks, check)

	ws := hub.New(cfg.Origins(), log)
	go ws.Run(ctx)

	p := pipeline.New(buckets.Open, backend, sagaStore, log)
	p.Recorder = recorder
	p.WS = ws
	p.UploadConcurrency = cfg.UploadConcurrency
	p.PollInterval = cfg.PollInterval
	p.StackTimeout = cfg.StackTimeout
	p.Retry = retry.Default

	var releases *consul.Client
	if cfg.ConsulAddr != "" {
		releases, err = consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			log.Warn("consul unavailable, release tracking disabled", zap.Error(err))
		} else {
			p.Releases = releases
			checks = append(checks, health.Check{Name: "consul", Fn: func(context.Context) error {
				return releases.Healthy()
			}})
		}
	}

	poller := &health.Poller{Checks: checks, WS: ws, Log: log.Named("health")}
	go poller.Run(ctx)

	validator := &validate.Validator{Open: buckets.Open}
	if cfg.Backend != config.BackendCloudFormation {
		validator.ParseTemplate = func(body []byte) error {
			_, err := nomad.ParseJob(body)
			return err
		}
	}

	h := handler.New(ctx, handler.Deps{
		Config:    cfg,
		Pipeline:  p,
		SagaStore: sagaStore,
		Recorder:  recorder,
		Releases:  releases,
		Validator: validator,
		Checks:    checks,
		Version:   Version,
		Log:       log,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	if cfg.APIToken != "" {
		r.Use(bearerAuth(cfg.APIToken))
		log.Info("API token auth enabled")
	}
	h.Mount(r)
	r.Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("skald listening", zap.String("version", Version), zap.String("addr", srv.Addr), zap.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// newBackend builds the configured stack backend and its health check.
func newBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (stack.Backend, health.Check, error) {
	switch cfg.Backend {
	case config.BackendCloudFormation:
		api, err := cloudformation.NewAPI(ctx, cloudformation.Config{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, health.Check{}, err
		}
		b := cloudformation.NewBackend(api, log)
		return b, health.Check{Name: "cloudformation", Fn: b.Healthy}, nil
	default:
		c, err := nomad.NewClient(cfg.NomadAddr, log)
		if err != nil {
			return nil, health.Check{}, err
		}
		return nomad.NewBackend(c), health.Check{Name: "nomad", Fn: func(context.Context) error {
			return c.Healthy()
		}}, nil
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" || r.URL.Path == "/api/health" || r.URL.Path == "/api/version" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
