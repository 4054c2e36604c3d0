package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ferry/api/auth"
	"ferry/api/config"
	"ferry/api/deploy"
	"ferry/api/handler"
	"ferry/api/hub"
	"ferry/api/logger"
	"ferry/api/metrics"
	"ferry/api/monitor"
	"ferry/api/ratelimit"
	"ferry/api/remote"
	"ferry/api/secrets"
	"ferry/api/storage"
	"ferry/api/store"
)

var Version = "dev"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("ferry exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db); err != nil {
		return err
	}
	if n, err := db.RecoverInFlightDeployments(context.Background()); err != nil {
		log.Warn("deployment recovery", "error", err)
	} else if n > 0 {
		log.Warn("marked interrupted deployments as failed", "count", n)
	}

	if cfg.SecretKey != "" {
		sealer, err := secrets.NewSealer(cfg.SecretKey)
		if err != nil {
			return err
		}
		db.WithSealer(sealer)
	} else {
		log.Warn("FERRY_SECRET_KEY not set, server credentials are stored in plain text")
	}

	profile, err := deploy.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}
	if cfg.SSHPrivateKey == "" {
		log.Warn("FERRY_SSH_PRIVATE_KEY not set, source hosts will refuse connections")
	}

	m := metrics.New()
	orch := &deploy.Orchestrator{
		Dialer: &remote.SSHDialer{KnownHostsFile: cfg.KnownHostsFile, Logger: log},
		SourceAuth: remote.Auth{
			PrivateKey: []byte(cfg.SSHPrivateKey),
			Passphrase: []byte(cfg.SSHPassphrase),
		},
		Profile:  profile,
		Observer: m,
		WorkDir:  cfg.WorkDir,
		Logger:   log,
	}

	var archives *storage.Client
	if cfg.S3Endpoint != "" {
		archives, err = storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = archives.EnsureBucket(ctx)
			cancel()
		}
		if err != nil {
			log.Warn("archive retention unavailable", "endpoint", cfg.S3Endpoint, "error", err)
			archives = nil
		} else {
			orch.Archives = archives
			log.Info("archive retention enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		}
	}

	// Always allow local UI dev servers, plus configured extras.
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}

	ws := hub.New(allowedOrigins)
	go ws.Run()

	sup := monitor.NewSupervisor(db, monitor.NewProber(), ws)
	sup.Observer = m
	sup.Logger = log
	if err := sup.Sync(context.Background()); err != nil {
		log.Warn("monitor sync", "error", err)
	}
	sup.Start()
	defer sup.Stop()

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using memory", "addr", cfg.RedisAddr, "error", err)
		}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemory()
	}
	defer limiter.Close()

	h := handler.New(db, orch, sup, ws, allowedOrigins).WithMetrics(m).WithLogger(log)
	if archives != nil {
		h.WithArchives(archives)
	}

	authn := auth.New(cfg.APIToken, cfg.JWTSecret)
	if authn.Enabled() {
		log.Info("API auth enabled")
	} else {
		log.Warn("API auth disabled, set FERRY_API_TOKEN or FERRY_JWT_SECRET")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/metrics", m.Handler().ServeHTTP)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"` + Version + `"}`))
	})
	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		limit := ratelimit.Middleware(limiter, cfg.DeployRateLimit, time.Minute, func(req *http.Request) {
			m.ObserveRateLimit(req.URL.Path)
		})
		h.Routes(r, limit)
		r.Get("/ws", ws.HandleConnect)
	})

	if cfg.UIDir != "" {
		fileServer(r, cfg.UIDir)
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("ferry listening", "version", Version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return err
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func fileServer(r chi.Router, dir string) {
	fs := http.FileServer(http.Dir(dir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(dir + r.URL.Path); os.IsNotExist(err) {
			http.ServeFile(w, r, dir+"/index.html")
			return
		}
		fs.ServeHTTP(w, r)
	})
}
