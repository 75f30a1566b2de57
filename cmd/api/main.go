package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sapcc/go-bits/logg"

	"github.com/bryanwahyu/automaton-reposcan/internal/application"
	appai "github.com/bryanwahyu/automaton-reposcan/internal/application/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/application/budget"
	appscans "github.com/bryanwahyu/automaton-reposcan/internal/application/scans"
	"github.com/bryanwahyu/automaton-reposcan/internal/config"
	domai "github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/ai/heuristic"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/automaton-reposcan/internal/infra/db/mysql"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlite"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-reposcan/internal/infra/playground"
	minioStore "github.com/bryanwahyu/automaton-reposcan/internal/infra/storage"
	"github.com/bryanwahyu/automaton-reposcan/internal/middleware"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logg.Error("loading .env: %s", err.Error())
	}

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		logg.Fatal("config load error: %s", err.Error())
	}
	logg.ShowDebug = cfg.Logging.Debug

	ctx := context.Background()

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		logg.Fatal("database connect error: %s", err.Error())
	}
	defer db.Close()
	if err := sqlstore.EnsureSchema(ctx, db, dialect); err != nil {
		logg.Fatal("schema error: %s", err.Error())
	}
	repo := sqlstore.NewRepository(db, dialect)

	clock := application.SystemClock{}

	// one scheduler for the whole process
	scheduler := budget.New(budget.Config{
		MaxTokens:    cfg.Budget.MaxTokensPerMinute,
		Window:       cfg.Budget.Window,
		SafetyMargin: cfg.Budget.SafetyMargin,
	}, clock)

	var provider domai.Provider
	switch cfg.AI.Provider {
	case "heuristic":
		provider = heuristic.New()
	default:
		provider = openai.NewClient(openai.Options{
			APIKey:    cfg.AI.APIKey,
			Model:     cfg.AI.Model,
			BaseURL:   cfg.AI.BaseURL,
			MaxTokens: cfg.AI.MaxTokens,
		})
	}
	analyzer := appai.NewAnalyzer(provider, scheduler, clock, appai.RetryConfig{
		MaxRetries: *cfg.Scan.MaxRetries,
		BaseDelay:  cfg.Scan.RetryBaseDelay,
	}, cfg.Scan.TokensPerChar)

	source := playground.NewClient(playground.Options{
		BaseURL:    cfg.Playground.URL,
		Timeout:    cfg.Playground.Timeout,
		RetryCount: cfg.Playground.RetryCount,
	})

	jobs := appscans.NewJobs(cfg.Scan.MaxConcurrentScans)
	svc := &appscans.Service{
		Repo:     repo,
		Source:   source,
		Analyzer: analyzer,
		Clock:    clock,
		Jobs:     jobs,
		Config: appscans.Config{
			MaxTokensPerRequest: cfg.Scan.MaxTokensPerRequest,
			ChunkSize:           cfg.Scan.ChunkSize,
			TokensPerChar:       cfg.Scan.TokensPerChar,
			FileDelay:           cfg.Scan.FileDelay,
			ChunkDelay:          cfg.Scan.ChunkDelay,
		}.WithDefaults(),
	}

	// init minio
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx, minioStore.Options{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.BucketName,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Prefix:    cfg.Minio.Prefix,
		})
		if err != nil {
			logg.Fatal("minio init error: %s", err.Error())
		}
		svc.Archive = store
	}

	janitor, err := appscans.NewJanitor(svc, cfg.Scan.ResumeSchedule, cfg.Scan.StaleAfter)
	if err != nil {
		logg.Fatal("janitor init error: %s", err.Error())
	}
	janitor.Start(ctx)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateBurst, cfg.Server.RateLimit)
		go pruneLimiter(ctx, limiter)
	}

	handler := httpserver.NewRouter(svc, httpserver.Options{
		APIKeys:     cfg.Server.APIKeys,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimiter: limiter,
		Checkers: map[string]middleware.HealthChecker{
			"database":   &middleware.DatabaseHealthChecker{DB: db},
			"playground": middleware.CheckerFunc(source.Ping),
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logg.Info("server listening on %s (provider %s, store %s)", addr, provider.Name(), dialect.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server error: %s", err.Error())
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logg.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logg.Error("shutdown error: %s", err.Error())
	}
	janitor.Stop()
	// in-flight reports stay in_progress and are resumed on the next start
	if err := jobs.Shutdown(ctx2); err != nil {
		logg.Error("scan jobs shutdown: %s", err.Error())
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, sqlstore.Dialect, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		return db, mysqlp.Dialect, err
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		return db, sqlite.Dialect, err
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		return db, postgres.Dialect, err
	}
}

func pruneLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Prune(10 * time.Minute); n > 0 {
				logg.Debug("rate limiter: pruned %d idle clients", n)
			}
		}
	}
}
