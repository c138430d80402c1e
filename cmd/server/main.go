package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/cache"
	"github.com/UkralStul/yatube/internal/config"
	"github.com/UkralStul/yatube/internal/httpapi"
	"github.com/UkralStul/yatube/internal/media"
	"github.com/UkralStul/yatube/internal/notify"
	"github.com/UkralStul/yatube/internal/pagecache"
	"github.com/UkralStul/yatube/internal/storage"
	"github.com/UkralStul/yatube/internal/storage/inmemory"
	"github.com/UkralStul/yatube/internal/storage/postgres"

	"gorm.io/gorm/logger"
)

const (
	pagePrefix      = "yatube:pages:"
	shutdownTimeout = 5 * time.Second
)

func main() {
	storageType := flag.String("storage", "", "Storage type (in-memory or postgres), overrides STORAGE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *storageType != "" {
		cfg.Storage = *storageType
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	a, err := newApp(context.Background(), cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	log.Info("listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage)
	if err := Run(context.Background(), a, signals, nil); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// app is the assembled server with the resources to release on shutdown.
type app struct {
	server  *http.Server
	blog    *blog.Service
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	backend := cache.Cache(cache.NewMemory())
	if rdb := cache.Connect(cfg.RedisAddr, cfg.RedisPassword); rdb != nil {
		redisCache := cache.NewRedis(rdb, pagePrefix)
		if err := redisCache.Ping(ctx); err != nil {
			// The page cache falls through to the store while redis is down.
			log.Warn("redis unreachable, pages will be served uncached until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		backend = redisCache
		a.closers = append(a.closers, rdb.Close)
	}
	pages := pagecache.New(backend, cfg.CacheTTL, log)

	hub := notify.NewHub()
	mediaStore := media.NewStore(cfg.MediaDir)
	a.blog = blog.NewService(store, pages, log,
		blog.WithNotifications(hub),
		blog.WithMedia(mediaStore),
		blog.WithPageSize(cfg.PageSize),
	)
	authSvc := auth.NewService(cfg.JWTSecret, store)

	if cfg.Seed || cfg.Storage == config.StorageInMemory {
		if err := fillWithMockData(ctx, a.blog, authSvc, log); err != nil {
			a.close(log)
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	a.server = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Blog:   a.blog,
			Auth:   authSvc,
			Hub:    hub,
			Media:  mediaStore,
			Logger: log,
			Admins: cfg.Admins(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func openStore(cfg config.Config) (storage.Storage, func() error, error) {
	switch cfg.Storage {
	case config.StorageInMemory:
		return inmemory.New(), nil, nil
	case config.StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL must be set for postgres storage")
		}
		level := logger.Warn
		if cfg.Level() <= slog.LevelDebug {
			level = logger.Info
		}
		store, err := postgres.New(cfg.DatabaseURL, level)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func (a *app) close(log *slog.Logger) {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Warn("failed to release resource", "error", err)
		}
	}
}

// ListenFunc serves srv until it is shut down.
type ListenFunc func(srv *http.Server) error

var defaultListen ListenFunc = func(srv *http.Server) error {
	return srv.ListenAndServe()
}

// Run serves a until a signal arrives or ctx is done, then shuts down gracefully.
func Run(ctx context.Context, a *app, signals <-chan os.Signal, listen ListenFunc) error {
	if listen == nil {
		listen = defaultListen
	}
	log := slog.Default()

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(a.server)
	}()

	select {
	case sig := <-signals:
		log.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.close(log)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.close(log)
	return err
}
