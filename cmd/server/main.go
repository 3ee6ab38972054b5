package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/exiletrade/deal-engine/internal/config"
	"github.com/exiletrade/deal-engine/internal/deals"
	"github.com/exiletrade/deal-engine/internal/metrics"
	"github.com/exiletrade/deal-engine/internal/notify"
	"github.com/exiletrade/deal-engine/internal/scoring"
	"github.com/exiletrade/deal-engine/internal/store"
	"github.com/exiletrade/deal-engine/internal/upstream"
	"github.com/exiletrade/deal-engine/internal/watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}

	case cfg.SQLitePath != "":
		lite, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.SQLitePath, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("using SQLite store", "path", cfg.SQLitePath)

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (history will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := deals.NewWSHub()
	go wsHub.Run(ctx)

	// --- Deal service ---
	client := upstream.NewClient(cfg.APIBase, cfg.UserAgent)
	scorer := scoring.NewScorer(scoring.DefaultWeights)
	dealSvc := deals.NewService(cfg, client, scorer, st, wsHub)

	// --- Watcher ---
	if cfg.WatchInterval > 0 {
		target, ok := dealSvc.EnvTarget()
		switch {
		case !ok:
			slog.Warn("WATCH_INTERVAL set without QUERY_ID, watcher disabled")
		case !cfg.AlertsEnabled():
			slog.Warn("WATCH_INTERVAL set without Telegram credentials, watcher disabled")
		default:
			notifier := notify.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
			if err := notifier.SendStartup(ctx, cfg.QueryID, cfg.WatchInterval, cfg.AlertMinMargin); err != nil {
				slog.Warn("telegram startup message failed", "err", err)
			}
			w := watch.New(dealSvc, notifier, target, cfg.FetchLimit, cfg.AlertMinMargin, cfg.WatchInterval)
			go w.Start(ctx)
		}
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(45 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && cfg.AllowsOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", dealSvc.Health)
	r.Get("/deals", dealSvc.Deals)
	r.Get("/deals_by_url", dealSvc.DealsByURL)
	r.Get("/deals_from_env", dealSvc.DealsFromEnv)
	r.Get("/history", dealSvc.History)

	// WebSocket feed of ranked deals above ALERT_MIN_MARGIN.
	r.Get("/ws", wsHub.HandleWS(cfg.AllowsOrigin))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("deal-engine listening",
			"port", cfg.Port,
			"realm", cfg.Realm,
			"league", cfg.League,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down deal-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("deal-engine stopped")
}
