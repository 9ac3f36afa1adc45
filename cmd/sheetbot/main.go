package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"sheetbot/internal/ai"
	"sheetbot/internal/api"
	"sheetbot/internal/bot"
	"sheetbot/internal/cache"
	"sheetbot/internal/client"
	"sheetbot/internal/config"
	"sheetbot/internal/dispatch"
	"sheetbot/internal/history"
	"sheetbot/internal/scheduler"
	"sheetbot/internal/sheets"
	"sheetbot/internal/transport"
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := sheets.New(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.CredentialsJSON, cfg.Sheets.CacheTTL)
	if err != nil {
		return err
	}

	store, closeStore, err := newHistoryStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sent := newSentCache(cfg)

	sender, wa, err := newSender(ctx, cfg)
	if err != nil {
		return err
	}

	var replier bot.Replier
	if cfg.AI.Enabled {
		responder, err := ai.NewResponder(ctx, cfg.AI.APIKey, cfg.AI.Model, gateway, store, cfg.History.ContextMessages)
		if err != nil {
			return err
		}
		replier = responder
		slog.Info("ai responder enabled", "model", cfg.AI.Model)
	} else {
		slog.Info("ai responder disabled, only keyword flows will answer")
	}

	router := bot.New(gateway, sender, store, replier)

	if wa != nil {
		wa.OnMessage(router.HandleIncoming)
		if err := wa.Connect(ctx); err != nil {
			return err
		}
		defer wa.Disconnect()
	}

	dispatcher := dispatch.New(gateway, sender, store, sent, cfg.Scheduler.DueWindow)

	sched, err := scheduler.New(cfg.Scheduler.Interval, dispatcher.CheckAndSendPending)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	go cleanupLoop(ctx, store)

	handler := api.NewHandler(sched, gateway, dispatcher, sender, store)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sheetbot listening",
		"addr", cfg.Server.Address,
		"interval", cfg.Scheduler.Interval,
		"window", cfg.Scheduler.DueWindow,
		"transport", cfg.Transport.Kind,
	)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newHistoryStore(cfg *config.Config) (history.Store, func(), error) {
	if cfg.History.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.History.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("history store: postgres")
		return history.NewPostgresStore(db, cfg.History.RetentionDays), func() { _ = db.Close() }, nil
	}

	fs, err := history.NewFileStore(cfg.History.Dir, cfg.History.MaxMessages, cfg.History.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("history store: files", "dir", cfg.History.Dir)
	return fs, func() {}, nil
}

func newSentCache(cfg *config.Config) cache.SentCache {
	if !cfg.Redis.Enabled {
		slog.Info("sent cache: in-memory")
		return cache.NewMemoryCache()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	slog.Info("sent cache: redis", "addr", cfg.Redis.Address)
	return cache.NewRedisCache(rdb, cfg.Redis.TTL)
}

// newSender returns the outbound port and, for the whatsapp transport, the
// client itself so main can hook incoming messages and manage the session.
func newSender(ctx context.Context, cfg *config.Config) (dispatch.Sender, *transport.WhatsAppClient, error) {
	if cfg.Transport.Kind == config.TransportWebhook {
		slog.Info("transport: webhook", "url", cfg.Transport.WebhookURL)
		return client.NewWebhookClient(cfg.Transport.WebhookURL), nil, nil
	}

	wa, err := transport.NewWhatsApp(ctx, cfg.Transport.SessionDBPath, cfg.Transport.RatePerSec)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("transport: whatsapp", "session_db", cfg.Transport.SessionDBPath)
	return wa, wa, nil
}

// cleanupLoop prunes stale conversations once at startup and then daily.
func cleanupLoop(ctx context.Context, store history.Store) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		removed, err := store.CleanOld(ctx)
		if err != nil {
			slog.Warn("history cleanup failed", "error", err)
		} else if removed > 0 {
			slog.Info("history cleanup done", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
