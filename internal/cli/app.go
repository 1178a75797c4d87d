package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leofalp/polychat/core/dispatch"
	"github.com/leofalp/polychat/core/dispatch/middleware"
	"github.com/leofalp/polychat/core/sessionlog"
	"github.com/leofalp/polychat/internal/config"
	"github.com/leofalp/polychat/providers/ai/bridge"
	"github.com/leofalp/polychat/providers/ai/gemini"
	"github.com/leofalp/polychat/providers/ai/openai"
	"github.com/leofalp/polychat/providers/cache"
	"github.com/leofalp/polychat/providers/cache/memstore"
	"github.com/leofalp/polychat/providers/cache/mongostore"
	"github.com/leofalp/polychat/providers/cache/pgstore"
	"github.com/leofalp/polychat/providers/cache/sqlitestore"
	"github.com/leofalp/polychat/providers/ratelimit"
)

// app holds what the subcommands share. Fields set before load or connect
// are kept, which lets tests inject a dispatcher.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	verbose bool

	hub        *bridge.Hub
	sessionLog *sessionlog.Log
	dispatcher *dispatch.Dispatcher

	closers []func()
}

// connect builds the dispatcher with every backend that has credentials,
// the bridge included.
func (a *app) connect(ctx context.Context) error {
	if a.sessionLog == nil {
		a.sessionLog = sessionlog.New()
	}
	if a.dispatcher != nil {
		return nil
	}

	limiter := ratelimit.New(a.cfg.Intervals(), ratelimit.WithLogger(a.logger))
	a.hub = bridge.NewHub(bridge.WithHubLogger(a.logger))

	opts := []dispatch.Option{
		dispatch.WithLogger(a.logger),
		dispatch.WithSessionLog(a.sessionLog),
		dispatch.WithDefaults(a.cfg.Generation),
		dispatch.WithBackend(config.ProviderBridge, bridge.New(a.hub).WithLimiter(limiter).WithLogger(a.logger)),
	}
	if a.cfg.OpenAI.APIKey != "" {
		backend := openai.New().WithAPIKey(a.cfg.OpenAI.APIKey).WithLimiter(limiter).WithLogger(a.logger)
		if a.cfg.OpenAI.BaseURL != "" {
			backend = backend.WithBaseURL(a.cfg.OpenAI.BaseURL)
		}
		opts = append(opts, dispatch.WithBackend(config.ProviderOpenAI, backend))
	}
	if a.cfg.Gemini.APIKey != "" {
		backend := gemini.New().WithAPIKey(a.cfg.Gemini.APIKey).WithLimiter(limiter).WithLogger(a.logger)
		if a.cfg.Gemini.BaseURL != "" {
			backend = backend.WithBaseURL(a.cfg.Gemini.BaseURL)
		}
		opts = append(opts, dispatch.WithBackend(config.ProviderGemini, backend))
	}

	store, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		opts = append(opts, dispatch.WithCache(store))
	}

	opts = append(opts, dispatch.WithMiddleware(a.middlewares()...))

	d, err := dispatch.New(opts...)
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

// middlewares returns the chain, outermost first: logging sees the total
// time including retries, and each attempt gets its own timeout.
func (a *app) middlewares() []dispatch.Middleware {
	level := middleware.LogLevelStandard
	if a.verbose {
		level = middleware.LogLevelVerbose
	}
	chain := []dispatch.Middleware{middleware.NewLogging(a.logger, level)}
	if a.cfg.MaxRetries > 0 {
		chain = append(chain, middleware.NewRetry(middleware.RetryConfig{MaxRetries: a.cfg.MaxRetries}))
	}
	return append(chain, middleware.NewTimeout(a.cfg.RequestTimeout))
}

// openCache opens the configured response cache. A nil store disables
// caching.
func (a *app) openCache(ctx context.Context) (cache.Store, error) {
	settings := a.cfg.Cache
	switch settings.Backend {
	case "", config.CacheNone:
		return nil, nil

	case config.CacheMemory:
		return memstore.New(), nil

	case config.CacheSQLite:
		store, err := sqlitestore.Open(ctx, settings.DSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("closing sqlite cache", "error", err)
			}
		})
		return store, nil

	case config.CachePostgres:
		pool, err := pgxpool.New(ctx, settings.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres cache: %w", err)
		}
		a.onClose(pool.Close)
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.CacheMongo:
		db, err := mongostore.Connect(ctx, settings.DSN, settings.Database)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { disconnect(db.Client(), a.logger) })
		return mongostore.NewResponseStore(db.Collection(mongostore.DefaultResponseCollection)), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", settings.Backend)
}

// historyStore connects to the configured session history database, or
// returns nil when persistence is off.
func (a *app) historyStore(ctx context.Context) (*mongostore.HistoryStore, error) {
	if a.cfg.History.URI == "" {
		return nil, nil
	}
	db, err := mongostore.Connect(ctx, a.cfg.History.URI, a.cfg.History.Database)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { disconnect(db.Client(), a.logger) })
	return mongostore.NewHistoryStore(db.Collection(mongostore.DefaultHistoryCollection)), nil
}

// serveBridge serves the hub on the configured address until ctx is done.
func (a *app) serveBridge(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.hub.Connected() {
			http.Error(w, "no browser client", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	server := &http.Server{Addr: a.cfg.Bridge.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.logger.Info("bridge listening", "address", "ws://"+a.cfg.Bridge.Listen+"/ws")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close waits for pending cache writes, then releases connections in
// reverse order.
func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Flush()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
