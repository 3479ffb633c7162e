// Package app wires the ArqonBus server runtime: config, logging, the
// registry/rooms/router/CASIL/history/command core, the WebSocket
// gateway, and HTTP routes.
//
// It is intentionally small and deterministic to keep behavior
// predictable: New performs all wiring up front and returns a fully
// constructed App, or an error.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/novelbytelabs/arqonbus/internal/casil"
	"github.com/novelbytelabs/arqonbus/internal/command"
	"github.com/novelbytelabs/arqonbus/internal/health"
	"github.com/novelbytelabs/arqonbus/internal/history"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/novelbytelabs/arqonbus/internal/router"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
	"github.com/novelbytelabs/arqonbus/internal/ws"
)

// App is the ArqonBus server runtime: it owns HTTP server wiring and the
// message-bus core's lifecycle.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	health *health.Signal

	gateway       *ws.Gateway
	router        *router.Router
	telemetrySink *telemetry.ChannelSink
	telemetryStop chan struct{}
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, auth ws.Authenticator) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	signal := health.NewSignal()

	var dbPool *pgxpool.Pool
	var dbEnabled bool
	var snapshot rooms.SnapshotStore

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("app: connect database: %w", err)
		}
		dbPool = pool
		dbEnabled = true
		snapshot = rooms.NewPostgresSnapshotStore(pool, cfg.HistorySchema)
	}

	var roomStore *rooms.Store
	if snapshot != nil {
		st, err := rooms.NewWithSnapshot(log, snapshot)
		if err != nil {
			if dbPool != nil {
				dbPool.Close()
			}
			return nil, fmt.Errorf("app: rehydrate rooms snapshot: %w", err)
		}
		roomStore = st
	} else {
		roomStore = rooms.New(log)
	}

	clients := registry.New(log, registry.DefaultConfig(), metrics)
	rt := router.New(log, clients, roomStore, metrics, router.DefaultConfig())

	casilCfg := casil.DefaultConfig()
	if cfg.CASILConfigPath != "" {
		loaded, err := casil.LoadConfigFile(cfg.CASILConfigPath)
		if err != nil {
			rt.Stop()
			if dbPool != nil {
				dbPool.Close()
			}
			return nil, fmt.Errorf("app: load casil config: %w", err)
		}
		casilCfg = loaded
	}
	telemetrySink := telemetry.NewChannelSink(log, cfg.CASILTelemetryBufferSize)
	engine, err := casil.New(casilCfg, casil.JSONDecoder{}, telemetrySink, log)
	if err != nil {
		rt.Stop()
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, fmt.Errorf("app: build casil engine: %w", err)
	}

	durable, err := newHistoryStore(cfg, dbPool, log)
	if err != nil {
		rt.Stop()
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	var histStore history.Store
	if durable != nil {
		fb := history.NewMemoryRing(cfg.HistoryRingSize, history.DropOldest)
		histStore = history.NewFailoverStore(log, durable, fb, signal)
	} else {
		histStore = history.NewMemoryRing(cfg.HistoryRingSize, history.DropOldest)
	}
	recorder := history.NewRecorder(histStore, history.DefaultRecorderConfig())

	exec := command.New(log, clients, roomStore, rt, histStore)

	gw := ws.New(log, ws.DefaultConfig(), auth, clients, roomStore, rt, engine, recorder, exec, metrics)

	return &App{
		cfg:           cfg,
		log:           log,
		dbPool:        dbPool,
		dbEnabled:     dbEnabled,
		health:        signal,
		gateway:       gw,
		router:        rt,
		telemetrySink: telemetrySink,
		telemetryStop: make(chan struct{}),
	}, nil
}

// newHistoryStore builds the durable backend named by cfg.HistoryBackend.
// A nil, nil return means "memory only" (no durable backend to wrap in a
// FailoverStore).
func newHistoryStore(cfg Config, dbPool *pgxpool.Pool, log Logger) (history.Store, error) {
	switch cfg.HistoryBackend {
	case HistoryBackendMemory, "":
		return nil, nil
	case HistoryBackendPostgres:
		if dbPool == nil {
			return nil, errors.New("app: history backend postgres requires ARQON_DATABASE_URL")
		}
		return history.NewPostgresStore(dbPool, cfg.HistorySchema), nil
	case HistoryBackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("app: history backend redis requires ARQON_REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		log.Info("history.redis.configured", "addr", cfg.RedisAddr)
		return history.NewRedisStream(client, history.RedisStreamConfig{}), nil
	default:
		return nil, fmt.Errorf("app: unknown history backend %q", cfg.HistoryBackend)
	}
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.health, a.gateway)

	handler := WithSecurityHeaders(WithCORS(mux, a.cfg, a.log))
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(handler, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "history_backend", a.cfg.HistoryBackend)

	go a.telemetrySink.Run(a.telemetryStop)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	close(a.telemetryStop)
	a.router.Stop()
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
