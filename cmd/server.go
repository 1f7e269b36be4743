package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/juancollazo-ch/sku-price-scanner/internal/analytics"
	"github.com/juancollazo-ch/sku-price-scanner/internal/api"
	"github.com/juancollazo-ch/sku-price-scanner/internal/breaker"
	"github.com/juancollazo-ch/sku-price-scanner/internal/cache"
	"github.com/juancollazo-ch/sku-price-scanner/internal/catalog"
	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	"github.com/juancollazo-ch/sku-price-scanner/internal/config"
	"github.com/juancollazo-ch/sku-price-scanner/internal/handlers"
	"github.com/juancollazo-ch/sku-price-scanner/internal/kv"
	"github.com/juancollazo-ch/sku-price-scanner/internal/lock"
	"github.com/juancollazo-ch/sku-price-scanner/internal/ratelimit"
	"github.com/juancollazo-ch/sku-price-scanner/internal/service"
	"github.com/juancollazo-ch/sku-price-scanner/internal/webhook"
	"github.com/juancollazo-ch/sku-price-scanner/internal/worker"
)

const (
	serviceVersion = "1.0.0"
	// margen sobre el TTL del lock para responder después del peor scan
	responseMargin = 15 * time.Second
)

// Convertir niveles de Zap a severidad de GCP Cloud Logging
func zapLevelToGCPSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("EMERGENCY")
	default:
		enc.AppendString("DEFAULT")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()

	// Configurar para Cloud Logging (JSON estructurado)
	zcfg.EncoderConfig.MessageKey = "message"
	zcfg.EncoderConfig.LevelKey = "severity"
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeLevel = zapLevelToGCPSeverity
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}

// MAIN: inicializa servidor, workers y dependencias
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Reemplazar logger global
	zap.ReplaceGlobals(logger)

	// precios como números en JSON, no strings
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	realClock := clock.NewRealClock()

	var store kv.Store
	if cfg.Redis.Addr != "" {
		store = kv.NewRedisStore(kv.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		zap.L().Info("Using Redis store", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = kv.NewMemoryStore(realClock)
		zap.L().Warn("REDIS_ADDR not set, using in-memory store (single instance only)")
	}
	defer store.Close()

	products, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		zap.L().Error("Failed to load catalog", zap.Error(err))
		os.Exit(1)
	}

	extractor, err := api.NewExtractionClient(api.ClientConfig{
		BaseURL: cfg.Extraction.BaseURL,
		APIKey:  cfg.Extraction.APIKey,
		Timeout: cfg.Extraction.Timeout,
		RPS:     cfg.Extraction.RPS,
		Burst:   cfg.Extraction.Burst,
	}, api.WithLogger(logger))
	if err != nil {
		zap.L().Error("Failed to start extraction client", zap.Error(err))
		os.Exit(1)
	}

	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		zap.L().Error("Invalid trusted proxies", zap.Error(err))
		os.Exit(1)
	}

	lockTTL := cfg.LockTTL()

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests,
		ratelimit.WithClock(realClock), ratelimit.WithLogger(logger))
	go limiter.Run(ctx, cfg.RateLimit.SweepInterval)

	// el pool no usa ctx: tiene que seguir vivo mientras el server drena requests
	pool := worker.NewWorkerPool(cfg.Analytics.Workers, cfg.Analytics.QueueSize, logger)
	pool.Start(context.Background())

	deps := service.Deps{
		Store:   store,
		Limiter: limiter,
		Catalog: products,
		Cache: cache.New(store,
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithHistorySize(cfg.Cache.HistorySize),
			cache.WithLogger(logger)),
		Locker: lock.New(store,
			lock.WithTTL(lockTTL),
			lock.WithClock(realClock),
			lock.WithLogger(logger)),
		Breaker:   breaker.New(cfg.BreakerSettings(logger)),
		Extractor: extractor,
		Recorder:  analytics.New(store, pool, analytics.WithLogger(logger)),
		Clock:     realClock,
		Logger:    logger,
	}
	if sender := webhook.NewSender(cfg.Webhook.URL, pool, webhook.WithLogger(logger)); sender != nil {
		deps.Notifier = sender
	}

	scanner := service.NewScanner(deps, service.Options{
		RetryPolicy:    cfg.RetryPolicy(),
		FreshWindow:    cfg.Cache.FreshWindow,
		LockTTL:        lockTTL,
		FetchDeadline:  cfg.FetchDeadline(),
		MaxConcurrency: cfg.Scan.MaxConcurrency,
		Version:        serviceVersion,
	})

	scanTimeout := lockTTL + responseMargin

	// HTTP ROUTES
	r := chi.NewRouter()
	r.Use(handlers.ClientIP(trustedProxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(handlers.WithLogging)
	handlers.NewScanHandler(scanner, scanTimeout).Routes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: scanTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	zap.L().Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.Int("catalog_skus", len(products.Products())),
		zap.Duration("lock_ttl", lockTTL),
		zap.Duration("fetch_deadline", cfg.FetchDeadline()),
		zap.Bool("webhook_enabled", deps.Notifier != nil),
		zap.Int("trusted_proxies", len(trustedProxies)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// GRACEFUL SHUTDOWN
	select {
	case <-ctx.Done():
		zap.L().Info("Shutting down gracefully...")
	case err := <-errCh:
		if err != nil {
			zap.L().Error("Server stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Graceful shutdown failed", zap.Error(err))
	}

	// drena analytics y webhooks pendientes antes de cerrar el store
	zap.L().Info("Draining worker pool", zap.Int("pending_tasks", pool.Pending()))
	pool.Stop()

	zap.L().Info("Server exited")
}
