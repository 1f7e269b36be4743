package config

import (
	"net/netip"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/breaker"
	"github.com/juancollazo-ch/sku-price-scanner/internal/retry"
)

// -----------------------------------------------------------------------------
// Variables de entorno:
// - required: lo que cambia por entorno y no tiene un valor razonable (URL del servicio de extracción)
// - default: todo lo demás
// -----------------------------------------------------------------------------

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Redis      RedisConfig
	Extraction ExtractionConfig
	Retry      RetryConfig
	Breaker    BreakerConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Lock       LockConfig
	Analytics  AnalyticsConfig
	Catalog    CatalogConfig
	Webhook    WebhookConfig
	Scan       ScanConfig
}

// ServerConfig: TrustedProxies son CIDRs (o IPs) de los proxies cuyo
// X-Forwarded-For se acepta. Vacío: la identidad del cliente es la IP de la
// conexión.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8080"`
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// RedisConfig: Addr vacío usa el store en memoria (solo una instancia).
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Password string `envconfig:"REDIS_PASSWORD"`
}

type ExtractionConfig struct {
	BaseURL string        `envconfig:"EXTRACTION_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"EXTRACTION_API_KEY"`
	Timeout time.Duration `envconfig:"EXTRACTION_TIMEOUT" default:"90s"`
	RPS     float64       `envconfig:"EXTRACTION_RPS" default:"2"`
	Burst   int           `envconfig:"EXTRACTION_BURST" default:"4"`
}

type RetryConfig struct {
	MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`
	MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"8s"`
	Jitter      float64       `envconfig:"RETRY_JITTER" default:"0.2"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"3"`
	RecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"30s"`
	SuccessThreshold uint32        `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
}

type RateLimitConfig struct {
	Window        time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	MaxRequests   int           `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"5"`
	SweepInterval time.Duration `envconfig:"RATE_LIMIT_SWEEP_INTERVAL" default:"60s"`
}

type CacheConfig struct {
	TTL         time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	FreshWindow time.Duration `envconfig:"CACHE_FRESH_WINDOW" default:"5m"`
	HistorySize int           `envconfig:"CACHE_HISTORY_SIZE" default:"10"`
}

// LockConfig: TTL 0 usa el valor derivado de retry y timeout.
type LockConfig struct {
	TTL              time.Duration `envconfig:"LOCK_TTL" default:"0"`
	ProcessingBudget time.Duration `envconfig:"LOCK_PROCESSING_BUDGET" default:"10s"`
	SafetyMargin     time.Duration `envconfig:"LOCK_SAFETY_MARGIN" default:"30s"`
}

type AnalyticsConfig struct {
	Workers   int `envconfig:"ANALYTICS_WORKERS" default:"2"`
	QueueSize int `envconfig:"ANALYTICS_QUEUE_SIZE" default:"1000"`
}

type CatalogConfig struct {
	File string `envconfig:"CATALOG_FILE"`
}

type WebhookConfig struct {
	URL string `envconfig:"WEBHOOK_URL"`
}

type ScanConfig struct {
	MaxConcurrency int `envconfig:"SCAN_MAX_CONCURRENCY" default:"4"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, cr.Wrap(err, "failed to process env config")
	}
	return cfg, nil
}

// TrustedProxyPrefixes parsea TRUSTED_PROXIES. Una IP sin máscara es un
// prefijo de un solo host.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, cr.Wrapf(err, "invalid TRUSTED_PROXIES entry %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

// RetryPolicy traduce la configuración a la política del paquete retry.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

func (c Config) BreakerSettings(logger *zap.Logger) breaker.Settings {
	return breaker.Settings{
		Name:             "extraction",
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTimeout:  c.Breaker.RecoveryTimeout,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		Logger:           logger,
	}
}

// DerivedLockTTL cubre el peor caso de un vendor: todos los intentos con
// timeout, todas las esperas con jitter máximo, el procesamiento posterior y
// el margen de seguridad.
func (c Config) DerivedLockTTL() time.Duration {
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts)*c.Extraction.Timeout +
		c.RetryPolicy().WorstCaseBackoff() +
		c.Lock.ProcessingBudget +
		c.Lock.SafetyMargin
}

// LockTTL devuelve el TTL efectivo del lock. Un LOCK_TTL explícito menor que
// el derivado se sube al derivado.
func (c Config) LockTTL() time.Duration {
	derived := c.DerivedLockTTL()
	if c.Lock.TTL <= 0 {
		return derived
	}
	if c.Lock.TTL < derived {
		zap.L().Warn("LOCK_TTL below worst-case scan duration, using derived value",
			zap.Duration("configured", c.Lock.TTL),
			zap.Duration("derived", derived),
		)
		return derived
	}
	return c.Lock.TTL
}

// FetchDeadline es el tiempo máximo de la fase de extracción: termina antes
// de que expire el lock.
func (c Config) FetchDeadline() time.Duration {
	return c.LockTTL() - c.Lock.SafetyMargin
}

func NewTestConfig() Config {
	return Config{
		Server: ServerConfig{Port: "8889"},
		Log:    LogConfig{Level: "error"},
		Extraction: ExtractionConfig{
			BaseURL: "http://localhost:18080",
			Timeout: 2 * time.Second,
			RPS:     100,
			Burst:   100,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    40 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  100 * time.Millisecond,
			SuccessThreshold: 2,
		},
		RateLimit: RateLimitConfig{
			Window:        time.Minute,
			MaxRequests:   5,
			SweepInterval: time.Minute,
		},
		Cache: CacheConfig{
			TTL:         time.Hour,
			FreshWindow: 5 * time.Minute,
			HistorySize: 10,
		},
		Lock: LockConfig{
			ProcessingBudget: time.Second,
			SafetyMargin:     time.Second,
		},
		Analytics: AnalyticsConfig{Workers: 1, QueueSize: 100},
		Scan:      ScanConfig{MaxConcurrency: 4},
	}
}
