package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	cr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/juancollazo-ch/sku-price-scanner/internal/api"
	"github.com/juancollazo-ch/sku-price-scanner/internal/breaker"
	"github.com/juancollazo-ch/sku-price-scanner/internal/cache"
	"github.com/juancollazo-ch/sku-price-scanner/internal/catalog"
	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	"github.com/juancollazo-ch/sku-price-scanner/internal/compare"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/kv"
	"github.com/juancollazo-ch/sku-price-scanner/internal/lock"
	"github.com/juancollazo-ch/sku-price-scanner/internal/logging"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models/serviceresponse"
	"github.com/juancollazo-ch/sku-price-scanner/internal/ratelimit"
	"github.com/juancollazo-ch/sku-price-scanner/internal/retry"
	"github.com/juancollazo-ch/sku-price-scanner/internal/validator"
)

const (
	reasonInProgress   = "scan already in progress for this sku, serving last known data"
	reasonCircuitOpen  = "extraction service unavailable (circuit open), serving last known data"
	reasonAllFailed    = "all vendors failed, serving last known data"
	defaultTopSkus     = 10
	defaultRecentItems = 20
)

// Recorder recibe eventos de analytics sin bloquear.
type Recorder interface {
	Record(event models.AnalyticsEvent)
	Stats(ctx context.Context, topN, recentN int) (*models.Stats, error)
}

// Notifier publica cambios significativos. Puede ser un no-op.
type Notifier interface {
	Notify(result *models.ScanResult) bool
}

// Deps son los colaboradores del scanner. Todos se crean una vez por proceso.
type Deps struct {
	Store     kv.Store
	Limiter   *ratelimit.Limiter
	Catalog   *catalog.Catalog
	Cache     *cache.Store
	Locker    *lock.Locker
	Breaker   *breaker.Breaker
	Extractor api.Extractor
	Recorder  Recorder
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *zap.Logger
}

type Options struct {
	RetryPolicy retry.Policy
	FreshWindow time.Duration
	LockTTL     time.Duration
	// FetchDeadline acota la fase de extracción para que termine antes de
	// que expire el lock.
	FetchDeadline  time.Duration
	MaxConcurrency int
	Version        string
}

// Scanner coordina rate limit, cache, lock, breaker, retry y extracción para
// un scan de SKU.
type Scanner struct {
	Deps
	opts      Options
	validator *validator.RequestValidator
}

func NewScanner(d Deps, o Options) *Scanner {
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.L()
	}
	if o.FreshWindow <= 0 {
		o.FreshWindow = cache.DefaultFreshWindow
	}
	if o.LockTTL <= 0 {
		o.LockTTL = d.Locker.TTL()
	}
	if o.FetchDeadline <= 0 || o.FetchDeadline > o.LockTTL {
		o.FetchDeadline = o.LockTTL
	}
	if o.RetryPolicy.MaxAttempts <= 0 {
		o.RetryPolicy = retry.DefaultPolicy()
	}
	return &Scanner{Deps: d, opts: o, validator: validator.Get()}
}

// Scan devuelve el resultado para sku. Los errores son AppError de tipo
// Validation, RateLimited, InProgressNoData o UpstreamUnavailable.
func (s *Scanner) Scan(ctx context.Context, clientID, rawSKU string) (*models.ScanResult, error) {
	start := s.Clock.Now()

	// 1) Rate limit por cliente
	if err := s.Limiter.Check(clientID); err != nil {
		s.Logger.Info("scan rate limited", zap.String("client_id", clientID))
		return nil, err
	}

	// 2) SKU válido y presente en el catálogo
	sku, err := s.validator.NormalizeSKU(rawSKU)
	if err != nil {
		return nil, err
	}
	product, ok := s.Catalog.Lookup(sku)
	if !ok {
		return nil, apperrors.ErrInvalidSku(fmt.Sprintf("unknown sku %s", sku))
	}

	ctx = logging.WithLoggingFields(ctx, clientID, sku)
	logger := logging.FromContext(ctx, s.Logger)

	// 3) Cache: un hit fresco no toca el upstream
	previous := s.readCache(ctx, logger, sku)
	if cache.IsFresh(previous, s.opts.FreshWindow, s.Clock.Now()) {
		out := previous.Clone()
		out.Cached = true
		s.record(start, out, true, true, "")
		logger.Info("serving fresh cached scan", zap.Time("scanned_at", out.ScannedAt))
		return out, nil
	}

	// Breaker abierto: sin fetch posible no se toma el lock
	if s.Breaker.IsOpen() {
		logger.Warn("circuit open, skipping live fetch")
		return s.fallback(start, sku, previous, reasonCircuitOpen,
			apperrors.ErrUpstreamUnavailable("extraction circuit is open", nil))
	}

	// 4) Lock por SKU durante el fetch y la escritura
	var result *models.ScanResult
	err = s.Locker.WithLock(ctx, sku, s.opts.LockTTL, func(ctx context.Context, _ *lock.Lease) error {
		var scanErr error
		result, scanErr = s.liveScan(ctx, logger, start, product, previous)
		return scanErr
	})
	if apperrors.IsKind(err, apperrors.KindLockContention) {
		return s.onLockHeld(ctx, logger, start, sku, previous)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// liveScan corre con el lock tomado: fetch, cambios, cache y notificación.
func (s *Scanner) liveScan(ctx context.Context, logger *zap.Logger, start time.Time, product catalog.Product, previous *models.ScanResult) (*models.ScanResult, error) {
	sku := product.SKU

	// 5) Fetch de todos los vendors (all-settled)
	result := s.fetchAll(ctx, logger, product)
	if len(result.Vendors) == 0 && cr.Is(ctx.Err(), context.Canceled) {
		logger.Info("scan cancelled by caller", zap.Duration("latency", s.Clock.Now().Sub(start)))
		return nil, cr.Wrap(ctx.Err(), "scan cancelled")
	}
	if len(result.Vendors) == 0 {
		logger.Error("all vendors failed", zap.Int("vendors", len(product.Vendors)))
		return s.fallback(start, sku, previous, reasonAllFailed,
			apperrors.ErrUpstreamUnavailable(summarize(result.Errors), nil))
	}

	// 6) Cambios contra el último resultado conocido
	annotated := compare.DetectChanges(result, previous)

	// 7) Write-through: un fallo del store no invalida el scan
	s.writeCache(ctx, logger, sku, annotated)

	// 8) Fire-and-forget
	s.record(start, annotated, true, false, summarize(annotated.Errors))
	if s.Notifier != nil && compare.HasSignificantChanges(annotated) {
		s.Notifier.Notify(annotated)
	}

	logger.Info("scan completed",
		zap.Int("vendors_ok", len(annotated.Vendors)),
		zap.Int("vendors_failed", len(annotated.Errors)),
		zap.Duration("latency", s.Clock.Now().Sub(start)),
	)
	return annotated, nil
}

// onLockHeld: otro scan está en curso. Se relee el cache por si el dueño
// del lock ya escribió.
func (s *Scanner) onLockHeld(ctx context.Context, logger *zap.Logger, start time.Time, sku string, previous *models.ScanResult) (*models.ScanResult, error) {
	if latest := s.readCache(ctx, logger, sku); latest != nil {
		previous = latest
	}

	if cache.IsFresh(previous, s.opts.FreshWindow, s.Clock.Now()) {
		out := previous.Clone()
		out.Cached = true
		s.record(start, out, true, true, "")
		return out, nil
	}

	logger.Info("lock held by another scan")
	if previous == nil {
		err := apperrors.ErrInProgressNoData(sku)
		s.record(start, &models.ScanResult{SKU: sku}, false, false, err.Message)
		return nil, err
	}
	return s.fallback(start, sku, previous, reasonInProgress, nil)
}

// fallback sirve el último dato conocido marcado como stale o, si no hay,
// devuelve hardErr.
func (s *Scanner) fallback(start time.Time, sku string, previous *models.ScanResult, reason string, hardErr error) (*models.ScanResult, error) {
	if previous == nil {
		if hardErr == nil {
			hardErr = apperrors.ErrInProgressNoData(sku)
		}
		s.record(start, &models.ScanResult{SKU: sku}, false, false, hardErr.Error())
		return nil, hardErr
	}

	out := previous.Clone()
	out.Cached = false
	out.Stale = true
	out.StaleReason = reason
	s.record(start, out, true, true, "")
	return out, nil
}

type vendorOutcome struct {
	result models.VendorResult
	err    error
}

// fetchAll consulta todos los vendors en paralelo. Un fallo no cancela a los
// demás. El orden de salida es el del catálogo.
func (s *Scanner) fetchAll(ctx context.Context, logger *zap.Logger, product catalog.Product) *models.ScanResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchDeadline)
	defer cancel()

	outcomes := make([]vendorOutcome, len(product.Vendors))

	var g errgroup.Group
	limit := s.opts.MaxConcurrency
	if limit <= 0 || limit > len(product.Vendors) {
		limit = len(product.Vendors)
	}
	g.SetLimit(limit)

	for i, vendor := range product.Vendors {
		g.Go(func() error {
			res, err := s.fetchVendor(fetchCtx, product, vendor)
			outcomes[i] = vendorOutcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &models.ScanResult{
		SKU:       product.SKU,
		Name:      product.Name,
		ScannedAt: s.Clock.Now().UTC(),
		Vendors:   []models.VendorResult{},
	}
	for i, o := range outcomes {
		vendor := product.Vendors[i]
		if o.err != nil {
			logger.Warn("vendor fetch failed",
				zap.String("vendor", vendor.Name),
				zap.String("kind", apperrors.KindOf(o.err).String()),
				zap.Error(o.err),
			)
			result.Errors = append(result.Errors, models.VendorError{
				Vendor: vendor.Name,
				Error:  publicMessage(o.err),
				Kind:   apperrors.KindOf(o.err).String(),
			})
			continue
		}
		result.Vendors = append(result.Vendors, o.result)
	}
	return result
}

// fetchVendor: Breaker(Retry(Extract)). El breaker cuenta un fallo por vendor
// una vez agotados los reintentos.
func (s *Scanner) fetchVendor(ctx context.Context, product catalog.Product, vendor catalog.Vendor) (models.VendorResult, error) {
	req := api.ExtractionRequest{
		Vendor: vendor.Name,
		URL:    vendor.URL,
		Goal:   product.Goal(vendor),
	}

	return breaker.Do(s.Breaker, func() (models.VendorResult, error) {
		var out models.VendorResult
		err := retry.WithRetry(ctx, s.opts.RetryPolicy, func(ctx context.Context) error {
			res, err := s.Extractor.Extract(ctx, req)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
		return out, err
	})
}

// readCache degrada a miss si el store falla o la entrada está corrupta.
func (s *Scanner) readCache(ctx context.Context, logger *zap.Logger, sku string) *models.ScanResult {
	res, err := s.Cache.Get(ctx, sku)
	if err != nil {
		logger.Warn("cache read failed, continuing without cache", zap.Error(err))
		return nil
	}
	return res
}

func (s *Scanner) writeCache(ctx context.Context, logger *zap.Logger, sku string, result *models.ScanResult) {
	if err := s.Cache.Set(ctx, sku, result); err != nil {
		logger.Warn("cache write failed", zap.Error(err))
	}
	if err := s.Cache.AppendHistory(ctx, sku, result); err != nil {
		logger.Warn("history append failed", zap.Error(err))
	}
}

func (s *Scanner) record(start time.Time, result *models.ScanResult, success, cached bool, errMsg string) {
	if s.Recorder == nil {
		return
	}
	event := models.AnalyticsEvent{
		SKU:            result.SKU,
		Success:        success,
		Cached:         cached,
		ResponseTimeMs: s.Clock.Now().Sub(start).Milliseconds(),
		Timestamp:      s.Clock.Now().UTC(),
		ErrorMessage:   errMsg,
	}
	if success {
		n := len(result.Vendors)
		event.VendorCount = &n
	}
	s.Recorder.Record(event)
}

// History devuelve los últimos scans guardados, el más reciente primero.
func (s *Scanner) History(ctx context.Context, rawSKU string, limit int) (*serviceresponse.HistoryResponse, error) {
	sku, err := s.validator.NormalizeSKU(rawSKU)
	if err != nil {
		return nil, err
	}
	if _, ok := s.Catalog.Lookup(sku); !ok {
		return nil, apperrors.ErrInvalidSku(fmt.Sprintf("unknown sku %s", sku))
	}

	history, err := s.Cache.History(ctx, sku, limit)
	if err != nil {
		return nil, err
	}
	return &serviceresponse.HistoryResponse{SKU: sku, Count: len(history), History: history}, nil
}

func (s *Scanner) Stats(ctx context.Context) (*models.Stats, error) {
	if s.Recorder == nil {
		return &models.Stats{TopSkus: []models.SkuPopularity{}, RecentActivity: []models.ActivityEntry{}}, nil
	}
	return s.Recorder.Stats(ctx, defaultTopSkus, defaultRecentItems)
}

// Health reporta "ok" o "degraded": un breaker abierto o un store caído no
// tumban el servicio, pero se reflejan aquí.
func (s *Scanner) Health(ctx context.Context) serviceresponse.HealthResponse {
	h := serviceresponse.HealthResponse{
		Status:  "ok",
		Service: "sku-price-scanner",
		Version: s.opts.Version,
		Breaker: s.Breaker.Metrics(),
		Store:   "ok",
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(pingCtx); err != nil {
		h.Store = "unavailable"
		h.Status = "degraded"
	}
	if h.Breaker.State == breaker.StateOpen {
		h.Status = "degraded"
	}
	return h
}

func publicMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Details != "" {
			return appErr.Message + ": " + appErr.Details
		}
		return appErr.Message
	}
	return err.Error()
}

func summarize(errs []models.VendorError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Vendor+": "+e.Error)
	}
	return strings.Join(parts, "; ")
}
