// Package analytics agrega métricas de uso del scanner sobre el kv store.
// Las escrituras son best-effort y nunca afectan la respuesta del scan.
package analytics

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/kv"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/worker"
)

const (
	keyTotalScans      = "analytics:total_scans"
	keySuccessfulScans = "analytics:successful_scans"
	keyFailedScans     = "analytics:failed_scans"
	keyCacheHits       = "analytics:cache_hits"
	keyCacheMisses     = "analytics:cache_misses"
	keyResponseTimes   = "analytics:response_times"
	keyPopularSkus     = "analytics:popular_skus"
	keyRecentActivity  = "analytics:recent_activity"

	maxResponseSamples = 100
	maxRecentActivity  = 50

	writeTimeout = 5 * time.Second
)

// Enqueuer es la parte del worker pool que usa el recorder.
type Enqueuer interface {
	Enqueue(task worker.Task) bool
}

type Recorder struct {
	store  kv.Store
	pool   Enqueuer
	logger *zap.Logger
}

type Option func(*Recorder)

func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(store kv.Store, pool Enqueuer, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		pool:   pool,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record encola el evento y vuelve enseguida. Si la cola está llena el
// evento se pierde.
func (r *Recorder) Record(event models.AnalyticsEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("analytics record panicked", zap.Any("panic", rec))
		}
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	task := worker.Task{
		Name: "analytics:" + event.SKU,
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			return r.Write(ctx, event)
		},
	}
	if !r.pool.Enqueue(task) {
		r.logger.Warn("analytics event dropped", zap.String("sku", event.SKU))
	}
}

// Write aplica el evento en un único batch. Es la parte síncrona de Record.
func (r *Recorder) Write(ctx context.Context, event models.AnalyticsEvent) error {
	entry := models.ActivityEntry{
		ID:             uuid.NewString(),
		SKU:            event.SKU,
		Success:        event.Success,
		Cached:         event.Cached,
		ResponseTimeMs: event.ResponseTimeMs,
		Timestamp:      event.Timestamp,
		VendorCount:    event.VendorCount,
		Error:          event.ErrorMessage,
	}
	activity, err := json.Marshal(entry)
	if err != nil {
		return cr.Wrap(err, "marshal activity entry")
	}

	err = r.store.Batch(ctx, func(b kv.Batch) {
		b.Incr(keyTotalScans)
		if event.Success {
			b.Incr(keySuccessfulScans)
		} else {
			b.Incr(keyFailedScans)
		}
		if event.Cached {
			b.Incr(keyCacheHits)
		} else {
			b.Incr(keyCacheMisses)
		}

		b.LPush(keyResponseTimes, strconv.FormatInt(event.ResponseTimeMs, 10))
		b.LTrim(keyResponseTimes, 0, maxResponseSamples-1)

		b.ZIncrBy(keyPopularSkus, 1, event.SKU)

		b.LPush(keyRecentActivity, string(activity))
		b.LTrim(keyRecentActivity, 0, maxRecentActivity-1)
	})
	if err != nil {
		r.logger.Warn("failed to record analytics event",
			zap.String("sku", event.SKU),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Stats calcula el agregado actual. topN y recentN acotan el ranking y la
// actividad reciente.
func (r *Recorder) Stats(ctx context.Context, topN, recentN int) (*models.Stats, error) {
	var (
		stats models.Stats
		err   error
	)

	counters := []struct {
		key string
		dst *int64
	}{
		{keyTotalScans, &stats.TotalScans},
		{keySuccessfulScans, &stats.SuccessfulScans},
		{keyFailedScans, &stats.FailedScans},
		{keyCacheHits, &stats.CacheHits},
		{keyCacheMisses, &stats.CacheMisses},
	}
	for _, c := range counters {
		if *c.dst, err = r.counter(ctx, c.key); err != nil {
			return nil, err
		}
	}

	stats.SuccessRate = ratio(stats.SuccessfulScans, stats.TotalScans)
	stats.CacheHitRate = ratio(stats.CacheHits, stats.CacheHits+stats.CacheMisses)

	samples, err := r.store.LRange(ctx, keyResponseTimes, 0, -1)
	if err != nil {
		return nil, err
	}
	stats.AvgResponseTimeMs, stats.ResponseTimeSamples = r.mean(samples)

	stats.TopSkus = []models.SkuPopularity{}
	if topN > 0 {
		top, err := r.store.ZRange(ctx, keyPopularSkus, 0, int64(topN-1), true)
		if err != nil {
			return nil, err
		}
		for _, m := range top {
			stats.TopSkus = append(stats.TopSkus, models.SkuPopularity{SKU: m.Member, Score: m.Score})
		}
	}

	stats.RecentActivity = []models.ActivityEntry{}
	if recentN > 0 {
		raw, err := r.store.LRange(ctx, keyRecentActivity, 0, int64(recentN-1))
		if err != nil {
			return nil, err
		}
		for _, s := range raw {
			var entry models.ActivityEntry
			if err := json.Unmarshal([]byte(s), &entry); err != nil {
				r.logger.Warn("skipping corrupt activity entry", zap.Error(err))
				continue
			}
			stats.RecentActivity = append(stats.RecentActivity, entry)
		}
	}

	return &stats, nil
}

func (r *Recorder) counter(ctx context.Context, key string) (int64, error) {
	raw, err := r.store.Get(ctx, key)
	if cr.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Warn("non-numeric analytics counter", zap.String("key", key), zap.String("value", raw))
		return 0, nil
	}
	return n, nil
}

// mean descarta muestras no numéricas en vez de fallar.
func (r *Recorder) mean(samples []string) (float64, int) {
	var (
		sum   float64
		count int
	)
	for _, s := range samples {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			r.logger.Debug("skipping non-numeric response time sample", zap.String("value", s))
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
