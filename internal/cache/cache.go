package cache

import (
	"context"
	"encoding/json"
	"time"

	cr "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/kv"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
)

const (
	DefaultTTL         = time.Hour
	DefaultFreshWindow = 5 * time.Minute
	DefaultHistorySize = 10
)

func latestKey(sku string) string  { return "scan:latest:" + sku }
func historyKey(sku string) string { return "scan:history:" + sku }

// Store guarda el último resultado por SKU (con TTL) y un histórico acotado
// ordenado por timestamp.
type Store struct {
	kv          kv.Store
	ttl         time.Duration
	historySize int
	logger      *zap.Logger
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithHistorySize(n int) Option {
	return func(s *Store) { s.historySize = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:          store,
		ttl:         DefaultTTL,
		historySize: DefaultHistorySize,
		logger:      zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.historySize <= 0 {
		s.historySize = DefaultHistorySize
	}
	return s
}

// Get devuelve (nil, nil) si no hay entrada o expiró. Un error significa que
// el store no respondió o que la entrada está corrupta.
func (s *Store) Get(ctx context.Context, sku string) (*models.ScanResult, error) {
	raw, err := s.kv.Get(ctx, latestKey(sku))
	if cr.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res models.ScanResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		s.logger.Warn("discarding corrupt cache entry", zap.String("sku", sku), zap.Error(err))
		return nil, cr.Wrapf(err, "decoding cached scan for %s", sku)
	}
	return &res, nil
}

// Set guarda el resultado como último conocido. Los flags cached/stale no se
// persisten: se deciden en cada lectura.
func (s *Store) Set(ctx context.Context, sku string, result *models.ScanResult) error {
	raw, err := encode(result)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, latestKey(sku), raw, s.ttl)
}

// AppendHistory añade el resultado al histórico (score = scannedAt) y recorta
// a los historySize más recientes.
func (s *Store) AppendHistory(ctx context.Context, sku string, result *models.ScanResult) error {
	raw, err := encode(result)
	if err != nil {
		return err
	}
	key := historyKey(sku)
	score := float64(result.ScannedAt.UnixMilli())
	if err := s.kv.ZAdd(ctx, key, score, raw); err != nil {
		return err
	}
	return s.kv.ZRemRangeByRank(ctx, key, 0, int64(-s.historySize-1))
}

// History devuelve hasta limit entradas, la más reciente primero.
func (s *Store) History(ctx context.Context, sku string, limit int) ([]models.ScanResult, error) {
	if limit <= 0 || limit > s.historySize {
		limit = s.historySize
	}
	members, err := s.kv.ZRange(ctx, historyKey(sku), 0, int64(limit-1), true)
	if err != nil {
		return nil, err
	}

	out := make([]models.ScanResult, 0, len(members))
	for _, m := range members {
		var res models.ScanResult
		if err := json.Unmarshal([]byte(m.Member), &res); err != nil {
			s.logger.Warn("skipping corrupt history entry", zap.String("sku", sku), zap.Error(err))
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func encode(result *models.ScanResult) (string, error) {
	if result == nil {
		return "", cr.New("cache: nil scan result")
	}
	stored := result.Clone()
	stored.Cached = false
	stored.Stale = false
	stored.StaleReason = ""

	raw, err := json.Marshal(stored)
	if err != nil {
		return "", cr.Wrap(err, "encoding scan result")
	}
	return string(raw), nil
}

// IsFresh es una función pura del tiempo transcurrido: true si el resultado
// tiene menos de window de antigüedad en now.
func IsFresh(result *models.ScanResult, window time.Duration, now time.Time) bool {
	if result == nil || result.ScannedAt.IsZero() {
		return false
	}
	return now.Sub(result.ScannedAt) < window
}
