// Package kv define el contrato del key-value store (cache, lock, contadores)
// y sus implementaciones: Redis para producción y memoria para desarrollo/tests.
package kv

import (
	"context"
	"time"

	cr "github.com/cockroachdb/errors"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

// ErrNotFound indica clave inexistente o expirada. No es un fallo del store.
var ErrNotFound = cr.New("kv: key not found")

// ZMember es un miembro de sorted set con su score.
type ZMember struct {
	Member string
	Score  float64
}

// Batch agrupa escrituras que se aplican juntas (MULTI/EXEC en Redis).
type Batch interface {
	Incr(key string)
	LPush(key, value string)
	LTrim(key string, start, stop int64)
	ZIncrBy(key string, incr float64, member string)
}

// Store es el contrato consumido por cache, lock y analytics.
// Los índices negativos siguen la semántica de Redis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZIncrBy(ctx context.Context, key string, incr float64, member string) (float64, error)
	ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ZMember, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error

	LPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	Batch(ctx context.Context, fn func(b Batch)) error

	Ping(ctx context.Context) error
	Close() error
}

// unavailable marca un error de conectividad como StoreUnavailable.
func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.ErrStoreUnavailable(op, cr.Wrapf(err, "kv %s %q", op, key))
}

// IsUnavailable es true si el error es un fallo del store (no un ErrNotFound).
func IsUnavailable(err error) bool {
	return apperrors.IsKind(err, apperrors.KindStoreUnavailable)
}

// normalizeRange convierte índices estilo Redis a [lo, hi) sobre n elementos.
func normalizeRange(start, stop int64, n int) (int, int, bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if size == 0 || start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}
