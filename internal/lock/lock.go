package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/kv"
)

const DefaultTTL = 120 * time.Second

// releaseTimeout acota el release cuando el contexto del request ya expiró.
const releaseTimeout = 5 * time.Second

func key(sku string) string { return "lock:scan:" + sku }

// Lease representa un lock adquirido. El token identifica al dueño: release
// solo borra la clave si sigue conteniendo este token.
type Lease struct {
	SKU        string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt es el instante en que el store libera el lock por TTL.
func (l *Lease) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}

type Locker struct {
	kv     kv.Store
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

type Option func(*Locker)

func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

func WithClock(c clock.Clock) Option {
	return func(l *Locker) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

func New(store kv.Store, opts ...Option) *Locker {
	l := &Locker{
		kv:     store,
		ttl:    DefaultTTL,
		clock:  clock.NewRealClock(),
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	return l
}

// TTL devuelve el TTL por defecto del locker.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire intenta tomar el lock del SKU (set-if-absent atómico). Un fallo del
// store se trata como contención: nunca se asume que el lock está libre.
func (l *Locker) Acquire(ctx context.Context, sku string, ttl time.Duration) (*Lease, bool) {
	if ttl <= 0 {
		ttl = l.ttl
	}
	lease := &Lease{
		SKU:        sku,
		Token:      uuid.NewString(),
		AcquiredAt: l.clock.Now(),
		TTL:        ttl,
	}

	ok, err := l.kv.SetIfAbsent(ctx, key(sku), lease.Token, ttl)
	if err != nil {
		l.logger.Warn("lock acquire failed, treating as contention",
			zap.String("sku", sku),
			zap.Error(err),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return lease, true
}

// Release libera el lock si todavía es nuestro. Liberar un lock ya liberado,
// expirado o tomado por otro no es un error.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	deleted, err := l.kv.DeleteIfEquals(ctx, key(lease.SKU), lease.Token)
	if err != nil {
		l.logger.Warn("lock release failed, lock will expire by TTL",
			zap.String("sku", lease.SKU),
			zap.Time("expires_at", lease.ExpiresAt()),
			zap.Error(err),
		)
		return err
	}
	if !deleted {
		l.logger.Debug("lock already released or expired", zap.String("sku", lease.SKU))
	}
	return nil
}

// WithLock ejecuta fn con el lock tomado y lo libera en cualquier salida,
// incluido un panic. Si el lock está ocupado devuelve ErrLockContention sin
// ejecutar fn.
func (l *Locker) WithLock(ctx context.Context, sku string, ttl time.Duration, fn func(ctx context.Context, lease *Lease) error) error {
	lease, ok := l.Acquire(ctx, sku, ttl)
	if !ok {
		return apperrors.ErrLockContention(sku)
	}
	defer func() {
		_ = l.Release(ctx, lease)
	}()

	return fn(ctx, lease)
}
