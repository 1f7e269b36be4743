package retry

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

// Policy define cuántas veces y con qué espera se reintenta una operación.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter es una fracción (0..1) del delay que se suma aleatoriamente.
	// 0 desactiva el jitter.
	Jitter float64

	// Retryable decide si un error consume otro intento. Por defecto
	// apperrors.IsRetryable.
	Retryable func(error) bool

	// Sleep permite sustituir la espera en tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy: 3 intentos, 2s/4s/8s sin jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// Delay devuelve la espera antes del intento attempt+1 (attempt empieza en 1),
// sin jitter: min(base * 2^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WorstCaseBackoff suma todas las esperas posibles entre intentos, incluyendo
// el jitter máximo.
func (p Policy) WorstCaseBackoff() time.Duration {
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		d := p.Delay(i)
		total += d + time.Duration(float64(d)*p.Jitter)
	}
	return total
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = apperrors.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// WithRetry ejecuta fn hasta MaxAttempts veces. Los errores no reintentables
// se devuelven de inmediato; agotados los intentos se devuelve el último
// error tal cual, sin envolver.
func WithRetry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		// Verificar si el context expiró
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !p.Retryable(err) {
			return err
		}

		// No hacer sleep en el último intento
		if attempt == p.MaxAttempts {
			break
		}

		if sleepErr := p.Sleep(ctx, p.backoff(attempt)); sleepErr != nil {
			return err
		}
	}

	return err
}

func (p Policy) backoff(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Int63n(int64(float64(d)*p.Jitter) + 1))
	}
	return d
}

// Sleep con context awareness
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
