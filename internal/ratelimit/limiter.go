package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

// Limiter es un rate limiter de ventana deslizante por cliente.
// Se crea una única instancia por proceso.
type Limiter struct {
	window      time.Duration
	maxRequests int
	clock       clock.Clock
	logger      *zap.Logger

	mu      sync.Mutex
	clients map[string][]time.Time
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(window time.Duration, maxRequests int, opts ...Option) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 5
	}
	l := &Limiter{
		window:      window,
		maxRequests: maxRequests,
		clock:       clock.NewRealClock(),
		logger:      zap.L(),
		clients:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow descarta los timestamps fuera de la ventana y admite la petición si
// quedan menos de maxRequests.
func (l *Limiter) Allow(clientID string) bool {
	allowed, _ := l.allow(clientID)
	return allowed
}

// Check es como Allow pero devuelve un RateLimited con el tiempo de espera.
func (l *Limiter) Check(clientID string) error {
	allowed, retryAfter := l.allow(clientID)
	if allowed {
		return nil
	}
	l.logger.Info("rate limit exceeded",
		zap.String("client_id", clientID),
		zap.Duration("retry_after", retryAfter),
	)
	return apperrors.ErrRateLimited("too many scan requests").
		WithMetadata("retry_after_seconds", int((retryAfter+time.Second-1)/time.Second)).
		WithMetadata("limit", l.maxRequests).
		WithMetadata("window_seconds", int(l.window/time.Second))
}

func (l *Limiter) allow(clientID string) (bool, time.Duration) {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := prune(l.clients[clientID], cutoff)
	if len(history) >= l.maxRequests {
		l.clients[clientID] = history
		// El más antiguo sale de la ventana en oldest+window
		return false, history[0].Add(l.window).Sub(now)
	}

	l.clients[clientID] = append(history, now)
	return true, 0
}

// prune elimina los timestamps <= cutoff; la slice está ordenada.
func prune(history []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return history
	}
	if i == len(history) {
		return nil
	}
	kept := make([]time.Time, len(history)-i)
	copy(kept, history[i:])
	return kept
}

// Sweep libera la memoria de clientes sin actividad dentro de la ventana.
func (l *Limiter) Sweep() int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, history := range l.clients {
		history = prune(history, cutoff)
		if len(history) == 0 {
			delete(l.clients, id)
			removed++
			continue
		}
		l.clients[id] = history
	}
	return removed
}

// Len devuelve cuántos clientes tienen estado en memoria.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run ejecuta Sweep periódicamente hasta que ctx se cancele.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.Debug("rate limiter sweep",
					zap.Int("removed_clients", removed),
					zap.Int("active_clients", l.Len()),
				)
			}
		}
	}
}
