package breaker

import (
	"context"
	"sync"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/clock"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Settings configura el breaker. Los valores cero toman los defaults 3/30s/2.
type Settings struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
	Logger           *zap.Logger
	Clock            clock.Clock
}

// Metrics es una foto de solo lectura para health reporting.
type Metrics struct {
	Name                 string     `json:"name"`
	State                State      `json:"state"`
	TotalCalls           uint64     `json:"totalCalls"`
	TotalFailures        uint64     `json:"totalFailures"`
	Rejected             uint64     `json:"rejected"`
	ConsecutiveFailures  uint32     `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32     `json:"consecutiveSuccesses"`
	OpenedAt             *time.Time `json:"openedAt,omitempty"`
}

// Breaker protege al servicio de extracción. Se crea una sola vez al
// arrancar el proceso y se comparte entre todos los scans.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	clock  clock.Clock

	mu            sync.Mutex
	totalCalls    uint64
	totalFailures uint64
	rejected      uint64
	openedAt      time.Time
}

func New(s Settings) *Breaker {
	if s.Name == "" {
		s.Name = "extraction"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 3
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 2
	}
	if s.Logger == nil {
		s.Logger = zap.L()
	}
	if s.Clock == nil {
		s.Clock = clock.NewRealClock()
	}

	b := &Breaker{
		logger: s.Logger.With(zap.String("breaker", s.Name)),
		clock:  s.Clock,
	}

	threshold := s.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.SuccessThreshold,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		// Se ejecuta con el lock interno de gobreaker tomado: no llamar a b.cb aquí.
		OnStateChange: b.onStateChange,
	})

	return b
}

// isSuccessful: un caller que cancela no dice nada del upstream, así que no
// cuenta como fallo. Un deadline expirado sí cuenta.
func isSuccessful(err error) bool {
	return err == nil || cancelled(err)
}

func cancelled(err error) bool {
	return cr.Is(err, context.Canceled)
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	b.mu.Lock()
	if to == gobreaker.StateOpen {
		b.openedAt = b.clock.Now()
	}
	b.mu.Unlock()

	fields := []zap.Field{
		zap.String("from", string(fromGobreaker(from))),
		zap.String("to", string(fromGobreaker(to))),
	}
	if to == gobreaker.StateOpen {
		b.logger.Warn("circuit breaker opened", fields...)
		return
	}
	b.logger.Info("circuit breaker state change", fields...)
}

// Execute corre fn si el circuito lo permite. Con el circuito abierto (o
// half-open sin cupo) devuelve un CircuitOpen sin invocar fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do es la variante tipada de Execute.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})

	b.mu.Lock()
	b.totalCalls++
	switch {
	case err == nil, cancelled(err):
	case cr.Is(err, gobreaker.ErrOpenState), cr.Is(err, gobreaker.ErrTooManyRequests):
		b.rejected++
	default:
		b.totalFailures++
	}
	b.mu.Unlock()

	if err != nil {
		if cr.Is(err, gobreaker.ErrOpenState) || cr.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperrors.ErrCircuitOpen(b.cb.Name(), err)
		}
		return zero, err
	}

	v, _ := res.(T)
	return v, nil
}

// State devuelve el estado actual. Si el timeout de recuperación ya pasó,
// gobreaker reporta HALF_OPEN.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// IsOpen es true solo si una llamada ahora sería rechazada sin ejecutarse.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

func (b *Breaker) Metrics() Metrics {
	state := b.State()
	counts := b.cb.Counts()

	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Name:                 b.cb.Name(),
		State:                state,
		TotalCalls:           b.totalCalls,
		TotalFailures:        b.totalFailures,
		Rejected:             b.rejected,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
	if state != StateClosed && !b.openedAt.IsZero() {
		openedAt := b.openedAt
		m.OpenedAt = &openedAt
	}
	return m
}
