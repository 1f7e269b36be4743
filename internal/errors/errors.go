package errors

import (
	"fmt"
	"net/http"

	cr "github.com/cockroachdb/errors"
)

// Kind clasifica el error dentro de la taxonomía del scanner.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimited
	KindTransientUpstream
	KindPermanentUpstream
	KindCircuitOpen
	KindLockContention
	KindStoreUnavailable
	KindInProgressNoData
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindPermanentUpstream:
		return "permanent_upstream"
	case KindCircuitOpen:
		return "circuit_open"
	case KindLockContention:
		return "lock_contention"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindInProgressNoData:
		return "in_progress_no_data"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// AppError representa un error de aplicación con código HTTP y contexto
type AppError struct {
	Kind       Kind                   `json:"-"`
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Internal   error                  `json:"-"` // No se expone al cliente
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"-"` // HTTP status code
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", msg, e.Internal)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Internal
}

// NewAppError crea un nuevo error de aplicación
func NewAppError(kind Kind, statusCode int, code int, message string, internal error) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Internal:   internal,
		StatusCode: statusCode,
		Metadata:   make(map[string]interface{}),
		Retryable:  false,
	}
}

// WithDetails agrega detalles adicionales al error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithMetadata agrega metadata al error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithRetryable marca el error como reintentable
func (e *AppError) WithRetryable(retryable bool) *AppError {
	e.Retryable = retryable
	return e
}

// Errores expuestos al caller del scan
var (
	ErrInvalidSku = func(details string) *AppError {
		return NewAppError(KindValidation, http.StatusBadRequest, 40000, "Invalid SKU", nil).
			WithDetails(details)
	}

	ErrRateLimited = func(details string) *AppError {
		return NewAppError(KindRateLimited, http.StatusTooManyRequests, 42900, "Rate limit exceeded", nil).
			WithDetails(details).
			WithRetryable(true)
	}

	ErrInProgressNoData = func(sku string) *AppError {
		return NewAppError(KindInProgressNoData, http.StatusConflict, 40900, "Scan already in progress and no cached data available", nil).
			WithMetadata("sku", sku).
			WithRetryable(true)
	}

	ErrUpstreamUnavailable = func(details string, err error) *AppError {
		return NewAppError(KindUpstreamUnavailable, http.StatusServiceUnavailable, 50300, "Price data temporarily unavailable", err).
			WithDetails(details).
			WithRetryable(true)
	}
)

// Errores internos de la capa de acceso resiliente
var (
	ErrTransientUpstream = func(details string, err error) *AppError {
		return NewAppError(KindTransientUpstream, http.StatusBadGateway, 50200, "Extraction service error", err).
			WithDetails(details).
			WithRetryable(true)
	}

	ErrPermanentUpstream = func(details string, err error) *AppError {
		return NewAppError(KindPermanentUpstream, http.StatusBadGateway, 50201, "Extraction service rejected request", err).
			WithDetails(details).
			WithRetryable(false)
	}

	ErrGatewayTimeout = func(details string, err error) *AppError {
		return NewAppError(KindTransientUpstream, http.StatusGatewayTimeout, 50400, "Extraction timeout", err).
			WithDetails(details).
			WithRetryable(true)
	}

	ErrCircuitOpen = func(name string, err error) *AppError {
		return NewAppError(KindCircuitOpen, http.StatusServiceUnavailable, 50301, "Circuit open", err).
			WithMetadata("breaker", name).
			WithRetryable(false)
	}

	ErrLockContention = func(sku string) *AppError {
		return NewAppError(KindLockContention, http.StatusConflict, 40901, "Scan lock held", nil).
			WithMetadata("sku", sku)
	}

	ErrStoreUnavailable = func(details string, err error) *AppError {
		return NewAppError(KindStoreUnavailable, http.StatusServiceUnavailable, 50302, "Store unavailable", err).
			WithDetails(details).
			WithRetryable(true)
	}

	ErrInternalServer = func(details string, err error) *AppError {
		return NewAppError(KindInternal, http.StatusInternalServerError, 50000, "Internal server error", err).
			WithDetails(details)
	}

	// ErrExternalAPI clasifica una respuesta HTTP no-2xx del servicio de extracción.
	// 429 y 5xx son reintentables, el resto de 4xx no.
	ErrExternalAPI = func(statusCode int, details string, err error) *AppError {
		if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
			return ErrTransientUpstream(details, err).
				WithMetadata("external_status_code", statusCode)
		}
		return ErrPermanentUpstream(details, err).
			WithMetadata("external_status_code", statusCode)
	}
)

// As extrae el AppError de la cadena de errores
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if cr.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf devuelve el Kind del primer AppError en la cadena
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind verifica si la cadena contiene un AppError del Kind indicado
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable verifica si un error es reintentable
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode obtiene el código HTTP de un error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
