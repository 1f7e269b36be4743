package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/logging"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models/serviceresponse"
)

const maxBodyBytes = 1 << 10

// Scanner es lo que el handler necesita del servicio.
type Scanner interface {
	Scan(ctx context.Context, clientID, sku string) (*models.ScanResult, error)
	History(ctx context.Context, sku string, limit int) (*serviceresponse.HistoryResponse, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Health(ctx context.Context) serviceresponse.HealthResponse
}

type ScanHandler struct {
	svc     Scanner
	timeout time.Duration
}

// NewScanHandler: timeout acota cada scan; debe cubrir el TTL del lock.
func NewScanHandler(svc Scanner, timeout time.Duration) *ScanHandler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ScanHandler{svc: svc, timeout: timeout}
}

// Routes monta las rutas del API en r.
func (h *ScanHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/scan/{sku}", h.ScanBySKU)
		r.Post("/scan", h.ScanFromBody)
		r.Get("/history/{sku}", h.History)
		r.Get("/stats", h.Stats)
	})
}

func (h *ScanHandler) ScanBySKU(w http.ResponseWriter, r *http.Request) {
	h.scan(w, r, chi.URLParam(r, "sku"))
}

func (h *ScanHandler) ScanFromBody(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		zap.L().Warn("Invalid JSON", append(logging.GetLoggingFieldsFromContext(r.Context()), zap.Error(err))...)
		writeError(w, r, apperrors.ErrInvalidSku("request body must be JSON like {\"sku\": \"...\"}"))
		return
	}
	h.scan(w, r, req.GetSKU())
}

func (h *ScanHandler) scan(w http.ResponseWriter, r *http.Request, sku string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.svc.Scan(ctx, clientID(r), sku)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ScanHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, apperrors.NewAppError(apperrors.KindValidation, http.StatusBadRequest, 40001,
				"Invalid limit", nil).WithDetails("limit must be a positive integer"))
			return
		}
		limit = n
	}

	resp, err := h.svc.History(r.Context(), chi.URLParam(r, "sku"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ScanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health responde 200 aunque el estado sea "degraded": el proceso sigue
// sirviendo datos del cache.
func (h *ScanHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

// clientID usa la IP que dejó middleware.RealIP en RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

// writeError traduce un AppError a HTTP. Lo que no es AppError es un 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	fields := append(logging.GetLoggingFieldsFromContext(r.Context()), zap.Error(err))

	// el cliente ya se fue: no hay a quién responder
	if cr.Is(err, context.Canceled) {
		zap.L().Info("Request cancelled by client", fields...)
		return
	}

	appErr, ok := apperrors.As(err)
	if !ok {
		zap.L().Error("Unhandled error", fields...)
		appErr = apperrors.ErrInternalServer("", err)
	}

	status := appErr.StatusCode
	switch appErr.Kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindRateLimited:
		status = http.StatusTooManyRequests
		if secs, ok := appErr.Metadata["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case apperrors.KindInProgressNoData:
		status = http.StatusConflict
	case apperrors.KindUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		zap.L().Error("Request failed", fields...)
	} else {
		zap.L().Info("Request rejected", fields...)
	}

	writeJSON(w, status, serviceresponse.ErrorResponse{
		Code:      appErr.Code,
		Error:     appErr.Kind.String(),
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: appErr.Retryable,
		Metadata:  appErr.Metadata,
	})
}
