// internal/models/serviceresponse/types.go
package serviceresponse

import (
	"github.com/juancollazo-ch/sku-price-scanner/internal/breaker"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
)

// ErrorResponse es el body de cualquier respuesta de error del API.
type ErrorResponse struct {
	Code      int                    `json:"code"`
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HistoryResponse lista los últimos scans de un SKU, el más reciente primero.
type HistoryResponse struct {
	SKU     string              `json:"sku"`
	Count   int                 `json:"count"`
	History []models.ScanResult `json:"history"`
}

// HealthResponse incluye el estado del breaker y del store.
type HealthResponse struct {
	Status  string          `json:"status"`
	Service string          `json:"service"`
	Version string          `json:"version"`
	Breaker breaker.Metrics `json:"breaker"`
	Store   string          `json:"store"`
}
